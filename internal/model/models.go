package model

import (
	"fmt"
	"time"
)

// SyncMode controls what is fetched for a course.
type SyncMode int

const (
	SyncNone     SyncMode = iota // course is ignored entirely
	SyncMetadata                 // file metadata only, no blob downloads
	SyncFull                     // metadata and file content
)

// AllSyncModes lists every mode, for unfiltered cache queries.
var AllSyncModes = []SyncMode{SyncNone, SyncMetadata, SyncFull}

func (m SyncMode) String() string {
	switch m {
	case SyncNone:
		return "none"
	case SyncMetadata:
		return "metadata"
	case SyncFull:
		return "full"
	}
	return fmt.Sprintf("SyncMode(%d)", int(m))
}

// ParseSyncMode converts a CLI/config string into a SyncMode.
func ParseSyncMode(s string) (SyncMode, error) {
	switch s {
	case "none", "no":
		return SyncNone, nil
	case "metadata", "meta":
		return SyncMetadata, nil
	case "full", "yes":
		return SyncFull, nil
	}
	return 0, fmt.Errorf("unknown sync mode %q (want none, metadata or full)", s)
}

// Charset restricts which characters may appear in escaped path components.
type Charset int

const (
	CharsetUnicode Charset = iota
	CharsetAscii
	CharsetIdentifier
)

func (c Charset) String() string {
	switch c {
	case CharsetUnicode:
		return "unicode"
	case CharsetAscii:
		return "ascii"
	case CharsetIdentifier:
		return "identifier"
	}
	return fmt.Sprintf("Charset(%d)", int(c))
}

func ParseCharset(s string) (Charset, error) {
	switch s {
	case "unicode":
		return CharsetUnicode, nil
	case "ascii":
		return CharsetAscii, nil
	case "identifier":
		return CharsetIdentifier, nil
	}
	return 0, fmt.Errorf("unknown charset %q (want unicode, ascii or identifier)", s)
}

// EscapeMode decides how path-unsafe characters are rewritten.
type EscapeMode int

const (
	EscapeSimilar EscapeMode = iota
	EscapeTypeable
	EscapeCamelCase
	EscapeSnakeCase
)

func (m EscapeMode) String() string {
	switch m {
	case EscapeSimilar:
		return "similar"
	case EscapeTypeable:
		return "typeable"
	case EscapeCamelCase:
		return "camelcase"
	case EscapeSnakeCase:
		return "snakecase"
	}
	return fmt.Sprintf("EscapeMode(%d)", int(m))
}

func ParseEscapeMode(s string) (EscapeMode, error) {
	switch s {
	case "similar":
		return EscapeSimilar, nil
	case "typeable":
		return EscapeTypeable, nil
	case "camelcase":
		return EscapeCamelCase, nil
	case "snakecase":
		return EscapeSnakeCase, nil
	}
	return 0, fmt.Errorf("unknown escape mode %q (want similar, typeable, camelcase or snakecase)", s)
}

// Semester is one entry of the portal's semester selector. Ord is the ordinal
// rank computed from listing order; higher means more recent.
type Semester struct {
	ID   string // remote-assigned opaque id
	Name string
	Ord  int
}

// Course is a remote course tracked in the local cache.
// NameAbbrev and TypeAbbrev are optional user overrides; when empty, an
// abbreviation is derived heuristically from Name/Type.
type Course struct {
	ID         string // opaque remote id, stable across syncs
	Semester   string // foreign key to Semester.ID
	Number     string
	Name       string
	Type       string // free-text category, e.g. "Vorlesung"
	NameAbbrev string
	TypeAbbrev string
	Sync       SyncMode
}

// Complete reports whether the record carries everything needed to persist it.
func (c *Course) Complete() bool {
	return c.ID != "" && c.Name != ""
}

// File is a remote file's metadata. The remote id doubles as the cache key
// and the blob filename.
type File struct {
	ID          string   // opaque remote id
	Course      string   // foreign key to Course.ID
	Path        []string // folder names from course root to containing folder
	Name        string
	Extension   string
	Author      string
	Description string
	RemoteDate  time.Time // last-modified as reported remotely
	Copyrighted bool
	LocalDate   time.Time // remote date of the fetched blob; zero until fetched
	Version     int       // incremented on every metadata update

	// Denormalized course fields, populated by full cache listings for
	// path-template resolution. Not persisted on the file row itself.
	CourseSemester   string
	CourseName       string
	CourseType       string
	CourseNameAbbrev string
	CourseTypeAbbrev string
}

// Complete reports whether all required fields are set. Incomplete records
// are discarded with a diagnostic, never persisted.
func (f *File) Complete() bool {
	return f.ID != "" && f.Course != "" && len(f.Path) > 0 && f.Name != "" &&
		!f.RemoteDate.IsZero()
}

// Fetched reports whether a blob has been downloaded for the current remote
// version of the file.
func (f *File) Fetched() bool {
	return !f.LocalDate.IsZero() && f.LocalDate.Equal(f.RemoteDate)
}

// Folder is one node of a course's folder tree. Exactly one of Parent and
// Course is set: root folders belong directly to a course, all others nest
// under a parent folder.
type Folder struct {
	ID     int64 // locally assigned
	Name   string
	Parent *int64
	Course *string
}

// View is a named projection of the cached file set onto a directory subtree.
type View struct {
	ID      string // locally generated UUID
	Name    string
	Format  string // path template, e.g. "{course} ({type})/{path}/{name}.{ext}"
	Base    string // subtree root relative to the sync dir; "" means the root
	Escape  EscapeMode
	Charset Charset
}

// Checkout records that a file has been hardlinked into a view's tree.
type Checkout struct {
	View string
	File string
}
