package view

import (
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/fknorr/studip-client/internal/model"
)

// Cache is the subset of the metadata store the materializer needs.
type Cache interface {
	ListFiles(modes ...model.SyncMode) ([]model.File, error)
	ListCourses(modes ...model.SyncMode) ([]model.Course, error)
	ListSemesters() ([]model.Semester, error)
	AddCheckout(viewID, fileID string) error
	ListCheckouts(viewID string) ([]string, error)
	DeleteCheckout(viewID, fileID string) error
}

// Blobs resolves file ids to downloaded content on disk.
type Blobs interface {
	Dir() string
	Path(id string) string
	Exists(id string) bool
}

// Logger matches the engine's structured logger.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// Materializer checks files out of the blob store into view directories and
// tears views down again. It distinguishes files it created (hardlinks to
// known blobs, matched by inode) from foreign files, which it never touches.
type Materializer struct {
	cache   Cache
	blobs   Blobs
	log     Logger
	out     io.Writer
	syncDir string
}

func NewMaterializer(cache Cache, blobs Blobs, log Logger, out io.Writer, syncDir string) *Materializer {
	return &Materializer{cache: cache, blobs: blobs, log: log, out: out, syncDir: syncDir}
}

func (m *Materializer) baseDir(v model.View) string {
	return filepath.Join(m.syncDir, filepath.FromSlash(v.Base))
}

// Checkout materializes all fetched files into the view's tree. Files
// already on disk are left alone; files the user deleted (checked out but
// gone from disk) are not re-created. New links are recorded as checkouts,
// and files found on disk without a checkout record are backfilled.
func (m *Materializer) Checkout(v model.View) error {
	files, err := m.cache.ListFiles(model.SyncFull)
	if err != nil {
		return err
	}

	// Only files with a downloaded blob can be linked. currentInodes maps
	// each file's latest blob version; older versions still on disk are only
	// known to allInodes, so a link to one counts as stale, not checked out.
	var fetched []model.File
	currentInodes := map[uint64]string{}
	for _, f := range files {
		if !m.blobs.Exists(f.ID) {
			continue
		}
		ino, err := inodeOf(m.blobs.Path(f.ID))
		if err != nil {
			return fmt.Errorf("inspecting blob for %s: %w", f.ID, err)
		}
		fetched = append(fetched, f)
		currentInodes[ino] = f.ID
	}
	allInodes, err := m.blobInodes()
	if err != nil {
		return err
	}

	base := m.baseDir(v)
	onDisk, err := m.scanLinked(base, currentInodes)
	if err != nil {
		return err
	}

	checkoutIDs, err := m.cache.ListCheckouts(v.ID)
	if err != nil {
		return err
	}
	checkedOut := make(map[string]bool, len(checkoutIDs))
	for _, id := range checkoutIDs {
		checkedOut[id] = true
	}

	modified := map[string]bool{}
	var copyrighted []string
	for i, f := range fetched {
		switch {
		case onDisk[f.ID] != "":
			if !checkedOut[f.ID] {
				// Present on disk but unrecorded, e.g. after a cache rebuild.
				if err := m.cache.AddCheckout(v.ID, f.ID); err != nil {
					return err
				}
			}
			continue
		case checkedOut[f.ID]:
			// The user deleted this file; honor that until reset-deleted.
			continue
		}

		relPath, err := m.filePath(v, f)
		if err != nil {
			return err
		}
		absPath := filepath.Join(base, relPath)
		for dir := filepath.Dir(absPath); strings.HasPrefix(dir, base); dir = filepath.Dir(dir) {
			modified[dir] = true
		}
		if err := os.MkdirAll(filepath.Dir(absPath), 0755); err != nil {
			return fmt.Errorf("creating view directory: %w", err)
		}

		fmt.Fprintf(m.out, "Checking out file %d/%d: %s...\n", i+1, len(fetched),
			ellipsize(f.Description, 50))

		// A link to an older blob version of the same file gives way to the
		// current one; anything else occupying the path stays and fails the
		// link below.
		if info, err := os.Lstat(absPath); err == nil && !info.IsDir() {
			ino, err := inodeOf(absPath)
			if err != nil {
				return fmt.Errorf("inspecting %s: %w", absPath, err)
			}
			if allInodes[ino] == f.ID {
				if err := os.Remove(absPath); err != nil {
					return fmt.Errorf("replacing outdated link for %s: %w", f.ID, err)
				}
			}
		}

		if err := os.Link(m.blobs.Path(f.ID), absPath); err != nil {
			return fmt.Errorf("linking %s into view %s: %w", f.ID, v.Name, err)
		}
		if f.Copyrighted {
			copyrighted = append(copyrighted, relPath)
		}
		if err := m.cache.AddCheckout(v.ID, f.ID); err != nil {
			return err
		}
	}

	if err := m.createEmptyCourseDirs(v, base, files, modified); err != nil {
		return err
	}

	m.updateDirTimes(base, modified)

	if len(copyrighted) > 0 {
		m.printCopyrightNotice(copyrighted)
	}
	return nil
}

// scanLinked walks the view tree and maps each cached file id to the path of
// its on-disk hardlink, matched by inode. Dot directories are engine-owned
// (the blob store itself may live under <base>/.studip) and are never part of
// a view tree. A missing base directory yields an empty map.
func (m *Materializer) scanLinked(base string, blobInodes map[uint64]string) (map[string]string, error) {
	onDisk := map[string]string{}
	err := filepath.WalkDir(base, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if path != base && strings.HasPrefix(d.Name(), ".") {
				return fs.SkipDir
			}
			return nil
		}
		ino, err := inodeOf(path)
		if err != nil {
			return err
		}
		if id, ok := blobInodes[ino]; ok {
			onDisk[id] = path
		}
		return nil
	})
	if err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("scanning view directory: %w", err)
	}
	return onDisk, nil
}

// filePath resolves the view's template for one file, escaping every
// user-controlled component.
func (m *Materializer) filePath(v model.View, f model.File) (string, error) {
	esc := func(s string) string { return EscapeFileName(s, v.Charset, v.Escape) }
	joinPath := func(parts []string) string {
		escaped := make([]string, len(parts))
		for i, p := range parts {
			escaped[i] = esc(p)
		}
		return strings.Join(escaped, "/")
	}

	descrNoExt := f.Description
	if f.Extension != "" && strings.HasSuffix(descrNoExt, "."+f.Extension) {
		descrNoExt = descrNoExt[:len(descrNoExt)-1-len(f.Extension)]
	}

	shortPath := f.Path
	if len(shortPath) > 0 && shortPath[0] == "Allgemeiner Dateiordner" {
		shortPath = shortPath[1:]
	}

	nameAbbrev := f.CourseNameAbbrev
	if nameAbbrev == "" {
		nameAbbrev = Abbreviate(f.CourseName)
	}
	typeAbbrev := f.CourseTypeAbbrev
	if typeAbbrev == "" {
		typeAbbrev = Abbreviate(f.CourseType)
	}

	rel, err := FormatPath(v.Format, map[string]string{
		"semester":      f.CourseSemester,
		"course-id":     f.Course,
		"course":        esc(f.CourseName),
		"course-abbrev": esc(nameAbbrev),
		"type":          esc(f.CourseType),
		"type-abbrev":   esc(typeAbbrev),
		"path":          joinPath(f.Path),
		"short-path":    joinPath(shortPath),
		"id":            f.ID,
		"name":          esc(f.Name),
		"ext":           f.Extension,
		"description":   esc(f.Description),
		"descr-no-ext":  esc(descrNoExt),
		"author":        esc(f.Author),
		"time":          esc(f.RemoteDate.Format("2006-01-02 15:04:05")),
	})
	if err != nil {
		return "", err
	}
	return filepath.FromSlash(rel), nil
}

// createEmptyCourseDirs resolves the template's directory portion with dummy
// file tokens for every synced course without files, so empty courses still
// show up in the view.
func (m *Materializer) createEmptyCourseDirs(v model.View, base string, files []model.File, modified map[string]bool) error {
	courses, err := m.cache.ListCourses(model.SyncFull, model.SyncMetadata)
	if err != nil {
		return err
	}
	semesters, err := m.cache.ListSemesters()
	if err != nil {
		return err
	}
	semesterNames := make(map[string]string, len(semesters))
	for _, s := range semesters {
		semesterNames[s.ID] = s.Name
	}
	haveFiles := map[string]bool{}
	for _, f := range files {
		haveFiles[f.Course] = true
	}

	esc := func(s string) string { return EscapeFileName(s, v.Charset, v.Escape) }
	for _, course := range courses {
		if haveFiles[course.ID] {
			continue
		}

		nameAbbrev := course.NameAbbrev
		if nameAbbrev == "" {
			nameAbbrev = Abbreviate(course.Name)
		}
		typeAbbrev := course.TypeAbbrev
		if typeAbbrev == "" {
			typeAbbrev = Abbreviate(course.Type)
		}

		rel, err := FormatPath(v.Format, map[string]string{
			"semester":      semesterNames[course.Semester],
			"course-id":     course.ID,
			"course":        esc(course.Name),
			"course-abbrev": esc(nameAbbrev),
			"type":          esc(course.Type),
			"type-abbrev":   esc(typeAbbrev),
			"path":          "",
			"short-path":    "",
			"id":            strings.Repeat("0", 32),
			"name":          "dummy",
			"ext":           "txt",
			"description":   "dummy.txt",
			"descr-no-ext":  "dummy",
			"author":        "A",
			"time":          esc(time.Now().Format("2006-01-02 15:04:05")),
		})
		if err != nil {
			return err
		}

		dir := filepath.Dir(filepath.Join(base, filepath.FromSlash(rel)))
		if _, err := os.Stat(dir); err == nil {
			continue
		}
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("creating course directory: %w", err)
		}
		modified[dir] = true
		fmt.Fprintf(m.out, "Created folder for empty %s %s\n", course.Type, course.Name)
	}
	return nil
}

// updateDirTimes backdates each modified directory to the newest mtime of
// its non-dotfile contents, deepest directories first so parents see their
// children's corrected times.
func (m *Materializer) updateDirTimes(base string, modified map[string]bool) {
	dirs := make([]string, 0, len(modified)+1)
	for dir := range modified {
		dirs = append(dirs, dir)
	}
	if !modified[base] {
		dirs = append(dirs, base)
	}
	sort.Slice(dirs, func(i, j int) bool { return len(dirs[i]) > len(dirs[j]) })

	for _, dir := range dirs {
		entries, err := os.ReadDir(dir)
		if err != nil {
			continue
		}
		var latest time.Time
		for _, entry := range entries {
			if strings.HasPrefix(entry.Name(), ".") {
				continue
			}
			if info, err := entry.Info(); err == nil && info.ModTime().After(latest) {
				latest = info.ModTime()
			}
		}
		if !latest.IsZero() {
			// Best effort; a failure here only leaves a stale mtime.
			_ = os.Chtimes(dir, latest, latest)
		}
	}
}

func (m *Materializer) printCopyrightNotice(files []string) {
	line := strings.Repeat("-", 80)
	fmt.Fprintf(m.out, "\n%s\n", line)
	fmt.Fprintf(m.out, "The following files have special copyright notices:\n\n")
	for _, f := range files {
		fmt.Fprintf(m.out, "  - %s\n", f)
	}
	fmt.Fprintf(m.out, "\nPlease make sure you have looked up, read and understood the terms and"+
		" conditions of these files before proceeding to use them.\n")
	fmt.Fprintf(m.out, "%s\n\n", line)
}

// Remove tears down the view's tree: unlinks files whose inode matches a
// known blob, deletes directories that end up empty (deepest first) and
// leaves foreign files and their ancestor directories untouched. The
// returned list names the surviving foreign files relative to the base; the
// base itself is only removed when nothing foreign survives.
func (m *Materializer) Remove(v model.View) ([]string, error) {
	blobInodes, err := m.blobInodes()
	if err != nil {
		return nil, err
	}

	base := m.baseDir(v)
	var foreign []string
	var dirs []string
	err = filepath.WalkDir(base, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if path == base {
				return nil
			}
			// Dot directories hold the engine's own state, never view
			// content.
			if strings.HasPrefix(d.Name(), ".") {
				return fs.SkipDir
			}
			dirs = append(dirs, path)
			return nil
		}
		ino, err := inodeOf(path)
		if err != nil {
			return err
		}
		if _, known := blobInodes[ino]; known {
			return os.Remove(path)
		}
		rel, relErr := filepath.Rel(base, path)
		if relErr != nil {
			rel = path
		}
		foreign = append(foreign, rel)
		return nil
	})
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("removing view %s: %w", v.Name, err)
	}

	// Directories holding foreign files fail the remove and are kept.
	sort.Slice(dirs, func(i, j int) bool { return len(dirs[i]) > len(dirs[j]) })
	for _, dir := range dirs {
		_ = os.Remove(dir)
	}
	if len(foreign) == 0 && v.Base != "" {
		_ = os.Remove(base)
	}

	sort.Strings(foreign)
	return foreign, nil
}

// blobInodes indexes every blob in the store by inode, versioned siblings
// included, mapping each back to its file id.
func (m *Materializer) blobInodes() (map[uint64]string, error) {
	entries, err := os.ReadDir(m.blobs.Dir())
	if err != nil {
		return nil, fmt.Errorf("reading blob directory: %w", err)
	}
	inodes := make(map[uint64]string, len(entries))
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		ino, err := inodeOf(filepath.Join(m.blobs.Dir(), entry.Name()))
		if err != nil {
			return nil, err
		}
		inodes[ino] = blobFileID(entry.Name())
	}
	return inodes, nil
}

// blobFileID strips the numeric version suffix off a blob filename.
func blobFileID(name string) string {
	if i := strings.LastIndexByte(name, '.'); i > 0 {
		if _, err := strconv.Atoi(name[i+1:]); err == nil {
			return name[:i]
		}
	}
	return name
}

// ResetDeleted clears the checkout records of files the user deleted from
// the view's tree, so the next checkout re-creates them. Returns the number
// of records cleared.
func (m *Materializer) ResetDeleted(v model.View) (int, error) {
	files, err := m.cache.ListFiles(model.SyncFull)
	if err != nil {
		return 0, err
	}
	blobInodes := map[uint64]string{}
	for _, f := range files {
		if !m.blobs.Exists(f.ID) {
			continue
		}
		ino, err := inodeOf(m.blobs.Path(f.ID))
		if err != nil {
			return 0, fmt.Errorf("inspecting blob for %s: %w", f.ID, err)
		}
		blobInodes[ino] = f.ID
	}

	onDisk, err := m.scanLinked(m.baseDir(v), blobInodes)
	if err != nil {
		return 0, err
	}

	checkoutIDs, err := m.cache.ListCheckouts(v.ID)
	if err != nil {
		return 0, err
	}

	reset := 0
	for _, id := range checkoutIDs {
		if onDisk[id] != "" {
			continue
		}
		if err := m.cache.DeleteCheckout(v.ID, id); err != nil {
			return 0, err
		}
		reset++
	}
	return reset, nil
}

func ellipsize(s string, length int) string {
	runes := []rune(s)
	if len(runes) <= length {
		return s
	}
	return string(runes[:length-3]) + "..."
}
