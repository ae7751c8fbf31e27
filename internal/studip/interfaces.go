// Package studip contains the synchronization engine: the metadata
// synchronizer orchestrating the SSO login and course/file reconciliation,
// the concurrent detail fetch pool, and the blob fetcher. It talks to the
// portal through the Web interface and to the local store through the Cache
// interface so tests can substitute both.
package studip

import (
	"context"
	"io"
	"net/url"
	"time"

	"github.com/fknorr/studip-client/internal/model"
)

// Cache is the local metadata store consumed by the sync engine. Implemented
// by the sqlite cache; all calls happen on the caller's goroutine.
type Cache interface {
	ReplaceSemesters(semesters []model.Semester) error
	ListSemesters() ([]model.Semester, error)

	ListCourseIDs(modes ...model.SyncMode) ([]string, error)
	ListCourses(modes ...model.SyncMode) ([]model.Course, error)
	GetCourse(id string) (model.Course, error)
	AddCourse(course model.Course) error
	UpdateCourse(course model.Course) error
	DeleteCourse(id string) error

	CreateFolderChain(courseID string, path []string) (int64, error)

	ListFileIDs(modes ...model.SyncMode) ([]string, error)
	ListFiles(modes ...model.SyncMode) ([]model.File, error)
	AddFile(file model.File) error
	UpdateFile(file model.File) error
	SetFileFetched(id string, date time.Time) error

	AddView(view model.View) error
	ListViews() ([]model.View, error)
	GetViewByName(name string) (model.View, error)
	DeleteView(id string) error

	AddCheckout(viewID, fileID string) error
	ListCheckouts(viewID string) ([]string, error)
	DeleteCheckout(viewID, fileID string) error

	Commit() error
}

// Web is the authenticated HTTP surface: GET/POST with a cookie session,
// text and streaming responses. Clone snapshots the session cookies into an
// independent client for use by a pool worker.
type Web interface {
	GetText(ctx context.Context, url string) (string, error)
	PostForm(ctx context.Context, url string, form url.Values) (string, error)
	Download(ctx context.Context, url string, w io.Writer) error
	Clone() Web
}

// Prompter asks the interactive user for decisions during a sync.
type Prompter interface {
	// Choice prints prompt and reads a one-letter answer out of options,
	// returning def on empty input.
	Choice(prompt string, options string, def byte) (byte, error)
	ReadLine(prompt string) (string, error)
	ReadPassword(prompt string) (string, error)
}

// Logger provides structured logging for the engine. Args follow slog
// conventions: alternating key/value pairs.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// NopLogger discards all output. Use in tests.
type NopLogger struct{}

func NewNopLogger() *NopLogger { return &NopLogger{} }

func (*NopLogger) Debug(string, ...any) {}
func (*NopLogger) Info(string, ...any)  {}
func (*NopLogger) Warn(string, ...any)  {}
func (*NopLogger) Error(string, ...any) {}
