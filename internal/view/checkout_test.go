package view

import (
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/fknorr/studip-client/internal/model"
	"github.com/fknorr/studip-client/internal/studip"
)

// fakeCache is an in-memory view.Cache.
type fakeCache struct {
	files     []model.File
	courses   []model.Course
	semesters []model.Semester
	checkouts map[string][]string
}

var _ Cache = (*fakeCache)(nil)

func newFakeCache() *fakeCache {
	return &fakeCache{checkouts: map[string][]string{}}
}

func (f *fakeCache) ListFiles(modes ...model.SyncMode) ([]model.File, error) {
	return f.files, nil
}

func (f *fakeCache) ListCourses(modes ...model.SyncMode) ([]model.Course, error) {
	return f.courses, nil
}

func (f *fakeCache) ListSemesters() ([]model.Semester, error) {
	return f.semesters, nil
}

func (f *fakeCache) AddCheckout(viewID, fileID string) error {
	for _, id := range f.checkouts[viewID] {
		if id == fileID {
			return nil
		}
	}
	f.checkouts[viewID] = append(f.checkouts[viewID], fileID)
	return nil
}

func (f *fakeCache) ListCheckouts(viewID string) ([]string, error) {
	return f.checkouts[viewID], nil
}

func (f *fakeCache) DeleteCheckout(viewID, fileID string) error {
	ids := f.checkouts[viewID]
	for i, id := range ids {
		if id == fileID {
			f.checkouts[viewID] = append(ids[:i], ids[i+1:]...)
			return nil
		}
	}
	return nil
}

func testView() model.View {
	return model.View{
		ID:      "v1",
		Name:    "tree",
		Format:  "{course}/{path}/{name}.{ext}",
		Base:    "uni",
		Escape:  model.EscapeSimilar,
		Charset: model.CharsetUnicode,
	}
}

func fetchedFile(id string) model.File {
	date := time.Date(2016, 6, 13, 10, 41, 0, 0, time.Local)
	return model.File{
		ID:          id,
		Course:      "c1",
		Path:        []string{"Allgemeiner Dateiordner", "Übungen"},
		Name:        "blatt05",
		Extension:   "pdf",
		Author:      "Hans Maier",
		Description: "Übungsblatt 05.pdf",
		RemoteDate:  date,
		LocalDate:   date,

		CourseSemester: "SS 2016",
		CourseName:     "Einführung in die Informatik",
		CourseType:     "Vorlesung",
	}
}

// newTestMaterializer sets up a sync dir, a blob store with one blob per
// given file and a materializer over a fake cache.
func newTestMaterializer(t *testing.T, files ...model.File) (*Materializer, *fakeCache, *studip.BlobStore, string) {
	t.Helper()

	tmp := t.TempDir()
	syncDir := filepath.Join(tmp, "sync")
	if err := os.MkdirAll(syncDir, 0755); err != nil {
		t.Fatal(err)
	}
	blobs, err := studip.NewBlobStore(filepath.Join(tmp, "blobs"))
	if err != nil {
		t.Fatal(err)
	}

	cache := newFakeCache()
	for _, f := range files {
		cache.files = append(cache.files, f)
		if err := os.WriteFile(blobs.Path(f.ID), []byte("content of "+f.ID), 0644); err != nil {
			t.Fatal(err)
		}
	}

	m := NewMaterializer(cache, blobs, studip.NewNopLogger(), io.Discard, syncDir)
	return m, cache, blobs, syncDir
}

// newDotDirMaterializer mirrors the deployed layout: the blob store lives at
// <sync dir>/.studip/files, inside the tree a root-based view scans.
func newDotDirMaterializer(t *testing.T) (*Materializer, *fakeCache, *studip.BlobStore, string) {
	t.Helper()

	syncDir := t.TempDir()
	blobs, err := studip.NewBlobStore(filepath.Join(syncDir, ".studip", "files"))
	if err != nil {
		t.Fatal(err)
	}

	cache := newFakeCache()
	cache.files = append(cache.files, fetchedFile("f1"))
	if err := os.WriteFile(blobs.Path("f1"), []byte("content of f1"), 0644); err != nil {
		t.Fatal(err)
	}

	m := NewMaterializer(cache, blobs, studip.NewNopLogger(), io.Discard, syncDir)
	return m, cache, blobs, syncDir
}

func linkedPath(syncDir string) string {
	return filepath.Join(syncDir, "uni", "Einführung in die Informatik",
		"Allgemeiner Dateiordner", "Übungen", "blatt05.pdf")
}

func TestCheckout(t *testing.T) {
	t.Run("hardlinks new files and records checkouts", func(t *testing.T) {
		m, cache, blobs, syncDir := newTestMaterializer(t, fetchedFile("f1"))

		if err := m.Checkout(testView()); err != nil {
			t.Fatalf("Checkout() error = %v", err)
		}

		dest := linkedPath(syncDir)
		data, err := os.ReadFile(dest)
		if err != nil {
			t.Fatalf("reading checked-out file: %v", err)
		}
		if string(data) != "content of f1" {
			t.Errorf("content = %q", data)
		}

		destIno, err := inodeOf(dest)
		if err != nil {
			t.Fatal(err)
		}
		blobIno, err := inodeOf(blobs.Path("f1"))
		if err != nil {
			t.Fatal(err)
		}
		if destIno != blobIno {
			t.Error("checked-out file is not a hardlink to the blob")
		}

		if got := cache.checkouts["v1"]; len(got) != 1 || got[0] != "f1" {
			t.Errorf("checkouts = %v, want [f1]", got)
		}
	})

	t.Run("is idempotent", func(t *testing.T) {
		m, cache, _, _ := newTestMaterializer(t, fetchedFile("f1"))

		if err := m.Checkout(testView()); err != nil {
			t.Fatalf("first Checkout() error = %v", err)
		}
		if err := m.Checkout(testView()); err != nil {
			t.Fatalf("second Checkout() error = %v", err)
		}
		if got := cache.checkouts["v1"]; len(got) != 1 {
			t.Errorf("checkouts = %v, want one entry", got)
		}
	})

	t.Run("does not resurrect user-deleted files", func(t *testing.T) {
		m, _, _, syncDir := newTestMaterializer(t, fetchedFile("f1"))

		if err := m.Checkout(testView()); err != nil {
			t.Fatalf("Checkout() error = %v", err)
		}
		if err := os.Remove(linkedPath(syncDir)); err != nil {
			t.Fatal(err)
		}

		if err := m.Checkout(testView()); err != nil {
			t.Fatalf("Checkout() after deletion error = %v", err)
		}
		if _, err := os.Stat(linkedPath(syncDir)); !os.IsNotExist(err) {
			t.Error("deleted file was re-created without reset-deleted")
		}
	})

	t.Run("reset-deleted makes the next checkout restore the file", func(t *testing.T) {
		m, _, _, syncDir := newTestMaterializer(t, fetchedFile("f1"))

		if err := m.Checkout(testView()); err != nil {
			t.Fatalf("Checkout() error = %v", err)
		}
		if err := os.Remove(linkedPath(syncDir)); err != nil {
			t.Fatal(err)
		}

		reset, err := m.ResetDeleted(testView())
		if err != nil {
			t.Fatalf("ResetDeleted() error = %v", err)
		}
		if reset != 1 {
			t.Errorf("ResetDeleted() = %d, want 1", reset)
		}

		if err := m.Checkout(testView()); err != nil {
			t.Fatalf("Checkout() after reset error = %v", err)
		}
		if _, err := os.Stat(linkedPath(syncDir)); err != nil {
			t.Errorf("file not restored: %v", err)
		}
	})

	t.Run("backfills checkout records for files already on disk", func(t *testing.T) {
		m, cache, _, _ := newTestMaterializer(t, fetchedFile("f1"))

		if err := m.Checkout(testView()); err != nil {
			t.Fatalf("Checkout() error = %v", err)
		}
		// Simulate a rebuilt cache that lost the checkout table.
		cache.checkouts = map[string][]string{}

		if err := m.Checkout(testView()); err != nil {
			t.Fatalf("Checkout() error = %v", err)
		}
		if got := cache.checkouts["v1"]; len(got) != 1 || got[0] != "f1" {
			t.Errorf("checkouts = %v, want backfilled [f1]", got)
		}
	})

	t.Run("skips files without a fetched blob", func(t *testing.T) {
		m, cache, _, syncDir := newTestMaterializer(t, fetchedFile("f1"))
		unfetched := fetchedFile("f2")
		unfetched.LocalDate = time.Time{}
		cache.files = append(cache.files, unfetched) // no blob written

		if err := m.Checkout(testView()); err != nil {
			t.Fatalf("Checkout() error = %v", err)
		}
		if _, err := os.Stat(linkedPath(syncDir)); err != nil {
			t.Errorf("fetched file missing: %v", err)
		}
		if got := cache.checkouts["v1"]; len(got) != 1 {
			t.Errorf("checkouts = %v, want only the fetched file", got)
		}
	})

	t.Run("backdates directory mtimes to their newest content", func(t *testing.T) {
		m, _, blobs, syncDir := newTestMaterializer(t, fetchedFile("f1"))

		past := time.Date(2016, 6, 13, 10, 41, 0, 0, time.Local)
		if err := os.Chtimes(blobs.Path("f1"), past, past); err != nil {
			t.Fatal(err)
		}

		if err := m.Checkout(testView()); err != nil {
			t.Fatalf("Checkout() error = %v", err)
		}

		dir := filepath.Dir(linkedPath(syncDir))
		info, err := os.Stat(dir)
		if err != nil {
			t.Fatal(err)
		}
		if !info.ModTime().Equal(past) {
			t.Errorf("dir mtime = %v, want %v", info.ModTime(), past)
		}
	})

	t.Run("creates directories for courses without files", func(t *testing.T) {
		m, cache, _, syncDir := newTestMaterializer(t)
		cache.courses = []model.Course{{
			ID:       "c2",
			Semester: "sem-ss16",
			Name:     "Proseminar Ethik",
			Type:     "Seminar",
			Sync:     model.SyncMetadata,
		}}
		cache.semesters = []model.Semester{{ID: "sem-ss16", Name: "SS 2016", Ord: 0}}

		if err := m.Checkout(testView()); err != nil {
			t.Fatalf("Checkout() error = %v", err)
		}

		dir := filepath.Join(syncDir, "uni", "Proseminar Ethik")
		info, err := os.Stat(dir)
		if err != nil {
			t.Fatalf("empty-course directory missing: %v", err)
		}
		if !info.IsDir() {
			t.Error("empty-course path is not a directory")
		}
	})

	t.Run("materializes into a root-based view around the blob store", func(t *testing.T) {
		m, cache, _, syncDir := newDotDirMaterializer(t)

		v := testView()
		v.Base = ""
		if err := m.Checkout(v); err != nil {
			t.Fatalf("Checkout() error = %v", err)
		}

		dest := filepath.Join(syncDir, "Einführung in die Informatik",
			"Allgemeiner Dateiordner", "Übungen", "blatt05.pdf")
		data, err := os.ReadFile(dest)
		if err != nil {
			t.Fatalf("file was not materialized: %v", err)
		}
		if string(data) != "content of f1" {
			t.Errorf("content = %q", data)
		}
		if got := cache.checkouts["v1"]; len(got) != 1 || got[0] != "f1" {
			t.Errorf("checkouts = %v, want [f1]", got)
		}
	})

	t.Run("replaces stale links after a remote update", func(t *testing.T) {
		m, cache, blobs, syncDir := newTestMaterializer(t, fetchedFile("f1"))

		if err := m.Checkout(testView()); err != nil {
			t.Fatalf("Checkout() error = %v", err)
		}

		// A metadata update clears the checkout records and the fetcher
		// stores the new content as a versioned sibling.
		cache.checkouts = map[string][]string{}
		if err := os.WriteFile(blobs.NextVersionPath("f1"), []byte("updated f1"), 0644); err != nil {
			t.Fatal(err)
		}

		if err := m.Checkout(testView()); err != nil {
			t.Fatalf("Checkout() after update error = %v", err)
		}

		data, err := os.ReadFile(linkedPath(syncDir))
		if err != nil {
			t.Fatal(err)
		}
		if string(data) != "updated f1" {
			t.Errorf("linked content = %q, want the updated blob", data)
		}
		linkIno, err := inodeOf(linkedPath(syncDir))
		if err != nil {
			t.Fatal(err)
		}
		blobIno, err := inodeOf(blobs.Path("f1"))
		if err != nil {
			t.Fatal(err)
		}
		if linkIno != blobIno {
			t.Error("link still points at the outdated blob version")
		}
		if got := cache.checkouts["v1"]; len(got) != 1 || got[0] != "f1" {
			t.Errorf("checkouts = %v, want [f1]", got)
		}

		// Older versions stay; existing links elsewhere keep their content.
		old, err := os.ReadFile(filepath.Join(blobs.Dir(), "f1"))
		if err != nil {
			t.Fatal(err)
		}
		if string(old) != "content of f1" {
			t.Errorf("old blob content = %q", old)
		}
	})

	t.Run("bad templates are configuration errors", func(t *testing.T) {
		m, _, _, _ := newTestMaterializer(t, fetchedFile("f1"))

		v := testView()
		v.Format = "{bogus}/{name}"
		if err := m.Checkout(v); err == nil {
			t.Error("Checkout() with unknown token succeeded")
		}
	})
}

func TestRemove(t *testing.T) {
	t.Run("removes links and empty directories", func(t *testing.T) {
		m, _, _, syncDir := newTestMaterializer(t, fetchedFile("f1"))

		if err := m.Checkout(testView()); err != nil {
			t.Fatalf("Checkout() error = %v", err)
		}

		foreign, err := m.Remove(testView())
		if err != nil {
			t.Fatalf("Remove() error = %v", err)
		}
		if len(foreign) != 0 {
			t.Errorf("foreign = %v, want none", foreign)
		}
		if _, err := os.Stat(filepath.Join(syncDir, "uni")); !os.IsNotExist(err) {
			t.Error("base directory survived a clean removal")
		}
	})

	t.Run("never touches foreign files", func(t *testing.T) {
		m, _, _, syncDir := newTestMaterializer(t, fetchedFile("f1"))

		if err := m.Checkout(testView()); err != nil {
			t.Fatalf("Checkout() error = %v", err)
		}
		notes := filepath.Join(filepath.Dir(linkedPath(syncDir)), "my-notes.txt")
		if err := os.WriteFile(notes, []byte("mine"), 0644); err != nil {
			t.Fatal(err)
		}

		foreign, err := m.Remove(testView())
		if err != nil {
			t.Fatalf("Remove() error = %v", err)
		}
		if len(foreign) != 1 {
			t.Fatalf("foreign = %v, want one entry", foreign)
		}

		if _, err := os.Stat(notes); err != nil {
			t.Errorf("foreign file was deleted: %v", err)
		}
		if _, err := os.Stat(linkedPath(syncDir)); !os.IsNotExist(err) {
			t.Error("view-owned link survived removal")
		}
		if _, err := os.Stat(filepath.Join(syncDir, "uni")); err != nil {
			t.Error("base directory deleted despite foreign content")
		}
	})

	t.Run("keeps the shared blob alive", func(t *testing.T) {
		m, _, blobs, _ := newTestMaterializer(t, fetchedFile("f1"))

		if err := m.Checkout(testView()); err != nil {
			t.Fatalf("Checkout() error = %v", err)
		}
		if _, err := m.Remove(testView()); err != nil {
			t.Fatalf("Remove() error = %v", err)
		}

		data, err := os.ReadFile(blobs.Path("f1"))
		if err != nil {
			t.Fatalf("blob gone after view removal: %v", err)
		}
		if string(data) != "content of f1" {
			t.Errorf("blob content = %q", data)
		}
	})

	t.Run("spares the blob store living inside the view tree", func(t *testing.T) {
		m, _, blobs, syncDir := newDotDirMaterializer(t)

		v := testView()
		v.Base = ""
		if err := m.Checkout(v); err != nil {
			t.Fatalf("Checkout() error = %v", err)
		}

		foreign, err := m.Remove(v)
		if err != nil {
			t.Fatalf("Remove() error = %v", err)
		}
		if len(foreign) != 0 {
			t.Errorf("foreign = %v, want none", foreign)
		}
		if _, err := os.Stat(blobs.Path("f1")); err != nil {
			t.Errorf("shared blob deleted: %v", err)
		}
		if _, err := os.Stat(syncDir); err != nil {
			t.Errorf("sync directory deleted: %v", err)
		}
	})

	t.Run("removing a never-checked-out view is a no-op", func(t *testing.T) {
		m, _, _, _ := newTestMaterializer(t)

		foreign, err := m.Remove(testView())
		if err != nil {
			t.Fatalf("Remove() error = %v", err)
		}
		if len(foreign) != 0 {
			t.Errorf("foreign = %v, want none", foreign)
		}
	})
}
