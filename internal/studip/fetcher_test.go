package studip_test

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/fknorr/studip-client/internal/cache"
	"github.com/fknorr/studip-client/internal/model"
	"github.com/fknorr/studip-client/internal/studip"
	"github.com/fknorr/studip-client/internal/testutil"
)

func downloadURL(id, name string) string {
	return studipBase + "/studip/sendfile.php?force_download=1&type=0&file_id=" + id + "&file_name=" + name
}

// newFetcherFixture seeds a cache with one fully-synced course holding one
// unfetched file.
func newFetcherFixture(t *testing.T, remoteDate time.Time) (*studip.Fetcher, *cache.Cache, *studip.BlobStore, *testutil.FakeWeb) {
	t.Helper()

	c := testutil.NewTestCache(t)
	if err := c.ReplaceSemesters([]model.Semester{{ID: "sem-ss16", Name: "SS 2016", Ord: 0}}); err != nil {
		t.Fatal(err)
	}
	err := c.AddCourse(model.Course{
		ID: "c1", Semester: "sem-ss16", Name: "Einführung in die Informatik",
		Type: "Vorlesung", Sync: model.SyncFull,
	})
	if err != nil {
		t.Fatal(err)
	}
	err = c.AddFile(model.File{
		ID: "f1", Course: "c1", Path: []string{"Allgemeiner Dateiordner"},
		Name: "blatt05", Extension: "pdf", Author: "Hans Maier",
		Description: "Übungsblatt 05.pdf", RemoteDate: remoteDate,
	})
	if err != nil {
		t.Fatal(err)
	}

	blobs, err := studip.NewBlobStore(filepath.Join(t.TempDir(), "files"))
	if err != nil {
		t.Fatal(err)
	}

	// Subtests exercising the failure path leave the download page unset.
	web := testutil.NewFakeWeb(map[string]string{})
	web.DownloadBody = "pdf bytes v1"

	fetcher := studip.NewFetcher(c, web, blobs, studip.NewNopLogger(), io.Discard, studipBase)
	return fetcher, c, blobs, web
}

func TestFetch(t *testing.T) {
	remoteDate := time.Date(2016, 6, 13, 10, 41, 0, 0, time.Local)

	t.Run("downloads missing blobs and marks them fetched", func(t *testing.T) {
		fetcher, c, blobs, web := newFetcherFixture(t, remoteDate)
		web.SetPage(downloadURL("f1", "blatt05"), "")

		if err := fetcher.Fetch(context.Background()); err != nil {
			t.Fatalf("Fetch() error = %v", err)
		}

		data, err := os.ReadFile(blobs.Path("f1"))
		if err != nil {
			t.Fatalf("reading blob: %v", err)
		}
		if string(data) != "pdf bytes v1" {
			t.Errorf("blob content = %q", data)
		}

		info, err := os.Stat(blobs.Path("f1"))
		if err != nil {
			t.Fatal(err)
		}
		if !info.ModTime().Equal(remoteDate) {
			t.Errorf("blob mtime = %v, want %v", info.ModTime(), remoteDate)
		}

		files, err := c.ListFiles(model.SyncFull)
		if err != nil {
			t.Fatal(err)
		}
		if len(files) != 1 || !files[0].Fetched() {
			t.Errorf("files = %+v, want one fetched entry", files)
		}
	})

	t.Run("skips up-to-date blobs", func(t *testing.T) {
		fetcher, _, _, web := newFetcherFixture(t, remoteDate)
		web.SetPage(downloadURL("f1", "blatt05"), "")

		if err := fetcher.Fetch(context.Background()); err != nil {
			t.Fatalf("first Fetch() error = %v", err)
		}
		if err := fetcher.Fetch(context.Background()); err != nil {
			t.Fatalf("second Fetch() error = %v", err)
		}

		isDownload := func(url string) bool { return strings.Contains(url, "sendfile.php") }
		if n := web.CountRequests(isDownload); n != 1 {
			t.Errorf("download requests = %d, want 1", n)
		}
	})

	t.Run("versions the blob when the remote file changed", func(t *testing.T) {
		fetcher, c, blobs, web := newFetcherFixture(t, remoteDate)
		web.SetPage(downloadURL("f1", "blatt05"), "")

		if err := fetcher.Fetch(context.Background()); err != nil {
			t.Fatalf("first Fetch() error = %v", err)
		}

		newDate := remoteDate.Add(48 * time.Hour)
		err := c.UpdateFile(model.File{
			ID: "f1", Course: "c1", Path: []string{"Allgemeiner Dateiordner"},
			Name: "blatt05", Extension: "pdf", Author: "Hans Maier",
			Description: "Übungsblatt 05.pdf", RemoteDate: newDate,
		})
		if err != nil {
			t.Fatal(err)
		}
		web.DownloadBody = "pdf bytes v2"

		if err := fetcher.Fetch(context.Background()); err != nil {
			t.Fatalf("second Fetch() error = %v", err)
		}

		if current := blobs.Path("f1"); !strings.HasSuffix(current, ".1") {
			t.Errorf("current blob path = %q, want versioned sibling", current)
		}
		data, err := os.ReadFile(blobs.Path("f1"))
		if err != nil {
			t.Fatal(err)
		}
		if string(data) != "pdf bytes v2" {
			t.Errorf("current blob content = %q", data)
		}

		// The original blob keeps its content for existing hardlinks.
		old, err := os.ReadFile(filepath.Join(blobs.Dir(), "f1"))
		if err != nil {
			t.Fatal(err)
		}
		if string(old) != "pdf bytes v1" {
			t.Errorf("old blob content = %q", old)
		}
	})

	t.Run("failed downloads leave no partial blob", func(t *testing.T) {
		fetcher, _, blobs, _ := newFetcherFixture(t, remoteDate)

		err := fetcher.Fetch(context.Background())
		var sessionErr *studip.SessionError
		if !errors.As(err, &sessionErr) {
			t.Fatalf("Fetch() error = %v, want SessionError", err)
		}
		if blobs.Exists("f1") {
			t.Error("partial blob left behind")
		}
	})

	t.Run("honors cancellation between files", func(t *testing.T) {
		fetcher, _, blobs, _ := newFetcherFixture(t, remoteDate)

		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		if err := fetcher.Fetch(ctx); !errors.Is(err, context.Canceled) {
			t.Errorf("Fetch() error = %v, want context.Canceled", err)
		}
		if blobs.Exists("f1") {
			t.Error("blob downloaded despite cancellation")
		}
	})
}
