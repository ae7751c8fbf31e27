package studip

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"os"

	"github.com/fknorr/studip-client/internal/model"
)

// Fetcher downloads the content blobs for all fully-synced files that do not
// have an up-to-date blob yet. Downloads are committed per file so an aborted
// run resumes where it left off.
type Fetcher struct {
	cache Cache
	web   Web
	blobs *BlobStore
	log   Logger
	out   io.Writer

	studipBase string
}

func NewFetcher(cache Cache, web Web, blobs *BlobStore, log Logger, out io.Writer, studipBase string) *Fetcher {
	return &Fetcher{
		cache:      cache,
		web:        web,
		blobs:      blobs,
		log:        log,
		out:        out,
		studipBase: studipBase,
	}
}

// Fetch downloads every missing or outdated blob. A file is up to date when
// its recorded local date matches the remote date and its blob exists on
// disk. An updated remote file gets a fresh versioned blob next to the old
// one so existing hardlinks keep their content.
func (f *Fetcher) Fetch(ctx context.Context) error {
	files, err := f.cache.ListFiles(model.SyncFull)
	if err != nil {
		return err
	}

	for _, file := range files {
		exists := f.blobs.Exists(file.ID)
		if file.Fetched() && exists {
			continue
		}
		if err := ctx.Err(); err != nil {
			return err
		}

		dest := f.blobs.Path(file.ID)
		if exists && !file.LocalDate.IsZero() && !file.LocalDate.Equal(file.RemoteDate) {
			dest = f.blobs.NextVersionPath(file.ID)
		}

		fmt.Fprintf(f.out, "Downloading file %s...\n", file.Description)
		if err := f.download(ctx, file, dest); err != nil {
			return err
		}

		if err := f.cache.SetFileFetched(file.ID, file.RemoteDate); err != nil {
			return err
		}
		if err := f.cache.Commit(); err != nil {
			return err
		}
		f.log.Info("file fetched", "id", file.ID, "name", file.Name)
	}
	return nil
}

func (f *Fetcher) download(ctx context.Context, file model.File, dest string) error {
	query := url.Values{
		"file_id":   {file.ID},
		"file_name": {file.Name},
	}
	downloadURL := f.studipBase + "/studip/sendfile.php?force_download=1&type=0&" + query.Encode()

	out, err := os.Create(dest)
	if err != nil {
		return fmt.Errorf("creating blob file: %w", err)
	}
	if err := f.web.Download(ctx, downloadURL, out); err != nil {
		out.Close()
		os.Remove(dest)
		return &SessionError{Op: "unable to download " + file.Name, Err: err}
	}
	if err := out.Close(); err != nil {
		return fmt.Errorf("writing blob file: %w", err)
	}

	// Stamp the blob with the remote modification time so views can expose it.
	if err := os.Chtimes(dest, file.RemoteDate, file.RemoteDate); err != nil {
		return fmt.Errorf("setting blob timestamp: %w", err)
	}
	return nil
}
