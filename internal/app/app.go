// Package app is the application layer between the CLI and the sync engine.
// It wires configuration, cache, web session, blob store and logging for one
// sync directory and exposes the high-level operations the commands call.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/google/uuid"

	"github.com/fknorr/studip-client/internal/cache"
	"github.com/fknorr/studip-client/internal/config"
	"github.com/fknorr/studip-client/internal/creds"
	"github.com/fknorr/studip-client/internal/model"
	"github.com/fknorr/studip-client/internal/studip"
	"github.com/fknorr/studip-client/internal/view"
	"github.com/fknorr/studip-client/internal/web"
)

const dotDirName = ".studip"

// App holds everything a command needs for one sync directory. The caller
// must call Close when done.
type App struct {
	SyncDir string
	Config  *config.Config

	cache   *cache.Cache
	web     *web.Client
	blobs   *studip.BlobStore
	creds   *creds.Store
	prompt  studip.Prompter
	logger  studip.Logger
	logFile *os.File
	out     io.Writer

	sync *studip.Synchronizer
}

// NewApp opens the sync directory's cache and wires all components.
// operation identifies the CLI command being run, for the log file.
func NewApp(syncDir string, operation string) (*App, error) {
	dotDir := filepath.Join(syncDir, dotDirName)
	if err := os.MkdirAll(dotDir, 0755); err != nil {
		return nil, fmt.Errorf("creating %s directory: %w", dotDirName, err)
	}

	cfg, err := config.ReadFromFile(filepath.Join(dotDir, "studip.toml"))
	if err != nil {
		return nil, err
	}

	logger, logFile, err := newLogger(filepath.Join(dotDir, "log"), operation)
	if err != nil {
		return nil, err
	}

	db, err := cache.Open(filepath.Join(dotDir, "cache.sqlite"))
	if err != nil {
		logFile.Close()
		return nil, err
	}

	client, err := web.NewClient(0)
	if err != nil {
		db.Close()
		logFile.Close()
		return nil, err
	}

	blobs, err := studip.NewBlobStore(filepath.Join(dotDir, "files"))
	if err != nil {
		db.Close()
		logFile.Close()
		return nil, err
	}

	return &App{
		SyncDir: syncDir,
		Config:  cfg,
		cache:   db,
		web:     client,
		blobs:   blobs,
		creds:   creds.NewStore(filepath.Join(dotDir, "secret")),
		prompt:  newTerminalPrompter(),
		logger:  &slogAdapter{l: logger},
		logFile: logFile,
		out:     os.Stdout,
	}, nil
}

// Close releases the cache and the log file. Uncommitted cache writes are
// rolled back.
func (a *App) Close() error {
	err := a.cache.Close()
	if a.logFile != nil {
		a.logFile.Close()
	}
	return err
}

func (a *App) configPath() string {
	return filepath.Join(a.SyncDir, dotDirName, "studip.toml")
}

func (a *App) materializer() *view.Materializer {
	return view.NewMaterializer(a.cache, a.blobs, a.logger, a.out, a.SyncDir)
}

// ensureLogin logs into the portal once per App, prompting for missing
// credentials and retrying on rejection.
func (a *App) ensureLogin(ctx context.Context) (*studip.Synchronizer, error) {
	if a.sync != nil {
		return a.sync, nil
	}

	sync := studip.NewSynchronizer(a.cache, a.web, a.prompt, a.logger, a.out,
		a.Config.Server.StudipBase, a.Config.Server.SSOBase, a.Config.Update.Concurrency)

	userName := a.Config.Login.UserName
	password := ""
	if a.Config.Login.Password != "" {
		var err error
		password, err = a.creds.Decrypt(a.Config.Login.Password)
		if err != nil {
			a.logger.Warn("ignoring undecryptable saved password", "error", err)
			password = ""
		}
	}

	prompted := false
	for {
		var err error
		if userName == "" {
			prompted = true
			if userName, err = a.prompt.ReadLine("User name"); err != nil {
				return nil, err
			}
		}
		if password == "" {
			prompted = true
			if password, err = a.prompt.ReadPassword("Password"); err != nil {
				return nil, err
			}
		}

		err = sync.Login(ctx, userName, password)
		var loginErr *studip.LoginError
		if errors.As(err, &loginErr) {
			fmt.Fprintln(a.out, loginErr.Error())
			userName, password = "", ""
			continue
		}
		if err != nil {
			return nil, err
		}
		break
	}

	if prompted {
		if err := a.saveLogin(userName, password); err != nil {
			return nil, err
		}
	}

	a.sync = sync
	return sync, nil
}

// saveLogin persists freshly entered credentials according to the saved
// preference, asking for it on first use.
func (a *App) saveLogin(userName, password string) error {
	mode := a.Config.Login.SaveLogin
	if mode == "" {
		choice, err := a.prompt.Choice("Save login details? ([Y]es, [n]o, [u]ser name only)", "ynu", 'y')
		if err != nil {
			return err
		}
		mode = map[byte]string{'y': "password", 'n': "no", 'u': "user"}[choice]
		a.Config.Login.SaveLogin = mode
	}

	switch mode {
	case "password":
		encrypted, err := a.creds.Encrypt(password)
		if err != nil {
			return err
		}
		a.Config.Login.UserName = userName
		a.Config.Login.Password = encrypted
	case "user":
		a.Config.Login.UserName = userName
		a.Config.Login.Password = ""
	}
	return config.WriteToFile(a.configPath(), a.Config)
}

// Update runs the metadata synchronizer. Whatever was written before an
// error is committed anyway, so the next run resumes from there.
func (a *App) Update(ctx context.Context) error {
	sync, err := a.ensureLogin(ctx)
	if err != nil {
		return err
	}

	err = sync.Sync(ctx)
	if cerr := a.cache.Commit(); err == nil {
		err = cerr
	}
	return err
}

// FetchFiles downloads all missing blobs. Progress is committed per file by
// the fetcher itself.
func (a *App) FetchFiles(ctx context.Context) error {
	if _, err := a.ensureLogin(ctx); err != nil {
		return err
	}
	fetcher := studip.NewFetcher(a.cache, a.web, a.blobs, a.logger, a.out,
		a.Config.Server.StudipBase)
	return fetcher.Fetch(ctx)
}

// Checkout materializes one view, or every view when name is empty.
func (a *App) Checkout(name string) error {
	views, err := a.selectViews(name)
	if err != nil {
		return err
	}
	m := a.materializer()
	for _, v := range views {
		if err := m.Checkout(v); err != nil {
			return err
		}
	}
	return a.cache.Commit()
}

// SyncAll runs update, fetch and a checkout of all views in order.
func (a *App) SyncAll(ctx context.Context) error {
	if err := a.Update(ctx); err != nil {
		return err
	}
	if err := a.FetchFiles(ctx); err != nil {
		return err
	}
	return a.Checkout("")
}

// AddView registers a new view after validating template and escaping
// settings.
func (a *App) AddView(name, format, base, escMode, charset string) error {
	esc, err := model.ParseEscapeMode(escMode)
	if err != nil {
		return err
	}
	cs, err := model.ParseCharset(charset)
	if err != nil {
		return err
	}
	v := model.View{
		ID:      uuid.NewString(),
		Name:    name,
		Format:  format,
		Base:    base,
		Escape:  esc,
		Charset: cs,
	}
	if err := a.cache.AddView(v); err != nil {
		return err
	}
	if err := a.cache.Commit(); err != nil {
		return err
	}
	a.logger.Info("view added", "name", name, "format", format)
	return nil
}

// RemoveView tears down a view's tree and deletes its record. Foreign files
// survive and are reported.
func (a *App) RemoveView(name string) error {
	v, err := a.cache.GetViewByName(name)
	if err != nil {
		return err
	}

	foreign, err := a.materializer().Remove(v)
	if err != nil {
		return err
	}
	if len(foreign) > 0 {
		fmt.Fprintf(a.out, "The following files were not created by this view and have been kept:\n")
		for _, f := range foreign {
			fmt.Fprintf(a.out, "  - %s\n", f)
		}
	}

	if err := a.cache.DeleteView(v.ID); err != nil {
		return err
	}
	if err := a.cache.Commit(); err != nil {
		return err
	}
	a.logger.Info("view removed", "name", name)
	return nil
}

// ListViews returns all configured views.
func (a *App) ListViews() ([]model.View, error) {
	return a.cache.ListViews()
}

// ResetDeleted clears deleted-file markers so the next checkout restores the
// files, for one view or all of them.
func (a *App) ResetDeleted(name string) error {
	views, err := a.selectViews(name)
	if err != nil {
		return err
	}
	m := a.materializer()
	for _, v := range views {
		reset, err := m.ResetDeleted(v)
		if err != nil {
			return err
		}
		fmt.Fprintf(a.out, "%s: %d file(s) will be restored on next checkout\n", v.Name, reset)
	}
	return a.cache.Commit()
}

func (a *App) selectViews(name string) ([]model.View, error) {
	if name == "" {
		return a.cache.ListViews()
	}
	v, err := a.cache.GetViewByName(name)
	if err != nil {
		return nil, err
	}
	return []model.View{v}, nil
}

// ListCourses returns every cached course regardless of sync mode.
func (a *App) ListCourses() ([]model.Course, error) {
	return a.cache.ListCourses(model.AllSyncModes...)
}

// SetCourseSync changes a course's sync mode.
func (a *App) SetCourseSync(id, mode string) error {
	sync, err := model.ParseSyncMode(mode)
	if err != nil {
		return err
	}
	return a.updateCourse(id, func(c *model.Course) { c.Sync = sync })
}

// SetCourseName overrides a course's display name.
func (a *App) SetCourseName(id, name string) error {
	return a.updateCourse(id, func(c *model.Course) { c.Name = name })
}

// SetCourseNameAbbrev overrides the heuristic course-name abbreviation.
func (a *App) SetCourseNameAbbrev(id, abbrev string) error {
	return a.updateCourse(id, func(c *model.Course) { c.NameAbbrev = abbrev })
}

// SetCourseType overrides a course's type.
func (a *App) SetCourseType(id, typ string) error {
	return a.updateCourse(id, func(c *model.Course) { c.Type = typ })
}

// SetCourseTypeAbbrev overrides the heuristic course-type abbreviation.
func (a *App) SetCourseTypeAbbrev(id, abbrev string) error {
	return a.updateCourse(id, func(c *model.Course) { c.TypeAbbrev = abbrev })
}

func (a *App) updateCourse(id string, change func(*model.Course)) error {
	course, err := a.cache.GetCourse(id)
	if err != nil {
		return err
	}
	change(&course)
	if err := a.cache.UpdateCourse(course); err != nil {
		return err
	}
	return a.cache.Commit()
}

// ClearCache deletes the metadata database of a sync directory. Blobs and
// checked-out trees stay; the next update rebuilds the metadata. It does not
// need a working cache, so it opens nothing.
func ClearCache(syncDir string) error {
	path := filepath.Join(syncDir, dotDirName, "cache.sqlite")
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("removing cache database: %w", err)
	}
	return nil
}
