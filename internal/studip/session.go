package studip

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/url"
	"strings"
	"time"

	"github.com/fknorr/studip-client/internal/model"
	"github.com/fknorr/studip-client/internal/parse"
)

// Synchronizer drives one sync invocation: SSO login, semester selection,
// course-set reconciliation and the per-course file diff with concurrent
// detail fetches. All cache writes stay uncommitted until the caller commits;
// the caller must commit even when Sync returns an error so completed courses
// survive an aborted pass.
type Synchronizer struct {
	cache  Cache
	web    Web
	prompt Prompter
	log    Logger
	out    io.Writer

	studipBase  string
	ssoBase     string
	concurrency int

	overview string
}

// NewSynchronizer wires a synchronizer. concurrency is the detail-fetch
// worker count; values below 1 fall back to a single worker.
func NewSynchronizer(cache Cache, web Web, prompt Prompter, log Logger, out io.Writer,
	studipBase, ssoBase string, concurrency int) *Synchronizer {
	return &Synchronizer{
		cache:       cache,
		web:         web,
		prompt:      prompt,
		log:         log,
		out:         out,
		studipBase:  strings.TrimSuffix(studipBase, "/"),
		ssoBase:     strings.TrimSuffix(ssoBase, "/"),
		concurrency: concurrency,
	}
}

func (s *Synchronizer) studipURL(path string) string { return s.studipBase + path }

// Login performs the browser-less SSO exchange: fetch the login page,
// extract the credential form target, post the credentials, extract the SAML
// relay fields and post them back to the service provider. The resulting
// overview page is kept for Sync. A missing SAML form is reported as
// LoginError, the retry-with-different-credentials signal; everything else
// is a fatal SessionError.
func (s *Synchronizer) Login(ctx context.Context, userName, password string) error {
	page, err := s.web.GetText(ctx, s.studipURL("/studip/index.php?again=yes&sso=shib"))
	if err != nil {
		return &SessionError{Op: "unable to fetch login page", Err: err}
	}

	action, err := parse.LoginFormAction(page)
	if err != nil {
		return &SessionError{Op: "unable to parse login page", Err: err}
	}
	if !strings.HasPrefix(action, "http") {
		action = s.ssoBase + action
	}

	confirm, err := s.web.PostForm(ctx, action, url.Values{
		"j_username":                  {userName},
		"j_password":                  {password},
		"uApprove.consent-revocation": {""},
	})
	if err != nil {
		return &SessionError{Op: "unable to submit credentials", Err: err}
	}

	fields, err := parse.SAMLForm(confirm)
	if err != nil {
		return &LoginError{Err: err}
	}

	form := url.Values{}
	for name, value := range fields {
		form.Set(name, value)
	}
	overview, err := s.web.PostForm(ctx, s.studipURL("/Shibboleth.sso/SAML2/POST"), form)
	if err != nil {
		return &SessionError{Op: "unable to relay SAML response", Err: err}
	}

	s.overview = overview
	s.log.Info("logged in", "user", userName)
	return nil
}

// Sync reconciles the remote course and file listings against the cache.
// Login must have succeeded first.
func (s *Synchronizer) Sync(ctx context.Context) error {
	if err := s.selectCurrentSemester(ctx); err != nil {
		return err
	}
	if err := s.reconcileCourses(ctx); err != nil {
		return err
	}
	return s.syncFiles(ctx)
}

// selectCurrentSemester stores the semester list and, when the portal's
// sticky selection is not "current", re-requests the overview with the
// current semester forced before the course list is trusted.
func (s *Synchronizer) selectCurrentSemester(ctx context.Context) error {
	semesters, selected, err := parse.SemesterList(s.overview)
	if err != nil {
		return &SessionError{Op: "unable to parse overview page", Err: err}
	}
	if err := s.cache.ReplaceSemesters(semesters); err != nil {
		return err
	}

	if selected != "current" {
		page, err := s.web.PostForm(ctx, s.studipURL("/studip/dispatch.php/my_courses/set_semester"),
			url.Values{"sem_select": {"current"}})
		if err != nil {
			return &SessionError{Op: "unable to fetch overview page", Err: err}
		}
		s.overview = page
	}
	return nil
}

// reconcileCourses diffs the remote course set against the cache: removed
// courses are deleted after interactive confirmation, new courses get their
// sync mode assigned once via prompt and are persisted with it.
func (s *Synchronizer) reconcileCourses(ctx context.Context) error {
	entries, err := parse.CourseList(s.overview)
	if err != nil {
		return &SessionError{Op: "unable to parse course list", Err: err}
	}

	semesters, err := s.cache.ListSemesters()
	if err != nil {
		return err
	}
	semesterByName := make(map[string]string, len(semesters))
	for _, sem := range semesters {
		semesterByName[sem.Name] = sem.ID
	}

	remote := make(map[string]bool, len(entries))
	for _, e := range entries {
		remote[e.ID] = true
	}

	cachedIDs, err := s.cache.ListCourseIDs(model.AllSyncModes...)
	if err != nil {
		return err
	}
	cached := make(map[string]bool, len(cachedIDs))
	for _, id := range cachedIDs {
		cached[id] = true
	}

	for _, id := range cachedIDs {
		if remote[id] {
			continue
		}
		course, err := s.cache.GetCourse(id)
		if err != nil {
			return err
		}
		choice, err := s.prompt.Choice(
			fmt.Sprintf("Delete data for removed course %q? ([Y]es, [n]o)", ellipsize(course.Name, 50)),
			"yn", 'y')
		if err != nil {
			return err
		}
		if choice == 'y' {
			if err := s.cache.DeleteCourse(id); err != nil {
				return err
			}
			s.log.Info("course deleted", "id", id, "name", course.Name)
		}
	}

	for _, e := range entries {
		if cached[e.ID] {
			continue
		}
		choice, err := s.prompt.Choice(
			fmt.Sprintf("Synchronize %q? ([Y]es, [n]o, [m]etadata only)", ellipsize(e.Name, 50)),
			"ynm", 'y')
		if err != nil {
			return err
		}
		mode := map[byte]model.SyncMode{'y': model.SyncFull, 'n': model.SyncNone, 'm': model.SyncMetadata}[choice]

		course := model.Course{
			ID:       e.ID,
			Semester: semesterByName[e.SemesterName],
			Number:   e.Number,
			Name:     e.Name,
			Type:     e.Type,
			Sync:     mode,
		}
		if err := s.cache.AddCourse(course); err != nil {
			return err
		}
		s.log.Info("course added", "id", e.ID, "name", e.Name, "sync", mode.String())
	}
	return nil
}

// syncFiles walks every synced course, diffs its remote file listing against
// the cache and fetches detail pages for new or updated files through the
// worker pool. One course's batch is fully drained before the next course
// enqueues, keeping per-course progress coherent.
func (s *Synchronizer) syncFiles(ctx context.Context) (err error) {
	courses, err := s.cache.ListCourses(model.SyncFull, model.SyncMetadata)
	if err != nil {
		return err
	}

	cachedFiles, err := s.cache.ListFiles(model.SyncFull, model.SyncMetadata)
	if err != nil {
		return err
	}
	remoteDates := make(map[string]time.Time, len(cachedFiles))
	for _, f := range cachedFiles {
		remoteDates[f.ID] = f.RemoteDate
	}

	pool := newDetailPool(ctx, s.concurrency, s.web)
	defer func() {
		if cerr := pool.close(); err == nil {
			err = cerr
		}
	}()

	for _, course := range courses {
		folderURL := s.studipURL("/studip/folder.php?cid=" + course.ID + "&cmd=all")

		if err := s.selectCourse(ctx, course.ID); err != nil {
			return err
		}

		page, err := s.web.GetText(ctx, folderURL)
		if err != nil {
			return &SessionError{Op: "unable to fetch file list of " + course.Name, Err: err}
		}
		entries, err := parse.FileList(page)
		if err != nil {
			return &SessionError{Op: "unable to parse file list of " + course.Name, Err: err}
		}

		var jobs int
		for _, entry := range entries {
			cachedDate, known := remoteDates[entry.ID]
			if known && (entry.Modified.IsZero() || entry.Modified.Equal(cachedDate)) {
				continue
			}
			pool.add(detailJob{courseID: course.ID, url: folderURL + "&open=" + entry.ID})
			jobs++
		}

		if jobs > 0 {
			fmt.Fprintf(s.out, "%d new file(s) for %s\n", jobs, course.Name)
		} else {
			fmt.Fprintf(s.out, "No new files for %s\n", course.Name)
		}

		fetched := 0
		err = pool.drain(func(file model.File) error {
			fetched++
			if !file.Complete() {
				fmt.Fprintf(s.out, "Fetching metadata for file %d/%d... <bad format>\n", fetched, jobs)
				s.log.Warn("discarding incomplete file record", "id", file.ID, "course", course.ID)
				return nil
			}
			fmt.Fprintf(s.out, "Fetching metadata for file %d/%d... %s\n", fetched, jobs, file.Description)

			if _, known := remoteDates[file.ID]; known {
				if err := s.cache.UpdateFile(file); err != nil {
					return err
				}
			} else {
				if err := s.cache.AddFile(file); err != nil {
					return err
				}
			}
			remoteDates[file.ID] = file.RemoteDate
			return nil
		})
		if err != nil {
			return err
		}
	}
	return nil
}

// selectCourse issues the course-selection request whose side effect scopes
// the following folder listing. Only the request's arrival matters, so it
// runs with a near-zero timeout and an expired deadline is tolerated.
func (s *Synchronizer) selectCourse(ctx context.Context, courseID string) error {
	tctx, cancel := context.WithTimeout(ctx, 100*time.Millisecond)
	defer cancel()

	_, err := s.web.GetText(tctx, s.studipURL("/studip/seminar_main.php?auswahl="+courseID))
	if err == nil || isTimeout(err) {
		return nil
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}
	return &SessionError{Op: "unable to select course", Err: err}
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

// ellipsize shortens a string to at most length runes, marking the cut.
func ellipsize(s string, length int) string {
	runes := []rune(s)
	if len(runes) <= length {
		return s
	}
	return string(runes[:length-3]) + "..."
}
