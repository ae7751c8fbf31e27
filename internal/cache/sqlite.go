// Package cache is the local metadata store: a SQLite database holding
// semesters, courses, folder trees, file records, views and checkouts. All
// writes run inside one explicit transaction that the caller commits after a
// unit of work, so an interrupted run leaves the cache exactly as of the last
// commit.
package cache

import (
	"database/sql"
	"errors"
	"fmt"
	"path"
	"strings"
	"time"

	"github.com/fknorr/studip-client/internal/cache/migrations"
	"github.com/fknorr/studip-client/internal/model"
	"github.com/fknorr/studip-client/internal/studip"
	"github.com/fknorr/studip-client/internal/view"

	_ "github.com/mattn/go-sqlite3" // SQLite driver
)

// Cache wraps the SQLite connection. It is not safe for concurrent use; the
// synchronizer serializes all cache access on the main goroutine.
type Cache struct {
	db   *sql.DB
	tx   *sql.Tx
	path string
}

var (
	_ studip.Cache = (*Cache)(nil)
	_ view.Cache   = (*Cache)(nil)
)

// Open opens (or creates) the cache at path and reconciles its schema
// version: a fresh or older cache is migrated up, a dirty or newer one is
// rejected with a VersionError.
func Open(path string) (*Cache, error) {
	db, err := OpenConnection(path)
	if err != nil {
		return nil, err
	}

	status, err := migrations.Check(db)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("checking cache schema: %w", err)
	}

	switch {
	case status.Dirty:
		db.Close()
		return nil, &VersionError{Version: status.Version, Latest: status.Latest, Dirty: true}
	case !status.Fresh && status.Version > status.Latest:
		db.Close()
		return nil, &VersionError{Version: status.Version, Latest: status.Latest}
	case status.Fresh || status.Version < status.Latest:
		// A failed migration is not a version mismatch; keep the cause so
		// e.g. a locked or full disk is not misread as "run clear-cache".
		if err := migrations.Up(db); err != nil {
			db.Close()
			return nil, fmt.Errorf("migrating cache schema to version %d: %w", status.Latest, err)
		}
	}

	return &Cache{db: db, path: path}, nil
}

// OpenConnection opens and configures a SQLite connection. path may be a
// file path or ":memory:". Exported for tests that apply Schema directly.
func OpenConnection(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("opening cache database: %w", err)
	}

	// SQLite ships with foreign keys off; course deletion relies on cascades.
	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling foreign keys: %w", err)
	}

	return db, nil
}

// NewFromDB wraps an existing connection whose schema is already applied.
func NewFromDB(db *sql.DB) *Cache {
	return &Cache{db: db}
}

// Path returns the cache file path ("" for wrapped connections).
func (c *Cache) Path() string { return c.path }

// begin returns the open transaction, starting one if needed.
func (c *Cache) begin() (*sql.Tx, error) {
	if c.tx == nil {
		tx, err := c.db.Begin()
		if err != nil {
			return nil, fmt.Errorf("starting transaction: %w", err)
		}
		c.tx = tx
	}
	return c.tx, nil
}

// Commit ends the current unit of work. Everything written since the last
// Commit becomes durable at once; an interrupted run loses at most the
// uncommitted tail.
func (c *Cache) Commit() error {
	if c.tx == nil {
		return nil
	}
	tx := c.tx
	c.tx = nil
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing cache transaction: %w", err)
	}
	return nil
}

// Close rolls back any uncommitted work and closes the connection.
func (c *Cache) Close() error {
	if c.tx != nil {
		c.tx.Rollback()
		c.tx = nil
	}
	if c.db != nil {
		return c.db.Close()
	}
	return nil
}

// syncModeList renders a bound IN-list for the given sync modes.
func syncModeList(modes []model.SyncMode) (string, []any) {
	placeholders := make([]string, len(modes))
	args := make([]any, len(modes))
	for i, m := range modes {
		placeholders[i] = "?"
		args[i] = int(m)
	}
	return strings.Join(placeholders, ", "), args
}

// Semesters

// ReplaceSemesters upserts the full semester list by id. The remote listing
// is authoritative on every sync.
func (c *Cache) ReplaceSemesters(semesters []model.Semester) error {
	tx, err := c.begin()
	if err != nil {
		return err
	}
	for _, s := range semesters {
		_, err := tx.Exec(`
			INSERT INTO semesters (id, name, ord) VALUES (?, ?, ?)
			ON CONFLICT(id) DO UPDATE SET name = excluded.name, ord = excluded.ord
		`, s.ID, s.Name, s.Ord)
		if err != nil {
			return fmt.Errorf("upserting semester %s: %w", s.ID, err)
		}
	}
	return nil
}

// ListSemesters returns all semesters, most recent first.
func (c *Cache) ListSemesters() ([]model.Semester, error) {
	tx, err := c.begin()
	if err != nil {
		return nil, err
	}
	rows, err := tx.Query("SELECT id, name, ord FROM semesters ORDER BY ord DESC")
	if err != nil {
		return nil, fmt.Errorf("listing semesters: %w", err)
	}
	defer rows.Close()

	var semesters []model.Semester
	for rows.Next() {
		var s model.Semester
		if err := rows.Scan(&s.ID, &s.Name, &s.Ord); err != nil {
			return nil, fmt.Errorf("scanning semester: %w", err)
		}
		semesters = append(semesters, s)
	}
	return semesters, rows.Err()
}

// Courses

// ListCourseIDs returns the ids of all courses whose sync mode is in modes.
// No ordering is guaranteed.
func (c *Cache) ListCourseIDs(modes ...model.SyncMode) ([]string, error) {
	tx, err := c.begin()
	if err != nil {
		return nil, err
	}
	list, args := syncModeList(modes)
	rows, err := tx.Query("SELECT id FROM courses WHERE sync IN ("+list+")", args...)
	if err != nil {
		return nil, fmt.Errorf("listing course ids: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scanning course id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

const courseColumns = `courses.id, COALESCE(courses.semester, ''), courses.number,
	courses.name, courses.type, courses.name_abbrev, courses.type_abbrev, courses.sync`

func scanCourse(scanner interface{ Scan(...any) error }) (model.Course, error) {
	var course model.Course
	var sync int
	err := scanner.Scan(&course.ID, &course.Semester, &course.Number, &course.Name,
		&course.Type, &course.NameAbbrev, &course.TypeAbbrev, &sync)
	course.Sync = model.SyncMode(sync)
	return course, err
}

// ListCourses returns full course records filtered by sync mode.
func (c *Cache) ListCourses(modes ...model.SyncMode) ([]model.Course, error) {
	tx, err := c.begin()
	if err != nil {
		return nil, err
	}
	list, args := syncModeList(modes)
	rows, err := tx.Query("SELECT "+courseColumns+" FROM courses WHERE sync IN ("+list+")", args...)
	if err != nil {
		return nil, fmt.Errorf("listing courses: %w", err)
	}
	defer rows.Close()

	var courses []model.Course
	for rows.Next() {
		course, err := scanCourse(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning course: %w", err)
		}
		courses = append(courses, course)
	}
	return courses, rows.Err()
}

// GetCourse returns the course with the given id. A missing row is a cache
// inconsistency, reported as QueryError.
func (c *Cache) GetCourse(id string) (model.Course, error) {
	tx, err := c.begin()
	if err != nil {
		return model.Course{}, err
	}
	course, err := scanCourse(tx.QueryRow("SELECT "+courseColumns+" FROM courses WHERE courses.id = ?", id))
	if errors.Is(err, sql.ErrNoRows) {
		return model.Course{}, queryErrorf("no course with id %s", id)
	}
	if err != nil {
		return model.Course{}, fmt.Errorf("loading course %s: %w", id, err)
	}
	return course, nil
}

// AddCourse inserts a course together with its root folder.
func (c *Cache) AddCourse(course model.Course) error {
	tx, err := c.begin()
	if err != nil {
		return err
	}
	var semester any
	if course.Semester != "" {
		semester = course.Semester
	}
	_, err = tx.Exec(`
		INSERT INTO courses (id, semester, number, name, type, name_abbrev, type_abbrev, sync)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, course.ID, semester, course.Number, course.Name, course.Type,
		course.NameAbbrev, course.TypeAbbrev, int(course.Sync))
	if err != nil {
		return fmt.Errorf("inserting course %s: %w", course.ID, err)
	}
	if _, err := tx.Exec("INSERT INTO folders (name, parent, course) VALUES (NULL, NULL, ?)", course.ID); err != nil {
		return fmt.Errorf("creating root folder for course %s: %w", course.ID, err)
	}
	return nil
}

// UpdateCourse rewrites all mutable fields of an existing course.
func (c *Cache) UpdateCourse(course model.Course) error {
	tx, err := c.begin()
	if err != nil {
		return err
	}
	var semester any
	if course.Semester != "" {
		semester = course.Semester
	}
	res, err := tx.Exec(`
		UPDATE courses
		SET semester = ?, number = ?, name = ?, type = ?, name_abbrev = ?, type_abbrev = ?, sync = ?
		WHERE id = ?
	`, semester, course.Number, course.Name, course.Type,
		course.NameAbbrev, course.TypeAbbrev, int(course.Sync), course.ID)
	if err != nil {
		return fmt.Errorf("updating course %s: %w", course.ID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return queryErrorf("no course with id %s", course.ID)
	}
	return nil
}

// DeleteCourse removes a course. Folder and file rows transitively owned by
// the course go with it via ON DELETE CASCADE.
func (c *Cache) DeleteCourse(id string) error {
	tx, err := c.begin()
	if err != nil {
		return err
	}
	if _, err := tx.Exec("DELETE FROM courses WHERE id = ?", id); err != nil {
		return fmt.Errorf("deleting course %s: %w", id, err)
	}
	return nil
}

// Folders

// CreateFolderChain idempotently ensures the folder chain named by path
// exists under the course's root folder, creating missing levels one by one,
// and returns the leaf folder id.
func (c *Cache) CreateFolderChain(courseID string, folderPath []string) (int64, error) {
	tx, err := c.begin()
	if err != nil {
		return 0, err
	}

	var parent int64
	err = tx.QueryRow("SELECT id FROM folders WHERE course = ?", courseID).Scan(&parent)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, queryErrorf("course %s has no root folder", courseID)
	}
	if err != nil {
		return 0, fmt.Errorf("loading root folder of course %s: %w", courseID, err)
	}

	for _, name := range folderPath {
		var id int64
		err := tx.QueryRow("SELECT id FROM folders WHERE parent = ? AND name = ?", parent, name).Scan(&id)
		switch {
		case err == nil:
			parent = id
		case errors.Is(err, sql.ErrNoRows):
			res, err := tx.Exec("INSERT INTO folders (name, parent) VALUES (?, ?)", name, parent)
			if err != nil {
				return 0, fmt.Errorf("creating folder %q: %w", name, err)
			}
			parent, err = res.LastInsertId()
			if err != nil {
				return 0, fmt.Errorf("resolving new folder id: %w", err)
			}
		default:
			return 0, fmt.Errorf("looking up folder %q: %w", name, err)
		}
	}
	return parent, nil
}

// Files

// AddFile inserts a new file record, materializing its folder chain first.
func (c *Cache) AddFile(file model.File) error {
	folder, err := c.CreateFolderChain(file.Course, file.Path)
	if err != nil {
		return err
	}
	tx, err := c.begin()
	if err != nil {
		return err
	}
	_, err = tx.Exec(`
		INSERT INTO files (id, folder, name, extension, author, description, remote_date, copyrighted, version)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, 0)
	`, file.ID, folder, file.Name, file.Extension, file.Author, file.Description,
		file.RemoteDate, file.Copyrighted)
	if err != nil {
		return fmt.Errorf("inserting file %s: %w", file.ID, err)
	}
	return nil
}

// UpdateFile rewrites a file's metadata in place, increments its version and
// clears all checkouts referencing it so every view re-materializes it.
func (c *Cache) UpdateFile(file model.File) error {
	folder, err := c.CreateFolderChain(file.Course, file.Path)
	if err != nil {
		return err
	}
	tx, err := c.begin()
	if err != nil {
		return err
	}
	res, err := tx.Exec(`
		UPDATE files
		SET folder = ?, name = ?, extension = ?, author = ?, description = ?,
		    remote_date = ?, copyrighted = ?, version = version + 1
		WHERE id = ?
	`, folder, file.Name, file.Extension, file.Author, file.Description,
		file.RemoteDate, file.Copyrighted, file.ID)
	if err != nil {
		return fmt.Errorf("updating file %s: %w", file.ID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return queryErrorf("no file with id %s", file.ID)
	}
	if _, err := tx.Exec("DELETE FROM checkouts WHERE file = ?", file.ID); err != nil {
		return fmt.Errorf("clearing checkouts of file %s: %w", file.ID, err)
	}
	return nil
}

// SetFileFetched records that the blob for the file's current remote version
// has been downloaded.
func (c *Cache) SetFileFetched(id string, date time.Time) error {
	tx, err := c.begin()
	if err != nil {
		return err
	}
	res, err := tx.Exec("UPDATE files SET local_date = ? WHERE id = ?", date, id)
	if err != nil {
		return fmt.Errorf("marking file %s fetched: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return queryErrorf("no file with id %s", id)
	}
	return nil
}

// ListFileIDs returns the ids of all files belonging to courses whose sync
// mode is in modes.
func (c *Cache) ListFileIDs(modes ...model.SyncMode) ([]string, error) {
	tx, err := c.begin()
	if err != nil {
		return nil, err
	}
	list, args := syncModeList(modes)
	rows, err := tx.Query(`
		SELECT files.id FROM files
		INNER JOIN file_courses ON file_courses.file = files.id
		INNER JOIN courses ON courses.id = file_courses.course
		WHERE courses.sync IN (`+list+`)
	`, args...)
	if err != nil {
		return nil, fmt.Errorf("listing file ids: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scanning file id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// ListFiles returns full file records, each with its folder chain resolved
// into a root-to-leaf path list and its course fields denormalized for path
// template resolution.
func (c *Cache) ListFiles(modes ...model.SyncMode) ([]model.File, error) {
	tx, err := c.begin()
	if err != nil {
		return nil, err
	}

	paths, err := c.filePaths(tx)
	if err != nil {
		return nil, err
	}

	list, args := syncModeList(modes)
	rows, err := tx.Query(`
		SELECT files.id, files.name, files.extension, files.author, files.description,
		       files.remote_date, files.copyrighted, files.local_date, files.version,
		       courses.id, courses.name, courses.type, courses.name_abbrev,
		       courses.type_abbrev, COALESCE(semesters.name, '')
		FROM files
		INNER JOIN file_courses ON file_courses.file = files.id
		INNER JOIN courses ON courses.id = file_courses.course
		LEFT JOIN semesters ON semesters.id = courses.semester
		WHERE courses.sync IN (`+list+`)
	`, args...)
	if err != nil {
		return nil, fmt.Errorf("listing files: %w", err)
	}
	defer rows.Close()

	var files []model.File
	for rows.Next() {
		var f model.File
		var copyrighted int
		var localDate sql.NullTime
		err := rows.Scan(&f.ID, &f.Name, &f.Extension, &f.Author, &f.Description,
			&f.RemoteDate, &copyrighted, &localDate, &f.Version,
			&f.Course, &f.CourseName, &f.CourseType, &f.CourseNameAbbrev,
			&f.CourseTypeAbbrev, &f.CourseSemester)
		if err != nil {
			return nil, fmt.Errorf("scanning file: %w", err)
		}
		f.Copyrighted = copyrighted != 0
		if localDate.Valid {
			f.LocalDate = localDate.Time
		}
		f.Path = paths[f.ID]
		files = append(files, f)
	}
	return files, rows.Err()
}

// filePaths resolves each file's folder chain through the recursive ancestor
// view, reconstructed in root-to-leaf order. Root folders are unnamed and
// excluded from the path.
func (c *Cache) filePaths(tx *sql.Tx) (map[string][]string, error) {
	rows, err := tx.Query(`
		SELECT file, name FROM file_paths
		WHERE name IS NOT NULL
		ORDER BY file, depth DESC
	`)
	if err != nil {
		return nil, fmt.Errorf("resolving file paths: %w", err)
	}
	defer rows.Close()

	paths := map[string][]string{}
	for rows.Next() {
		var file, name string
		if err := rows.Scan(&file, &name); err != nil {
			return nil, fmt.Errorf("scanning file path: %w", err)
		}
		paths[file] = append(paths[file], name)
	}
	return paths, rows.Err()
}

// Views

// AddView persists a view after validating that its base directory is not
// nested inside (or around) any existing view's base. The root base ""
// conflicts with every other view.
func (c *Cache) AddView(view model.View) error {
	if view.Name == "" {
		return fmt.Errorf("view name must not be empty")
	}
	existing, err := c.ListViews()
	if err != nil {
		return err
	}
	for _, other := range existing {
		if other.Name == view.Name {
			return fmt.Errorf("a view named %q already exists", view.Name)
		}
		if basesConflict(view.Base, other.Base) {
			return fmt.Errorf("view base %q overlaps base %q of view %q",
				displayBase(view.Base), displayBase(other.Base), other.Name)
		}
	}

	tx, err := c.begin()
	if err != nil {
		return err
	}
	_, err = tx.Exec(`
		INSERT INTO views (id, name, format, base, esc_mode, charset)
		VALUES (?, ?, ?, ?, ?, ?)
	`, view.ID, view.Name, view.Format, view.Base, int(view.Escape), int(view.Charset))
	if err != nil {
		return fmt.Errorf("inserting view %q: %w", view.Name, err)
	}
	return nil
}

// basesConflict reports whether two view base directories are equal or in an
// ancestor/descendant relationship. Views may not nest.
func basesConflict(a, b string) bool {
	a, b = path.Clean("/"+a), path.Clean("/"+b)
	if a == b || a == "/" || b == "/" {
		return true
	}
	return strings.HasPrefix(a, b+"/") || strings.HasPrefix(b, a+"/")
}

func displayBase(base string) string {
	if base == "" {
		return "."
	}
	return base
}

// ListViews returns all views ordered by name.
func (c *Cache) ListViews() ([]model.View, error) {
	tx, err := c.begin()
	if err != nil {
		return nil, err
	}
	rows, err := tx.Query("SELECT id, name, format, base, esc_mode, charset FROM views ORDER BY name")
	if err != nil {
		return nil, fmt.Errorf("listing views: %w", err)
	}
	defer rows.Close()

	var views []model.View
	for rows.Next() {
		view, err := scanView(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning view: %w", err)
		}
		views = append(views, view)
	}
	return views, rows.Err()
}

func scanView(scanner interface{ Scan(...any) error }) (model.View, error) {
	var view model.View
	var escMode, charset int
	err := scanner.Scan(&view.ID, &view.Name, &view.Format, &view.Base, &escMode, &charset)
	view.Escape = model.EscapeMode(escMode)
	view.Charset = model.Charset(charset)
	return view, err
}

// GetViewByName looks up a view by its unique name.
func (c *Cache) GetViewByName(name string) (model.View, error) {
	tx, err := c.begin()
	if err != nil {
		return model.View{}, err
	}
	row := tx.QueryRow("SELECT id, name, format, base, esc_mode, charset FROM views WHERE name = ?", name)
	view, err := scanView(row)
	if errors.Is(err, sql.ErrNoRows) {
		return model.View{}, fmt.Errorf("no view named %q", name)
	}
	if err != nil {
		return model.View{}, fmt.Errorf("loading view %q: %w", name, err)
	}
	return view, nil
}

// DeleteView removes a view; its checkouts cascade.
func (c *Cache) DeleteView(id string) error {
	tx, err := c.begin()
	if err != nil {
		return err
	}
	if _, err := tx.Exec("DELETE FROM views WHERE id = ?", id); err != nil {
		return fmt.Errorf("deleting view %s: %w", id, err)
	}
	return nil
}

// Checkouts

// AddCheckout records that a file is materialized under a view. Re-recording
// an existing checkout is a no-op.
func (c *Cache) AddCheckout(viewID, fileID string) error {
	tx, err := c.begin()
	if err != nil {
		return err
	}
	if _, err := tx.Exec("INSERT OR IGNORE INTO checkouts (view, file) VALUES (?, ?)", viewID, fileID); err != nil {
		return fmt.Errorf("recording checkout of %s: %w", fileID, err)
	}
	return nil
}

// ListCheckouts returns the ids of all files checked out under a view.
func (c *Cache) ListCheckouts(viewID string) ([]string, error) {
	tx, err := c.begin()
	if err != nil {
		return nil, err
	}
	rows, err := tx.Query("SELECT file FROM checkouts WHERE view = ?", viewID)
	if err != nil {
		return nil, fmt.Errorf("listing checkouts: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scanning checkout: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// DeleteCheckout clears a single checkout record.
func (c *Cache) DeleteCheckout(viewID, fileID string) error {
	tx, err := c.begin()
	if err != nil {
		return err
	}
	if _, err := tx.Exec("DELETE FROM checkouts WHERE view = ? AND file = ?", viewID, fileID); err != nil {
		return fmt.Errorf("clearing checkout of %s: %w", fileID, err)
	}
	return nil
}
