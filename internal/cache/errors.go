package cache

import "fmt"

// VersionError reports a schema-version mismatch between the cache file and
// this client. It is unrecoverable without an explicit cache wipe (older
// schema with no migration path, or dirty state) or a client upgrade (cache
// ahead of the binary).
type VersionError struct {
	Version uint
	Latest  uint
	Dirty   bool
}

func (e *VersionError) Error() string {
	switch {
	case e.Dirty:
		return fmt.Sprintf("cache schema version %d is dirty (a migration failed previously); run clear-cache", e.Version)
	case e.Version > e.Latest:
		return fmt.Sprintf("cache schema version %d is newer than this client supports (%d); upgrade the client", e.Version, e.Latest)
	default:
		return fmt.Sprintf("cache schema version %d cannot be upgraded to %d; run clear-cache", e.Version, e.Latest)
	}
}

// QueryError reports a violated cache invariant, e.g. a query that must
// return a row returned none. It indicates a cache/remote inconsistency bug,
// not a user error.
type QueryError struct {
	Msg string
}

func (e *QueryError) Error() string {
	return "cache inconsistency: " + e.Msg
}

func queryErrorf(format string, args ...any) *QueryError {
	return &QueryError{Msg: fmt.Sprintf(format, args...)}
}
