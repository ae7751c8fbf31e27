package studip

import "fmt"

// SessionError reports a network or parse failure during a sync pass. It is
// fatal for the pass; whatever was committed to the cache before it surfaced
// stays valid and the next run resumes from there.
type SessionError struct {
	Op  string
	Err error
}

func (e *SessionError) Error() string {
	if e.Err == nil {
		return e.Op
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *SessionError) Unwrap() error { return e.Err }

// LoginError signals rejected credentials: the SAML response form was missing
// from the SSO confirmation page. Unlike other session errors it is worth
// retrying with different credentials.
type LoginError struct {
	Err error
}

func (e *LoginError) Error() string { return "login failed (wrong user name or password?)" }

func (e *LoginError) Unwrap() error { return e.Err }
