package cache

import "net/http"

// Entry is a captured HTTP response snapshot: status, headers and body at the
// time of insertion. Bodies are stored verbatim; the worker never alters them.
type Entry struct {
	StatusCode int
	Headers    http.Header
	Body       []byte
}

// Clone returns a deep copy so callers can serve an entry while a concurrent
// write replaces it.
func (e *Entry) Clone() *Entry {
	if e == nil {
		return nil
	}
	return &Entry{
		StatusCode: e.StatusCode,
		Headers:    e.Headers.Clone(),
		Body:       append([]byte(nil), e.Body...),
	}
}
