package domain

import (
	"errors"
	"fmt"
)

// ErrSourceUnavailable marks a per-run failure: the source could not be reached
// or read at all, so nothing can be archived.
var ErrSourceUnavailable = errors.New("source unavailable")

// ErrorKind classifies per-item failures for the end-of-run summary.
type ErrorKind string

const (
	KindFetch  ErrorKind = "fetch"
	KindParse  ErrorKind = "parse"
	KindSchema ErrorKind = "schema"
	KindStore  ErrorKind = "store"
	KindMedia  ErrorKind = "media"
)

// ErrorKinds lists all kinds in summary order.
var ErrorKinds = []ErrorKind{KindFetch, KindParse, KindSchema, KindStore, KindMedia}

// KindedError is implemented by every error in the taxonomy.
type KindedError interface {
	error
	Kind() ErrorKind
}

// KindOf extracts the taxonomy kind from an error chain.
func KindOf(err error) (ErrorKind, bool) {
	var ke KindedError
	if errors.As(err, &ke) {
		return ke.Kind(), true
	}
	return "", false
}

// FetchError is a transient network or API failure that survived retries.
type FetchError struct {
	URL        string
	StatusCode int
	Err        error
}

func (e *FetchError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("fetch %s: HTTP %d: %v", e.URL, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("fetch %s: %v", e.URL, e.Err)
}

func (e *FetchError) Unwrap() error   { return e.Err }
func (e *FetchError) Kind() ErrorKind { return KindFetch }

// ParseError is a malformed source record. It is never retried.
type ParseError struct {
	Ref string
	Err error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parse %s: %v", e.Ref, e.Err)
}

func (e *ParseError) Unwrap() error   { return e.Err }
func (e *ParseError) Kind() ErrorKind { return KindParse }

// SchemaError is a canonical validation failure, which points at an adapter bug.
type SchemaError struct {
	Key    Key
	Reason string
}

func (e *SchemaError) Error() string {
	return fmt.Sprintf("invalid post %s: %s", e.Key, e.Reason)
}

func (e *SchemaError) Kind() ErrorKind { return KindSchema }

// StoreError is a filesystem failure while writing a single record.
type StoreError struct {
	Key  Key
	Path string
	Err  error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("store %s at %s: %v", e.Key, e.Path, e.Err)
}

func (e *StoreError) Unwrap() error   { return e.Err }
func (e *StoreError) Kind() ErrorKind { return KindStore }

// MediaError is a failed asset download. It never fails the post.
type MediaError struct {
	URL string
	Err error
}

func (e *MediaError) Error() string {
	return fmt.Sprintf("media %s: %v", e.URL, e.Err)
}

func (e *MediaError) Unwrap() error   { return e.Err }
func (e *MediaError) Kind() ErrorKind { return KindMedia }
