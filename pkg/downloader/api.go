// Package downloader fetches remote resources into local files.
// Transfers land in a "<dest>.temp" file first and are resumed with HTTP range
// requests when a previous attempt left partial data behind.
package downloader

import (
	"context"
	"net/http"
)

// Downloader retrieves one URI into one destination file.
type Downloader interface {
	// Fetch makes sure the destination file exists. It returns true once the
	// file is complete. A false result with a nil error means the transfer is
	// owned by someone else and the caller should try again later.
	Fetch(ctx context.Context) (bool, error)
	// Cancel aborts an ongoing Fetch. Partial data is kept for a later resume.
	// It never blocks and may be called any number of times.
	Cancel()
	// URL returns the URI being fetched.
	URL() string
}

// Listener observes a single transfer. Cancelled and Finished are exclusive.
type Listener interface {
	// Started is called before the request is sent. offset is the number of
	// bytes already on disk from an earlier attempt.
	Started(uri string, offset int64)
	// Transferred reports bytes on disk so far. total is -1 when unknown.
	Transferred(uri string, loaded, total int64)
	Finished(uri string)
	Cancelled(uri string)
}

// NopListener ignores every event. Embed it to implement only some of them.
type NopListener struct{}

func (NopListener) Started(string, int64)            {}
func (NopListener) Transferred(string, int64, int64) {}
func (NopListener) Finished(string)                  {}
func (NopListener) Cancelled(string)                 {}

// Request describes a transfer to build.
type Request struct {
	URL      string
	Dest     string
	Header   http.Header
	Listener Listener
}

// SchemeHandler builds downloaders for the URI schemes it supports.
type SchemeHandler interface {
	New(req Request) Downloader
	// Schemes returns the schemes (e.g. ["http", "https"]) this handler accepts.
	Schemes() []string
}

// Factory picks a SchemeHandler by URI scheme.
type Factory interface {
	New(req Request) (Downloader, error)
}
