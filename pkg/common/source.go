package common

import (
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"
)

// SourceKind tells local files apart from remote resources.
type SourceKind int

const (
	// SourceLocal is a file on the local filesystem.
	SourceLocal SourceKind = iota
	// SourceRemote is an http(s) resource.
	SourceRemote
)

func (k SourceKind) String() string {
	switch k {
	case SourceLocal:
		return "local"
	case SourceRemote:
		return "remote"
	default:
		return "unknown"
	}
}

// Source identifies where an image comes from.
// Immutable
type Source struct {
	kind   SourceKind
	path   string
	url    string
	header http.Header
}

// Local returns a source for a file path.
func Local(path string) Source {
	return Source{kind: SourceLocal, path: path}
}

// Remote returns a source for an http(s) URL.
func Remote(url string) Source {
	return Source{kind: SourceRemote, url: url}
}

// RemoteWithHeader returns a remote source whose requests carry extra headers,
// for example authorization or a custom user agent.
func RemoteWithHeader(url string, header http.Header) Source {
	return Source{kind: SourceRemote, url: url, header: header.Clone()}
}

// ParseSource classifies a command line argument. Anything with an http or
// https scheme is remote, everything else is a local path.
func ParseSource(s string) Source {
	lower := strings.ToLower(s)
	if strings.HasPrefix(lower, "http://") || strings.HasPrefix(lower, "https://") {
		return Remote(s)
	}
	return Local(s)
}

func (s Source) Kind() SourceKind    { return s.kind }
func (s Source) Path() string        { return s.path }
func (s Source) URL() string         { return s.url }
func (s Source) Header() http.Header { return s.header }
func (s Source) IsRemote() bool      { return s.kind == SourceRemote }

// Identity is the string that names the source in cache keys: the URL for
// remote sources and the cleaned absolute path for local ones.
func (s Source) Identity() string {
	if s.kind == SourceRemote {
		return s.url
	}
	if abs, err := filepath.Abs(s.path); err == nil {
		return abs
	}
	return filepath.Clean(s.path)
}

func (s Source) String() string {
	return s.kind.String() + ":" + s.Identity()
}

// Size is a requested output size. A zero value means native size.
type Size struct {
	Width  int
	Height int
}

// IsZero reports whether no size was requested.
func (s Size) IsZero() bool {
	return s.Width <= 0 && s.Height <= 0
}

func (s Size) String() string {
	return fmt.Sprintf("%dx%d", s.Width, s.Height)
}

// ParseSize reads a "WxH" string. A single number is used for both sides.
func ParseSize(s string) (Size, error) {
	if s == "" {
		return Size{}, nil
	}
	w, h, found := strings.Cut(strings.ToLower(s), "x")
	if !found {
		h = w
	}
	width, err := strconv.Atoi(strings.TrimSpace(w))
	if err != nil || width < 0 {
		return Size{}, fmt.Errorf("invalid size %q", s)
	}
	height, err := strconv.Atoi(strings.TrimSpace(h))
	if err != nil || height < 0 {
		return Size{}, fmt.Errorf("invalid size %q", s)
	}
	return Size{Width: width, Height: height}, nil
}

// Key identifies one decoded result: the same source at different sizes
// yields different keys.
type Key struct {
	Identity string
	Size     Size
}

// KeyFor builds the cache key of a source at a size.
func KeyFor(src Source, size Size) Key {
	return Key{Identity: src.Identity(), Size: size}
}

func (k Key) String() string {
	return k.Identity + "_" + k.Size.String()
}

// Hash is the content address of the key. It names files in the disk tier
// and entries in the memory tier.
func (k Key) Hash() string {
	return Hash(k.String())
}

// Hash returns the hex md5 of s.
func Hash(s string) string {
	sum := md5.Sum([]byte(s))
	return hex.EncodeToString(sum[:])
}
