package types

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
)

// ErrInvalidPermalink is returned when a URL has no usable resource path.
var ErrInvalidPermalink = errors.New("invalid permalink")

// Permalink is the canonical resource path of a track, e.g. "artist/title".
// Scheme, host, query and fragment are never part of it.
type Permalink string

// ParsePermalink derives a Permalink from an absolute URL, a site-relative
// href, or a bare path. Two references to the same resource produce the
// same Permalink.
func ParsePermalink(raw string) (Permalink, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", fmt.Errorf("%w: empty", ErrInvalidPermalink)
	}

	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("%w: %q: %v", ErrInvalidPermalink, raw, err)
	}

	path := u.Path
	// "soundcloud.com/a/b" without a scheme parses as a path with the host in it.
	if u.Host == "" && u.Scheme == "" && !strings.HasPrefix(raw, "/") {
		if i := strings.IndexByte(path, '/'); i > 0 && strings.Contains(path[:i], ".") {
			path = path[i:]
		}
	}

	path = strings.Trim(path, "/")
	if path == "" {
		return "", fmt.Errorf("%w: %q has no path", ErrInvalidPermalink, raw)
	}
	return Permalink(path), nil
}

// MustPermalink is ParsePermalink for literals known to be valid.
func MustPermalink(raw string) Permalink {
	p, err := ParsePermalink(raw)
	if err != nil {
		panic(err)
	}
	return p
}

// String returns the path form.
func (p Permalink) String() string {
	return string(p)
}

// IsZero reports whether p is empty.
func (p Permalink) IsZero() bool {
	return p == ""
}
