package node

import (
	"strings"
)

// URI addresses one record: scheme://authority[/path].
// The scheme+authority pair is the program key, which selects the validator
// that gates writes.
type URI struct {
	Scheme    string
	Authority string
	Path      string // without leading slash, empty for bare program keys
}

// ParseURI splits s into its scheme, authority and path components.
func ParseURI(s string) (URI, error) {
	i := strings.Index(s, "://")
	if i <= 0 {
		return URI{}, Errf(KindValidation, "invalid uri %q: missing scheme", s)
	}
	rest := s[i+3:]
	if rest == "" {
		return URI{}, Errf(KindValidation, "invalid uri %q: missing authority", s)
	}
	u := URI{Scheme: s[:i]}
	if j := strings.Index(rest, "/"); j >= 0 {
		u.Authority = rest[:j]
		u.Path = rest[j+1:]
	} else {
		u.Authority = rest
	}
	if u.Authority == "" {
		return URI{}, Errf(KindValidation, "invalid uri %q: empty authority", s)
	}
	return u, nil
}

func (u URI) String() string {
	if u.Path == "" {
		return u.Scheme + "://" + u.Authority
	}
	return u.Scheme + "://" + u.Authority + "/" + u.Path
}

// ProgramKey returns scheme://authority with any ":suffix" of the authority
// stripped, so content-addressed URIs like hash://sha256:{hex} all fall under
// the hash://sha256 program.
func (u URI) ProgramKey() string {
	auth := u.Authority
	if i := strings.Index(auth, ":"); i > 0 {
		auth = auth[:i]
	}
	return u.Scheme + "://" + auth
}

// AuthoritySuffix returns the part of the authority after the first colon,
// e.g. the hex digest of hash://sha256:{hex}. Empty when there is none.
func (u URI) AuthoritySuffix() string {
	if i := strings.Index(u.Authority, ":"); i > 0 {
		return u.Authority[i+1:]
	}
	return ""
}

// PathSegments splits the path on "/". Empty path yields nil.
func (u URI) PathSegments() []string {
	if u.Path == "" {
		return nil
	}
	return strings.Split(u.Path, "/")
}

// Listable reports whether a raw uri string is valid as a list prefix.
// Strings without "://" or ending in "://" always list empty.
func Listable(uri string) bool {
	i := strings.Index(uri, "://")
	return i > 0 && i+3 < len(uri)
}
