// Package fragment decomposes request URLs into the canonical substrings
// that the URL index stores and matches against.
//
// A URL such as https://domain.com/api?a=b&c=d produces, in order:
//
//	https://domain.com/api?a=b&c=d   full URL
//	domain.com/api?a=b&c=d           authority, path and query
//	/api?a=b&c=d                     path and query
//	a=b&c=d                          raw query
//	a=b, c=d                         one pair per parameter
//	b, d                             one value per parameter
//
// Prefix matching over these fragments gives substring-like search over the
// interesting parts of a URL without a general text tokenizer.
package fragment

import (
	"net/url"
	"strings"
)

// Kind identifies which part of the URL a fragment was derived from.
type Kind int

const (
	KindFull Kind = iota
	KindAuthority
	KindPath
	KindQuery
	KindPair
	KindValue
)

// String returns a short name for the kind.
func (k Kind) String() string {
	switch k {
	case KindFull:
		return "full"
	case KindAuthority:
		return "authority"
	case KindPath:
		return "path"
	case KindQuery:
		return "query"
	case KindPair:
		return "pair"
	case KindValue:
		return "value"
	default:
		return "unknown"
	}
}

// Fragment is one searchable piece of a URL.
type Fragment struct {
	Value string
	Kind  Kind
	// FullURL is the auxiliary flag persisted with each row: 1 for the
	// fragment holding the complete URL, 0 otherwise.
	FullURL int
}

// Decompose splits rawURL into its ordered fragments. Input that does not
// parse as an absolute URL with a host yields nil: there is nothing to index.
func Decompose(rawURL string) []Fragment {
	rawURL = strings.TrimSpace(rawURL)
	if rawURL == "" {
		return nil
	}

	u, err := url.Parse(rawURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil
	}

	path := u.EscapedPath()
	if path == "" {
		path = "/"
	}
	pathQuery := path
	if u.RawQuery != "" {
		pathQuery += "?" + u.RawQuery
	}

	out := []Fragment{
		{Value: rawURL, Kind: KindFull, FullURL: 1},
		{Value: u.Host + pathQuery, Kind: KindAuthority},
		{Value: pathQuery, Kind: KindPath},
	}
	if u.RawQuery == "" {
		return out
	}

	out = append(out, Fragment{Value: u.RawQuery, Kind: KindQuery})

	params := splitQuery(u.RawQuery)
	for _, p := range params {
		out = append(out, Fragment{Value: p.key + "=" + p.value, Kind: KindPair})
	}
	for _, p := range params {
		if p.value == "" {
			continue
		}
		out = append(out, Fragment{Value: p.value, Kind: KindValue})
	}
	return out
}

// Values returns just the fragment strings of Decompose(rawURL).
func Values(rawURL string) []string {
	frags := Decompose(rawURL)
	if len(frags) == 0 {
		return nil
	}
	values := make([]string, len(frags))
	for i, f := range frags {
		values[i] = f.Value
	}
	return values
}

// Canonical returns the stored form of a fragment or search term.
// Matching is case-insensitive because both sides pass through here.
func Canonical(s string) string {
	return strings.ToLower(s)
}

type param struct {
	key   string
	value string
}

// splitQuery keeps parameters in source order, unlike url.ParseQuery.
func splitQuery(rawQuery string) []param {
	var params []param
	for _, segment := range strings.Split(rawQuery, "&") {
		if segment == "" {
			continue
		}
		key, value, _ := strings.Cut(segment, "=")
		params = append(params, param{key: unescape(key), value: unescape(value)})
	}
	return params
}

func unescape(s string) string {
	if decoded, err := url.QueryUnescape(s); err == nil {
		return decoded
	}
	return s
}
