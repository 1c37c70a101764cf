// Package urlnorm canonicalizes URLs and derives the fingerprints used for
// task deduplication.
//
// Two different spellings of the same resource must collide: the fingerprint
// is the sole deduplication key, so every submission path (single, bulk,
// manifest apply) runs through Normalize before touching the store.
package urlnorm

import (
	"crypto/sha256"
	"encoding/hex"
	"net"
	"net/url"
	"sort"
	"strings"

	"github.com/cuemby/scuttle/pkg/errdefs"
)

// Options toggles individual normalization rules. Scheme lowercasing, the
// absolute http(s) requirement and percent-escape normalization always
// apply; they are validity concerns rather than policy.
type Options struct {
	LowercaseHost    bool
	StripFragment    bool
	SortQuery        bool
	StripDefaultPort bool

	// StripEmptyQuery drops a key's empty values when it also carries a
	// non-empty one. Requires SortQuery: cleanup works on the parsed
	// form, which loses the original parameter order.
	StripEmptyQuery bool
}

// DefaultOptions enables every rule.
func DefaultOptions() Options {
	return Options{
		LowercaseHost:    true,
		StripFragment:    true,
		SortQuery:        true,
		StripDefaultPort: true,
		StripEmptyQuery:  true,
	}
}

// Normalize canonicalizes raw with every rule enabled:
//
//   - scheme and host lowercased
//   - default ports stripped (:80 for http, :443 for https)
//   - fragment dropped
//   - empty path replaced with "/"
//   - percent-escapes normalized (unreserved octets decoded, hex uppercased)
//   - query keys sorted; per-key values sorted; empty values dropped when
//     the key also carries a non-empty one; exact duplicates collapsed
//
// Only absolute http and https URLs are accepted; anything else fails with
// an invalid-argument error.
func Normalize(raw string) (string, error) {
	return NormalizeWith(raw, DefaultOptions())
}

// NormalizeWith canonicalizes raw honoring the given rule toggles.
func NormalizeWith(raw string, opts Options) (string, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return "", errdefs.InvalidArgument("url is empty")
	}

	u, err := url.Parse(s)
	if err != nil {
		return "", errdefs.InvalidArgument("parse url %q: %v", raw, err)
	}
	if !u.IsAbs() {
		return "", errdefs.InvalidArgument("url %q is not absolute", raw)
	}

	u.Scheme = strings.ToLower(u.Scheme)
	if u.Scheme != "http" && u.Scheme != "https" {
		return "", errdefs.InvalidArgument("unsupported scheme %q", u.Scheme)
	}
	if u.Host == "" {
		return "", errdefs.InvalidArgument("url %q has no host", raw)
	}

	host := u.Host
	if opts.LowercaseHost {
		host = strings.ToLower(host)
	}
	if opts.StripDefaultPort {
		if h, p, splitErr := net.SplitHostPort(host); splitErr == nil {
			if (u.Scheme == "http" && p == "80") || (u.Scheme == "https" && p == "443") {
				host = h
				if strings.Contains(h, ":") {
					host = "[" + h + "]"
				}
			}
		}
	}
	u.Host = host

	if opts.StripFragment {
		u.Fragment = ""
		u.RawFragment = ""
	}

	if u.Path == "" {
		u.Path = "/"
		u.RawPath = ""
	} else {
		// Normalizing escapes never changes the decoded path, so the
		// rewritten RawPath stays a valid encoding of Path and String()
		// will use it. This keeps %2F distinct from a literal slash.
		u.RawPath = percentNormalize(u.EscapedPath())
	}

	if opts.SortQuery {
		u.RawQuery = normalizeQuery(u.Query(), opts.StripEmptyQuery)
	} else {
		u.RawQuery = percentNormalize(u.RawQuery)
	}

	return u.String(), nil
}

// normalizeQuery sorts keys and values and optionally drops redundant empty
// values. url.Values.Encode already sorts by key and uppercases escape hex;
// value cleanup happens here.
func normalizeQuery(q url.Values, stripEmpty bool) string {
	if len(q) == 0 {
		return ""
	}
	for k, vs := range q {
		if len(vs) > 1 {
			seen := make(map[string]bool, len(vs))
			hasNonEmpty := false
			for _, v := range vs {
				if v != "" {
					hasNonEmpty = true
				}
			}
			cleaned := make([]string, 0, len(vs))
			for _, v := range vs {
				if v == "" && hasNonEmpty && stripEmpty {
					continue
				}
				if seen[v] {
					continue
				}
				seen[v] = true
				cleaned = append(cleaned, v)
			}
			sort.Strings(cleaned)
			q[k] = cleaned
		}
	}
	return q.Encode()
}

// percentNormalize rewrites escapes in an already-encoded component:
// unreserved octets are decoded and remaining escape hex is uppercased.
func percentNormalize(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c == '%' && i+2 < len(s) && isHex(s[i+1]) && isHex(s[i+2]) {
			v := unhex(s[i+1])<<4 | unhex(s[i+2])
			if isUnreserved(v) {
				b.WriteByte(v)
			} else {
				b.WriteByte('%')
				b.WriteByte(upperHex(s[i+1]))
				b.WriteByte(upperHex(s[i+2]))
			}
			i += 2
			continue
		}
		b.WriteByte(c)
	}
	return b.String()
}

func isHex(c byte) bool {
	return c >= '0' && c <= '9' || c >= 'a' && c <= 'f' || c >= 'A' && c <= 'F'
}

func unhex(c byte) byte {
	switch {
	case c >= '0' && c <= '9':
		return c - '0'
	case c >= 'a' && c <= 'f':
		return c - 'a' + 10
	default:
		return c - 'A' + 10
	}
}

func upperHex(c byte) byte {
	if c >= 'a' && c <= 'f' {
		return c - 'a' + 'A'
	}
	return c
}

// isUnreserved reports whether c may appear unescaped anywhere in a URL
// (RFC 3986 section 2.3).
func isUnreserved(c byte) bool {
	return c >= 'A' && c <= 'Z' || c >= 'a' && c <= 'z' || c >= '0' && c <= '9' ||
		c == '-' || c == '.' || c == '_' || c == '~'
}

// Fingerprint returns the sha-256 hex digest of a normalized URL.
func Fingerprint(normalized string) string {
	sum := sha256.Sum256([]byte(normalized))
	return hex.EncodeToString(sum[:])
}

// NormalizeAndFingerprint is the common submission path: normalize raw and
// digest the result in one call.
func NormalizeAndFingerprint(raw string) (normalized, fingerprint string, err error) {
	normalized, err = Normalize(raw)
	if err != nil {
		return "", "", err
	}
	return normalized, Fingerprint(normalized), nil
}
