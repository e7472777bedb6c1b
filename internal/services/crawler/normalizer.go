package crawler

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"net"
	"net/url"
	"path"
	"strings"
)

// ErrAnchorLink marks a pure intra-page anchor, which is discarded rather
// than normalized.
var ErrAnchorLink = errors.New("intra-page anchor link")

// maxPathLength is the admission ceiling on the canonical path
const maxPathLength = 300

// skipPathPrefixes are asset directories never worth crawling
var skipPathPrefixes = []string{
	"/assets/", "/images/", "/img/", "/css/", "/js/", "/fonts/", "/static/", "/media/",
}

// blockedExtensions are asset and media types excluded from admission
var blockedExtensions = map[string]bool{
	".png": true, ".jpg": true, ".jpeg": true, ".gif": true, ".svg": true,
	".ico": true, ".webp": true, ".avif": true, ".bmp": true,
	".css": true, ".js": true, ".mjs": true, ".map": true,
	".woff": true, ".woff2": true, ".ttf": true, ".eot": true, ".otf": true,
	".pdf": true, ".zip": true, ".tar": true, ".gz": true, ".tgz": true, ".rar": true, ".7z": true,
	".mp3": true, ".mp4": true, ".webm": true, ".avi": true, ".mov": true, ".wav": true, ".ogg": true,
	".exe": true, ".dmg": true, ".deb": true, ".rpm": true, ".apk": true,
	".xml": true, ".rss": true, ".atom": true,
}

// trackingParams are removed during normalization. utm_* is handled by
// prefix; the rest match exact keys.
var trackingParams = map[string]bool{
	"fbclid":   true,
	"gclid":    true,
	"ref":      true,
	"redirect": true,
}

// Normalize resolves rawURL against base (nil for absolute seeds) and
// canonicalizes it: lowercased scheme and host, default port stripped,
// duplicate path slashes collapsed, fragment removed, trailing slash
// trimmed off non-root paths, tracking query parameters dropped and the
// remaining keys sorted. Normalization is idempotent; the canonical form
// defines dedup identity.
func Normalize(rawURL string, base *url.URL) (*url.URL, error) {
	trimmed := strings.TrimSpace(rawURL)
	if trimmed == "" {
		return nil, fmt.Errorf("empty URL")
	}
	if strings.HasPrefix(trimmed, "#") {
		return nil, ErrAnchorLink
	}

	parsed, err := url.Parse(trimmed)
	if err != nil {
		return nil, fmt.Errorf("failed to parse URL %q: %w", rawURL, err)
	}
	if base != nil {
		parsed = base.ResolveReference(parsed)
	}
	if parsed.Scheme == "" || parsed.Host == "" {
		return nil, fmt.Errorf("URL %q is not absolute", rawURL)
	}

	parsed.Scheme = strings.ToLower(parsed.Scheme)
	host := strings.ToLower(parsed.Hostname())
	if port := parsed.Port(); port != "" && !isDefaultPort(parsed.Scheme, port) {
		parsed.Host = net.JoinHostPort(host, port)
	} else {
		parsed.Host = host
	}

	parsed.Path = collapseSlashes(parsed.EscapedPath())
	if parsed.Path == "" {
		parsed.Path = "/"
	}
	if parsed.Path != "/" {
		parsed.Path = strings.TrimSuffix(parsed.Path, "/")
	}
	parsed.RawPath = ""
	parsed.Fragment = ""
	parsed.RawFragment = ""
	parsed.RawQuery = cleanQuery(parsed.Query())

	return parsed, nil
}

func isDefaultPort(scheme, port string) bool {
	return (scheme == "http" && port == "80") || (scheme == "https" && port == "443")
}

func collapseSlashes(p string) string {
	for strings.Contains(p, "//") {
		p = strings.ReplaceAll(p, "//", "/")
	}
	return p
}

// cleanQuery drops tracking parameters and re-encodes the remainder.
// url.Values.Encode sorts by key, which gives the canonical ordering.
func cleanQuery(values url.Values) string {
	for key := range values {
		lower := strings.ToLower(key)
		if strings.HasPrefix(lower, "utm_") || trackingParams[lower] {
			values.Del(key)
		}
	}
	return values.Encode()
}

// Fingerprint returns the url_hash of a canonical URL: hex SHA-256 of its
// string form. Dedup semantics come from Normalize, not from the hash.
func Fingerprint(u *url.URL) string {
	sum := sha256.Sum256([]byte(u.String()))
	return hex.EncodeToString(sum[:])
}

// Scope holds the admission boundary derived from a job's seed URL.
// When external links are not followed, admitted links must share the
// seed's host and stay under its path prefix.
type Scope struct {
	seedHost            string
	pathPrefix          string
	followExternalLinks bool
}

// NewScope derives the admission scope from a normalized seed URL. The
// prefix is the seed's directory: a seed of /docs/intro scopes to /docs/,
// a seed of /docs/ scopes to /docs/, a root seed scopes to everything on
// the host.
func NewScope(seed *url.URL, followExternalLinks bool) *Scope {
	prefix := seed.Path
	if !strings.HasSuffix(prefix, "/") {
		prefix = path.Dir(prefix)
		if prefix != "/" {
			prefix += "/"
		}
	}
	return &Scope{
		seedHost:            seed.Hostname(),
		pathPrefix:          prefix,
		followExternalLinks: followExternalLinks,
	}
}

// RejectReason explains why a candidate link failed admission
type RejectReason string

const (
	RejectNone       RejectReason = ""
	RejectScheme     RejectReason = "unsupported scheme"
	RejectExternal   RejectReason = "outside seed scope"
	RejectAssetPath  RejectReason = "asset path prefix"
	RejectExtension  RejectReason = "blocked extension"
	RejectPathLength RejectReason = "path too long"
	RejectBareOrigin RejectReason = "bare origin"
)

// Admit applies the scope rules to a normalized candidate. It returns
// RejectNone when every rule holds. The bare-origin rule applies to link
// admission only; seeds bypass Admit entirely.
func (s *Scope) Admit(u *url.URL) RejectReason {
	if u.Scheme != "http" && u.Scheme != "https" {
		return RejectScheme
	}
	if !s.followExternalLinks {
		if u.Hostname() != s.seedHost || !strings.HasPrefix(ensureTrailingSlash(u.Path), s.pathPrefix) {
			return RejectExternal
		}
	}
	for _, prefix := range skipPathPrefixes {
		if strings.Contains(u.Path, prefix) {
			return RejectAssetPath
		}
	}
	if blockedExtensions[strings.ToLower(path.Ext(u.Path))] {
		return RejectExtension
	}
	if len(u.Path) > maxPathLength {
		return RejectPathLength
	}
	if u.Path == "/" {
		return RejectBareOrigin
	}
	return RejectNone
}

func ensureTrailingSlash(p string) string {
	if strings.HasSuffix(p, "/") {
		return p
	}
	return p + "/"
}

// privateNets covers RFC1918, loopback and link-local ranges rejected as
// crawl seeds outside development mode.
var privateNets = []string{
	"10.0.0.0/8",
	"172.16.0.0/12",
	"192.168.0.0/16",
	"169.254.0.0/16",
	"127.0.0.0/8",
}

// IsPrivateHost reports whether a hostname points at an internal or
// loopback address. Hostnames are checked literally, not resolved;
// DNS-rebinding defenses are out of scope for a documentation crawler.
func IsPrivateHost(host string) bool {
	lower := strings.ToLower(host)
	if lower == "localhost" || strings.HasSuffix(lower, ".localhost") || lower == "0.0.0.0" {
		return true
	}
	ip := net.ParseIP(lower)
	if ip == nil {
		return false
	}
	if ip.IsLoopback() || ip.IsLinkLocalUnicast() || ip.IsUnspecified() {
		return true
	}
	for _, cidr := range privateNets {
		_, network, err := net.ParseCIDR(cidr)
		if err == nil && network.Contains(ip) {
			return true
		}
	}
	return false
}
