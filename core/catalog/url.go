package catalog

import (
	"net/url"
	"strings"

	liberrors "github.com/adalundhe/shelf/core/errors"
)

var defaultPorts = map[string]string{
	"http":  "80",
	"https": "443",
}

// CanonicalizeURL validates raw and returns the form used as the catalog's
// external identity.
//
//   - a scheme is required; scheme and host are lower-cased
//   - hierarchical URLs need a host (file URLs a path); opaque ones
//     (doi:10.1000/x, arxiv:2101.00001) need a non-empty opaque part
//   - the fragment and a default port are dropped
//   - a bare "/" path is removed
func CanonicalizeURL(raw string) (string, error) {
	const op = "catalog.CanonicalizeURL"

	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", liberrors.New(liberrors.KindInvalidInput, op, "empty url")
	}

	u, err := url.Parse(raw)
	if err != nil {
		return "", liberrors.Wrap(liberrors.KindInvalidInput, op, "malformed url", err)
	}
	if u.Scheme == "" {
		return "", liberrors.Newf(liberrors.KindInvalidInput, op, "url %q has no scheme", raw)
	}

	u.Scheme = strings.ToLower(u.Scheme)
	u.Fragment = ""
	u.RawFragment = ""

	if u.Opaque != "" {
		return u.String(), nil
	}

	switch {
	case u.Scheme == "file":
		if u.Path == "" {
			return "", liberrors.Newf(liberrors.KindInvalidInput, op, "file url %q has no path", raw)
		}
	case u.Host == "":
		return "", liberrors.Newf(liberrors.KindInvalidInput, op, "url %q has no host", raw)
	}

	host := strings.ToLower(u.Hostname())
	if strings.Contains(host, ":") {
		host = "[" + host + "]"
	}
	if port := u.Port(); port != "" && port != defaultPorts[u.Scheme] {
		host += ":" + port
	}
	u.Host = host

	if u.Path == "/" {
		u.Path = ""
		u.RawPath = ""
	}

	return u.String(), nil
}
