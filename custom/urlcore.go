package custom

import (
	"net/url"
	"strings"
)

// ExtractCore reduces a URL to the part that identifies the underlying
// image, so the same picture reached via different volatile parameters
// (cache busters, width hints) deduplicates to one favorite.
//
// Rules, in order:
//  1. A /seed/{value}/ path segment pins the image on seeded services;
//     the host plus seed is the identity.
//  2. A lock or sig query parameter pins the image; the host plus that
//     value is the identity.
//  3. Otherwise the last non-empty path segment names the file; the host
//     plus that segment is the identity.
//  4. A bare host URL falls back to the URL without its query string.
func ExtractCore(rawURL string) string {
	if rawURL == "" {
		return ""
	}

	u, err := url.Parse(rawURL)
	if err != nil {
		return rawURL
	}

	segments := strings.Split(strings.Trim(u.Path, "/"), "/")
	for i, seg := range segments {
		if seg == "seed" && i+1 < len(segments) && segments[i+1] != "" {
			return u.Host + "/seed/" + segments[i+1]
		}
	}

	q := u.Query()
	for _, param := range []string{"lock", "sig"} {
		if v := q.Get(param); v != "" {
			return u.Host + "?" + param + "=" + v
		}
	}

	for i := len(segments) - 1; i >= 0; i-- {
		if segments[i] != "" {
			return u.Host + "/" + segments[i]
		}
	}

	u.RawQuery = ""
	u.Fragment = ""
	return u.String()
}
