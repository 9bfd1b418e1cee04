package gate

import (
	"net/url"
	"strings"

	"connector-gate/internal/model"
)

// BuildTarget returns the absolute backend URL for a validated route.
//
// The path is the base path followed by "/route" and, when hasID is set,
// "/id". The query is every pair of query rendered as key=value and joined
// with '&' in the original order. Keys and values are written verbatim: they
// arrive decoded from the inbound parser and are not re-encoded, so a value
// containing '&', '#' or a space changes the meaning of the outbound URL.
func BuildTarget(base *url.URL, route, id string, hasID bool, query []model.QueryParam) string {
	escaped := strings.TrimSuffix(base.EscapedPath(), "/") + "/" + route
	if hasID {
		escaped += "/" + id
	}

	u := *base
	u.RawPath = escaped
	u.Path, _ = url.PathUnescape(escaped)
	u.RawQuery = joinQuery(query)
	u.ForceQuery = false
	u.Fragment = ""
	u.RawFragment = ""
	return u.String()
}

func joinQuery(query []model.QueryParam) string {
	if len(query) == 0 {
		return ""
	}
	var b strings.Builder
	for i, p := range query {
		if i > 0 {
			b.WriteByte('&')
		}
		b.WriteString(p.Key)
		b.WriteByte('=')
		b.WriteString(p.Value)
	}
	return b.String()
}
