package sort

import (
	"strings"
)

// Method is a single "column:direction" sort instruction parsed from a list
// request, e.g. "createdAt:desc".
type Method struct {
	Field     string
	Ascending bool
}

// Parse turns request sort strings into Methods, keeping only fields present
// in the whitelist. Unknown fields are dropped rather than rejected.
func Parse(raw []string, allowed map[string]string) []Method {
	out := make([]Method, 0, len(raw))
	for _, item := range raw {
		field := item
		asc := true
		if idx := strings.IndexByte(item, ':'); idx >= 0 {
			field = item[:idx]
			asc = !strings.EqualFold(item[idx+1:], "desc")
		}
		column, ok := allowed[field]
		if !ok {
			continue
		}
		out = append(out, Method{Field: column, Ascending: asc})
	}
	return out
}

// Columns renders methods as SQL ORDER BY fragments.
func Columns(methods []Method) []string {
	out := make([]string, 0, len(methods))
	for _, m := range methods {
		dir := "ASC"
		if !m.Ascending {
			dir = "DESC"
		}
		out = append(out, m.Field+" "+dir)
	}
	return out
}
