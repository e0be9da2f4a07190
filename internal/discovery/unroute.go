package discovery

import "strings"

// idFromPath derives a definition id from a path relative to its root
// ("jobs/" or "events/"), separators normalized to "/" and the extension
// stripped (spec §4.3: "job id is derived from the path relative to jobs/
// with separators normalized and the extension stripped").
func idFromPath(rel string) string {
	rel = filepathToSlash(rel)
	if i := strings.LastIndex(rel, "."); i > strings.LastIndex(rel, "/") {
		rel = rel[:i]
	}
	return rel
}

func filepathToSlash(p string) string {
	return strings.ReplaceAll(p, "\\", "/")
}

// decodeSegment reverses the unrouting grammar for a single path segment
// encoded under branch/, tag/, path/, message/ or author/ (spec §4.3):
// "__" decodes to "/", "_" decodes to " ", and "__star__" decodes to "*".
// Order matters: __star__ must be recognized before the generic "__" -> "/"
// rule would otherwise mangle it.
func decodeSegment(seg string) string {
	const starToken = "__star__"
	var b strings.Builder
	for len(seg) > 0 {
		switch {
		case strings.HasPrefix(seg, starToken):
			b.WriteByte('*')
			seg = seg[len(starToken):]
		case strings.HasPrefix(seg, "__"):
			b.WriteByte('/')
			seg = seg[2:]
		case seg[0] == '_':
			b.WriteByte(' ')
			seg = seg[1:]
		default:
			b.WriteByte(seg[0])
			seg = seg[1:]
		}
	}
	return b.String()
}

// decodeCronID reverses the cron encoding: a leading "cron/" segment with
// "_" decoded to a literal space.
func decodeCronID(id string) (expr string, ok bool) {
	const prefix = "cron/"
	if !strings.HasPrefix(id, prefix) {
		return "", false
	}
	rest := strings.TrimPrefix(id, prefix)
	return strings.ReplaceAll(rest, "_", " "), true
}

// inferredKind is the predicate family implied by an id's leading segment,
// used when an event definition's YAML body omits an explicit predicate.
type inferredKind struct {
	kind    string
	pattern string // decoded value: expr for cron, pattern/regex otherwise
}

// inferPredicateFromID applies the full unrouting grammar (spec §4.3) to an
// event id, returning the predicate family and decoded pattern implied by
// its directory, or ok=false if the id doesn't match a recognized prefix.
func inferPredicateFromID(id string) (inferredKind, bool) {
	if expr, ok := decodeCronID(id); ok {
		return inferredKind{kind: "cron", pattern: expr}, true
	}

	prefixes := map[string]string{
		"branch/":  "branch",
		"tag/":     "tag",
		"path/":    "path",
		"message/": "message",
		"author/":  "author",
	}
	for prefix, kind := range prefixes {
		if strings.HasPrefix(id, prefix) {
			rest := strings.TrimPrefix(id, prefix)
			return inferredKind{kind: kind, pattern: decodeSegment(rest)}, true
		}
	}
	return inferredKind{}, false
}
