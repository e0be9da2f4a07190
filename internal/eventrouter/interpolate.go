package eventrouter

import (
	"strconv"
	"strings"

	"github.com/gitvan/gitvan/internal/gvtypes"
)

// interpolate resolves a payload template's "{{commit.field}}" /
// "{{worktree.field}}" / "{{param.name}}" tokens against the triggering
// commit, worktree and caller-supplied params (spec §4.6 step 3c:
// "payload = interpolate(e.target.payloadTemplate, {commit:c, worktree:W,
// params})"). Unrecognized tokens pass through unchanged.
func interpolate(template map[string]string, commit gvtypes.CommitMeta, worktree gvtypes.Worktree, params map[string]string) map[string]any {
	out := make(map[string]any, len(template))
	for k, v := range template {
		out[k] = interpolateString(v, commit, worktree, params)
	}
	return out
}

func interpolateString(s string, commit gvtypes.CommitMeta, worktree gvtypes.Worktree, params map[string]string) string {
	var b strings.Builder
	for len(s) > 0 {
		start := strings.Index(s, "{{")
		if start == -1 {
			b.WriteString(s)
			break
		}
		end := strings.Index(s[start:], "}}")
		if end == -1 {
			b.WriteString(s)
			break
		}
		end += start

		b.WriteString(s[:start])
		token := strings.TrimSpace(s[start+2 : end])
		b.WriteString(resolveToken(token, commit, worktree, params))
		s = s[end+2:]
	}
	return b.String()
}

func resolveToken(token string, commit gvtypes.CommitMeta, worktree gvtypes.Worktree, params map[string]string) string {
	parts := strings.SplitN(token, ".", 2)
	if len(parts) != 2 {
		return "{{" + token + "}}"
	}
	scope, field := parts[0], parts[1]

	switch scope {
	case "commit":
		switch field {
		case "id":
			return commit.ID
		case "author":
			return commit.Author
		case "authorEmail":
			return commit.AuthorEmail
		case "message":
			return commit.Message
		case "timestamp":
			return commit.Timestamp.UTC().Format("2006-01-02T15:04:05Z07:00")
		}
	case "worktree":
		switch field {
		case "path":
			return worktree.Path
		case "branch":
			return worktree.Branch
		case "head":
			return worktree.Head
		case "isMain":
			return strconv.FormatBool(worktree.IsMain)
		}
	case "param":
		if v, ok := params[field]; ok {
			return v
		}
	}
	return "{{" + token + "}}"
}
