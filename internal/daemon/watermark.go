package daemon

import (
	"strings"

	"github.com/gitvan/gitvan/internal/gitdriver"
)

// watermarkSlug mirrors lockmgr's ref-name slugification so watermark refs
// stay readable (spec §6: refs/gitvan/watermarks/<worktreeSlug>). No hash is
// appended, so paths differing only in non-alphanumeric characters share a
// slug.
func watermarkSlug(s string) string {
	var b strings.Builder
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
		case r >= 'A' && r <= 'Z':
			b.WriteRune(r - 'A' + 'a')
		default:
			b.WriteByte('-')
		}
	}
	out := b.String()
	if out == "" {
		return "worktree"
	}
	return out
}

func watermarkRef(prefix, worktreePath string) string {
	return strings.TrimSuffix(prefix, "/") + "/" + watermarkSlug(worktreePath)
}

// readWatermark returns the last-processed commit id for worktreePath, or ""
// if no watermark has been persisted yet (spec §3: "Absent watermark means
// 'from configured lookback window.'"). driver may be rooted at any worktree
// of the repository, since refs are shared across worktrees.
func readWatermark(driver *gitdriver.Driver, prefix, worktreePath string) string {
	v, err := driver.ShowRef(watermarkRef(prefix, worktreePath))
	if err != nil {
		return ""
	}
	return v
}

// writeWatermark persists the new watermark as a ref pointing at commit.
// Ref updates are the only cross-process coordination mechanism (spec §5),
// so watermark persistence is just another atomic ref write.
func writeWatermark(driver *gitdriver.Driver, prefix, worktreePath, commit string) error {
	return driver.UpdateRefForce(watermarkRef(prefix, worktreePath), commit)
}
