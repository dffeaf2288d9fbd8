package timeline

import (
	"context"
	"fmt"
	"os"

	git "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	goversion "github.com/hashicorp/go-version"
	"go.uber.org/zap"

	"verdict/internal/config"
)

// Swapped in tests.
var plainCloneContext = git.PlainCloneContext

// CloneConsole clones the product repository into dir, choosing the branch
// that matches the product version under test. Candidates are tried in
// order until one clones: the version itself, release-MAJOR.MINOR, the
// configured default, then main and master. The clone keeps full history
// on a single branch; the pickaxe queries need the history.
//
// Returns the branch that was actually cloned.
func CloneConsole(ctx context.Context, log *zap.Logger, cfg config.GitConfig, url, version, dir string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, cfg.CloneTimeout)
	defer cancel()

	var lastErr error
	for _, branch := range candidateBranches(version, cfg.DefaultBranch) {
		_, err := plainCloneContext(ctx, dir, false, &git.CloneOptions{
			URL:           url,
			ReferenceName: plumbing.NewBranchReferenceName(branch),
			SingleBranch:  true,
		})
		if err == nil {
			log.Info("cloned console repository",
				zap.String("url", url),
				zap.String("branch", branch),
			)
			return branch, nil
		}
		lastErr = err
		if ctx.Err() != nil {
			break
		}
		log.Debug("branch unavailable, trying next candidate",
			zap.String("branch", branch),
			zap.Error(err),
		)
		// A failed attempt can leave a partial checkout behind.
		_ = os.RemoveAll(dir)
	}
	return "", fmt.Errorf("clone %s: no candidate branch succeeded: %w", url, lastErr)
}

// candidateBranches builds the ordered, deduplicated branch list for a
// product version. An unparseable version still gets tried verbatim, since
// teams name branches after all sorts of things.
func candidateBranches(version, defaultBranch string) []string {
	var out []string
	seen := make(map[string]struct{})
	add := func(b string) {
		if b == "" {
			return
		}
		if _, dup := seen[b]; dup {
			return
		}
		seen[b] = struct{}{}
		out = append(out, b)
	}

	if version != "" {
		add(version)
		if v, err := goversion.NewVersion(version); err == nil {
			if seg := v.Segments(); len(seg) >= 2 {
				add(fmt.Sprintf("release-%d.%d", seg[0], seg[1]))
			}
		}
	}
	add(defaultBranch)
	add("main")
	add("master")
	return out
}
