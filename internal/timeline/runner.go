package timeline

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"

	git "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"

	"verdict/internal/config"
)

// Swapped in tests.
var execCommandContext = exec.CommandContext

// commitMeta is the slice of commit metadata the comparison logic consumes.
type commitMeta struct {
	SHA     string
	When    time.Time
	Author  string
	Subject string
}

// gitSearcher is the seam between comparison logic and actual git plumbing.
type gitSearcher interface {
	// grepFiles lists the files at HEAD containing the fixed string,
	// limited to the given pathspecs when any are supplied; empty when
	// nothing matches.
	grepFiles(ctx context.Context, dir, needle string, pathspecs ...string) ([]string, error)
	// pickaxeLast returns the newest commit whose diff added or removed the
	// fixed string, or "" when no commit ever touched it.
	pickaxeLast(ctx context.Context, dir, needle string) (string, error)
	// commitAt loads metadata for one commit.
	commitAt(ctx context.Context, dir, sha string) (commitMeta, error)
}

// execSearcher answers search queries through the git binary and reads
// commit objects through go-git. git grep and the log pickaxe have no
// go-git equivalent; object reads do, and they skip a subprocess.
type execSearcher struct {
	cfg config.GitConfig
}

func (s *execSearcher) grepFiles(ctx context.Context, dir, needle string, pathspecs ...string) ([]string, error) {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.GrepTimeout)
	defer cancel()

	args := []string{"grep", "-l", "-F", "-e", needle}
	if len(pathspecs) > 0 {
		args = append(args, "--")
		args = append(args, pathspecs...)
	}
	cmd := execCommandContext(ctx, "git", args...)
	cmd.Dir = dir
	out, err := cmd.Output()
	if err != nil {
		// git grep exits 1 on "no matches", which is an answer, not a failure.
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) && exitErr.ExitCode() == 1 {
			return nil, nil
		}
		return nil, fmt.Errorf("git grep in %s: %w", dir, err)
	}

	var files []string
	for _, line := range strings.Split(string(out), "\n") {
		if line = strings.TrimSpace(line); line != "" {
			files = append(files, line)
		}
	}
	return files, nil
}

func (s *execSearcher) pickaxeLast(ctx context.Context, dir, needle string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.LogTimeout)
	defer cancel()

	cmd := execCommandContext(ctx, "git", "log", "-1", "--format=%H", "-S"+needle)
	cmd.Dir = dir
	out, err := cmd.Output()
	if err != nil {
		return "", fmt.Errorf("git log -S in %s: %w", dir, err)
	}
	return strings.TrimSpace(string(out)), nil
}

func (s *execSearcher) commitAt(_ context.Context, dir, sha string) (commitMeta, error) {
	repo, err := git.PlainOpen(dir)
	if err != nil {
		return commitMeta{}, fmt.Errorf("open repository %s: %w", dir, err)
	}
	commit, err := repo.CommitObject(plumbing.NewHash(sha))
	if err != nil {
		return commitMeta{}, fmt.Errorf("read commit %s: %w", sha, err)
	}
	return metaFromCommit(commit), nil
}

func metaFromCommit(c *object.Commit) commitMeta {
	subject, _, _ := strings.Cut(c.Message, "\n")
	return commitMeta{
		SHA:     c.Hash.String(),
		When:    c.Committer.When,
		Author:  c.Author.Name,
		Subject: strings.TrimSpace(subject),
	}
}
