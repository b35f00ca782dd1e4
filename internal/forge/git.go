package forge

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/kthcloud/secd/internal/run"
)

// Clone rewrites httpsURL to embed basic-auth credentials and clones it
// into destPath. Credentials are inserted into the scheme/host segment,
// not passed via a credential helper.
func (c *Client) Clone(ctx context.Context, httpsURL, destPath string) error {
	authedURL, err := withBasicAuth(httpsURL, c.settings.Username, c.settings.Password)
	if err != nil {
		return fmt.Errorf("forge: rewriting clone url: %w", err)
	}
	cmd := exec.CommandContext(ctx, "git", "clone", authedURL, destPath)
	cmd.Env = minimalGitEnv()
	if out, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("forge: clone failed: %w: %s", err, strings.TrimSpace(string(out)))
	}
	return nil
}

func withBasicAuth(rawURL, username, password string) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", err
	}
	u.User = url.UserPassword(username, password)
	return u.String(), nil
}

// PushResults commits every file under repoWorkdir to a new branch and
// pushes it to origin, then unconditionally removes repoWorkdir.
//
// Each git step is isolated: checkout/add/commit/push failures are
// swallowed individually (a run whose workload produced nothing should
// still free disk), but the working-directory removal always runs.
func (c *Client) PushResults(ctx context.Context, id run.ID, repoPath string, at time.Time) error {
	workdir := run.RepoWorkdir(repoPath, id)
	if _, err := os.Stat(workdir); os.IsNotExist(err) {
		return nil
	}

	branch := run.OutputBranchName(id, at)
	message := fmt.Sprintf("secd: inserting result of run %s finished at %s", id, at.UTC().Format(time.RFC3339))

	runGit(ctx, workdir, "checkout", "-b", branch)
	runGit(ctx, workdir, "add", ".")
	runGit(ctx, workdir, "commit", "-m", message)
	runGit(ctx, workdir, "push", "origin", branch)

	return os.RemoveAll(workdir)
}

func runGit(ctx context.Context, dir string, args ...string) {
	cmd := exec.CommandContext(ctx, "git", args...)
	cmd.Dir = dir
	cmd.Env = minimalGitEnv()
	_ = cmd.Run()
}

func minimalGitEnv() []string {
	return append(os.Environ(), "GIT_TERMINAL_PROMPT=0")
}
