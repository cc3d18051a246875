// Package executor runs resolved scripts under the configured target
// user account.
package executor

import (
	"context"
	"fmt"
	"os/exec"
)

// execCommand is a test seam over exec.CommandContext.
var execCommand = exec.CommandContext

// Runner executes scripts as a fixed target user through a login shell,
// so the user's profile environment is loaded before the script runs.
type Runner struct {
	user string
}

// NewRunner returns a Runner that executes scripts as user.
func NewRunner(user string) *Runner {
	return &Runner{user: user}
}

// User returns the target account name.
func (r *Runner) User() string { return r.user }

// Run invokes script as the runner's user. The script path travels as
// the shell's $0 positional argument, never interpolated into the
// command string, so shell metacharacters in the path are not
// reinterpreted. A non-zero exit status is returned as an error; the
// caller logs it and never propagates it to the key-press origin.
func (r *Runner) Run(ctx context.Context, script string) error {
	cmd := execCommand(ctx, "runuser",
		"-u", r.user,
		"--",
		"/bin/bash",
		"-l",
		"-c",
		`exec "$0"`,
		script,
	)
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("run %s as %s: %w", script, r.user, err)
	}
	return nil
}
