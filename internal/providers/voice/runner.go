package voice

import (
	"context"
	"os/exec"
)

// ExecRunner runs commands with os/exec. Arguments are passed as argv
// directly; nothing is shell-interpolated.
type ExecRunner struct{}

func (ExecRunner) Run(ctx context.Context, name string, args ...string) error {
	return exec.CommandContext(ctx, name, args...).Run()
}

func (ExecRunner) Output(ctx context.Context, name string, args ...string) ([]byte, error) {
	return exec.CommandContext(ctx, name, args...).Output()
}
