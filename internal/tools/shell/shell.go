// Package shell implements the run_shell tool executor, a thin wrapper
// over the sandbox's command runner.
package shell

import (
	"context"
	"time"

	"github.com/forgehq/taskforge/internal/sandbox"
)

// Run executes cmd through the sandbox policy and returns the result as a
// JSON-serialisable map, exactly the shape sandbox.CmdResult marshals to.
func Run(ctx context.Context, p *sandbox.Policy, cmd []string, timeout time.Duration) (map[string]interface{}, error) {
	result, err := p.RunCmd(ctx, cmd, timeout)
	if err != nil {
		return nil, err
	}
	return map[string]interface{}{
		"cmd":        result.Cmd,
		"returncode": result.ReturnCode,
		"stdout":     result.Stdout,
		"stderr":     result.Stderr,
	}, nil
}
