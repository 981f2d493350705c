package decorator

import (
	"context"
	"fmt"
	"os/exec"
	"strings"

	"github.com/forgehq/taskforge/internal/pack"
)

// ContainerRuntime starts/stops a detached container and execs inside it.
// The default implementation shells out to the docker CLI; callers may
// substitute another runtime (e.g. a Firecracker-backed one) behind the
// same three methods.
type ContainerRuntime interface {
	Start(ctx context.Context, image, workspacePath, mountPath string) (containerID string, err error)
	Exec(ctx context.Context, containerID string, cmd []string) (stdout, stderr string, exitCode int, err error)
	Stop(ctx context.Context, containerID string) error
}

// DockerRuntime is the default ContainerRuntime, grounded on the teacher's
// subprocess-based sandbox executor: it shells out rather than linking a
// heavyweight SDK, since the only operations needed are start/exec/stop.
type DockerRuntime struct{}

func (DockerRuntime) Start(ctx context.Context, image, workspacePath, mountPath string) (string, error) {
	out, err := exec.CommandContext(ctx, "docker", "run", "-d",
		"-v", fmt.Sprintf("%s:%s", workspacePath, mountPath), image, "sleep", "infinity").Output()
	if err != nil {
		return "", fmt.Errorf("container start: %w", err)
	}
	return strings.TrimSpace(string(out)), nil
}

func (DockerRuntime) Exec(ctx context.Context, containerID string, cmd []string) (string, string, int, error) {
	args := append([]string{"exec", containerID}, cmd...)
	c := exec.CommandContext(ctx, "docker", args...)
	var stdout, stderr strings.Builder
	c.Stdout = &stdout
	c.Stderr = &stderr
	err := c.Run()
	exitCode := 0
	if exitErr, ok := err.(*exec.ExitError); ok {
		exitCode = exitErr.ExitCode()
		err = nil
	}
	return stdout.String(), stderr.String(), exitCode, err
}

func (DockerRuntime) Stop(ctx context.Context, containerID string) error {
	return exec.CommandContext(ctx, "docker", "stop", containerID).Run()
}

// ContainerMountPath is where the workspace is bind-mounted inside the
// container, fixed so shell commands' relative paths stay meaningful.
const ContainerMountPath = "/workspace"

// Containerised re-routes the "shell" tool to exec inside a started
// container, passing every other tool call through unchanged.
type Containerised struct {
	inner         pack.Pack
	runtime       ContainerRuntime
	image         string
	workspacePath string
	containerID   string
}

// NewContainerised wraps inner; image selects the container to start on Open.
func NewContainerised(inner pack.Pack, runtime ContainerRuntime, image, workspacePath string) *Containerised {
	if runtime == nil {
		runtime = DockerRuntime{}
	}
	return &Containerised{inner: inner, runtime: runtime, image: image, workspacePath: workspacePath}
}

func (c *Containerised) SpecialistID() string { return c.inner.SpecialistID() }
func (c *Containerised) SystemPrompt() string { return c.inner.SystemPrompt() }
func (c *Containerised) ToolDefinitions() []pack.ToolDefinition { return c.inner.ToolDefinitions() }
func (c *Containerised) FinishToolName() string        { return c.inner.FinishToolName() }
func (c *Containerised) FinishRequiredFields() []string { return c.inner.FinishRequiredFields() }
func (c *Containerised) ValidateFinishPayload(args map[string]interface{}) (string, bool) {
	return c.inner.ValidateFinishPayload(args)
}

// Open starts the container before delegating to the inner pack's Open.
func (c *Containerised) Open(ctx context.Context) error {
	id, err := c.runtime.Start(ctx, c.image, c.workspacePath, ContainerMountPath)
	if err != nil {
		return err
	}
	c.containerID = id
	return c.inner.Open(ctx)
}

// Close calls the inner pack's Close, then best-effort stops the
// container regardless of that result.
func (c *Containerised) Close(ctx context.Context) error {
	innerErr := c.inner.Close(ctx)
	if c.containerID != "" {
		_ = c.runtime.Stop(ctx, c.containerID)
	}
	return innerErr
}

// ExecuteTool intercepts exactly "shell"; every other tool name passes
// through to the inner pack unchanged.
func (c *Containerised) ExecuteTool(ctx context.Context, name string, args map[string]interface{}) (map[string]interface{}, error) {
	if name != "shell" {
		return c.inner.ExecuteTool(ctx, name, args)
	}
	cmd := toStringSlice(args["cmd"])
	if len(cmd) == 0 {
		return map[string]interface{}{"error": "cmd is required"}, nil
	}
	stdout, stderr, exitCode, err := c.runtime.Exec(ctx, c.containerID, cmd)
	if err != nil {
		return nil, err
	}
	return map[string]interface{}{"cmd": cmd, "returncode": exitCode, "stdout": stdout, "stderr": stderr}, nil
}

func toStringSlice(v interface{}) []string {
	raw, ok := v.([]interface{})
	if !ok {
		return nil
	}
	out := make([]string, 0, len(raw))
	for _, item := range raw {
		if s, ok := item.(string); ok {
			out = append(out, s)
		}
	}
	return out
}
