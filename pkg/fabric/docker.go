package fabric

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"strings"
)

// DockerInspector implements RuntimeInspector over the docker CLI.
// Environment overrides are applied through docker compose, which
// recreates the container with the merged environment.
type DockerInspector struct {
	// Binary overrides the docker path, mainly for tests.
	Binary string
	// ComposeFile is the compose file used for env-override restarts.
	ComposeFile string
}

func (d *DockerInspector) bin() string {
	if d.Binary != "" {
		return d.Binary
	}
	return "docker"
}

func (d *DockerInspector) IsRunning(ctx context.Context, container string) (bool, error) {
	out, err := exec.CommandContext(ctx, d.bin(),
		"inspect", "--format", "{{.State.Running}}", container).Output()
	if err != nil {
		return false, fmt.Errorf("docker inspect %s failed: %w", container, err)
	}
	return strings.TrimSpace(string(out)) == "true", nil
}

func (d *DockerInspector) RestartWithEnv(ctx context.Context, container string, env map[string]string) error {
	if len(env) == 0 {
		if out, err := exec.CommandContext(ctx, d.bin(), "restart", container).CombinedOutput(); err != nil {
			return fmt.Errorf("docker restart %s failed: %w: %s", container, err, strings.TrimSpace(string(out)))
		}
		return nil
	}
	if d.ComposeFile == "" {
		return fmt.Errorf("env override for %s requires a compose file", container)
	}
	cmd := exec.CommandContext(ctx, d.bin(), "compose", "-f", d.ComposeFile, "up", "-d", "--force-recreate", container)
	cmd.Env = os.Environ()
	for k, v := range env {
		cmd.Env = append(cmd.Env, k+"="+v)
	}
	if out, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("docker compose up %s failed: %w: %s", container, err, strings.TrimSpace(string(out)))
	}
	return nil
}
