package tools

import (
	"bytes"
	"context"
	"log/slog"
	"os/exec"
	"strings"
	"time"

	"github.com/kadirpekel/ollamagate/pkg/protocol"
)

// commandTimeout bounds a dispatched shell invocation. Plans sometimes emit
// commands that hang (interactive installers, watch modes); the bound keeps
// an abandoned command from running forever.
const commandTimeout = 2 * time.Minute

// ShellRunner dispatches commands through sh -c with the working directory
// pinned inside the workspace root. Dispatch is fire-and-forget: Run returns
// as soon as the command is spawned, and the command's eventual outcome is
// only logged. A command's exit status is not a tool failure.
type ShellRunner struct {
	Root string
}

func (r *ShellRunner) Run(ctx context.Context, command, cwd string) (string, error) {
	if strings.TrimSpace(command) == "" {
		return "", protocol.Errorf(protocol.KindMissingParam, "empty command")
	}
	if cwd == "" {
		cwd = r.Root
	}

	// The command outlives the request that dispatched it.
	runCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), commandTimeout)

	cmd := exec.CommandContext(runCtx, "sh", "-c", command)
	cmd.Dir = cwd

	var buf bytes.Buffer
	cmd.Stdout = &buf
	cmd.Stderr = &buf

	if err := cmd.Start(); err != nil {
		cancel()
		return "", protocol.NewError(protocol.KindInternal, "failed to spawn command: "+command, err)
	}

	go func() {
		defer cancel()
		err := cmd.Wait()
		output := strings.TrimSpace(buf.String())
		switch {
		case runCtx.Err() == context.DeadlineExceeded:
			slog.Warn("Dispatched command timed out", "command", command, "timeout", commandTimeout)
		case err != nil:
			slog.Warn("Dispatched command failed", "command", command, "error", err, "output", output)
		default:
			slog.Debug("Dispatched command finished", "command", command)
		}
	}()

	return "dispatched: " + command, nil
}
