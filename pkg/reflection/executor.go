package reflection

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/skyhound/recongraph/pkg/faults"
)

// DefaultScriptTimeout bounds one script execution.
const DefaultScriptTimeout = 30 * time.Second

// maxScriptOutput caps captured stdout/stderr per script.
const maxScriptOutput = 1 << 20 // 1 MiB

// Executor runs enrichment scripts in a throwaway working directory with a
// wallclock budget. Scripts must print one JSON object to stdout.
type Executor struct {
	timeout time.Duration
}

// NewExecutor creates an executor. A zero timeout uses the default.
func NewExecutor(timeout time.Duration) *Executor {
	if timeout <= 0 || timeout > DefaultScriptTimeout {
		timeout = DefaultScriptTimeout
	}
	return &Executor{timeout: timeout}
}

// Run executes one script and parses its stdout as JSON.
func (e *Executor) Run(ctx context.Context, script Script) (map[string]any, error) {
	workdir := filepath.Join(os.TempDir(), "exec-"+uuid.New().String())
	if err := os.MkdirAll(workdir, 0o700); err != nil {
		return nil, faults.Wrap(faults.CodeInternal, "", "failed to create script workdir", err)
	}
	defer os.RemoveAll(workdir)

	scriptPath := filepath.Join(workdir, "script.sh")
	if err := os.WriteFile(scriptPath, []byte(script.Content), 0o700); err != nil {
		return nil, faults.Wrap(faults.CodeInternal, "", "failed to write script", err)
	}

	runCtx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	cmd := exec.CommandContext(runCtx, "bash", scriptPath)
	cmd.Dir = workdir
	// Minimal environment: scripts get PATH and a scratch HOME/TMPDIR inside
	// the workdir, nothing from the parent process.
	cmd.Env = []string{
		"PATH=" + os.Getenv("PATH"),
		"HOME=" + workdir,
		"TMPDIR=" + workdir,
	}

	var stdout, stderr bytes.Buffer
	cmd.Stdout = newCappedWriter(&stdout, maxScriptOutput)
	cmd.Stderr = newCappedWriter(&stderr, maxScriptOutput)

	err := cmd.Run()
	if runCtx.Err() != nil {
		return nil, faults.New(faults.CodeToolTimeout, "",
			fmt.Sprintf("script %s exceeded %s budget", script.Type, e.timeout))
	}
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return nil, faults.New(faults.CodeToolExecFailed, "",
				fmt.Sprintf("script %s exited %d: %s", script.Type, exitErr.ExitCode(), truncate(stderr.String(), 300)))
		}
		return nil, faults.Wrap(faults.CodeToolExecFailed, "", "script execution failed", err)
	}

	var out map[string]any
	if jsonErr := json.Unmarshal(bytes.TrimSpace(stdout.Bytes()), &out); jsonErr != nil {
		return nil, faults.New(faults.CodeParseError, "",
			fmt.Sprintf("script %s stdout is not a JSON object", script.Type))
	}
	return out, nil
}

func truncate(s string, n int) string {
	if len(s) > n {
		return s[:n]
	}
	return s
}

// cappedWriter discards writes beyond its limit so a chatty script cannot
// balloon memory.
type cappedWriter struct {
	buf   *bytes.Buffer
	limit int
}

func newCappedWriter(buf *bytes.Buffer, limit int) *cappedWriter {
	return &cappedWriter{buf: buf, limit: limit}
}

func (w *cappedWriter) Write(p []byte) (int, error) {
	remaining := w.limit - w.buf.Len()
	if remaining <= 0 {
		return len(p), nil
	}
	if len(p) > remaining {
		w.buf.Write(p[:remaining])
		return len(p), nil
	}
	return w.buf.Write(p)
}
