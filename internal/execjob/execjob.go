// Package execjob adapts a subprocess argv into a gvtypes.Invocable, the way
// a job definition's `run: {exec: [...]}` form is executed. It re-targets
// the teacher's invokeAgent (internal/engine/engine.go): a pty allocated for
// the child's stdout/stderr so output is line-buffered and tailable in real
// time, with the payload piped to stdin as JSON instead of a context file.
package execjob

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/creack/pty"

	"github.com/gitvan/gitvan/internal/gvtypes"
)

// Result is the canonicalizable value produced by an exec invocable.
type Result struct {
	ExitCode int    `json:"exitCode"`
	LogPath  string `json:"logPath"`
}

// invocationSeq disambiguates log file names across invocations that run
// within the same process (pid alone collides across concurrent/sequential
// runs of the same job in one daemon process).
var invocationSeq int64

// New builds an Invocable that runs argv[0] with argv[1:] in dir, piping the
// canonical JSON payload to stdin and copying combined pty output to a log
// file under logDir. The returned result's LogPath becomes a receipt
// artifact.
func New(argv []string, dir, logDir string) gvtypes.Invocable {
	return gvtypes.InvocableFunc(func(ctx context.Context, payload map[string]any) (any, error) {
		if len(argv) == 0 {
			return nil, errors.New("execjob: empty argv")
		}

		payloadJSON, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("encoding payload: %w", err)
		}

		if err := os.MkdirAll(logDir, 0755); err != nil {
			return nil, fmt.Errorf("creating log dir: %w", err)
		}
		seq := atomic.AddInt64(&invocationSeq, 1)
		logPath := filepath.Join(logDir, fmt.Sprintf("exec-%d-%d-%d.log", os.Getpid(), time.Now().UnixNano(), seq))
		logFile, err := os.Create(logPath)
		if err != nil {
			return nil, fmt.Errorf("creating log file: %w", err)
		}
		defer logFile.Close()

		cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
		cmd.Dir = dir

		// Allocate a PTY for stdout/stderr so the job sees a terminal and
		// line-buffers, the way the teacher's agent invocation does; stdin
		// stays a regular pipe so the job gets a proper EOF after the payload.
		ptmx, pts, err := pty.Open()
		if err != nil {
			return nil, fmt.Errorf("opening pty: %w", err)
		}
		defer ptmx.Close()

		cmd.Stdin = strings.NewReader(string(payloadJSON))
		cmd.Stdout = pts
		cmd.Stderr = pts

		if err := cmd.Start(); err != nil {
			pts.Close()
			return nil, fmt.Errorf("starting job process: %w", err)
		}
		pts.Close()

		if _, err := io.Copy(logFile, ptmx); err != nil {
			var pathErr *os.PathError
			if !(errors.As(err, &pathErr) && pathErr.Err == syscall.EIO) {
				return nil, fmt.Errorf("reading job output: %w", err)
			}
		}

		waitErr := cmd.Wait()
		exitCode := 0
		if waitErr != nil {
			var exitErr *exec.ExitError
			if errors.As(waitErr, &exitErr) {
				exitCode = exitErr.ExitCode()
			} else {
				return nil, waitErr
			}
		}

		result := Result{ExitCode: exitCode, LogPath: logPath}
		if exitCode != 0 {
			return result, fmt.Errorf("job process exited with code %d", exitCode)
		}
		return result, nil
	})
}
