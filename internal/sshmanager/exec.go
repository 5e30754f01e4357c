package sshmanager

import (
	"bytes"
	"context"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"golang.org/x/crypto/ssh"

	"github.com/sentryfrogg/engine/internal/platform/apperr"
)

const defaultCaptureBytes = 256 * 1024

func captureLimit() int {
	if v := os.Getenv("SENTRYFROGG_SSH_CAPTURE_BYTES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			return n
		}
	}
	return defaultCaptureBytes
}

// boundedBuffer caps the number of bytes retained, tracking whether the
// source exceeded that cap (spec §4.5 "bounded buffers (env-tunable,
// default 256 KiB each)").
type boundedBuffer struct {
	buf       bytes.Buffer
	limit     int
	truncated bool
}

func newBoundedBuffer(limit int) *boundedBuffer { return &boundedBuffer{limit: limit} }

func (b *boundedBuffer) Write(p []byte) (int, error) {
	n := len(p)
	if remaining := b.limit - b.buf.Len(); remaining > 0 {
		if len(p) > remaining {
			b.buf.Write(p[:remaining])
			b.truncated = true
		} else {
			b.buf.Write(p)
		}
	} else if len(p) > 0 {
		b.truncated = true
	}
	return n, nil
}

// ExecRequest is one `exec` call (spec §4.5 "exec semantics").
type ExecRequest struct {
	ProfileName string
	Command     string
	Cwd         string
	TimeoutMS   int
	Env         map[string]string
}

// ExecResult mirrors the spec's literal response shape.
type ExecResult struct {
	ExitCode        int    `json:"exitCode"`
	Signal          string `json:"signal,omitempty"`
	Stdout          string `json:"stdout"`
	Stderr          string `json:"stderr"`
	DurationMS      int64  `json:"duration_ms"`
	TimedOut        bool   `json:"timedOut"`
	StdoutTruncated bool   `json:"stdout_truncated"`
	StderrTruncated bool   `json:"stderr_truncated"`
}

// Exec runs req.Command on the pooled session for req.ProfileName.
func (m *Manager) Exec(ctx context.Context, req ExecRequest) (ExecResult, error) {
	var result ExecResult
	err := m.withClient(ctx, req.ProfileName, func(client *ssh.Client) error {
		r, err := runExec(ctx, client, req)
		result = r
		return err
	})
	return result, err
}

// Batch runs each command in sequence against the same session, stopping at
// the first non-zero exit unless stopOnError is false.
func (m *Manager) Batch(ctx context.Context, profileName string, commands []ExecRequest, stopOnError bool) ([]ExecResult, error) {
	results := make([]ExecResult, 0, len(commands))
	err := m.withClient(ctx, profileName, func(client *ssh.Client) error {
		for _, cmd := range commands {
			r, err := runExec(ctx, client, cmd)
			results = append(results, r)
			if err != nil {
				return err
			}
			if r.ExitCode != 0 && stopOnError {
				break
			}
		}
		return nil
	})
	return results, err
}

// SystemInfo runs a small fixed command set and returns each command's
// trimmed stdout keyed by name, used for coarse target fingerprinting.
func (m *Manager) SystemInfo(ctx context.Context, profileName string) (map[string]string, error) {
	commands := map[string]string{
		"os":       "uname -s",
		"kernel":   "uname -r",
		"arch":     "uname -m",
		"hostname": "hostname",
	}
	out := make(map[string]string, len(commands))
	err := m.withClient(ctx, profileName, func(client *ssh.Client) error {
		for key, cmd := range commands {
			r, err := runExec(ctx, client, ExecRequest{Command: cmd, TimeoutMS: 5000})
			if err != nil {
				return err
			}
			out[key] = strings.TrimSpace(r.Stdout)
		}
		return nil
	})
	return out, err
}

// CheckHost dials (or reuses) the session and returns whether it is
// currently reachable, without running any remote command.
func (m *Manager) CheckHost(ctx context.Context, profileName string) (bool, error) {
	err := m.withClient(ctx, profileName, func(client *ssh.Client) error {
		sess, err := client.NewSession()
		if err != nil {
			return err
		}
		return sess.Close()
	})
	return err == nil, err
}

func runExec(ctx context.Context, client *ssh.Client, req ExecRequest) (ExecResult, error) {
	sess, err := client.NewSession()
	if err != nil {
		return ExecResult{}, apperr.Wrap(apperr.Retryable, "ssh_session_failed", "failed to open ssh session", err)
	}
	defer sess.Close()

	for k, v := range req.Env {
		_ = sess.Setenv(k, v)
	}

	limit := captureLimit()
	stdout := newBoundedBuffer(limit)
	stderr := newBoundedBuffer(limit)
	sess.Stdout = stdout
	sess.Stderr = stderr

	command := req.Command
	if req.Cwd != "" {
		command = "cd " + shellQuote(req.Cwd) + " && " + command
	}

	start := time.Now()
	done := make(chan error, 1)
	if err := sess.Start(command); err != nil {
		return ExecResult{}, apperr.Wrap(apperr.Internal, "ssh_exec_start_failed", "failed to start remote command", err)
	}
	go func() { done <- sess.Wait() }()

	timeout := time.Duration(req.TimeoutMS) * time.Millisecond
	var timer *time.Timer
	var timerC <-chan time.Time
	if timeout > 0 {
		timer = time.NewTimer(timeout)
		timerC = timer.C
		defer timer.Stop()
	}

	result := ExecResult{
		Stdout:          stdout.buf.String(),
		Stderr:          stderr.buf.String(),
		StdoutTruncated: stdout.truncated,
		StderrTruncated: stderr.truncated,
	}

	select {
	case waitErr := <-done:
		result.DurationMS = time.Since(start).Milliseconds()
		result.Stdout = stdout.buf.String()
		result.Stderr = stderr.buf.String()
		result.StdoutTruncated = stdout.truncated
		result.StderrTruncated = stderr.truncated
		if waitErr == nil {
			result.ExitCode = 0
			return result, nil
		}
		if exitErr, ok := waitErr.(*ssh.ExitError); ok {
			result.ExitCode = exitErr.ExitStatus()
			result.Signal = exitErr.Signal()
			return result, nil
		}
		if waitErr == io.EOF {
			result.ExitCode = -1
			return result, nil
		}
		return result, apperr.Wrap(apperr.Internal, "ssh_exec_failed", "remote command failed", waitErr)

	case <-timerC:
		_ = sess.Signal(ssh.SIGKILL)
		_ = sess.Close()
		result.TimedOut = true
		result.DurationMS = time.Since(start).Milliseconds()
		result.Stdout = stdout.buf.String()
		result.Stderr = stderr.buf.String()
		result.StdoutTruncated = stdout.truncated
		result.StderrTruncated = stderr.truncated
		return result, nil

	case <-ctx.Done():
		_ = sess.Signal(ssh.SIGKILL)
		_ = sess.Close()
		return result, apperr.TimeoutErr("ssh exec")
	}
}
