package claude

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"
)

// ProcessConfig describes how to launch the CLI subprocess.
type ProcessConfig struct {
	Path string
	Args []string
	// Env is the complete environment of the child in KEY=VALUE form.
	Env  []string
	Dir  string
	User string
}

// ExitStatus is the terminal state of a child process. Code is -1 when the
// process was terminated by a signal.
type ExitStatus struct {
	Code   int
	Signal string
}

// Success reports a clean zero exit.
func (s ExitStatus) Success() bool { return s.Code == 0 && s.Signal == "" }

func (s ExitStatus) String() string {
	if s.Signal != "" {
		return "signal: " + s.Signal
	}
	return fmt.Sprintf("exit code %d", s.Code)
}

// Process is a running CLI child. The three streams are independent; Stderr
// is never parsed by the engine.
type Process interface {
	Stdin() io.WriteCloser
	Stdout() io.Reader
	Stderr() io.Reader
	// Signal requests termination. Delivery is best-effort.
	Signal(sig os.Signal) error
	Kill() error
	// Wait blocks until the process exits. It may be called more than once.
	Wait() (ExitStatus, error)
}

// Spawner starts CLI processes. Tests substitute a fake.
type Spawner interface {
	Spawn(ctx context.Context, cfg ProcessConfig) (Process, error)
}

// SpawnerFunc adapts a function to the Spawner interface.
type SpawnerFunc func(ctx context.Context, cfg ProcessConfig) (Process, error)

// Spawn calls f.
func (f SpawnerFunc) Spawn(ctx context.Context, cfg ProcessConfig) (Process, error) {
	return f(ctx, cfg)
}

// ExecSpawner launches the CLI with os/exec.
type ExecSpawner struct{}

// Spawn starts the executable in its own process group. The child outlives
// ctx once Spawn has returned.
func (ExecSpawner) Spawn(ctx context.Context, cfg ProcessConfig) (Process, error) {
	if err := ctx.Err(); err != nil {
		return nil, &SpawnError{SDKError: SDKError{Message: "spawn cancelled", Cause: err}, Path: cfg.Path}
	}

	path, err := exec.LookPath(cfg.Path)
	if err != nil {
		return nil, &SpawnError{
			SDKError: SDKError{Message: "Claude Code not found at: " + cfg.Path, Cause: err},
			Path:     cfg.Path,
		}
	}

	cmd := exec.Command(path, cfg.Args...)
	cmd.Env = cfg.Env
	cmd.Dir = cfg.Dir
	if err := setSysProcAttr(cmd, cfg.User); err != nil {
		return nil, &SpawnError{SDKError: SDKError{Message: "failed to configure process user", Cause: err}, Path: path}
	}

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, &SpawnError{SDKError: SDKError{Message: "failed to create stdin pipe", Cause: err}, Path: path}
	}

	// Plain os.Pipe pairs rather than StdoutPipe: exec.Cmd.Wait closes its own
	// pipes as soon as the child exits, which would drop unread output.
	stdoutR, stdoutW, err := os.Pipe()
	if err != nil {
		return nil, &SpawnError{SDKError: SDKError{Message: "failed to create stdout pipe", Cause: err}, Path: path}
	}
	stderrR, stderrW, err := os.Pipe()
	if err != nil {
		closeAll(stdoutR, stdoutW)
		return nil, &SpawnError{SDKError: SDKError{Message: "failed to create stderr pipe", Cause: err}, Path: path}
	}
	cmd.Stdout = stdoutW
	cmd.Stderr = stderrW

	if err := cmd.Start(); err != nil {
		closeAll(stdoutR, stdoutW, stderrR, stderrW)
		return nil, &SpawnError{SDKError: SDKError{Message: "failed to start Claude Code", Cause: err}, Path: path}
	}
	// The child holds its own copies of the write ends.
	closeAll(stdoutW, stderrW)

	return &execProcess{
		cmd:    cmd,
		stdin:  stdin,
		stdout: stdoutR,
		stderr: stderrR,
		done:   make(chan struct{}),
	}, nil
}

type execProcess struct {
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	stdout *os.File
	stderr *os.File

	waitOnce sync.Once
	done     chan struct{}
	status   ExitStatus
	waitErr  error
}

func (p *execProcess) Stdin() io.WriteCloser { return p.stdin }
func (p *execProcess) Stdout() io.Reader     { return p.stdout }
func (p *execProcess) Stderr() io.Reader     { return p.stderr }

func (p *execProcess) Signal(sig os.Signal) error {
	if p.exited() {
		return nil
	}
	return signalGroup(p.cmd.Process, sig)
}

func (p *execProcess) Kill() error {
	if p.exited() {
		return nil
	}
	return signalGroup(p.cmd.Process, os.Kill)
}

func (p *execProcess) Wait() (ExitStatus, error) {
	p.waitOnce.Do(func() {
		err := p.cmd.Wait()
		p.status = exitStatusOf(p.cmd.ProcessState)
		var exitErr *exec.ExitError
		if err != nil && !errors.As(err, &exitErr) {
			p.waitErr = err
		}
		close(p.done)
	})
	<-p.done
	return p.status, p.waitErr
}

func (p *execProcess) exited() bool {
	select {
	case <-p.done:
		return true
	default:
		return false
	}
}

func exitStatusOf(ps *os.ProcessState) ExitStatus {
	if ps == nil {
		return ExitStatus{Code: -1}
	}
	return ExitStatus{Code: ps.ExitCode(), Signal: exitSignal(ps)}
}

func closeAll(files ...*os.File) {
	for _, f := range files {
		_ = f.Close()
	}
}
