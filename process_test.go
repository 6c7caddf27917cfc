//go:build unix

package claude

import (
	"bufio"
	"context"
	"io"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func spawnShell(t *testing.T, script string) Process {
	t.Helper()
	proc, err := ExecSpawner{}.Spawn(context.Background(), ProcessConfig{
		Path: "sh",
		Args: []string{"-c", script},
		Env:  os.Environ(),
	})
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = proc.Kill()
		_, _ = proc.Wait()
	})
	return proc
}

func TestExecSpawnerStreams(t *testing.T) {
	proc := spawnShell(t, `read line; echo "out:$line"; echo "err:$line" >&2`)

	_, err := io.WriteString(proc.Stdin(), "ping\n")
	require.NoError(t, err)
	require.NoError(t, proc.Stdin().Close())

	out, err := bufio.NewReader(proc.Stdout()).ReadString('\n')
	require.NoError(t, err)
	assert.Equal(t, "out:ping\n", out)

	errOut, err := io.ReadAll(proc.Stderr())
	require.NoError(t, err)
	assert.Equal(t, "err:ping\n", string(errOut))

	status, err := proc.Wait()
	require.NoError(t, err)
	assert.True(t, status.Success())
}

func TestExecSpawnerExitCode(t *testing.T) {
	proc := spawnShell(t, `exit 3`)
	status, err := proc.Wait()
	require.NoError(t, err)
	assert.Equal(t, 3, status.Code)
	assert.False(t, status.Success())
	assert.Equal(t, "exit code 3", status.String())

	again, _ := proc.Wait()
	assert.Equal(t, status, again, "Wait may be called more than once")
}

func TestExecSpawnerTerminate(t *testing.T) {
	proc := spawnShell(t, `sleep 30`)
	require.NoError(t, proc.Signal(terminateSignal))

	done := make(chan ExitStatus, 1)
	go func() {
		status, _ := proc.Wait()
		done <- status
	}()
	select {
	case status := <-done:
		assert.False(t, status.Success())
		assert.NotEmpty(t, status.Signal)
	case <-time.After(5 * time.Second):
		t.Fatal("process ignored the termination signal")
	}

	assert.NoError(t, proc.Signal(terminateSignal), "signalling an exited process is a no-op")
}

func TestExecSpawnerNotFound(t *testing.T) {
	_, err := ExecSpawner{}.Spawn(context.Background(), ProcessConfig{Path: "/nonexistent/claude-cli"})
	var spawnErr *SpawnError
	require.ErrorAs(t, err, &spawnErr)
	assert.Equal(t, "/nonexistent/claude-cli", spawnErr.Path)
}

func TestExecSpawnerCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := ExecSpawner{}.Spawn(ctx, ProcessConfig{Path: "sh"})
	var spawnErr *SpawnError
	require.ErrorAs(t, err, &spawnErr)
	assert.ErrorIs(t, err, context.Canceled)
}
