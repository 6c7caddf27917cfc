package claude

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSessionID = "sess-test-1"

// fakeCLI stands in for the Claude Code process. Everything the engine writes
// to stdin is decoded and recorded, then passed to handle. The default
// handler acknowledges initialize and echoes every user turn.
type fakeCLI struct {
	t *testing.T

	stdinR  *io.PipeReader
	stdinW  *io.PipeWriter
	stdoutR *io.PipeReader
	stdoutW *io.PipeWriter

	handle func(f *fakeCLI, msg map[string]any)
	// exitOnEOF makes the process exit cleanly once stdin is closed.
	exitOnEOF bool
	// ignoreTerm makes the process ignore the termination signal.
	ignoreTerm bool

	mu       sync.Mutex
	recs     []map[string]any
	initSent bool
	signals  []os.Signal
	killed   bool
	config   ProcessConfig

	exitOnce sync.Once
	done     chan struct{}
	status   ExitStatus
	stdinEOF chan struct{}
}

func newFakeCLI(t *testing.T) *fakeCLI {
	stdinR, stdinW := io.Pipe()
	stdoutR, stdoutW := io.Pipe()
	return &fakeCLI{
		t:         t,
		stdinR:    stdinR,
		stdinW:    stdinW,
		stdoutR:   stdoutR,
		stdoutW:   stdoutW,
		handle:    (*fakeCLI).respond,
		exitOnEOF: true,
		done:      make(chan struct{}),
		stdinEOF:  make(chan struct{}),
	}
}

func (f *fakeCLI) Spawn(ctx context.Context, cfg ProcessConfig) (Process, error) {
	f.mu.Lock()
	f.config = cfg
	f.mu.Unlock()
	go f.readStdin()
	return f, nil
}

func (f *fakeCLI) Stdin() io.WriteCloser { return f.stdinW }
func (f *fakeCLI) Stdout() io.Reader     { return f.stdoutR }
func (f *fakeCLI) Stderr() io.Reader     { return strings.NewReader("") }

func (f *fakeCLI) Signal(sig os.Signal) error {
	f.mu.Lock()
	f.signals = append(f.signals, sig)
	ignore := f.ignoreTerm
	f.mu.Unlock()
	if !ignore {
		f.exit(ExitStatus{Code: -1, Signal: "terminated"})
	}
	return nil
}

func (f *fakeCLI) Kill() error {
	f.mu.Lock()
	f.killed = true
	f.mu.Unlock()
	f.exit(ExitStatus{Code: -1, Signal: "killed"})
	return nil
}

func (f *fakeCLI) Wait() (ExitStatus, error) {
	<-f.done
	return f.status, nil
}

// exit ends the process: stdout reaches EOF and further stdin writes fail.
func (f *fakeCLI) exit(status ExitStatus) {
	f.exitOnce.Do(func() {
		f.status = status
		_ = f.stdoutW.Close()
		_ = f.stdinR.CloseWithError(io.ErrClosedPipe)
		close(f.done)
	})
}

func (f *fakeCLI) readStdin() {
	defer func() {
		close(f.stdinEOF)
		f.mu.Lock()
		exit := f.exitOnEOF
		f.mu.Unlock()
		if exit {
			f.exit(ExitStatus{})
		}
	}()
	sc := bufio.NewScanner(f.stdinR)
	sc.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for sc.Scan() {
		var msg map[string]any
		if err := json.Unmarshal(sc.Bytes(), &msg); err != nil {
			f.t.Errorf("engine wrote invalid JSON line %q: %v", sc.Text(), err)
			continue
		}
		f.mu.Lock()
		f.recs = append(f.recs, msg)
		handle := f.handle
		f.mu.Unlock()
		if handle != nil {
			handle(f, msg)
		}
	}
}

// send writes one record to the engine's stdout.
func (f *fakeCLI) send(v any) {
	data, err := json.Marshal(v)
	require.NoError(f.t, err)
	f.sendRaw(string(data))
}

func (f *fakeCLI) sendRaw(line string) {
	_, _ = f.stdoutW.Write([]byte(line + "\n"))
}

// respond is the default handler.
func (f *fakeCLI) respond(msg map[string]any) {
	switch msg["type"] {
	case typeControlRequest:
		f.ack(msg, nil)
	case "user":
		f.echo(msg)
	}
}

// ack answers an engine control request with success.
func (f *fakeCLI) ack(msg map[string]any, payload map[string]any) {
	if payload == nil {
		payload = map[string]any{}
	}
	f.send(map[string]any{
		"type": typeControlResponse,
		"response": map[string]any{
			"subtype":    "success",
			"request_id": msg["request_id"],
			"response":   payload,
		},
	})
}

// echo answers a user turn: system/init on the first turn, then one
// assistant message and a result.
func (f *fakeCLI) echo(msg map[string]any) {
	f.startTurn()
	text := "echo: " + turnText(msg)
	f.send(assistantRecord(text))
	f.send(resultRecord(text))
}

func (f *fakeCLI) startTurn() {
	f.mu.Lock()
	first := !f.initSent
	f.initSent = true
	f.mu.Unlock()
	if first {
		f.send(map[string]any{
			"type":       "system",
			"subtype":    "init",
			"session_id": testSessionID,
			"model":      "claude-test",
			"tools":      []any{"Read", "Write"},
		})
	}
}

func assistantRecord(text string) map[string]any {
	return map[string]any{
		"type":       "assistant",
		"session_id": testSessionID,
		"message": map[string]any{
			"model":   "claude-test",
			"content": []any{map[string]any{"type": "text", "text": text}},
		},
	}
}

func resultRecord(text string) map[string]any {
	return map[string]any{
		"type":            "result",
		"subtype":         "success",
		"is_error":        false,
		"duration_ms":     1,
		"duration_api_ms": 1,
		"num_turns":       1,
		"session_id":      testSessionID,
		"result":          text,
	}
}

func turnText(msg map[string]any) string {
	inner, _ := msg["message"].(map[string]any)
	text, _ := inner["content"].(string)
	return text
}

func (f *fakeCLI) records() []map[string]any {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]map[string]any(nil), f.recs...)
}

func (f *fakeCLI) recordsOfType(typ string) []map[string]any {
	var out []map[string]any
	for _, r := range f.records() {
		if r["type"] == typ {
			out = append(out, r)
		}
	}
	return out
}

// controlRequest returns the first engine control request with subtype.
func (f *fakeCLI) controlRequest(subtype ControlSubtype) map[string]any {
	for _, r := range f.recordsOfType(typeControlRequest) {
		if req, _ := r["request"].(map[string]any); req["subtype"] == string(subtype) {
			return r
		}
	}
	return nil
}

// awaitResponse waits for the engine's answer to a CLI control request.
func (f *fakeCLI) awaitResponse(requestID string) map[string]any {
	f.t.Helper()
	var found map[string]any
	require.Eventually(f.t, func() bool {
		for _, r := range f.recordsOfType(typeControlResponse) {
			if resp, _ := r["response"].(map[string]any); resp["request_id"] == requestID {
				found = resp
				return true
			}
		}
		return false
	}, 2*time.Second, 5*time.Millisecond, "no control response for %s", requestID)
	return found
}

func (f *fakeCLI) setHandler(h func(f *fakeCLI, msg map[string]any)) {
	f.mu.Lock()
	f.handle = h
	f.mu.Unlock()
}

func testLogger() *slog.Logger { return slog.New(slog.DiscardHandler) }

// startQuery starts a query against cli with short test timeouts. Options
// passed in override the defaults.
func startQuery(t *testing.T, cli *fakeCLI, prompt string, opts ...Option) *Query {
	t.Helper()
	base := []Option{
		WithSpawner(cli),
		WithCLIPath("/usr/local/bin/claude"),
		WithStderr(io.Discard),
		WithLogger(testLogger()),
		WithInitializeTimeout(2 * time.Second),
		WithControlTimeout(time.Second),
		WithCloseGracePeriod(200 * time.Millisecond),
	}
	q, err := Start(context.Background(), prompt, append(base, opts...)...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = q.Close() })
	return q
}

// nextMessage reads one message with a deadline.
func nextMessage(t *testing.T, q *Query) Message {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	msg, err := q.Next(ctx)
	require.NoError(t, err)
	return msg
}

// readUntilResult collects messages up to and including the next result.
func readUntilResult(t *testing.T, q *Query) []Message {
	t.Helper()
	var msgs []Message
	for {
		msg := nextMessage(t, q)
		msgs = append(msgs, msg)
		if _, ok := msg.(*ResultMessage); ok {
			return msgs
		}
	}
}

// errorSink collects errors passed to OnError.
type errorSink struct {
	mu   sync.Mutex
	errs []error
}

func (s *errorSink) add(err error) {
	s.mu.Lock()
	s.errs = append(s.errs, err)
	s.mu.Unlock()
}

func (s *errorSink) all() []error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]error(nil), s.errs...)
}

func assertNoMore(t *testing.T, f *fakeCLI, typ string, want int, wait time.Duration) {
	t.Helper()
	time.Sleep(wait)
	assert.Len(t, f.recordsOfType(typ), want)
}
