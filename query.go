package claude

import (
	"context"
	"errors"
	"fmt"
	"io"
	"iter"
	"log/slog"
	"maps"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// State is the lifecycle state of a Query.
type State int32

const (
	// StateInitializing lasts until the CLI's system/init message arrives.
	StateInitializing State = iota
	// StateActive means a turn is in progress.
	StateActive
	// StateAwaitingInput means the last turn ended and the session waits for Push.
	StateAwaitingInput
	// StateClosed is terminal.
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateInitializing:
		return "initializing"
	case StateActive:
		return "active"
	case StateAwaitingInput:
		return "awaiting_input"
	case StateClosed:
		return "closed"
	default:
		return fmt.Sprintf("State(%d)", int32(s))
	}
}

// Query is one conversation with a Claude Code CLI process. Messages are
// consumed by a single reader through Next or Messages; the control methods
// may be called from any goroutine.
type Query struct {
	opts   *Options
	logger *slog.Logger

	proc    Process
	pump    *messagePump
	input   *inputChannel
	control *controlCorrelator
	hooks   *hookDispatcher
	perms   *permissionBridge
	mcp     map[string]*McpServer

	// ctx scopes inbound control handlers; cancelled by Close.
	ctx    context.Context
	cancel context.CancelFunc

	out    *messageQueue
	iterMu sync.Mutex
	state  atomic.Int32

	mu             sync.Mutex
	sessionID      string
	serverInfo     map[string]any
	lastWasResult  bool
	inTurn         bool
	interrupting   bool
	interruptTimer *time.Timer
	// owedResults counts interrupted turns ended by a synthesized result
	// whose real result the CLI has yet to send.
	owedResults    int
	closeRequested bool
	inputClosed    bool
	ended          bool
	err            error

	routerDone chan struct{}
	stderrDone chan struct{}
	exitDone   chan struct{}
	exitStatus ExitStatus
	exitErr    error

	closeOnce sync.Once
	closeErr  error
}

// Start launches the CLI, performs the initialize handshake and queues
// prompt as the first turn. An empty prompt starts a session that waits for
// Push.
func Start(ctx context.Context, prompt string, opts ...Option) (*Query, error) {
	options, err := applyOptions(opts)
	if err != nil {
		return nil, err
	}

	q := newQuery(options)
	cfg := processConfig(options)
	proc, err := options.Spawner.Spawn(ctx, cfg)
	if err != nil {
		var spawnErr *SpawnError
		if !errors.As(err, &spawnErr) {
			err = &SpawnError{SDKError: SDKError{Message: "failed to start Claude Code", Cause: err}, Path: cfg.Path}
		}
		return nil, err
	}
	q.logger.Debug("CLI started", "path", cfg.Path, "args", len(cfg.Args))
	q.attach(proc)

	if err := q.initialize(ctx); err != nil {
		_ = q.Close()
		return nil, err
	}
	if prompt != "" {
		if err := q.PushText(prompt); err != nil {
			_ = q.Close()
			return nil, err
		}
	}
	return q, nil
}

func newQuery(opts *Options) *Query {
	ctx, cancel := context.WithCancel(context.Background())
	q := &Query{
		opts:       opts,
		logger:     opts.Logger,
		input:      newInputChannel(),
		out:        newMessageQueue(),
		mcp:        make(map[string]*McpServer),
		ctx:        ctx,
		cancel:     cancel,
		routerDone: make(chan struct{}),
		stderrDone: make(chan struct{}),
		exitDone:   make(chan struct{}),
	}
	q.hooks = newHookDispatcher(opts.Hooks, opts.Logger, q.reportError)
	q.perms = newPermissionBridge(opts.CanUseTool, opts.PermissionMode, opts.Logger, q.reportError)
	for name, cfg := range opts.McpServers {
		if sdk, ok := cfg.(*McpSdkServerConfig); ok && sdk.Instance != nil {
			q.mcp[name] = sdk.Instance
		}
	}
	return q
}

// attach wires the process streams to the pump and starts the background
// goroutines.
func (q *Query) attach(proc Process) {
	q.proc = proc
	q.pump = newMessagePump(proc.Stdin(), proc.Stdout(), pumpConfig{
		maxLineSize: q.opts.MaxBufferSize,
		logger:      q.logger,
		malformed:   func(err *MalformedMessageError) { q.notify(err) },
		input:       q.input,
		encodeTurn:  q.encodeTurn,
		turnWritten: q.turnWritten,
	})
	q.control = newControlCorrelator(q.pump, q.handleControlRequest, q.logger)

	go func() {
		defer close(q.exitDone)
		q.exitStatus, q.exitErr = proc.Wait()
		q.logger.Debug("CLI exited", "status", q.exitStatus.String())
	}()
	go func() {
		defer close(q.stderrDone)
		if stderr := proc.Stderr(); stderr != nil {
			_, _ = io.Copy(q.opts.Stderr, stderr)
		}
	}()

	q.pump.start()
	go q.route()
}

func (q *Query) initialize(ctx context.Context) error {
	request := map[string]any{"hooks": q.hooks.registration()}
	if len(q.opts.Agents) > 0 {
		agents := make(map[string]any, len(q.opts.Agents))
		for name, def := range q.opts.Agents {
			agents[name] = def.toWire()
		}
		request["agents"] = agents
	}

	resp, err := q.control.call(ctx, ControlInitialize, request, q.opts.InitializeTimeout)
	if err != nil {
		return err
	}
	q.mu.Lock()
	q.serverInfo = resp
	q.mu.Unlock()
	q.input.release()
	return nil
}

// route dispatches every record read from stdout.
func (q *Query) route() {
	defer close(q.routerDone)
	for raw := range q.pump.messages() {
		switch raw["type"] {
		case typeControlResponse:
			q.control.resolve(raw)
		case typeControlRequest:
			q.control.handleInbound(q.ctx, raw)
		case typeControlCancelRequest:
			q.control.cancelInbound(raw)
		default:
			q.deliver(raw)
		}
	}
	q.finish()
}

func (q *Query) deliver(raw map[string]any) {
	isResult := raw["type"] == "result"
	late := isResult && q.payOwedResult()
	msg, err := parseMessage(raw)
	if err != nil {
		q.notify(err)
		if isResult && !late {
			// The turn is over even though its result was unreadable.
			q.endTurn(nil)
			q.input.release()
		}
		return
	}
	if msg == nil {
		q.logger.Debug("skipping unknown message type", "type", raw["type"])
		return
	}

	if sm, ok := msg.(*SystemMessage); ok && sm.IsInit() {
		q.captureSession(sm.SessionID)
	} else {
		q.checkSession(msg)
	}

	if rm, ok := msg.(*ResultMessage); ok {
		if late {
			// Belongs to the turn already ended locally; the current turn
			// is still running.
			rm.Interrupted = true
			q.out.push(rm)
			return
		}
		q.endTurn(rm)
		q.out.push(msg)
		q.input.release()
		return
	}
	q.mu.Lock()
	q.lastWasResult = false
	q.mu.Unlock()
	q.out.push(msg)
}

// payOwedResult reports whether the next result settles an interrupted turn
// that already ended with a synthesized result.
func (q *Query) payOwedResult() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.owedResults == 0 {
		return false
	}
	q.owedResults--
	return true
}

// captureSession records the first system/init session id. The id is never
// reassigned; a different one is reported as an anomaly.
func (q *Query) captureSession(id string) {
	q.mu.Lock()
	current := q.sessionID
	if current == "" && id != "" {
		q.sessionID = id
	}
	q.mu.Unlock()

	if current == "" {
		q.state.CompareAndSwap(int32(StateInitializing), int32(StateActive))
		q.logger.Debug("session started", "session_id", id)
		return
	}
	if id != current {
		q.mismatch(id, current)
	}
}

func (q *Query) checkSession(msg Message) {
	id := msg.session()
	if id == "" {
		return
	}
	q.mu.Lock()
	current := q.sessionID
	q.mu.Unlock()
	if current != "" && id != current {
		q.mismatch(id, current)
	}
}

func (q *Query) mismatch(got, want string) {
	q.notify(&SDKError{Message: fmt.Sprintf("session id changed mid-session: got %s, want %s", got, want)})
}

// endTurn books a result. rm is nil when the result could not be parsed.
func (q *Query) endTurn(rm *ResultMessage) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.inTurn = false
	q.lastWasResult = rm != nil
	if q.interrupting {
		q.interrupting = false
		if q.interruptTimer != nil {
			q.interruptTimer.Stop()
		}
		if rm != nil {
			rm.Interrupted = true
		}
	}
	q.state.CompareAndSwap(int32(StateActive), int32(StateAwaitingInput))
}

// turnWritten runs on the pump's writer after a user turn reached stdin.
func (q *Query) turnWritten() {
	q.mu.Lock()
	q.inTurn = true
	q.mu.Unlock()
	q.state.CompareAndSwap(int32(StateAwaitingInput), int32(StateActive))
}

func (q *Query) encodeTurn(turn UserTurn) map[string]any {
	var parent any
	if turn.ParentToolUseID != "" {
		parent = turn.ParentToolUseID
	}
	return map[string]any{
		"type":               "user",
		"message":            map[string]any{"role": "user", "content": turn.Content},
		"parent_tool_use_id": parent,
		"session_id":         q.SessionID(),
		"uuid":               uuid.NewString(),
	}
}

// finish runs once stdout has ended. If the CLI went away on its own, the
// sequence is terminated with a result so callers always see one last.
func (q *Query) finish() {
	q.mu.Lock()
	requested := q.closeRequested
	q.mu.Unlock()

	if !requested {
		select {
		case <-q.exitDone:
		case <-time.After(q.opts.CloseGracePeriod):
			q.logger.Warn("CLI stdout closed but process still running")
		}
	}

	q.mu.Lock()
	q.ended = true
	if q.interruptTimer != nil {
		q.interruptTimer.Stop()
	}
	status, waitErr := q.exitInfo()
	synth := !q.closeRequested && !q.lastWasResult
	unexpected := !q.closeRequested && (synth || !q.inputClosed || !status.Success())
	if unexpected && q.err == nil {
		q.err = newProcessExitedError(status, waitErr)
	}
	var result *ResultMessage
	if synth {
		result = &ResultMessage{
			Subtype:   ResultSubtypeErrorDuringExecution,
			IsError:   true,
			SessionID: q.sessionID,
			Result:    fmt.Sprintf("CLI process exited before producing a result (%s)", status),
			Synthetic: true,
		}
		q.lastWasResult = true
	}
	err := q.err
	q.mu.Unlock()

	if err != nil {
		q.logger.Warn("CLI session ended unexpectedly", "status", status.String(), "session_id", q.SessionID())
		q.control.failAll(err)
	} else {
		q.control.failAll(newClosedError("control"))
	}
	if result != nil {
		q.out.push(result)
	}
	q.out.close()
}

func (q *Query) exitInfo() (ExitStatus, error) {
	select {
	case <-q.exitDone:
		return q.exitStatus, q.exitErr
	default:
		return ExitStatus{Code: -1}, nil
	}
}

// handleControlRequest answers control requests initiated by the CLI.
func (q *Query) handleControlRequest(ctx context.Context, subtype ControlSubtype, request map[string]any) (map[string]any, error) {
	switch subtype {
	case ControlCanUseTool:
		return q.perms.handleCanUseTool(ctx, request)
	case ControlHookCallback:
		return q.hooks.handleCallback(ctx, request)
	case ControlMcpMessage:
		return q.handleMcpMessage(ctx, request)
	default:
		return nil, fmt.Errorf("unsupported control request subtype: %s", subtype)
	}
}

func (q *Query) handleMcpMessage(ctx context.Context, request map[string]any) (map[string]any, error) {
	serverName, _ := request["server_name"].(string)
	message, _ := request["message"].(map[string]any)
	if serverName == "" || message == nil {
		return nil, errors.New("missing server_name or message for MCP request")
	}

	server, ok := q.mcp[serverName]
	if !ok {
		return map[string]any{"mcp_response": mcpError(message["id"], mcpMethodNotFound, fmt.Sprintf("Server '%s' not found", serverName))}, nil
	}
	return map[string]any{"mcp_response": server.HandleRequest(ctx, message)}, nil
}

// Next returns the next message. It returns io.EOF once the sequence has
// ended and a *ClosedError after Close. Only one goroutine may call Next at a
// time; a concurrent call fails with ErrConcurrentIteration.
func (q *Query) Next(ctx context.Context) (Message, error) {
	if !q.iterMu.TryLock() {
		return nil, ErrConcurrentIteration
	}
	defer q.iterMu.Unlock()

	if q.State() == StateClosed {
		return nil, newClosedError("next")
	}
	msg, ok, err := q.out.pop(ctx)
	if err != nil {
		return nil, err
	}
	if !ok {
		if q.State() == StateClosed {
			return nil, newClosedError("next")
		}
		return nil, io.EOF
	}
	return msg, nil
}

// Messages ranges over the remaining messages. Iteration stops after the
// first error; io.EOF is not yielded.
func (q *Query) Messages(ctx context.Context) iter.Seq2[Message, error] {
	return func(yield func(Message, error) bool) {
		for {
			msg, err := q.Next(ctx)
			if errors.Is(err, io.EOF) {
				return
			}
			if !yield(msg, err) || err != nil {
				return
			}
		}
	}
}

// Push queues a turn. Turns are written in push order, each once the
// previous turn's result has arrived.
func (q *Query) Push(turn UserTurn) error {
	if q.State() == StateClosed {
		return newClosedError("push")
	}
	q.mu.Lock()
	ended, err := q.ended, q.err
	q.mu.Unlock()
	if ended {
		if err != nil {
			return err
		}
		return newClosedError("push")
	}
	if turn.Content == nil {
		return errors.New("claude: user turn has no content")
	}
	return q.input.push(turn)
}

// PushText queues a plain text turn.
func (q *Query) PushText(text string) error {
	return q.Push(UserTurn{Content: text})
}

// CloseInput declares that no more turns will be pushed. The CLI's stdin is
// closed after the last queued turn has finished.
func (q *Query) CloseInput() {
	q.mu.Lock()
	q.inputClosed = true
	q.mu.Unlock()
	q.input.close()
}

// Interrupt asks the CLI to stop the current turn. Once acknowledged, the
// turn ends with a result whose Outcome is OutcomeInterrupted; if the CLI
// sends none within the control timeout, one is synthesized.
func (q *Query) Interrupt(ctx context.Context) error {
	if q.State() == StateClosed {
		return newClosedError("interrupt")
	}
	// Armed before the request so a result racing the ack is still marked.
	q.mu.Lock()
	armed := q.inTurn && !q.ended && !q.interrupting
	if armed {
		q.interrupting = true
	}
	q.mu.Unlock()

	_, err := q.control.call(ctx, ControlInterrupt, nil, q.opts.ControlTimeout)

	q.mu.Lock()
	defer q.mu.Unlock()
	if !armed || !q.interrupting {
		return err
	}
	if err != nil {
		q.interrupting = false
		return err
	}
	q.interruptTimer = time.AfterFunc(q.opts.ControlTimeout, q.synthesizeInterrupted)
	return nil
}

func (q *Query) synthesizeInterrupted() {
	q.mu.Lock()
	if !q.interrupting || q.ended || q.closeRequested {
		q.mu.Unlock()
		return
	}
	q.interrupting = false
	q.interruptTimer = nil
	q.inTurn = false
	q.owedResults++
	q.lastWasResult = true
	result := &ResultMessage{
		Subtype:     ResultSubtypeErrorDuringExecution,
		IsError:     true,
		SessionID:   q.sessionID,
		Result:      "interrupted; no result received from CLI",
		Interrupted: true,
		Synthetic:   true,
	}
	q.mu.Unlock()

	q.logger.Warn("no result after interrupt; synthesizing one", "session_id", result.SessionID)
	q.state.CompareAndSwap(int32(StateActive), int32(StateAwaitingInput))
	q.out.push(result)
	q.input.release()
}

// SetPermissionMode changes the permission mode for the rest of the session.
func (q *Query) SetPermissionMode(ctx context.Context, mode PermissionMode) error {
	if q.State() == StateClosed {
		return newClosedError("set_permission_mode")
	}
	if _, err := q.control.call(ctx, ControlSetPermissionMode, map[string]any{"mode": string(mode)}, q.opts.ControlTimeout); err != nil {
		return err
	}
	q.perms.setMode(mode)
	return nil
}

// SetModel switches the model. An empty model restores the CLI default.
func (q *Query) SetModel(ctx context.Context, model string) error {
	if q.State() == StateClosed {
		return newClosedError("set_model")
	}
	var value any
	if model != "" {
		value = model
	}
	_, err := q.control.call(ctx, ControlSetModel, map[string]any{"model": value}, q.opts.ControlTimeout)
	return err
}

// MCPStatus reports the CLI's MCP server connection status.
func (q *Query) MCPStatus(ctx context.Context) (map[string]any, error) {
	if q.State() == StateClosed {
		return nil, newClosedError("mcp_status")
	}
	return q.control.call(ctx, ControlMcpStatus, nil, q.opts.ControlTimeout)
}

// Fork is not supported.
func (q *Query) Fork(ctx context.Context) (*Query, error) {
	return nil, newUnsupportedError("fork")
}

// ResumeAt is not supported.
func (q *Query) ResumeAt(ctx context.Context, messageUUID string) error {
	return newUnsupportedError("resume at " + messageUUID)
}

// SessionID returns the id captured from system/init, or "" before it.
func (q *Query) SessionID() string {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.sessionID
}

// State returns the current lifecycle state.
func (q *Query) State() State { return State(q.state.Load()) }

// ServerInfo returns the initialize response payload.
func (q *Query) ServerInfo() map[string]any {
	q.mu.Lock()
	defer q.mu.Unlock()
	return maps.Clone(q.serverInfo)
}

// Err reports why the session ended, if it ended abnormally.
func (q *Query) Err() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.err
}

// Close ends the session: it closes the input, stops the pump, asks the CLI
// to terminate and kills it after CloseGracePeriod. Close is idempotent.
func (q *Query) Close() error {
	q.closeOnce.Do(func() {
		q.mu.Lock()
		q.closeRequested = true
		if q.interruptTimer != nil {
			q.interruptTimer.Stop()
		}
		q.mu.Unlock()
		q.state.Store(int32(StateClosed))

		q.input.close()
		q.cancel()
		if q.control != nil {
			q.control.failAll(newClosedError("control"))
		}
		if q.proc == nil {
			q.out.close()
			return
		}
		q.pump.close()
		q.closeErr = q.terminate()
		<-q.routerDone
		q.drainStderr()
		q.out.close()
		q.logger.Debug("query closed", "session_id", q.SessionID())
	})
	return q.closeErr
}

func (q *Query) terminate() error {
	select {
	case <-q.exitDone:
		return nil
	default:
	}
	if err := q.proc.Signal(terminateSignal); err != nil {
		q.logger.Debug("terminate signal failed", "err", err)
	}

	grace := time.NewTimer(q.opts.CloseGracePeriod)
	defer grace.Stop()
	select {
	case <-q.exitDone:
		return nil
	case <-grace.C:
	}

	q.logger.Warn("CLI ignored termination request; killing", "grace", q.opts.CloseGracePeriod)
	if err := q.proc.Kill(); err != nil {
		return fmt.Errorf("kill CLI process: %w", err)
	}
	grace.Reset(q.opts.CloseGracePeriod)
	select {
	case <-q.exitDone:
		return nil
	case <-grace.C:
		return errors.New("claude: CLI process did not exit after kill")
	}
}

func (q *Query) drainStderr() {
	timer := time.NewTimer(q.opts.CloseGracePeriod)
	defer timer.Stop()
	select {
	case <-q.stderrDone:
		return
	case <-timer.C:
	}
	if c, ok := q.proc.Stderr().(io.Closer); ok {
		_ = c.Close()
	}
}

func (q *Query) reportError(err error) {
	if q.opts.OnError != nil {
		q.opts.OnError(err)
	}
}

// notify logs a recoverable anomaly and forwards it to OnError.
func (q *Query) notify(err error) {
	var malformed *MalformedMessageError
	if !errors.As(err, &malformed) {
		q.logger.Warn("protocol anomaly", "err", err)
	}
	q.reportError(err)
}

// messageQueue is the unbounded buffer between the router and the consumer,
// so a slow consumer never stalls stdout.
type messageQueue struct {
	mu     sync.Mutex
	items  []Message
	closed bool
	signal chan struct{}
}

func newMessageQueue() *messageQueue {
	return &messageQueue{signal: make(chan struct{}, 1)}
}

func (m *messageQueue) push(msg Message) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return
	}
	m.items = append(m.items, msg)
	m.wake()
}

func (m *messageQueue) close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	m.wake()
}

func (m *messageQueue) wake() {
	select {
	case m.signal <- struct{}{}:
	default:
	}
}

// pop blocks for the next message. ok is false once the queue is closed and
// drained.
func (m *messageQueue) pop(ctx context.Context) (Message, bool, error) {
	for {
		m.mu.Lock()
		if len(m.items) > 0 {
			msg := m.items[0]
			m.items[0] = nil
			m.items = m.items[1:]
			m.mu.Unlock()
			return msg, true, nil
		}
		if m.closed {
			m.mu.Unlock()
			return nil, false, nil
		}
		m.mu.Unlock()

		select {
		case <-m.signal:
		case <-ctx.Done():
			return nil, false, ctx.Err()
		}
	}
}
