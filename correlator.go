package claude

import (
	"context"
	"encoding/hex"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

type controlWriter interface {
	writeControl(ctx context.Context, v any) error
}

// inboundHandler computes the payload for a control request sent by the CLI.
type inboundHandler func(ctx context.Context, subtype ControlSubtype, request map[string]any) (map[string]any, error)

type controlOutcome struct {
	response map[string]any
	err      error
}

// controlCorrelator owns the pending-call table. Outbound calls wait on a
// one-slot channel that is removed from the table before it is resolved, so
// a request id can be resolved at most once.
type controlCorrelator struct {
	w      controlWriter
	handle inboundHandler
	logger *slog.Logger

	counter atomic.Int64

	mu       sync.Mutex
	pending  map[string]chan controlOutcome
	inflight map[string]context.CancelFunc
	closeErr error
}

func newControlCorrelator(w controlWriter, handle inboundHandler, logger *slog.Logger) *controlCorrelator {
	if logger == nil {
		logger = slog.Default()
	}
	return &controlCorrelator{
		w:        w,
		handle:   handle,
		logger:   logger,
		pending:  make(map[string]chan controlOutcome),
		inflight: make(map[string]context.CancelFunc),
	}
}

func (c *controlCorrelator) nextRequestID() string {
	n := c.counter.Add(1)
	token := uuid.New()
	return fmt.Sprintf("req_%d_%s", n, hex.EncodeToString(token[:4]))
}

// call sends a control request and waits for its response payload.
func (c *controlCorrelator) call(ctx context.Context, subtype ControlSubtype, payload map[string]any, timeout time.Duration) (map[string]any, error) {
	request := make(map[string]any, len(payload)+1)
	for k, v := range payload {
		request[k] = v
	}
	request["subtype"] = string(subtype)

	ch := make(chan controlOutcome, 1)
	c.mu.Lock()
	if c.closeErr != nil {
		err := c.closeErr
		c.mu.Unlock()
		return nil, err
	}
	requestID := c.nextRequestID()
	c.pending[requestID] = ch
	c.mu.Unlock()
	defer c.forget(requestID)

	msg := ControlRequest{Type: typeControlRequest, RequestID: requestID, Request: request}
	if err := c.w.writeControl(ctx, msg); err != nil {
		return nil, &ControlError{
			SDKError:  SDKError{Message: "failed to send control request " + string(subtype), Cause: err},
			Subtype:   string(subtype),
			RequestID: requestID,
		}
	}
	c.logger.Debug("control request sent", "request_id", requestID, "subtype", subtype)

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case out := <-ch:
		if ce, ok := out.err.(*ControlError); ok {
			ce.Subtype = string(subtype)
		}
		return out.response, out.err
	case <-timer.C:
		return nil, &ControlTimeoutError{
			SDKError:  SDKError{Message: fmt.Sprintf("control request timeout: %s after %s", subtype, timeout)},
			Subtype:   string(subtype),
			RequestID: requestID,
		}
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (c *controlCorrelator) forget(requestID string) {
	c.mu.Lock()
	delete(c.pending, requestID)
	c.mu.Unlock()
}

// resolve delivers a control_response record to its pending call. It reports
// false for responses that match nothing, which are logged and dropped.
func (c *controlCorrelator) resolve(msg map[string]any) bool {
	response, _ := msg["response"].(map[string]any)
	requestID, _ := response["request_id"].(string)

	c.mu.Lock()
	ch, ok := c.pending[requestID]
	if ok {
		delete(c.pending, requestID)
	}
	c.mu.Unlock()

	if !ok {
		c.logger.Warn("control response with no pending request", "request_id", requestID)
		return false
	}

	if subtype, _ := response["subtype"].(string); subtype == "error" {
		errMsg, _ := response["error"].(string)
		ch <- controlOutcome{err: &ControlError{
			SDKError:  SDKError{Message: "control request failed: " + errMsg},
			RequestID: requestID,
		}}
		return true
	}

	payload, _ := response["response"].(map[string]any)
	if payload == nil {
		payload = map[string]any{}
	}
	ch <- controlOutcome{response: payload}
	return true
}

// failAll rejects every pending call and refuses new ones.
func (c *controlCorrelator) failAll(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closeErr == nil {
		c.closeErr = err
	}
	for id, ch := range c.pending {
		delete(c.pending, id)
		ch <- controlOutcome{err: err}
	}
}

// handleInbound answers a control request sent by the CLI. The handler runs
// on its own goroutine so a slow callback never stalls the read loop, and
// exactly one response is written per request id.
func (c *controlCorrelator) handleInbound(ctx context.Context, msg map[string]any) {
	requestID, _ := msg["request_id"].(string)
	if requestID == "" {
		c.logger.Warn("control request without request_id")
		return
	}
	request, _ := msg["request"].(map[string]any)
	subtype, _ := request["subtype"].(string)

	hctx, cancel := context.WithCancel(ctx)
	c.mu.Lock()
	if _, dup := c.inflight[requestID]; dup {
		c.mu.Unlock()
		cancel()
		c.logger.Warn("duplicate control request ignored", "request_id", requestID, "subtype", subtype)
		return
	}
	c.inflight[requestID] = cancel
	c.mu.Unlock()

	go func() {
		defer func() {
			c.mu.Lock()
			delete(c.inflight, requestID)
			c.mu.Unlock()
			cancel()
		}()

		payload, err := c.runHandler(hctx, ControlSubtype(subtype), request)
		if err == nil && hctx.Err() != nil && ctx.Err() == nil {
			err = fmt.Errorf("control request %s cancelled", requestID)
		}
		resp := newControlResponse(requestID, payload, err)
		if werr := c.w.writeControl(context.Background(), resp); werr != nil {
			c.logger.Warn("failed to write control response", "request_id", requestID, "subtype", subtype, "err", werr)
		}
	}()
}

func (c *controlCorrelator) runHandler(ctx context.Context, subtype ControlSubtype, request map[string]any) (payload map[string]any, err error) {
	if request == nil {
		return nil, fmt.Errorf("control request has no body")
	}
	defer func() {
		if r := recover(); r != nil {
			payload, err = nil, fmt.Errorf("control handler for %s panicked: %v", subtype, r)
		}
	}()
	return c.handle(ctx, subtype, request)
}

// cancelInbound cancels the context of a still-running inbound handler.
func (c *controlCorrelator) cancelInbound(msg map[string]any) {
	requestID, _ := msg["request_id"].(string)
	c.mu.Lock()
	cancel, ok := c.inflight[requestID]
	c.mu.Unlock()
	if ok {
		c.logger.Debug("control request cancelled by CLI", "request_id", requestID)
		cancel()
	}
}

func (c *controlCorrelator) pendingCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}
