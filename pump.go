package claude

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
)

const defaultMaxBufferSize = 1024 * 1024 // 1MB per line

var (
	errPumpClosed  = errors.New("message pump closed")
	errStdinClosed = errors.New("CLI stdin already closed")
	errLineTooLong = errors.New("line exceeds maximum buffer size")
)

type writeRequest struct {
	data []byte
	done chan error
}

type pumpConfig struct {
	maxLineSize int
	logger      *slog.Logger
	// malformed receives every line that could not be decoded.
	malformed func(*MalformedMessageError)
	input     *inputChannel
	// encodeTurn converts a caller turn to its wire record at write time.
	encodeTurn func(UserTurn) map[string]any
	// turnWritten runs on the writer goroutine after a turn reached stdin.
	turnWritten func()
}

// messagePump frames the CLI's stdout into JSON records and owns every write
// to its stdin. A single writer goroutine performs all writes, so records
// never interleave; protocol writes take a priority lane ahead of queued
// caller turns.
type messagePump struct {
	stdin  io.WriteCloser
	stdout io.Reader
	cfg    pumpConfig

	incoming chan map[string]any
	priority chan writeRequest

	closing    chan struct{}
	closeOnce  sync.Once
	readerDone chan struct{}
	writerDone chan struct{}

	stdinOnce   sync.Once
	stdinClosed atomic.Bool
	writeErr    error // owned by the writer goroutine
}

func newMessagePump(stdin io.WriteCloser, stdout io.Reader, cfg pumpConfig) *messagePump {
	if cfg.maxLineSize <= 0 {
		cfg.maxLineSize = defaultMaxBufferSize
	}
	if cfg.logger == nil {
		cfg.logger = slog.Default()
	}
	return &messagePump{
		stdin:      stdin,
		stdout:     stdout,
		cfg:        cfg,
		incoming:   make(chan map[string]any, 100),
		priority:   make(chan writeRequest, 16),
		closing:    make(chan struct{}),
		readerDone: make(chan struct{}),
		writerDone: make(chan struct{}),
	}
}

func (p *messagePump) start() {
	go p.readLoop()
	go p.writeLoop()
}

// messages yields decoded records in stdout order. It is closed when stdout
// ends or the pump is closed.
func (p *messagePump) messages() <-chan map[string]any { return p.incoming }

// writeControl serialises v ahead of any queued caller turns and waits until
// it has been written.
func (p *messagePump) writeControl(ctx context.Context, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal control message: %w", err)
	}
	req := writeRequest{data: data, done: make(chan error, 1)}

	select {
	case p.priority <- req:
	case <-p.closing:
		return errPumpClosed
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case err := <-req.done:
		return err
	case <-p.writerDone:
		return errPumpClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// close stops both loops and releases the streams. Closing stdin first
// unblocks a writer stuck on a full pipe. Safe to call repeatedly.
func (p *messagePump) close() {
	p.closeOnce.Do(func() {
		close(p.closing)
		p.closeStdin()
		<-p.writerDone
		if c, ok := p.stdout.(io.Closer); ok {
			_ = c.Close()
		}
	})
}

func (p *messagePump) closeStdin() {
	p.stdinOnce.Do(func() {
		p.stdinClosed.Store(true)
		_ = p.stdin.Close()
	})
}

func (p *messagePump) readLoop() {
	defer close(p.readerDone)
	defer close(p.incoming)

	r := bufio.NewReaderSize(p.stdout, 64*1024)
	for {
		line, truncated, err := readLine(r, p.cfg.maxLineSize)
		if truncated {
			p.reportMalformed(line, errLineTooLong)
		} else if !p.handleLine(line) {
			return
		}
		if err != nil {
			if !errors.Is(err, io.EOF) && !p.isClosing() {
				p.cfg.logger.Debug("stdout read ended", "err", err)
			}
			return
		}
	}
}

// handleLine decodes one record and forwards it. It returns false once the
// pump is closing.
func (p *messagePump) handleLine(line []byte) bool {
	line = bytes.TrimSpace(line)
	if len(line) == 0 {
		return true
	}

	var msg map[string]any
	if err := json.Unmarshal(line, &msg); err != nil {
		p.reportMalformed(line, err)
		return true
	}
	if _, ok := msg["type"].(string); !ok {
		p.reportMalformed(line, errors.New("record has no type discriminator"))
		return true
	}

	select {
	case p.incoming <- msg:
		return true
	case <-p.closing:
		return false
	}
}

func (p *messagePump) reportMalformed(line []byte, cause error) {
	const maxShown = 512
	shown := string(line)
	if len(shown) > maxShown {
		shown = shown[:maxShown]
	}
	err := &MalformedMessageError{
		SDKError: SDKError{Message: "malformed line from CLI", Cause: cause},
		Line:     shown,
	}
	p.cfg.logger.Warn("skipping malformed line from CLI", "line", shown, "err", cause)
	if p.cfg.malformed != nil {
		p.cfg.malformed(err)
	}
}

func (p *messagePump) writeLoop() {
	defer close(p.writerDone)

	var inputReady <-chan struct{}
	if p.cfg.input != nil {
		inputReady = p.cfg.input.ready()
	}

	for {
		// Protocol writes always go first.
		select {
		case req := <-p.priority:
			req.done <- p.writeRecord(req.data)
			continue
		default:
		}

		select {
		case req := <-p.priority:
			req.done <- p.writeRecord(req.data)
		case <-inputReady:
			turn, ok, eof := p.cfg.input.next()
			if eof {
				p.endInput()
				inputReady = nil
				continue
			}
			if !ok {
				continue
			}
			p.writeTurn(turn)
		case <-p.closing:
			return
		}
	}
}

func (p *messagePump) writeTurn(turn UserTurn) {
	data, err := json.Marshal(p.cfg.encodeTurn(turn))
	if err != nil {
		p.cfg.logger.Error("dropping unencodable user turn", "err", err)
		return
	}
	if err := p.writeRecord(data); err != nil {
		p.cfg.logger.Warn("failed to write user turn", "err", err)
		return
	}
	if p.cfg.turnWritten != nil {
		p.cfg.turnWritten()
	}
}

// writeRecord writes one newline-terminated record with a single Write call.
// Only the writer goroutine calls it.
func (p *messagePump) writeRecord(data []byte) error {
	if p.stdinClosed.Load() {
		return errStdinClosed
	}
	if p.writeErr != nil {
		return p.writeErr
	}
	buf := make([]byte, 0, len(data)+1)
	buf = append(buf, data...)
	buf = append(buf, '\n')
	if _, err := p.stdin.Write(buf); err != nil {
		p.writeErr = fmt.Errorf("failed to write to CLI stdin: %w", err)
		return p.writeErr
	}
	return nil
}

// endInput closes stdin once the caller has closed the input channel and the
// last turn has completed.
func (p *messagePump) endInput() {
	if p.stdinClosed.Load() {
		return
	}
	p.cfg.logger.Debug("input closed; ending CLI stdin")
	p.closeStdin()
}

func (p *messagePump) isClosing() bool {
	select {
	case <-p.closing:
		return true
	default:
		return false
	}
}

// readLine returns the next record without its terminator. Records longer
// than max are consumed entirely; the returned prefix is flagged truncated.
func readLine(r *bufio.Reader, max int) (line []byte, truncated bool, err error) {
	for {
		chunk, err := r.ReadSlice('\n')
		if !truncated {
			if len(line)+len(chunk) > max {
				truncated = true
				line = append(line, chunk[:max-len(line)]...)
			} else {
				line = append(line, chunk...)
			}
		}
		if errors.Is(err, bufio.ErrBufferFull) {
			continue
		}
		return bytes.TrimRight(line, "\r\n"), truncated, err
	}
}
