package claude

import "sync"

// UserTurn is one conversation turn pushed by the caller after the query
// has started.
type UserTurn struct {
	// Content is either a string or a slice of content block maps
	// (for example {"type": "text", "text": "..."}).
	Content         any
	ParentToolUseID string
}

// inputChannel is the unbounded queue of caller turns. It is written by the
// caller and drained only by the pump's writer loop, which takes one turn at
// a time: after a turn is taken the channel stays shut until release is
// called for that turn's result.
type inputChannel struct {
	mu      sync.Mutex
	items   []UserTurn
	closed  bool
	open    bool
	eofSent bool
	signal  chan struct{}
}

func newInputChannel() *inputChannel {
	return &inputChannel{signal: make(chan struct{}, 1)}
}

func (c *inputChannel) push(turn UserTurn) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return newClosedError("push")
	}
	c.items = append(c.items, turn)
	c.notifyLocked()
	return nil
}

// close marks that no more turns will arrive. Queued turns are still sent.
func (c *inputChannel) close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	c.notifyLocked()
}

// release marks the engine ready for the next turn.
func (c *inputChannel) release() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.open = true
	c.notifyLocked()
}

// ready is signalled whenever next may have something for the writer.
func (c *inputChannel) ready() <-chan struct{} { return c.signal }

// next pops the oldest turn if the engine is ready for it. eof is true
// exactly once, when the channel is closed, drained and idle.
func (c *inputChannel) next() (turn UserTurn, ok bool, eof bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.open {
		return UserTurn{}, false, false
	}
	if len(c.items) > 0 {
		turn = c.items[0]
		c.items[0] = UserTurn{}
		c.items = c.items[1:]
		c.open = false
		return turn, true, false
	}
	if c.closed && !c.eofSent {
		c.eofSent = true
		return UserTurn{}, false, true
	}
	return UserTurn{}, false, false
}

func (c *inputChannel) pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.items)
}

func (c *inputChannel) notifyLocked() {
	if !c.open {
		return
	}
	if len(c.items) == 0 && (!c.closed || c.eofSent) {
		return
	}
	select {
	case c.signal <- struct{}{}:
	default:
	}
}
