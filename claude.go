// Package claude drives the Claude Code CLI as a long-lived subprocess over
// its stream-json protocol and presents the exchange as one conversation.
//
// Quick start:
//
//	q, err := claude.Start(ctx, "What is 2+2?", claude.WithModel("claude-sonnet-4-5"))
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer q.Close()
//	q.CloseInput()
//	for msg, err := range q.Messages(ctx) {
//	    if err != nil {
//	        log.Fatal(err)
//	    }
//	    if m, ok := msg.(*claude.AssistantMessage); ok {
//	        fmt.Println(m.Text())
//	    }
//	}
//
// Further turns can be queued with Push at any time; each is written once the
// previous turn's result has arrived.
package claude

import (
	"context"
	"errors"
	"io"
)

// Version is the SDK version.
const Version = "0.2.0"

// MinimumClaudeCodeVersion is the minimum required Claude Code version.
const MinimumClaudeCodeVersion = "2.0.0"

// Collect runs a single-turn query to completion and returns every message.
// The last message is always a *ResultMessage.
func Collect(ctx context.Context, prompt string, opts ...Option) ([]Message, error) {
	q, err := Start(ctx, prompt, opts...)
	if err != nil {
		return nil, err
	}
	defer q.Close()
	q.CloseInput()

	var msgs []Message
	for {
		msg, err := q.Next(ctx)
		if errors.Is(err, io.EOF) {
			return msgs, q.Err()
		}
		if err != nil {
			return msgs, err
		}
		msgs = append(msgs, msg)
	}
}
