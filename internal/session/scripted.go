package session

import (
	"context"
	"sync"
	"time"
)

// ScriptedResponse is one canned completion for a ScriptedClient.
type ScriptedResponse struct {
	Steps  []string // reasoning steps emitted before the chunks
	Chunks []string
	Err    error // returned after the chunks, if set
}

// ScriptedClient is a StreamClient that replays canned responses in order.
// It backs offline mode and the test suite; once the script runs out it
// repeats the last response.
type ScriptedClient struct {
	mu       sync.Mutex
	script   []ScriptedResponse
	next     int
	ChunkGap time.Duration // optional pause between chunks
}

// NewScriptedClient creates a client that replays script in order.
func NewScriptedClient(script ...ScriptedResponse) *ScriptedClient {
	return &ScriptedClient{script: script}
}

func (c *ScriptedClient) take() ScriptedResponse {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.script) == 0 {
		return ScriptedResponse{Chunks: []string{"(no scripted response)"}}
	}
	r := c.script[c.next]
	if c.next < len(c.script)-1 {
		c.next++
	}
	return r
}

// Stream replays the next scripted response through h.
func (c *ScriptedClient) Stream(ctx context.Context, _ string, h StreamHandler) error {
	r := c.take()

	for _, step := range r.Steps {
		if err := ctx.Err(); err != nil {
			return err
		}
		if h.OnStep != nil {
			h.OnStep(step)
		}
	}
	for _, chunk := range r.Chunks {
		if err := ctx.Err(); err != nil {
			return err
		}
		if h.OnChunk != nil {
			h.OnChunk(chunk)
		}
		if c.ChunkGap > 0 {
			select {
			case <-time.After(c.ChunkGap):
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}
	return r.Err
}
