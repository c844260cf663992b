package testutil

import (
	"context"
	"fmt"
	"sync"

	"tt-go/internal/track"
)

// ScriptedProvider serves positions from a queue. When the queue is empty
// every request fails, which lets tests drive the capture loop into its
// degraded path on demand.
type ScriptedProvider struct {
	mu        sync.Mutex
	queue     []*track.Position
	sigQueue  []*track.Position
	failCount int
}

func NewScriptedProvider() *ScriptedProvider {
	return &ScriptedProvider{}
}

// Push queues positions for Current.
func (p *ScriptedProvider) Push(positions ...*track.Position) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.queue = append(p.queue, positions...)
}

// PushSignificant queues positions for SignificantChange.
func (p *ScriptedProvider) PushSignificant(positions ...*track.Position) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.sigQueue = append(p.sigQueue, positions...)
}

// FailCount reports how many Current calls found an empty queue.
func (p *ScriptedProvider) FailCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.failCount
}

func (p *ScriptedProvider) Current(_ context.Context) (*track.Position, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.queue) == 0 {
		p.failCount++
		return nil, fmt.Errorf("no fix available")
	}
	pos := p.queue[0]
	p.queue = p.queue[1:]
	return pos, nil
}

func (p *ScriptedProvider) SignificantChange(ctx context.Context) (*track.Position, error) {
	p.mu.Lock()
	if len(p.sigQueue) > 0 {
		pos := p.sigQueue[0]
		p.sigQueue = p.sigQueue[1:]
		p.mu.Unlock()
		return pos, nil
	}
	p.mu.Unlock()
	<-ctx.Done()
	return nil, ctx.Err()
}

// StubCapture is a no-goroutine CaptureController for lifecycle tests.
type StubCapture struct {
	mu         sync.Mutex
	Started    []string
	Stopped    int
	Recoveries int
	StartErr   error
}

var _ track.CaptureController = (*StubCapture)(nil)

func (c *StubCapture) Start(shiftID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.StartErr != nil {
		return c.StartErr
	}
	c.Started = append(c.Started, shiftID)
	return nil
}

func (c *StubCapture) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Stopped++
}

func (c *StubCapture) RequestRecovery() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Recoveries++
}

// RecoveryCount returns how many recovery requests were made.
func (c *StubCapture) RecoveryCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.Recoveries
}
