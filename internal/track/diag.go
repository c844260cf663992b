package track

import (
	"sync"
	"sync/atomic"
)

// DeviceContext identifies the device and app build stamped onto every
// diagnostic event.
type DeviceContext struct {
	EmployeeID string
	DeviceID   string
	AppVersion string
	Platform   string
	OSVersion  string
}

// DiagnosticPipeline is the structured, categorized event log. Log returns
// immediately; a dedicated goroutine drains a bounded queue into the store.
// Persistence failures are counted and swallowed: logging must never crash
// the component it observes.
type DiagnosticPipeline struct {
	store  Store
	logger Logger
	clock  Clock
	idgen  IDGenerator
	device DeviceContext

	queue chan *DiagnosticEvent
	done  chan struct{}

	dropped       atomic.Uint64
	writeFailures atomic.Uint64

	mu     sync.RWMutex
	closed bool
}

// diagQueueSize bounds the internal queue. When full, events are dropped
// and counted rather than blocking the caller.
const diagQueueSize = 256

// NewDiagnosticPipeline creates the pipeline and starts its drain goroutine.
// Call Close to flush and stop it.
func NewDiagnosticPipeline(store Store, logger Logger, clock Clock, idgen IDGenerator, device DeviceContext) *DiagnosticPipeline {
	p := &DiagnosticPipeline{
		store:  store,
		logger: logger,
		clock:  clock,
		idgen:  idgen,
		device: device,
		queue:  make(chan *DiagnosticEvent, diagQueueSize),
		done:   make(chan struct{}),
	}
	go p.drain()
	return p
}

// Log records a diagnostic event. Never blocks, never returns an error.
func (p *DiagnosticPipeline) Log(category string, severity Severity, message string, metadata map[string]any) {
	p.LogForShift(nil, category, severity, message, metadata)
}

// LogForShift records a diagnostic event attributed to a shift.
func (p *DiagnosticPipeline) LogForShift(shiftID *string, category string, severity Severity, message string, metadata map[string]any) {
	p.mirror(category, severity, message)

	event := &DiagnosticEvent{
		ID:         p.idgen.New(),
		EmployeeID: p.device.EmployeeID,
		ShiftID:    shiftID,
		DeviceID:   p.device.DeviceID,
		Category:   category,
		Severity:   severity,
		Message:    message,
		Metadata:   metadata,
		AppVersion: p.device.AppVersion,
		Platform:   p.device.Platform,
		OSVersion:  p.device.OSVersion,
		SyncStatus: SyncPending,
		CreatedAt:  p.clock.Now(),
	}

	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		p.dropped.Add(1)
		return
	}

	select {
	case p.queue <- event:
	default:
		p.dropped.Add(1)
	}
}

// mirror forwards the event to the structured logger.
func (p *DiagnosticPipeline) mirror(category string, severity Severity, message string) {
	args := []any{"category", category}
	switch severity {
	case SeverityDebug:
		p.logger.Debug(message, args...)
	case SeverityWarn:
		p.logger.Warn(message, args...)
	case SeverityError, SeverityCritical:
		p.logger.Error(message, args...)
	default:
		p.logger.Info(message, args...)
	}
}

// drain writes queued events until the queue is closed.
func (p *DiagnosticPipeline) drain() {
	defer close(p.done)
	for event := range p.queue {
		if err := p.store.InsertDiagnostic(event); err != nil {
			p.writeFailures.Add(1)
		}
	}
}

// Dropped returns how many events were discarded because the queue was full.
func (p *DiagnosticPipeline) Dropped() uint64 { return p.dropped.Load() }

// WriteFailures returns how many events failed to persist.
func (p *DiagnosticPipeline) WriteFailures() uint64 { return p.writeFailures.Load() }

// Close stops accepting events, drains what is queued, and waits for the
// drain goroutine to finish. Safe to call more than once; events logged
// after Close are counted as dropped.
func (p *DiagnosticPipeline) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	close(p.queue)
	p.mu.Unlock()
	<-p.done
}
