package capture

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"tt-go/internal/track"
)

// State is the capture service's lifecycle state.
type State string

const (
	StateIdle     State = "idle"
	StateStarting State = "starting"
	StateActive   State = "active"
	StateDegraded State = "degraded"
	StateStopped  State = "stopped"
)

// Config tunes the capture service.
type Config struct {
	// ActiveInterval and StationaryInterval are the base sampling cadences.
	ActiveInterval     time.Duration
	StationaryInterval time.Duration

	// MaxInterval caps the widened interval under throttling and failures.
	MaxInterval time.Duration

	// Heartbeat is how often a heartbeat message is emitted regardless of
	// position flow.
	Heartbeat time.Duration

	// FixTimeout bounds a single fine-grained fix request.
	FixTimeout time.Duration

	// LivenessFailures is the consecutive-failure count after which the
	// service degrades to the significant-change fallback.
	LivenessFailures int

	// MaxRecoveryAttempts bounds degraded-state recovery tries before the
	// failure escalates to error severity. Recovery keeps running after
	// escalation; only the reporting changes.
	MaxRecoveryAttempts int
}

// DefaultConfig is tuned for a phone in the field.
var DefaultConfig = Config{
	ActiveInterval:      15 * time.Second,
	StationaryInterval:  2 * time.Minute,
	MaxInterval:         8 * time.Minute,
	Heartbeat:           30 * time.Second,
	FixTimeout:          10 * time.Second,
	LivenessFailures:    3,
	MaxRecoveryAttempts: 5,
}

// Service samples positions in its own goroutine and communicates with the
// orchestrator exclusively through a channel of tagged messages. It never
// touches the store: the receiving side owns all persistence.
type Service struct {
	provider Provider
	thermal  ThermalMonitor
	clock    track.Clock
	cfg      Config

	msgs       chan track.Message
	recoveryCh chan struct{}
	stationary atomic.Bool

	mu      sync.Mutex
	state   State
	shiftID string
	cancel  context.CancelFunc
	done    chan struct{}
}

var _ track.CaptureController = (*Service)(nil)

// NewService creates an idle capture service. thermal may be nil.
func NewService(provider Provider, thermal ThermalMonitor, clock track.Clock, cfg Config) *Service {
	if thermal == nil {
		thermal = NopThermal{}
	}
	return &Service{
		provider:   provider,
		thermal:    thermal,
		clock:      clock,
		cfg:        cfg,
		msgs:       make(chan track.Message, 64),
		recoveryCh: make(chan struct{}, 1),
		state:      StateIdle,
	}
}

// Messages is the stream the orchestrator consumes. Closed only when the
// process tears down, never between shifts.
func (s *Service) Messages() <-chan track.Message { return s.msgs }

// State returns the current lifecycle state.
func (s *Service) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// SetStationary switches between the active and stationary cadences.
func (s *Service) SetStationary(stationary bool) {
	s.stationary.Store(stationary)
}

// Start begins sampling for the given shift. Starting while already running
// restarts cleanly for the new shift.
func (s *Service) Start(shiftID string) error {
	s.Stop()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})

	s.mu.Lock()
	s.state = StateStarting
	s.shiftID = shiftID
	s.cancel = cancel
	s.done = done
	s.mu.Unlock()

	go s.run(ctx, shiftID, done)
	return nil
}

// Stop ends sampling and waits for the run goroutine to exit. Idempotent.
func (s *Service) Stop() {
	s.mu.Lock()
	cancel := s.cancel
	done := s.done
	s.cancel = nil
	s.done = nil
	s.mu.Unlock()

	if cancel != nil {
		cancel()
		<-done
	}

	s.mu.Lock()
	s.state = StateIdle
	s.mu.Unlock()
}

// RequestRecovery forces an immediate recovery attempt. Coalesced: at most
// one request is pending at a time.
func (s *Service) RequestRecovery() {
	select {
	case s.recoveryCh <- struct{}{}:
	default:
	}
}

func (s *Service) setState(state State) {
	s.mu.Lock()
	s.state = state
	s.mu.Unlock()
}

// send delivers a message without ever blocking the sampling loop. The
// channel is buffered; an unread backlog drops the oldest semantics are not
// needed here, the message is simply dropped.
func (s *Service) send(m track.Message) {
	select {
	case s.msgs <- m:
	default:
	}
}

func (s *Service) message(t track.MessageType, shiftID string) track.Message {
	return track.Message{Type: t, ShiftID: shiftID, At: s.clock.Now()}
}

// run is the sampling loop. It owns all capture state; nothing here is
// shared with the orchestrator.
func (s *Service) run(ctx context.Context, shiftID string, done chan struct{}) {
	defer close(done)

	s.setState(StateActive)
	s.send(s.message(track.MsgStarted, shiftID))

	heartbeat := time.NewTicker(s.cfg.Heartbeat)
	defer heartbeat.Stop()

	failures := 0
	recoveryAttempts := 0
	escalated := false
	var watchdogCancel context.CancelFunc
	defer func() {
		if watchdogCancel != nil {
			watchdogCancel()
		}
	}()

	// One timer carries the sampling deadline across heartbeat ticks. A
	// heartbeat must never push the next fix out: with a stationary or
	// failure-widened interval longer than the heartbeat period, rebuilding
	// the timer per tick would starve sampling completely.
	timer := time.NewTimer(cadence(s.cfg, s.stationary.Load(), s.thermal.Level(), failures))
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			s.setState(StateStopped)
			s.send(s.message(track.MsgStopped, shiftID))
			return

		case <-heartbeat.C:
			s.send(s.message(track.MsgHeartbeat, shiftID))
			continue

		case <-s.recoveryCh:
			if !timer.Stop() {
				select {
				case <-timer.C:
				default:
				}
			}

		case <-timer.C:
		}

		pos, err := s.sampleOnce(ctx)
		if ctx.Err() != nil {
			s.setState(StateStopped)
			s.send(s.message(track.MsgStopped, shiftID))
			return
		}

		if err != nil {
			failures++
			m := s.message(track.MsgError, shiftID)
			m.Error = err.Error()
			s.send(m)

			if s.State() == StateDegraded {
				recoveryAttempts++
				if recoveryAttempts >= s.cfg.MaxRecoveryAttempts && !escalated {
					escalated = true
					s.send(s.message(track.MsgStreamRecoveryFailing, shiftID))
				}
			} else if failures >= s.cfg.LivenessFailures {
				s.setState(StateDegraded)
				s.send(s.message(track.MsgGPSLost, shiftID))
				// Independent watchdog: the coarse provider wakes us the
				// moment the device moves enough to matter.
				var wctx context.Context
				wctx, watchdogCancel = context.WithCancel(ctx)
				go s.watchSignificantChange(wctx, shiftID)
			}
		} else {
			wasDegraded := s.State() == StateDegraded
			failures = 0
			recoveryAttempts = 0
			escalated = false

			if wasDegraded {
				s.setState(StateActive)
				if watchdogCancel != nil {
					watchdogCancel()
					watchdogCancel = nil
				}
				s.send(s.message(track.MsgGPSRestored, shiftID))
				s.send(s.message(track.MsgStreamRecovered, shiftID))
			}

			m := s.message(track.MsgPosition, shiftID)
			m.Position = pos
			s.send(m)
		}

		timer.Reset(cadence(s.cfg, s.stationary.Load(), s.thermal.Level(), failures))
	}
}

// sampleOnce requests a single fix bounded by the fix timeout.
func (s *Service) sampleOnce(ctx context.Context) (*track.Position, error) {
	fixCtx, cancel := context.WithTimeout(ctx, s.cfg.FixTimeout)
	defer cancel()
	return s.provider.Current(fixCtx)
}

// watchSignificantChange runs while the service is degraded. Coarse
// positions are forwarded as real samples, and each one triggers an
// immediate fine-grained recovery attempt.
func (s *Service) watchSignificantChange(ctx context.Context, shiftID string) {
	for {
		pos, err := s.provider.SignificantChange(ctx)
		if ctx.Err() != nil {
			return
		}
		if err != nil {
			m := s.message(track.MsgError, shiftID)
			m.Error = err.Error()
			s.send(m)
			select {
			case <-ctx.Done():
				return
			case <-time.After(s.cfg.FixTimeout):
			}
			continue
		}

		m := s.message(track.MsgPosition, shiftID)
		m.Position = pos
		s.send(m)
		s.RequestRecovery()
	}
}
