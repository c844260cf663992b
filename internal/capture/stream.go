package capture

import (
	"context"
	"errors"
	"io"
	"math"
	"sync"

	"tt-go/internal/track"
)

// ErrNoProvider is returned by UnavailableProvider for every request.
var ErrNoProvider = errors.New("no location provider available")

// UnavailableProvider is used on hosts with no position source. Every
// sample fails, which drives the capture loop into its degraded path and
// opens signal gaps, rather than silently recording nothing.
type UnavailableProvider struct{}

var _ Provider = UnavailableProvider{}

func (UnavailableProvider) Current(context.Context) (*track.Position, error) {
	return nil, ErrNoProvider
}

func (UnavailableProvider) SignificantChange(ctx context.Context) (*track.Position, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

// significantMoveDegrees is roughly 200m of latitude. Coarse on purpose;
// the significant-change path only needs to notice real movement.
const significantMoveDegrees = 0.002

// StreamProvider adapts a line-delimited message stream (a GPS bridge
// subprocess writing to a pipe, or a replay file) into a Provider.
// Only position messages are consumed; everything else on the stream is
// skipped.
type StreamProvider struct {
	posCh chan *track.Position
	sigCh chan *track.Position

	mu      sync.Mutex
	lastSig *track.Position
	readErr error
}

var _ Provider = (*StreamProvider)(nil)

// NewStreamProvider starts reading positions from r until EOF or error.
func NewStreamProvider(r io.Reader) *StreamProvider {
	p := &StreamProvider{
		posCh: make(chan *track.Position, 1),
		sigCh: make(chan *track.Position, 1),
	}
	go p.read(r)
	return p
}

func (p *StreamProvider) read(r io.Reader) {
	lr := NewLineReader(r)
	for {
		m, err := lr.Read()
		if err != nil {
			p.mu.Lock()
			if errors.Is(err, io.EOF) {
				p.readErr = io.EOF
			} else {
				p.readErr = err
			}
			p.mu.Unlock()
			close(p.posCh)
			close(p.sigCh)
			return
		}
		if m.Type != track.MsgPosition || m.Position == nil {
			continue
		}
		pos := m.Position

		// Latest-wins: replace a buffered position the loop has not
		// consumed yet.
		select {
		case p.posCh <- pos:
		default:
			select {
			case <-p.posCh:
			default:
			}
			p.posCh <- pos
		}

		if p.moved(pos) {
			select {
			case p.sigCh <- pos:
			default:
			}
		}
	}
}

func (p *StreamProvider) moved(pos *track.Position) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.lastSig == nil ||
		math.Abs(pos.Latitude-p.lastSig.Latitude) > significantMoveDegrees ||
		math.Abs(pos.Longitude-p.lastSig.Longitude) > significantMoveDegrees {
		p.lastSig = pos
		return true
	}
	return false
}

func (p *StreamProvider) Current(ctx context.Context) (*track.Position, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case pos, ok := <-p.posCh:
		if !ok {
			return nil, p.err()
		}
		return pos, nil
	}
}

func (p *StreamProvider) SignificantChange(ctx context.Context) (*track.Position, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case pos, ok := <-p.sigCh:
		if !ok {
			return nil, p.err()
		}
		return pos, nil
	}
}

func (p *StreamProvider) err() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.readErr != nil {
		return p.readErr
	}
	return io.EOF
}
