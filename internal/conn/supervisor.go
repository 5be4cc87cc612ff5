// Package conn maintains one duplex stream to the relay and hides transient
// transport failures behind bounded-backoff reconnection. Everything above it
// sees a flat event feed: Opened, Frame, Closed, GaveUp.
package conn

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/avocetvr/skyhunt/pkg/protocol"
	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"
)

var (
	ErrSupervisorClosed = errors.New("supervisor closed")
	ErrBadHandshake     = errors.New("relay handshake: first frame was not init")
	ErrReconnectFailed  = errors.New("reconnect attempts exhausted")
)

type connState int

const (
	stateDisconnected connState = iota
	stateConnecting
	stateOpen
	stateClosing
)

// Event is the closed union delivered on Events().
type Event interface{ isConnEvent() }

// Opened fires once per successful connect, after the relay assigned us a
// participant id.
type Opened struct{ LocalID string }

// Frame carries one decoded inbound message.
type Frame struct{ Msg protocol.Message }

// Closed fires when the stream drops; a reconnect loop is already scheduled.
type Closed struct{ Err error }

// GaveUp is terminal: the backoff loop ran out of attempts. The owner must
// surface a disconnected status and wait for an explicit user retry.
type GaveUp struct{ Err error }

func (Opened) isConnEvent() {}
func (Frame) isConnEvent()  {}
func (Closed) isConnEvent() {}
func (GaveUp) isConnEvent() {}

type Config struct {
	URL            string
	DialTimeout    time.Duration
	WriteTimeout   time.Duration
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	MaxAttempts    int
	Dial           Dialer
	Clock          clockwork.Clock
}

func DefaultConfig(url string) Config {
	return Config{
		URL:            url,
		DialTimeout:    10 * time.Second,
		WriteTimeout:   3 * time.Second,
		InitialBackoff: time.Second,
		MaxBackoff:     10 * time.Second,
		MaxAttempts:    5,
		Dial:           DialWebsocket,
		Clock:          clockwork.NewRealClock(),
	}
}

// Supervisor owns the relay stream. It is safe to call from any goroutine;
// internally a mutex guards the small connection record, while all game state
// stays with the session loop consuming Events().
type Supervisor struct {
	cfg Config
	log *zap.Logger

	events chan Event

	connectMu sync.Mutex // serializes whole Connect attempts

	mu           sync.Mutex
	st           connState
	stream       Stream
	localID      string
	gen          int // connection generation; stale readers check it
	reconnecting bool

	ctx    context.Context
	cancel context.CancelFunc
}

func New(parent context.Context, cfg Config, log *zap.Logger) *Supervisor {
	ctx, cancel := context.WithCancel(parent)
	return &Supervisor{
		cfg:    cfg,
		log:    log,
		events: make(chan Event, 64),
		ctx:    ctx,
		cancel: cancel,
	}
}

func (s *Supervisor) Events() <-chan Event { return s.events }

// LocalID is the relay-assigned participant id, "" before the first connect.
// Immutable for the lifetime of one connection.
func (s *Supervisor) LocalID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.localID
}

// Connect is idempotent: already-open returns nil immediately, otherwise it
// dials, performs the init handshake, and resolves once the stream is open.
// A failure is returned to the caller without any synchronous retry; retries
// belong exclusively to the backoff loop.
func (s *Supervisor) Connect(ctx context.Context) error {
	s.connectMu.Lock()
	defer s.connectMu.Unlock()

	s.mu.Lock()
	if s.st == stateClosing {
		s.mu.Unlock()
		return ErrSupervisorClosed
	}
	if s.st == stateOpen {
		s.mu.Unlock()
		return nil
	}
	s.st = stateConnecting
	s.mu.Unlock()

	dialCtx, cancel := context.WithTimeout(ctx, s.cfg.DialTimeout)
	defer cancel()

	stream, err := s.cfg.Dial(dialCtx, s.cfg.URL)
	if err != nil {
		s.setDisconnected()
		return fmt.Errorf("dial relay: %w", err)
	}

	// The relay speaks first: an init frame carrying our participant id.
	data, err := stream.Read(dialCtx)
	if err != nil {
		_ = stream.Close()
		s.setDisconnected()
		return fmt.Errorf("relay handshake: %w", err)
	}
	msg, err := protocol.Decode(data)
	if err != nil {
		_ = stream.Close()
		s.setDisconnected()
		return fmt.Errorf("relay handshake: %w", err)
	}
	init, ok := msg.(*protocol.Init)
	if !ok {
		_ = stream.Close()
		s.setDisconnected()
		return ErrBadHandshake
	}

	s.mu.Lock()
	s.stream = stream
	s.localID = init.ID
	s.st = stateOpen
	s.gen++
	gen := s.gen
	s.mu.Unlock()

	s.log.Info("connected to relay", zap.String("localId", init.ID))
	s.deliver(Opened{LocalID: init.ID})
	go s.readLoop(stream, gen)
	return nil
}

// Send stamps the local participant id as senderId if absent and writes the
// frame. While the stream is not open the frame is dropped with a logged
// failure and a reconnect attempt is kicked off as a side effect; the dropped
// frame is not retried.
func (s *Supervisor) Send(m protocol.Message) {
	s.mu.Lock()
	stream, st, id := s.stream, s.st, s.localID
	s.mu.Unlock()

	if st != stateOpen || stream == nil {
		s.log.Warn("dropping send while stream not open",
			zap.String("frameType", string(protocol.TypeOf(m))))
		s.kickReconnect()
		return
	}

	m.SetSender(id)
	data, err := protocol.Encode(m)
	if err != nil {
		s.log.Error("encode frame", zap.Error(err))
		return
	}

	ctx, cancel := context.WithTimeout(s.ctx, s.cfg.WriteTimeout)
	defer cancel()
	if err := stream.Write(ctx, data); err != nil {
		s.log.Warn("write to relay failed",
			zap.String("frameType", string(protocol.TypeOf(m))), zap.Error(err))
	}
}

// Close tears the connection down for good; no reconnect is attempted.
func (s *Supervisor) Close() {
	s.mu.Lock()
	s.st = stateClosing
	stream := s.stream
	s.stream = nil
	s.mu.Unlock()

	if stream != nil {
		_ = stream.Close()
	}
	s.cancel()
}

func (s *Supervisor) setDisconnected() {
	s.mu.Lock()
	if s.st != stateClosing {
		s.st = stateDisconnected
	}
	s.mu.Unlock()
}

func (s *Supervisor) readLoop(stream Stream, gen int) {
	for {
		data, err := stream.Read(s.ctx)
		if err != nil {
			s.onStreamClosed(gen, err)
			return
		}
		msg, derr := protocol.Decode(data)
		if derr != nil {
			s.log.Warn("dropping malformed frame", zap.Error(derr))
			continue
		}
		s.deliver(Frame{Msg: msg})
	}
}

func (s *Supervisor) onStreamClosed(gen int, err error) {
	s.mu.Lock()
	if s.gen != gen || s.st == stateClosing {
		// A newer connection superseded this reader, or we are shutting down.
		s.mu.Unlock()
		return
	}
	s.st = stateDisconnected
	s.stream = nil
	s.mu.Unlock()

	s.log.Warn("relay stream closed", zap.Error(err))
	s.deliver(Closed{Err: err})
	s.kickReconnect()
}

func (s *Supervisor) kickReconnect() {
	s.mu.Lock()
	if s.st != stateDisconnected || s.reconnecting {
		s.mu.Unlock()
		return
	}
	s.reconnecting = true
	s.mu.Unlock()
	go s.reconnectLoop()
}

func (s *Supervisor) reconnectLoop() {
	defer func() {
		s.mu.Lock()
		s.reconnecting = false
		s.mu.Unlock()
	}()

	b := newBackoff(s.cfg.InitialBackoff, s.cfg.MaxBackoff, s.cfg.MaxAttempts)
	for {
		delay, ok := b.next()
		if !ok {
			s.log.Warn("reconnect attempts exhausted",
				zap.Int("attempts", s.cfg.MaxAttempts))
			s.deliver(GaveUp{Err: ErrReconnectFailed})
			return
		}

		select {
		case <-s.ctx.Done():
			return
		case <-s.cfg.Clock.After(delay):
		}

		s.mu.Lock()
		closing := s.st == stateClosing
		s.mu.Unlock()
		if closing {
			return
		}

		if err := s.Connect(s.ctx); err != nil {
			s.log.Warn("reconnect attempt failed",
				zap.Int("attempt", b.attempt),
				zap.Duration("delay", delay),
				zap.Error(err))
			continue
		}
		return
	}
}

func (s *Supervisor) deliver(ev Event) {
	select {
	case s.events <- ev:
	case <-s.ctx.Done():
	}
}
