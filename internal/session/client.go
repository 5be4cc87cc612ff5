// Package session keeps one participant's copy of shared game state in sync
// with the room's host. A single goroutine owns everything: it services
// decoded frames from the connection supervisor, command messages from the
// local simulation, and clock ticks. Consistency rests on message ordering
// and idempotency, not locks.
package session

import (
	"context"
	"errors"
	"time"

	"github.com/avocetvr/skyhunt/internal/conn"
	"github.com/avocetvr/skyhunt/internal/game"
	"github.com/avocetvr/skyhunt/pkg/protocol"
	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"
)

var (
	ErrClientClosed    = errors.New("session client closed")
	ErrNotHost         = errors.New("operation requires the host role")
	ErrNegotiationBusy = errors.New("room negotiation already in progress")
	ErrAutoJoinTimeout = errors.New("auto join timed out")
	ErrDisconnected    = errors.New("relay connection lost")
)

type Role string

const (
	RoleNone  Role = ""
	RoleHost  Role = "host"
	RoleGuest Role = "guest"
)

// Transport is the slice of conn.Supervisor the session needs; tests swap in
// a fake.
type Transport interface {
	Connect(ctx context.Context) error
	Send(m protocol.Message)
	Events() <-chan conn.Event
	Close()
}

type Config struct {
	// PositionInterval throttles outbound avatar pose frames. A policy
	// constant, not a correctness requirement.
	PositionInterval time.Duration
	AutoJoinTimeout  time.Duration
	MatchDuration    time.Duration
	BirdPoints       int
	EventBuffer      int
	Clock            clockwork.Clock
}

func DefaultConfig() Config {
	return Config{
		PositionInterval: 50 * time.Millisecond,
		AutoJoinTimeout:  5 * time.Second,
		MatchDuration:    2 * time.Minute,
		BirdPoints:       10,
		EventBuffer:      64,
		Clock:            clockwork.NewRealClock(),
	}
}

type negotiationPhase string

const (
	phaseIdle      negotiationPhase = "idle"
	phaseHosting   negotiationPhase = "hosting"
	phaseJoining   negotiationPhase = "joining"
	phaseConfirmed negotiationPhase = "confirmed"
)

type matchState struct {
	running   bool
	startTime int64 // epoch ms on the host's clock
	duration  int64 // ms
	// clockOffset approximates hostNow - localNow. Replaced wholesale on
	// every timerSync; never accumulated, so sync jitter cannot drift.
	clockOffset int64
	// localDone marks a guest whose own countdown hit zero; it stops display
	// ticks and waits for the host's gameEnd.
	localDone bool
}

// Client is the sync layer for one participant.
type Client struct {
	cfg   Config
	log   *zap.Logger
	tr    Transport
	clock clockwork.Clock

	inbox  chan command
	events chan Event

	// Everything below is owned by the loop goroutine.
	localID  string
	role     Role
	phase    negotiationPhase
	roomCode string
	state    *game.State
	auth     *authority // non-nil only while hosting
	pending  *pendingIntent

	autoJoinTimer clockwork.Timer
	match         matchState

	pose      protocol.Pose
	poseDirty bool

	ctx    context.Context
	cancel context.CancelFunc
}

type command interface{ isCommand() }

type negotiationResult struct {
	roomCode string
	err      error
}

type hostCmd struct{ reply chan negotiationResult }
type joinCmd struct {
	code  string
	reply chan negotiationResult
}
type quickJoinCmd struct{ reply chan negotiationResult }
type leaveCmd struct{ reply chan struct{} }
type startMatchCmd struct{ reply chan error }
type poseCmd struct{ pose protocol.Pose }
type spawnBirdCmd struct {
	pos      protocol.Vec3
	lifespan time.Duration
	reply    chan error
}
type spawnBallCmd struct {
	pos, vel protocol.Vec3
	reply    chan error
}
type ballStateCmd struct{ pos, vel protocol.Vec3 }
type ballOutCmd struct{}
type reportHitCmd struct {
	birdID string
	pos    protocol.Vec3
}
type viewCmd struct{ reply chan View }

func (hostCmd) isCommand()       {}
func (joinCmd) isCommand()       {}
func (quickJoinCmd) isCommand()  {}
func (leaveCmd) isCommand()      {}
func (startMatchCmd) isCommand() {}
func (poseCmd) isCommand()       {}
func (spawnBirdCmd) isCommand()  {}
func (spawnBallCmd) isCommand()  {}
func (ballStateCmd) isCommand()  {}
func (ballOutCmd) isCommand()    {}
func (reportHitCmd) isCommand()  {}
func (viewCmd) isCommand()       {}

func New(parent context.Context, cfg Config, tr Transport, log *zap.Logger) *Client {
	ctx, cancel := context.WithCancel(parent)
	c := &Client{
		cfg:    cfg,
		log:    log,
		tr:     tr,
		clock:  cfg.Clock,
		inbox:  make(chan command, 64),
		events: make(chan Event, cfg.EventBuffer),
		phase:  phaseIdle,
		state:  game.NewState(),
		ctx:    ctx,
		cancel: cancel,
	}
	go c.loop()
	return c
}

// Events is the feed for rendering/audio collaborators.
func (c *Client) Events() <-chan Event { return c.events }

// Host connects if needed, opens a room with a fresh code, and resolves once
// the relay confirms. Returns the authoritative room code.
func (c *Client) Host(ctx context.Context) (string, error) {
	if err := c.tr.Connect(ctx); err != nil {
		return "", err
	}
	return c.negotiate(ctx, func(reply chan negotiationResult) command {
		return hostCmd{reply: reply}
	})
}

// Join connects if needed and joins the room with the given code as a guest.
func (c *Client) Join(ctx context.Context, code string) (string, error) {
	if err := c.tr.Connect(ctx); err != nil {
		return "", err
	}
	return c.negotiate(ctx, func(reply chan negotiationResult) command {
		return joinCmd{code: code, reply: reply}
	})
}

// QuickJoin joins any open room; the attempt fails after AutoJoinTimeout.
func (c *Client) QuickJoin(ctx context.Context) (string, error) {
	if err := c.tr.Connect(ctx); err != nil {
		return "", err
	}
	return c.negotiate(ctx, func(reply chan negotiationResult) command {
		return quickJoinCmd{reply: reply}
	})
}

func (c *Client) negotiate(ctx context.Context, build func(chan negotiationResult) command) (string, error) {
	reply := make(chan negotiationResult, 1)
	if err := c.enqueue(ctx, build(reply)); err != nil {
		return "", err
	}
	select {
	case r := <-reply:
		return r.roomCode, r.err
	case <-ctx.Done():
		return "", ctx.Err()
	case <-c.ctx.Done():
		return "", ErrClientClosed
	}
}

// Leave sends a leave intent if a room is active and tears the connection
// down.
func (c *Client) Leave() {
	reply := make(chan struct{}, 1)
	if err := c.enqueue(context.Background(), leaveCmd{reply: reply}); err != nil {
		return
	}
	select {
	case <-reply:
	case <-c.ctx.Done():
	}
}

// StartMatch begins a match. Host only; a running match makes this a no-op.
func (c *Client) StartMatch() error {
	reply := make(chan error, 1)
	if err := c.enqueue(context.Background(), startMatchCmd{reply: reply}); err != nil {
		return err
	}
	select {
	case err := <-reply:
		return err
	case <-c.ctx.Done():
		return ErrClientClosed
	}
}

// UpdatePose records the latest local avatar sample. Samples are throttled to
// one position frame per PositionInterval; intermediate samples are replaced,
// not queued.
func (c *Client) UpdatePose(p protocol.Pose) {
	select {
	case c.inbox <- poseCmd{pose: p}:
	default:
		// Simulation ticks outpace the loop; the next sample supersedes this
		// one anyway.
	}
}

// SpawnBird spawns a host-authoritative target entity. Host only.
func (c *Client) SpawnBird(pos protocol.Vec3, lifespan time.Duration) error {
	reply := make(chan error, 1)
	if err := c.enqueue(context.Background(), spawnBirdCmd{pos: pos, lifespan: lifespan, reply: reply}); err != nil {
		return err
	}
	select {
	case err := <-reply:
		return err
	case <-c.ctx.Done():
		return ErrClientClosed
	}
}

// SpawnBall spawns the shared physics ball. Host only.
func (c *Client) SpawnBall(pos, vel protocol.Vec3) error {
	reply := make(chan error, 1)
	if err := c.enqueue(context.Background(), spawnBallCmd{pos: pos, vel: vel, reply: reply}); err != nil {
		return err
	}
	select {
	case err := <-reply:
		return err
	case <-c.ctx.Done():
		return ErrClientClosed
	}
}

// UpdateBall feeds the host's local ball physics to the room. Guests applying
// received state never call this; on a guest it is silently ignored.
func (c *Client) UpdateBall(pos, vel protocol.Vec3) {
	_ = c.enqueue(context.Background(), ballStateCmd{pos: pos, vel: vel})
}

// BallOut removes the ball after the host's simulation sees it leave bounds.
func (c *Client) BallOut() {
	_ = c.enqueue(context.Background(), ballOutCmd{})
}

// ReportBirdHit feeds a locally detected hit. On the host the effect applies
// immediately and the confirmation is broadcast; on a guest only a hit
// attempt is sent and nothing changes until the host confirms.
func (c *Client) ReportBirdHit(birdID string, pos protocol.Vec3) {
	_ = c.enqueue(context.Background(), reportHitCmd{birdID: birdID, pos: pos})
}

// View reflects loop-owned state without data races; used by tests and UI.
func (c *Client) View() View {
	reply := make(chan View, 1)
	if err := c.enqueue(context.Background(), viewCmd{reply: reply}); err != nil {
		return View{}
	}
	select {
	case v := <-reply:
		return v
	case <-c.ctx.Done():
		return View{}
	}
}

func (c *Client) Close() {
	c.cancel()
	c.tr.Close()
}

func (c *Client) enqueue(ctx context.Context, cmd command) error {
	select {
	case c.inbox <- cmd:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-c.ctx.Done():
		return ErrClientClosed
	}
}

func (c *Client) loop() {
	posTicker := c.clock.NewTicker(c.cfg.PositionInterval)
	defer posTicker.Stop()
	secTicker := c.clock.NewTicker(time.Second)
	defer secTicker.Stop()

	for {
		var autoJoinCh <-chan time.Time
		if c.autoJoinTimer != nil {
			autoJoinCh = c.autoJoinTimer.Chan()
		}

		select {
		case <-c.ctx.Done():
			c.failPending(ErrClientClosed)
			return
		case cmd := <-c.inbox:
			c.handleCommand(cmd)
		case ev := <-c.tr.Events():
			c.handleTransport(ev)
		case <-autoJoinCh:
			c.onAutoJoinTimeout()
		case <-posTicker.Chan():
			c.flushPose()
		case <-secTicker.Chan():
			c.tickSecond()
		}
	}
}

func (c *Client) handleCommand(cmd command) {
	switch cmd := cmd.(type) {
	case hostCmd:
		c.handleHost(cmd)
	case joinCmd:
		c.handleJoin(cmd)
	case quickJoinCmd:
		c.handleQuickJoin(cmd)
	case leaveCmd:
		c.handleLeave(cmd)
	case startMatchCmd:
		c.handleStartMatch(cmd)
	case poseCmd:
		c.pose = cmd.pose
		c.poseDirty = true
	case spawnBirdCmd:
		if c.auth == nil {
			cmd.reply <- ErrNotHost
			return
		}
		c.auth.spawnBird(cmd.pos, cmd.lifespan)
		cmd.reply <- nil
	case spawnBallCmd:
		if c.auth == nil {
			cmd.reply <- ErrNotHost
			return
		}
		c.auth.spawnBall(cmd.pos, cmd.vel)
		cmd.reply <- nil
	case ballStateCmd:
		if c.auth != nil {
			c.auth.updateBall(cmd.pos, cmd.vel)
		}
	case ballOutCmd:
		if c.auth != nil {
			c.auth.removeBall()
		}
	case reportHitCmd:
		c.handleReportHit(cmd)
	case viewCmd:
		cmd.reply <- c.view()
	}
}

func (c *Client) handleTransport(ev conn.Event) {
	switch ev := ev.(type) {
	case conn.Opened:
		c.localID = ev.LocalID
		c.state.AddParticipant(ev.LocalID, true, false)
		c.emit(StatusEvent{Status: StatusConnected})
	case conn.Frame:
		c.dispatch(ev.Msg)
	case conn.Closed:
		c.resetRoom(ErrDisconnected)
		c.emit(StatusEvent{Status: StatusDisconnected})
	case conn.GaveUp:
		c.emit(StatusEvent{Status: StatusOffline})
	}
}

// resetRoom drops all room-scoped state. Late frames from the dead room are
// then ignored by the dispatcher rather than resurrecting stale state.
func (c *Client) resetRoom(err error) {
	c.failPending(err)
	c.stopAutoJoinTimer()
	c.phase = phaseIdle
	c.role = RoleNone
	c.roomCode = ""
	c.auth = nil
	c.localID = ""
	c.state = game.NewState()
	c.match = matchState{}
	c.poseDirty = false
}

func (c *Client) flushPose() {
	if !c.poseDirty || c.phase != phaseConfirmed {
		return
	}
	c.poseDirty = false
	c.tr.Send(&protocol.Position{ID: c.localID, Pose: c.pose})
}

func (c *Client) tickSecond() {
	if c.auth != nil {
		c.auth.tickBirds()
	}
	c.tickMatch()
}

func (c *Client) nowMs() int64 { return c.clock.Now().UnixMilli() }

// View is a race-free reflection of the loop-owned state.
type View struct {
	LocalID       string
	Role          Role
	RoomCode      string
	Confirmed     bool
	Participants  []string
	Birds         []string
	HasBall       bool
	Scores        map[string]int
	MatchRunning  bool
	RemainingMs   int64
	ClockOffsetMs int64
	StartTimeMs   int64
}

func (c *Client) view() View {
	v := View{
		LocalID:       c.localID,
		Role:          c.role,
		RoomCode:      c.roomCode,
		Confirmed:     c.phase == phaseConfirmed,
		HasBall:       c.state.Ball != nil,
		Scores:        map[string]int{},
		MatchRunning:  c.match.running,
		RemainingMs:   c.remainingMs(),
		ClockOffsetMs: c.match.clockOffset,
		StartTimeMs:   c.match.startTime,
	}
	for id := range c.state.Participants {
		v.Participants = append(v.Participants, id)
	}
	for id := range c.state.Birds {
		v.Birds = append(v.Birds, id)
	}
	for id, s := range c.state.Scores {
		v.Scores[id] = s
	}
	return v
}
