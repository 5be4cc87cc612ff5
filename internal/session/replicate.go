package session

import (
	"time"

	"github.com/avocetvr/skyhunt/internal/game"
	"github.com/avocetvr/skyhunt/pkg/protocol"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// authority carries the host-only operations. It exists only while the local
// role is host, so guest code paths cannot construct host-authoritative
// messages: the invariant lives in the type, not in convention.
type authority struct {
	c *Client
}

func (c *Client) onPlayerJoined(msg *protocol.PlayerJoined) {
	if c.state.AddParticipant(msg.ID, false, false) {
		c.emit(PlayerJoinedEvent{ID: msg.ID})
	}
}

func (c *Client) onPlayerLeft(msg *protocol.PlayerLeft) {
	if c.state.RemoveParticipant(msg.ID) {
		c.emit(PlayerLeftEvent{ID: msg.ID})
	}
}

func (c *Client) onPosition(msg *protocol.Position) {
	id := msg.ID
	if id == "" {
		id = msg.Sender()
	}
	if id == "" {
		return
	}
	// Tolerate a position racing ahead of its playerJoined.
	if c.state.AddParticipant(id, false, false) {
		c.emit(PlayerJoinedEvent{ID: id})
	}
	c.emit(PlayerMovedEvent{ID: id, Pose: msg.Pose})
}

func (c *Client) onBirdSpawned(msg *protocol.BirdSpawned) {
	b := game.Bird{ID: msg.BirdID, Position: msg.Position, LifespanMs: msg.LifespanMs}
	if c.state.SpawnBird(b) {
		c.emit(BirdSpawnedEvent{Bird: b})
	}
}

func (c *Client) onBirdState(msg *protocol.BirdState) {
	if c.state.ApplyBirdState(msg.BirdID, msg.Position, msg.AgeMs) {
		c.emit(BirdMovedEvent{ID: msg.BirdID, Position: msg.Position, AgeMs: msg.AgeMs})
		return
	}
	c.log.Debug("bird state for unknown bird", zap.String("birdId", msg.BirdID))
}

func (c *Client) onBirdRemoved(msg *protocol.BirdRemoved) {
	if c.state.RemoveBird(msg.BirdID) {
		c.emit(BirdRemovedEvent{ID: msg.BirdID})
	}
}

// onBirdHitAttempt validates a guest's detected hit. Guests also see these
// frames (the relay broadcasts room-wide) and must ignore them.
func (c *Client) onBirdHitAttempt(msg *protocol.BirdHitAttempt) {
	if c.auth == nil {
		return
	}
	c.auth.confirmHit(msg.BirdID, msg.Sender())
}

func (c *Client) onBirdHit(msg *protocol.BirdHit) {
	c.applyKill(msg.BirdID, msg.BulletShooterID, msg.Points)
}

func (c *Client) applyKill(birdID, shooterID string, points int) {
	if !c.state.ApplyKill(birdID, shooterID, points) {
		return
	}
	c.emit(BirdKilledEvent{ID: birdID, ShooterID: shooterID, Points: points})
	c.emit(ScoreChangedEvent{PlayerID: shooterID, Score: c.state.Scores[shooterID]})
}

func (c *Client) onBallSpawned(msg *protocol.BallSpawned) {
	b := game.Ball{ID: msg.BallID, Position: msg.Position, Velocity: msg.Velocity}
	if c.state.SpawnBall(b) {
		c.emit(BallSpawnedEvent{Ball: b})
	}
}

func (c *Client) onBallState(msg *protocol.BallState) {
	if c.state.ApplyBallState(msg.BallID, msg.Position, msg.Velocity) {
		c.emit(BallMovedEvent{ID: msg.BallID, Position: msg.Position, Velocity: msg.Velocity})
	}
}

func (c *Client) onBallRemoved(msg *protocol.BallRemoved) {
	if c.state.RemoveBall(msg.BallID) {
		c.emit(BallRemovedEvent{ID: msg.BallID})
	}
}

func (c *Client) onScoreUpdate(msg *protocol.ScoreUpdate) {
	c.state.SetScore(msg.PlayerID, msg.Score)
	c.emit(ScoreChangedEvent{PlayerID: msg.PlayerID, Score: msg.Score})
}

func (c *Client) onScoreReset(_ *protocol.ScoreReset) {
	c.state.ResetScores()
	c.emit(ScoresResetEvent{})
}

func (c *Client) onRequestSnapshot(_ *protocol.RequestSnapshot) {
	if c.auth == nil {
		return
	}
	c.auth.sendSnapshot()
}

// onSnapshot applies the host's late-join catch-up. Every piece is
// idempotent, so racing against regular spawn traffic is safe.
func (c *Client) onSnapshot(msg *protocol.Snapshot) {
	if c.auth != nil {
		return
	}
	for _, bi := range msg.Birds {
		b := game.Bird{ID: bi.ID, Position: bi.Position, AgeMs: bi.AgeMs, LifespanMs: bi.LifespanMs}
		if c.state.SpawnBird(b) {
			c.emit(BirdSpawnedEvent{Bird: b})
		}
	}
	if msg.Ball != nil {
		b := game.Ball{ID: msg.Ball.ID, Position: msg.Ball.Position, Velocity: msg.Ball.Velocity}
		if c.state.SpawnBall(b) {
			c.emit(BallSpawnedEvent{Ball: b})
		}
	}
	for id, score := range msg.Scores {
		c.state.SetScore(id, score)
		c.emit(ScoreChangedEvent{PlayerID: id, Score: score})
	}
	if msg.Running && !c.match.running {
		c.match = matchState{
			running:     true,
			startTime:   msg.StartTime,
			duration:    msg.Duration,
			clockOffset: msg.CurrentTime - c.nowMs(),
		}
		c.emit(MatchStartedEvent{Duration: time.Duration(msg.Duration) * time.Millisecond})
	}
}

func (c *Client) handleReportHit(cmd reportHitCmd) {
	if c.auth != nil {
		// Host applies its own detected hit immediately, then broadcasts.
		c.auth.confirmHit(cmd.birdID, c.localID)
		return
	}
	// Guests must not apply the effect locally; the host's birdHit broadcast
	// is the only thing that mutates shared state.
	c.tr.Send(&protocol.BirdHitAttempt{BirdID: cmd.birdID, Position: cmd.pos})
}

func (a *authority) spawnBird(pos protocol.Vec3, lifespan time.Duration) {
	c := a.c
	b := game.Bird{
		ID:         "bird-" + uuid.NewString(),
		Position:   pos,
		LifespanMs: lifespan.Milliseconds(),
	}
	c.state.SpawnBird(b)
	c.emit(BirdSpawnedEvent{Bird: b})
	c.tr.Send(&protocol.BirdSpawned{BirdID: b.ID, Position: pos, LifespanMs: b.LifespanMs})
}

// confirmHit applies a validated hit exactly once and broadcasts the
// confirmation. Competing detections for the same bird lose here, on the
// single authoritative side, which is what keeps scoring single-counted.
func (a *authority) confirmHit(birdID, shooterID string) {
	c := a.c
	if shooterID == "" || c.state.KillSeen(birdID) {
		return
	}
	if _, ok := c.state.Birds[birdID]; !ok {
		c.log.Debug("hit attempt for unknown bird", zap.String("birdId", birdID))
		return
	}
	points := c.cfg.BirdPoints
	c.applyKill(birdID, shooterID, points)
	c.tr.Send(&protocol.BirdHit{BirdID: birdID, BulletShooterID: shooterID, Points: points})
}

func (a *authority) tickBirds() {
	c := a.c
	for id, b := range c.state.Birds {
		b.AgeMs += 1000
		if b.LifespanMs > 0 && b.AgeMs >= b.LifespanMs {
			a.removeBird(id)
			continue
		}
		c.tr.Send(&protocol.BirdState{BirdID: id, Position: b.Position, AgeMs: b.AgeMs})
	}
}

func (a *authority) removeBird(id string) {
	c := a.c
	if c.state.RemoveBird(id) {
		c.emit(BirdRemovedEvent{ID: id})
		c.tr.Send(&protocol.BirdRemoved{BirdID: id})
	}
}

func (a *authority) spawnBall(pos, vel protocol.Vec3) {
	c := a.c
	b := game.Ball{ID: "ball-" + uuid.NewString(), Position: pos, Velocity: vel}
	if !c.state.SpawnBall(b) {
		return
	}
	c.emit(BallSpawnedEvent{Ball: b})
	c.tr.Send(&protocol.BallSpawned{BallID: b.ID, Position: pos, Velocity: vel})
}

func (a *authority) updateBall(pos, vel protocol.Vec3) {
	c := a.c
	if c.state.Ball == nil {
		return
	}
	id := c.state.Ball.ID
	c.state.ApplyBallState(id, pos, vel)
	c.emit(BallMovedEvent{ID: id, Position: pos, Velocity: vel})
	c.tr.Send(&protocol.BallState{BallID: id, Position: pos, Velocity: vel})
}

func (a *authority) removeBall() {
	c := a.c
	if c.state.Ball == nil {
		return
	}
	id := c.state.Ball.ID
	c.state.RemoveBall(id)
	c.emit(BallRemovedEvent{ID: id})
	c.tr.Send(&protocol.BallRemoved{BallID: id})
}

func (a *authority) sendSnapshot() {
	c := a.c
	snap := &protocol.Snapshot{
		Scores:      map[string]int{},
		Running:     c.match.running,
		StartTime:   c.match.startTime,
		Duration:    c.match.duration,
		CurrentTime: c.nowMs(),
	}
	for id, score := range c.state.Scores {
		snap.Scores[id] = score
	}
	for _, b := range c.state.Birds {
		snap.Birds = append(snap.Birds, protocol.BirdInfo{
			ID: b.ID, Position: b.Position, AgeMs: b.AgeMs, LifespanMs: b.LifespanMs,
		})
	}
	if b := c.state.Ball; b != nil {
		snap.Ball = &protocol.BallInfo{ID: b.ID, Position: b.Position, Velocity: b.Velocity}
	}
	c.tr.Send(snap)
}
