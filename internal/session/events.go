package session

import (
	"time"

	"github.com/avocetvr/skyhunt/internal/game"
	"github.com/avocetvr/skyhunt/pkg/protocol"
)

// Status is what a UI shows for the connection.
type Status string

const (
	StatusConnected    Status = "connected"
	StatusDisconnected Status = "disconnected"
	// StatusOffline is terminal: reconnect attempts are exhausted and only an
	// explicit user retry will help.
	StatusOffline Status = "offline"
)

// Event is the closed union fed to collaborators (renderer, audio, UI). The
// sync layer never hears back from them.
type Event interface{ isSessionEvent() }

type StatusEvent struct{ Status Status }

type PlayerJoinedEvent struct{ ID string }

type PlayerLeftEvent struct{ ID string }

type PlayerMovedEvent struct {
	ID   string
	Pose protocol.Pose
}

type BirdSpawnedEvent struct{ Bird game.Bird }

type BirdMovedEvent struct {
	ID       string
	Position protocol.Vec3
	AgeMs    int64
}

type BirdRemovedEvent struct{ ID string }

type BirdKilledEvent struct {
	ID        string
	ShooterID string
	Points    int
}

type BallSpawnedEvent struct{ Ball game.Ball }

type BallMovedEvent struct {
	ID       string
	Position protocol.Vec3
	Velocity protocol.Vec3
}

type BallRemovedEvent struct{ ID string }

type ScoreChangedEvent struct {
	PlayerID string
	Score    int
}

type ScoresResetEvent struct{}

type MatchStartedEvent struct{ Duration time.Duration }

type MatchEndedEvent struct{ Scores map[string]int }

type TimerTickEvent struct{ Remaining time.Duration }

func (StatusEvent) isSessionEvent()       {}
func (PlayerJoinedEvent) isSessionEvent() {}
func (PlayerLeftEvent) isSessionEvent()   {}
func (PlayerMovedEvent) isSessionEvent()  {}
func (BirdSpawnedEvent) isSessionEvent()  {}
func (BirdMovedEvent) isSessionEvent()    {}
func (BirdRemovedEvent) isSessionEvent()  {}
func (BirdKilledEvent) isSessionEvent()   {}
func (BallSpawnedEvent) isSessionEvent()  {}
func (BallMovedEvent) isSessionEvent()    {}
func (BallRemovedEvent) isSessionEvent()  {}
func (ScoreChangedEvent) isSessionEvent() {}
func (ScoresResetEvent) isSessionEvent()  {}
func (MatchStartedEvent) isSessionEvent() {}
func (MatchEndedEvent) isSessionEvent()   {}
func (TimerTickEvent) isSessionEvent()    {}

// emit never blocks the loop; a collaborator that cannot keep up loses
// events, same as the renderer missing frames.
func (c *Client) emit(ev Event) {
	select {
	case c.events <- ev:
	default:
		c.log.Warn("collaborator event buffer full, dropping event")
	}
}
