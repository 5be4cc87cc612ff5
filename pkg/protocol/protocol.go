// Package protocol defines the wire messages exchanged between clients and
// the relay. Frames are flat JSON objects tagged by a "type" field; every
// known frame decodes to one variant of the closed Message union, anything
// else lands in Unknown so new message types never break old clients.
package protocol

import "encoding/json"

type Type string

const (
	TypeInit            Type = "init"
	TypeHost            Type = "host"
	TypeHostConfirm     Type = "hostConfirm"
	TypeJoin            Type = "join"
	TypeJoinConfirm     Type = "joinConfirm"
	TypeAutoJoin        Type = "autoJoin"
	TypeAutoJoinConfirm Type = "autoJoinConfirm"
	TypeLeave           Type = "leave"
	TypePlayerJoined    Type = "playerJoined"
	TypePlayerLeft      Type = "playerLeft"
	TypePosition        Type = "position"
	TypeBirdSpawned     Type = "birdSpawned"
	TypeBirdState       Type = "birdState"
	TypeBirdRemoved     Type = "birdRemoved"
	TypeBirdHitAttempt  Type = "birdHitAttempt"
	TypeBirdHit         Type = "birdHit"
	TypeBallSpawned     Type = "ballSpawned"
	TypeBallState       Type = "ballState"
	TypeBallRemoved     Type = "ballRemoved"
	TypeGameStart       Type = "gameStart"
	TypeGameEnd         Type = "gameEnd"
	TypeTimerSync       Type = "timerSync"
	TypeScoreUpdate     Type = "scoreUpdate"
	TypeScoreReset      Type = "scoreReset"
	TypeRequestSnapshot Type = "requestSnapshot"
	TypeSnapshot        Type = "snapshot"
	TypeError           Type = "error"
)

// Message is the closed union of wire frames. Implementations embed Header;
// the union is sealed so the dispatcher can switch exhaustively.
type Message interface {
	Sender() string
	SetSender(id string)
	setType(t Type)
	isMessage()
}

// Header carries the fields common to every frame.
type Header struct {
	Type     Type   `json:"type"`
	SenderID string `json:"senderId,omitempty"`
}

func (h *Header) Sender() string { return h.SenderID }

// SetSender stamps the sender id if the frame does not carry one yet.
func (h *Header) SetSender(id string) {
	if h.SenderID == "" {
		h.SenderID = id
	}
}

func (h *Header) setType(t Type) { h.Type = t }
func (h *Header) isMessage()     {}

type Vec3 struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
}

type Quat struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
	W float64 `json:"w"`
}

type ControllerPose struct {
	Position Vec3 `json:"position"`
	Rotation Quat `json:"rotation"`
}

// Pose is a full avatar sample: body anchor, head, and both controllers.
type Pose struct {
	Position     Vec3             `json:"position"`
	HeadPosition Vec3             `json:"headPosition"`
	HeadRotation Quat             `json:"headRotation"`
	Controllers  []ControllerPose `json:"controllers,omitempty"`
}

type PlayerInfo struct {
	ID string `json:"id"`
}

// Init is the relay's first frame on a fresh connection; it assigns the
// connection its participant id.
type Init struct {
	Header
	ID string `json:"id"`
}

type Host struct {
	Header
	RoomCode string `json:"roomCode"`
}

type HostConfirm struct {
	Header
	RoomCode string       `json:"roomCode"`
	Players  []PlayerInfo `json:"players"`
}

type Join struct {
	Header
	RoomCode string `json:"roomCode"`
}

type JoinConfirm struct {
	Header
	RoomCode string       `json:"roomCode"`
	Players  []PlayerInfo `json:"players"`
}

type AutoJoin struct {
	Header
}

type AutoJoinConfirm struct {
	Header
	RoomCode string       `json:"roomCode"`
	Players  []PlayerInfo `json:"players"`
}

type Leave struct {
	Header
	RoomCode string `json:"roomCode,omitempty"`
}

type PlayerJoined struct {
	Header
	ID string `json:"id"`
}

type PlayerLeft struct {
	Header
	ID string `json:"id"`
}

// Position replicates an avatar pose. ID is redundant with SenderID in
// normal traffic but kept so a renderer can address the entity directly.
type Position struct {
	Header
	ID string `json:"id"`
	Pose
}

type BirdSpawned struct {
	Header
	BirdID     string `json:"birdId"`
	Position   Vec3   `json:"position"`
	LifespanMs int64  `json:"lifespanMs"`
}

type BirdState struct {
	Header
	BirdID   string `json:"birdId"`
	Position Vec3   `json:"position"`
	AgeMs    int64  `json:"ageMs"`
}

type BirdRemoved struct {
	Header
	BirdID string `json:"birdId"`
}

// BirdHitAttempt asks the host to validate a locally detected hit. Only the
// host's BirdHit broadcast mutates shared state.
type BirdHitAttempt struct {
	Header
	BirdID   string `json:"birdId"`
	Position Vec3   `json:"position"`
}

type BirdHit struct {
	Header
	BirdID          string `json:"birdId"`
	BulletShooterID string `json:"bulletShooterId"`
	Points          int    `json:"points"`
}

type BallSpawned struct {
	Header
	BallID   string `json:"ballId"`
	Position Vec3   `json:"position"`
	Velocity Vec3   `json:"velocity"`
}

type BallState struct {
	Header
	BallID   string `json:"ballId"`
	Position Vec3   `json:"position"`
	Velocity Vec3   `json:"velocity"`
}

type BallRemoved struct {
	Header
	BallID string `json:"ballId"`
}

type GameStart struct {
	Header
	StartTime int64 `json:"startTime"` // epoch ms on the host's clock
	Duration  int64 `json:"duration"`  // ms
}

type GameEnd struct {
	Header
}

// TimerSync lets guests correct clock skew against the host. GameTime is the
// elapsed match time in whole seconds as the host sees it.
type TimerSync struct {
	Header
	CurrentTime   int64 `json:"currentTime"`
	GameStartTime int64 `json:"gameStartTime"`
	GameDuration  int64 `json:"gameDuration"`
	GameTime      int64 `json:"gameTime"`
}

type ScoreUpdate struct {
	Header
	PlayerID string `json:"playerId"`
	Score    int    `json:"score"`
}

type ScoreReset struct {
	Header
}

// RequestSnapshot asks the host for a late-join catch-up of transient state.
type RequestSnapshot struct {
	Header
}

type BirdInfo struct {
	ID         string `json:"id"`
	Position   Vec3   `json:"position"`
	AgeMs      int64  `json:"ageMs"`
	LifespanMs int64  `json:"lifespanMs"`
}

type BallInfo struct {
	ID       string `json:"id"`
	Position Vec3   `json:"position"`
	Velocity Vec3   `json:"velocity"`
}

type Snapshot struct {
	Header
	Birds       []BirdInfo     `json:"birds"`
	Ball        *BallInfo      `json:"ball,omitempty"`
	Scores      map[string]int `json:"scores"`
	Running     bool           `json:"running"`
	StartTime   int64          `json:"startTime,omitempty"`
	Duration    int64          `json:"duration,omitempty"`
	CurrentTime int64          `json:"currentTime,omitempty"`
}

type Error struct {
	Header
	Message string `json:"message"`
}

// Unknown preserves a frame whose type this build does not recognize.
type Unknown struct {
	Header
	Raw json.RawMessage `json:"-"`
}
