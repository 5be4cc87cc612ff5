// Package game holds the replicated shared state for one room: participants,
// transient entities, and the score ledger. It is pure data plus idempotent
// mutations; one session loop owns each State, so nothing here locks.
package game

import "github.com/avocetvr/skyhunt/pkg/protocol"

type Participant struct {
	ID      string
	IsLocal bool
	IsHost  bool
}

type Bird struct {
	ID         string
	Position   protocol.Vec3
	AgeMs      int64
	LifespanMs int64
}

type Ball struct {
	ID       string
	Position protocol.Vec3
	Velocity protocol.Vec3
}

type State struct {
	Participants map[string]*Participant
	Birds        map[string]*Bird
	Ball         *Ball
	Scores       map[string]int

	// killed remembers which bird ids already scored so duplicate hit
	// confirmations never double-count.
	killed map[string]bool
}

func NewState() *State {
	return &State{
		Participants: map[string]*Participant{},
		Birds:        map[string]*Bird{},
		Scores:       map[string]int{},
		killed:       map[string]bool{},
	}
}

// AddParticipant registers a participant; re-adding an existing id is a no-op
// and reports false.
func (s *State) AddParticipant(id string, local, host bool) bool {
	if _, ok := s.Participants[id]; ok {
		return false
	}
	s.Participants[id] = &Participant{ID: id, IsLocal: local, IsHost: host}
	return true
}

func (s *State) RemoveParticipant(id string) bool {
	if _, ok := s.Participants[id]; !ok {
		return false
	}
	delete(s.Participants, id)
	return true
}

// SpawnBird creates a bird; a second spawn with the same id is a no-op, which
// guards against duplicate delivery and the local-spawn/network-echo race.
func (s *State) SpawnBird(b Bird) bool {
	if _, ok := s.Birds[b.ID]; ok {
		return false
	}
	bird := b
	s.Birds[b.ID] = &bird
	return true
}

// ApplyBirdState overwrites a bird's kinematic state unconditionally
// (last-writer-wins from the single authoritative sender). Unknown ids report
// false and change nothing.
func (s *State) ApplyBirdState(id string, pos protocol.Vec3, ageMs int64) bool {
	b, ok := s.Birds[id]
	if !ok {
		return false
	}
	b.Position = pos
	b.AgeMs = ageMs
	return true
}

func (s *State) RemoveBird(id string) bool {
	if _, ok := s.Birds[id]; !ok {
		return false
	}
	delete(s.Birds, id)
	return true
}

func (s *State) SpawnBall(b Ball) bool {
	if s.Ball != nil && s.Ball.ID == b.ID {
		return false
	}
	ball := b
	s.Ball = &ball
	return true
}

func (s *State) ApplyBallState(id string, pos, vel protocol.Vec3) bool {
	if s.Ball == nil || s.Ball.ID != id {
		return false
	}
	s.Ball.Position = pos
	s.Ball.Velocity = vel
	return true
}

func (s *State) RemoveBall(id string) bool {
	if s.Ball == nil || s.Ball.ID != id {
		return false
	}
	s.Ball = nil
	return true
}

// ApplyKill removes the bird and credits the shooter exactly once per bird
// id. Repeated application reports false and leaves the ledger untouched.
func (s *State) ApplyKill(birdID, shooterID string, points int) bool {
	if s.killed[birdID] {
		return false
	}
	s.killed[birdID] = true
	delete(s.Birds, birdID)
	s.Scores[shooterID] += points
	return true
}

// KillSeen reports whether a bird id has already been scored.
func (s *State) KillSeen(birdID string) bool { return s.killed[birdID] }

// SetScore applies an absolute score fact broadcast by a peer.
func (s *State) SetScore(playerID string, score int) {
	s.Scores[playerID] = score
}

func (s *State) ResetScores() {
	s.Scores = map[string]int{}
	s.killed = map[string]bool{}
}

// ClearTransient drops birds and the ball, e.g. on match start and end. The
// ledger is left alone so end-of-match scores stay displayable.
func (s *State) ClearTransient() {
	s.Birds = map[string]*Bird{}
	s.Ball = nil
}
