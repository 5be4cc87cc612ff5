package protocol

import (
	"errors"
	"fmt"

	"encoding/json"
)

var ErrMissingType = errors.New("frame has no type field")

// Decode parses one JSON frame. A frame with an unrecognized type decodes to
// *Unknown rather than failing; a frame with no type at all is an error.
func Decode(data []byte) (Message, error) {
	var probe Header
	if err := json.Unmarshal(data, &probe); err != nil {
		return nil, fmt.Errorf("decode frame: %w", err)
	}
	if probe.Type == "" {
		return nil, ErrMissingType
	}

	m := newMessage(probe.Type)
	if m == nil {
		return &Unknown{Header: probe, Raw: append([]byte(nil), data...)}, nil
	}
	if err := json.Unmarshal(data, m); err != nil {
		return nil, fmt.Errorf("decode %s: %w", probe.Type, err)
	}
	return m, nil
}

// Encode marshals a frame, stamping its type tag from the concrete variant so
// callers never set it by hand.
func Encode(m Message) ([]byte, error) {
	t := TypeOf(m)
	if t == "" {
		return nil, fmt.Errorf("encode: unencodable message %T", m)
	}
	m.setType(t)
	return json.Marshal(m)
}

func newMessage(t Type) Message {
	switch t {
	case TypeInit:
		return &Init{}
	case TypeHost:
		return &Host{}
	case TypeHostConfirm:
		return &HostConfirm{}
	case TypeJoin:
		return &Join{}
	case TypeJoinConfirm:
		return &JoinConfirm{}
	case TypeAutoJoin:
		return &AutoJoin{}
	case TypeAutoJoinConfirm:
		return &AutoJoinConfirm{}
	case TypeLeave:
		return &Leave{}
	case TypePlayerJoined:
		return &PlayerJoined{}
	case TypePlayerLeft:
		return &PlayerLeft{}
	case TypePosition:
		return &Position{}
	case TypeBirdSpawned:
		return &BirdSpawned{}
	case TypeBirdState:
		return &BirdState{}
	case TypeBirdRemoved:
		return &BirdRemoved{}
	case TypeBirdHitAttempt:
		return &BirdHitAttempt{}
	case TypeBirdHit:
		return &BirdHit{}
	case TypeBallSpawned:
		return &BallSpawned{}
	case TypeBallState:
		return &BallState{}
	case TypeBallRemoved:
		return &BallRemoved{}
	case TypeGameStart:
		return &GameStart{}
	case TypeGameEnd:
		return &GameEnd{}
	case TypeTimerSync:
		return &TimerSync{}
	case TypeScoreUpdate:
		return &ScoreUpdate{}
	case TypeScoreReset:
		return &ScoreReset{}
	case TypeRequestSnapshot:
		return &RequestSnapshot{}
	case TypeSnapshot:
		return &Snapshot{}
	case TypeError:
		return &Error{}
	default:
		return nil
	}
}

// TypeOf reports the wire type tag for a concrete variant, or "" for types
// that cannot be sent (Unknown).
func TypeOf(m Message) Type {
	switch m.(type) {
	case *Init:
		return TypeInit
	case *Host:
		return TypeHost
	case *HostConfirm:
		return TypeHostConfirm
	case *Join:
		return TypeJoin
	case *JoinConfirm:
		return TypeJoinConfirm
	case *AutoJoin:
		return TypeAutoJoin
	case *AutoJoinConfirm:
		return TypeAutoJoinConfirm
	case *Leave:
		return TypeLeave
	case *PlayerJoined:
		return TypePlayerJoined
	case *PlayerLeft:
		return TypePlayerLeft
	case *Position:
		return TypePosition
	case *BirdSpawned:
		return TypeBirdSpawned
	case *BirdState:
		return TypeBirdState
	case *BirdRemoved:
		return TypeBirdRemoved
	case *BirdHitAttempt:
		return TypeBirdHitAttempt
	case *BirdHit:
		return TypeBirdHit
	case *BallSpawned:
		return TypeBallSpawned
	case *BallState:
		return TypeBallState
	case *BallRemoved:
		return TypeBallRemoved
	case *GameStart:
		return TypeGameStart
	case *GameEnd:
		return TypeGameEnd
	case *TimerSync:
		return TypeTimerSync
	case *ScoreUpdate:
		return TypeScoreUpdate
	case *ScoreReset:
		return TypeScoreReset
	case *RequestSnapshot:
		return TypeRequestSnapshot
	case *Snapshot:
		return TypeSnapshot
	case *Error:
		return TypeError
	default:
		return ""
	}
}
