package session

import (
	"github.com/avocetvr/skyhunt/pkg/protocol"
	"go.uber.org/zap"
)

// dispatch is the single inbound choke point. It drops self-originated
// frames (some relay deployments echo to the sender), lets negotiation
// frames through regardless of room state, and gates everything else on a
// confirmed room so late frames from a left room cannot resurrect state.
// Unknown frame types are logged and ignored, never fatal.
func (c *Client) dispatch(m protocol.Message) {
	if sid := m.Sender(); sid != "" && sid == c.localID {
		return
	}

	switch msg := m.(type) {
	case *protocol.Init:
		// The supervisor consumes init during its handshake; a duplicate is
		// harmless noise.
	case *protocol.HostConfirm:
		c.onHostConfirm(msg)
	case *protocol.JoinConfirm:
		c.onJoinConfirm(msg.RoomCode, msg.Players)
	case *protocol.AutoJoinConfirm:
		c.onJoinConfirm(msg.RoomCode, msg.Players)
	case *protocol.Error:
		c.onErrorFrame(msg)
	default:
		if c.phase != phaseConfirmed {
			c.log.Debug("ignoring room frame with no confirmed room",
				zap.String("frameType", string(protocol.TypeOf(m))))
			return
		}
		c.dispatchRoom(m)
	}
}

func (c *Client) dispatchRoom(m protocol.Message) {
	switch msg := m.(type) {
	case *protocol.PlayerJoined:
		c.onPlayerJoined(msg)
	case *protocol.PlayerLeft:
		c.onPlayerLeft(msg)
	case *protocol.Position:
		c.onPosition(msg)
	case *protocol.BirdSpawned:
		c.onBirdSpawned(msg)
	case *protocol.BirdState:
		c.onBirdState(msg)
	case *protocol.BirdRemoved:
		c.onBirdRemoved(msg)
	case *protocol.BirdHitAttempt:
		c.onBirdHitAttempt(msg)
	case *protocol.BirdHit:
		c.onBirdHit(msg)
	case *protocol.BallSpawned:
		c.onBallSpawned(msg)
	case *protocol.BallState:
		c.onBallState(msg)
	case *protocol.BallRemoved:
		c.onBallRemoved(msg)
	case *protocol.GameStart:
		c.onGameStart(msg)
	case *protocol.GameEnd:
		c.onGameEnd(msg)
	case *protocol.TimerSync:
		c.onTimerSync(msg)
	case *protocol.ScoreUpdate:
		c.onScoreUpdate(msg)
	case *protocol.ScoreReset:
		c.onScoreReset(msg)
	case *protocol.RequestSnapshot:
		c.onRequestSnapshot(msg)
	case *protocol.Snapshot:
		c.onSnapshot(msg)
	case *protocol.Host, *protocol.Join, *protocol.AutoJoin, *protocol.Leave:
		// Another member's intents, echoed by the relay. Membership changes
		// reach us as playerJoined/playerLeft instead.
	case *protocol.Unknown:
		c.log.Debug("ignoring unknown frame type",
			zap.String("frameType", string(msg.Type)))
	default:
		c.log.Debug("unhandled frame",
			zap.String("frameType", string(protocol.TypeOf(m))))
	}
}
