package session

import (
	"crypto/rand"
	"errors"
	"math/big"

	"github.com/avocetvr/skyhunt/pkg/protocol"
	"go.uber.org/zap"
)

type intentKind int

const (
	intentHost intentKind = iota
	intentJoin
	intentQuickJoin
)

type pendingIntent struct {
	kind  intentKind
	code  string
	reply chan negotiationResult
}

// newRoomCode generates a 6-character code. Random alphanumeric is unique
// enough for a handful of rooms; the relay gives no server-side uniqueness
// guarantee either way.
func newRoomCode() (string, error) {
	const charset = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

	code := make([]byte, 6)
	for i := range code {
		num, err := rand.Int(rand.Reader, big.NewInt(int64(len(charset))))
		if err != nil {
			return "", err
		}
		code[i] = charset[num.Int64()]
	}
	return string(code), nil
}

func (c *Client) handleHost(cmd hostCmd) {
	if c.pending != nil || c.phase == phaseConfirmed {
		cmd.reply <- negotiationResult{err: ErrNegotiationBusy}
		return
	}
	code, err := newRoomCode()
	if err != nil {
		cmd.reply <- negotiationResult{err: err}
		return
	}
	c.phase = phaseHosting
	c.pending = &pendingIntent{kind: intentHost, code: code, reply: cmd.reply}
	c.tr.Send(&protocol.Host{RoomCode: code})
}

func (c *Client) handleJoin(cmd joinCmd) {
	if c.pending != nil || c.phase == phaseConfirmed {
		cmd.reply <- negotiationResult{err: ErrNegotiationBusy}
		return
	}
	c.phase = phaseJoining
	c.pending = &pendingIntent{kind: intentJoin, code: cmd.code, reply: cmd.reply}
	c.tr.Send(&protocol.Join{RoomCode: cmd.code})
}

func (c *Client) handleQuickJoin(cmd quickJoinCmd) {
	if c.pending != nil || c.phase == phaseConfirmed {
		cmd.reply <- negotiationResult{err: ErrNegotiationBusy}
		return
	}
	c.phase = phaseJoining
	c.pending = &pendingIntent{kind: intentQuickJoin, reply: cmd.reply}
	c.autoJoinTimer = c.clock.NewTimer(c.cfg.AutoJoinTimeout)
	c.tr.Send(&protocol.AutoJoin{})
}

func (c *Client) onAutoJoinTimeout() {
	c.autoJoinTimer = nil
	if c.pending == nil || c.pending.kind != intentQuickJoin {
		return
	}
	c.log.Warn("auto join timed out")
	c.failPending(ErrAutoJoinTimeout)
	c.phase = phaseIdle
}

func (c *Client) handleLeave(cmd leaveCmd) {
	if c.phase == phaseConfirmed {
		c.tr.Send(&protocol.Leave{RoomCode: c.roomCode})
	}
	c.resetRoom(ErrClientClosed)
	c.tr.Close()
	cmd.reply <- struct{}{}
}

func (c *Client) onHostConfirm(msg *protocol.HostConfirm) {
	if c.pending == nil || c.pending.kind != intentHost {
		c.log.Debug("ignoring stale hostConfirm")
		return
	}
	c.confirmRoom(RoleHost, msg.RoomCode, msg.Players)
}

func (c *Client) onJoinConfirm(code string, players []protocol.PlayerInfo) {
	if c.pending == nil || c.pending.kind == intentHost {
		c.log.Debug("ignoring stale join confirmation")
		return
	}
	c.confirmRoom(RoleGuest, code, players)
	// Late joiner: ask the host for transient entities already in flight.
	c.tr.Send(&protocol.RequestSnapshot{})
}

func (c *Client) confirmRoom(role Role, code string, players []protocol.PlayerInfo) {
	c.stopAutoJoinTimer()
	c.phase = phaseConfirmed
	c.role = role
	c.roomCode = code // relay's code is authoritative, not the one we sent
	if role == RoleHost {
		c.auth = &authority{c: c}
		if p := c.state.Participants[c.localID]; p != nil {
			p.IsHost = true
		}
	}
	for _, pi := range players {
		if c.state.AddParticipant(pi.ID, false, false) {
			c.emit(PlayerJoinedEvent{ID: pi.ID})
		}
	}

	c.log.Info("room confirmed",
		zap.String("roomCode", code), zap.String("role", string(role)))
	reply := c.pending.reply
	c.pending = nil
	reply <- negotiationResult{roomCode: code}
}

func (c *Client) onErrorFrame(msg *protocol.Error) {
	if c.pending != nil {
		c.failPending(errors.New(msg.Message))
		c.phase = phaseIdle
		return
	}
	c.log.Warn("relay error", zap.String("message", msg.Message))
}

func (c *Client) failPending(err error) {
	if c.pending == nil {
		return
	}
	c.pending.reply <- negotiationResult{err: err}
	c.pending = nil
}

func (c *Client) stopAutoJoinTimer() {
	if c.autoJoinTimer != nil {
		c.autoJoinTimer.Stop()
		c.autoJoinTimer = nil
	}
}
