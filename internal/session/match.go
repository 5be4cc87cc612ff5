package session

import (
	"time"

	"github.com/avocetvr/skyhunt/pkg/protocol"
	"go.uber.org/zap"
)

func (c *Client) handleStartMatch(cmd startMatchCmd) {
	if c.auth == nil {
		cmd.reply <- ErrNotHost
		return
	}
	if c.match.running {
		cmd.reply <- nil
		return
	}
	c.auth.startMatch()
	cmd.reply <- nil
}

func (a *authority) startMatch() {
	c := a.c
	c.state.ResetScores()
	c.state.ClearTransient()
	c.match = matchState{
		running:   true,
		startTime: c.nowMs(),
		duration:  c.cfg.MatchDuration.Milliseconds(),
	}
	c.tr.Send(&protocol.GameStart{StartTime: c.match.startTime, Duration: c.match.duration})
	c.emit(ScoresResetEvent{})
	c.emit(MatchStartedEvent{Duration: c.cfg.MatchDuration})
	c.log.Info("match started", zap.Int64("durationMs", c.match.duration))
}

// onGameStart is the guest path: adopt the host's timing verbatim. A
// gameStart while already running is a duplicate and is ignored.
func (c *Client) onGameStart(msg *protocol.GameStart) {
	if c.match.running {
		return
	}
	c.state.ResetScores()
	c.state.ClearTransient()
	c.match = matchState{
		running:   true,
		startTime: msg.StartTime,
		duration:  msg.Duration,
	}
	c.emit(ScoresResetEvent{})
	c.emit(MatchStartedEvent{Duration: time.Duration(msg.Duration) * time.Millisecond})
}

// onGameEnd ends the match. Only the host ever sends this; a guest's own
// countdown reaching zero does not end anything.
func (c *Client) onGameEnd(_ *protocol.GameEnd) {
	if !c.match.running {
		return
	}
	c.match.running = false
	c.match.localDone = false
	c.state.ClearTransient()
	// Ledger stays intact for the end-of-match display.
	c.emit(MatchEndedEvent{Scores: c.scoresCopy()})
}

// onTimerSync corrects guest clock skew against the host. The offset is
// recomputed from this sync alone, replacing the previous value; it never
// accumulates.
func (c *Client) onTimerSync(msg *protocol.TimerSync) {
	if c.auth != nil {
		return
	}
	if !c.match.running {
		// A sync straggling in after gameEnd must not resurrect the match.
		return
	}
	c.match.clockOffset = msg.CurrentTime - c.nowMs()
	c.match.startTime = msg.GameStartTime
	c.match.duration = msg.GameDuration
}

// hostNowMs maps the local monotonic-ish clock into the host's frame.
func (c *Client) hostNowMs() int64 { return c.nowMs() + c.match.clockOffset }

func (c *Client) remainingMs() int64 {
	if !c.match.running {
		return 0
	}
	rem := c.match.duration - (c.hostNowMs() - c.match.startTime)
	if rem < 0 {
		rem = 0
	}
	return rem
}

func (c *Client) tickMatch() {
	if !c.match.running {
		return
	}
	rem := c.remainingMs()

	if c.auth != nil {
		now := c.nowMs()
		c.tr.Send(&protocol.TimerSync{
			CurrentTime:   now,
			GameStartTime: c.match.startTime,
			GameDuration:  c.match.duration,
			GameTime:      (now - c.match.startTime) / 1000,
		})
		c.emit(TimerTickEvent{Remaining: time.Duration(rem) * time.Millisecond})
		if rem <= 0 {
			c.auth.endMatch()
		}
		return
	}

	if c.match.localDone {
		return
	}
	c.emit(TimerTickEvent{Remaining: time.Duration(rem) * time.Millisecond})
	if rem <= 0 {
		// Stop the display tick and wait for the host's gameEnd. The guest
		// never decides on its own clock that the match is over.
		c.match.localDone = true
	}
}

func (a *authority) endMatch() {
	c := a.c
	c.match.running = false
	c.state.ClearTransient()
	c.tr.Send(&protocol.GameEnd{})
	c.emit(MatchEndedEvent{Scores: c.scoresCopy()})
	c.log.Info("match ended")
}

func (c *Client) scoresCopy() map[string]int {
	out := make(map[string]int, len(c.state.Scores))
	for id, s := range c.state.Scores {
		out[id] = s
	}
	return out
}
