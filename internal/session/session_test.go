package session

import (
	"context"
	"testing"
	"time"

	"github.com/avocetvr/skyhunt/internal/conn"
	"github.com/avocetvr/skyhunt/pkg/protocol"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

// fakeTransport stands in for conn.Supervisor: frames pushed on events, sent
// messages captured on a channel. Like the real supervisor it stamps the
// local id on outbound frames.
type fakeTransport struct {
	id     string
	events chan conn.Event
	sent   chan protocol.Message
}

func newFakeTransport(id string) *fakeTransport {
	return &fakeTransport{
		id:     id,
		events: make(chan conn.Event, 256),
		sent:   make(chan protocol.Message, 256),
	}
}

func (f *fakeTransport) Connect(ctx context.Context) error { return nil }

func (f *fakeTransport) Send(m protocol.Message) {
	m.SetSender(f.id)
	select {
	case f.sent <- m:
	default:
	}
}

func (f *fakeTransport) Events() <-chan conn.Event { return f.events }
func (f *fakeTransport) Close()                    {}

func (f *fakeTransport) open() {
	f.events <- conn.Opened{LocalID: f.id}
}

// push injects an inbound frame as if sender had broadcast it.
func (f *fakeTransport) push(m protocol.Message, sender string) {
	m.SetSender(sender)
	f.events <- conn.Frame{Msg: m}
}

func awaitSent[T protocol.Message](t *testing.T, f *fakeTransport, within time.Duration) T {
	t.Helper()
	deadline := time.After(within)
	for {
		select {
		case m := <-f.sent:
			if v, ok := m.(T); ok {
				return v
			}
		case <-deadline:
			var zero T
			t.Fatalf("timed out waiting for sent %T", zero)
			return zero
		}
	}
}

func newTestClient(t *testing.T, localID string) (*Client, *fakeTransport, *clockwork.FakeClock) {
	t.Helper()
	fc := clockwork.NewFakeClock()
	cfg := DefaultConfig()
	cfg.Clock = fc
	tr := newFakeTransport(localID)
	c := New(context.Background(), cfg, tr, zaptest.NewLogger(t))
	t.Cleanup(c.Close)
	return c, tr, fc
}

func eventually(t *testing.T, cond func(View) bool, msg string, c *Client) {
	t.Helper()
	require.Eventually(t, func() bool { return cond(c.View()) },
		2*time.Second, 5*time.Millisecond, msg)
}

// becomeHost walks a client through open + host negotiation.
func becomeHost(t *testing.T, c *Client, tr *fakeTransport) string {
	t.Helper()
	tr.open()

	type result struct {
		code string
		err  error
	}
	done := make(chan result, 1)
	go func() {
		code, err := c.Host(context.Background())
		done <- result{code, err}
	}()

	hostMsg := awaitSent[*protocol.Host](t, tr, time.Second)
	require.Len(t, hostMsg.RoomCode, 6)
	tr.push(&protocol.HostConfirm{RoomCode: hostMsg.RoomCode}, "")

	select {
	case r := <-done:
		require.NoError(t, r.err)
		require.Equal(t, hostMsg.RoomCode, r.code)
		return r.code
	case <-time.After(2 * time.Second):
		t.Fatalf("host negotiation did not resolve")
		return ""
	}
}

// becomeGuest joins room "AB12CD" with hostID already present.
func becomeGuest(t *testing.T, c *Client, tr *fakeTransport, hostID string) {
	t.Helper()
	tr.open()

	done := make(chan error, 1)
	go func() {
		_, err := c.Join(context.Background(), "AB12CD")
		done <- err
	}()

	_ = awaitSent[*protocol.Join](t, tr, time.Second)
	tr.push(&protocol.JoinConfirm{
		RoomCode: "AB12CD",
		Players:  []protocol.PlayerInfo{{ID: hostID}},
	}, "")

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatalf("join negotiation did not resolve")
	}
	// A fresh guest asks for the transient-entity catch-up.
	_ = awaitSent[*protocol.RequestSnapshot](t, tr, time.Second)
}

func TestHostNegotiation(t *testing.T) {
	c, tr, _ := newTestClient(t, "A")
	code := becomeHost(t, c, tr)

	v := c.View()
	require.Equal(t, RoleHost, v.Role)
	require.Equal(t, code, v.RoomCode)
	require.True(t, v.Confirmed)
	require.Contains(t, v.Participants, "A")
}

func TestJoinSeedsRoster(t *testing.T) {
	c, tr, _ := newTestClient(t, "B")
	becomeGuest(t, c, tr, "H")

	v := c.View()
	require.Equal(t, RoleGuest, v.Role)
	require.ElementsMatch(t, []string{"B", "H"}, v.Participants)
}

func TestQuickJoinTimesOut(t *testing.T) {
	c, tr, fc := newTestClient(t, "B")
	tr.open()

	done := make(chan error, 1)
	go func() {
		_, err := c.QuickJoin(context.Background())
		done <- err
	}()
	_ = awaitSent[*protocol.AutoJoin](t, tr, time.Second)

	// Two tickers plus the autoJoin timer are now sleeping on the fake clock.
	fc.BlockUntil(3)
	fc.Advance(5 * time.Second)

	select {
	case err := <-done:
		require.ErrorIs(t, err, ErrAutoJoinTimeout)
	case <-time.After(2 * time.Second):
		t.Fatalf("quickJoin did not time out")
	}
	require.False(t, c.View().Confirmed)
}

func TestSelfOriginatedFramesAreIgnored(t *testing.T) {
	c, tr, _ := newTestClient(t, "B")
	becomeGuest(t, c, tr, "H")

	tr.push(&protocol.BirdSpawned{BirdID: "b-self"}, "B")
	tr.push(&protocol.BirdSpawned{BirdID: "b-host"}, "H")

	eventually(t, func(v View) bool {
		return len(v.Birds) == 1 && v.Birds[0] == "b-host"
	}, "only the host's spawn should apply", c)
}

func TestDuplicateSpawnIsNoOp(t *testing.T) {
	c, tr, _ := newTestClient(t, "B")
	becomeGuest(t, c, tr, "H")

	tr.push(&protocol.BirdSpawned{BirdID: "b-1", LifespanMs: 8000}, "H")
	tr.push(&protocol.BirdSpawned{BirdID: "b-1", LifespanMs: 8000}, "H")
	tr.push(&protocol.BirdSpawned{BirdID: "b-2", LifespanMs: 8000}, "H")

	eventually(t, func(v View) bool { return len(v.Birds) == 2 },
		"duplicate spawn must yield exactly one entity", c)
}

func TestRoomFramesIgnoredBeforeConfirmation(t *testing.T) {
	c, tr, _ := newTestClient(t, "B")
	tr.open()

	tr.push(&protocol.BirdSpawned{BirdID: "b-1"}, "H")
	tr.push(&protocol.ScoreUpdate{PlayerID: "H", Score: 50}, "H")

	// Roundtrip a view to let the loop drain, then check nothing stuck.
	eventually(t, func(v View) bool {
		return !v.Confirmed && len(v.Birds) == 0 && len(v.Scores) == 0
	}, "unconfirmed room must ignore room-scoped frames", c)
}

func TestDisconnectClearsRoomState(t *testing.T) {
	c, tr, _ := newTestClient(t, "B")
	becomeGuest(t, c, tr, "H")

	tr.push(&protocol.BirdSpawned{BirdID: "b-1"}, "H")
	eventually(t, func(v View) bool { return len(v.Birds) == 1 }, "bird should spawn", c)

	tr.events <- conn.Closed{Err: context.DeadlineExceeded}
	eventually(t, func(v View) bool {
		return !v.Confirmed && v.Role == RoleNone && len(v.Participants) == 0 && len(v.Birds) == 0
	}, "close must clear room and participant state", c)

	// Late frames from the dead room must not resurrect anything.
	tr.push(&protocol.BirdSpawned{BirdID: "b-2"}, "H")
	eventually(t, func(v View) bool { return len(v.Birds) == 0 },
		"stale frames must stay ignored after disconnect", c)
}

func TestGuestHitGoesThroughHost(t *testing.T) {
	c, tr, _ := newTestClient(t, "B")
	becomeGuest(t, c, tr, "H")

	tr.push(&protocol.BirdSpawned{BirdID: "b-1", LifespanMs: 60000}, "H")
	eventually(t, func(v View) bool { return len(v.Birds) == 1 }, "bird should spawn", c)

	c.ReportBirdHit("b-1", protocol.Vec3{X: 1})
	attempt := awaitSent[*protocol.BirdHitAttempt](t, tr, time.Second)
	require.Equal(t, "b-1", attempt.BirdID)

	// Nothing changed locally yet: no score, bird still alive.
	v := c.View()
	require.Empty(t, v.Scores)
	require.Len(t, v.Birds, 1)

	// Host confirms; now the effect applies, exactly once.
	tr.push(&protocol.BirdHit{BirdID: "b-1", BulletShooterID: "B", Points: 10}, "H")
	tr.push(&protocol.BirdHit{BirdID: "b-1", BulletShooterID: "B", Points: 10}, "H")
	eventually(t, func(v View) bool {
		return v.Scores["B"] == 10 && len(v.Birds) == 0
	}, "confirmed hit must score exactly once", c)
}

func TestHostConfirmsCompetingHitsOnce(t *testing.T) {
	c, tr, _ := newTestClient(t, "A")
	becomeHost(t, c, tr)

	require.NoError(t, c.SpawnBird(protocol.Vec3{Y: 5}, time.Minute))
	spawned := awaitSent[*protocol.BirdSpawned](t, tr, time.Second)

	// Two guests and the host all "detect" the same hit.
	tr.push(&protocol.BirdHitAttempt{BirdID: spawned.BirdID}, "B")
	tr.push(&protocol.BirdHitAttempt{BirdID: spawned.BirdID}, "C")
	c.ReportBirdHit(spawned.BirdID, protocol.Vec3{})

	hit := awaitSent[*protocol.BirdHit](t, tr, time.Second)
	winner := hit.BulletShooterID
	require.NotEmpty(t, winner)

	eventually(t, func(v View) bool {
		return v.Scores[winner] == 10 && len(v.Scores) == 1 && len(v.Birds) == 0
	}, "exactly one confirmation, one ledger increment", c)

	// No second confirmation may follow.
	select {
	case m := <-tr.sent:
		if _, ok := m.(*protocol.BirdHit); ok {
			t.Fatalf("second birdHit broadcast for the same bird")
		}
	case <-time.After(100 * time.Millisecond):
	}
}

func TestSnapshotCatchUp(t *testing.T) {
	c, tr, _ := newTestClient(t, "A")
	becomeHost(t, c, tr)

	require.NoError(t, c.SpawnBird(protocol.Vec3{Y: 4}, time.Minute))
	require.NoError(t, c.SpawnBall(protocol.Vec3{}, protocol.Vec3{X: 2}))

	tr.push(&protocol.RequestSnapshot{}, "B")
	snap := awaitSent[*protocol.Snapshot](t, tr, time.Second)
	require.Len(t, snap.Birds, 1)
	require.NotNil(t, snap.Ball)
}

func TestGuestAppliesSnapshot(t *testing.T) {
	c, tr, _ := newTestClient(t, "B")
	becomeGuest(t, c, tr, "H")

	tr.push(&protocol.Snapshot{
		Birds:  []protocol.BirdInfo{{ID: "b-1", LifespanMs: 60000}},
		Ball:   &protocol.BallInfo{ID: "ball-1"},
		Scores: map[string]int{"H": 20},
	}, "H")

	eventually(t, func(v View) bool {
		return len(v.Birds) == 1 && v.HasBall && v.Scores["H"] == 20
	}, "snapshot must seed transient state", c)
}
