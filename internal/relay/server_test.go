package relay_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/avocetvr/skyhunt/internal/conn"
	"github.com/avocetvr/skyhunt/internal/relay"
	"github.com/avocetvr/skyhunt/internal/session"
	"github.com/avocetvr/skyhunt/pkg/protocol"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func startRelay(t *testing.T) string {
	t.Helper()
	srv := relay.NewServer(context.Background(), zaptest.NewLogger(t))
	t.Cleanup(srv.Close)
	ts := httptest.NewServer(relay.Routes(srv))
	t.Cleanup(ts.Close)
	return "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
}

func newClient(t *testing.T, wsURL string) *session.Client {
	t.Helper()
	sup := conn.New(context.Background(), conn.DefaultConfig(wsURL), zaptest.NewLogger(t))
	c := session.New(context.Background(), session.DefaultConfig(), sup, zaptest.NewLogger(t))
	t.Cleanup(c.Close)
	return c
}

func await(t *testing.T, c *session.Client, cond func(session.View) bool, msg string) {
	t.Helper()
	require.Eventually(t, func() bool { return cond(c.View()) },
		5*time.Second, 10*time.Millisecond, msg)
}

func TestHealthz(t *testing.T) {
	srv := relay.NewServer(context.Background(), zaptest.NewLogger(t))
	t.Cleanup(srv.Close)
	ts := httptest.NewServer(relay.Routes(srv))
	t.Cleanup(ts.Close)

	resp, err := http.Get(ts.URL + "/healthz")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
}

// TestEndToEndOverRelay drives two real clients through a full round: host a
// room, join it, replicate a bird, score a guest hit through the host, leave.
func TestEndToEndOverRelay(t *testing.T) {
	wsURL := startRelay(t)
	host := newClient(t, wsURL)
	guest := newClient(t, wsURL)

	code, err := host.Host(context.Background())
	require.NoError(t, err)
	require.Len(t, code, 6)

	joined, err := guest.Join(context.Background(), code)
	require.NoError(t, err)
	require.Equal(t, code, joined)

	await(t, host, func(v session.View) bool { return len(v.Participants) == 2 },
		"host should see the guest arrive")
	await(t, guest, func(v session.View) bool { return len(v.Participants) == 2 },
		"guest roster should include the host")

	require.NoError(t, host.StartMatch())
	await(t, guest, func(v session.View) bool { return v.MatchRunning },
		"gameStart should reach the guest")

	require.NoError(t, host.SpawnBird(protocol.Vec3{Y: 6}, time.Minute))
	var birdID string
	require.Eventually(t, func() bool {
		v := guest.View()
		if len(v.Birds) == 1 {
			birdID = v.Birds[0]
			return true
		}
		return false
	}, 5*time.Second, 10*time.Millisecond, "birdSpawned should reach the guest")

	guestID := guest.View().LocalID
	require.NotEmpty(t, guestID)
	guest.ReportBirdHit(birdID, protocol.Vec3{Y: 6})

	await(t, host, func(v session.View) bool {
		return v.Scores[guestID] == 10 && len(v.Birds) == 0
	}, "host should validate the hit and credit the guest")
	await(t, guest, func(v session.View) bool {
		return v.Scores[guestID] == 10 && len(v.Birds) == 0
	}, "birdHit confirmation should reach the guest")

	guest.Leave()
	await(t, host, func(v session.View) bool { return len(v.Participants) == 1 },
		"host should see the guest leave")
}

func TestQuickJoinFindsOpenRoom(t *testing.T) {
	wsURL := startRelay(t)
	host := newClient(t, wsURL)
	guest := newClient(t, wsURL)

	code, err := host.Host(context.Background())
	require.NoError(t, err)

	joined, err := guest.QuickJoin(context.Background())
	require.NoError(t, err)
	require.Equal(t, code, joined)
}

func TestJoinUnknownRoomFails(t *testing.T) {
	wsURL := startRelay(t)
	guest := newClient(t, wsURL)

	_, err := guest.Join(context.Background(), "ZZZZZZ")
	require.Error(t, err)
}

func TestLateJoinerReceivesSnapshot(t *testing.T) {
	wsURL := startRelay(t)
	host := newClient(t, wsURL)

	code, err := host.Host(context.Background())
	require.NoError(t, err)
	require.NoError(t, host.StartMatch())
	require.NoError(t, host.SpawnBird(protocol.Vec3{Y: 4}, time.Minute))
	require.NoError(t, host.SpawnBall(protocol.Vec3{}, protocol.Vec3{X: 1}))

	late := newClient(t, wsURL)
	_, err = late.Join(context.Background(), code)
	require.NoError(t, err)

	await(t, late, func(v session.View) bool {
		return v.MatchRunning && len(v.Birds) == 1 && v.HasBall
	}, "snapshot should carry the running match and transient entities")
}
