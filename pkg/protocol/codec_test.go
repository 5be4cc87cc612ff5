package protocol

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDecodeKnownFrame(t *testing.T) {
	data := []byte(`{"type":"birdHit","senderId":"A","birdId":"b-1","bulletShooterId":"B","points":10}`)

	m, err := Decode(data)
	require.NoError(t, err)

	hit, ok := m.(*BirdHit)
	require.True(t, ok, "expected *BirdHit, got %T", m)
	require.Equal(t, "A", hit.Sender())
	require.Equal(t, "b-1", hit.BirdID)
	require.Equal(t, "B", hit.BulletShooterID)
	require.Equal(t, 10, hit.Points)
}

func TestDecodePositionFrame(t *testing.T) {
	data := []byte(`{"type":"position","senderId":"A","id":"A",` +
		`"position":{"x":1,"y":2,"z":3},` +
		`"headPosition":{"x":1,"y":3.5,"z":3},` +
		`"headRotation":{"x":0,"y":0,"z":0,"w":1},` +
		`"controllers":[{"position":{"x":0,"y":1,"z":0},"rotation":{"x":0,"y":0,"z":0,"w":1}}]}`)

	m, err := Decode(data)
	require.NoError(t, err)

	pos, ok := m.(*Position)
	require.True(t, ok, "expected *Position, got %T", m)
	require.Equal(t, Vec3{X: 1, Y: 2, Z: 3}, pos.Pose.Position)
	require.Equal(t, 3.5, pos.HeadPosition.Y)
	require.Len(t, pos.Controllers, 1)
}

func TestDecodeUnknownTypeIsNotAnError(t *testing.T) {
	data := []byte(`{"type":"fogDensity","senderId":"A","density":0.4}`)

	m, err := Decode(data)
	require.NoError(t, err)

	u, ok := m.(*Unknown)
	require.True(t, ok, "expected *Unknown, got %T", m)
	require.Equal(t, Type("fogDensity"), u.Type)
	require.Equal(t, "A", u.Sender())
	require.JSONEq(t, string(data), string(u.Raw))
}

func TestDecodeMissingType(t *testing.T) {
	_, err := Decode([]byte(`{"senderId":"A"}`))
	require.ErrorIs(t, err, ErrMissingType)

	_, err = Decode([]byte(`not json`))
	require.Error(t, err)
}

func TestEncodeStampsType(t *testing.T) {
	data, err := Encode(&GameStart{StartTime: 1700000000000, Duration: 120000})
	require.NoError(t, err)

	m, err := Decode(data)
	require.NoError(t, err)

	gs, ok := m.(*GameStart)
	require.True(t, ok, "expected *GameStart, got %T", m)
	require.Equal(t, int64(1700000000000), gs.StartTime)
	require.Equal(t, int64(120000), gs.Duration)
}

func TestSetSenderDoesNotOverwrite(t *testing.T) {
	m := &BirdHitAttempt{BirdID: "b-1"}
	m.SetSender("A")
	m.SetSender("B")
	require.Equal(t, "A", m.Sender())
}
