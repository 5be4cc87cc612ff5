package conn

import (
	"context"

	"github.com/coder/websocket"
)

// Stream is the minimal duplex text-frame surface the supervisor needs from a
// websocket. Tests substitute an in-memory implementation.
type Stream interface {
	Read(ctx context.Context) ([]byte, error)
	Write(ctx context.Context, data []byte) error
	Close() error
}

type Dialer func(ctx context.Context, url string) (Stream, error)

type wsStream struct {
	c *websocket.Conn
}

func (s wsStream) Read(ctx context.Context) ([]byte, error) {
	_, data, err := s.c.Read(ctx)
	return data, err
}

func (s wsStream) Write(ctx context.Context, data []byte) error {
	return s.c.Write(ctx, websocket.MessageText, data)
}

func (s wsStream) Close() error {
	return s.c.Close(websocket.StatusNormalClosure, "bye")
}

// DialWebsocket is the production Dialer.
func DialWebsocket(ctx context.Context, url string) (Stream, error) {
	c, _, err := websocket.Dial(ctx, url, nil)
	if err != nil {
		return nil, err
	}
	return wsStream{c: c}, nil
}
