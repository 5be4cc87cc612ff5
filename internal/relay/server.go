// Package relay implements the reference relay: it assigns connection ids,
// tracks room membership by code, and forwards every game frame verbatim to
// the other members of the sender's room. It never interprets game semantics;
// the host-authority rules live entirely in the clients.
package relay

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/avocetvr/skyhunt/pkg/protocol"
	"github.com/coder/websocket"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

type serverMsg interface{ isServerMsg() }

type connOpened struct{ m *member }
type connClosed struct{ id string }
type inboundFrame struct {
	id   string
	data []byte
}

func (connOpened) isServerMsg()   {}
func (connClosed) isServerMsg()   {}
func (inboundFrame) isServerMsg() {}

type member struct {
	id  string
	out chan []byte
}

type room struct {
	code    string
	hostID  string
	members map[string]*member
}

// Server owns all rooms on one goroutine; the websocket handlers only shuttle
// bytes in and out.
type Server struct {
	log *zap.Logger

	inbox      chan serverMsg
	conns      map[string]*member
	rooms      map[string]*room
	memberRoom map[string]string // conn id -> room code

	ctx    context.Context
	cancel context.CancelFunc
}

func NewServer(parent context.Context, log *zap.Logger) *Server {
	ctx, cancel := context.WithCancel(parent)
	s := &Server{
		log:        log,
		inbox:      make(chan serverMsg, 64),
		conns:      map[string]*member{},
		rooms:      map[string]*room{},
		memberRoom: map[string]string{},
		ctx:        ctx,
		cancel:     cancel,
	}
	go s.loop()
	return s
}

func (s *Server) Close() { s.cancel() }

func Routes(s *Server) http.Handler {
	r := chi.NewRouter()
	r.Get("/ws", s.Handler())
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	return r
}

func (s *Server) Handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		c, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		defer c.Close(websocket.StatusNormalClosure, "bye")

		id := uuid.NewString()
		m := &member{id: id, out: make(chan []byte, 32)}

		writeCtx, writeCancel := context.WithCancel(r.Context())
		defer writeCancel()
		go func() {
			for data := range m.out {
				ctx, cancel := context.WithTimeout(writeCtx, 3*time.Second)
				_ = c.Write(ctx, websocket.MessageText, data)
				cancel()
			}
		}()

		select {
		case s.inbox <- connOpened{m: m}:
		case <-s.ctx.Done():
			return
		}
		defer func() {
			select {
			case s.inbox <- connClosed{id: id}:
			case <-s.ctx.Done():
			}
		}()

		for {
			_, data, err := c.Read(r.Context())
			if err != nil {
				switch websocket.CloseStatus(err) {
				case websocket.StatusNormalClosure, websocket.StatusGoingAway:
					return
				}
				return
			}
			select {
			case s.inbox <- inboundFrame{id: id, data: data}:
			case <-s.ctx.Done():
				return
			}
		}
	}
}

func (s *Server) loop() {
	for {
		select {
		case <-s.ctx.Done():
			for _, m := range s.conns {
				close(m.out)
			}
			clear(s.conns)
			clear(s.rooms)
			clear(s.memberRoom)
			return

		case msg := <-s.inbox:
			switch msg := msg.(type) {
			case connOpened:
				s.conns[msg.m.id] = msg.m
				s.sendTo(msg.m, &protocol.Init{ID: msg.m.id})
				s.log.Info("connection opened", zap.String("id", msg.m.id))

			case connClosed:
				s.removeFromRoom(msg.id, true)
				if m := s.conns[msg.id]; m != nil {
					close(m.out)
					delete(s.conns, msg.id)
				}

			case inboundFrame:
				s.handleFrame(msg.id, msg.data)
			}
		}
	}
}

func (s *Server) handleFrame(id string, data []byte) {
	m := s.conns[id]
	if m == nil {
		return
	}

	var probe struct {
		Type     protocol.Type `json:"type"`
		RoomCode string        `json:"roomCode"`
	}
	if err := json.Unmarshal(data, &probe); err != nil || probe.Type == "" {
		s.log.Warn("dropping malformed frame", zap.String("id", id))
		return
	}

	switch probe.Type {
	case protocol.TypeHost:
		s.handleHost(m, probe.RoomCode)
	case protocol.TypeJoin:
		s.handleJoin(m, probe.RoomCode)
	case protocol.TypeAutoJoin:
		s.handleAutoJoin(m)
	case protocol.TypeLeave:
		s.removeFromRoom(id, true)
	default:
		// Game traffic is forwarded verbatim, payload untouched.
		s.broadcast(id, data)
	}
}

func (s *Server) handleHost(m *member, code string) {
	if code == "" || s.memberRoom[m.id] != "" {
		s.sendTo(m, &protocol.Error{Message: "cannot host: already in a room or no code"})
		return
	}

	rm := s.rooms[code]
	switch {
	case rm == nil:
		rm = &room{code: code, hostID: m.id, members: map[string]*member{}}
		s.rooms[code] = rm
	case rm.hostID == "":
		// The first host sender in a room is authoritative; an abandoned room
		// may be re-hosted.
		rm.hostID = m.id
	default:
		s.sendTo(m, &protocol.Error{Message: "room already has a host"})
		return
	}

	roster := rosterOf(rm, m.id)
	rm.members[m.id] = m
	s.memberRoom[m.id] = code
	s.sendTo(m, &protocol.HostConfirm{RoomCode: code, Players: roster})
	s.log.Info("room hosted", zap.String("roomCode", code), zap.String("hostId", m.id))
}

func (s *Server) handleJoin(m *member, code string) {
	rm := s.rooms[code]
	if rm == nil {
		s.sendTo(m, &protocol.Error{Message: "room not found"})
		return
	}
	s.admit(m, rm, &protocol.JoinConfirm{RoomCode: rm.code, Players: rosterOf(rm, m.id)})
}

func (s *Server) handleAutoJoin(m *member) {
	for _, rm := range s.rooms {
		if rm.hostID != "" {
			s.admit(m, rm, &protocol.AutoJoinConfirm{RoomCode: rm.code, Players: rosterOf(rm, m.id)})
			return
		}
	}
	s.sendTo(m, &protocol.Error{Message: "no open rooms"})
}

func (s *Server) admit(m *member, rm *room, confirm protocol.Message) {
	if s.memberRoom[m.id] != "" {
		s.sendTo(m, &protocol.Error{Message: "already in a room"})
		return
	}
	rm.members[m.id] = m
	s.memberRoom[m.id] = rm.code
	s.sendTo(m, confirm)

	joined, err := protocol.Encode(&protocol.PlayerJoined{ID: m.id})
	if err == nil {
		for _, other := range rm.members {
			if other.id != m.id {
				s.push(other, joined)
			}
		}
	}
	s.log.Info("player joined room",
		zap.String("roomCode", rm.code), zap.String("id", m.id))
}

func (s *Server) removeFromRoom(id string, announce bool) {
	code := s.memberRoom[id]
	if code == "" {
		return
	}
	delete(s.memberRoom, id)
	rm := s.rooms[code]
	if rm == nil {
		return
	}
	delete(rm.members, id)
	if rm.hostID == id {
		rm.hostID = ""
	}
	if len(rm.members) == 0 {
		delete(s.rooms, code)
		return
	}
	if announce {
		left, err := protocol.Encode(&protocol.PlayerLeft{ID: id})
		if err == nil {
			for _, other := range rm.members {
				s.push(other, left)
			}
		}
	}
}

// broadcast forwards raw bytes to every other member of the sender's room.
// Frames from a connection with no room are dropped.
func (s *Server) broadcast(senderID string, data []byte) {
	code := s.memberRoom[senderID]
	if code == "" {
		return
	}
	rm := s.rooms[code]
	if rm == nil {
		return
	}
	for _, m := range rm.members {
		if m.id != senderID {
			s.push(m, data)
		}
	}
}

func (s *Server) sendTo(m *member, msg protocol.Message) {
	data, err := protocol.Encode(msg)
	if err != nil {
		s.log.Error("encode frame", zap.Error(err))
		return
	}
	s.push(m, data)
}

func (s *Server) push(m *member, data []byte) {
	select {
	case m.out <- data:
	default:
		// Slow consumer; shedding one frame beats stalling the whole room.
		s.log.Warn("member outbox full, dropping frame", zap.String("id", m.id))
	}
}

func rosterOf(rm *room, excludeID string) []protocol.PlayerInfo {
	roster := []protocol.PlayerInfo{}
	for id := range rm.members {
		if id != excludeID {
			roster = append(roster, protocol.PlayerInfo{ID: id})
		}
	}
	return roster
}
