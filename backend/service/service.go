package service

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/davecgh/go-spew/spew"
	"github.com/peercall/peercall/backend/model"
	"github.com/peercall/peercall/backend/registry"
	"github.com/rs/zerolog"
)

const (
	defaultUnicastTimeout = time.Second
)

var (
	ErrConnect    = errors.New("unable to connect")
	ErrDisconnect = errors.New("unable to disconnect")
)

type (
	RoomRegistry interface {
		Join(roomID, connID, username string) (bool, error)
		Leave(roomID, connID string) int
	}

	Relay interface {
		Attach(roomID, connID string, wire model.Wire)
		Detach(roomID, connID string)
		Multicast(ctx context.Context, roomID string, ev model.Event, excluding string)
	}

	// Service owns per-connection sessions and implements the signaling
	// protocol on top of the registry and the relay: initiator election
	// on join, verbatim relay of negotiation payloads, chat broadcast
	// and disconnect cleanup.
	Service struct {
		reg    RoomRegistry
		relay  Relay
		logger zerolog.Logger
		now    func() time.Time

		mx       *sync.Mutex
		sessions map[string]*model.Session
	}

	Config struct {
		Registry RoomRegistry
		Relay    Relay
		Logger   *zerolog.Logger
		Now      func() time.Time
	}
)

func NewService(cfg Config) *Service {
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &Service{
		reg:      cfg.Registry,
		relay:    cfg.Relay,
		logger:   cfg.Logger.With().Str("component", "signaling").Logger(),
		now:      now,
		mx:       &sync.Mutex{},
		sessions: make(map[string]*model.Session),
	}
}

// Connect registers a new connection and starts dispatching its inbound
// events. The session starts without a room until join-room arrives.
func (svc *Service) Connect(ctx context.Context, connID string, wire model.Wire) error {
	svc.mx.Lock()
	if _, ok := svc.sessions[connID]; ok {
		svc.mx.Unlock()
		return ErrConnect
	}
	svc.sessions[connID] = &model.Session{ConnID: connID}
	svc.mx.Unlock()

	svc.logger.Debug().Str("connID", connID).Msg("session created")

	go svc.dispatch(ctx, connID, wire)
	return nil
}

// Disconnect tears the connection down: the session leaves its room,
// empty rooms vanish from the registry, and remaining members are told
// who left. A reconnecting client starts from scratch with a new session.
func (svc *Service) Disconnect(ctx context.Context, connID string) error {
	svc.mx.Lock()
	sess, ok := svc.sessions[connID]
	if !ok {
		svc.mx.Unlock()
		return ErrDisconnect
	}
	delete(svc.sessions, connID)
	svc.mx.Unlock()

	if sess.RoomID != "" {
		remaining := svc.reg.Leave(sess.RoomID, connID)
		svc.relay.Detach(sess.RoomID, connID)
		if remaining > 0 {
			ev, err := model.NewEvent(model.EventUserLeft, model.UserLeft{
				Username: sess.Username,
				SocketID: connID,
			})
			if err == nil {
				svc.relay.Multicast(ctx, sess.RoomID, ev, "")
			}
		}
	}
	svc.logger.Debug().
		Str("connID", connID).
		Str("roomID", sess.RoomID).
		Msg("session destroyed")
	return nil
}

func (svc *Service) dispatch(ctx context.Context, connID string, wire model.Wire) {
DispatchLoop:
	for {
		select {
		case <-ctx.Done():
			break DispatchLoop
		case ev := <-wire.RX:
			svc.handleEvent(ctx, connID, wire, ev)
		}
	}
}

func (svc *Service) handleEvent(ctx context.Context, connID string, wire model.Wire, ev model.Event) {
	switch ev.Type {
	case model.EventJoinRoom:
		svc.handleJoin(ctx, connID, wire, ev)
	case model.EventOffer, model.EventAnswer, model.EventICECandidate:
		svc.relaySignal(ctx, connID, wire, ev)
	case model.EventSendMessage:
		svc.broadcastChat(ctx, connID, wire, ev)
	default:
		svc.logger.Debug().
			Str("connID", connID).
			Str("type", ev.Type).
			Msg("unknown event type")
	}
}

func (svc *Service) handleJoin(ctx context.Context, connID string, wire model.Wire, ev model.Event) {
	req, err := decode[model.JoinRequest](ev)
	if err != nil {
		svc.logger.Error().Err(err).Str("connID", connID).Msg("malformed join-room payload")
		svc.sendError(ctx, connID, wire, "malformed join-room payload")
		return
	}

	isFirst, err := svc.reg.Join(req.RoomID, connID, req.Username)
	if err != nil {
		if errors.Is(err, registry.ErrRoomIsFull) {
			svc.logger.Debug().
				Str("connID", connID).
				Str("roomID", req.RoomID).
				Msg("join rejected, room is full")
			svc.sendError(ctx, connID, wire, "room is full")
			return
		}
		svc.logger.Error().Err(err).Str("connID", connID).Msg("join failed")
		svc.sendError(ctx, connID, wire, "unable to join room")
		return
	}

	// Rejoining with a different room overwrites RoomID but deliberately
	// does not evict the connection from the previous room; only the
	// current room is cleaned up on disconnect.
	svc.mx.Lock()
	sess, ok := svc.sessions[connID]
	if ok {
		sess.Username = req.Username
		sess.RoomID = req.RoomID
	}
	svc.mx.Unlock()
	if !ok {
		// Disconnect raced the join; undo the membership add.
		svc.reg.Leave(req.RoomID, connID)
		return
	}

	svc.relay.Attach(req.RoomID, connID, wire)

	svc.logger.Debug().
		Str("connID", connID).
		Str("roomID", req.RoomID).
		Str("username", req.Username).
		Bool("isFirst", isFirst).
		Msg("user joined room")
	svc.logger.Trace().Msg(spew.Sdump(sess))

	joined, err := model.NewEvent(model.EventUserJoined, model.UserJoined{IsFirst: isFirst})
	if err != nil {
		svc.logger.Error().Err(err).Msg("failed to build user-joined event")
		return
	}
	svc.unicast(ctx, connID, wire, joined)

	// The late joiner waits for an offer; the side already present is told
	// to initiate, so exactly one offer is ever created.
	if !isFirst {
		svc.relay.Multicast(ctx, req.RoomID, model.Event{Type: model.EventReadyToCall}, connID)
	}
}

func (svc *Service) relaySignal(ctx context.Context, connID string, wire model.Wire, ev model.Event) {
	sess := svc.session(connID)
	if sess == nil || sess.RoomID == "" {
		svc.logger.Debug().
			Str("connID", connID).
			Str("type", ev.Type).
			Msg("signal before join-room")
		svc.sendError(ctx, connID, wire, "join a room first")
		return
	}
	// Payload is an opaque blob; forward untouched.
	svc.relay.Multicast(ctx, sess.RoomID, ev, connID)
}

func (svc *Service) broadcastChat(ctx context.Context, connID string, wire model.Wire, ev model.Event) {
	sess := svc.session(connID)
	if sess == nil || sess.RoomID == "" {
		svc.logger.Debug().Str("connID", connID).Msg("chat before join-room")
		svc.sendError(ctx, connID, wire, "join a room first")
		return
	}

	msg, err := decode[model.SendMessage](ev)
	if err != nil {
		svc.logger.Error().Err(err).Str("connID", connID).Msg("malformed send-message payload")
		svc.sendError(ctx, connID, wire, "malformed send-message payload")
		return
	}

	chat, err := model.NewEvent(model.EventChatMessage, model.ChatMessage{
		Message:  msg.Message,
		Username: sess.Username,
		Date:     svc.now().Format(time.RFC3339),
	})
	if err != nil {
		svc.logger.Error().Err(err).Msg("failed to build chat-message event")
		return
	}
	// Chat reaches the whole room, sender included.
	svc.relay.Multicast(ctx, sess.RoomID, chat, "")
}

func (svc *Service) session(connID string) *model.Session {
	svc.mx.Lock()
	defer svc.mx.Unlock()
	return svc.sessions[connID]
}

func (svc *Service) sendError(ctx context.Context, connID string, wire model.Wire, msg string) {
	ev, err := model.NewEvent(model.EventError, model.ErrorPayload{Error: msg})
	if err != nil {
		svc.logger.Error().Err(err).Msg("failed to build error event")
		return
	}
	svc.unicast(ctx, connID, wire, ev)
}

func (svc *Service) unicast(ctx context.Context, connID string, wire model.Wire, ev model.Event) {
	tCh := time.NewTimer(defaultUnicastTimeout)
	select {
	case <-ctx.Done():
	case <-tCh.C:
		svc.logger.Error().
			Str("connID", connID).
			Str("type", ev.Type).
			Msg("dead endpoint")
	case wire.TX <- ev:
	}
	tCh.Stop()
}

func decode[T any](ev model.Event) (T, error) {
	var v T
	if len(ev.Payload) == 0 {
		return v, errors.New("empty payload")
	}
	err := json.Unmarshal(ev.Payload, &v)
	return v, err
}
