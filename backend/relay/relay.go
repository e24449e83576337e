package relay

import (
	"context"
	"sync"
	"time"

	"github.com/peercall/peercall/backend/model"
	"github.com/rs/zerolog"
)

const (
	defaultFwdTimeout = time.Second
)

// Relay fans events out to the wires attached to a room. It knows nothing
// about membership rules; the service decides who is attached and who is
// excluded from each multicast.
type Relay struct {
	logger zerolog.Logger
	mx     *sync.RWMutex
	rooms  map[string]map[string]model.Wire
}

func New(logger *zerolog.Logger) *Relay {
	return &Relay{
		logger: logger.With().Str("component", "relay").Logger(),
		mx:     &sync.RWMutex{},
		rooms:  make(map[string]map[string]model.Wire),
	}
}

func (rl *Relay) Attach(roomID, connID string, wire model.Wire) {
	rl.mx.Lock()
	defer func() {
		rl.mx.Unlock()
		rl.logger.Debug().
			Str("roomID", roomID).
			Str("connID", connID).
			Msg("wire attached")
	}()

	wires, ok := rl.rooms[roomID]
	if !ok {
		wires = make(map[string]model.Wire)
	}
	wires[connID] = wire
	rl.rooms[roomID] = wires
}

func (rl *Relay) Detach(roomID, connID string) {
	rl.mx.Lock()
	defer func() {
		rl.mx.Unlock()
		rl.logger.Debug().
			Str("roomID", roomID).
			Str("connID", connID).
			Msg("wire detached")
	}()

	wires, ok := rl.rooms[roomID]
	if !ok {
		return
	}
	delete(wires, connID)
	if len(wires) == 0 {
		delete(rl.rooms, roomID)
	}
}

// Multicast forwards ev to every wire attached to the room except
// excluding. Pass an empty excluding to reach everyone. Wires that do not
// accept the event within the forward timeout are skipped.
func (rl *Relay) Multicast(ctx context.Context, roomID string, ev model.Event, excluding string) {
	logger := rl.logger.With().
		Str("roomID", roomID).
		Str("type", ev.Type).Logger()

	rl.mx.RLock()
	wires := make(map[string]model.Wire, len(rl.rooms[roomID]))
	for dst, wire := range rl.rooms[roomID] {
		wires[dst] = wire
	}
	rl.mx.RUnlock()

	var sent bool
	for dst, wire := range wires {
		if dst == excluding {
			continue
		}
		evSent, canceled := send(ctx, ev, dst, wire.TX, &logger)
		if canceled {
			return
		}
		if evSent {
			sent = true
		}
	}
	if !sent {
		logger.Debug().Msg("multicast did not reach anyone")
	}
}

func send(ctx context.Context, ev model.Event, dst string, tx chan<- model.Event, logger *zerolog.Logger) (bool, bool) {
	var sent, canceled bool
	tCh := time.NewTimer(defaultFwdTimeout)
	select {
	case <-ctx.Done():
		canceled = true
	case <-tCh.C:
		logger.Error().Str("dst", dst).Msg("dead endpoint")
	case tx <- ev:
		logger.Trace().Str("dst", dst).Msg("event is forwarded")
		sent = true
	}
	tCh.Stop()
	return sent, canceled
}
