package registry

import (
	"errors"
	"sync"

	"github.com/peercall/peercall/backend/model"
)

const (
	defaultMaxParticipants = 2
)

var (
	ErrRoomIsFull   = errors.New("room is full")
	ErrRoomNotFound = errors.New("room is not found")
)

// Registry is the sole source of truth for room membership.
// A room exists iff its participant set is non-empty.
type Registry struct {
	mx    *sync.Mutex
	rooms map[string]*model.Room
}

func New() *Registry {
	return &Registry{
		mx:    &sync.Mutex{},
		rooms: make(map[string]*model.Room),
	}
}

// Join atomically adds connID to the room, creating the room if absent.
// It reports whether the participant set was empty immediately before the
// add. Rooms are capped at two participants; a third joiner gets
// ErrRoomIsFull. Joining a room the connection is already in only
// refreshes the username.
func (r *Registry) Join(roomID, connID, username string) (bool, error) {
	r.mx.Lock()
	defer r.mx.Unlock()

	room, ok := r.rooms[roomID]
	if !ok {
		r.rooms[roomID] = &model.Room{
			ID: roomID,
			Participants: map[string]model.Participant{
				connID: {ID: connID, Username: username},
			},
		}
		return true, nil
	}

	if _, member := room.Participants[connID]; !member {
		if len(room.Participants) >= defaultMaxParticipants {
			return false, ErrRoomIsFull
		}
	}
	room.Participants[connID] = model.Participant{
		ID:       connID,
		Username: username,
	}
	return len(room.Participants) == 1, nil
}

// Leave removes connID from the room and reports how many participants
// remain. Empty rooms are deleted. Leaving an unknown room or a room the
// connection is not in changes nothing.
func (r *Registry) Leave(roomID, connID string) int {
	r.mx.Lock()
	defer r.mx.Unlock()

	room, ok := r.rooms[roomID]
	if !ok {
		return 0
	}
	delete(room.Participants, connID)
	if len(room.Participants) == 0 {
		delete(r.rooms, roomID)
		return 0
	}
	return len(room.Participants)
}

// MembersExcluding returns the room's participant ids minus connID.
// Pass an empty connID to get every member.
func (r *Registry) MembersExcluding(roomID, connID string) []string {
	r.mx.Lock()
	defer r.mx.Unlock()

	room, ok := r.rooms[roomID]
	if !ok {
		return nil
	}
	members := make([]string, 0, len(room.Participants))
	for id := range room.Participants {
		if id != connID {
			members = append(members, id)
		}
	}
	return members
}

// Snapshot returns a copy of the room safe to read without the lock.
func (r *Registry) Snapshot(roomID string) (*model.Room, error) {
	r.mx.Lock()
	defer r.mx.Unlock()

	room, ok := r.rooms[roomID]
	if !ok {
		return nil, ErrRoomNotFound
	}
	cp := &model.Room{
		ID:           room.ID,
		Participants: make(map[string]model.Participant, len(room.Participants)),
	}
	for id, p := range room.Participants {
		cp.Participants[id] = p
	}
	return cp, nil
}
