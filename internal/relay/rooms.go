package relay

import "sync"

// Directory tracks room membership. Rooms are created lazily on first join
// and destroyed synchronously when the last member leaves.
type Directory struct {
	mu    sync.RWMutex
	rooms map[string]map[string]struct{}
}

func NewDirectory() *Directory {
	return &Directory{rooms: make(map[string]map[string]struct{})}
}

// Join adds the connection to the room, creating the room if needed. created
// reports whether this join created the room.
func (d *Directory) Join(roomID, connID string) (created bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	members, ok := d.rooms[roomID]
	if !ok {
		members = make(map[string]struct{})
		d.rooms[roomID] = members
		created = true
	}
	members[connID] = struct{}{}
	return created
}

// Leave removes the connection from the room. destroyed reports whether the
// room became empty and was dropped. Leaving a room one is not in is a no-op.
func (d *Directory) Leave(roomID, connID string) (destroyed bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	members, ok := d.rooms[roomID]
	if !ok {
		return false
	}
	delete(members, connID)
	if len(members) == 0 {
		delete(d.rooms, roomID)
		return true
	}
	return false
}

// Members returns a snapshot of the room's member connection ids.
func (d *Directory) Members(roomID string) []string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	members, ok := d.rooms[roomID]
	if !ok {
		return nil
	}
	out := make([]string, 0, len(members))
	for id := range members {
		out = append(out, id)
	}
	return out
}

// Contains reports whether the connection is a member of the room.
func (d *Directory) Contains(roomID, connID string) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	members, ok := d.rooms[roomID]
	if !ok {
		return false
	}
	_, ok = members[connID]
	return ok
}

// Size returns the room's member count (0 if the room does not exist).
func (d *Directory) Size(roomID string) int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.rooms[roomID])
}

// Len returns the number of live rooms.
func (d *Directory) Len() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.rooms)
}
