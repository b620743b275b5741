package realtime

// Client is one connected peer. Send must not block: it returns false when
// the frame could not be buffered.
type Client interface {
	ID() string
	Send(frame []byte) bool
	Close()
}

// Delivery reports the outcome of one Emit.
type Delivery struct {
	Sent    int
	Dropped []Client // members whose buffer was full
}

// Broadcaster groups clients into rooms and fans frames out to them.
type Broadcaster interface {
	Join(room string, c Client)
	Leave(room string, c Client)
	// Emit sends event to every member of room except the given client,
	// which may be nil.
	Emit(room, event string, payload any, except Client) (Delivery, error)
}

// Rooms is an in-memory Broadcaster. It is not safe for concurrent use.
type Rooms struct {
	rooms map[string]map[Client]struct{}
}

// NewRooms creates an empty room set.
func NewRooms() *Rooms {
	return &Rooms{rooms: make(map[string]map[Client]struct{})}
}

// Join adds c to room.
func (r *Rooms) Join(room string, c Client) {
	members, ok := r.rooms[room]
	if !ok {
		members = make(map[Client]struct{})
		r.rooms[room] = members
	}
	members[c] = struct{}{}
}

// Leave removes c from room. Empty rooms are dropped.
func (r *Rooms) Leave(room string, c Client) {
	members, ok := r.rooms[room]
	if !ok {
		return
	}
	delete(members, c)
	if len(members) == 0 {
		delete(r.rooms, room)
	}
}

// Size returns the number of members in room.
func (r *Rooms) Size(room string) int { return len(r.rooms[room]) }

// Emit encodes the frame once and offers it to each member.
func (r *Rooms) Emit(room, event string, payload any, except Client) (Delivery, error) {
	var d Delivery
	members := r.rooms[room]
	if len(members) == 0 {
		return d, nil
	}

	frame, err := Encode(event, payload)
	if err != nil {
		return d, err
	}

	for c := range members {
		if except != nil && c == except {
			continue
		}
		if c.Send(frame) {
			d.Sent++
		} else {
			d.Dropped = append(d.Dropped, c)
		}
	}
	return d, nil
}
