// Package session owns all per-instance mutable state: the lobby of
// current occupants, active portals, chat dedup and the session epoch.
// A PeerID is only meaningful inside the session it was observed in;
// everything keyed by PeerID is cleared on Reset.
package session

import (
	"sort"
	"sync"
	"time"
)

// PeerID is an ephemeral per-session peer identifier. Synthetic ids
// allocated for log-only peers are negative so they can never collide
// with protocol-assigned ids.
type PeerID int

// Location identifies the current instance.
type Location struct {
	WorldID    string
	WorldName  string
	InstanceID string
	StartedAt  time.Time
}

// Occupant is the per-session record for one present peer.
type Occupant struct {
	PeerID            PeerID
	UserID            string // empty until identity is resolved
	DisplayName       string
	JoinedAt          time.Time
	HasInstantiated   bool
	Status            string
	StatusDescription string
	AvatarID          string
	GroupID           string
	CanModerate       bool
	Platform          string
	IsMaster          bool
	LastHeartbeat     time.Time
}

// Portal is the record for an in-world portal with a bounded lifecycle.
type Portal struct {
	PortalID    string
	OwnerUserID string
	ShortName   string
	WorldID     string
	WorldName   string
	CreatedAt   time.Time
	PlayerCount int
	// PendingLeaveCount tracks leave-increment events not yet matched
	// by a protocol Leave. Logically non-negative.
	PendingLeaveCount int
}

// Context holds all session-scoped state. Handlers mutate it from the
// engine goroutine; API snapshot readers may come from other
// goroutines, hence the mutex.
type Context struct {
	mu sync.RWMutex

	epoch    uint64
	location Location

	occupants map[PeerID]*Occupant
	portals   map[string]*Portal
	lastChat  map[PeerID]string

	// Last known avatar and group ids per UserID. Scoped to the session
	// like everything else; cross-session correlation lives in the
	// persisted stores.
	lastAvatar map[string]string
	lastGroup  map[string]string

	masterPeer PeerID
	localPeer  PeerID

	// nextSynthetic allocates negative peer ids for log-only peers.
	nextSynthetic PeerID
}

// NewContext creates an empty session context at epoch 0.
func NewContext() *Context {
	c := &Context{}
	c.initLocked()
	return c
}

func (c *Context) initLocked() {
	c.occupants = make(map[PeerID]*Occupant)
	c.portals = make(map[string]*Portal)
	c.lastChat = make(map[PeerID]string)
	c.lastAvatar = make(map[string]string)
	c.lastGroup = make(map[string]string)
	c.masterPeer = 0
	c.localPeer = 0
	c.nextSynthetic = -1
}

// Epoch returns the current session epoch. Async continuations capture
// it and discard themselves when it has advanced.
func (c *Context) Epoch() uint64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.epoch
}

// Location returns the current location.
func (c *Context) Location() Location {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.location
}

// SetWorldName fills in the world display name once it is known; it
// arrives on a later log line than the world id.
func (c *Context) SetWorldName(name string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.location.WorldName = name
}

// Reset atomically clears all per-session state, advances the epoch and
// sets the new location. It returns the previous occupants so the
// caller can synthesize "left" entries; the returned records are the
// caller's to keep.
func (c *Context) Reset(loc Location) []Occupant {
	c.mu.Lock()
	defer c.mu.Unlock()

	prev := make([]Occupant, 0, len(c.occupants))
	for _, o := range c.occupants {
		prev = append(prev, *o)
	}
	sort.Slice(prev, func(i, j int) bool { return prev[i].JoinedAt.Before(prev[j].JoinedAt) })

	c.initLocked()
	c.epoch++
	c.location = loc
	return prev
}

// AddOccupant inserts a new occupant. Returns false if the peer is
// already present (duplicate join).
func (c *Context) AddOccupant(o *Occupant) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.occupants[o.PeerID]; ok {
		return false
	}
	c.occupants[o.PeerID] = o
	return true
}

// Occupant returns a copy of the occupant for peer, if present.
func (c *Context) Occupant(peer PeerID) (Occupant, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	o, ok := c.occupants[peer]
	if !ok {
		return Occupant{}, false
	}
	return *o, true
}

// UpdateOccupant applies fn to the occupant for peer under the lock.
// Returns false if the peer is absent.
func (c *Context) UpdateOccupant(peer PeerID, fn func(*Occupant)) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	o, ok := c.occupants[peer]
	if !ok {
		return false
	}
	fn(o)
	return true
}

// RemoveOccupant deletes and returns the occupant for peer.
func (c *Context) RemoveOccupant(peer PeerID) (Occupant, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	o, ok := c.occupants[peer]
	if !ok {
		return Occupant{}, false
	}
	delete(c.occupants, peer)
	delete(c.lastChat, peer)
	return *o, true
}

// OccupantCount returns the current lobby size.
func (c *Context) OccupantCount() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.occupants)
}

// Occupants returns a copy of all occupants, ordered by join time.
func (c *Context) Occupants() []Occupant {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]Occupant, 0, len(c.occupants))
	for _, o := range c.occupants {
		out = append(out, *o)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].JoinedAt.Before(out[j].JoinedAt) })
	return out
}

// FindOccupantByName returns the occupant with the given display name.
// Used to correlate log records with protocol state.
func (c *Context) FindOccupantByName(name string) (Occupant, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, o := range c.occupants {
		if o.DisplayName == name {
			return *o, true
		}
	}
	return Occupant{}, false
}

// FindLogOnlyOccupant returns the synthetic-peer occupant matching the
// given user id or display name, if any. The log can announce a player
// before the protocol does; the protocol join adopts that record.
func (c *Context) FindLogOnlyOccupant(userID, displayName string) (Occupant, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, o := range c.occupants {
		if o.PeerID >= 0 {
			continue
		}
		if userID != "" && o.UserID == userID {
			return *o, true
		}
		if displayName != "" && o.DisplayName == displayName {
			return *o, true
		}
	}
	return Occupant{}, false
}

// RekeyOccupant moves an occupant to a new peer id, applying fn to it
// under the lock. Chat state and the master/local markers follow the
// record. Returns false when from is absent or to is already taken.
func (c *Context) RekeyOccupant(from, to PeerID, fn func(*Occupant)) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	o, ok := c.occupants[from]
	if !ok {
		return false
	}
	if _, taken := c.occupants[to]; taken {
		return false
	}
	delete(c.occupants, from)
	o.PeerID = to
	if fn != nil {
		fn(o)
	}
	c.occupants[to] = o
	if chat, ok := c.lastChat[from]; ok {
		delete(c.lastChat, from)
		c.lastChat[to] = chat
	}
	if c.localPeer == from {
		c.localPeer = to
	}
	if c.masterPeer == from {
		c.masterPeer = to
	}
	return true
}

// AllocSyntheticPeer returns a fresh negative peer id for a peer known
// only from the game log.
func (c *Context) AllocSyntheticPeer() PeerID {
	c.mu.Lock()
	defer c.mu.Unlock()
	id := c.nextSynthetic
	c.nextSynthetic--
	return id
}

// MasterPeer returns the current lobby master peer id (0 if unknown).
func (c *Context) MasterPeer() PeerID {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.masterPeer
}

// SetMasterPeer records the master peer and updates IsMaster flags.
func (c *Context) SetMasterPeer(peer PeerID) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.masterPeer = peer
	for id, o := range c.occupants {
		o.IsMaster = id == peer
	}
}

// LocalPeer returns the local user's peer id (0 if unknown).
func (c *Context) LocalPeer() PeerID {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.localPeer
}

// SetLocalPeer records which peer id belongs to the local user.
func (c *Context) SetLocalPeer(peer PeerID) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.localPeer = peer
}

// LastChat returns the previous chatbox text for peer.
func (c *Context) LastChat(peer PeerID) string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.lastChat[peer]
}

// SetLastChat records the latest chatbox text for peer.
func (c *Context) SetLastChat(peer PeerID, text string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lastChat[peer] = text
}

// SwapLastAvatar records the avatar id for a user and returns the
// previously known one.
func (c *Context) SwapLastAvatar(userID, avatarID string) (prev string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	prev = c.lastAvatar[userID]
	c.lastAvatar[userID] = avatarID
	return prev
}

// SwapLastGroup records the nameplate group id for a user and returns
// the previously known one.
func (c *Context) SwapLastGroup(userID, groupID string) (prev string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	prev = c.lastGroup[userID]
	c.lastGroup[userID] = groupID
	return prev
}

// AddPortal inserts a portal record.
func (c *Context) AddPortal(p *Portal) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.portals[p.PortalID] = p
}

// Portal returns a copy of the portal with the given id.
func (c *Context) Portal(portalID string) (Portal, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	p, ok := c.portals[portalID]
	if !ok {
		return Portal{}, false
	}
	return *p, true
}

// UpdatePortal applies fn to the portal with the given id under the
// lock. Returns false if the portal is unknown.
func (c *Context) UpdatePortal(portalID string, fn func(*Portal)) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	p, ok := c.portals[portalID]
	if !ok {
		return false
	}
	fn(p)
	return true
}

// RemovePortal deletes and returns the portal with the given id.
func (c *Context) RemovePortal(portalID string) (Portal, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	p, ok := c.portals[portalID]
	if !ok {
		return Portal{}, false
	}
	delete(c.portals, portalID)
	return *p, true
}

// IncrementPortalLeave bumps the player and pending-leave counters for
// a portal. Returns false if the portal is unknown.
func (c *Context) IncrementPortalLeave(portalID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	p, ok := c.portals[portalID]
	if !ok {
		return false
	}
	p.PlayerCount++
	p.PendingLeaveCount++
	return true
}

// ConsumePendingPortalLeave decrements the pending-leave counter of the
// first portal that has one outstanding. Returns the portal id, or ""
// if no pending leave exists. The counter never goes below zero.
func (c *Context) ConsumePendingPortalLeave() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	for id, p := range c.portals {
		if p.PendingLeaveCount > 0 {
			p.PendingLeaveCount--
			return id
		}
	}
	return ""
}

// Portals returns a copy of all active portals.
func (c *Context) Portals() []Portal {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]Portal, 0, len(c.portals))
	for _, p := range c.portals {
		out = append(out, *p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}
