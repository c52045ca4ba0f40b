package photon

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/graaaaa/instancewatch/internal/feed"
	"github.com/graaaaa/instancewatch/internal/identity"
	"github.com/graaaaa/instancewatch/internal/session"
	"github.com/graaaaa/instancewatch/internal/store"
)

// heartbeatTimeoutWording is the heartbeat age beyond which a leave is
// worded as a timeout instead of a departure.
const heartbeatTimeoutWording = 10 * time.Second

// Poster routes a closure back onto the engine goroutine. Async
// continuations (identity lookups, world name lookups) must go through
// it so all state mutation stays single-threaded.
type Poster interface {
	Post(fn func())
}

// WorldResolver resolves a portal short name to a world. Lookups run on
// a worker goroutine; implementations live outside this core.
type WorldResolver interface {
	ResolveShortName(ctx context.Context, shortName string) (worldID, worldName string, err error)
}

// ChatStore persists chatbox messages.
type ChatStore interface {
	InsertChat(ctx context.Context, msg store.ChatMessage) error
}

// Moderator consumes normalized (block, mute) signals per user.
type Moderator interface {
	Reconcile(ctx context.Context, userID, displayName string, block, mute bool, at time.Time)
}

// Dispatcher turns raw protocol events into session mutations and feed
// entries. All Dispatch calls must come from the engine goroutine.
type Dispatcher struct {
	sess     *session.Context
	resolver *identity.Resolver
	emitter  *feed.Emitter
	post     Poster

	mod    Moderator
	chats  ChatStore
	worlds WorldResolver
	nudge  func() // pokes the timeout watcher after a join
	logger *slog.Logger

	localUserID    string
	blacklistWords []string
	blacklistUsers map[string]struct{}
}

// DispatcherOption configures a Dispatcher.
type DispatcherOption func(*Dispatcher)

// WithModerator sets the moderation consumer.
func WithModerator(m Moderator) DispatcherOption {
	return func(d *Dispatcher) { d.mod = m }
}

// WithChatStore sets the chat persistence sink.
func WithChatStore(cs ChatStore) DispatcherOption {
	return func(d *Dispatcher) { d.chats = cs }
}

// WithWorldResolver sets the portal short name resolver.
func WithWorldResolver(w WorldResolver) DispatcherOption {
	return func(d *Dispatcher) { d.worlds = w }
}

// WithWatcherNudge sets a callback invoked after a join so the timeout
// watcher can (re)arm itself.
func WithWatcherNudge(fn func()) DispatcherOption {
	return func(d *Dispatcher) { d.nudge = fn }
}

// WithLocalUserID marks which user id is the local account. The local
// peer never produces chatbox or emoji entries.
func WithLocalUserID(id string) DispatcherOption {
	return func(d *Dispatcher) { d.localUserID = id }
}

// WithChatBlacklist sets the chatbox suppression lists.
func WithChatBlacklist(words, users []string) DispatcherOption {
	return func(d *Dispatcher) {
		d.blacklistWords = d.blacklistWords[:0]
		for _, w := range words {
			if w = strings.ToLower(strings.TrimSpace(w)); w != "" {
				d.blacklistWords = append(d.blacklistWords, w)
			}
		}
		d.blacklistUsers = make(map[string]struct{}, len(users))
		for _, u := range users {
			if u != "" {
				d.blacklistUsers[u] = struct{}{}
			}
		}
	}
}

// WithDispatcherLogger sets the logger.
func WithDispatcherLogger(l *slog.Logger) DispatcherOption {
	return func(d *Dispatcher) {
		if l != nil {
			d.logger = l
		}
	}
}

// NewDispatcher creates a Dispatcher.
func NewDispatcher(sess *session.Context, resolver *identity.Resolver, emitter *feed.Emitter, post Poster, opts ...DispatcherOption) *Dispatcher {
	d := &Dispatcher{
		sess:           sess,
		resolver:       resolver,
		emitter:        emitter,
		post:           post,
		logger:         slog.Default(),
		blacklistUsers: make(map[string]struct{}),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Dispatch routes one raw event to its handler. Unknown opcodes are
// ignored, not errors: the relay forwards everything it sees.
func (d *Dispatcher) Dispatch(ctx context.Context, ev RawEvent) {
	switch ev.Code {
	case CodeJoin:
		d.handleJoin(ctx, ev)
	case CodeLeave:
		d.handleLeave(ctx, ev)
	case CodePropsSet:
		d.handlePropsSet(ctx, ev)
	case CodePropsBulk:
		d.handlePropsBulk(ctx, ev)
	case CodeMasterSync:
		d.handleMasterSync(ctx, ev)
	case CodeModeration:
		d.handleModeration(ctx, ev)
	case CodeChatBox:
		d.handleChatBox(ctx, ev)
	case CodePortal:
		d.handlePortal(ctx, ev)
	case CodeEmoji:
		d.handleEmoji(ctx, ev)
	case CodePing:
		d.touchHeartbeat(ev)
	default:
		d.logger.Debug("ignoring unknown opcode", "code", int(ev.Code))
	}
}

// touchHeartbeat refreshes the sending peer's heartbeat. Any event from
// a peer proves liveness.
func (d *Dispatcher) touchHeartbeat(ev RawEvent) {
	actor, ok := ev.actor()
	if !ok {
		return
	}
	d.sess.UpdateOccupant(session.PeerID(actor), func(o *session.Occupant) {
		o.LastHeartbeat = ev.ReceivedAt
	})
}

func (d *Dispatcher) handleJoin(ctx context.Context, ev RawEvent) {
	actor, ok := ev.actor()
	if !ok {
		d.logger.Warn("join without peer id, skipping")
		return
	}
	peer := session.PeerID(actor)
	profile, hasProfile := decodeProfile(ev.Parameters[paramProps])

	// A join for an already-live peer is a duplicate (relay replays,
	// instance-internal rejoins). Refresh liveness, keep instantiation
	// state, emit nothing.
	if d.sess.UpdateOccupant(peer, func(o *session.Occupant) {
		o.LastHeartbeat = ev.ReceivedAt
		if hasProfile && profile.HasInstantiated {
			o.HasInstantiated = true
		}
	}) {
		d.logger.Debug("duplicate join ignored", "peer", actor)
		return
	}

	// The log can announce a player before the relay does; that person
	// is already tracked under a synthetic peer. Re-key the record to
	// the protocol peer and emit nothing, the log join already did.
	if syn, ok := d.sess.FindLogOnlyOccupant(profile.UserID, profile.DisplayName); ok {
		d.adoptLogOccupant(ctx, syn.PeerID, peer, profile, ev.ReceivedAt)
		return
	}

	occ := &session.Occupant{
		PeerID:            peer,
		UserID:            profile.UserID,
		DisplayName:       profile.DisplayName,
		JoinedAt:          ev.ReceivedAt,
		HasInstantiated:   profile.HasInstantiated,
		Status:            profile.Status,
		StatusDescription: profile.StatusDescription,
		AvatarID:          profile.AvatarID,
		GroupID:           profile.GroupID,
		CanModerate:       profile.CanModerate,
		Platform:          profile.Platform,
		LastHeartbeat:     ev.ReceivedAt,
	}
	d.sess.AddOccupant(occ)

	if profile.UserID != "" {
		// Seed the change detectors so the state carried on join does
		// not read as a change.
		if profile.AvatarID != "" {
			d.sess.SwapLastAvatar(profile.UserID, profile.AvatarID)
		}
		if profile.GroupID != "" {
			d.sess.SwapLastGroup(profile.UserID, profile.GroupID)
		}
		if profile.UserID == d.localUserID {
			d.sess.SetLocalPeer(peer)
		}
		d.resolver.Bind(peer, profile.UserID)
		d.refreshProfile(ctx, peer, profile, ev.ReceivedAt)
	}

	if d.nudge != nil {
		d.nudge()
	}

	d.emitter.Emit(ctx, &feed.Entry{
		Type:        feed.TypePlayerJoined,
		CreatedAt:   ev.ReceivedAt,
		UserID:      profile.UserID,
		DisplayName: profile.DisplayName,
		IsFriend:    profile.IsFriend,
		IsFavorite:  profile.IsFavorite,
		IsModerator: profile.CanModerate,
	})
}

// adoptLogOccupant merges a protocol join into the log-only record for
// the same person, moving it from its synthetic peer id to the
// protocol one.
func (d *Dispatcher) adoptLogOccupant(ctx context.Context, from, to session.PeerID, p Profile, at time.Time) {
	d.sess.RekeyOccupant(from, to, func(o *session.Occupant) {
		o.LastHeartbeat = at
		if p.UserID != "" {
			o.UserID = p.UserID
		}
		if p.DisplayName != "" {
			o.DisplayName = p.DisplayName
		}
		if p.Status != "" {
			o.Status = p.Status
			o.StatusDescription = p.StatusDescription
		}
		if p.AvatarID != "" {
			o.AvatarID = p.AvatarID
		}
		if p.GroupID != "" {
			o.GroupID = p.GroupID
		}
		if p.Platform != "" {
			o.Platform = p.Platform
		}
		if p.CanModerate {
			o.CanModerate = true
		}
		if p.HasInstantiated {
			o.HasInstantiated = true
		}
	})

	if p.UserID != "" {
		if p.AvatarID != "" {
			d.sess.SwapLastAvatar(p.UserID, p.AvatarID)
		}
		if p.GroupID != "" {
			d.sess.SwapLastGroup(p.UserID, p.GroupID)
		}
		if p.UserID == d.localUserID {
			d.sess.SetLocalPeer(to)
		}
		d.resolver.Bind(to, p.UserID)
		d.refreshProfile(ctx, to, p, at)
	}

	if d.nudge != nil {
		d.nudge()
	}
}

// refreshProfile issues an async identity refresh and routes the result
// back onto the engine goroutine, guarded by the session epoch.
func (d *Dispatcher) refreshProfile(ctx context.Context, peer session.PeerID, p Profile, at time.Time) {
	inline := &identity.User{
		ID:                p.UserID,
		DisplayName:       p.DisplayName,
		IsFriend:          p.IsFriend,
		IsFavorite:        p.IsFavorite,
		Status:            p.Status,
		StatusDescription: p.StatusDescription,
		AvatarID:          p.AvatarID,
	}
	epoch := d.sess.Epoch()
	d.resolver.Refresh(ctx, p.UserID, at, inline, func(u *identity.User) {
		d.post.Post(func() {
			if u == nil || d.sess.Epoch() != epoch {
				return
			}
			d.sess.UpdateOccupant(peer, func(o *session.Occupant) {
				if u.DisplayName != "" {
					o.DisplayName = u.DisplayName
				}
				if u.Status != "" {
					o.Status = u.Status
					o.StatusDescription = u.StatusDescription
				}
				if u.AvatarID != "" {
					o.AvatarID = u.AvatarID
				}
			})
		})
	})
}

func (d *Dispatcher) handleLeave(ctx context.Context, ev RawEvent) {
	if actor, ok := ev.actor(); ok {
		d.finishLeave(ctx, session.PeerID(actor), ev.ReceivedAt)
	}

	// A leave may carry the new master when the old one departed.
	if m, ok := ev.masterActor(); ok {
		d.assignMaster(ctx, session.PeerID(m), ev.ReceivedAt)
	}
}

func (d *Dispatcher) finishLeave(ctx context.Context, peer session.PeerID, at time.Time) {
	occ, ok := d.sess.RemoveOccupant(peer)
	if !ok {
		// Already gone (duplicate leave, or a peer we never saw join).
		d.logger.Debug("leave for unknown peer ignored", "peer", int(peer))
		return
	}

	// A protocol leave right after a portal leave-increment is the same
	// physical departure; consume the pending count so the portal total
	// stays honest.
	d.sess.ConsumePendingPortalLeave()

	age := at.Sub(occ.LastHeartbeat)
	text := "has left"
	if age > heartbeatTimeoutWording {
		text = "has timed out after " + feed.ElapsedText(age)
	}

	d.emitter.Emit(ctx, &feed.Entry{
		Type:        feed.TypePlayerLeft,
		CreatedAt:   at,
		UserID:      occ.UserID,
		DisplayName: occ.DisplayName,
		IsMaster:    occ.IsMaster,
		IsModerator: occ.CanModerate,
		Player: &feed.PlayerPayload{
			Text:    text,
			Elapsed: at.Sub(occ.JoinedAt),
		},
	})
}

func (d *Dispatcher) handleMasterSync(ctx context.Context, ev RawEvent) {
	m, ok := ev.masterActor()
	if !ok {
		// Some client builds put the master id in the actor slot.
		if m, ok = ev.actor(); !ok {
			d.logger.Warn("master sync without peer id, skipping")
			return
		}
	}
	d.assignMaster(ctx, session.PeerID(m), ev.ReceivedAt)
}

// assignMaster records the lobby master. The very first assignment of a
// session is silent; only an actual migration produces an entry.
func (d *Dispatcher) assignMaster(ctx context.Context, peer session.PeerID, at time.Time) {
	prev := d.sess.MasterPeer()
	if prev == peer {
		return
	}
	d.sess.SetMasterPeer(peer)
	if prev == 0 {
		return
	}

	occ, _ := d.sess.Occupant(peer)
	d.emitter.Emit(ctx, &feed.Entry{
		Type:        feed.TypeMasterMigrate,
		CreatedAt:   at,
		UserID:      occ.UserID,
		DisplayName: occ.DisplayName,
		IsMaster:    true,
	})
}

func (d *Dispatcher) handlePropsSet(ctx context.Context, ev RawEvent) {
	actor, ok := ev.actor()
	if !ok {
		d.logger.Warn("properties without peer id, skipping")
		return
	}
	profile, ok := decodeProfile(ev.Parameters[paramProps])
	if !ok {
		d.logger.Warn("properties without profile payload, skipping", "peer", actor)
		return
	}
	d.applyProps(ctx, session.PeerID(actor), profile, ev.ReceivedAt)
}

func (d *Dispatcher) handlePropsBulk(ctx context.Context, ev RawEvent) {
	raw, ok := ev.Parameters[paramProps].(map[any]any)
	if !ok {
		d.logger.Warn("bulk properties with unexpected payload shape, skipping")
		return
	}
	for key, val := range raw {
		peer, ok := asInt(key)
		if !ok {
			continue
		}
		profile, ok := decodeProfile(val)
		if !ok {
			continue
		}
		d.applyProps(ctx, session.PeerID(peer), profile, ev.ReceivedAt)
	}
}

// applyProps merges a profile update into the occupant and runs the
// avatar/group/status change detectors. Changes by the local user are
// tracked but not fed; the game log covers those.
func (d *Dispatcher) applyProps(ctx context.Context, peer session.PeerID, p Profile, at time.Time) {
	occ, ok := d.sess.Occupant(peer)
	if !ok {
		d.logger.Debug("properties for unknown peer ignored", "peer", int(peer))
		return
	}

	prevStatus, prevDesc := occ.Status, occ.StatusDescription

	d.sess.UpdateOccupant(peer, func(o *session.Occupant) {
		o.LastHeartbeat = at
		if p.UserID != "" {
			o.UserID = p.UserID
		}
		if p.DisplayName != "" {
			o.DisplayName = p.DisplayName
		}
		if p.Status != "" {
			o.Status = p.Status
		}
		if p.StatusDescription != "" {
			o.StatusDescription = p.StatusDescription
		}
		if p.AvatarID != "" {
			o.AvatarID = p.AvatarID
		}
		if p.GroupID != "" {
			o.GroupID = p.GroupID
		}
		if p.Platform != "" {
			o.Platform = p.Platform
		}
		if p.CanModerate {
			o.CanModerate = true
		}
		if p.HasInstantiated {
			o.HasInstantiated = true
		}
	})

	userID := occ.UserID
	if p.UserID != "" {
		userID = p.UserID
		d.resolver.Bind(peer, userID)
	}
	name := occ.DisplayName
	if p.DisplayName != "" {
		name = p.DisplayName
	}

	// Change detectors need a stable user key; peers without one yet
	// just had their state stored above.
	if userID == "" || userID == d.localUserID {
		return
	}

	if p.AvatarID != "" {
		prev := d.sess.SwapLastAvatar(userID, p.AvatarID)
		if prev != "" && prev != p.AvatarID {
			d.emitter.Emit(ctx, &feed.Entry{
				Type:        feed.TypeChangeAvatar,
				CreatedAt:   at,
				UserID:      userID,
				DisplayName: name,
				Avatar: &feed.AvatarPayload{
					AvatarID:     p.AvatarID,
					PrevAvatarID: prev,
				},
			})
		}
	}

	if p.GroupID != "" {
		prev := d.sess.SwapLastGroup(userID, p.GroupID)
		if prev != "" && prev != p.GroupID {
			d.emitter.Emit(ctx, &feed.Entry{
				Type:        feed.TypeChangeGroup,
				CreatedAt:   at,
				UserID:      userID,
				DisplayName: name,
				Group: &feed.GroupPayload{
					GroupID:     p.GroupID,
					PrevGroupID: prev,
				},
			})
		}
	}

	statusChanged := (p.Status != "" && p.Status != prevStatus) ||
		(p.StatusDescription != "" && p.StatusDescription != prevDesc)
	if statusChanged && (prevStatus != "" || prevDesc != "") {
		status := p.Status
		if status == "" {
			status = prevStatus
		}
		desc := p.StatusDescription
		if desc == "" {
			desc = prevDesc
		}
		d.emitter.Emit(ctx, &feed.Entry{
			Type:        feed.TypeChangeStatus,
			CreatedAt:   at,
			UserID:      userID,
			DisplayName: name,
			Status: &feed.StatusPayload{
				Status:            status,
				StatusDescription: desc,
				PrevStatus:        prevStatus,
			},
		})
	}
}

// displayNameForUser finds the display name of a present occupant by
// user id. Empty when the user is not in the lobby.
func (d *Dispatcher) displayNameForUser(userID string) string {
	if userID == "" {
		return ""
	}
	for _, o := range d.sess.Occupants() {
		if o.UserID == userID {
			return o.DisplayName
		}
	}
	return ""
}
