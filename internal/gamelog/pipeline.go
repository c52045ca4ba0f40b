package gamelog

import (
	"context"
	"log/slog"

	"github.com/graaaaa/instancewatch/internal/feed"
	"github.com/graaaaa/instancewatch/internal/identity"
	"github.com/graaaaa/instancewatch/internal/session"
)

// Emitter is the feed funnel the pipeline publishes entries to.
type Emitter interface {
	Emit(ctx context.Context, e *feed.Entry) bool
	Reset()
}

// Pipeline applies parsed log records to the session. It runs on the
// engine goroutine alongside the protocol dispatcher; the log is the
// authority for location transitions, the protocol for peer liveness.
type Pipeline struct {
	sess     *session.Context
	resolver *identity.Resolver
	emitter  Emitter
	video    *Projector
	logger   *slog.Logger

	localName string

	// resetHooks run after a session reset, in registration order.
	// The engine registers the reconciler, watcher and notifier here.
	resetHooks []func()

	// pendingLoc is a world id seen but not yet announced; the room
	// name arrives on a later line and completes it.
	pendingLoc *session.Location
}

// PipelineOption configures a Pipeline.
type PipelineOption func(*Pipeline)

// WithLocalName marks the local account's display name; it never gets
// a synthetic peer and its log join sets the local peer.
func WithLocalName(name string) PipelineOption {
	return func(p *Pipeline) { p.localName = name }
}

// WithResetHook appends a hook run after every session reset.
func WithResetHook(fn func()) PipelineOption {
	return func(p *Pipeline) {
		if fn != nil {
			p.resetHooks = append(p.resetHooks, fn)
		}
	}
}

// WithVideoProjector sets the now-playing projector.
func WithVideoProjector(v *Projector) PipelineOption {
	return func(p *Pipeline) { p.video = v }
}

// WithPipelineLogger sets the logger.
func WithPipelineLogger(l *slog.Logger) PipelineOption {
	return func(p *Pipeline) {
		if l != nil {
			p.logger = l
		}
	}
}

// NewPipeline creates a Pipeline.
func NewPipeline(sess *session.Context, resolver *identity.Resolver, emitter Emitter, opts ...PipelineOption) *Pipeline {
	p := &Pipeline{
		sess:     sess,
		resolver: resolver,
		emitter:  emitter,
		video:    NewProjector(),
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Video returns the now-playing projector.
func (p *Pipeline) Video() *Projector {
	return p.video
}

// Handle applies one record. Must be called from the engine goroutine.
func (p *Pipeline) Handle(ctx context.Context, rec *Record) {
	if rec == nil {
		return
	}

	// A pending location is completed by the room name line; any other
	// record means the name never came, announce without it.
	if p.pendingLoc != nil && rec.Kind != KindRoomName {
		p.announceLocation(ctx, *p.pendingLoc)
		p.pendingLoc = nil
	}

	switch rec.Kind {
	case KindWorldJoin:
		p.pendingLoc = &session.Location{
			WorldID:    rec.WorldID,
			WorldName:  rec.WorldName,
			InstanceID: rec.InstanceID,
			StartedAt:  rec.At,
		}
	case KindRoomName:
		if p.pendingLoc != nil {
			p.pendingLoc.WorldName = rec.WorldName
			p.announceLocation(ctx, *p.pendingLoc)
			p.pendingLoc = nil
		} else {
			// Name for the current instance arrived late.
			p.sess.SetWorldName(rec.WorldName)
		}
	case KindPlayerJoin:
		p.playerJoin(ctx, rec)
	case KindPlayerLeft:
		p.playerLeft(ctx, rec)
	case KindDestination:
		p.emitter.Emit(ctx, &feed.Entry{
			Type:      feed.TypeLocationDestination,
			CreatedAt: rec.At,
			Place: &feed.PlacePayload{
				WorldID:    rec.WorldID,
				InstanceID: rec.InstanceID,
			},
		})
	case KindAvatarChange:
		p.avatarChange(ctx, rec)
	case KindVideoPlay:
		if rec.Video == nil {
			return
		}
		p.video.Start(*rec.Video, rec.At)
		p.emitter.Emit(ctx, &feed.Entry{
			Type:      feed.TypeVideoPlay,
			CreatedAt: rec.At,
			Video: &feed.VideoPayload{
				URL:      rec.Video.URL,
				Title:    rec.Video.Name,
				Length:   rec.Video.Length,
				Position: rec.Video.Position,
			},
		})
	case KindPhotonID:
		p.bindPhotonID(rec)
	case KindNotification:
		p.emitter.Emit(ctx, &feed.Entry{
			Type:        feed.TypeNotification,
			CreatedAt:   rec.At,
			UserID:      rec.PlayerID,
			DisplayName: rec.PlayerName,
			Detail:      &feed.DetailPayload{Text: rec.Text},
		})
	case KindEvent:
		p.emitter.Emit(ctx, &feed.Entry{
			Type:      feed.TypeEvent,
			CreatedAt: rec.At,
			Detail:    &feed.DetailPayload{Text: rec.Text},
		})
	case KindQuit:
		p.video.Stop()
		p.emitter.Emit(ctx, &feed.Entry{
			Type:      feed.TypeQuit,
			CreatedAt: rec.At,
			Detail:    &feed.DetailPayload{Text: "application quit"},
		})
	case KindOpenVR:
		p.emitter.Emit(ctx, &feed.Entry{
			Type:      feed.TypeOpenVR,
			CreatedAt: rec.At,
		})
	case KindDesktopMode:
		p.emitter.Emit(ctx, &feed.Entry{
			Type:      feed.TypeDesktopMode,
			CreatedAt: rec.At,
		})
	case KindResourceLoad:
		p.emitter.Emit(ctx, &feed.Entry{
			Type:      feed.TypeResourceLoad,
			CreatedAt: rec.At,
			Detail:    &feed.DetailPayload{Text: rec.Text},
		})
	case KindScreenshot:
		p.emitter.Emit(ctx, &feed.Entry{
			Type:      feed.TypeScreenshot,
			CreatedAt: rec.At,
			Detail:    &feed.DetailPayload{Text: rec.Text},
		})
	case KindCamera:
		p.emitter.Emit(ctx, &feed.Entry{
			Type:      feed.TypeCamera,
			CreatedAt: rec.At,
			Detail:    &feed.DetailPayload{Text: rec.Text},
		})
	case KindAPIRequest:
		p.emitter.Emit(ctx, &feed.Entry{
			Type:      feed.TypeAPIRequest,
			CreatedAt: rec.At,
			Detail:    &feed.DetailPayload{Text: rec.Text},
		})
	case KindStickerSpawn:
		p.emitter.Emit(ctx, &feed.Entry{
			Type:        feed.TypeSticker,
			CreatedAt:   rec.At,
			DisplayName: rec.PlayerName,
			Detail:      &feed.DetailPayload{Text: rec.Text},
		})
	case KindFreeform:
		p.emitter.Emit(ctx, &feed.Entry{
			Type:      feed.TypeExternal,
			CreatedAt: rec.At,
			Detail:    &feed.DetailPayload{Text: rec.Text},
		})
	default:
		p.logger.Debug("unhandled record kind", "kind", int(rec.Kind))
	}
}

// announceLocation resets the session to the new instance. Occupants
// drained from the old session get synthetic left entries; their
// presence ended when the local user moved on, whatever the protocol
// never got to say.
func (p *Pipeline) announceLocation(ctx context.Context, loc session.Location) {
	drained := p.sess.Reset(loc)
	p.resolver.Reset()
	p.emitter.Reset()
	p.video.Stop()

	for _, occ := range drained {
		p.emitter.Emit(ctx, &feed.Entry{
			Type:        feed.TypePlayerLeft,
			CreatedAt:   loc.StartedAt,
			UserID:      occ.UserID,
			DisplayName: occ.DisplayName,
			Player: &feed.PlayerPayload{
				Text:    "has left",
				Elapsed: loc.StartedAt.Sub(occ.JoinedAt),
			},
		})
	}

	for _, hook := range p.resetHooks {
		hook()
	}

	p.emitter.Emit(ctx, &feed.Entry{
		Type:      feed.TypeLocation,
		CreatedAt: loc.StartedAt,
		Place: &feed.PlacePayload{
			WorldID:    loc.WorldID,
			WorldName:  loc.WorldName,
			InstanceID: loc.InstanceID,
		},
	})
}

// playerJoin correlates a log join with protocol state. A peer the
// protocol already delivered is merged; an unknown one gets a synthetic
// negative peer id so the lobby still tracks it.
func (p *Pipeline) playerJoin(ctx context.Context, rec *Record) {
	if rec.PlayerName == "" {
		return
	}

	if occ, ok := p.sess.FindOccupantByName(rec.PlayerName); ok {
		if rec.PlayerID != "" && occ.UserID == "" {
			p.sess.UpdateOccupant(occ.PeerID, func(o *session.Occupant) {
				o.UserID = rec.PlayerID
			})
			p.resolver.Bind(occ.PeerID, rec.PlayerID)
		}
		return
	}

	peer := p.sess.AllocSyntheticPeer()
	p.sess.AddOccupant(&session.Occupant{
		PeerID:        peer,
		UserID:        rec.PlayerID,
		DisplayName:   rec.PlayerName,
		JoinedAt:      rec.At,
		LastHeartbeat: rec.At,
	})
	if rec.PlayerID != "" {
		p.resolver.Bind(peer, rec.PlayerID)
	}
	if p.localName != "" && rec.PlayerName == p.localName {
		p.sess.SetLocalPeer(peer)
	}

	p.emitter.Emit(ctx, &feed.Entry{
		Type:        feed.TypePlayerJoined,
		CreatedAt:   rec.At,
		UserID:      rec.PlayerID,
		DisplayName: rec.PlayerName,
	})
}

func (p *Pipeline) playerLeft(ctx context.Context, rec *Record) {
	occ, ok := p.sess.FindOccupantByName(rec.PlayerName)
	if !ok {
		p.logger.Debug("log leave for unknown player ignored", "player", rec.PlayerName)
		return
	}
	if _, removed := p.sess.RemoveOccupant(occ.PeerID); !removed {
		return
	}

	userID := occ.UserID
	if userID == "" {
		userID = rec.PlayerID
	}
	p.emitter.Emit(ctx, &feed.Entry{
		Type:        feed.TypePlayerLeft,
		CreatedAt:   rec.At,
		UserID:      userID,
		DisplayName: occ.DisplayName,
		IsMaster:    occ.IsMaster,
		Player: &feed.PlayerPayload{
			Text:    "has left",
			Elapsed: rec.At.Sub(occ.JoinedAt),
		},
	})
}

// avatarChange feeds an avatar switch seen in the log. The log carries
// the avatar's display name, which the protocol detector never has.
func (p *Pipeline) avatarChange(ctx context.Context, rec *Record) {
	if p.localName != "" && rec.PlayerName == p.localName {
		return
	}
	var userID string
	if occ, ok := p.sess.FindOccupantByName(rec.PlayerName); ok {
		userID = occ.UserID
	}
	p.emitter.Emit(ctx, &feed.Entry{
		Type:        feed.TypeChangeAvatar,
		CreatedAt:   rec.At,
		UserID:      userID,
		DisplayName: rec.PlayerName,
		Avatar:      &feed.AvatarPayload{AvatarName: rec.AvatarName},
	})
}

// bindPhotonID correlates the log's (photon id, name) line with the
// protocol occupant, filling in a display name the join profile lacked.
func (p *Pipeline) bindPhotonID(rec *Record) {
	if rec.PhotonID <= 0 || rec.PlayerName == "" {
		return
	}
	peer := session.PeerID(rec.PhotonID)
	p.sess.UpdateOccupant(peer, func(o *session.Occupant) {
		if o.DisplayName == "" {
			o.DisplayName = rec.PlayerName
		}
	})
	if rec.Text == "local" {
		p.sess.SetLocalPeer(peer)
	}
}
