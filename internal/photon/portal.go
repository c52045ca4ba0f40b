package photon

import (
	"context"
	"time"

	"github.com/graaaaa/instancewatch/internal/feed"
	"github.com/graaaaa/instancewatch/internal/session"
)

// Portal payload discriminators. All portal lifecycle events share one
// opcode; the payload's "kind" field selects the variant.
const (
	portalKindSpawn      = "spawn"       // short name only, world resolved async
	portalKindSpawnWorld = "spawn_world" // world id and name inline
	portalKindDelete     = "delete"
	portalKindLeave      = "leave"
	portalKindError      = "error"
)

func (d *Dispatcher) handlePortal(ctx context.Context, ev RawEvent) {
	d.touchHeartbeat(ev)

	data, ok := asMap(ev.Parameters[paramData])
	if !ok {
		d.logger.Warn("portal event with unexpected payload shape, skipping")
		return
	}

	switch kind := mapString(data, "kind"); kind {
	case portalKindSpawn:
		d.portalSpawn(ctx, data, ev.ReceivedAt)
	case portalKindSpawnWorld:
		d.portalSpawnWorld(ctx, data, ev.ReceivedAt)
	case portalKindDelete:
		d.portalDelete(ctx, data, ev.ReceivedAt)
	case portalKindLeave:
		d.portalLeave(data)
	case portalKindError:
		d.portalError(ctx, data, ev)
	default:
		d.logger.Debug("ignoring unknown portal kind", "kind", kind)
	}
}

// portalSpawn registers a portal known only by short name. The world
// lookup runs async; the spawn entry is emitted once it settles, with
// the short name standing in for the world name on failure.
func (d *Dispatcher) portalSpawn(ctx context.Context, data map[string]any, at time.Time) {
	portalID := mapString(data, "portalId")
	shortName := mapString(data, "shortName")
	owner := mapString(data, "ownerId")
	if portalID == "" {
		d.logger.Warn("portal spawn without id, skipping")
		return
	}

	d.sess.AddPortal(&session.Portal{
		PortalID:    portalID,
		OwnerUserID: owner,
		ShortName:   shortName,
		CreatedAt:   at,
	})

	ownerName := d.displayNameForUser(owner)

	if d.worlds == nil || shortName == "" {
		d.emitPortalSpawn(ctx, portalID, owner, ownerName, shortName, "", shortName, at)
		return
	}

	epoch := d.sess.Epoch()
	go func() {
		worldID, worldName, err := d.worlds.ResolveShortName(ctx, shortName)
		d.post.Post(func() {
			if d.sess.Epoch() != epoch {
				return
			}
			if err != nil || worldName == "" {
				if err != nil {
					d.logger.Warn("portal short name lookup failed",
						"short_name", shortName,
						"error", err,
					)
				}
				worldID, worldName = "", shortName
			}
			d.sess.UpdatePortal(portalID, func(p *session.Portal) {
				p.WorldID = worldID
				p.WorldName = worldName
			})
			d.emitPortalSpawn(ctx, portalID, owner, ownerName, shortName, worldID, worldName, at)
		})
	}()
}

// portalSpawnWorld registers a portal whose world is carried inline.
func (d *Dispatcher) portalSpawnWorld(ctx context.Context, data map[string]any, at time.Time) {
	portalID := mapString(data, "portalId")
	owner := mapString(data, "ownerId")
	worldID := mapString(data, "worldId")
	worldName := mapString(data, "worldName")
	if portalID == "" {
		d.logger.Warn("portal spawn without id, skipping")
		return
	}

	d.sess.AddPortal(&session.Portal{
		PortalID:    portalID,
		OwnerUserID: owner,
		WorldID:     worldID,
		WorldName:   worldName,
		CreatedAt:   at,
	})

	d.emitPortalSpawn(ctx, portalID, owner, d.displayNameForUser(owner), "", worldID, worldName, at)
}

func (d *Dispatcher) emitPortalSpawn(ctx context.Context, portalID, owner, ownerName, shortName, worldID, worldName string, at time.Time) {
	d.emitter.Emit(ctx, &feed.Entry{
		Type:        feed.TypePortalSpawn,
		CreatedAt:   at,
		UserID:      owner,
		DisplayName: ownerName,
		Portal: &feed.PortalPayload{
			PortalID:    portalID,
			OwnerUserID: owner,
			ShortName:   shortName,
			WorldID:     worldID,
			WorldName:   worldName,
		},
	})
}

// portalDelete closes a portal and reports how many peers went through
// it and how long it stood.
func (d *Dispatcher) portalDelete(ctx context.Context, data map[string]any, at time.Time) {
	portalID := mapString(data, "portalId")
	p, ok := d.sess.RemovePortal(portalID)
	if !ok {
		d.logger.Debug("delete for unknown portal ignored", "portal_id", portalID)
		return
	}

	d.emitter.Emit(ctx, &feed.Entry{
		Type:        feed.TypeDeletedPortal,
		CreatedAt:   at,
		UserID:      p.OwnerUserID,
		DisplayName: d.displayNameForUser(p.OwnerUserID),
		Portal: &feed.PortalPayload{
			PortalID:    p.PortalID,
			OwnerUserID: p.OwnerUserID,
			ShortName:   p.ShortName,
			WorldID:     p.WorldID,
			WorldName:   p.WorldName,
			PlayerCount: p.PlayerCount,
			Duration:    feed.ElapsedText(at.Sub(p.CreatedAt)),
		},
	})
}

// portalLeave counts a departure through the portal. The matching
// protocol leave consumes the pending count so the departure is not
// double-attributed.
func (d *Dispatcher) portalLeave(data map[string]any) {
	portalID := mapString(data, "portalId")
	if !d.sess.IncrementPortalLeave(portalID) {
		d.logger.Debug("leave for unknown portal ignored", "portal_id", portalID)
	}
}

func (d *Dispatcher) portalError(ctx context.Context, data map[string]any, ev RawEvent) {
	var name, userID string
	if actor, ok := ev.actor(); ok {
		if occ, found := d.sess.Occupant(session.PeerID(actor)); found {
			name = occ.DisplayName
			userID = occ.UserID
		}
	}
	d.emitter.Emit(ctx, &feed.Entry{
		Type:        feed.TypePortalError,
		CreatedAt:   ev.ReceivedAt,
		UserID:      userID,
		DisplayName: name,
		Portal: &feed.PortalPayload{
			Message: mapString(data, "message"),
		},
	})
}
