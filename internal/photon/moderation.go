package photon

import (
	"context"
	"time"

	"github.com/graaaaa/instancewatch/internal/session"
)

// handleModeration normalizes both moderation wire shapes into per-peer
// (block, mute) signals and forwards them once the peer's identity is
// known. Continuations queued on unresolved peers flush on Bind and are
// discarded on session reset.
func (d *Dispatcher) handleModeration(ctx context.Context, ev RawEvent) {
	if d.mod == nil {
		return
	}
	data, ok := asMap(ev.Parameters[paramData])
	if !ok {
		d.logger.Warn("moderation event with unexpected payload shape, skipping")
		return
	}

	for _, sig := range decodeModerationSignals(data) {
		d.forwardModeration(ctx, sig, ev.ReceivedAt)
	}
}

// decodeModerationSignals reduces either shape to signals:
//
//   - single target: {"targetActor": n, "block": b, "mute": m}
//   - bulk declaration: {"blockedActors": [...], "mutedActors": [...]}
//
// The bulk shape declares state only for the peers it lists.
func decodeModerationSignals(data map[string]any) []moderationSignal {
	if target, ok := asInt(data["targetActor"]); ok {
		return []moderationSignal{{
			peer:  target,
			block: mapBool(data, "block"),
			mute:  mapBool(data, "mute"),
		}}
	}

	blocked, _ := asIntSlice(data["blockedActors"])
	muted, _ := asIntSlice(data["mutedActors"])
	if blocked == nil && muted == nil {
		return nil
	}

	merged := make(map[int]*moderationSignal, len(blocked)+len(muted))
	order := make([]int, 0, len(blocked)+len(muted))
	for _, peer := range blocked {
		if _, ok := merged[peer]; !ok {
			merged[peer] = &moderationSignal{peer: peer}
			order = append(order, peer)
		}
		merged[peer].block = true
	}
	for _, peer := range muted {
		if _, ok := merged[peer]; !ok {
			merged[peer] = &moderationSignal{peer: peer}
			order = append(order, peer)
		}
		merged[peer].mute = true
	}

	out := make([]moderationSignal, 0, len(order))
	for _, peer := range order {
		out = append(out, *merged[peer])
	}
	return out
}

func (d *Dispatcher) forwardModeration(ctx context.Context, sig moderationSignal, at time.Time) {
	peer := session.PeerID(sig.peer)
	d.resolver.WhenResolved(peer, func(userID string) {
		name := d.displayNameForUser(userID)
		if name == "" {
			if occ, ok := d.sess.Occupant(peer); ok {
				name = occ.DisplayName
			}
		}
		d.mod.Reconcile(ctx, userID, name, sig.block, sig.mute, at)
	})
}
