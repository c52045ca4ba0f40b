package photon

import (
	"context"
	"strings"

	"github.com/graaaaa/instancewatch/internal/feed"
	"github.com/graaaaa/instancewatch/internal/session"
	"github.com/graaaaa/instancewatch/internal/store"
)

// handleChatBox feeds a chatbox message unless suppressed. Suppression
// rules: local sender, identical consecutive text from the same peer,
// blacklisted word, blacklisted sender.
func (d *Dispatcher) handleChatBox(ctx context.Context, ev RawEvent) {
	actor, ok := ev.actor()
	if !ok {
		return
	}
	text, ok := asString(ev.Parameters[paramData])
	if !ok || text == "" {
		return
	}
	peer := session.PeerID(actor)

	d.sess.UpdateOccupant(peer, func(o *session.Occupant) {
		o.LastHeartbeat = ev.ReceivedAt
	})

	if peer == d.sess.LocalPeer() {
		return
	}
	if d.sess.LastChat(peer) == text {
		d.logger.Debug("repeated chatbox text suppressed", "peer", actor)
		return
	}
	if d.blockedText(text) {
		return
	}

	userID, _ := d.resolver.Resolve(peer)
	if _, banned := d.blacklistUsers[userID]; banned && userID != "" {
		return
	}

	d.sess.SetLastChat(peer, text)

	occ, _ := d.sess.Occupant(peer)
	d.emitter.Emit(ctx, &feed.Entry{
		Type:        feed.TypeChatBoxMessage,
		CreatedAt:   ev.ReceivedAt,
		UserID:      userID,
		DisplayName: occ.DisplayName,
		Chat:        &feed.ChatPayload{Text: text},
	})

	if d.chats == nil || occ.DisplayName == "" {
		return
	}
	err := d.chats.InsertChat(ctx, store.ChatMessage{
		Ts:          ev.ReceivedAt,
		UserID:      userID,
		DisplayName: occ.DisplayName,
		Text:        text,
	})
	if err != nil {
		d.logger.Error("chat persist failed", "error", err)
	}
}

func (d *Dispatcher) blockedText(text string) bool {
	lower := strings.ToLower(text)
	for _, w := range d.blacklistWords {
		if strings.Contains(lower, w) {
			return true
		}
	}
	return false
}
