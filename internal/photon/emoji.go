package photon

import (
	"context"
	"fmt"

	"github.com/graaaaa/instancewatch/internal/feed"
	"github.com/graaaaa/instancewatch/internal/session"
)

// builtinEmojiNames maps the game's built-in emoji ids to names. Custom
// emojis arrive as a file id instead and resolve to an image URL.
var builtinEmojiNames = map[int]string{
	0:  "Thumbs Up",
	1:  "Thumbs Down",
	2:  "Clap",
	3:  "Wave",
	4:  "Heart",
	5:  "Broken Heart",
	6:  "Laugh",
	7:  "Cry",
	8:  "Surprise",
	9:  "Angry",
	10: "Confetti",
	11: "Fire",
	12: "Snowball",
	13: "Zzz",
	14: "Question",
	15: "Exclamation",
}

const customEmojiURLFormat = "https://api.vrchat.cloud/api/1/file/%s/1/file"

func (d *Dispatcher) handleEmoji(ctx context.Context, ev RawEvent) {
	actor, ok := ev.actor()
	if !ok {
		return
	}
	peer := session.PeerID(actor)

	d.sess.UpdateOccupant(peer, func(o *session.Occupant) {
		o.LastHeartbeat = ev.ReceivedAt
	})

	if peer == d.sess.LocalPeer() {
		return
	}
	data, ok := asMap(ev.Parameters[paramData])
	if !ok {
		return
	}

	payload := &feed.EmojiPayload{}
	if id, ok := asInt(data["emojiId"]); ok {
		payload.EmojiID = id
		payload.Name = builtinEmojiNames[id]
		if payload.Name == "" {
			payload.Name = fmt.Sprintf("Emoji %d", id)
		}
	} else if fileID := mapString(data, "fileId"); fileID != "" {
		payload.Name = "Custom"
		payload.ImageURL = fmt.Sprintf(customEmojiURLFormat, fileID)
	} else {
		return
	}

	occ, _ := d.sess.Occupant(peer)
	userID, _ := d.resolver.Resolve(peer)
	d.emitter.Emit(ctx, &feed.Entry{
		Type:        feed.TypeSpawnEmoji,
		CreatedAt:   ev.ReceivedAt,
		UserID:      userID,
		DisplayName: occ.DisplayName,
		Emoji:       payload,
	})
}
