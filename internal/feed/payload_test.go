package feed

import (
	"testing"
	"time"
)

// entryFor builds an entry of the given type with its variant payload
// populated, so the overlay mapping can be exercised for every member
// of the closed type set.
func entryFor(t Type) *Entry {
	e := &Entry{
		ID:          "01234567",
		Type:        t,
		CreatedAt:   time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC),
		UserID:      "usr_x",
		DisplayName: "alice",
	}
	switch t {
	case TypeLocation, TypeLocationDestination:
		e.Place = &PlacePayload{WorldID: "wrld_1", WorldName: "Hub", InstanceID: "12345"}
	case TypePlayerJoined, TypePlayerLeft:
		e.Player = &PlayerPayload{Text: "has left", Elapsed: 14 * time.Second}
	case TypeChangeAvatar:
		e.Avatar = &AvatarPayload{AvatarID: "avtr_1", AvatarName: "Robot"}
	case TypeChangeStatus:
		e.Status = &StatusPayload{Status: "busy", StatusDescription: "afk"}
	case TypeChangeGroup:
		e.Group = &GroupPayload{GroupID: "grp_1", GroupName: "Crew"}
	case TypePortalSpawn, TypeDeletedPortal, TypePortalError:
		e.Portal = &PortalPayload{PortalID: "p1", WorldID: "wrld_2", WorldName: "Target", PlayerCount: 2, Duration: "30s"}
	case TypeChatBoxMessage:
		e.Chat = &ChatPayload{Text: "hello"}
	case TypeSpawnEmoji:
		e.Emoji = &EmojiPayload{EmojiID: 3, Name: "laugh"}
	case TypeVideoPlay:
		e.Video = &VideoPayload{URL: "https://v/1", Title: "clip", Length: 120}
	default:
		e.Detail = &DetailPayload{Text: "detail"}
	}
	return e
}

func TestToOverlayCoversEveryType(t *testing.T) {
	for _, typ := range Types() {
		m := ToOverlay(entryFor(typ))
		if m.Type != string(typ) {
			t.Errorf("type %s: overlay type = %q", typ, m.Type)
		}
		if m.ID == "" || m.CreatedAt == "" {
			t.Errorf("type %s: identity fields missing", typ)
		}
		if m.Colour == "" {
			t.Errorf("type %s: no colour assigned", typ)
		}
	}
}

func TestToOverlayVariantFields(t *testing.T) {
	loc := ToOverlay(entryFor(TypeLocation))
	if loc.WorldID != "wrld_1" || loc.WorldName != "Hub" || loc.InstanceID != "12345" {
		t.Errorf("location overlay = %+v", loc)
	}

	left := ToOverlay(entryFor(TypePlayerLeft))
	if left.Text != "has left" || left.Duration != "14s" {
		t.Errorf("player left overlay = %+v", left)
	}

	video := ToOverlay(entryFor(TypeVideoPlay))
	if video.VideoURL != "https://v/1" || video.VideoTitle != "clip" || video.VideoLength != 120 {
		t.Errorf("video overlay = %+v", video)
	}

	portal := ToOverlay(entryFor(TypeDeletedPortal))
	if portal.PortalID != "p1" || portal.PlayerCount != 2 || portal.Duration != "30s" {
		t.Errorf("portal overlay = %+v", portal)
	}
}

func TestTypeValid(t *testing.T) {
	for _, typ := range Types() {
		if !typ.Valid() {
			t.Errorf("%s should be valid", typ)
		}
	}
	if Type("Nope").Valid() {
		t.Error("unknown type should be invalid")
	}
}
