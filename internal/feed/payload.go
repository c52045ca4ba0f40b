package feed

import "time"

// OverlayMessage is the JSON shape pushed to the VR overlay transport.
// Field names follow the overlay's existing wire contract.
type OverlayMessage struct {
	ID          string `json:"id"`
	UserID      string `json:"userId,omitempty"`
	DisplayName string `json:"displayName,omitempty"`
	IsFavorite  bool   `json:"isFavorite"`
	IsFriend    bool   `json:"isFriend"`
	IsMaster    bool   `json:"isMaster"`
	IsModerator bool   `json:"isModerator"`
	Colour      string `json:"colour"`
	Type        string `json:"type"`
	CreatedAt   string `json:"created_at"`

	// Variant fields, present depending on Type.
	Text        string  `json:"text,omitempty"`
	WorldID     string  `json:"worldId,omitempty"`
	WorldName   string  `json:"worldName,omitempty"`
	InstanceID  string  `json:"instanceId,omitempty"`
	AvatarID    string  `json:"avatarId,omitempty"`
	AvatarName  string  `json:"avatarName,omitempty"`
	Status      string  `json:"status,omitempty"`
	GroupID     string  `json:"groupId,omitempty"`
	GroupName   string  `json:"groupName,omitempty"`
	PortalID    string  `json:"portalId,omitempty"`
	PlayerCount int     `json:"playerCount,omitempty"`
	Duration    string  `json:"duration,omitempty"`
	ImageURL    string  `json:"imageUrl,omitempty"`
	VideoURL    string  `json:"videoUrl,omitempty"`
	VideoTitle  string  `json:"videoTitle,omitempty"`
	VideoLength float64 `json:"videoLength,omitempty"`
	VideoPos    float64 `json:"videoPos,omitempty"`
}

// overlayTimeFormat matches the overlay's created_at expectations.
const overlayTimeFormat = time.RFC3339

// colourForType maps entry types to the overlay accent colour.
func colourForType(t Type) string {
	switch t {
	case TypePlayerJoined, TypePortalSpawn:
		return "#83f163"
	case TypePlayerLeft, TypeDeletedPortal, TypeQuit:
		return "#ee6464"
	case TypeBlocked, TypeMuted, TypePortalError:
		return "#e15fd9"
	case TypeUnblocked, TypeUnmuted:
		return "#c99df2"
	case TypeChatBoxMessage, TypeSpawnEmoji, TypeSticker:
		return "#6ccff6"
	case TypeLocation, TypeLocationDestination:
		return "#f8d568"
	case TypeMasterMigrate:
		return "#f1a13b"
	default:
		return "#aaaaaa"
	}
}

// ToOverlay flattens an Entry into the overlay wire shape. Every Type
// is handled; unhandled variants would surface in the exhaustiveness
// test rather than silently losing payload fields.
func ToOverlay(e *Entry) OverlayMessage {
	m := OverlayMessage{
		ID:          e.ID,
		UserID:      e.UserID,
		DisplayName: e.DisplayName,
		IsFavorite:  e.IsFavorite,
		IsFriend:    e.IsFriend,
		IsMaster:    e.IsMaster,
		IsModerator: e.IsModerator,
		Colour:      colourForType(e.Type),
		Type:        string(e.Type),
		CreatedAt:   e.CreatedAt.UTC().Format(overlayTimeFormat),
	}

	switch e.Type {
	case TypeLocation, TypeLocationDestination:
		if e.Place != nil {
			m.WorldID = e.Place.WorldID
			m.WorldName = e.Place.WorldName
			m.InstanceID = e.Place.InstanceID
		}

	case TypePlayerJoined, TypePlayerLeft:
		if e.Player != nil {
			m.Text = e.Player.Text
			if e.Player.Elapsed > 0 {
				m.Duration = ElapsedText(e.Player.Elapsed)
			}
		}

	case TypeChangeAvatar:
		if e.Avatar != nil {
			m.AvatarID = e.Avatar.AvatarID
			m.AvatarName = e.Avatar.AvatarName
		}

	case TypeChangeStatus:
		if e.Status != nil {
			m.Status = e.Status.Status
			m.Text = e.Status.StatusDescription
		}

	case TypeChangeGroup:
		if e.Group != nil {
			m.GroupID = e.Group.GroupID
			m.GroupName = e.Group.GroupName
		}

	case TypePortalSpawn, TypeDeletedPortal, TypePortalError:
		if e.Portal != nil {
			m.PortalID = e.Portal.PortalID
			m.WorldID = e.Portal.WorldID
			m.WorldName = e.Portal.WorldName
			m.PlayerCount = e.Portal.PlayerCount
			m.Duration = e.Portal.Duration
			m.Text = e.Portal.Message
		}

	case TypeChatBoxMessage:
		if e.Chat != nil {
			m.Text = e.Chat.Text
		}

	case TypeBlocked, TypeUnblocked, TypeMuted, TypeUnmuted:
		// Identity fields only.

	case TypeSpawnEmoji:
		if e.Emoji != nil {
			m.Text = e.Emoji.Name
			m.ImageURL = e.Emoji.ImageURL
		}

	case TypeMasterMigrate:
		// Identity fields only; DisplayName is the new master.

	case TypeVideoPlay:
		if e.Video != nil {
			m.VideoURL = e.Video.URL
			m.VideoTitle = e.Video.Title
			m.VideoLength = e.Video.Length
			m.VideoPos = e.Video.Position
		}

	case TypeCamera, TypeScreenshot:
		if e.Detail != nil {
			m.ImageURL = e.Detail.Text
		}

	case TypeEvent, TypeNotification, TypeResourceLoad, TypeAPIRequest,
		TypeSticker, TypeQuit, TypeOpenVR, TypeDesktopMode, TypeExternal:
		if e.Detail != nil {
			m.Text = e.Detail.Text
		}
	}

	return m
}
