// Package feed provides the normalized event model shared by the
// notification, persistence and overlay sinks. Every state change the
// engine observes is expressed as exactly one Entry.
package feed

import "time"

// Type identifies a feed entry variant. The set is closed: sinks switch
// over it and Types() enumerates every member so tests can assert that a
// sink handles all of them.
type Type string

const (
	TypeLocation            Type = "Location"
	TypeLocationDestination Type = "LocationDestination"
	TypePlayerJoined        Type = "OnPlayerJoined"
	TypePlayerLeft          Type = "OnPlayerLeft"
	TypeChangeAvatar        Type = "ChangeAvatar"
	TypeChangeStatus        Type = "ChangeStatus"
	TypeChangeGroup         Type = "ChangeGroup"
	TypePortalSpawn         Type = "PortalSpawn"
	TypeDeletedPortal       Type = "DeletedPortal"
	TypePortalError         Type = "PortalError"
	TypeChatBoxMessage      Type = "ChatBoxMessage"
	TypeBlocked             Type = "Blocked"
	TypeUnblocked           Type = "Unblocked"
	TypeMuted               Type = "Muted"
	TypeUnmuted             Type = "Unmuted"
	TypeCamera              Type = "Camera"
	TypeSpawnEmoji          Type = "SpawnEmoji"
	TypeMasterMigrate       Type = "MasterMigrate"
	TypeEvent               Type = "Event"
	TypeVideoPlay           Type = "VideoPlay"
	TypeSticker             Type = "Sticker"
	TypeScreenshot          Type = "Screenshot"
	TypeNotification        Type = "Notification"
	TypeResourceLoad        Type = "ResourceLoad"
	TypeAPIRequest          Type = "APIRequest"
	TypeQuit                Type = "Quit"
	TypeOpenVR              Type = "OpenVR"
	TypeDesktopMode         Type = "DesktopMode"
	TypeExternal            Type = "External"
)

// Types returns every feed entry type.
func Types() []Type {
	return []Type{
		TypeLocation, TypeLocationDestination,
		TypePlayerJoined, TypePlayerLeft,
		TypeChangeAvatar, TypeChangeStatus, TypeChangeGroup,
		TypePortalSpawn, TypeDeletedPortal, TypePortalError,
		TypeChatBoxMessage,
		TypeBlocked, TypeUnblocked, TypeMuted, TypeUnmuted,
		TypeCamera, TypeSpawnEmoji, TypeMasterMigrate,
		TypeEvent, TypeVideoPlay, TypeSticker, TypeScreenshot,
		TypeNotification, TypeResourceLoad, TypeAPIRequest,
		TypeQuit, TypeOpenVR, TypeDesktopMode, TypeExternal,
	}
}

// Valid reports whether t is a known feed entry type.
func (t Type) Valid() bool {
	for _, k := range Types() {
		if t == k {
			return true
		}
	}
	return false
}

// Entry is a normalized feed event. Common identity fields are always
// set where known; exactly one payload pointer is set for variants that
// carry extra data.
type Entry struct {
	ID        string    `json:"id"`
	Type      Type      `json:"type"`
	CreatedAt time.Time `json:"created_at"`

	UserID      string `json:"user_id,omitempty"`
	DisplayName string `json:"display_name,omitempty"`

	IsFriend    bool `json:"is_friend,omitempty"`
	IsFavorite  bool `json:"is_favorite,omitempty"`
	IsMaster    bool `json:"is_master,omitempty"`
	IsModerator bool `json:"is_moderator,omitempty"`

	Place  *PlacePayload  `json:"place,omitempty"`
	Player *PlayerPayload `json:"player,omitempty"`
	Avatar *AvatarPayload `json:"avatar,omitempty"`
	Status *StatusPayload `json:"status,omitempty"`
	Group  *GroupPayload  `json:"group,omitempty"`
	Portal *PortalPayload `json:"portal,omitempty"`
	Chat   *ChatPayload   `json:"chat,omitempty"`
	Emoji  *EmojiPayload  `json:"emoji,omitempty"`
	Video  *VideoPayload  `json:"video,omitempty"`
	Detail *DetailPayload `json:"detail,omitempty"`
}

// PlacePayload describes a world/instance, used by Location and
// LocationDestination entries.
type PlacePayload struct {
	WorldID    string `json:"world_id"`
	WorldName  string `json:"world_name,omitempty"`
	InstanceID string `json:"instance_id,omitempty"`
}

// PlayerPayload carries join/leave detail. Text is the human wording
// ("has left", "has timed out after 14s"); Elapsed is the presence
// duration for leave entries.
type PlayerPayload struct {
	Text    string        `json:"text,omitempty"`
	Elapsed time.Duration `json:"elapsed,omitempty"`
}

// AvatarPayload carries an avatar change.
type AvatarPayload struct {
	AvatarID     string `json:"avatar_id"`
	AvatarName   string `json:"avatar_name,omitempty"`
	PrevAvatarID string `json:"prev_avatar_id,omitempty"`
}

// StatusPayload carries a status change.
type StatusPayload struct {
	Status            string `json:"status"`
	StatusDescription string `json:"status_description,omitempty"`
	PrevStatus        string `json:"prev_status,omitempty"`
}

// GroupPayload carries a nameplate group change.
type GroupPayload struct {
	GroupID     string `json:"group_id"`
	GroupName   string `json:"group_name,omitempty"`
	PrevGroupID string `json:"prev_group_id,omitempty"`
}

// PortalPayload carries portal lifecycle detail. PlayerCount and
// Duration are only set on DeletedPortal entries.
type PortalPayload struct {
	PortalID    string `json:"portal_id,omitempty"`
	OwnerUserID string `json:"owner_user_id,omitempty"`
	ShortName   string `json:"short_name,omitempty"`
	WorldID     string `json:"world_id,omitempty"`
	WorldName   string `json:"world_name,omitempty"`
	PlayerCount int    `json:"player_count,omitempty"`
	Duration    string `json:"duration,omitempty"`
	Message     string `json:"message,omitempty"`
}

// ChatPayload carries a chatbox message.
type ChatPayload struct {
	Text string `json:"text"`
}

// EmojiPayload carries a spawned emoji. Either Name (built-in table) or
// ImageURL (custom emoji derived from a file id) is set.
type EmojiPayload struct {
	EmojiID  int    `json:"emoji_id,omitempty"`
	Name     string `json:"name,omitempty"`
	ImageURL string `json:"image_url,omitempty"`
}

// VideoPayload carries a now-playing projection snapshot.
type VideoPayload struct {
	URL      string  `json:"url"`
	Title    string  `json:"title,omitempty"`
	Length   float64 `json:"length,omitempty"`
	Position float64 `json:"position,omitempty"`
}

// DetailPayload carries freeform text detail for generic entries
// (Event, Notification, ResourceLoad, APIRequest, Screenshot, Sticker,
// External and the lifecycle markers).
type DetailPayload struct {
	Text string `json:"text"`
}
