// Package gamelog tails the game's output log and turns the lines the
// engine cares about into typed records. The three standard Behaviour
// events are delegated to vrclog-go; everything else is parsed here.
package gamelog

import "time"

// Kind identifies a parsed log record variant.
type Kind int

const (
	KindWorldJoin Kind = iota + 1
	KindRoomName
	KindPlayerJoin
	KindPlayerLeft
	KindDestination
	KindAvatarChange
	KindVideoPlay
	KindPhotonID
	KindNotification
	KindEvent
	KindQuit
	KindOpenVR
	KindDesktopMode
	KindResourceLoad
	KindScreenshot
	KindCamera
	KindAPIRequest
	KindStickerSpawn
	// KindFreeform is a message another companion tool injected into
	// the log; the text is surfaced verbatim.
	KindFreeform
)

// Record is one parsed log line. Fields beyond Kind/At are set per
// variant; unused ones stay zero.
type Record struct {
	Kind Kind
	At   time.Time
	Raw  string

	PlayerName string
	PlayerID   string

	WorldID    string
	WorldName  string
	InstanceID string

	AvatarName string
	Video      *VideoInfo
	PhotonID   int

	// Text carries the freeform detail for notification, event,
	// resource, screenshot and API request records.
	Text string
}
