// Package photon decodes opcode-tagged protocol events relayed from
// the game client and dispatches them as typed operations against the
// session state. Raw integer-keyed parameter maps never leak past this
// package.
package photon

import "time"

// Code is a protocol event opcode.
type Code int

// Opcodes understood by the dispatcher. Anything else is a no-op by
// design (forward compatibility), not an error.
const (
	CodePing       Code = 6
	CodeModeration Code = 33
	CodePropsBulk  Code = 42
	CodeChatBox    Code = 43
	CodePortal     Code = 71
	CodeEmoji      Code = 74
	CodeMasterSync Code = 208
	CodePropsSet   Code = 253
	CodeLeave      Code = 254
	CodeJoin       Code = 255
)

// Parameter keys inside the relayed event map.
const (
	paramData   = 245 // variant payload (moderation, chat, portal, emoji)
	paramMaster = 248 // master peer id
	paramProps  = 249 // profile properties (single: map, bulk: peer -> map)
	paramActor  = 254 // sending/affected peer id
)

// RawEvent is one decoded relay frame: an opcode plus the raw
// integer-keyed parameter map, with the ingestion timestamp.
type RawEvent struct {
	Code       Code
	Parameters map[int]any
	ReceivedAt time.Time
}

// Profile is the inline user profile carried on join and
// properties-set events. Fields absent from the wire stay zero.
type Profile struct {
	UserID            string
	DisplayName       string
	Status            string
	StatusDescription string
	AvatarID          string
	GroupID           string
	CanModerate       bool
	Platform          string
	IsFriend          bool
	IsFavorite        bool
	HasInstantiated   bool
}

// moderationSignal is one normalized (peer, block, mute) tuple. Both
// wire shapes (single-target and bulk lists) reduce to these.
type moderationSignal struct {
	peer  int
	block bool
	mute  bool
}

// ---- loose decoding helpers -------------------------------------------------
//
// msgpack integers arrive as any of the int/uint widths depending on
// the encoder; these helpers normalize without reflection surprises.

func asInt(v any) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case int8:
		return int(n), true
	case int16:
		return int(n), true
	case int32:
		return int(n), true
	case int64:
		return int(n), true
	case uint:
		return int(n), true
	case uint8:
		return int(n), true
	case uint16:
		return int(n), true
	case uint32:
		return int(n), true
	case uint64:
		return int(n), true
	case float64:
		return int(n), true
	case float32:
		return int(n), true
	default:
		return 0, false
	}
}

func asString(v any) (string, bool) {
	s, ok := v.(string)
	return s, ok
}

func asBool(v any) (bool, bool) {
	b, ok := v.(bool)
	return b, ok
}

func asMap(v any) (map[string]any, bool) {
	switch m := v.(type) {
	case map[string]any:
		return m, true
	case map[any]any:
		out := make(map[string]any, len(m))
		for k, val := range m {
			if ks, ok := k.(string); ok {
				out[ks] = val
			}
		}
		return out, true
	default:
		return nil, false
	}
}

func asIntSlice(v any) ([]int, bool) {
	raw, ok := v.([]any)
	if !ok {
		return nil, false
	}
	out := make([]int, 0, len(raw))
	for _, item := range raw {
		n, ok := asInt(item)
		if !ok {
			return nil, false
		}
		out = append(out, n)
	}
	return out, true
}

func mapString(m map[string]any, key string) string {
	s, _ := asString(m[key])
	return s
}

func mapBool(m map[string]any, key string) bool {
	b, _ := asBool(m[key])
	return b
}

// decodeProfile reads an inline profile map. A missing field is not an
// error; callers skip updates for zero fields.
func decodeProfile(v any) (Profile, bool) {
	m, ok := asMap(v)
	if !ok {
		return Profile{}, false
	}
	return Profile{
		UserID:            mapString(m, "id"),
		DisplayName:       mapString(m, "displayName"),
		Status:            mapString(m, "status"),
		StatusDescription: mapString(m, "statusDescription"),
		AvatarID:          mapString(m, "avatarId"),
		GroupID:           mapString(m, "groupId"),
		CanModerate:       mapBool(m, "canModerateInstance"),
		Platform:          mapString(m, "platform"),
		IsFriend:          mapBool(m, "isFriend"),
		IsFavorite:        mapBool(m, "isFavorite"),
		HasInstantiated:   mapBool(m, "hasInstantiated"),
	}, true
}

// actor returns the peer id parameter, if present.
func (e RawEvent) actor() (int, bool) {
	return asInt(e.Parameters[paramActor])
}

// masterActor returns the master peer id parameter, if present.
func (e RawEvent) masterActor() (int, bool) {
	return asInt(e.Parameters[paramMaster])
}
