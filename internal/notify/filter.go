package notify

import (
	"strings"

	"github.com/graaaaa/instancewatch/internal/feed"
)

// Mode selects which audience of a feed type triggers a notification.
type Mode string

const (
	ModeOff      Mode = "Off"
	ModeOn       Mode = "On"
	ModeEveryone Mode = "Everyone"
	ModeFriends  Mode = "Friends"
	ModeVIP      Mode = "VIP"
)

// ParseMode parses a mode name case-insensitively. Unknown values are
// Off; a typo in the config silences rather than spams.
func ParseMode(s string) Mode {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "on":
		return ModeOn
	case "everyone":
		return ModeEveryone
	case "friends":
		return ModeFriends
	case "vip":
		return ModeVIP
	default:
		return ModeOff
	}
}

// Filter maps feed types to notification modes. Types absent from the
// map are Off.
type Filter map[feed.Type]Mode

// NewFilter builds a Filter from the config's string map.
func NewFilter(cfg map[string]string) Filter {
	f := make(Filter, len(cfg))
	for name, mode := range cfg {
		t := feed.Type(name)
		if !t.Valid() {
			continue
		}
		f[t] = ParseMode(mode)
	}
	return f
}

// Allows reports whether the entry should notify.
func (f Filter) Allows(e *feed.Entry) bool {
	switch f[e.Type] {
	case ModeOn, ModeEveryone:
		return true
	case ModeFriends:
		return e.IsFriend
	case ModeVIP:
		return e.IsFavorite
	default:
		return false
	}
}
