package gamelog

import (
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/vrclog/vrclog-go/pkg/vrclog"
)

// lineRe splits a log line into timestamp and message body. The level
// column is ignored; warnings and errors carry parseable events too.
var lineRe = regexp.MustCompile(`^(\d{4}\.\d{2}\.\d{2} \d{2}:\d{2}:\d{2}) (?:Log|Warning|Error|Exception)\s+-\s+(.*)$`)

const timestampLayout = "2006.01.02 15:04:05"

var (
	roomNameRe     = regexp.MustCompile(`\[Behaviour\] Joining or Creating Room: (.+)$`)
	destinationRe  = regexp.MustCompile(`\[Behaviour\] Destination (?:set|fetching): (wrld_[0-9A-Za-z-]+)(?::(\S+))?`)
	avatarChangeRe = regexp.MustCompile(`\[Behaviour\] Switching (.+) to avatar (.+)$`)
	photonIDRe     = regexp.MustCompile(`\[Behaviour\] Initialized PlayerAPI "(.+)" is (local|remote) \((\d+)\)`)
	notificationRe = regexp.MustCompile(`Received Notification: <Notification from username:(.+?), sender user id:(usr_[0-9A-Fa-f-]+).*? of type: ([a-zA-Z]+),`)
	eventRe        = regexp.MustCompile(`\[Behaviour\] (Instance .+)$`)
	resourceLoadRe = regexp.MustCompile(`\[AssetBundleDownloadManager\] Downloading (.+)$`)
	screenshotRe   = regexp.MustCompile(`\[VRC Camera\] Took screenshot to: (.+)$`)
	cameraRe       = regexp.MustCompile(`\[VRC Camera\] (Photo .+)$`)
	apiRequestRe   = regexp.MustCompile(`\[API\] Requesting (?:Get|Post|Put|Delete) (\S+)`)
	stickerRe      = regexp.MustCompile(`\[StickersManager\] User (.+?) spawned sticker (\S+)`)
	externalRe     = regexp.MustCompile(`\[VRCX\] (.+)$`)
)

// Parse turns one raw log line into a Record. Returns (nil, nil) for
// lines that carry no event, mirroring the vrclog-go contract.
func Parse(line string) (*Record, error) {
	// Standard Behaviour events first; the upstream parser owns their
	// exact grammar.
	if ev, err := vrclog.ParseLine(line); err != nil {
		return nil, err
	} else if ev != nil {
		rec := &Record{
			At:         ev.Timestamp,
			Raw:        line,
			PlayerName: ev.PlayerName,
			PlayerID:   ev.PlayerID,
			WorldID:    ev.WorldID,
			WorldName:  ev.WorldName,
			InstanceID: ev.InstanceID,
		}
		switch ev.Type {
		case vrclog.EventWorldJoin:
			rec.Kind = KindWorldJoin
		case vrclog.EventPlayerJoin:
			rec.Kind = KindPlayerJoin
		case vrclog.EventPlayerLeft:
			rec.Kind = KindPlayerLeft
		default:
			return nil, nil
		}
		return rec, nil
	}

	m := lineRe.FindStringSubmatch(line)
	if m == nil {
		return nil, nil
	}
	at, err := time.ParseInLocation(timestampLayout, m[1], time.Local)
	if err != nil {
		return nil, err
	}
	body := m[2]

	rec := &Record{At: at, Raw: line}

	if info := parseVideo(body); info != nil {
		rec.Kind = KindVideoPlay
		rec.Video = info
		return rec, nil
	}

	switch {
	case matchInto(roomNameRe, body, func(g []string) {
		rec.Kind = KindRoomName
		rec.WorldName = g[1]
	}):
	case matchInto(destinationRe, body, func(g []string) {
		rec.Kind = KindDestination
		rec.WorldID = g[1]
		rec.InstanceID = g[2]
	}):
	case matchInto(avatarChangeRe, body, func(g []string) {
		rec.Kind = KindAvatarChange
		rec.PlayerName = g[1]
		rec.AvatarName = g[2]
	}):
	case matchInto(photonIDRe, body, func(g []string) {
		rec.Kind = KindPhotonID
		rec.PlayerName = g[1]
		rec.Text = g[2] // "local" or "remote"
		rec.PhotonID, _ = strconv.Atoi(g[3])
	}):
	case matchInto(notificationRe, body, func(g []string) {
		rec.Kind = KindNotification
		rec.PlayerName = g[1]
		rec.PlayerID = g[2]
		rec.Text = g[3]
	}):
	case matchInto(eventRe, body, func(g []string) {
		rec.Kind = KindEvent
		rec.Text = g[1]
	}):
	case matchInto(resourceLoadRe, body, func(g []string) {
		rec.Kind = KindResourceLoad
		rec.Text = g[1]
	}):
	case matchInto(screenshotRe, body, func(g []string) {
		rec.Kind = KindScreenshot
		rec.Text = g[1]
	}):
	case matchInto(cameraRe, body, func(g []string) {
		rec.Kind = KindCamera
		rec.Text = g[1]
	}):
	case matchInto(apiRequestRe, body, func(g []string) {
		rec.Kind = KindAPIRequest
		rec.Text = g[1]
	}):
	case matchInto(stickerRe, body, func(g []string) {
		rec.Kind = KindStickerSpawn
		rec.PlayerName = g[1]
		rec.Text = g[2]
	}):
	case matchInto(externalRe, body, func(g []string) {
		rec.Kind = KindFreeform
		rec.Text = g[1]
	}):
	case strings.Contains(body, "VRCApplication: OnApplicationQuit"):
		rec.Kind = KindQuit
	case strings.Contains(body, "OpenVR initialized"):
		rec.Kind = KindOpenVR
	case strings.Contains(body, "Launching in Desktop mode"):
		rec.Kind = KindDesktopMode
	default:
		return nil, nil
	}

	return rec, nil
}

func matchInto(re *regexp.Regexp, body string, fn func(groups []string)) bool {
	g := re.FindStringSubmatch(body)
	if g == nil {
		return false
	}
	fn(g)
	return true
}
