package gamelog

import (
	"encoding/json"
	"regexp"
	"strconv"
	"sync"
	"time"

	"github.com/graaaaa/instancewatch/internal/feed"
	"github.com/graaaaa/instancewatch/internal/watcher"
)

// In-world media players write playback lines in three shapes:
// quote-delimited text, bracket-nested text, and compact JSON.
var (
	videoQuotedRe  = regexp.MustCompile(`\[Video Playback\] Attempting to resolve URL '(.+)'`)
	videoBracketRe = regexp.MustCompile(`\[(?:USharpVideo|ProTV)\] Now playing: \[(.*?)\]\[(.+?)\](?:\[([0-9.]+)\])?`)
	videoJSONRe    = regexp.MustCompile(`\[VideoPlayer\] Play: (\{.+\})$`)
)

// VideoInfo is the normalized playback description shared by all
// three formats. Length and Position are seconds; zero means unknown.
type VideoInfo struct {
	URL      string
	Name     string
	Length   float64
	Position float64
}

// videoJSONPayload is the compact JSON shape.
type videoJSONPayload struct {
	URL      string  `json:"url"`
	Name     string  `json:"name"`
	Length   float64 `json:"length"`
	Position float64 `json:"position"`
}

// parseVideo extracts playback info from a log line body, or nil when
// the line is not a playback line. A matched-but-malformed payload
// returns nil too; dropping the single event is the contract.
func parseVideo(body string) *VideoInfo {
	if g := videoQuotedRe.FindStringSubmatch(body); g != nil {
		return &VideoInfo{URL: g[1]}
	}
	if g := videoBracketRe.FindStringSubmatch(body); g != nil {
		info := &VideoInfo{Name: g[1], URL: g[2]}
		if g[3] != "" {
			info.Length, _ = strconv.ParseFloat(g[3], 64)
		}
		return info
	}
	if g := videoJSONRe.FindStringSubmatch(body); g != nil {
		var p videoJSONPayload
		if err := json.Unmarshal([]byte(g[1]), &p); err != nil || p.URL == "" {
			return nil
		}
		return &VideoInfo{URL: p.URL, Name: p.Name, Length: p.Length, Position: p.Position}
	}
	return nil
}

// tickInterval is how often the now-playing projection is recomputed
// while something is playing.
const tickInterval = time.Second

// NowPlaying is the current playback projection.
type NowPlaying struct {
	Info      VideoInfo
	StartedAt time.Time
}

// Projector tracks what is currently playing and projects the playback
// position from wall time on a re-arming 1s ticker. Snapshot is read
// from API goroutines, hence the mutex.
type Projector struct {
	mu     sync.Mutex
	cur    *NowPlaying
	handle watcher.TimerHandle

	after watcher.AfterFunc
	push  func(*feed.VideoPayload)
}

// ProjectorOption configures a Projector.
type ProjectorOption func(*Projector)

// WithProjectorAfterFunc sets the timer implementation (for testing).
func WithProjectorAfterFunc(after watcher.AfterFunc) ProjectorOption {
	return func(p *Projector) {
		if after != nil {
			p.after = after
		}
	}
}

// WithProjectorPush sets the sink tick snapshots are pushed to.
func WithProjectorPush(push func(*feed.VideoPayload)) ProjectorOption {
	return func(p *Projector) { p.push = push }
}

// NewProjector creates a Projector.
func NewProjector(opts ...ProjectorOption) *Projector {
	p := &Projector{after: watcher.DefaultAfterFunc}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Start records a new playback and arms the ticker.
func (p *Projector) Start(info VideoInfo, at time.Time) {
	p.mu.Lock()
	defer p.mu.Unlock()

	// Position reported at start shifts the effective start time back.
	started := at.Add(-time.Duration(info.Position * float64(time.Second)))
	p.cur = &NowPlaying{Info: info, StartedAt: started}
	p.armLocked()
}

// Stop clears the projection (session reset, application quit).
func (p *Projector) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.cur = nil
	if p.handle != nil {
		p.handle.Stop()
		p.handle = nil
	}
}

func (p *Projector) armLocked() {
	if p.push == nil {
		return
	}
	if p.handle != nil {
		p.handle.Stop()
	}
	p.handle = p.after(tickInterval, p.tick)
}

func (p *Projector) tick() {
	p.mu.Lock()
	if p.cur == nil {
		p.mu.Unlock()
		return
	}
	snap := p.snapshotLocked(time.Now())

	// A finished video stops the ticker; the projection stays visible
	// to Snapshot until the next playback or reset replaces it.
	finished := p.cur.Info.Length > 0 && snap.Position >= p.cur.Info.Length
	if !finished {
		p.armLocked()
	} else {
		p.handle = nil
	}
	push := p.push
	p.mu.Unlock()

	if push != nil {
		push(snap)
	}
}

// Snapshot returns the current playback with the position projected to
// now, or nil when nothing is playing.
func (p *Projector) Snapshot(now time.Time) *feed.VideoPayload {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.cur == nil {
		return nil
	}
	return p.snapshotLocked(now)
}

func (p *Projector) snapshotLocked(now time.Time) *feed.VideoPayload {
	pos := now.Sub(p.cur.StartedAt).Seconds()
	if pos < 0 {
		pos = 0
	}
	if p.cur.Info.Length > 0 && pos > p.cur.Info.Length {
		pos = p.cur.Info.Length
	}
	return &feed.VideoPayload{
		URL:      p.cur.Info.URL,
		Title:    p.cur.Info.Name,
		Length:   p.cur.Info.Length,
		Position: pos,
	}
}
