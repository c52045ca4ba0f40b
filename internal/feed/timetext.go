package feed

import (
	"fmt"
	"strings"
	"time"
)

// ElapsedText renders a duration in the compact style used by feed
// wording and the overlay, e.g. "14s", "3m 05s", "2h 01m 09s".
func ElapsedText(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	d = d.Round(time.Second)

	days := int(d.Hours()) / 24
	hours := int(d.Hours()) % 24
	mins := int(d.Minutes()) % 60
	secs := int(d.Seconds()) % 60

	var b strings.Builder
	switch {
	case days > 0:
		fmt.Fprintf(&b, "%dd %02dh %02dm %02ds", days, hours, mins, secs)
	case hours > 0:
		fmt.Fprintf(&b, "%dh %02dm %02ds", hours, mins, secs)
	case mins > 0:
		fmt.Fprintf(&b, "%dm %02ds", mins, secs)
	default:
		fmt.Fprintf(&b, "%ds", secs)
	}
	return b.String()
}
