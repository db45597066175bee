package core

import (
	"fmt"
	"time"
)

// lastActiveHorizon is how long a last-active time stays worth showing.
const lastActiveHorizon = 7 * 24 * time.Hour

// FormatLastActive renders a "last seen" label such as "Just now" or "3 hours ago".
// It returns false when the time is a week old or more.
func FormatLastActive(now, lastActive time.Time) (string, bool) {
	diff := now.Sub(lastActive)
	if diff >= lastActiveHorizon {
		return "", false
	}

	minutes := int(diff / time.Minute)
	hours := int(diff / time.Hour)
	days := int(diff / (24 * time.Hour))

	switch {
	case days > 0:
		return plural(days, "day"), true
	case hours > 0:
		return plural(hours, "hour"), true
	case minutes > 0:
		return plural(minutes, "minute"), true
	default:
		return "Just now", true
	}
}

func plural(n int, unit string) string {
	if n == 1 {
		return fmt.Sprintf("1 %s ago", unit)
	}
	return fmt.Sprintf("%d %ss ago", n, unit)
}
