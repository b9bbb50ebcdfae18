package monitor

import (
	"fmt"
	"time"
)

// FormatMillis formats a duration in milliseconds as "X.Xms" or "X.Xs"
func FormatMillis(ms float64) string {
	if ms >= 1000 {
		return fmt.Sprintf("%.1fs", ms/1000)
	}
	return fmt.Sprintf("%.1fms", ms)
}

// FormatAge formats how long ago something happened as "just now",
// "Xs ago", "Xm ago", or "Xh Ym ago"
func FormatAge(d time.Duration) string {
	switch {
	case d < 2*time.Second:
		return "just now"
	case d < time.Minute:
		return fmt.Sprintf("%ds ago", int(d.Seconds()))
	case d < time.Hour:
		return fmt.Sprintf("%dm ago", int(d.Minutes()))
	default:
		hours := int(d.Hours())
		minutes := int(d.Minutes()) % 60
		return fmt.Sprintf("%dh %dm ago", hours, minutes)
	}
}

// ShortID truncates a session ID to its first eight characters for
// display. Short inputs pass through unchanged.
func ShortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
