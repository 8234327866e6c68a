// Package units formats byte counts, percentages and durations for reports.
package units

import (
	"fmt"
	"math"
	"time"
)

// SizeSuffix is appended to every formatted size.
const SizeSuffix = "B"

var prefixes = []string{"", "K", "M", "G", "T", "P", "E", "Z"}

// FormatSize renders b with binary prefixes and one decimal digit, stopping
// at the first prefix where the absolute value drops below 1024.
//
//	FormatSize(1023) == "1023.0B"
//	FormatSize(1024) == "1.0KB"
func FormatSize(b int64) string {
	v := float64(b)
	for _, p := range prefixes {
		if math.Abs(v) < 1024 {
			return fmt.Sprintf("%.1f%s%s", v, p, SizeSuffix)
		}
		v /= 1024
	}
	return fmt.Sprintf("%.1f%s%s", v, "Y", SizeSuffix)
}

// FormatPct formats a 0-100 percentage.
func FormatPct(v float64) string {
	return fmt.Sprintf("%.0f%%", v)
}

// FormatDuration formats a duration into human-readable form.
func FormatDuration(d time.Duration) string {
	if d < time.Minute {
		return fmt.Sprintf("%ds", int(d.Seconds()))
	}
	if d < time.Hour {
		return fmt.Sprintf("%dm %ds", int(d.Minutes()), int(d.Seconds())%60)
	}
	if d < 48*time.Hour {
		return fmt.Sprintf("%dh %dm", int(d.Hours()), int(d.Minutes())%60)
	}
	return fmt.Sprintf("%dd %dh", int(d.Hours()/24), int(d.Hours())%24)
}
