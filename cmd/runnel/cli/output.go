package cli

import (
	"fmt"
	"strings"
	"time"

	"github.com/deepnoodle-ai/runnel/events"
	"github.com/fatih/color"
	"github.com/mattn/go-runewidth"
)

var (
	headerStyle  = color.New(color.FgCyan, color.Bold)
	successStyle = color.New(color.FgGreen)
	errorStyle   = color.New(color.FgRed, color.Bold)
	warningStyle = color.New(color.FgYellow, color.Bold)
	infoStyle    = color.New(color.FgCyan)
	mutedStyle   = color.New(color.FgHiBlack)
)

const (
	checkmark = "✓"
	xmark     = "✗"
	bullet    = "•"
	ellipsis  = "…"
)

// cell fits text into a column of the given display width, truncating or
// padding as needed. Wide runes count double. A width of zero leaves the
// text untouched.
func cell(text string, width int) string {
	if width <= 0 {
		return text
	}
	if runewidth.StringWidth(text) > width {
		text = runewidth.Truncate(text, width, ellipsis)
	}
	return runewidth.FillRight(text, width)
}

// statusText renders an execution status with a marker and color. The
// status is padded before coloring so escape codes never affect alignment.
func statusText(status string, width int) string {
	switch status {
	case events.StatusSucceeded:
		return successStyle.Sprint(cell(checkmark+" "+status, width))
	case events.StatusFailed:
		return errorStyle.Sprint(cell(xmark+" "+status, width))
	case events.StatusRunning:
		return warningStyle.Sprint(cell(bullet+" "+status, width))
	}
	return infoStyle.Sprint(cell(bullet+" "+status, width))
}

func formatDuration(start, end time.Time) string {
	switch {
	case start.IsZero():
		return ""
	case end.IsZero():
		return time.Since(start).Round(time.Second).String() + " (running)"
	}
	return end.Sub(start).Round(time.Millisecond).String()
}

func formatTimeAgo(t time.Time, now time.Time) string {
	d := now.Sub(t)
	plural := func(n int, unit string) string {
		if n == 1 {
			return fmt.Sprintf("1 %s ago", unit)
		}
		return fmt.Sprintf("%d %ss ago", n, unit)
	}
	switch {
	case d < time.Minute:
		return "just now"
	case d < time.Hour:
		return plural(int(d.Minutes()), "minute")
	case d < 24*time.Hour:
		return plural(int(d.Hours()), "hour")
	case d < 30*24*time.Hour:
		return plural(int(d.Hours()/24), "day")
	}
	return t.Format("2006-01-02")
}

func rule(width int) string {
	return mutedStyle.Sprint(strings.Repeat("─", width))
}
