// Package ctl implements the client-side commands for arbctl.
// It talks to a running arbiterd over HTTP and WebSocket and renders the results to the terminal.
package ctl

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
)

// ANSI escape codes for terminal formatting.
const (
	reset  = "\033[0m"
	bold   = "\033[1m"
	dim    = "\033[2m"
	red    = "\033[31m"
	green  = "\033[32m"
	yellow = "\033[33m"
	blue   = "\033[34m"
	cyan   = "\033[36m"
	white  = "\033[37m"
)

// colorEnabled reports whether stdout is a terminal. When output is piped
// or redirected, ANSI escape codes are suppressed.
func colorEnabled() bool {
	fi, err := os.Stdout.Stat()
	if err != nil {
		return false
	}
	return fi.Mode()&os.ModeCharDevice != 0
}

// stateColor returns the ANSI color code for a mission or arbiter state.
func stateColor(state string) string {
	if !colorEnabled() {
		return ""
	}
	switch state {
	case "IDLE", "NORMAL", "COMPLETE", "up":
		return green
	case "PREFLIGHT", "TAKEOFF", "NAVIGATING":
		return blue
	case "LANDING", "RTL_IN_PROGRESS", "ALT_HOLD_RECOVERY", "RESOLVED":
		return yellow
	case "AWAITING_OPERATOR":
		return cyan
	case "ABORTED", "AUTO_ACTION", "down":
		return red
	default:
		return white
	}
}

// colorize wraps text with an ANSI color sequence.
// Returns the text unchanged when color output is disabled.
func colorize(color, text string) string {
	if !colorEnabled() || color == "" {
		return text
	}
	return color + text + reset
}

// header returns a bold section header, or plain text when color is off.
func header(title string) string {
	if colorEnabled() {
		return bold + title + reset
	}
	return title
}

// padRight pads s with spaces to reach the given width.
func padRight(s string, width int) string {
	if len(s) >= width {
		return s
	}
	return s + strings.Repeat(" ", width-len(s))
}

func rule(width int) string {
	return colorize(dim, "  "+strings.Repeat("─", width))
}

func field(label string, val any) {
	fmt.Printf("  %-16s %v\n", colorize(dim, label+":"), val)
}

// formatDuration renders a time.Duration as a compact human string like
// "2h 14m 8s" or "45s".
func formatDuration(d time.Duration) string {
	h := int(d.Hours())
	m := int(d.Minutes()) % 60
	s := int(d.Seconds()) % 60
	if h > 0 {
		return fmt.Sprintf("%dh %dm %ds", h, m, s)
	}
	if m > 0 {
		return fmt.Sprintf("%dm %ds", m, s)
	}
	return fmt.Sprintf("%ds", s)
}

// formatDistance renders meters with an SI prefix, e.g. "1.2 km".
func formatDistance(m float64) string {
	return humanize.SIWithDigits(m, 1, "m")
}

// batteryBar builds a simple ASCII gauge for a battery percentage. The
// filled portion turns red at or below warnAt.
func batteryBar(pct float64, width int, warnAt float64) string {
	filled := int(pct) * width / 100
	if filled > width {
		filled = width
	}
	if filled < 0 {
		filled = 0
	}
	empty := width - filled
	color := green
	if pct <= warnAt {
		color = red
	}
	return colorize(color, strings.Repeat("=", filled)) + strings.Repeat(" ", empty)
}
