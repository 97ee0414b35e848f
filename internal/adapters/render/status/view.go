package status

import (
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/bnema/klapctl/internal/domain"
	"github.com/charmbracelet/lipgloss"
)

const lifetimeBarWidth = 24

type RenderOptions struct {
	Now time.Time
}

func renderView(statuses []domain.SessionStatus, opts RenderOptions, s styles) string {
	lines := []string{
		s.title.Render("KLAP Device Sessions"),
		s.header.Render(fmt.Sprintf("devices: %d", len(statuses))),
	}

	if len(statuses) == 0 {
		lines = append(lines, s.empty.Render("No devices registered."))
		return lipgloss.JoinVertical(lipgloss.Left, lines...)
	}

	for _, status := range statuses {
		lines = append(lines, s.section.Render(renderDevice(status, opts, s)))
	}

	return lipgloss.JoinVertical(lipgloss.Left, lines...)
}

func renderDevice(status domain.SessionStatus, opts RenderOptions, s styles) string {
	parts := []string{
		s.device.Render(deviceTitle(status)),
		field("state", stateStyle(status.State, s).Render(string(status.State)), s),
		field("login", loginLabel(status.LoggedIn, s), s),
	}

	if status.SessionID == "" {
		return lipgloss.JoinVertical(lipgloss.Left, parts...)
	}

	parts = append(parts,
		field("session", s.detail.Render(status.SessionID), s),
		lifetimeLine(status, opts, s),
		field("renewal", s.detail.Render(renewalLabel(status, opts.Now)), s),
	)

	return lipgloss.JoinVertical(lipgloss.Left, parts...)
}

func field(name, value string, s styles) string {
	return lipgloss.JoinHorizontal(lipgloss.Top, s.key.Render(name+":"), " ", value)
}

func deviceTitle(status domain.SessionStatus) string {
	name := strings.TrimSpace(status.Name)
	if name == "" || name == string(status.DeviceID) {
		return fmt.Sprintf("%s (%s)", status.DeviceID, status.Address)
	}
	return fmt.Sprintf("%s [%s] (%s)", name, status.DeviceID, status.Address)
}

func stateStyle(state domain.SessionState, s styles) lipgloss.Style {
	switch state {
	case domain.SessionStateEstablished:
		return s.good
	case domain.SessionStateExpired, domain.SessionStateInvalidated:
		return s.warning
	default:
		return s.empty
	}
}

func loginLabel(loggedIn bool, s styles) string {
	if loggedIn {
		return s.good.Render("token held")
	}
	return s.empty.Render("no token")
}

func lifetimeLine(status domain.SessionStatus, opts RenderOptions, s styles) string {
	if opts.Now.IsZero() {
		return field("expires", s.detail.Render(status.ExpiresAt.Format(time.RFC3339)), s)
	}

	leftPercent := lifetimeLeftPercent(status, opts.Now)
	percentStyle := lipgloss.NewStyle().Foreground(interpolateColor(leftPercent, 0, 100))

	return lipgloss.JoinHorizontal(
		lipgloss.Top,
		s.key.Render("lifetime:"),
		" ",
		renderProgressBar(leftPercent, lifetimeBarWidth, s),
		" ",
		percentStyle.Render(fmt.Sprintf("%2.0f%% left", leftPercent)),
		" ",
		s.detail.Render(fmt.Sprintf("(%s)", formatExpiryRelative(status.ExpiresAt, opts.Now))),
	)
}

func lifetimeLeftPercent(status domain.SessionStatus, now time.Time) float64 {
	total := status.ExpiresAt.Sub(status.EstablishedAt)
	if total <= 0 {
		return 0
	}
	return clampPercent(100 * status.ExpiresAt.Sub(now).Seconds() / total.Seconds())
}

func renewalLabel(status domain.SessionStatus, now time.Time) string {
	renewAt := status.ExpiresAt.Add(-status.RenewalMargin)
	if now.IsZero() {
		return "at " + renewAt.Format(time.RFC3339)
	}
	if !renewAt.After(now) {
		return "due on next request"
	}
	return "in " + formatDuration(renewAt.Sub(now))
}

func renderProgressBar(leftPercent float64, width int, s styles) string {
	if width <= 0 {
		return ""
	}

	filled := int(math.Round(float64(width) * clampPercent(leftPercent) / 100.0))
	if filled < 0 {
		filled = 0
	}
	if filled > width {
		filled = width
	}

	return lipgloss.JoinHorizontal(
		lipgloss.Top,
		s.barBracket.Render("["),
		s.barFill.Render(strings.Repeat("=", filled)),
		s.barEmpty.Render(strings.Repeat("-", width-filled)),
		s.barBracket.Render("]"),
	)
}

func clampPercent(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return v
}

func formatExpiryRelative(expiresAt, now time.Time) string {
	if !expiresAt.After(now) {
		return "expired"
	}

	remaining := expiresAt.Sub(now)
	if remaining < 24*time.Hour {
		return fmt.Sprintf("expires in %s (%s)", formatDuration(remaining), expiresAt.Format("15:04"))
	}
	return fmt.Sprintf("expires in %s (%s)", formatDuration(remaining), expiresAt.Format("15:04 on 02 Jan"))
}

func formatDuration(d time.Duration) string {
	switch {
	case d < time.Minute:
		return plural(int(math.Ceil(d.Seconds())), "second")
	case d < time.Hour:
		return plural(int(math.Ceil(d.Minutes())), "minute")
	case d < 24*time.Hour:
		return plural(int(math.Ceil(d.Hours())), "hour")
	default:
		return plural(int(math.Ceil(d.Hours()/24)), "day")
	}
}

func plural(n int, unit string) string {
	if n == 1 {
		return fmt.Sprintf("1 %s", unit)
	}
	return fmt.Sprintf("%d %ss", n, unit)
}

// interpolateColor maps value onto the 240..255 greyscale ramp.
func interpolateColor(value, min, max float64) lipgloss.Color {
	if max == min {
		return lipgloss.Color("255")
	}

	normalized := (value - min) / (max - min)
	if normalized < 0 {
		normalized = 0
	}
	if normalized > 1 {
		normalized = 1
	}

	return lipgloss.Color(fmt.Sprintf("%d", int(240.0+15.0*normalized)))
}
