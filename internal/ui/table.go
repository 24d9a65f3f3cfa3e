package ui

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/muurk/usbshare/internal/devicestate"
	"github.com/muurk/usbshare/internal/discovery"
)

// cell is one rendered table cell. The text is measured unstyled so column
// widths are not thrown off by escape sequences.
type cell struct {
	text  string
	style lipgloss.Style
}

func plain(text string) cell {
	return cell{text: text, style: TableCellStyle}
}

// renderTable lays out rows under headers. The last column absorbs whatever
// width is left and is truncated to fit.
func renderTable(width int, headers []string, rows [][]cell) string {
	widths := make([]int, len(headers))
	for i, h := range headers {
		widths[i] = lipgloss.Width(h)
	}
	for _, row := range rows {
		for i, c := range row {
			if n := lipgloss.Width(c.text); n > widths[i] {
				widths[i] = n
			}
		}
	}

	last := len(widths) - 1
	used := 2
	for _, w := range widths[:last] {
		used += w + columnGap
	}
	if remaining := width - used; remaining > 0 && widths[last] > remaining {
		widths[last] = remaining
	}

	var b strings.Builder
	writeRow := func(cells []cell) {
		parts := make([]string, len(cells))
		for i, c := range cells {
			text := truncate(c.text, widths[i])
			style := c.style.Width(widths[i])
			if i < last {
				style = style.MarginRight(columnGap)
			}
			parts[i] = style.Render(text)
		}
		b.WriteString("  ")
		b.WriteString(lipgloss.JoinHorizontal(lipgloss.Top, parts...))
		b.WriteString("\n")
	}

	header := make([]cell, len(headers))
	for i, h := range headers {
		header[i] = cell{text: h, style: TableHeaderStyle}
	}
	writeRow(header)
	for _, row := range rows {
		writeRow(row)
	}
	return strings.TrimRight(b.String(), "\n")
}

func truncate(s string, width int) string {
	if lipgloss.Width(s) <= width {
		return s
	}
	if width <= 1 {
		return "…"
	}
	r := []rune(s)
	for len(r) > 0 && lipgloss.Width(string(r))+1 > width {
		r = r[:len(r)-1]
	}
	return string(r) + "…"
}

// ServerTable renders discovered servers. now is used for the last-seen age.
func ServerTable(servers []discovery.ServerRecord, now time.Time, width int) string {
	if len(servers) == 0 {
		return MutedStyle.Render("  No USB servers found")
	}

	rows := make([][]cell, 0, len(servers))
	for _, s := range servers {
		status := cell{text: OnlineMarker + " online", style: OnlineStyle}
		if !s.IsOnline {
			status = cell{text: OfflineMarker + " offline", style: OfflineStyle}
		}
		rows = append(rows, []cell{
			plain(s.Hostname),
			plain(fmt.Sprintf("%s:%d", s.IPAddress, s.APIPort)),
			plain(s.Version),
			status,
			{text: FormatAge(s.Age(now)), style: MutedStyle},
			{text: s.ServerID.String(), style: MutedStyle},
		})
	}
	return renderTable(width, []string{"NAME", "ADDRESS", "VERSION", "STATUS", "LAST SEEN", "ID"}, rows)
}

// DeviceTable renders a server's USB devices.
func DeviceTable(devices []devicestate.UsbDevice, width int) string {
	if len(devices) == 0 {
		return MutedStyle.Render("  No USB devices")
	}

	rows := make([][]cell, 0, len(devices))
	for _, d := range devices {
		rows = append(rows, []cell{
			plain(d.BusID),
			plain(d.VIDPID()),
			deviceState(d),
			plain(d.Description),
		})
	}
	return renderTable(width, []string{"BUS ID", "VID:PID", "STATE", "DESCRIPTION"}, rows)
}

// deviceState describes a device's sharing state.
func deviceState(d devicestate.UsbDevice) cell {
	switch {
	case d.IsAttached:
		return cell{text: "attached → " + d.AttachedClientIP, style: AttachedStyle}
	case d.IsShared:
		return cell{text: "shared", style: SharedStyle}
	default:
		return cell{text: "not shared", style: MutedStyle}
	}
}

// FormatAge renders a duration as a short "ago" string.
func FormatAge(d time.Duration) string {
	switch {
	case d < time.Second:
		return "just now"
	case d < time.Minute:
		return fmt.Sprintf("%ds ago", int(d.Seconds()))
	case d < time.Hour:
		return fmt.Sprintf("%dm ago", int(d.Minutes()))
	default:
		return fmt.Sprintf("%dh ago", int(d.Hours()))
	}
}

// FormatServerEvent renders one registry event as a single line.
func FormatServerEvent(e discovery.Event, at time.Time) string {
	stamp := MutedStyle.Render(at.Format("15:04:05"))
	server := fmt.Sprintf("%s (%s:%d)", e.Server.Hostname, e.Server.IPAddress, e.Server.APIPort)

	switch e.Kind {
	case discovery.EventOffline:
		return fmt.Sprintf("%s %s %s", stamp, OfflineStyle.Render(OfflineMarker+" offline     "), server)
	case discovery.EventReconnected:
		return fmt.Sprintf("%s %s %s", stamp, OnlineStyle.Render(OnlineMarker+" reconnected "), server)
	default:
		return fmt.Sprintf("%s %s %s v%s", stamp, OnlineStyle.Render(OnlineMarker+" discovered  "), server, e.Server.Version)
	}
}
