package tui

import (
	"github.com/charmbracelet/lipgloss"

	"github.com/muurk/usbshare/internal/ui"
	"github.com/muurk/usbshare/internal/version"
)

// AppName is shown in the header of every screen.
const AppName = "USBSHARE BROWSER"

// Fallback size used until the first tea.WindowSizeMsg arrives
const (
	defaultWidth  = 80
	defaultHeight = 24
)

var (
	BorderColor    = ui.PrimaryColor
	HighlightColor = ui.SuccessColor

	TitleStyle = lipgloss.NewStyle().
			Foreground(ui.PrimaryColor).
			Bold(true).
			Padding(1, 0, 0, 2)

	SubtitleStyle = lipgloss.NewStyle().
			Foreground(ui.MutedColor).
			Italic(true).
			PaddingLeft(2)

	SpinnerStyle = lipgloss.NewStyle().
			Foreground(ui.PrimaryColor)

	// Cursor row in the device table
	SelectedRowStyle = lipgloss.NewStyle().
				Foreground(HighlightColor).
				Bold(true)

	RowStyle = lipgloss.NewStyle().
			Foreground(ui.TextColor)

	StatusOKStyle = lipgloss.NewStyle().
			Foreground(ui.SuccessColor).
			PaddingLeft(2)

	StatusErrorStyle = lipgloss.NewStyle().
				Foreground(ui.ErrorColor).
				Bold(true).
				PaddingLeft(2)

	StatusWarnStyle = lipgloss.NewStyle().
			Foreground(ui.WarningColor).
			PaddingLeft(2)
)

// RenderApplicationContainer wraps a screen in the shared full-screen frame:
// header with app name and version, the content, and a help footer.
func RenderApplicationContainer(content, footerText string, width, height int) string {
	if width <= 0 {
		width = defaultWidth
	}
	if height <= 0 {
		height = defaultHeight
	}

	header := lipgloss.JoinHorizontal(lipgloss.Top,
		lipgloss.NewStyle().Foreground(ui.TextColor).Bold(true).Render(AppName+" v"+version.Version),
		"  ",
		lipgloss.NewStyle().Foreground(ui.MutedColor).Render("USB over IP"),
	)

	styledHeader := lipgloss.NewStyle().
		BorderStyle(lipgloss.Border{Bottom: "─"}).
		BorderForeground(BorderColor).
		Width(width-4).
		Padding(0, 1).
		Render(header)

	styledFooter := lipgloss.NewStyle().
		BorderStyle(lipgloss.Border{Top: "─"}).
		BorderForeground(BorderColor).
		Width(width-4).
		Padding(0, 1).
		Foreground(ui.MutedColor).
		Render(footerText)

	// Content fills whatever the header and footer leave.
	contentHeight := height - 2 - lipgloss.Height(styledHeader) - lipgloss.Height(styledFooter)
	if contentHeight < 1 {
		contentHeight = 1
	}
	styledContent := lipgloss.NewStyle().
		Width(width - 4).
		Height(contentHeight).
		MaxHeight(contentHeight).
		Render(content)

	inner := lipgloss.JoinVertical(lipgloss.Left, styledHeader, styledContent, styledFooter)

	bordered := lipgloss.NewStyle().
		Border(lipgloss.NormalBorder()).
		BorderForeground(BorderColor).
		Width(width - 2).
		Render(inner)

	return lipgloss.Place(width, height, lipgloss.Left, lipgloss.Top, bordered)
}
