package tui

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/list"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/muurk/usbshare/internal/discovery"
	"github.com/muurk/usbshare/internal/ui"
)

// ServerSource provides the current view of known servers.
// *discovery.Registry implements it.
type ServerSource interface {
	Snapshot() []discovery.ServerRecord
}

// Messages for the server screen
type serverEventMsg struct {
	event discovery.Event
}

type serverEventsClosedMsg struct{}

type tickMsg time.Time

// refreshInterval re-renders last-seen ages
const refreshInterval = time.Second

// serversKeyMap defines key bindings for the server list screen
type serversKeyMap struct {
	Up     key.Binding
	Down   key.Binding
	Open   key.Binding
	Filter key.Binding
	Quit   key.Binding
}

// ShortHelp returns keybindings to be shown in the mini help view
func (k serversKeyMap) ShortHelp() []key.Binding {
	return []key.Binding{k.Up, k.Down, k.Open, k.Filter, k.Quit}
}

// FullHelp returns keybindings for the expanded help view
func (k serversKeyMap) FullHelp() [][]key.Binding {
	return [][]key.Binding{
		{k.Up, k.Down, k.Open},
		{k.Filter, k.Quit},
	}
}

func newServersKeyMap() serversKeyMap {
	return serversKeyMap{
		Up: key.NewBinding(
			key.WithKeys("up", "k"),
			key.WithHelp("↑/k", "move up"),
		),
		Down: key.NewBinding(
			key.WithKeys("down", "j"),
			key.WithHelp("↓/j", "move down"),
		),
		Open: key.NewBinding(
			key.WithKeys("enter"),
			key.WithHelp("enter", "devices"),
		),
		Filter: key.NewBinding(
			key.WithKeys("/"),
			key.WithHelp("/", "filter"),
		),
		Quit: key.NewBinding(
			key.WithKeys("q", "ctrl+c"),
			key.WithHelp("q", "quit"),
		),
	}
}

// serverItem wraps a ServerRecord for use with bubbles/list
type serverItem struct {
	record discovery.ServerRecord
	now    time.Time
}

func (s serverItem) FilterValue() string {
	return s.record.Hostname + " " + s.record.IPAddress
}

func (s serverItem) Title() string {
	if !s.record.IsOnline {
		return ui.OfflineMarker + " " + s.record.Hostname
	}
	return ui.OnlineMarker + " " + s.record.Hostname
}

func (s serverItem) Description() string {
	state := "online"
	if !s.record.IsOnline {
		state = "offline"
	}
	return fmt.Sprintf("%s:%d • v%s • %s • seen %s",
		s.record.IPAddress, s.record.APIPort, s.record.Version, state, ui.FormatAge(s.record.Age(s.now)))
}

// ServersModel is the live list of servers heard on the network.
type ServersModel struct {
	source ServerSource
	events <-chan discovery.Event
	now    func() time.Time

	List    list.Model
	Spinner spinner.Model
	Help    help.Model
	Keys    serversKeyMap

	// Selected is set when the user opens an online server
	Selected *discovery.ServerRecord
	Status   string

	Width  int
	Height int
}

// NewServersModel creates the server list screen. events should be a
// subscription on the same registry as source.
func NewServersModel(source ServerSource, events <-chan discovery.Event) ServersModel {
	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = SpinnerStyle

	serverList := list.New([]list.Item{}, list.NewDefaultDelegate(), defaultWidth-4, defaultHeight-8)
	serverList.Title = "USB Servers"
	serverList.SetShowStatusBar(false)
	serverList.SetShowHelp(false)
	serverList.SetFilteringEnabled(true)
	serverList.DisableQuitKeybindings()
	serverList.Styles.Title = lipgloss.NewStyle().Foreground(ui.PrimaryColor).Bold(true)

	m := ServersModel{
		source:  source,
		events:  events,
		now:     time.Now,
		List:    serverList,
		Spinner: s,
		Help:    help.New(),
		Keys:    newServersKeyMap(),
	}
	m.refresh()
	return m
}

// Init starts listening for registry events
func (m ServersModel) Init() tea.Cmd {
	return tea.Batch(
		waitForServerEvent(m.events),
		m.Spinner.Tick,
		tick(),
	)
}

func waitForServerEvent(events <-chan discovery.Event) tea.Cmd {
	return func() tea.Msg {
		e, ok := <-events
		if !ok {
			return serverEventsClosedMsg{}
		}
		return serverEventMsg{event: e}
	}
}

func tick() tea.Cmd {
	return tea.Tick(refreshInterval, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

// refresh rebuilds the list items from the source, keeping the cursor on
// the same server when it is still listed.
func (m *ServersModel) refresh() tea.Cmd {
	var selectedID string
	if item, ok := m.List.SelectedItem().(serverItem); ok {
		selectedID = item.record.ServerID.String()
	}

	now := m.now()
	records := m.source.Snapshot()
	items := make([]list.Item, 0, len(records))
	index := 0
	for i, r := range records {
		if r.ServerID.String() == selectedID {
			index = i
		}
		items = append(items, serverItem{record: r, now: now})
	}

	cmd := m.List.SetItems(items)
	if len(items) > 0 {
		m.List.Select(index)
	}
	return cmd
}

// Update handles messages and updates the model
func (m ServersModel) Update(msg tea.Msg) (ServersModel, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.Width = msg.Width
		m.Height = msg.Height
		m.List.SetSize(msg.Width-4, msg.Height-8)
		return m, nil

	case serverEventMsg:
		if msg.event.Kind == discovery.EventOffline {
			m.Status = msg.event.Server.Hostname + " went offline"
		} else {
			m.Status = ""
		}
		return m, tea.Batch(m.refresh(), waitForServerEvent(m.events))

	case serverEventsClosedMsg:
		return m, nil

	case tickMsg:
		return m, tea.Batch(m.refresh(), tick())

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.Spinner, cmd = m.Spinner.Update(msg)
		return m, cmd

	case tea.KeyMsg:
		// While filtering, every key belongs to the filter input.
		if m.List.FilterState() == list.Filtering {
			break
		}
		switch {
		case key.Matches(msg, m.Keys.Quit):
			return m, tea.Quit
		case key.Matches(msg, m.Keys.Open):
			item, ok := m.List.SelectedItem().(serverItem)
			if !ok {
				return m, nil
			}
			if !item.record.IsOnline {
				m.Status = item.record.Hostname + " is offline"
				return m, nil
			}
			record := item.record
			m.Selected = &record
			m.Status = ""
			return m, nil
		}
	}

	var cmd tea.Cmd
	m.List, cmd = m.List.Update(msg)
	return m, cmd
}

// View renders the server list screen
func (m ServersModel) View() string {
	var b strings.Builder

	if len(m.List.Items()) == 0 {
		b.WriteString(TitleStyle.Render(m.Spinner.View() + " Listening for USB servers..."))
		b.WriteString("\n\n")
		b.WriteString(SubtitleStyle.Render("Servers announce themselves every few seconds."))
		b.WriteString("\n")
		b.WriteString(SubtitleStyle.Render("Check that usbshare-server is running and UDP broadcasts are allowed."))
	} else {
		b.WriteString("\n")
		b.WriteString(m.List.View())
	}

	if m.Status != "" {
		b.WriteString("\n")
		b.WriteString(StatusWarnStyle.Render(m.Status))
	}

	return RenderApplicationContainer(b.String(), m.Help.View(m.Keys), m.Width, m.Height)
}
