package tui

import (
	tea "github.com/charmbracelet/bubbletea"

	"github.com/muurk/usbshare/internal/discovery"
	"github.com/muurk/usbshare/internal/usbip"
)

// Screen represents the current active screen in the application
type Screen string

const (
	ScreenServers Screen = "servers"
	ScreenDevices Screen = "devices"
)

// ClientFactory returns an API client for a server.
type ClientFactory func(server discovery.ServerRecord) DeviceClient

// AppModel is the top-level model that switches between the server list and
// a server's device screen.
type AppModel struct {
	CurrentScreen Screen

	Servers ServersModel
	Devices DevicesModel

	newClient ClientFactory
	local     usbip.Importer
	session   int

	Width  int
	Height int
}

// NewAppModel creates the browser starting on the server list.
func NewAppModel(source ServerSource, events <-chan discovery.Event, newClient ClientFactory) AppModel {
	return AppModel{
		CurrentScreen: ScreenServers,
		Servers:       NewServersModel(source, events),
		newClient:     newClient,
	}
}

// WithImporter sets the local usbip tool used by device screens opened
// afterwards. Call it before WithServer.
func (m AppModel) WithImporter(local usbip.Importer) AppModel {
	m.local = local
	return m
}

// WithServer starts the browser on server's device screen.
func (m AppModel) WithServer(server discovery.ServerRecord) AppModel {
	m.openDevices(server)
	return m
}

func (m *AppModel) openDevices(server discovery.ServerRecord) {
	m.session++
	m.Devices = NewDevicesModel(server, m.newClient(server), m.session).WithImporter(m.local)
	m.Devices.Width = m.Width
	m.Devices.Height = m.Height
	m.CurrentScreen = ScreenDevices
}

func (m *AppModel) closeDevices() {
	m.Devices.Close()
	m.CurrentScreen = ScreenServers
}

// Init initializes the application
func (m AppModel) Init() tea.Cmd {
	cmds := []tea.Cmd{m.Servers.Init()}
	if m.CurrentScreen == ScreenDevices {
		cmds = append(cmds, m.Devices.Init())
	}
	return tea.Batch(cmds...)
}

// Update handles all messages and routes them to the appropriate screen.
// Background messages always reach the screen that owns them, so the server
// list keeps following the registry while a device screen is open.
func (m AppModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmd tea.Cmd

	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.Width = msg.Width
		m.Height = msg.Height
		var devCmd tea.Cmd
		m.Servers, cmd = m.Servers.Update(msg)
		m.Devices, devCmd = m.Devices.Update(msg)
		return m, tea.Batch(cmd, devCmd)

	case serverEventMsg, serverEventsClosedMsg, tickMsg:
		m.Servers, cmd = m.Servers.Update(msg)
		return m, cmd

	case devicesLoadedMsg, deviceEventMsg, watchEndedMsg, actionDoneMsg:
		m.Devices, cmd = m.Devices.Update(msg)
		return m, cmd

	case tea.KeyMsg:
		if msg.String() == "ctrl+c" {
			m.Devices.Close()
			return m, tea.Quit
		}
	}

	switch m.CurrentScreen {
	case ScreenServers:
		m.Servers, cmd = m.Servers.Update(msg)
		if m.Servers.Selected != nil {
			server := *m.Servers.Selected
			m.Servers.Selected = nil
			m.openDevices(server)
			return m, tea.Batch(cmd, m.Devices.Init())
		}

	case ScreenDevices:
		m.Devices, cmd = m.Devices.Update(msg)
		if m.Devices.BackRequested {
			m.closeDevices()
			return m, tea.Batch(cmd, m.Servers.Spinner.Tick)
		}
	}

	return m, cmd
}

// View renders the current screen
func (m AppModel) View() string {
	if m.CurrentScreen == ScreenDevices {
		return m.Devices.View()
	}
	return m.Servers.View()
}
