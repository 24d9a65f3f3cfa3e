package tui

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/muurk/usbshare/internal/api"
	"github.com/muurk/usbshare/internal/devicestate"
	"github.com/muurk/usbshare/internal/discovery"
	"github.com/muurk/usbshare/internal/ui"
	"github.com/muurk/usbshare/internal/usbip"
)

// DeviceClient is the part of *api.Client the device screen uses.
type DeviceClient interface {
	Devices(ctx context.Context) (*api.DeviceListResponse, error)
	Share(ctx context.Context, busID string) (*devicestate.UsbDevice, error)
	Unshare(ctx context.Context, busID string) (*devicestate.UsbDevice, error)
	Attach(ctx context.Context, busID string) (*api.AttachResponse, error)
	Detach(ctx context.Context, busID string) (*api.AttachResponse, error)
	Watch(ctx context.Context, fn func(api.EventMessage)) error
}

// Messages for the device screen. session ties a message to the screen
// instance that started the work; messages from a closed screen are dropped.
type devicesLoadedMsg struct {
	session int
	resp    *api.DeviceListResponse
	err     error
}

type deviceEventMsg struct {
	session int
	event   api.EventMessage
}

type watchEndedMsg struct {
	session int
	err     error
}

type actionDoneMsg struct {
	session int
	verb    string
	busID   string
	device  *devicestate.UsbDevice
	err     error
}

// devicesKeyMap defines key bindings for the device screen
type devicesKeyMap struct {
	Up      key.Binding
	Down    key.Binding
	Share   key.Binding
	Unshare key.Binding
	Attach  key.Binding
	Detach  key.Binding
	Refresh key.Binding
	Back    key.Binding
	Quit    key.Binding
}

// ShortHelp returns keybindings to be shown in the mini help view
func (k devicesKeyMap) ShortHelp() []key.Binding {
	return []key.Binding{k.Share, k.Unshare, k.Attach, k.Detach, k.Refresh, k.Back, k.Quit}
}

// FullHelp returns keybindings for the expanded help view
func (k devicesKeyMap) FullHelp() [][]key.Binding {
	return [][]key.Binding{
		{k.Up, k.Down, k.Refresh},
		{k.Share, k.Unshare, k.Attach, k.Detach},
		{k.Back, k.Quit},
	}
}

func newDevicesKeyMap() devicesKeyMap {
	return devicesKeyMap{
		Up:      key.NewBinding(key.WithKeys("up", "k"), key.WithHelp("↑/k", "up")),
		Down:    key.NewBinding(key.WithKeys("down", "j"), key.WithHelp("↓/j", "down")),
		Share:   key.NewBinding(key.WithKeys("s"), key.WithHelp("s", "share")),
		Unshare: key.NewBinding(key.WithKeys("u"), key.WithHelp("u", "unshare")),
		Attach:  key.NewBinding(key.WithKeys("a"), key.WithHelp("a", "attach")),
		Detach:  key.NewBinding(key.WithKeys("d"), key.WithHelp("d", "detach")),
		Refresh: key.NewBinding(key.WithKeys("r"), key.WithHelp("r", "refresh")),
		Back:    key.NewBinding(key.WithKeys("esc", "backspace"), key.WithHelp("esc", "servers")),
		Quit:    key.NewBinding(key.WithKeys("q", "ctrl+c"), key.WithHelp("q", "quit")),
	}
}

// DevicesModel shows one server's devices and runs control actions on them.
type DevicesModel struct {
	Server  discovery.ServerRecord
	client  DeviceClient
	local   usbip.Importer
	session int

	ctx     context.Context
	cancel  context.CancelFunc
	updates chan api.EventMessage

	Devices []devicestate.UsbDevice
	Cursor  int
	Loading bool
	Stale   bool
	Live    bool

	// Busy describes the action in flight; only one runs at a time
	Busy      string
	Status    string
	StatusErr bool

	// BackRequested is set when the user asks to return to the server list
	BackRequested bool

	Spinner spinner.Model
	Help    help.Model
	Keys    devicesKeyMap

	Width  int
	Height int
}

// NewDevicesModel creates the device screen for server. Close must be
// called when the screen is left.
func NewDevicesModel(server discovery.ServerRecord, client DeviceClient, session int) DevicesModel {
	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = SpinnerStyle

	ctx, cancel := context.WithCancel(context.Background())
	return DevicesModel{
		Server:  server,
		client:  client,
		session: session,
		ctx:     ctx,
		cancel:  cancel,
		updates: make(chan api.EventMessage),
		Loading: true,
		Spinner: s,
		Help:    help.New(),
		Keys:    newDevicesKeyMap(),
	}
}

// WithImporter imports attached devices on this machine with local and
// releases them again on detach. Without one only the server is updated.
func (m DevicesModel) WithImporter(local usbip.Importer) DevicesModel {
	m.local = local
	return m
}

// Init fetches the device list and opens the event stream
func (m DevicesModel) Init() tea.Cmd {
	return tea.Batch(
		m.fetch(),
		m.watch(),
		m.waitForUpdate(),
		m.Spinner.Tick,
	)
}

// Close stops the event stream and cancels requests in flight
func (m DevicesModel) Close() {
	if m.cancel != nil {
		m.cancel()
	}
}

func (m DevicesModel) fetch() tea.Cmd {
	ctx, client, session := m.ctx, m.client, m.session
	return func() tea.Msg {
		resp, err := client.Devices(ctx)
		return devicesLoadedMsg{session: session, resp: resp, err: err}
	}
}

func (m DevicesModel) watch() tea.Cmd {
	ctx, client, session, updates := m.ctx, m.client, m.session, m.updates
	return func() tea.Msg {
		err := client.Watch(ctx, func(event api.EventMessage) {
			select {
			case updates <- event:
			case <-ctx.Done():
			}
		})
		return watchEndedMsg{session: session, err: err}
	}
}

func (m DevicesModel) waitForUpdate() tea.Cmd {
	ctx, session, updates := m.ctx, m.session, m.updates
	return func() tea.Msg {
		select {
		case event := <-updates:
			return deviceEventMsg{session: session, event: event}
		case <-ctx.Done():
			return nil
		}
	}
}

func (m DevicesModel) runAction(verb, busID string) tea.Cmd {
	ctx, client, local, session := m.ctx, m.client, m.local, m.session
	host := m.Server.IPAddress
	return func() tea.Msg {
		done := actionDoneMsg{session: session, verb: verb, busID: busID}
		switch verb {
		case "share":
			done.device, done.err = client.Share(ctx, busID)
		case "unshare":
			done.device, done.err = client.Unshare(ctx, busID)
		case "attach", "detach":
			var resp *api.AttachResponse
			if verb == "attach" {
				resp, done.err = usbip.AttachDevice(ctx, client, local, host, busID)
			} else {
				resp, done.err = usbip.DetachDevice(ctx, client, local, host, busID)
			}
			if resp != nil {
				done.device = resp.Device
			}
		}
		return done
	}
}

// selected returns the device under the cursor
func (m DevicesModel) selected() (devicestate.UsbDevice, bool) {
	if m.Cursor < 0 || m.Cursor >= len(m.Devices) {
		return devicestate.UsbDevice{}, false
	}
	return m.Devices[m.Cursor], true
}

func (m *DevicesModel) setDevices(devices []devicestate.UsbDevice) {
	m.Devices = devices
	if m.Cursor >= len(devices) {
		m.Cursor = len(devices) - 1
	}
	if m.Cursor < 0 {
		m.Cursor = 0
	}
}

func (m *DevicesModel) setStatus(text string, isErr bool) {
	m.Status = text
	m.StatusErr = isErr
}

// Update handles messages and updates the model
func (m DevicesModel) Update(msg tea.Msg) (DevicesModel, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.Width = msg.Width
		m.Height = msg.Height

	case devicesLoadedMsg:
		if msg.session != m.session {
			return m, nil
		}
		m.Loading = false
		if msg.err != nil {
			m.setStatus("Could not list devices: "+api.GetShortErrorMessage(msg.err), true)
			return m, nil
		}
		m.Stale = msg.resp.Stale
		m.setDevices(msg.resp.Devices)

	case deviceEventMsg:
		if msg.session != m.session {
			return m, nil
		}
		m.Loading = false
		m.Live = true
		m.setDevices(msg.event.Devices)
		return m, m.waitForUpdate()

	case watchEndedMsg:
		if msg.session != m.session {
			return m, nil
		}
		m.Live = false
		if msg.err != nil && !errors.Is(m.ctx.Err(), context.Canceled) {
			m.setStatus("Live updates stopped: "+api.GetShortErrorMessage(msg.err), true)
		}

	case actionDoneMsg:
		if msg.session != m.session {
			return m, nil
		}
		m.Busy = ""
		if msg.err != nil {
			m.setStatus(fmt.Sprintf("Could not %s %s: %s", msg.verb, msg.busID, api.GetShortErrorMessage(msg.err)), true)
			return m, nil
		}
		m.setStatus(fmt.Sprintf("%s %s", pastTense(msg.verb), msg.busID), false)
		if msg.device != nil {
			for i := range m.Devices {
				if m.Devices[i].BusID == msg.device.BusID {
					m.Devices[i] = *msg.device
				}
			}
		}

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.Spinner, cmd = m.Spinner.Update(msg)
		return m, cmd

	case tea.KeyMsg:
		return m.handleKey(msg)
	}

	return m, nil
}

func (m DevicesModel) handleKey(msg tea.KeyMsg) (DevicesModel, tea.Cmd) {
	switch {
	case key.Matches(msg, m.Keys.Quit):
		return m, tea.Quit

	case key.Matches(msg, m.Keys.Back):
		m.BackRequested = true
		return m, nil

	case key.Matches(msg, m.Keys.Up):
		if m.Cursor > 0 {
			m.Cursor--
		}

	case key.Matches(msg, m.Keys.Down):
		if m.Cursor < len(m.Devices)-1 {
			m.Cursor++
		}

	case key.Matches(msg, m.Keys.Refresh):
		m.Loading = true
		return m, m.fetch()

	case key.Matches(msg, m.Keys.Share):
		return m.startAction("share")
	case key.Matches(msg, m.Keys.Unshare):
		return m.startAction("unshare")
	case key.Matches(msg, m.Keys.Attach):
		return m.startAction("attach")
	case key.Matches(msg, m.Keys.Detach):
		return m.startAction("detach")
	}
	return m, nil
}

func (m DevicesModel) startAction(verb string) (DevicesModel, tea.Cmd) {
	if m.Busy != "" {
		return m, nil
	}
	device, ok := m.selected()
	if !ok {
		return m, nil
	}
	m.Busy = fmt.Sprintf("%s %s...", strings.TrimSuffix(pastTense(verb), "ed")+"ing", device.BusID)
	m.setStatus("", false)
	return m, tea.Batch(m.runAction(verb, device.BusID), m.Spinner.Tick)
}

func pastTense(verb string) string {
	switch verb {
	case "share":
		return "Shared"
	case "unshare":
		return "Unshared"
	case "attach":
		return "Attached"
	case "detach":
		return "Detached"
	default:
		return verb
	}
}

// View renders the device screen
func (m DevicesModel) View() string {
	var b strings.Builder

	title := fmt.Sprintf("%s  %s:%d", m.Server.Hostname, m.Server.IPAddress, m.Server.APIPort)
	b.WriteString(TitleStyle.Render(title))
	b.WriteString("\n")

	var notes []string
	if m.Live {
		notes = append(notes, ui.OnlineMarker+" live")
	}
	if m.Stale {
		notes = append(notes, "device list may be out of date")
	}
	if len(notes) > 0 {
		b.WriteString(SubtitleStyle.Render(strings.Join(notes, " • ")))
		b.WriteString("\n")
	}
	b.WriteString("\n")

	switch {
	case m.Loading && len(m.Devices) == 0:
		b.WriteString(SubtitleStyle.Render(m.Spinner.View() + " Loading devices..."))
	case len(m.Devices) == 0:
		b.WriteString(SubtitleStyle.Render("No USB devices on this server"))
	default:
		b.WriteString(m.renderTable())
	}
	b.WriteString("\n\n")

	switch {
	case m.Busy != "":
		b.WriteString(StatusWarnStyle.Render(m.Spinner.View() + " " + m.Busy))
	case m.Status != "" && m.StatusErr:
		b.WriteString(StatusErrorStyle.Render(ui.FailureMarker + " " + m.Status))
	case m.Status != "":
		b.WriteString(StatusOKStyle.Render(ui.SuccessMarker + " " + m.Status))
	}

	return RenderApplicationContainer(b.String(), m.Help.View(m.Keys), m.Width, m.Height)
}

func (m DevicesModel) renderTable() string {
	busWidth := lipgloss.NewStyle().Width(10)
	idWidth := lipgloss.NewStyle().Width(11)
	stateWidth := lipgloss.NewStyle().Width(28)

	lines := []string{
		"  " + ui.TableHeaderStyle.Render(busWidth.Render("BUS ID")+idWidth.Render("VID:PID")+stateWidth.Render("STATE")+"DESCRIPTION"),
	}
	for i, d := range m.Devices {
		row := busWidth.Render(d.BusID) + idWidth.Render(d.VIDPID()) + stateWidth.Render(stateText(d)) + d.Description
		if i == m.Cursor {
			lines = append(lines, SelectedRowStyle.Render("→ "+row))
		} else {
			lines = append(lines, "  "+RowStyle.Render(row))
		}
	}
	return strings.Join(lines, "\n")
}

func stateText(d devicestate.UsbDevice) string {
	switch {
	case d.IsAttached:
		return "attached → " + d.AttachedClientIP
	case d.IsShared:
		return "shared"
	default:
		return "not shared"
	}
}
