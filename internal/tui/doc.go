// Package tui implements the interactive browser behind 'usbshare-client browse'.
//
// It is a Bubble Tea program with two screens:
//   - Servers: a live list fed by a discovery.Registry subscription. Servers
//     appear as their announcements arrive and are marked offline when they
//     go silent.
//   - Devices: one server's devices, kept current through the server's
//     /api/events stream. Keys share, unshare, attach and detach the device
//     under the cursor. With an importer set (AppModel.WithImporter), attach
//     and detach also import and release the device on this machine.
//
// Both screens render inside RenderApplicationContainer, which draws the
// shared header and the context-sensitive help footer.
//
// Work that blocks (registry events, HTTP calls, the event stream) runs in
// tea.Cmd functions. Device screen messages carry a session number so that
// results arriving after the user has left a screen are dropped.
//
// Usage:
//
//	events, cancel := registry.Subscribe(64)
//	defer cancel()
//	model := tui.NewAppModel(registry, events, func(s discovery.ServerRecord) tui.DeviceClient {
//	    return api.NewClientWithURL(s.BaseURL())
//	})
//	_, err := tea.NewProgram(model, tea.WithAltScreen()).Run()
package tui
