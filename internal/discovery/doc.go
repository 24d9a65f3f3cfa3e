// Package discovery lets USB servers find each other's clients on a LAN.
//
// A server runs a Broadcaster that sends a small JSON ServerAnnouncement to
// the broadcast address on the discovery port (50050 by default) every few
// seconds. Clients run a Registry that listens on that port, keeps one
// ServerRecord per server ID and marks a server offline once it has been
// silent for longer than the liveness timeout (30 seconds by default).
//
// # Wire Format
//
// One datagram per announcement, at most MaxAnnouncementSize bytes:
//
//	{"Type":"UsbServerAnnouncement","Id":"2f1c...","Name":"HOST-A","ApiPort":50051,"Version":"1.0.0"}
//
// The IP address of a server is always taken from the datagram source, never
// from the payload. Datagrams that fail to decode are logged at debug level
// and dropped.
//
// # Server Lifecycle
//
// Unknown -> Online on the first announcement (EventDiscovered), Online ->
// Offline when the sweep finds it silent (EventOffline), Offline -> Online on
// the next announcement (EventReconnected). Records are only removed by
// Clear or Forget.
//
// # Usage Example
//
//	reg, err := discovery.NewRegistry(discovery.DefaultRegistryConfig(), logger)
//	if err != nil {
//	    return err
//	}
//	if err := reg.Start(); err != nil {
//	    return err
//	}
//	defer reg.Stop()
//
//	events, cancel := reg.Subscribe(0)
//	defer cancel()
//	for ev := range events {
//	    fmt.Println(ev.Kind, ev.Server)
//	}
//
// # mDNS
//
// Servers may also advertise "_usbshare._tcp" over mDNS. A Browser feeds the
// results into the same Registry through Observe.
//
// # Thread Safety
//
// Registry and Broadcaster are safe for concurrent use.
package discovery
