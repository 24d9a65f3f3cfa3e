// Package usbipd drives the usbipd CLI (usbipd-win) to list, bind and attach
// USB devices on the server host.
//
// Client implements devicestate.Collaborator. Every call runs the binary via
// os/exec with a timeout; a non-zero exit becomes a *CommandError carrying
// the exit code and stderr.
//
// # Device Listing
//
// "usbipd state" prints JSON:
//
//	{"Devices":[{"BusId":"1-1","ClientIPAddress":null,"Description":"USB Input Device",
//	  "InstanceId":"USB\\VID_046D&PID_C534\\5&2A8F8A4&0&1","IsForced":false,
//	  "PersistedGuid":null,"VendorId":1133,"ProductId":50484}]}
//
// A device is shared when it has a PersistedGuid or IsForced is set, and
// attached when ClientIPAddress is not null. Vendor and product IDs are
// rendered as 4 upper-case hex digits.
//
// # Auto-share
//
// AutoShare binds devices at startup that match configured rules, either by
// bus ID or by a "VID:PID" pattern such as "046D:*".
package usbipd
