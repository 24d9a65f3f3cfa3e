// Package usbip drives the usbip client tool on the machine that imports a
// shared device.
//
// The server only records which client a device is attached to. The client
// then has to import the device itself:
//
//	usbip attach -r <server ip> -b <bus id>
//
// Detaching goes through the local port the device was imported on, found
// with "usbip port":
//
//	Imported USB devices
//	====================
//	Port 00: <Port in Use> at Full Speed(12Mbps)
//	       Logitech, Inc. : Unifying Receiver (046d:c52b)
//	       1-1 -> usbip://10.0.0.5:3240/1-2
//	           -> remote bus/dev 001/002
//
// usbip-win prints the remote device as "Imported USB device 1-2 from
// 10.0.0.5" instead; ParsePorts reads both forms.
package usbip
