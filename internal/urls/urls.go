package urls

// UsbipdReleases is where the usbipd installer is downloaded.
const UsbipdReleases = "https://github.com/dorssel/usbipd-win/releases"

// UsbipdWiki covers usbipd setup, permissions and known issues.
const UsbipdWiki = "https://github.com/dorssel/usbipd-win/wiki"

// ConnectUSBGuide explains attaching shared USB devices from a client.
const ConnectUSBGuide = "https://learn.microsoft.com/windows/wsl/connect-usb"
