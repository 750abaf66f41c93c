// Package device derives the device identity used to address this
// agent in the backend.
package device

import (
	"errors"
	"net"
	"strings"
)

// MACAddress returns the device's primary MAC address in lowercase
// colon-separated form. The backend keys every device record on this
// value, so it must be stable across reboots: the first physical
// interface with a hardware address wins, loopback and virtual
// interfaces are skipped.
func MACAddress() (string, error) {
	ifaces, err := net.Interfaces()
	if err != nil {
		return "", err
	}

	for _, ifc := range ifaces {
		if ifc.Flags&net.FlagLoopback != 0 {
			continue
		}
		if len(ifc.HardwareAddr) == 0 {
			continue
		}
		if isVirtual(ifc.Name) {
			continue
		}
		return strings.ToLower(ifc.HardwareAddr.String()), nil
	}
	return "", errors.New("no interface with a stable hardware address")
}

// isVirtual filters interface names that come and go (containers,
// bridges, VPN tunnels) and would change the device identity.
func isVirtual(name string) bool {
	for _, prefix := range []string{"docker", "veth", "br-", "virbr", "tun", "tap", "zt"} {
		if strings.HasPrefix(name, prefix) {
			return true
		}
	}
	return false
}
