package server

import (
	"net"
	"regexp"
)

var (
	physicalIface = regexp.MustCompile(`(?i)wi-fi|ethernet|wireless|wlan\d|en\d|eth\d`)
	virtualIface  = regexp.MustCompile(`(?i)virtual|vbox|wsl|vpn|tailscale|docker|veth|br-`)
)

type ifaceAddr struct {
	name string
	ip   net.IP
}

// LocalIP picks the LAN address to advertise: a physical interface first,
// then anything not obviously virtual, then the first address, else
// localhost.
func LocalIP() string {
	ifaces, err := net.Interfaces()
	if err != nil {
		return "localhost"
	}

	var cands []ifaceAddr
	for _, iface := range ifaces {
		if iface.Flags&net.FlagUp == 0 || iface.Flags&net.FlagLoopback != 0 {
			continue
		}
		addrs, err := iface.Addrs()
		if err != nil {
			continue
		}
		for _, a := range addrs {
			ipnet, ok := a.(*net.IPNet)
			if !ok {
				continue
			}
			if ip4 := ipnet.IP.To4(); ip4 != nil {
				cands = append(cands, ifaceAddr{name: iface.Name, ip: ip4})
			}
		}
	}
	return pickAddr(cands)
}

func pickAddr(cands []ifaceAddr) string {
	for _, c := range cands {
		if physicalIface.MatchString(c.name) {
			return c.ip.String()
		}
	}
	for _, c := range cands {
		if !virtualIface.MatchString(c.name) {
			return c.ip.String()
		}
	}
	if len(cands) > 0 {
		return cands[0].ip.String()
	}
	return "localhost"
}
