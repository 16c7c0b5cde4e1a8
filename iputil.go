package main

import (
	"fmt"
	"net"
	"strings"
)

// localIPAddress resolves the address media transports bind to: an explicit
// configured host wins, otherwise the first non-loopback IPv4 of the host.
func localIPAddress(configured string) (string, error) {
	if host := strings.Split(configured, ":")[0]; host != "" && host != "0.0.0.0" && host != "any" {
		return host, nil
	}
	addrs, err := net.InterfaceAddrs()
	if err != nil {
		return "", err
	}
	for _, addr := range addrs {
		ipnet, ok := addr.(*net.IPNet)
		if !ok {
			continue
		}
		if ip4 := ipnet.IP.To4(); ip4 != nil && !ip4.IsLoopback() {
			return ip4.String(), nil
		}
	}
	return "", fmt.Errorf("no non-loopback IPv4 address found")
}
