package netutil

import (
	"fmt"
	"net"
	"strconv"
)

// SelectBindAddr returns preferred when it can be listened on. Otherwise it tries the
// next fallback ports on the same host, in order, and returns the first free one.
func SelectBindAddr(preferred string, fallback int) (string, error) {
	host, portStr, err := net.SplitHostPort(preferred)
	if err != nil {
		return "", fmt.Errorf("bind address %q: %w", preferred, err)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil || port < 0 || port > 65535 {
		return "", fmt.Errorf("bind address %q: invalid port", preferred)
	}

	ok, err := IsAddrAvailable(preferred)
	if err != nil {
		return "", err
	}
	if ok {
		return preferred, nil
	}
	// Port 0 lets the kernel pick, so there is nothing else to try.
	if port == 0 {
		return "", fmt.Errorf("bind address %q unavailable", preferred)
	}

	for next := port + 1; next <= port+fallback && next <= 65535; next++ {
		addr := net.JoinHostPort(host, strconv.Itoa(next))
		ok, err := IsAddrAvailable(addr)
		if err != nil {
			return "", err
		}
		if ok {
			return addr, nil
		}
	}
	return "", fmt.Errorf("bind address %q in use and no free port in the next %d", preferred, fallback)
}

// IsAddrAvailable returns true when an address can be listened on.
func IsAddrAvailable(addr string) (bool, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return false, nil
	}
	if closeErr := ln.Close(); closeErr != nil {
		return false, closeErr
	}
	return true, nil
}
