package kanata

import (
	"fmt"
	"net"
	"strconv"
	"strings"
)

const defaultHost = "127.0.0.1"

// ParseAddr validates the kanata server address flag. It accepts either a
// bare port ("10000"), which defaults to localhost, or a HOST:PORT pair, and
// returns the normalized dial address.
func ParseAddr(s string) (string, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return "", fmt.Errorf("empty kanata address")
	}
	if !strings.Contains(s, ":") {
		if err := validatePort(s); err != nil {
			return "", err
		}
		return net.JoinHostPort(defaultHost, s), nil
	}
	host, port, err := net.SplitHostPort(s)
	if err != nil {
		return "", fmt.Errorf("invalid kanata address %q: specify a port (e.g. 10000) or host:port (e.g. 127.0.0.1:10000)", s)
	}
	if err := validatePort(port); err != nil {
		return "", err
	}
	if host == "" {
		host = defaultHost
	}
	return net.JoinHostPort(host, port), nil
}

func validatePort(s string) error {
	port, err := strconv.Atoi(s)
	if err != nil || port <= 0 || port > 65535 {
		return fmt.Errorf("invalid port %q: must be a number between 1 and 65535", s)
	}
	return nil
}
