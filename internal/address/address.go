// Package address parses the "host:port" strings that name a streaming server.
package address

import (
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
)

var ErrInvalidAddress = errors.New("invalid link address")

// LinkAddress is a validated host and port.
type LinkAddress struct {
	Host string
	Port int
}

// Parse validates s as "host:port". It requires exactly one colon, a
// non-blank host without surrounding whitespace and a decimal port in
// [0, 65535].
func Parse(s string) (LinkAddress, error) {
	if strings.TrimSpace(s) == "" {
		return LinkAddress{}, fmt.Errorf("%w: empty", ErrInvalidAddress)
	}

	parts := strings.Split(s, ":")
	if len(parts) != 2 {
		return LinkAddress{}, fmt.Errorf("%w: %q: want host:port", ErrInvalidAddress, s)
	}

	host := parts[0]
	if strings.TrimSpace(host) == "" {
		return LinkAddress{}, fmt.Errorf("%w: %q: empty host", ErrInvalidAddress, s)
	}
	if strings.TrimSpace(host) != host {
		return LinkAddress{}, fmt.Errorf("%w: %q: whitespace around host", ErrInvalidAddress, s)
	}

	port, err := strconv.ParseUint(parts[1], 10, 16)
	if err != nil {
		return LinkAddress{}, fmt.Errorf("%w: %q: bad port", ErrInvalidAddress, s)
	}

	return LinkAddress{Host: host, Port: int(port)}, nil
}

// String returns the "host:port" form.
func (a LinkAddress) String() string {
	return net.JoinHostPort(a.Host, strconv.Itoa(a.Port))
}
