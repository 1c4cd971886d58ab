// Package portprobe implements the open-TCP-port helper of spec.md §4.5.
package portprobe

import (
	"errors"
	"fmt"
	"net"

	"github.com/blockberries/meshberry/pkg/cryptoprim"
)

const (
	minPort = 49152
	maxPort = 65535
)

// ErrNoPortAvailable is returned once both the upward and downward probe
// directions are exhausted.
var ErrNoPortAvailable = errors.New("Could not secure a port")

// Secure probes upward from start, attempting to bind each port in turn;
// on reaching maxPort it probes downward from start-1 to minPort. The
// winning listener is returned already bound — callers that only need the
// port number should Close it immediately.
func Secure(start int) (net.Listener, error) {
	if start < minPort || start > maxPort {
		return nil, fmt.Errorf("portprobe: start %d out of range [%d,%d]", start, minPort, maxPort)
	}

	for port := start; port <= maxPort; port++ {
		if ln, ok := tryListen(port); ok {
			return ln, nil
		}
	}
	for port := start - 1; port >= minPort; port-- {
		if ln, ok := tryListen(port); ok {
			return ln, nil
		}
	}
	return nil, ErrNoPortAvailable
}

// RandomStart picks a random starting port in [49152, 65535], spec.md
// §4.5's default.
func RandomStart() (int, error) {
	b, err := cryptoprim.RandomBytes(2)
	if err != nil {
		return 0, err
	}
	span := maxPort - minPort + 1
	return minPort + int(uint16(b[0])<<8|uint16(b[1]))%span, nil
}

func tryListen(port int) (net.Listener, bool) {
	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", port))
	if err != nil {
		return nil, false
	}
	return ln, true
}
