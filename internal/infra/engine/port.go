package engine

import (
	"fmt"
	"net"

	"github.com/siavashhub/lemonade/internal/domain"
)

const maxPortScanAttempts = 1024

// FindFreePort probes successive TCP ports on the loopback interface
// starting from seed, returning the first that binds. The probe bind is
// released before the port is returned so the caller can reuse it.
func FindFreePort(seed int) (int, error) {
	for i := 0; i < maxPortScanAttempts; i++ {
		port := seed + i
		if port > 65535 {
			break
		}
		l, err := net.Listen("tcp", fmt.Sprintf("127.0.0.1:%d", port))
		if err != nil {
			continue
		}
		l.Close()
		return port, nil
	}
	return 0, domain.ErrNoFreePort
}
