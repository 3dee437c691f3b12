//go:build windows

package pushsock

import (
	"fmt"
	"net"
	"time"

	"github.com/Microsoft/go-winio"
)

// Listen opens the named pipe name, restricted to the current user.
func Listen(name string) (net.Listener, error) {
	ln, err := winio.ListenPipe(name, &winio.PipeConfig{
		// Owner and SYSTEM only.
		SecurityDescriptor: "D:P(A;;GA;;;OW)(A;;GA;;;SY)",
		InputBufferSize:    maxLineBytes,
		OutputBufferSize:   4096,
	})
	if err != nil {
		return nil, fmt.Errorf("listen on %s: %w", name, err)
	}
	return ln, nil
}

func dial(name string, timeout time.Duration) (net.Conn, error) {
	return winio.DialPipe(name, &timeout)
}
