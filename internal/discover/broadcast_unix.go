//go:build unix

package discover

import (
	"net"

	"golang.org/x/sys/unix"
)

// enableBroadcast sets SO_BROADCAST so probes can go to the broadcast
// address.
func enableBroadcast(pc *net.UDPConn) error {
	rc, err := pc.SyscallConn()
	if err != nil {
		return err
	}
	var sockErr error
	err = rc.Control(func(fd uintptr) {
		sockErr = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_BROADCAST, 1)
	})
	if err != nil {
		return err
	}
	return sockErr
}
