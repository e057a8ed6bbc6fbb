package controller

import (
	"syscall"

	"golang.org/x/sys/unix"
)

// controlSocket sets the listener options the devices expect: address
// reuse on both ports, broadcast on the UDP one, and an optional
// bind-to-interface pin.
func controlSocket(broadcast bool, iface string) func(network, address string, rc syscall.RawConn) error {
	return func(network, address string, rc syscall.RawConn) error {
		var opErr error
		err := rc.Control(func(fd uintptr) {
			if opErr = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); opErr != nil {
				return
			}
			if broadcast {
				if opErr = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_BROADCAST, 1); opErr != nil {
					return
				}
			}
			if iface != "" {
				opErr = unix.BindToDevice(int(fd), iface)
			}
		})
		if err != nil {
			return err
		}
		return opErr
	}
}
