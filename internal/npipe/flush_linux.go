package npipe

import "golang.org/x/sys/unix"

func tcflush(fd int) error {
	return unix.IoctlSetInt(fd, unix.TCFLSH, unix.TCIOFLUSH)
}
