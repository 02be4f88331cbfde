package process

import (
	"errors"
	"time"

	"golang.org/x/sys/unix"
)

// waitReadable blocks until one of fds is readable or hung up, or timeout
// passes. With no descriptors it simply sleeps.
func waitReadable(fds []int, timeout time.Duration) error {
	if len(fds) == 0 {
		time.Sleep(timeout)
		return nil
	}

	pfds := make([]unix.PollFd, len(fds))
	for i, fd := range fds {
		pfds[i] = unix.PollFd{Fd: int32(fd), Events: unix.POLLIN}
	}

	// poll(2) takes whole milliseconds; round up so short backoffs still wait
	ms := int((timeout + time.Millisecond - 1) / time.Millisecond)
	if _, err := unix.Poll(pfds, ms); err != nil && !errors.Is(err, unix.EINTR) {
		return err
	}
	return nil
}
