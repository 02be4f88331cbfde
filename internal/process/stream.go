package process

import (
	"errors"
	"os"
	"syscall"

	"golang.org/x/sys/unix"
)

const (
	readChunkSize  = 32 << 10
	maxReadPerPoll = 1 << 20
)

// outputStream is the parent's read end of a child output pipe.
// Reads go straight to the non-blocking descriptor and never wait.
type outputStream struct {
	name   string
	file   *os.File
	raw    syscall.RawConn
	fd     int
	eof    bool
	closed bool
	buf    []byte
}

func newOutputStream(name string, f *os.File) (*outputStream, error) {
	raw, err := f.SyscallConn()
	if err != nil {
		return nil, err
	}

	s := &outputStream{name: name, file: f, raw: raw, fd: -1}
	if err := raw.Control(func(fd uintptr) { s.fd = int(fd) }); err != nil {
		return nil, err
	}
	return s, nil
}

// readAvailable returns the bytes currently buffered in the pipe, up to
// maxReadPerPoll. An empty result with a nil error means nothing was ready.
func (s *outputStream) readAvailable() ([]byte, error) {
	if s.eof || s.closed {
		return nil, nil
	}
	if s.buf == nil {
		s.buf = make([]byte, readChunkSize)
	}

	var out []byte
	for len(out) < maxReadPerPoll {
		var n int
		var readErr error
		err := s.raw.Read(func(fd uintptr) bool {
			for {
				n, readErr = unix.Read(int(fd), s.buf)
				if !errors.Is(readErr, unix.EINTR) {
					return true
				}
			}
		})
		if err != nil {
			return out, err
		}

		switch {
		case errors.Is(readErr, unix.EAGAIN):
			return out, nil
		case readErr != nil:
			return out, readErr
		case n == 0:
			s.eof = true
			return out, nil
		}

		out = append(out, s.buf[:n]...)
	}
	return out, nil
}

// pollable reports whether the stream is worth waiting on.
func (s *outputStream) pollable() bool {
	return !s.eof && !s.closed && s.fd >= 0
}

func (s *outputStream) close() error {
	if s.closed {
		return nil
	}
	s.closed = true
	return s.file.Close()
}
