//go:build linux

// File: pool/io_linux.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Framed, non-blocking read/write between a socket and a pool buffer.

package pool

import (
	"fmt"

	"golang.org/x/sys/unix"
)

// ReadInto appends up to cap(buf.Data)-buf.Length bytes from fd. It
// returns the byte count, an eof flag, and a fatal error. A would-block
// condition is reported as (0, false, nil); callers stop draining.
func ReadInto(fd int, buf *IOBuffer) (int, bool, error) {
	if buf.Length >= cap(buf.Data) {
		return 0, false, nil
	}
	for {
		n, err := unix.Read(fd, buf.Data[buf.Length:cap(buf.Data)])
		switch err {
		case nil:
			if n == 0 {
				return 0, true, nil
			}
			buf.Length += n
			return n, false, nil
		case unix.EINTR:
			continue
		case unix.EAGAIN:
			return 0, false, nil
		default:
			return 0, false, fmt.Errorf("read fd %d: %w", fd, err)
		}
	}
}

// WriteFrom drains buf.Length-buf.WriteOffset bytes to fd, advancing
// WriteOffset by what the kernel took. A would-block condition is
// reported as (0, nil); callers keep writable interest and retry on the
// next readiness.
func WriteFrom(fd int, buf *IOBuffer) (int, error) {
	if buf.Remaining() == 0 {
		return 0, nil
	}
	for {
		n, err := unix.Write(fd, buf.Data[buf.WriteOffset:buf.Length])
		switch err {
		case nil:
			buf.WriteOffset += n
			return n, nil
		case unix.EINTR:
			continue
		case unix.EAGAIN:
			return 0, nil
		default:
			return 0, fmt.Errorf("write fd %d: %w", fd, err)
		}
	}
}
