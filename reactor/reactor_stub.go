//go:build !linux

// File: reactor/reactor_stub.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package reactor

import "errors"

func newReactor() (Reactor, error) {
	return nil, errors.New("reactor: unsupported platform")
}
