//go:build !linux

package wire

import "errors"

// NewPoller returns the platform poller. Only Linux is supported; tests on
// other platforms use the wiretest poller instead.
func NewPoller() (Poller, error) {
	return nil, errors.New("wire: no poller implementation for this platform")
}
