//go:build !linux

package printer

import "github.com/go-ble/ble"

func newHCIDevice() (ble.Device, error) {
	return nil, ErrNotSupported
}
