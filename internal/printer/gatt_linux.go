//go:build linux

package printer

import (
	"github.com/go-ble/ble"
	"github.com/go-ble/ble/linux"
)

func newHCIDevice() (ble.Device, error) {
	return linux.NewDevice()
}
