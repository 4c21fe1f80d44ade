package main

import (
	"context"

	"fyne.io/fyne/v2"
	"fyne.io/fyne/v2/dialog"
	"fyne.io/fyne/v2/widget"

	"receipt-print/internal/printer"
)

// dialogChooser lets the user pick a scanned printer from a modal list.
// Choose blocks the calling goroutine until the dialog is answered.
type dialogChooser struct {
	window fyne.Window
}

func (c *dialogChooser) Choose(ctx context.Context, devices []printer.Device) (printer.Device, error) {
	names := make([]string, len(devices))
	for i, d := range devices {
		names[i] = d.String()
	}

	list := widget.NewRadioGroup(names, nil)
	list.Required = true
	list.SetSelected(names[0])

	picked := make(chan int, 1)
	d := dialog.NewCustomConfirm("Select Printer", "Connect", "Cancel", list, func(ok bool) {
		idx := -1
		if ok {
			for i, n := range names {
				if n == list.Selected {
					idx = i
					break
				}
			}
		}
		picked <- idx
	}, c.window)
	d.Show()

	select {
	case <-ctx.Done():
		d.Hide()
		return printer.Device{}, ctx.Err()
	case idx := <-picked:
		if idx < 0 {
			return printer.Device{}, printer.ErrUserCancelled
		}
		return devices[idx], nil
	}
}
