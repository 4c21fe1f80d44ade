package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"os"

	"fyne.io/fyne/v2"
	"fyne.io/fyne/v2/app"
	"fyne.io/fyne/v2/canvas"
	"fyne.io/fyne/v2/container"
	"fyne.io/fyne/v2/dialog"
	"fyne.io/fyne/v2/storage"
	"fyne.io/fyne/v2/widget"

	"receipt-print/internal/config"
	"receipt-print/internal/events"
	"receipt-print/internal/imaging"
	"receipt-print/internal/invoice"
	"receipt-print/internal/pipeline"
	"receipt-print/internal/printer"
	"receipt-print/internal/receipt"
)

const (
	AppVersion = "1.0.0"
	AppName    = "Receipt Print"
)

type App struct {
	fyneApp fyne.App
	window  fyne.Window
	ctx     context.Context
	logger  *slog.Logger

	pipe    *pipeline.Pipeline
	manager *printer.Manager
	inv     *invoice.Invoice

	previewImg *canvas.Image

	// Widgets that need updating
	statusLabel   *widget.Label
	invoiceLabel  *widget.Label
	connectBtn    *widget.Button
	reconnectBtn  *widget.Button
	disconnectBtn *widget.Button
	forgetBtn     *widget.Button
	printBtn      *widget.Button

	partyName    *widget.Entry
	partyPhone   *widget.Entry
	partyAddress *widget.Entry
}

func main() {
	cfg, err := config.Parse("receipt-print", os.Args[1:])
	if err != nil {
		var ue *config.UsageError
		if errors.As(err, &ue) {
			fmt.Fprintf(os.Stderr, "%s\n", ue.Usage)
		}
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	logger := cfg.Logger(os.Stderr)
	slog.SetDefault(logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	a := app.New()
	w := a.NewWindow(fmt.Sprintf("%s v%s", AppName, AppVersion))
	w.Resize(fyne.NewSize(720, 600))

	pipe, err := pipeline.New(ctx, cfg, &dialogChooser{window: w}, logger)
	if err != nil {
		logger.Error("Failed to start printing pipeline", "error", err)
		os.Exit(1)
	}

	receiptApp := &App{
		fyneApp: a,
		window:  w,
		ctx:     ctx,
		logger:  logger,
		pipe:    pipe,
		manager: pipe.Manager,
	}

	w.SetMainMenu(receiptApp.buildMenu())
	w.SetContent(receiptApp.buildUI())
	w.SetOnClosed(func() {
		cancel()
		receiptApp.cleanup()
	})
	receiptApp.start()
	w.ShowAndRun()
}

func (a *App) buildMenu() *fyne.MainMenu {
	fileMenu := fyne.NewMenu("File",
		fyne.NewMenuItem("Open Invoice...", a.loadInvoice),
	)
	helpMenu := fyne.NewMenu("Help",
		fyne.NewMenuItem("About", a.showAboutDialog),
	)
	if a.manager == nil {
		return fyne.NewMainMenu(fileMenu, helpMenu)
	}

	printerMenu := fyne.NewMenu("Printer",
		fyne.NewMenuItem("Connect New Printer...", a.connectNew),
		fyne.NewMenuItem("Reconnect", a.reconnect),
		fyne.NewMenuItem("Saved Printers...", a.showSavedPrinters),
		fyne.NewMenuItem("Disconnect", a.manager.Disconnect),
		fyne.NewMenuItemSeparator(),
		fyne.NewMenuItem("Forget This Printer", a.forgetCurrent),
		fyne.NewMenuItem("Forget All Printers", a.forgetAll),
	)
	return fyne.NewMainMenu(fileMenu, printerMenu, helpMenu)
}

func (a *App) showAboutDialog() {
	content := container.NewVBox(
		widget.NewLabelWithStyle(AppName, fyne.TextAlignCenter, fyne.TextStyle{Bold: true}),
		widget.NewLabel(fmt.Sprintf("Version %s", AppVersion)),
		widget.NewSeparator(),
		widget.NewLabel("Prints invoices on Bluetooth thermal receipt printers."),
		widget.NewLabel(""),
		widget.NewLabel("Text shaping by go-text:"),
		widget.NewHyperlink("github.com/go-text/typesetting", parseURL("https://github.com/go-text/typesetting")),
		widget.NewLabel(""),
		widget.NewLabel("Built with Fyne and Go"),
	)

	dialog.ShowCustom("About", "Close", content, a.window)
}

func parseURL(urlStr string) *url.URL {
	u, _ := url.Parse(urlStr)
	return u
}

func (a *App) cleanup() {
	if err := a.pipe.Close(); err != nil {
		a.logger.Warn("closing pipeline", "error", err)
	}
}

// start hooks the window to the connection manager and looks for the last
// printer in the background
func (a *App) start() {
	if a.manager == nil {
		a.statusLabel.SetText("Printing without Bluetooth")
		return
	}

	a.manager.AddConnectionListener(a.onStatus)
	a.fyneApp.Lifecycle().SetOnEnteredForeground(a.manager.Poke)
	a.manager.Start()

	go a.manager.AutoReconnect(a.ctx, true)
}

func (a *App) buildUI() fyne.CanvasObject {
	// Status bar
	a.statusLabel = widget.NewLabel("Not connected")

	// === PRINTER SECTION ===
	a.connectBtn = widget.NewButton("Connect New", a.connectNew)
	a.reconnectBtn = widget.NewButton("Reconnect", a.reconnect)
	a.disconnectBtn = widget.NewButton("Disconnect", func() {
		a.manager.Disconnect()
	})
	a.forgetBtn = widget.NewButton("Forget", a.forgetCurrent)
	a.disconnectBtn.Disable()
	a.forgetBtn.Disable()

	printerRow := container.NewGridWithColumns(2,
		a.connectBtn, a.reconnectBtn,
		a.disconnectBtn, a.forgetBtn,
	)
	if a.manager == nil {
		a.connectBtn.Disable()
		a.reconnectBtn.Disable()
	}

	// === INVOICE SECTION ===
	a.invoiceLabel = widget.NewLabel("No invoice loaded")
	a.invoiceLabel.Wrapping = fyne.TextWrapWord
	loadBtn := widget.NewButton("Load Invoice", a.loadInvoice)

	a.partyName = widget.NewEntry()
	a.partyName.SetPlaceHolder("From invoice")
	a.partyPhone = widget.NewEntry()
	a.partyPhone.SetPlaceHolder("From invoice")
	a.partyAddress = widget.NewMultiLineEntry()
	a.partyAddress.SetPlaceHolder("From invoice")
	a.partyAddress.SetMinRowsVisible(2)
	for _, e := range []*widget.Entry{a.partyName, a.partyPhone, a.partyAddress} {
		e.OnChanged = func(string) {
			a.updatePreview()
		}
	}

	partyForm := widget.NewForm(
		widget.NewFormItem("Customer", a.partyName),
		widget.NewFormItem("Phone", a.partyPhone),
		widget.NewFormItem("Address", a.partyAddress),
	)

	// Print button
	a.printBtn = widget.NewButton("Print", a.print)
	a.printBtn.Importance = widget.HighImportance
	a.printBtn.Disable()

	// Preview
	a.previewImg = canvas.NewImageFromImage(nil)
	a.previewImg.SetMinSize(fyne.NewSize(220, 400))
	a.previewImg.FillMode = canvas.ImageFillContain

	// Left panel - printer and invoice
	leftPanel := container.NewVBox(
		widget.NewLabel("Printer:"),
		printerRow,
		widget.NewSeparator(),
		loadBtn,
		a.invoiceLabel,
		widget.NewAccordion(
			widget.NewAccordionItem("Customer Override", partyForm),
		),
		widget.NewSeparator(),
		a.printBtn,
	)

	// Right panel
	rightPanel := container.NewVScroll(container.NewCenter(a.previewImg))

	content := container.NewHSplit(leftPanel, rightPanel)
	content.SetOffset(0.42)

	return container.NewBorder(
		nil,
		container.NewHBox(a.statusLabel),
		nil, nil,
		content,
	)
}

func (a *App) onStatus(s events.Status) {
	name := s.DeviceName
	if name == "" {
		name = s.DeviceID
	}

	switch s.State {
	case events.StateConnecting:
		a.statusLabel.SetText(fmt.Sprintf("Connecting to %s...", name))
	case events.StateConnected:
		a.statusLabel.SetText(fmt.Sprintf("Connected to %s", name))
	case events.StateError:
		a.statusLabel.SetText(fmt.Sprintf("Printer error on %s", name))
	default:
		if name == "" {
			a.statusLabel.SetText("Not connected")
		} else {
			a.statusLabel.SetText(fmt.Sprintf("Disconnected from %s", name))
		}
	}

	if s.State == events.StateConnected {
		a.disconnectBtn.Enable()
	} else {
		a.disconnectBtn.Disable()
	}
	if s.DeviceID != "" {
		a.forgetBtn.Enable()
	} else {
		a.forgetBtn.Disable()
	}
}

func (a *App) connectNew() {
	a.connectBtn.Disable()
	go func() {
		defer a.connectBtn.Enable()

		ident, err := a.manager.ConnectNew(a.ctx, true)
		switch {
		case errors.Is(err, printer.ErrUserCancelled):
			return
		case errors.Is(err, printer.ErrNoDevicesFound):
			dialog.ShowInformation("No Printers", "No thermal printers found nearby. Make sure the printer is on.", a.window)
		case err != nil:
			dialog.ShowError(fmt.Errorf("failed to connect: %w", err), a.window)
		default:
			a.logger.Info("paired printer", "device", ident.DeviceID, "name", ident.Name())
		}
	}()
}

func (a *App) reconnect() {
	a.reconnectBtn.Disable()
	go func() {
		defer a.reconnectBtn.Enable()
		if !a.manager.AutoReconnect(a.ctx, false) {
			a.statusLabel.SetText("Last printer not available")
		}
	}()
}

func (a *App) forgetCurrent() {
	current := a.manager.CurrentPrinter().Printer
	if current.IsZero() {
		return
	}
	dialog.ShowConfirm("Forget Printer",
		fmt.Sprintf("Forget %s? You will need to pair it again.", current.Name()),
		func(ok bool) {
			if !ok {
				return
			}
			if err := a.manager.ForgetPrinter(a.ctx, current.DeviceID); err != nil {
				dialog.ShowError(err, a.window)
			}
		}, a.window)
}

// showSavedPrinters lists paired printers and lets the user pick which one
// AutoReconnect tries first
func (a *App) showSavedPrinters() {
	saved, err := a.pipe.Registry.List(a.ctx)
	if err != nil {
		dialog.ShowError(err, a.window)
		return
	}
	if len(saved) == 0 {
		dialog.ShowInformation("Saved Printers", "No printers have been paired yet.", a.window)
		return
	}

	names := make([]string, len(saved))
	selected := ""
	for i, p := range saved {
		names[i] = fmt.Sprintf("%s (%s)", p.Name(), p.DeviceID)
		if p.IsDefault {
			selected = names[i]
		}
	}
	radio := widget.NewRadioGroup(names, nil)
	radio.Required = true
	radio.SetSelected(selected)

	dialog.ShowCustomConfirm("Saved Printers", "Make Default", "Close", container.NewVScroll(radio), func(ok bool) {
		if !ok || radio.Selected == "" || radio.Selected == selected {
			return
		}
		for i, name := range names {
			if name != radio.Selected {
				continue
			}
			if err := a.pipe.Registry.SetDefault(a.ctx, saved[i].DeviceID); err != nil {
				dialog.ShowError(err, a.window)
				return
			}
			a.logger.Info("default printer changed", "device", saved[i].DeviceID)
			if a.manager.CurrentPrinter().State != events.StateConnected {
				go a.manager.AutoReconnect(a.ctx, true)
			}
			return
		}
	}, a.window)
}

func (a *App) forgetAll() {
	dialog.ShowConfirm("Forget All Printers", "Forget every saved printer?", func(ok bool) {
		if !ok {
			return
		}
		if err := a.manager.ForgetAllPrinters(a.ctx); err != nil {
			dialog.ShowError(err, a.window)
		}
	}, a.window)
}

func (a *App) loadInvoice() {
	fd := dialog.NewFileOpen(func(reader fyne.URIReadCloser, err error) {
		if err != nil {
			dialog.ShowError(err, a.window)
			return
		}
		if reader == nil {
			return
		}
		defer reader.Close()

		inv, err := invoice.Decode(reader)
		if err != nil {
			dialog.ShowError(err, a.window)
			return
		}

		a.inv = inv
		totals := inv.Recompute()
		a.invoiceLabel.SetText(fmt.Sprintf("Invoice %s, %d item(s), total %s",
			inv.Number, len(inv.Items), receipt.Money(totals.Total)))
		a.updatePreview()
		a.printBtn.Enable()
	}, a.window)

	fd.SetFilter(storage.NewExtensionFileFilter([]string{".json"}))
	fd.Show()
}

func (a *App) party() invoice.Party {
	return invoice.Party{
		Name:    a.partyName.Text,
		Phone:   a.partyPhone.Text,
		Address: a.partyAddress.Text,
	}
}

func (a *App) updatePreview() {
	if a.inv == nil {
		return
	}

	_, bands, err := a.pipe.Service.Render(a.inv, a.party())
	if err != nil {
		a.statusLabel.SetText(fmt.Sprintf("Preview failed: %v", err))
		return
	}

	preview := imaging.Preview(bands)
	b := preview.Bounds()
	a.previewImg.Image = preview
	a.previewImg.SetMinSize(fyne.NewSize(float32(b.Dx())/1.5, float32(b.Dy())/1.5))
	a.previewImg.Refresh()
}

func (a *App) print() {
	if a.inv == nil {
		dialog.ShowError(fmt.Errorf("no invoice loaded"), a.window)
		return
	}

	inv, party := a.inv, a.party()
	a.statusLabel.SetText("Printing...")
	a.printBtn.Disable()

	go func() {
		defer a.printBtn.Enable()

		ok, err := a.pipe.Service.PrintReceipt(a.ctx, inv, party)
		switch {
		case errors.Is(err, printer.ErrUserCancelled):
			a.statusLabel.SetText("Print cancelled")
		case err != nil:
			a.statusLabel.SetText(fmt.Sprintf("Print error: %v", err))
			dialog.ShowError(err, a.window)
		case ok:
			a.statusLabel.SetText("Print complete!")
		}
	}()
}
