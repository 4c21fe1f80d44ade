package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/onsi/gomega/ghttp"

	"receipt-print/internal/events"
	"receipt-print/internal/invoice"
	"receipt-print/internal/printer"
	"receipt-print/internal/store"
)

type fakePrinter struct {
	mu      sync.Mutex
	err     error
	parties []invoice.Party
	numbers []string
}

func (f *fakePrinter) PrintReceipt(_ context.Context, inv *invoice.Invoice, party invoice.Party) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return false, f.err
	}
	f.parties = append(f.parties, party)
	f.numbers = append(f.numbers, inv.Number)
	return true, nil
}

type fakeConnection struct {
	snap      printer.Snapshot
	reconnect bool
	forgotten []string
	forgetAll int
	forgetErr error
}

func (f *fakeConnection) CurrentPrinter() printer.Snapshot { return f.snap }

func (f *fakeConnection) AutoReconnect(context.Context, bool) bool { return f.reconnect }

func (f *fakeConnection) ForgetPrinter(_ context.Context, id string) error {
	f.forgotten = append(f.forgotten, id)
	return f.forgetErr
}

func (f *fakeConnection) ForgetAllPrinters(context.Context) error {
	f.forgetAll++
	return f.forgetErr
}

type fakeSaved struct {
	printers []store.PrinterIdentity
	listErr  error
}

func (f *fakeSaved) List(context.Context) ([]store.PrinterIdentity, error) {
	return f.printers, f.listErr
}

func (f *fakeSaved) SetDefault(_ context.Context, id string) error {
	found := false
	for i := range f.printers {
		f.printers[i].IsDefault = f.printers[i].DeviceID == id
		found = found || f.printers[i].IsDefault
	}
	if !found {
		return store.ErrNotFound
	}
	return nil
}

const invoiceJSON = `{
	"invoice_number": "INV-9",
	"items": [{"product_name": "Sugar", "quantity": 1, "unit_price": 45, "amount": 45}]
}`

var _ = Describe("Server", func() {
	var (
		prn         *fakePrinter
		conn        *fakeConnection
		saved       *fakeSaved
		ghttpServer *ghttp.Server
	)

	start := func(c Connection, s SavedPrinters) {
		srv := New(prn, c, s, slog.New(slog.NewTextHandler(io.Discard, nil)))
		ghttpServer = ghttp.NewServer()
		ghttpServer.AppendHandlers(srv.ServeHTTP)
	}

	BeforeEach(func() {
		prn = &fakePrinter{}
		conn = &fakeConnection{snap: printer.Snapshot{
			Printer: store.PrinterIdentity{DeviceID: "AA:BB:CC:DD:EE:01", DisplayName: "P-58"},
			State:   events.StateConnected,
		}}
		saved = &fakeSaved{printers: []store.PrinterIdentity{
			{DeviceID: "AA:BB:CC:DD:EE:01", DisplayName: "P-58", IsDefault: true},
			{DeviceID: "AA:BB:CC:DD:EE:02", DisplayName: "Counter 2"},
		}}
	})

	AfterEach(func() {
		if ghttpServer != nil {
			ghttpServer.Close()
		}
	})

	do := func(method, path, body string) (*http.Response, map[string]any) {
		req, err := http.NewRequest(method, ghttpServer.URL()+path, strings.NewReader(body))
		Expect(err).NotTo(HaveOccurred())
		resp, err := http.DefaultClient.Do(req)
		Expect(err).NotTo(HaveOccurred())
		defer resp.Body.Close()

		var out map[string]any
		data, err := io.ReadAll(resp.Body)
		Expect(err).NotTo(HaveOccurred())
		if len(data) > 0 {
			Expect(json.Unmarshal(data, &out)).To(Succeed())
		}
		return resp, out
	}

	Describe("POST /print", func() {
		BeforeEach(func() { start(conn, saved) })

		It("prints the invoice with party overrides", func() {
			resp, out := do(http.MethodPost, "/print?party_name=Ramesh&party_phone=98250", invoiceJSON)
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
			Expect(out).To(HaveKeyWithValue("printed", true))
			Expect(prn.numbers).To(Equal([]string{"INV-9"}))
			Expect(prn.parties).To(Equal([]invoice.Party{{Name: "Ramesh", Phone: "98250"}}))
		})

		It("rejects an invalid invoice", func() {
			resp, out := do(http.MethodPost, "/print", `{"items": []}`)
			Expect(resp.StatusCode).To(Equal(http.StatusBadRequest))
			Expect(out).To(HaveKey("error"))
			Expect(prn.numbers).To(BeEmpty())
		})

		DescribeTable("maps print failures to status codes",
			func(err error, code int) {
				prn.err = err
				resp, _ := do(http.MethodPost, "/print", invoiceJSON)
				Expect(resp.StatusCode).To(Equal(code))
			},
			Entry("no devices", printer.ErrNoDevicesFound, http.StatusServiceUnavailable),
			Entry("write failure", &printer.WriteError{Offset: 128, Err: errors.New("gatt")}, http.StatusServiceUnavailable),
			Entry("cancelled chooser", printer.ErrUserCancelled, http.StatusConflict),
			Entry("no bluetooth", printer.ErrNotSupported, http.StatusNotImplemented),
			Entry("anything else", errors.New("boom"), http.StatusInternalServerError),
		)

		It("only accepts POST", func() {
			resp, _ := do(http.MethodGet, "/print", "")
			Expect(resp.StatusCode).To(Equal(http.StatusMethodNotAllowed))
		})
	})

	Describe("printer routes", func() {
		BeforeEach(func() { start(conn, saved) })

		It("reports the current printer", func() {
			resp, out := do(http.MethodGet, "/printer", "")
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
			Expect(out).To(HaveKeyWithValue("device_id", "AA:BB:CC:DD:EE:01"))
			Expect(out).To(HaveKeyWithValue("name", "P-58"))
			Expect(out).To(HaveKeyWithValue("state", "connected"))
		})

		It("reports reconnect results", func() {
			conn.reconnect = true
			resp, out := do(http.MethodPost, "/printer/reconnect", "")
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
			Expect(out).To(HaveKeyWithValue("connected", true))
		})

		It("forgets one printer", func() {
			resp, _ := do(http.MethodDelete, "/printer/AA:BB:CC:DD:EE:01", "")
			Expect(resp.StatusCode).To(Equal(http.StatusNoContent))
			Expect(conn.forgotten).To(Equal([]string{"AA:BB:CC:DD:EE:01"}))
		})

		It("forgets every printer", func() {
			resp, _ := do(http.MethodDelete, "/printers", "")
			Expect(resp.StatusCode).To(Equal(http.StatusNoContent))
			Expect(conn.forgetAll).To(Equal(1))
		})

		It("surfaces store failures", func() {
			conn.forgetErr = errors.New("disk full")
			resp, _ := do(http.MethodDelete, "/printer/AA:BB:CC:DD:EE:01", "")
			Expect(resp.StatusCode).To(Equal(http.StatusInternalServerError))
		})
	})

	Describe("saved printer routes", func() {
		BeforeEach(func() { start(conn, saved) })

		list := func() []printerResponse {
			resp, err := http.Get(ghttpServer.URL() + "/printers")
			Expect(err).NotTo(HaveOccurred())
			defer resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
			var out []printerResponse
			Expect(json.NewDecoder(resp.Body).Decode(&out)).To(Succeed())
			return out
		}

		It("lists saved printers", func() {
			out := list()
			Expect(out).To(HaveLen(2))
			Expect(out[0].Name).To(Equal("P-58"))
			Expect(out[0].IsDefault).To(BeTrue())
			Expect(out[1].DeviceID).To(Equal("AA:BB:CC:DD:EE:02"))
			Expect(out[1].IsDefault).To(BeFalse())
		})

		It("makes a saved printer the default", func() {
			resp, _ := do(http.MethodPut, "/printers/AA:BB:CC:DD:EE:02/default", "")
			Expect(resp.StatusCode).To(Equal(http.StatusNoContent))
			Expect(saved.printers[0].IsDefault).To(BeFalse())
			Expect(saved.printers[1].IsDefault).To(BeTrue())
		})

		It("returns 404 for an unknown printer", func() {
			resp, out := do(http.MethodPut, "/printers/nope/default", "")
			Expect(resp.StatusCode).To(Equal(http.StatusNotFound))
			Expect(out).To(HaveKeyWithValue("error", "printer not found"))
		})

		It("surfaces list failures", func() {
			saved.listErr = errors.New("database is locked")
			resp, _ := do(http.MethodGet, "/printers", "")
			Expect(resp.StatusCode).To(Equal(http.StatusInternalServerError))
		})
	})

	Context("without a managed printer", func() {
		BeforeEach(func() { start(nil, nil) })

		It("still prints", func() {
			resp, _ := do(http.MethodPost, "/print", invoiceJSON)
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
		})

		It("refuses printer routes", func() {
			resp, _ := do(http.MethodGet, "/printer", "")
			Expect(resp.StatusCode).To(Equal(http.StatusNotImplemented))
		})

		It("refuses saved printer routes", func() {
			resp, _ := do(http.MethodPut, "/printers/AA:BB:CC:DD:EE:02/default", "")
			Expect(resp.StatusCode).To(Equal(http.StatusNotImplemented))
		})
	})
})
