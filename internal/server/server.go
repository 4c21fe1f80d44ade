// Package server exposes receipt printing over HTTP.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"receipt-print/internal/invoice"
	"receipt-print/internal/printer"
	"receipt-print/internal/store"
)

// Printer prints invoices
type Printer interface {
	PrintReceipt(ctx context.Context, inv *invoice.Invoice, party invoice.Party) (bool, error)
}

// Connection is the managed printer link. It is nil when printing to a
// wired sink.
type Connection interface {
	CurrentPrinter() printer.Snapshot
	AutoReconnect(ctx context.Context, silent bool) bool
	ForgetPrinter(ctx context.Context, deviceID string) error
	ForgetAllPrinters(ctx context.Context) error
}

// SavedPrinters lists paired printers and picks the default
type SavedPrinters interface {
	List(ctx context.Context) ([]store.PrinterIdentity, error)
	SetDefault(ctx context.Context, deviceID string) error
}

// Server handles print and printer status requests
type Server struct {
	printer Printer
	conn    Connection
	saved   SavedPrinters
	router  *mux.Router
	logger  *slog.Logger
}

type printerResponse struct {
	DeviceID      string    `json:"device_id,omitempty"`
	Name          string    `json:"name,omitempty"`
	State         string    `json:"state,omitempty"`
	IsDefault     bool      `json:"is_default"`
	LastConnected time.Time `json:"last_connected"`
}

// New builds the server. conn and saved are nil when printing to a wired
// sink.
func New(p Printer, conn Connection, saved SavedPrinters, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{printer: p, conn: conn, saved: saved, router: mux.NewRouter(), logger: logger}
	s.registerRoutes()
	return s
}

func (s *Server) registerRoutes() {
	s.router.HandleFunc("/print", s.handlePrint).Methods(http.MethodPost)
	s.router.HandleFunc("/printer", s.handleGetPrinter).Methods(http.MethodGet)
	s.router.HandleFunc("/printer/reconnect", s.handleReconnect).Methods(http.MethodPost)
	s.router.HandleFunc("/printer/{id}", s.handleForget).Methods(http.MethodDelete)
	s.router.HandleFunc("/printers", s.handleListSaved).Methods(http.MethodGet)
	s.router.HandleFunc("/printers", s.handleForgetAll).Methods(http.MethodDelete)
	s.router.HandleFunc("/printers/{id}/default", s.handleSetDefault).Methods(http.MethodPut)
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) handlePrint(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
	inv, err := invoice.Decode(r.Body)
	if err != nil {
		writeError(w, err.Error(), http.StatusBadRequest)
		return
	}

	q := r.URL.Query()
	party := invoice.Party{
		Name:    q.Get("party_name"),
		Phone:   q.Get("party_phone"),
		Address: q.Get("party_address"),
	}

	ok, err := s.printer.PrintReceipt(r.Context(), inv, party)
	if err != nil {
		s.logger.Warn("print request failed", "invoice", inv.Number, "error", err)
		writeError(w, err.Error(), printStatus(err))
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"printed": ok})
}

func printStatus(err error) int {
	var werr *printer.WriteError
	switch {
	case errors.Is(err, printer.ErrNoDevicesFound),
		errors.Is(err, printer.ErrNotConnected),
		errors.Is(err, printer.ErrNoCompatibleService),
		errors.As(err, &werr):
		return http.StatusServiceUnavailable
	case errors.Is(err, printer.ErrUserCancelled), errors.Is(err, context.Canceled):
		return http.StatusConflict
	case errors.Is(err, printer.ErrNotSupported):
		return http.StatusNotImplemented
	}
	return http.StatusInternalServerError
}

func (s *Server) handleGetPrinter(w http.ResponseWriter, r *http.Request) {
	if !s.managed(w) {
		return
	}
	snap := s.conn.CurrentPrinter()
	resp := toResponse(snap.Printer)
	resp.State = string(snap.State)
	writeJSON(w, http.StatusOK, resp)
}

func toResponse(p store.PrinterIdentity) printerResponse {
	return printerResponse{
		DeviceID:      p.DeviceID,
		Name:          p.Name(),
		IsDefault:     p.IsDefault,
		LastConnected: p.LastConnected,
	}
}

func (s *Server) handleListSaved(w http.ResponseWriter, r *http.Request) {
	if !s.hasSaved(w) {
		return
	}
	printers, err := s.saved.List(r.Context())
	if err != nil {
		s.logger.Error("listing printers", "error", err)
		writeError(w, "Internal server error", http.StatusInternalServerError)
		return
	}
	resp := make([]printerResponse, 0, len(printers))
	for _, p := range printers {
		resp = append(resp, toResponse(p))
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleSetDefault(w http.ResponseWriter, r *http.Request) {
	if !s.hasSaved(w) {
		return
	}
	id := mux.Vars(r)["id"]
	err := s.saved.SetDefault(r.Context(), id)
	switch {
	case errors.Is(err, store.ErrNotFound):
		writeError(w, "printer not found", http.StatusNotFound)
		return
	case err != nil:
		s.logger.Error("setting default printer", "device", id, "error", err)
		writeError(w, "Internal server error", http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleReconnect(w http.ResponseWriter, r *http.Request) {
	if !s.managed(w) {
		return
	}
	ok := s.conn.AutoReconnect(r.Context(), false)
	writeJSON(w, http.StatusOK, map[string]bool{"connected": ok})
}

func (s *Server) handleForget(w http.ResponseWriter, r *http.Request) {
	if !s.managed(w) {
		return
	}
	id := mux.Vars(r)["id"]
	if err := s.conn.ForgetPrinter(r.Context(), id); err != nil {
		s.logger.Error("forgetting printer", "device", id, "error", err)
		writeError(w, "Internal server error", http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleForgetAll(w http.ResponseWriter, r *http.Request) {
	if !s.managed(w) {
		return
	}
	if err := s.conn.ForgetAllPrinters(r.Context()); err != nil {
		s.logger.Error("forgetting printers", "error", err)
		writeError(w, "Internal server error", http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) managed(w http.ResponseWriter) bool {
	if s.conn == nil {
		writeError(w, "no bluetooth printer in this mode", http.StatusNotImplemented)
		return false
	}
	return true
}

func (s *Server) hasSaved(w http.ResponseWriter) bool {
	if s.saved == nil {
		writeError(w, "no saved printers in this mode", http.StatusNotImplemented)
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("Error encoding response", "error", err)
	}
}

func writeError(w http.ResponseWriter, message string, code int) {
	writeJSON(w, code, map[string]string{"error": message})
}
