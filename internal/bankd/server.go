package bankd

import (
	"log/slog"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// NewRouter wires the bank API routes: REST under /api/v1, the event stream
// at /stream, plus /health and /metrics.
func NewRouter(store Store, hub *Hub, opts Options, log *slog.Logger) http.Handler {
	handler := NewHandler(store, hub, opts, log)

	r := mux.NewRouter()
	r.Handle("/metrics", promhttp.Handler())
	r.HandleFunc("/health", handler.HealthCheckHandler).Methods("GET")
	r.HandleFunc("/stream", hub.HandleStream)

	apiV1 := r.PathPrefix("/api/v1").Subrouter()
	apiV1.HandleFunc("/accounts", handler.CreateAccountHandler).Methods("POST")
	apiV1.HandleFunc("/accounts/{id}", handler.GetAccountHandler).Methods("GET")
	apiV1.HandleFunc("/invoices", handler.CreateInvoiceHandler).Methods("POST")
	apiV1.HandleFunc("/invoices/{id}/otp", handler.RequestOTPHandler).Methods("POST")
	apiV1.HandleFunc("/invoices/{id}/pay", handler.PayHandler).Methods("POST")

	return r
}
