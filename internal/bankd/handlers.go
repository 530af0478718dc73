package bankd

import (
	"crypto/rand"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/selhaddad/paystream/internal/models"
)

var (
	httpRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "bankd_http_requests_total",
		Help: "Total HTTP requests processed, labeled by status code",
	}, []string{"method", "endpoint", "status"})

	httpRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "bankd_http_request_duration_seconds",
		Help:    "Latency distribution of HTTP requests",
		Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
	}, []string{"method", "endpoint"})

	pushesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "bankd_stream_pushes_total",
		Help: "Notifications pushed on the event stream, labeled by kind and outcome",
	}, []string{"kind", "outcome"})
)

// Options tunes the simulator's delivery behavior.
type Options struct {
	// OtpDelay is how long after the request the OTP notification is
	// pushed, imitating the push-channel latency of the real backend.
	OtpDelay time.Duration
	// OtpTTL is the code's validity window.
	OtpTTL time.Duration
}

// DefaultOptions returns the simulator defaults.
func DefaultOptions() Options {
	return Options{OtpDelay: 500 * time.Millisecond, OtpTTL: 5 * time.Minute}
}

// Handler serves the bank API.
type Handler struct {
	store Store
	hub   *Hub
	opts  Options
	log   *slog.Logger
}

// NewHandler builds a Handler.
func NewHandler(store Store, hub *Hub, opts Options, log *slog.Logger) *Handler {
	if opts.OtpTTL <= 0 {
		opts.OtpTTL = 5 * time.Minute
	}
	return &Handler{store: store, hub: hub, opts: opts, log: log.With("component", "bankd")}
}

func (h *Handler) HealthCheckHandler(w http.ResponseWriter, r *http.Request) {
	respondWithJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *Handler) CreateAccountHandler(w http.ResponseWriter, r *http.Request) {
	var req struct {
		BalanceMinor int64 `json:"balance_minor"`
	}
	if r.Body != nil {
		json.NewDecoder(r.Body).Decode(&req)
	}
	acc, err := h.store.CreateAccount(r.Context(), req.BalanceMinor)
	if err != nil {
		httpRequestsTotal.WithLabelValues("POST", "/accounts", "500").Inc()
		respondWithError(w, http.StatusInternalServerError, "System error creating account")
		return
	}
	httpRequestsTotal.WithLabelValues("POST", "/accounts", "201").Inc()
	respondWithJSON(w, http.StatusCreated, models.Account{ID: acc.ID, BalanceMinor: acc.BalanceMinor})
}

func (h *Handler) GetAccountHandler(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	acc, err := h.store.GetAccount(r.Context(), id)
	if err != nil {
		httpRequestsTotal.WithLabelValues("GET", "/accounts/{id}", "404").Inc()
		respondWithError(w, http.StatusNotFound, "Account not found")
		return
	}
	httpRequestsTotal.WithLabelValues("GET", "/accounts/{id}", "200").Inc()
	respondWithJSON(w, http.StatusOK, models.Account{ID: acc.ID, BalanceMinor: acc.BalanceMinor})
}

func (h *Handler) CreateInvoiceHandler(w http.ResponseWriter, r *http.Request) {
	timer := prometheus.NewTimer(httpRequestDuration.WithLabelValues("POST", "/invoices"))
	defer timer.ObserveDuration()

	var req models.CreateInvoiceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httpRequestsTotal.WithLabelValues("POST", "/invoices", "400").Inc()
		respondWithError(w, http.StatusBadRequest, "Malformed JSON body")
		return
	}

	if req.AmountMinor <= 0 {
		httpRequestsTotal.WithLabelValues("POST", "/invoices", "422").Inc()
		respondWithError(w, http.StatusUnprocessableEntity, "Positive amount required")
		return
	}
	if len(req.CounterpartyRef) < 5 {
		httpRequestsTotal.WithLabelValues("POST", "/invoices", "422").Inc()
		respondWithError(w, http.StatusUnprocessableEntity, "Counterparty reference too short")
		return
	}
	if req.BillReference != "" && (len(req.BillReference) < 6 || len(req.BillReference) > 15) {
		httpRequestsTotal.WithLabelValues("POST", "/invoices", "422").Inc()
		respondWithError(w, http.StatusUnprocessableEntity, "Bill reference must be 6 to 15 characters")
		return
	}

	inv := Invoice{
		ID:              uuid.NewString(),
		AccountID:       req.AccountID,
		Identity:        req.Identity,
		AmountMinor:     req.AmountMinor,
		Currency:        req.Currency,
		CounterpartyRef: req.CounterpartyRef,
		BillReference:   req.BillReference,
		Status:          "pending",
		CreatedAt:       time.Now(),
	}
	if err := h.store.CreateInvoice(r.Context(), inv); err != nil {
		if errors.Is(err, ErrAccountNotFound) {
			httpRequestsTotal.WithLabelValues("POST", "/invoices", "404").Inc()
			respondWithError(w, http.StatusNotFound, "Account not found")
			return
		}
		httpRequestsTotal.WithLabelValues("POST", "/invoices", "500").Inc()
		respondWithError(w, http.StatusInternalServerError, "Internal Server Error")
		return
	}

	httpRequestsTotal.WithLabelValues("POST", "/invoices", "201").Inc()
	w.Header().Set("Location", fmt.Sprintf("/api/v1/invoices/%s", inv.ID))
	respondWithJSON(w, http.StatusCreated, models.CreateInvoiceResponse{IntentID: inv.ID})
}

// RequestOTPHandler issues a fresh code and schedules its delivery on the
// event stream. Nothing about the code is returned synchronously.
func (h *Handler) RequestOTPHandler(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	inv, err := h.store.GetInvoice(r.Context(), id)
	if err != nil {
		httpRequestsTotal.WithLabelValues("POST", "/invoices/{id}/otp", "404").Inc()
		respondWithError(w, http.StatusNotFound, "Invoice not found")
		return
	}

	code := generateOTP()
	expiresAt := time.Now().Add(h.opts.OtpTTL)
	if err := h.store.SetOTP(r.Context(), id, code, expiresAt); err != nil {
		httpRequestsTotal.WithLabelValues("POST", "/invoices/{id}/otp", "409").Inc()
		respondWithError(w, http.StatusConflict, "Invoice is not pending")
		return
	}

	// Out-of-band delivery, after a delay imitating the push channel.
	time.AfterFunc(h.opts.OtpDelay, func() {
		data := models.OtpIssuedData{
			Kind:      models.DataKindOtpIssued,
			IntentID:  id,
			OtpCode:   code,
			ExpiresAt: expiresAt,
		}
		if err := h.hub.Push(inv.Identity, "Confirmation code", "Enter the code to confirm your payment", data); err != nil {
			pushesTotal.WithLabelValues("otp_issued", "failed").Inc()
			h.log.Warn("otp push failed", "intent_id", id, "error", err)
			return
		}
		pushesTotal.WithLabelValues("otp_issued", "delivered").Inc()
	})

	httpRequestsTotal.WithLabelValues("POST", "/invoices/{id}/otp", "202").Inc()
	respondWithJSON(w, http.StatusAccepted, map[string]string{"status": "otp_requested"})
}

// PayHandler verifies the OTP and commits the invoice. The authoritative
// balance is returned synchronously and also pushed as a PaymentCommitted
// notification, so the client's dedupe guard sees both paths.
func (h *Handler) PayHandler(w http.ResponseWriter, r *http.Request) {
	timer := prometheus.NewTimer(httpRequestDuration.WithLabelValues("POST", "/invoices/{id}/pay"))
	defer timer.ObserveDuration()

	id := mux.Vars(r)["id"]
	var req models.PayRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httpRequestsTotal.WithLabelValues("POST", "/invoices/{id}/pay", "400").Inc()
		respondWithError(w, http.StatusBadRequest, "Malformed JSON body")
		return
	}

	transactionID := "T-" + uuid.NewString()
	acc, err := h.store.CommitInvoice(r.Context(), id, req.OTP, transactionID, time.Now())
	if err != nil {
		switch {
		case errors.Is(err, ErrInvoiceNotFound):
			httpRequestsTotal.WithLabelValues("POST", "/invoices/{id}/pay", "404").Inc()
			respondWithError(w, http.StatusNotFound, "Invoice not found")
		case errors.Is(err, ErrInvalidOTP):
			httpRequestsTotal.WithLabelValues("POST", "/invoices/{id}/pay", "422").Inc()
			respondWithError(w, http.StatusUnprocessableEntity, "Invalid or expired OTP")
		case errors.Is(err, ErrAlreadyCommitted):
			httpRequestsTotal.WithLabelValues("POST", "/invoices/{id}/pay", "409").Inc()
			respondWithError(w, http.StatusConflict, "Invoice already committed")
		case errors.Is(err, ErrInsufficientFunds):
			httpRequestsTotal.WithLabelValues("POST", "/invoices/{id}/pay", "422").Inc()
			respondWithError(w, http.StatusUnprocessableEntity, "Insufficient funds")
		default:
			httpRequestsTotal.WithLabelValues("POST", "/invoices/{id}/pay", "500").Inc()
			respondWithError(w, http.StatusInternalServerError, "Internal Server Error")
		}
		return
	}

	if inv, err := h.store.GetInvoice(r.Context(), id); err != nil {
		// Commit already happened; without the invoice there is no
		// identity to push to.
		pushesTotal.WithLabelValues("payment_committed", "failed").Inc()
		h.log.Warn("invoice reload after commit failed, skipping push", "invoice_id", id, "error", err)
	} else {
		data := models.PaymentCommittedData{
			Kind:            models.DataKindPaymentCommitted,
			TransactionID:   transactionID,
			AmountMinor:     inv.AmountMinor,
			CounterpartyRef: inv.CounterpartyRef,
			NewBalanceMinor: acc.BalanceMinor,
		}
		if err := h.hub.Push(inv.Identity, "Payment confirmed", "Your payment went through", data); err != nil {
			pushesTotal.WithLabelValues("payment_committed", "failed").Inc()
		} else {
			pushesTotal.WithLabelValues("payment_committed", "delivered").Inc()
		}
	}

	httpRequestsTotal.WithLabelValues("POST", "/invoices/{id}/pay", "200").Inc()
	respondWithJSON(w, http.StatusOK, models.PayResponse{
		TransactionID: transactionID,
		UpdatedAccount: models.UpdatedAccount{
			AccountID:    acc.ID,
			BalanceMinor: acc.BalanceMinor,
		},
	})
}

// generateOTP returns a 6-digit numeric code.
func generateOTP() string {
	var b [4]byte
	rand.Read(b[:])
	n := uint32(b[0])<<24 | uint32(b[1])<<16 | uint32(b[2])<<8 | uint32(b[3])
	return fmt.Sprintf("%06d", n%1000000)
}

func respondWithError(w http.ResponseWriter, code int, message string) {
	respondWithJSON(w, code, map[string]string{"error": message})
}

func respondWithJSON(w http.ResponseWriter, code int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if payload != nil {
		json.NewEncoder(w).Encode(payload)
	}
}
