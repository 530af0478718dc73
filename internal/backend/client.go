// Package backend is the HTTP client for the bank API: invoice creation,
// OTP issuance and commit. The OTP itself never travels on these calls; it
// arrives out of band on the event stream.
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/selhaddad/paystream/internal/models"
)

// ServerError is a rejection from the bank API, surfaced verbatim to the
// user.
type ServerError struct {
	StatusCode int
	Message    string
}

func (e *ServerError) Error() string {
	return fmt.Sprintf("server rejected request (%d): %s", e.StatusCode, e.Message)
}

// Client calls the bank API on behalf of one account/identity pair.
type Client struct {
	baseURL   string
	accountID string
	identity  string
	http      *http.Client
	log       *slog.Logger
}

// NewClient builds a Client. identity must already be in canonical form.
func NewClient(baseURL, accountID, identity string, log *slog.Logger) *Client {
	return &Client{
		baseURL:   baseURL,
		accountID: accountID,
		identity:  identity,
		http:      &http.Client{Timeout: 15 * time.Second},
		log:       log.With("component", "backend"),
	}
}

// CreateInvoice registers a money-movement draft and returns the
// server-assigned intent id.
func (c *Client) CreateInvoice(ctx context.Context, amountMinor int64, currency, counterpartyRef, billReference string) (string, error) {
	req := models.CreateInvoiceRequest{
		AccountID:       c.accountID,
		Identity:        c.identity,
		AmountMinor:     amountMinor,
		Currency:        currency,
		CounterpartyRef: counterpartyRef,
		BillReference:   billReference,
	}
	var resp models.CreateInvoiceResponse
	if err := c.post(ctx, "/api/v1/invoices", req, &resp); err != nil {
		return "", err
	}
	return resp.IntentID, nil
}

// RequestOTP asks the server to issue an OTP for the intent. The code is
// delivered on the event stream, not returned here. Re-requesting
// invalidates any previously issued code.
func (c *Client) RequestOTP(ctx context.Context, intentID string) error {
	path := "/api/v1/invoices/" + url.PathEscape(intentID) + "/otp"
	return c.post(ctx, path, nil, nil)
}

// Pay submits the OTP and returns the committed transaction with the
// authoritative post-commit balance.
func (c *Client) Pay(ctx context.Context, intentID, otp string) (models.PayResponse, error) {
	path := "/api/v1/invoices/" + url.PathEscape(intentID) + "/pay"
	var resp models.PayResponse
	if err := c.post(ctx, path, models.PayRequest{OTP: otp}, &resp); err != nil {
		return models.PayResponse{}, err
	}
	return resp, nil
}

// GetAccount fetches the server-side account view, used to reconcile the
// dashboard after a fresh start.
func (c *Client) GetAccount(ctx context.Context) (models.Account, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		c.baseURL+"/api/v1/accounts/"+url.PathEscape(c.accountID), nil)
	if err != nil {
		return models.Account{}, fmt.Errorf("building request: %w", err)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return models.Account{}, fmt.Errorf("fetching account: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return models.Account{}, &ServerError{StatusCode: resp.StatusCode, Message: decodeError(resp.Body)}
	}
	var acc models.Account
	if err := json.NewDecoder(resp.Body).Decode(&acc); err != nil {
		return models.Account{}, fmt.Errorf("decoding account: %w", err)
	}
	return acc, nil
}

func (c *Client) post(ctx context.Context, path string, payload, out any) error {
	var body io.Reader
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("encoding request: %w", err)
		}
		body = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("building request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("calling %s: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return &ServerError{StatusCode: resp.StatusCode, Message: decodeError(resp.Body)}
	}
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("decoding %s response: %w", path, err)
		}
	}
	return nil
}

func decodeError(r io.Reader) string {
	var payload struct {
		Error string `json:"error"`
	}
	if err := json.NewDecoder(r).Decode(&payload); err != nil || payload.Error == "" {
		return "unexpected server error"
	}
	return payload.Error
}
