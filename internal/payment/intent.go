package payment

// State is the lifecycle state of a payment intent. Intents only move
// forward through the ordered states; Failed is terminal from any
// non-committed state.
type State string

const (
	StateDraft          State = "draft"
	StateInvoiceCreated State = "invoice_created"
	StateOtpRequested   State = "otp_requested"
	StateOtpReceived    State = "otp_received"
	StateOtpSubmitted   State = "otp_submitted"
	StateCommitted      State = "committed"
	StateFailed         State = "failed"
)

// Rank orders the forward progression; Failed has no rank.
func (s State) Rank() int {
	switch s {
	case StateDraft:
		return 0
	case StateInvoiceCreated:
		return 1
	case StateOtpRequested:
		return 2
	case StateOtpReceived:
		return 3
	case StateOtpSubmitted:
		return 4
	case StateCommitted:
		return 5
	default:
		return -1
	}
}

// Terminal reports whether no further transitions are possible.
func (s State) Terminal() bool {
	return s == StateCommitted || s == StateFailed
}

// Request is a user-confirmed instruction to move money. Amount is the
// decimal string exactly as entered ("150.00"); BillReference is set for
// bill payments only.
type Request struct {
	Amount          string
	Currency        string
	CounterpartyRef string
	BillReference   string
}

// Intent is one tracked money-movement attempt, from confirmation to
// commit or failure. Snapshots of it are streamed to the caller on every
// transition.
type Intent struct {
	ID              string
	State           State
	AmountMinor     int64
	Currency        string
	CounterpartyRef string
	BillReference   string
	TransactionID   string
	FailureReason   string

	// otp holds the received code between delivery and submission. It is
	// unexported so snapshots handed to the UI never carry it, and it is
	// cleared as soon as the commit call returns.
	otp string
}
