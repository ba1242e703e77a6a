package exchange

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/adshao/go-binance/v2/common"
	"github.com/pkg/errors"
)

// Kind classifies a failed exchange request.
type Kind int

const (
	KindOther Kind = iota
	KindNetwork
	KindClockDrift
	KindRateLimited
	KindMalformed
	KindFilterViolation
	KindInsufficientFunds
)

var (
	ErrNetwork           = errors.New("network failure")
	ErrClockDrift        = errors.New("timestamp outside recv window")
	ErrRateLimited       = errors.New("rate limited")
	ErrMalformed         = errors.New("malformed request")
	ErrFilterViolation   = errors.New("filter violation")
	ErrInsufficientFunds = errors.New("insufficient funds")
	ErrRejected          = errors.New("request rejected")

	ErrNoCredentials = errors.New("api credentials are not configured")
	ErrNoData        = errors.New("no data")
	ErrUnknownSymbol = errors.New("unknown symbol")
)

const maxBodyInError = 600

func (k Kind) String() string {
	switch k {
	case KindNetwork:
		return "network"
	case KindClockDrift:
		return "clock_drift"
	case KindRateLimited:
		return "rate_limited"
	case KindMalformed:
		return "malformed"
	case KindFilterViolation:
		return "filter_violation"
	case KindInsufficientFunds:
		return "insufficient_funds"
	default:
		return "other"
	}
}

func (k Kind) sentinel() error {
	switch k {
	case KindNetwork:
		return ErrNetwork
	case KindClockDrift:
		return ErrClockDrift
	case KindRateLimited:
		return ErrRateLimited
	case KindMalformed:
		return ErrMalformed
	case KindFilterViolation:
		return ErrFilterViolation
	case KindInsufficientFunds:
		return ErrInsufficientFunds
	default:
		return ErrRejected
	}
}

// RequestError is a classified exchange failure. errors.Is matches it
// against the sentinel of its Kind.
type RequestError struct {
	Kind   Kind
	Path   string
	Status int
	Code   int64
	Msg    string
	Hint   string
	Err    error
}

func (e *RequestError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s %s", e.Path, e.Kind.sentinel())
	if e.Status != 0 || e.Code != 0 {
		fmt.Fprintf(&b, " (status %d, code %d)", e.Status, e.Code)
	}
	if e.Msg != "" {
		fmt.Fprintf(&b, ": %s", e.Msg)
	} else if e.Err != nil {
		fmt.Fprintf(&b, ": %v", e.Err)
	}
	if e.Hint != "" {
		fmt.Fprintf(&b, " [%s]", e.Hint)
	}
	return b.String()
}

func (e *RequestError) Unwrap() error { return e.Err }

func (e *RequestError) Is(target error) bool {
	return target == e.Kind.sentinel()
}

// KindOf returns the kind of the first RequestError in err's chain.
func KindOf(err error) Kind {
	var re *RequestError
	if errors.As(err, &re) {
		return re.Kind
	}
	return KindOther
}

// IsTransient reports whether retrying the whole operation later may succeed.
func IsTransient(err error) bool {
	switch KindOf(err) {
	case KindNetwork, KindRateLimited:
		return true
	}
	return false
}

// NewFilterViolation wraps a sizing rejection detected before submission.
func NewFilterViolation(path string, err error) error {
	return &RequestError{
		Kind: KindFilterViolation,
		Path: path,
		Msg:  err.Error(),
		Hint: "rejected before submission",
		Err:  err,
	}
}

// classify maps an exchange error response onto the taxonomy.
func classify(path string, status int, code int64, msg string, body []byte) *RequestError {
	re := &RequestError{Path: path, Status: status, Code: code, Msg: msg}
	lower := strings.ToLower(msg)

	switch {
	case status == http.StatusTooManyRequests || status == http.StatusTeapot || code == -1003 || code == -1015:
		re.Kind = KindRateLimited
		re.Hint = "rate limited, back off"
	case code == -1021 || strings.Contains(lower, "recvwindow") || strings.Contains(lower, "timestamp for this request"):
		re.Kind = KindClockDrift
	case strings.Contains(lower, "insufficient balance"):
		re.Kind = KindInsufficientFunds
	case filterHint(lower) != "" || code == -1013:
		re.Kind = KindFilterViolation
		re.Hint = filterHint(lower)
	case status >= 400 && status < 500:
		re.Kind = KindMalformed
	default:
		re.Kind = KindOther
		if len(body) > 0 {
			re.Msg = truncate(string(body), maxBodyInError)
		}
	}
	return re
}

func filterHint(lowerMsg string) string {
	switch {
	case strings.Contains(lowerMsg, "notional"):
		return "notional too small"
	case strings.Contains(lowerMsg, "lot_size"):
		return "quantity step invalid"
	case strings.Contains(lowerMsg, "price_filter"):
		return "price step invalid"
	case strings.Contains(lowerMsg, "precision"):
		return "adjust decimals"
	}
	return ""
}

// classifyAPIError converts an error returned by a go-binance service. The
// HTTP status is not kept by go-binance; codes from -1100 down are request
// errors and classify as a 400.
func classifyAPIError(path string, err error) *RequestError {
	var apiErr *common.APIError
	if errors.As(err, &apiErr) {
		status := 0
		if apiErr.Code <= -1100 {
			status = http.StatusBadRequest
		}
		re := classify(path, status, apiErr.Code, apiErr.Message, apiErr.Response)
		re.Err = err
		return re
	}
	return &RequestError{Kind: KindNetwork, Path: path, Err: err}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
