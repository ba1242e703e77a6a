package exchange

import (
	"net/http"
	"strings"
	"testing"

	"github.com/adshao/go-binance/v2/common"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name     string
		status   int
		code     int64
		msg      string
		wantKind Kind
		wantErr  error
		wantHint string
	}{
		{"429", http.StatusTooManyRequests, 0, "", KindRateLimited, ErrRateLimited, "rate limited, back off"},
		{"418 ban", http.StatusTeapot, 0, "", KindRateLimited, ErrRateLimited, "rate limited, back off"},
		{"weight code", http.StatusBadRequest, -1003, "Too much request weight used", KindRateLimited, ErrRateLimited, "rate limited, back off"},
		{"clock drift code", http.StatusBadRequest, -1021, "Timestamp for this request is outside of the recvWindow.", KindClockDrift, ErrClockDrift, ""},
		{"insufficient", http.StatusBadRequest, -2010, "Account has insufficient balance for requested action.", KindInsufficientFunds, ErrInsufficientFunds, ""},
		{"notional", http.StatusBadRequest, -1013, "Filter failure: NOTIONAL", KindFilterViolation, ErrFilterViolation, "notional too small"},
		{"lot size", http.StatusBadRequest, -1013, "Filter failure: LOT_SIZE", KindFilterViolation, ErrFilterViolation, "quantity step invalid"},
		{"price filter", http.StatusBadRequest, -1013, "Filter failure: PRICE_FILTER", KindFilterViolation, ErrFilterViolation, "price step invalid"},
		{"precision", http.StatusBadRequest, -1111, "Precision is over the maximum defined for this asset.", KindFilterViolation, ErrFilterViolation, "adjust decimals"},
		{"malformed", http.StatusBadRequest, -1102, "Mandatory parameter 'quantity' was not sent.", KindMalformed, ErrMalformed, ""},
		{"server error", http.StatusInternalServerError, 0, "", KindOther, ErrRejected, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			re := classify("POST /api/v3/order", tt.status, tt.code, tt.msg, nil)
			assert.Equal(t, tt.wantKind, re.Kind)
			assert.Equal(t, tt.wantHint, re.Hint)
			assert.True(t, errors.Is(re, tt.wantErr))
		})
	}
}

func TestClassify_TruncatesUnknownBody(t *testing.T) {
	body := []byte(strings.Repeat("x", 2000))
	re := classify("GET /api/v3/account", http.StatusBadGateway, 0, "", body)
	assert.Equal(t, KindOther, re.Kind)
	assert.Len(t, re.Msg, maxBodyInError+3)
}

func TestClassifyAPIError(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		wantKind Kind
		wantCode int64
	}{
		{"weight", &common.APIError{Code: -1003, Message: "Too many requests"}, KindRateLimited, -1003},
		{"drift", &common.APIError{Code: -1021, Message: "Timestamp for this request was 1000ms ahead of the server's time."}, KindClockDrift, -1021},
		{"bad param", &common.APIError{Code: -1102, Message: "Mandatory parameter 'quantity' was not sent."}, KindMalformed, -1102},
		{"unknown order", &common.APIError{Code: -2011, Message: "Unknown order sent."}, KindMalformed, -2011},
		{"insufficient", &common.APIError{Code: -2010, Message: "Account has insufficient balance for requested action."}, KindInsufficientFunds, -2010},
		{"server", &common.APIError{Code: -1001, Message: "Internal error; unable to process your request."}, KindOther, -1001},
		{"transport", errors.New("dial tcp: connection refused"), KindNetwork, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			re := classifyAPIError("GET /api/v3/account", tt.err)
			assert.Equal(t, tt.wantKind, re.Kind)
			assert.Equal(t, tt.wantCode, re.Code)
			assert.Equal(t, tt.err, re.Err)
		})
	}
}

func TestIsTransient(t *testing.T) {
	assert.True(t, IsTransient(errors.Wrap(&RequestError{Kind: KindRateLimited}, "ctx")))
	assert.True(t, IsTransient(&RequestError{Kind: KindNetwork}))
	assert.False(t, IsTransient(&RequestError{Kind: KindFilterViolation}))
	assert.False(t, IsTransient(errors.New("plain")))
}
