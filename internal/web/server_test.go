package web

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	json "github.com/goccy/go-json"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"golang.org/x/crypto/acme/autocert"

	"github.com/vadiminshakov/torra/internal"
	"github.com/vadiminshakov/torra/internal/domain"
)

type stubCore struct {
	lastN    int
	rankErr  error
	enterErr error
}

func (s *stubCore) BuildRanking(_ context.Context, n int) ([]domain.RankingRow, error) {
	s.lastN = n
	if s.rankErr != nil {
		return nil, s.rankErr
	}
	return []domain.RankingRow{
		{Symbol: "SOLUSDT", Return: decimal.NewNullDecimal(decimal.RequireFromString("-0.05"))},
		{Symbol: "XRPUSDT"},
	}, nil
}

func (s *stubCore) Decide(context.Context) (domain.Decision, error) {
	return domain.Decision{Kind: domain.DecisionCandidateFound, Symbol: "SOLUSDT", Note: "Candidate: SOLUSDT (3h -5.00%)."}, nil
}

func (s *stubCore) TryEnter(context.Context) (internal.EnterOutcome, error) {
	return internal.EnterOutcome{Symbol: "SOLUSDT", Note: "Entry failed: no funds."}, s.enterErr
}

func (s *stubCore) Equity(context.Context) (decimal.Decimal, error) {
	return decimal.RequireFromString("1234.5"), nil
}

func (s *stubCore) Status(context.Context) internal.Status {
	return internal.Status{Quote: "USDT", LastCycleAt: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func serve(t *testing.T, c core, method, target string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	NewServer("", c, zap.NewNop()).Handler().ServeHTTP(rec, httptest.NewRequest(method, target, nil))
	return rec
}

func TestServer_Ranking(t *testing.T) {
	c := &stubCore{}
	rec := serve(t, c, http.MethodGet, "/ranking?n=20")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 20, c.lastN)

	var rows []domain.RankingRow
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &rows))
	require.Len(t, rows, 2)
	assert.Equal(t, "SOLUSDT", rows[0].Symbol)
	assert.True(t, rows[0].HasReturn())
	assert.False(t, rows[1].HasReturn())
}

func TestServer_RankingErrors(t *testing.T) {
	assert.Equal(t, http.StatusBadRequest, serve(t, &stubCore{}, http.MethodGet, "/ranking?n=abc").Code)
	assert.Equal(t, http.StatusBadRequest, serve(t, &stubCore{}, http.MethodGet, "/ranking?n=0").Code)

	rec := serve(t, &stubCore{rankErr: errors.New("exchange down")}, http.MethodGet, "/ranking")
	assert.Equal(t, http.StatusBadGateway, rec.Code)
	assert.Contains(t, rec.Body.String(), "exchange down")
}

func TestServer_Enter(t *testing.T) {
	rec := serve(t, &stubCore{}, http.MethodPost, "/enter")
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = serve(t, &stubCore{enterErr: errors.New("no quote balance available")}, http.MethodPost, "/enter")
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Contains(t, rec.Body.String(), `"note":"Entry failed: no funds."`)
	assert.Contains(t, rec.Body.String(), `"error":"no quote balance available"`)

	assert.Equal(t, http.StatusMethodNotAllowed, serve(t, &stubCore{}, http.MethodGet, "/enter").Code)
}

func TestServer_ReadEndpoints(t *testing.T) {
	rec := serve(t, &stubCore{}, http.MethodGet, "/decision")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"kind":"candidate_found"`)

	rec = serve(t, &stubCore{}, http.MethodGet, "/equity")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "1234.5")

	rec = serve(t, &stubCore{}, http.MethodGet, "/status")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"quote":"USDT"`)

	assert.Equal(t, http.StatusOK, serve(t, &stubCore{}, http.MethodGet, "/healthz").Code)

	rec = serve(t, &stubCore{}, http.MethodGet, "/metrics")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, strings.Contains(rec.Body.String(), "go_goroutines"))
}

func TestServer_StatusStream(t *testing.T) {
	srv := httptest.NewServer(NewServer("", &stubCore{}, zap.NewNop()).Handler())
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/status/stream", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))
	buf := make([]byte, 256)
	n, err := resp.Body.Read(buf)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(string(buf[:n]), "event: status\n"))
}

func TestCertManager(t *testing.T) {
	_, err := newCertManager(nil, "")
	assert.Error(t, err)

	m, err := newCertManager([]string{"bot.example.com"}, "")
	require.NoError(t, err)
	assert.Equal(t, autocert.DirCache(defaultCertCache), m.Cache)
	assert.NoError(t, m.HostPolicy(context.Background(), "bot.example.com"))
	assert.Error(t, m.HostPolicy(context.Background(), "other.example.com"))

	m, err = newCertManager([]string{"bot.example.com"}, t.TempDir())
	require.NoError(t, err)
	assert.NotEqual(t, autocert.DirCache(defaultCertCache), m.Cache)
}

func TestStartWithAutoTLS_NoDomains(t *testing.T) {
	srv := NewServer("127.0.0.1:0", &stubCore{}, zap.NewNop())
	assert.Error(t, srv.StartWithAutoTLS(context.Background(), nil, ""))
}
