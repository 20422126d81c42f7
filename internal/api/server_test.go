package api

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wolfinch/wolfinch/internal/candle"
	"github.com/wolfinch/wolfinch/internal/events"
	"github.com/wolfinch/wolfinch/internal/order"
	"github.com/wolfinch/wolfinch/internal/risk"
)

type fakeProvider struct {
	unblocked bool
	stats     risk.Stats
}

func (f *fakeProvider) MarketSummaries() []MarketSummary {
	return []MarketSummary{{Key: "paper:NIFTY-FUT", Venue: "paper", Product: "NIFTY-FUT", State: "running", Mark: 101.5}}
}

func (f *fakeProvider) MarketCandles(key string, limit int) (candle.Series, error) {
	if key != "paper:NIFTY-FUT" {
		return nil, candle.ErrStorageUnavailable
	}
	return candle.Series{{
		Time: 1700000000,
		Open: decimal.NewFromInt(100), High: decimal.NewFromInt(102),
		Low: decimal.NewFromInt(99), Close: decimal.NewFromInt(101),
		Volume: decimal.NewFromInt(10),
	}}, nil
}

func (f *fakeProvider) OpenOrders() []order.Order          { return nil }
func (f *fakeProvider) RiskStats() risk.Stats              { return f.stats }
func (f *fakeProvider) DailyTrades() []risk.TradeRecord    { return nil }
func (f *fakeProvider) Unblock()                           { f.unblocked = true }
func (f *fakeProvider) SinkHealth() []events.SinkHealth    { return []events.SinkHealth{{Name: "influxdb", Healthy: true}} }

func newTestServer(t *testing.T, secret string) (*Server, *fakeProvider) {
	t.Helper()
	if secret != "" {
		t.Setenv("TEST_ADMIN_SECRET", secret)
	}
	p := &fakeProvider{}
	s := NewServer(Config{Addr: ":0", AdminSecretEnv: "TEST_ADMIN_SECRET"}, p, NewHub())
	return s, p
}

func TestMarketsEndpoint(t *testing.T) {
	s, _ := newTestServer(t, "")
	rec := httptest.NewRecorder()
	s.server.Handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/markets", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "paper:NIFTY-FUT")
}

func TestCandlesEndpoint(t *testing.T) {
	s, _ := newTestServer(t, "")
	rec := httptest.NewRecorder()
	s.server.Handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/markets/paper:NIFTY-FUT/candles?limit=10", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "1700000000")
}

func TestCandlesStorageUnavailable(t *testing.T) {
	s, _ := newTestServer(t, "")
	rec := httptest.NewRecorder()
	s.server.Handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/markets/unknown/candles", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestCandlesBadLimit(t *testing.T) {
	s, _ := newTestServer(t, "")
	rec := httptest.NewRecorder()
	s.server.Handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/markets/paper:NIFTY-FUT/candles?limit=abc", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestUnblockRequiresToken(t *testing.T) {
	s, p := newTestServer(t, "topsecret")

	rec := httptest.NewRecorder()
	s.server.Handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/risk/unblock", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.False(t, p.unblocked)

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": "operator",
		"exp": time.Now().Add(time.Hour).Unix(),
	})
	signed, err := token.SignedString([]byte("topsecret"))
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/risk/unblock", nil)
	req.Header.Set("Authorization", "Bearer "+signed)
	rec = httptest.NewRecorder()
	s.server.Handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, p.unblocked)
}

func TestUnblockRejectsWrongSecret(t *testing.T) {
	s, p := newTestServer(t, "topsecret")

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"exp": time.Now().Add(time.Hour).Unix(),
	})
	signed, err := token.SignedString([]byte("not-the-secret"))
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/risk/unblock", nil)
	req.Header.Set("Authorization", "Bearer "+signed)
	rec := httptest.NewRecorder()
	s.server.Handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.False(t, p.unblocked)
}

func TestUnblockDisabledWithoutSecret(t *testing.T) {
	s, p := newTestServer(t, "")
	rec := httptest.NewRecorder()
	s.server.Handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/risk/unblock", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.False(t, p.unblocked)
}

func TestHealthIncludesSinks(t *testing.T) {
	s, _ := newTestServer(t, "")
	rec := httptest.NewRecorder()
	s.server.Handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "influxdb")
}
