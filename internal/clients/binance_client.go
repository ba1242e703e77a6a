package clients

import (
	"net/http"
	"time"

	"github.com/adshao/go-binance/v2"

	"github.com/vadiminshakov/torra/internal/domain"
)

const (
	ProductionBaseURL = "https://api.binance.com"
	SandboxBaseURL    = "https://testnet.binance.vision"

	HTTPTimeout = 15 * time.Second
)

// NewBinanceClient returns a spot client for venue. The paper venue reads
// production public data and carries no keys.
func NewBinanceClient(venue domain.Venue, apiKey, apiSecret string) *binance.Client {
	var client *binance.Client
	switch venue {
	case domain.VenueSandbox:
		client = binance.NewClient(apiKey, apiSecret)
		client.BaseURL = SandboxBaseURL
	case domain.VenuePaper:
		client = binance.NewClient("", "")
		client.BaseURL = ProductionBaseURL
	default:
		client = binance.NewClient(apiKey, apiSecret)
		client.BaseURL = ProductionBaseURL
	}
	client.HTTPClient = &http.Client{Timeout: HTTPTimeout}
	return client
}
