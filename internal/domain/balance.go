package domain

import "github.com/shopspring/decimal"

// Balance of a single asset.
type Balance struct {
	Asset  string          `json:"asset"`
	Free   decimal.Decimal `json:"free"`
	Locked decimal.Decimal `json:"locked"`
}

// Total returns free plus locked.
func (b Balance) Total() decimal.Decimal {
	return b.Free.Add(b.Locked)
}

// EnvSnapshot describes the environment the engine is connected to.
type EnvSnapshot struct {
	Venue       Venue     `json:"venue"`
	PublicHost  string    `json:"public_host"`
	PrivateHost string    `json:"private_host"`
	KeysLoaded  bool      `json:"keys_loaded"`
	ReadOnly    bool      `json:"read_only"`
	Balances    []Balance `json:"balances"`
}
