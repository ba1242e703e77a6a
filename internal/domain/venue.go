package domain

// Venue selects which exchange environment orders go to.
type Venue string

const (
	VenueProduction Venue = "production"
	VenueSandbox    Venue = "sandbox"
	VenuePaper      Venue = "paper"
)

// Valid reports whether v is a known venue.
func (v Venue) Valid() bool {
	switch v {
	case VenueProduction, VenueSandbox, VenuePaper:
		return true
	}
	return false
}

// IsSandbox reports whether v is the exchange test network, whose listing
// carries symbols that cannot be traded there.
func (v Venue) IsSandbox() bool {
	return v == VenueSandbox
}
