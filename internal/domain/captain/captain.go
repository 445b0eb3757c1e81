package captain

import (
	"errors"
	"time"
)

var (
	ErrNotFound    = errors.New("captain not found")
	ErrNotEligible = errors.New("not_eligible")
)

// Captain is the service-provider profile consulted for dispatch eligibility.
type Captain struct {
	ID            string
	Rating        float64
	WalletBalance int64 // minor units, mirrored from the captain's financial account
	IsActive      bool
	IsVerified    bool
	LastActiveAt  time.Time
}

// Requirements are the thresholds a captain must clear to be offered a trip.
type Requirements struct {
	MinRating        float64
	MinWalletBalance int64
	MaxActiveRides   int
}

// Ineligibility reasons, reported back to callers and logs.
const (
	ReasonInactive        = "inactive"
	ReasonUnverified      = "unverified"
	ReasonLowRating       = "low_rating"
	ReasonLowBalance      = "insufficient_balance"
	ReasonTooManyRides    = "max_active_rides"
)

// Eligible checks the captain against the requirements given their current
// number of active rides. The empty string means eligible.
func (c *Captain) Eligible(req Requirements, activeRides int) (bool, string) {
	if !c.IsActive {
		return false, ReasonInactive
	}
	if !c.IsVerified {
		return false, ReasonUnverified
	}
	if c.Rating < req.MinRating {
		return false, ReasonLowRating
	}
	if c.WalletBalance < req.MinWalletBalance {
		return false, ReasonLowBalance
	}
	if activeRides >= req.MaxActiveRides {
		return false, ReasonTooManyRides
	}
	return true, ""
}
