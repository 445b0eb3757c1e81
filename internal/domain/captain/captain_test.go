package captain

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func baseCaptain() *Captain {
	return &Captain{
		ID:            "cap-1",
		Rating:        4.6,
		WalletBalance: 5000,
		IsActive:      true,
		IsVerified:    true,
	}
}

func baseReq() Requirements {
	return Requirements{MinRating: 3.5, MinWalletBalance: 0, MaxActiveRides: 1}
}

func TestEligible(t *testing.T) {
	ok, reason := baseCaptain().Eligible(baseReq(), 0)
	require.True(t, ok)
	require.Empty(t, reason)
}

func TestEligibleReasons(t *testing.T) {
	c := baseCaptain()
	c.IsActive = false
	_, reason := c.Eligible(baseReq(), 0)
	require.Equal(t, ReasonInactive, reason)

	c = baseCaptain()
	c.IsVerified = false
	_, reason = c.Eligible(baseReq(), 0)
	require.Equal(t, ReasonUnverified, reason)

	c = baseCaptain()
	c.Rating = 3.4
	_, reason = c.Eligible(baseReq(), 0)
	require.Equal(t, ReasonLowRating, reason)

	c = baseCaptain()
	c.WalletBalance = -100
	_, reason = c.Eligible(baseReq(), 0)
	require.Equal(t, ReasonLowBalance, reason)

	ok, reason := baseCaptain().Eligible(baseReq(), 1)
	require.False(t, ok)
	require.Equal(t, ReasonTooManyRides, reason)
}

func TestEligibleBoundaries(t *testing.T) {
	c := baseCaptain()
	c.Rating = 3.5
	ok, _ := c.Eligible(baseReq(), 0)
	require.True(t, ok)

	c.WalletBalance = 0
	ok, _ = c.Eligible(baseReq(), 0)
	require.True(t, ok)
}
