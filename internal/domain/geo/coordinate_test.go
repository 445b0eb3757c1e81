package geo

import (
	"math"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestValidCoordinates(t *testing.T) {
	require.True(t, ValidCoordinates(0, 0))
	require.True(t, ValidCoordinates(90, 180))
	require.True(t, ValidCoordinates(-90, -180))
	require.True(t, ValidCoordinates(33.3152, 44.3661))

	require.False(t, ValidCoordinates(90.0001, 0))
	require.False(t, ValidCoordinates(-91, 0))
	require.False(t, ValidCoordinates(0, 180.5))
	require.False(t, ValidCoordinates(math.NaN(), 44))
	require.False(t, ValidCoordinates(33, math.NaN()))
}

func TestNewPoint(t *testing.T) {
	p, err := NewPoint(33.3152, 44.3661, "  Karrada ")
	require.NoError(t, err)
	require.Equal(t, "Karrada", p.Name)
	require.True(t, p.Valid())

	_, err = NewPoint(120, 44, "bad")
	require.ErrorIs(t, err, ErrInvalidCoordinates)
}

func TestHaversineKM(t *testing.T) {
	// same point
	require.Zero(t, HaversineKM(33.3, 44.4, 33.3, 44.4))

	// one degree of latitude is roughly 111 km
	d := HaversineKM(33, 44, 34, 44)
	require.InDelta(t, 111.2, d, 0.5)

	// symmetric
	require.InDelta(t, HaversineKM(33.31, 44.36, 33.34, 44.40), HaversineKM(33.34, 44.40, 33.31, 44.36), 1e-9)
}

func TestEstimateDurationSec(t *testing.T) {
	// floor of one minute for short hops
	require.Equal(t, 60, EstimateDurationSec(0))
	require.Equal(t, 60, EstimateDurationSec(0.1))
	require.Equal(t, 60, EstimateDurationSec(-3))

	// 21 km at 21 km/h is exactly an hour
	require.Equal(t, 3600, EstimateDurationSec(21))

	// monotone in distance
	require.Greater(t, EstimateDurationSec(10), EstimateDurationSec(5))
}
