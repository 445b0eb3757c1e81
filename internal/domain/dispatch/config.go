package dispatch

import (
	"errors"
	"time"
)

var ErrConfigInvalid = errors.New("dispatch config invalid")

// Config is the single process-wide dispatch tuning record. It is loaded from
// the ride_settings row named "default", clamped once, and swapped atomically
// at runtime when settings change.
type Config struct {
	InitialRadiusKm   float64 `json:"initial_radius_km"`
	MaxRadiusKm       float64 `json:"max_radius_km"`
	RadiusIncrementKm float64 `json:"radius_increment_km"`

	NotificationTimeout time.Duration `json:"notification_timeout"`
	MaxDispatchTime     time.Duration `json:"max_dispatch_time"`
	GraceAfterMaxRadius time.Duration `json:"grace_after_max_radius"`

	MaxQueueLength         int           `json:"max_queue_length"`
	QueueProcessingDelay   time.Duration `json:"queue_processing_delay"`
	QueueTimeoutMultiplier float64       `json:"queue_timeout_multiplier"`

	MinRating        float64 `json:"min_rating"`
	MinWalletBalance int64   `json:"min_wallet_balance"`
	MaxActiveRides   int     `json:"max_active_rides"`

	MainVaultDeductionRate float64 `json:"main_vault_deduction_rate"`
	CommissionRate         float64 `json:"commission_rate"`

	BaseFare     int64 `json:"base_fare"`
	PricePerKm   int64 `json:"price_per_km"`
	MinRidePrice int64 `json:"min_ride_price"`
	MaxRidePrice int64 `json:"max_ride_price"`

	LocationExpiry      time.Duration `json:"location_expiry"`
	MaxTrackingSessions int           `json:"max_tracking_sessions"`
}

// Defaults returns the documented default configuration.
func Defaults() *Config {
	return &Config{
		InitialRadiusKm:   2,
		MaxRadiusKm:       10,
		RadiusIncrementKm: 1,

		NotificationTimeout: 15 * time.Second,
		MaxDispatchTime:     300 * time.Second,
		GraceAfterMaxRadius: 30 * time.Second,

		MaxQueueLength:         10,
		QueueProcessingDelay:   2000 * time.Millisecond,
		QueueTimeoutMultiplier: 1.5,

		MinRating:        3.5,
		MinWalletBalance: 0,
		MaxActiveRides:   1,

		MainVaultDeductionRate: 0.20,
		CommissionRate:         0.15,

		BaseFare:     1000,
		PricePerKm:   500,
		MinRidePrice: 1000,
		MaxRidePrice: 100000,

		LocationExpiry:      60 * time.Second,
		MaxTrackingSessions: 10,
	}
}

// Normalize clamps every tunable to its documented range. Zero values fall
// back to defaults so a partial settings row still yields a usable config.
func (c *Config) Normalize() {
	def := Defaults()

	if c.InitialRadiusKm == 0 {
		c.InitialRadiusKm = def.InitialRadiusKm
	}
	c.InitialRadiusKm = clampF(c.InitialRadiusKm, 0.5, 5)

	if c.MaxRadiusKm == 0 {
		c.MaxRadiusKm = def.MaxRadiusKm
	}
	c.MaxRadiusKm = clampF(c.MaxRadiusKm, c.InitialRadiusKm, 50)

	if c.RadiusIncrementKm <= 0 {
		c.RadiusIncrementKm = def.RadiusIncrementKm
	}

	if c.NotificationTimeout == 0 {
		c.NotificationTimeout = def.NotificationTimeout
	}
	c.NotificationTimeout = clampD(c.NotificationTimeout, 5*time.Second, 60*time.Second)

	if c.MaxDispatchTime == 0 {
		c.MaxDispatchTime = def.MaxDispatchTime
	}
	c.MaxDispatchTime = clampD(c.MaxDispatchTime, 60*time.Second, 1800*time.Second)

	if c.GraceAfterMaxRadius < 0 {
		c.GraceAfterMaxRadius = 0
	}

	if c.MaxQueueLength == 0 {
		c.MaxQueueLength = def.MaxQueueLength
	}
	c.MaxQueueLength = clampI(c.MaxQueueLength, 1, 20)

	if c.QueueProcessingDelay == 0 {
		c.QueueProcessingDelay = def.QueueProcessingDelay
	}
	c.QueueProcessingDelay = clampD(c.QueueProcessingDelay, 1000*time.Millisecond, 10000*time.Millisecond)

	if c.QueueTimeoutMultiplier == 0 {
		c.QueueTimeoutMultiplier = def.QueueTimeoutMultiplier
	}
	c.QueueTimeoutMultiplier = clampF(c.QueueTimeoutMultiplier, 1, 2)

	if c.MinRating == 0 {
		c.MinRating = def.MinRating
	}
	if c.MaxActiveRides == 0 {
		c.MaxActiveRides = def.MaxActiveRides
	}
	if c.MainVaultDeductionRate == 0 {
		c.MainVaultDeductionRate = def.MainVaultDeductionRate
	}
	if c.CommissionRate == 0 {
		c.CommissionRate = def.CommissionRate
	}
	if c.BaseFare == 0 {
		c.BaseFare = def.BaseFare
	}
	if c.PricePerKm == 0 {
		c.PricePerKm = def.PricePerKm
	}
	if c.MinRidePrice == 0 {
		c.MinRidePrice = def.MinRidePrice
	}
	if c.MaxRidePrice == 0 {
		c.MaxRidePrice = def.MaxRidePrice
	}
	if c.LocationExpiry == 0 {
		c.LocationExpiry = def.LocationExpiry
	}
	if c.MaxTrackingSessions == 0 {
		c.MaxTrackingSessions = def.MaxTrackingSessions
	}
}

// Validate rejects structurally impossible configurations. Ranges are handled
// by Normalize; this fails closed on combinations clamping cannot repair.
func (c *Config) Validate() error {
	if c.MaxRadiusKm < c.InitialRadiusKm {
		return ErrConfigInvalid
	}
	if c.RadiusIncrementKm <= 0 {
		return ErrConfigInvalid
	}
	if c.MainVaultDeductionRate < 0 || c.MainVaultDeductionRate >= 1 {
		return ErrConfigInvalid
	}
	if c.CommissionRate < 0 || c.CommissionRate >= 1 {
		return ErrConfigInvalid
	}
	if c.MinRidePrice > c.MaxRidePrice {
		return ErrConfigInvalid
	}
	return nil
}

// MaxExpansions is the upper bound on WAITING phases for one trip:
// ceil((max - initial)/increment) + 1.
func (c *Config) MaxExpansions() int {
	n := 1
	for r := c.InitialRadiusKm; r+c.RadiusIncrementKm <= c.MaxRadiusKm; r += c.RadiusIncrementKm {
		n++
	}
	return n
}

// ClampFare applies the min/max ride price bounds.
func (c *Config) ClampFare(amount int64) int64 {
	if amount < c.MinRidePrice {
		return c.MinRidePrice
	}
	if amount > c.MaxRidePrice {
		return c.MaxRidePrice
	}
	return amount
}

func clampF(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func clampI(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func clampD(v, lo, hi time.Duration) time.Duration {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
