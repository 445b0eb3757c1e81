package service

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"ride-dispatch/internal/general/contracts"
)

// HandleControlMessage applies a runtime settings change arriving on the
// dispatch control queue. Unknown or zero fields keep their current values.
func (s *Service) HandleControlMessage(ctx context.Context, body []byte) error {
	var msg contracts.ConfigControlMessage
	if err := json.Unmarshal(body, &msg); err != nil {
		return fmt.Errorf("decode control message: %w", err)
	}

	next := *s.Config()

	if msg.InitialRadiusKm > 0 {
		next.InitialRadiusKm = msg.InitialRadiusKm
	}
	if msg.MaxRadiusKm > 0 {
		next.MaxRadiusKm = msg.MaxRadiusKm
	}
	if msg.RadiusIncrementKm > 0 {
		next.RadiusIncrementKm = msg.RadiusIncrementKm
	}
	if msg.NotificationTimeoutSec > 0 {
		next.NotificationTimeout = time.Duration(msg.NotificationTimeoutSec) * time.Second
	}
	if msg.MaxDispatchTimeSec > 0 {
		next.MaxDispatchTime = time.Duration(msg.MaxDispatchTimeSec) * time.Second
	}
	if msg.GraceAfterMaxRadiusSec > 0 {
		next.GraceAfterMaxRadius = time.Duration(msg.GraceAfterMaxRadiusSec) * time.Second
	}
	if msg.MaxQueueLength > 0 {
		next.MaxQueueLength = msg.MaxQueueLength
	}
	if msg.CommissionRate > 0 {
		next.CommissionRate = msg.CommissionRate
	}
	if msg.MainVaultDeductionRate > 0 {
		next.MainVaultDeductionRate = msg.MainVaultDeductionRate
	}

	if err := s.ApplyConfig(ctx, &next); err != nil {
		return err
	}
	return s.PersistConfig(ctx)
}
