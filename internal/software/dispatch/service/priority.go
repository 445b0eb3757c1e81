package service

import (
	"time"

	"ride-dispatch/internal/general/contracts"
)

// queuedOffer is one parked ride offer awaiting its captain.
type queuedOffer struct {
	TripID   string
	QueuedAt time.Time
	Offer    contracts.RideOffer
}

// priorityOf ranks a queued offer at pop time. Higher fare raises the score,
// distance lowers it, and waiting time raises it so old offers cannot starve.
// The exact weights are tunable; only monotonicity in fare matters.
func priorityOf(q queuedOffer, now time.Time) float64 {
	score := float64(q.Offer.Fare)
	score -= q.Offer.Distance * 100
	score += now.Sub(q.QueuedAt).Seconds() * 10
	return score
}

// popBest removes and returns the highest-priority offer. Ties keep insertion
// order because the scan takes the first maximum.
func popBest(queue []queuedOffer, now time.Time) (queuedOffer, []queuedOffer) {
	best := 0
	bestScore := priorityOf(queue[0], now)
	for i := 1; i < len(queue); i++ {
		if s := priorityOf(queue[i], now); s > bestScore {
			best, bestScore = i, s
		}
	}
	picked := queue[best]
	return picked, append(queue[:best], queue[best+1:]...)
}
