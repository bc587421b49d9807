package payment

import (
	"context"
	"time"

	"github.com/google/uuid"
)

type ChargeRequest struct {
	BookingID      string
	Method         string
	Amount         int64
	CardLastFour   string
	IdempotencyKey string
}

type Receipt struct {
	ProviderID string
	CapturedAt time.Time
}

// Gateway captures a payment. Implementations must treat IdempotencyKey as a
// deduplication key.
type Gateway interface {
	Charge(ctx context.Context, req ChargeRequest) (Receipt, error)
}

// SimulatedGateway is a demo capture: it waits for the configured delay and
// always succeeds. It must not be used where real money is expected.
type SimulatedGateway struct {
	delay time.Duration
	now   func() time.Time
}

func NewSimulatedGateway(delay time.Duration) *SimulatedGateway {
	return &SimulatedGateway{delay: delay, now: time.Now}
}

func (g *SimulatedGateway) Charge(ctx context.Context, req ChargeRequest) (Receipt, error) {
	if g.delay > 0 {
		timer := time.NewTimer(g.delay)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return Receipt{}, ctx.Err()
		case <-timer.C:
		}
	}
	return Receipt{
		ProviderID: "sim:" + uuid.NewString(),
		CapturedAt: g.now(),
	}, nil
}
