package deposit_watcher

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/sendramp/ramp-service/internal/domain/entities"
	"github.com/sendramp/ramp-service/pkg/logger"
)

type fakeResumer struct {
	statuses []entities.OfframpStatus
	limits   []int
}

func (f *fakeResumer) ResumePending(_ context.Context, status entities.OfframpStatus, limit int) error {
	f.statuses = append(f.statuses, status)
	f.limits = append(f.limits, limit)
	return nil
}

func TestRun_SweepsAllChainBoundStatuses(t *testing.T) {
	resumer := &fakeResumer{}
	w := NewWorker(resumer, &Config{BatchSize: 25}, logger.New("debug", "test"))

	w.Run(context.Background())

	// Swapping rows must be swept too, or a crash mid-attempt strands them.
	assert.Equal(t, []entities.OfframpStatus{
		entities.OfframpStatusAwaitingDeposit,
		entities.OfframpStatusTokenReceived,
		entities.OfframpStatusSwapping,
	}, resumer.statuses)
	assert.Equal(t, []int{25, 25, 25}, resumer.limits)
}
