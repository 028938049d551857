package service

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vanshika/swapguard/internal/domain"
)

func TestBulkRefresherImportAndRefresh(t *testing.T) {
	svc, st, _ := newTestService(t)
	ctx := context.Background()
	br := NewBulkRefresher(svc, 3)

	inputs := make([]ProfileInput, 0, 10)
	for i := 0; i < 9; i++ {
		inputs = append(inputs, ProfileInput{UserID: fmt.Sprintf("USR-%02d", i), CompletedTrades: i})
	}
	inputs = append(inputs, ProfileInput{UserID: "USR-BAD", CompletedTrades: -1})

	summary, err := br.ImportProfiles(ctx, inputs)
	require.Error(t, err)
	var taskErr *TaskError
	require.True(t, errors.As(err, &taskErr))
	assert.Len(t, taskErr.Errors, 1)
	assert.True(t, domain.IsValidation(err), "TaskError unwraps to the item error")
	assert.Equal(t, RefreshSummary{Processed: 10, Failed: 1}, summary)

	_, err = st.UpdateProfile(ctx, "USR-03", func(p *domain.UserTrustProfile) error {
		p.TotalRatings = -1
		return nil
	})
	require.NoError(t, err)

	summary, err = br.RefreshAll(ctx)
	require.NoError(t, err)
	assert.Equal(t, RefreshSummary{Processed: 9, Degraded: 1}, summary)

	p, err := st.GetProfile(ctx, "USR-08")
	require.NoError(t, err)
	assert.Equal(t, 66, p.TrustScore)
}

func TestBulkRefresherUnknownUsers(t *testing.T) {
	svc, _, _ := newTestService(t)
	br := NewBulkRefresher(svc, 0)

	summary, err := br.RefreshUsers(context.Background(), []string{"a", "b"})
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrProfileNotFound)
	assert.Equal(t, 2, summary.Failed)
}

func TestBulkRefresherHonoursCancellation(t *testing.T) {
	svc, _, _ := newTestService(t)
	br := NewBulkRefresher(svc, 2)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := br.RefreshUsers(ctx, []string{"a", "b", "c"})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestTaskErrorMessage(t *testing.T) {
	var te TaskError
	assert.Nil(t, te.asError())
	te.append(nil)
	te.append(errors.New("first"))
	assert.Equal(t, "first", te.Error())
	te.append(errors.New("second"))
	assert.Equal(t, "multiple errors: first; second;", te.Error())
}
