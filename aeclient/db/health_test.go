package db_test

import (
	"context"
	stderrors "errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"go-aeclient/aeclient/db"
)

func TestHealthChecker(t *testing.T) {
	var failing bool
	hc := db.NewHealthChecker(func(context.Context) error {
		if failing {
			return stderrors.New("login timeout expired")
		}
		return nil
	}, nil)
	hc.SetMaxConsecutiveFails(2)

	assert.True(t, hc.IsHealthy())
	require.NoError(t, hc.Check(context.Background()))
	assert.False(t, hc.GetStatus().LastCheck.IsZero())

	failing = true
	require.Error(t, hc.Check(context.Background()))
	assert.True(t, hc.IsHealthy(), "one failure stays under the threshold")

	require.Error(t, hc.Check(context.Background()))
	status := hc.GetStatus()
	assert.False(t, status.Healthy)
	assert.Equal(t, 2, status.ConsecutiveFails)
	assert.Equal(t, "login timeout expired", status.Error)

	failing = false
	require.NoError(t, hc.Check(context.Background()))
	status = hc.GetStatus()
	assert.True(t, status.Healthy)
	assert.Zero(t, status.ConsecutiveFails)
	assert.Empty(t, status.Error)
}

func TestHealthChecker_Timeout(t *testing.T) {
	hc := db.NewHealthChecker(func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	}, nil)
	hc.SetTimeout(10 * time.Millisecond)

	err := hc.Check(context.Background())
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.False(t, hc.IsHealthy())
}
