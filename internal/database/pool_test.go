package database

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHealthCheck(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectPing()
	assert.NoError(t, HealthCheck(context.Background(), mock))

	mock.ExpectPing().WillReturnError(errors.New("connection refused"))
	err = HealthCheck(context.Background(), mock)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "database unhealthy")

	assert.NoError(t, mock.ExpectationsWereMet())
}

type slowPinger struct{}

func (slowPinger) Ping(ctx context.Context) error {
	<-ctx.Done()
	return ctx.Err()
}

func TestHealthCheck_Timeout(t *testing.T) {
	start := time.Now()
	err := HealthCheck(context.Background(), slowPinger{})

	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), 3*time.Second)
}

func TestDefaultPoolConfig(t *testing.T) {
	cfg := DefaultPoolConfig("postgres://localhost/chamada")

	assert.Equal(t, "postgres://localhost/chamada", cfg.DSN)
	assert.Equal(t, int32(8), cfg.MaxConns)
	assert.Equal(t, int32(1), cfg.MinConns)
}

func TestNewPool_InvalidDSN(t *testing.T) {
	_, err := NewPool(context.Background(), DefaultPoolConfig("://not a url"))
	assert.Error(t, err)
}
