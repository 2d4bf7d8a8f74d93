package main

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"

	"clubmailer/internal/logger"
	"clubmailer/internal/queue"
	"clubmailer/internal/service"
)

type stubRunner struct {
	tenant string
	opts   service.RunOptions
	err    error
}

func (s *stubRunner) Run(ctx context.Context, tenantID string, opts service.RunOptions) (*service.Summary, error) {
	s.tenant, s.opts = tenantID, opts
	return &service.Summary{TenantID: tenantID}, s.err
}

func TestRunHandler(t *testing.T) {
	runner := &stubRunner{}
	h := runHandler(runner, logger.Nop())

	err := h(context.Background(), &queue.RunRequest{TenantID: "club-1", MaxPerRun: 30, BatchSize: 10})

	assert.NoError(t, err)
	assert.Equal(t, "club-1", runner.tenant)
	assert.Equal(t, service.RunOptions{MaxPerRun: 30, BatchSize: 10}, runner.opts)
}

func TestRunHandler_ConfigErrorIsAcked(t *testing.T) {
	runner := &stubRunner{err: &service.ConfigError{TenantID: "club-1", Message: "SMTP host is required"}}

	err := runHandler(runner, logger.Nop())(context.Background(), &queue.RunRequest{TenantID: "club-1"})

	assert.NoError(t, err)
}

func TestRunHandler_StoreFailurePropagates(t *testing.T) {
	runner := &stubRunner{err: errors.New("database is down")}

	err := runHandler(runner, logger.Nop())(context.Background(), &queue.RunRequest{TenantID: "club-1"})

	assert.EqualError(t, err, "database is down")
}
