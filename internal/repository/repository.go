package repository

import (
	"context"
	"errors"
	"time"

	"clubmailer/internal/models"
)

// ErrNotFound is wrapped by lookups that match no row
var ErrNotFound = errors.New("not found")

// ErrNotClaimed is returned when a queued message is not in the sending state
var ErrNotClaimed = errors.New("message is not claimed")

// CampaignRepository defines campaign data access operations
type CampaignRepository interface {
	GetByID(ctx context.Context, id int) (*models.Campaign, error)
	GetWithStats(ctx context.Context, id int) (*models.CampaignWithStats, error)
	List(ctx context.Context, filters CampaignFilters) ([]*models.Campaign, int, error)
	FinalizeIfDrained(ctx context.Context, id int) (bool, error)
	FinalizeDrained(ctx context.Context, tenantID string) ([]int, error)
}

// CampaignFilters defines filters for listing campaigns
type CampaignFilters struct {
	Page     int
	PageSize int
	TenantID string
	Status   *models.CampaignStatus
}

// QueueRepository defines email queue data access operations
type QueueRepository interface {
	Enqueue(ctx context.Context, campaign *models.Campaign, recipients []models.Recipient) error
	ClaimBatch(ctx context.Context, tenantID string, limit int, exclude []int) (*models.Campaign, []*models.QueuedMessage, error)
	MarkSent(ctx context.Context, ids []int) error
	MarkFailed(ctx context.Context, id int, reason string, final bool) error
	RecoverStale(ctx context.Context, tenantID string, olderThan time.Duration, maxAttempts int) (int, error)
	GetByID(ctx context.Context, id int) (*models.QueuedMessage, error)
	GetByCampaignID(ctx context.Context, campaignID int) ([]*models.QueuedMessage, error)
}

// RateLimitRepository defines hourly counter data access operations
type RateLimitRepository interface {
	Count(ctx context.Context, tenantID, actionType string, bucket time.Time) (int, error)
	Increment(ctx context.Context, tenantID, actionType string, bucket time.Time, n int) error
}
