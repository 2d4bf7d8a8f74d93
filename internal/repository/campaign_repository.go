package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/lib/pq"

	"clubmailer/internal/models"
)

const campaignColumns = `id, tenant_id, subject, body, from_name, from_email, total_recipients,
	sent_count, failed_count, status, created_at, started_at, completed_at`

type campaignRepository struct {
	db *sql.DB
}

// NewCampaignRepository creates a new campaign repository
func NewCampaignRepository(db *sql.DB) CampaignRepository {
	return &campaignRepository{db: db}
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanCampaign(row rowScanner) (*models.Campaign, error) {
	campaign := &models.Campaign{}
	err := row.Scan(
		&campaign.ID,
		&campaign.TenantID,
		&campaign.Subject,
		&campaign.Body,
		&campaign.FromName,
		&campaign.FromEmail,
		&campaign.TotalRecipients,
		&campaign.SentCount,
		&campaign.FailedCount,
		&campaign.Status,
		&campaign.CreatedAt,
		&campaign.StartedAt,
		&campaign.CompletedAt,
	)
	return campaign, err
}

// GetByID retrieves a campaign by ID
func (r *campaignRepository) GetByID(ctx context.Context, id int) (*models.Campaign, error) {
	query := `SELECT ` + campaignColumns + ` FROM email_campaigns WHERE id = $1`

	campaign, err := scanCampaign(r.db.QueryRowContext(ctx, query, id))
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("campaign %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get campaign: %w", err)
	}

	return campaign, nil
}

// GetWithStats retrieves a campaign with per-status queue counts
func (r *campaignRepository) GetWithStats(ctx context.Context, id int) (*models.CampaignWithStats, error) {
	campaign, err := r.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	statsQuery := `
		SELECT
			COUNT(*) AS total,
			COUNT(*) FILTER (WHERE status = 'pending') AS pending,
			COUNT(*) FILTER (WHERE status = 'sending') AS sending,
			COUNT(*) FILTER (WHERE status = 'sent') AS sent,
			COUNT(*) FILTER (WHERE status = 'failed') AS failed
		FROM email_queue
		WHERE campaign_id = $1
	`

	stats := models.CampaignStats{}
	err = r.db.QueryRowContext(ctx, statsQuery, id).Scan(
		&stats.Total,
		&stats.Pending,
		&stats.Sending,
		&stats.Sent,
		&stats.Failed,
	)
	if err != nil && err != sql.ErrNoRows {
		return nil, fmt.Errorf("failed to get campaign stats: %w", err)
	}

	return &models.CampaignWithStats{
		Campaign: *campaign,
		Stats:    stats,
	}, nil
}

// List retrieves campaigns with filters and pagination
func (r *campaignRepository) List(ctx context.Context, filters CampaignFilters) ([]*models.Campaign, int, error) {
	where := strings.Builder{}
	where.WriteString(" WHERE 1=1")
	args := []interface{}{}

	if filters.TenantID != "" {
		args = append(args, filters.TenantID)
		where.WriteString(fmt.Sprintf(" AND tenant_id = $%d", len(args)))
	}
	if filters.Status != nil {
		args = append(args, *filters.Status)
		where.WriteString(fmt.Sprintf(" AND status = $%d", len(args)))
	}

	limit := filters.PageSize
	if limit <= 0 {
		limit = 20
	}
	if limit > 100 {
		limit = 100
	}
	offset := (filters.Page - 1) * limit
	if offset < 0 {
		offset = 0
	}

	query := `SELECT ` + campaignColumns + ` FROM email_campaigns` + where.String() +
		fmt.Sprintf(" ORDER BY id DESC LIMIT $%d OFFSET $%d", len(args)+1, len(args)+2)

	rows, err := r.db.QueryContext(ctx, query, append(append([]interface{}{}, args...), limit, offset)...)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list campaigns: %w", err)
	}
	defer rows.Close()

	campaigns := []*models.Campaign{}
	for rows.Next() {
		campaign, err := scanCampaign(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("failed to scan campaign: %w", err)
		}
		campaigns = append(campaigns, campaign)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("failed to list campaigns: %w", err)
	}

	var totalCount int
	err = r.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM email_campaigns"+where.String(), args...).Scan(&totalCount)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to get total count: %w", err)
	}

	return campaigns, totalCount, nil
}

// FinalizeIfDrained marks the campaign completed when none of its rows are
// pending or sending. It reports whether the campaign was completed now.
func (r *campaignRepository) FinalizeIfDrained(ctx context.Context, id int) (bool, error) {
	query := `
		UPDATE email_campaigns c
		SET status = 'completed', completed_at = NOW()
		WHERE c.id = $1
		  AND c.status <> 'completed'
		  AND NOT EXISTS (
			SELECT 1 FROM email_queue q
			WHERE q.campaign_id = c.id AND q.status IN ('pending', 'sending')
		  )
	`

	result, err := r.db.ExecContext(ctx, query, id)
	if err != nil {
		return false, fmt.Errorf("failed to finalize campaign: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}

	return rows > 0, nil
}

// FinalizeDrained completes every drained campaign of the tenant and returns
// their ids
func (r *campaignRepository) FinalizeDrained(ctx context.Context, tenantID string) ([]int, error) {
	query := `
		UPDATE email_campaigns c
		SET status = 'completed', completed_at = NOW()
		WHERE c.tenant_id = $1
		  AND c.status <> 'completed'
		  AND NOT EXISTS (
			SELECT 1 FROM email_queue q
			WHERE q.campaign_id = c.id AND q.status IN ('pending', 'sending')
		  )
		RETURNING c.id
	`

	rows, err := r.db.QueryContext(ctx, query, tenantID)
	if err != nil {
		return nil, fmt.Errorf("failed to finalize campaigns: %w", err)
	}
	defer rows.Close()

	ids := []int{}
	for rows.Next() {
		var id int
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan campaign id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to finalize campaigns: %w", err)
	}

	return ids, nil
}

func toInt64Array(ids []int) pq.Int64Array {
	out := make(pq.Int64Array, len(ids))
	for i, id := range ids {
		out[i] = int64(id)
	}
	return out
}
