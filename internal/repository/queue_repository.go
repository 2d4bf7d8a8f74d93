package repository

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"strings"
	"time"
	"unicode/utf8"

	"clubmailer/internal/models"
)

const queueColumns = `id, campaign_id, tenant_id, recipient_email, subject_override, body_override,
	status, attempts, error_message, created_at, claimed_at, sent_at`

// maxErrorMessage bounds the stored failure reason
const maxErrorMessage = 1000

type queueRepository struct {
	db *sql.DB
}

// NewQueueRepository creates a new email queue repository
func NewQueueRepository(db *sql.DB) QueueRepository {
	return &queueRepository{db: db}
}

func scanMessage(row rowScanner) (*models.QueuedMessage, error) {
	message := &models.QueuedMessage{}
	err := row.Scan(
		&message.ID,
		&message.CampaignID,
		&message.TenantID,
		&message.RecipientEmail,
		&message.SubjectOverride,
		&message.BodyOverride,
		&message.Status,
		&message.Attempts,
		&message.ErrorMessage,
		&message.CreatedAt,
		&message.ClaimedAt,
		&message.SentAt,
	)
	return message, err
}

// Enqueue creates the campaign and one pending row per recipient in a single
// transaction
func (r *queueRepository) Enqueue(ctx context.Context, campaign *models.Campaign, recipients []models.Recipient) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	campaign.TotalRecipients = len(recipients)
	campaign.Status = models.CampaignStatusPending

	err = tx.QueryRowContext(ctx, `
		INSERT INTO email_campaigns (tenant_id, subject, body, from_name, from_email, total_recipients, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id, created_at
	`,
		campaign.TenantID,
		campaign.Subject,
		campaign.Body,
		campaign.FromName,
		campaign.FromEmail,
		campaign.TotalRecipients,
		campaign.Status,
	).Scan(&campaign.ID, &campaign.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to create campaign: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO email_queue (campaign_id, tenant_id, recipient_email, subject_override, body_override, status)
		VALUES ($1, $2, $3, $4, $5, 'pending')
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare statement: %w", err)
	}
	defer stmt.Close()

	for _, recipient := range recipients {
		_, err := stmt.ExecContext(
			ctx,
			campaign.ID,
			campaign.TenantID,
			recipient.Email,
			recipient.SubjectOverride,
			recipient.BodyOverride,
		)
		if err != nil {
			return fmt.Errorf("failed to enqueue recipient: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	return nil
}

// ClaimBatch flips up to limit pending rows of the tenant's oldest campaign
// with unlocked pending work to sending and returns them in FIFO order
// together with their campaign. Rows in exclude are skipped. Concurrent
// runners never claim the same row, and a campaign whose pending rows are all
// held by another runner is passed over.
func (r *queueRepository) ClaimBatch(ctx context.Context, tenantID string, limit int, exclude []int) (*models.Campaign, []*models.QueuedMessage, error) {
	if limit <= 0 {
		return nil, nil, nil
	}

	query := `
		WITH target AS (
			SELECT q.campaign_id AS id
			FROM email_queue q
			JOIN email_campaigns c ON c.id = q.campaign_id
			WHERE q.tenant_id = $1
			  AND c.status <> 'completed'
			  AND q.status = 'pending'
			  AND NOT (q.id = ANY($3::int[]))
			ORDER BY c.created_at, c.id, q.created_at, q.id
			LIMIT 1
			FOR UPDATE OF q SKIP LOCKED
		),
		picked AS (
			SELECT q.id
			FROM email_queue q
			JOIN target t ON q.campaign_id = t.id
			WHERE q.status = 'pending' AND NOT (q.id = ANY($3::int[]))
			ORDER BY q.created_at, q.id
			LIMIT $2
			FOR UPDATE OF q SKIP LOCKED
		),
		claimed AS (
			UPDATE email_queue q
			SET status = 'sending', attempts = q.attempts + 1, claimed_at = NOW()
			FROM picked
			WHERE q.id = picked.id
			RETURNING q.id, q.campaign_id, q.tenant_id, q.recipient_email, q.subject_override, q.body_override,
				q.status, q.attempts, q.error_message, q.created_at, q.claimed_at, q.sent_at
		),
		started AS (
			UPDATE email_campaigns c
			SET status = 'processing', started_at = COALESCE(c.started_at, NOW())
			FROM target t
			WHERE c.id = t.id AND c.status = 'pending' AND EXISTS (SELECT 1 FROM claimed)
			RETURNING c.id
		)
		SELECT ` + queueColumns + ` FROM claimed
	`

	rows, err := r.db.QueryContext(ctx, query, tenantID, limit, toInt64Array(exclude))
	if err != nil {
		return nil, nil, fmt.Errorf("failed to claim batch: %w", err)
	}
	defer rows.Close()

	messages := []*models.QueuedMessage{}
	for rows.Next() {
		message, err := scanMessage(rows)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to scan message: %w", err)
		}
		messages = append(messages, message)
	}
	if err := rows.Err(); err != nil {
		return nil, nil, fmt.Errorf("failed to claim batch: %w", err)
	}
	if len(messages) == 0 {
		return nil, nil, nil
	}

	sort.Slice(messages, func(i, j int) bool {
		if messages[i].CreatedAt.Equal(messages[j].CreatedAt) {
			return messages[i].ID < messages[j].ID
		}
		return messages[i].CreatedAt.Before(messages[j].CreatedAt)
	})

	query = `SELECT ` + campaignColumns + ` FROM email_campaigns WHERE id = $1`
	campaign, err := scanCampaign(r.db.QueryRowContext(ctx, query, messages[0].CampaignID))
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load claimed campaign: %w", err)
	}

	return campaign, messages, nil
}

// MarkSent settles the rows as sent and bumps their campaigns' sent_count
// in the same statement
func (r *queueRepository) MarkSent(ctx context.Context, ids []int) error {
	if len(ids) == 0 {
		return nil
	}

	query := `
		WITH sent AS (
			UPDATE email_queue
			SET status = 'sent', sent_at = NOW(), error_message = NULL
			WHERE id = ANY($1::int[]) AND status = 'sending'
			RETURNING campaign_id
		),
		counts AS (
			SELECT campaign_id, COUNT(*) AS n FROM sent GROUP BY campaign_id
		)
		UPDATE email_campaigns c
		SET sent_count = c.sent_count + counts.n
		FROM counts
		WHERE c.id = counts.campaign_id
	`

	if _, err := r.db.ExecContext(ctx, query, toInt64Array(ids)); err != nil {
		return fmt.Errorf("failed to mark messages sent: %w", err)
	}

	return nil
}

// MarkFailed records a failed attempt. A non-final failure returns the row
// to pending; a final one settles it as failed and bumps failed_count.
func (r *queueRepository) MarkFailed(ctx context.Context, id int, reason string, final bool) error {
	reason = truncateReason(reason, maxErrorMessage)

	var query string
	if final {
		query = `
			WITH failed AS (
				UPDATE email_queue
				SET status = 'failed', error_message = $2
				WHERE id = $1 AND status = 'sending'
				RETURNING campaign_id
			)
			UPDATE email_campaigns c
			SET failed_count = c.failed_count + 1
			FROM failed
			WHERE c.id = failed.campaign_id
		`
	} else {
		query = `
			UPDATE email_queue
			SET status = 'pending', error_message = $2, claimed_at = NULL
			WHERE id = $1 AND status = 'sending'
		`
	}

	result, err := r.db.ExecContext(ctx, query, id, reason)
	if err != nil {
		return fmt.Errorf("failed to mark message failed: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}

	if rows == 0 {
		return fmt.Errorf("message %d: %w", id, ErrNotClaimed)
	}

	return nil
}

// RecoverStale returns rows stuck in sending for longer than olderThan to
// pending, or settles them as failed when their attempts are exhausted
func (r *queueRepository) RecoverStale(ctx context.Context, tenantID string, olderThan time.Duration, maxAttempts int) (int, error) {
	query := `
		WITH recovered AS (
			UPDATE email_queue
			SET status = CASE WHEN attempts >= $3 THEN 'failed' ELSE 'pending' END,
				error_message = 'interrupted while sending',
				claimed_at = NULL
			WHERE tenant_id = $1
			  AND status = 'sending'
			  AND claimed_at < NOW() - make_interval(secs => $2)
			RETURNING campaign_id, status
		),
		counts AS (
			SELECT campaign_id, COUNT(*) AS n FROM recovered WHERE status = 'failed' GROUP BY campaign_id
		),
		bumped AS (
			UPDATE email_campaigns c
			SET failed_count = c.failed_count + counts.n
			FROM counts
			WHERE c.id = counts.campaign_id
			RETURNING c.id
		)
		SELECT COUNT(*) FROM recovered
	`

	var recovered int
	err := r.db.QueryRowContext(ctx, query, tenantID, olderThan.Seconds(), maxAttempts).Scan(&recovered)
	if err != nil {
		return 0, fmt.Errorf("failed to recover stale messages: %w", err)
	}

	return recovered, nil
}

// GetByID retrieves a queued message by ID
func (r *queueRepository) GetByID(ctx context.Context, id int) (*models.QueuedMessage, error) {
	query := `SELECT ` + queueColumns + ` FROM email_queue WHERE id = $1`

	message, err := scanMessage(r.db.QueryRowContext(ctx, query, id))
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("message %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get message: %w", err)
	}

	return message, nil
}

// GetByCampaignID retrieves all queued messages for a campaign
func (r *queueRepository) GetByCampaignID(ctx context.Context, campaignID int) ([]*models.QueuedMessage, error) {
	query := `SELECT ` + queueColumns + ` FROM email_queue WHERE campaign_id = $1 ORDER BY created_at, id`

	rows, err := r.db.QueryContext(ctx, query, campaignID)
	if err != nil {
		return nil, fmt.Errorf("failed to get messages by campaign: %w", err)
	}
	defer rows.Close()

	messages := []*models.QueuedMessage{}
	for rows.Next() {
		message, err := scanMessage(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan message: %w", err)
		}
		messages = append(messages, message)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to get messages by campaign: %w", err)
	}

	return messages, nil
}

// truncateReason makes reason valid UTF-8 and cuts it to at most limit bytes
// without splitting a rune.
func truncateReason(reason string, limit int) string {
	reason = strings.ToValidUTF8(reason, "\uFFFD")
	if len(reason) <= limit {
		return reason
	}
	cut := limit
	for cut > 0 && !utf8.RuneStart(reason[cut]) {
		cut--
	}
	return reason[:cut]
}
