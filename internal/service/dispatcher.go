package service

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/rs/zerolog"

	"clubmailer/internal/logger"
	"clubmailer/internal/metrics"
	"clubmailer/internal/models"
	"clubmailer/internal/ratelimit"
	"clubmailer/internal/repository"
	"clubmailer/internal/smtp"
)

// Run defaults, overridable per run
const (
	DefaultBatchSize = 20
	DefaultMaxPerRun = 100
)

// DispatcherConfig holds the limits shared by every run
type DispatcherConfig struct {
	MaxAttempts int
	BatchPause  time.Duration
	StaleAfter  time.Duration
}

// RunOptions bounds one dispatcher run
type RunOptions struct {
	MaxPerRun int `json:"max_per_run"`
	BatchSize int `json:"batch_size"`
}

// Summary reports what one run did. Processed counts every settled attempt:
// Sent + Retried + Failed.
type Summary struct {
	TenantID         string `json:"tenant_id"`
	Processed        int    `json:"processed"`
	Sent             int    `json:"sent"`
	Retried          int    `json:"retried"`
	Failed           int    `json:"failed"`
	CampaignsTouched int    `json:"campaigns_touched"`
	RateLimited      bool   `json:"rate_limited"`
}

// Dispatcher drains a tenant's queue in batches, one SMTP session per batch
type Dispatcher struct {
	queue     repository.QueueRepository
	campaigns repository.CampaignRepository
	limiter   ratelimit.Limiter
	opener    smtp.Opener
	creds     CredentialResolver
	cfg       DispatcherConfig
	log       zerolog.Logger
	sleep     func(ctx context.Context, d time.Duration) error
}

// NewDispatcher creates a new dispatcher
func NewDispatcher(
	queue repository.QueueRepository,
	campaigns repository.CampaignRepository,
	limiter ratelimit.Limiter,
	opener smtp.Opener,
	creds CredentialResolver,
	cfg DispatcherConfig,
	log zerolog.Logger,
) *Dispatcher {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = models.DefaultMaxAttempts
	}
	return &Dispatcher{
		queue:     queue,
		campaigns: campaigns,
		limiter:   limiter,
		opener:    opener,
		creds:     creds,
		cfg:       cfg,
		log:       log,
		sleep:     sleepContext,
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Run performs one bounded pass over the tenant's queue. Every row is
// attempted at most once per run. A returned *ConfigError means nothing was
// touched; hitting the hourly ceiling is not an error and sets RateLimited.
func (d *Dispatcher) Run(ctx context.Context, tenantID string, opts RunOptions) (summary *Summary, err error) {
	if opts.BatchSize <= 0 {
		opts.BatchSize = DefaultBatchSize
	}
	if opts.MaxPerRun <= 0 {
		opts.MaxPerRun = DefaultMaxPerRun
	}

	summary = &Summary{TenantID: tenantID}
	log := d.log.With().Str("tenant_id", tenantID).Logger()
	touched := map[int]struct{}{}
	start := time.Now()

	defer func() {
		summary.CampaignsTouched = len(touched)
		status := "ok"
		switch {
		case err != nil:
			status = "error"
		case summary.RateLimited:
			status = "rate_limited"
		}
		metrics.IncRun(status)
		log.Info().
			Str("status", status).
			Int("processed", summary.Processed).
			Int("sent", summary.Sent).
			Int("retried", summary.Retried).
			Int("failed", summary.Failed).
			Int("campaigns", summary.CampaignsTouched).
			Dur("elapsed", time.Since(start)).
			Msg("dispatch run finished")
	}()

	creds, err := d.creds.Resolve(ctx, tenantID)
	if err != nil {
		return summary, &ConfigError{TenantID: tenantID, Message: err.Error()}
	}
	if err := creds.Validate(); err != nil {
		return summary, &ConfigError{TenantID: tenantID, Message: err.Error()}
	}

	if d.cfg.StaleAfter > 0 {
		recovered, err := d.queue.RecoverStale(ctx, tenantID, d.cfg.StaleAfter, d.cfg.MaxAttempts)
		if err != nil {
			return summary, err
		}
		if recovered > 0 {
			log.Warn().Int("recovered", recovered).Msg("released messages stuck in sending")
		}
	}

	var attempted []int
	for summary.Processed < opts.MaxPerRun {
		if err := ctx.Err(); err != nil {
			return summary, err
		}

		remaining, err := d.limiter.Remaining(ctx, tenantID)
		if err != nil {
			return summary, err
		}
		if remaining <= 0 {
			summary.RateLimited = true
			log.Warn().Msg("hourly send limit reached, stopping run")
			return summary, nil
		}

		limit := min(opts.BatchSize, opts.MaxPerRun-summary.Processed, remaining)
		campaign, batch, err := d.queue.ClaimBatch(ctx, tenantID, limit, attempted)
		if err != nil {
			return summary, err
		}
		if len(batch) == 0 {
			completed, err := d.campaigns.FinalizeDrained(ctx, tenantID)
			if err != nil {
				return summary, err
			}
			for _, id := range completed {
				touched[id] = struct{}{}
				log.Info().Int("campaign_id", id).Msg("campaign completed")
			}
			return summary, nil
		}

		touched[campaign.ID] = struct{}{}
		for _, m := range batch {
			attempted = append(attempted, m.ID)
		}

		if err := d.dispatchBatch(ctx, log, creds, campaign, batch, summary); err != nil {
			return summary, err
		}

		if summary.Processed >= opts.MaxPerRun {
			break
		}
		if err := d.sleep(ctx, d.cfg.BatchPause); err != nil {
			return summary, err
		}
	}

	return summary, nil
}

// dispatchBatch sends one claimed batch over a single session and settles
// every row. Only store and limiter failures are returned.
func (d *Dispatcher) dispatchBatch(ctx context.Context, log zerolog.Logger, creds models.SMTPCredentials, campaign *models.Campaign, batch []*models.QueuedMessage, summary *Summary) error {
	start := time.Now()
	defer func() { metrics.ObserveBatchDuration(time.Since(start).Seconds()) }()

	log = log.With().Int("campaign_id", campaign.ID).Logger()
	// settlement must land even when the run is being cancelled
	settleCtx := context.WithoutCancel(ctx)

	transport, err := d.opener.Open(ctx, creds)
	if err != nil {
		kind := "connect"
		var authErr *smtp.AuthError
		if errors.As(err, &authErr) {
			kind = "auth"
		}
		metrics.IncSessionFailure(summary.TenantID, kind)
		log.Error().Err(err).Int("batch", len(batch)).Msg("smtp session failed, failing claimed batch")

		var errs []error
		for _, m := range batch {
			errs = append(errs, d.fail(settleCtx, log, m, err.Error(), summary))
		}
		errs = append(errs, d.finalize(settleCtx, log, campaign.ID))
		return errors.Join(errs...)
	}

	type failure struct {
		msg    *models.QueuedMessage
		reason string
	}
	sent := make([]int, 0, len(batch))
	var failures []failure

	for _, m := range batch {
		if err := transport.Send(ctx, buildMessage(campaign, m)); err != nil {
			failures = append(failures, failure{msg: m, reason: err.Error()})
			continue
		}
		sent = append(sent, m.ID)
		log.Debug().Int("message_id", m.ID).Str("to", logger.RedactEmail(m.RecipientEmail)).Msg("message accepted")
	}

	if err := transport.Close(); err != nil {
		log.Debug().Err(err).Msg("smtp close failed")
	}

	// Rejections settle first; every write is attempted even if one fails.
	var errs []error
	for _, f := range failures {
		errs = append(errs, d.fail(settleCtx, log, f.msg, f.reason, summary))
	}

	if err := d.queue.MarkSent(settleCtx, sent); err != nil {
		errs = append(errs, err)
	} else {
		summary.Sent += len(sent)
		summary.Processed += len(sent)
		metrics.AddMessages(summary.TenantID, "sent", len(sent))
	}

	if err := d.limiter.Record(settleCtx, summary.TenantID, len(sent)); err != nil {
		errs = append(errs, err)
	}

	errs = append(errs, d.finalize(settleCtx, log, campaign.ID))
	if err := errors.Join(errs...); err != nil {
		log.Error().Err(err).Msg("batch settlement incomplete")
		return err
	}

	log.Info().Int("sent", len(sent)).Int("failed", len(failures)).Msg("batch settled")
	return nil
}

func (d *Dispatcher) fail(ctx context.Context, log zerolog.Logger, m *models.QueuedMessage, reason string, summary *Summary) error {
	final := m.IsFinalAttempt(d.cfg.MaxAttempts)
	if err := d.queue.MarkFailed(ctx, m.ID, reason, final); err != nil {
		return err
	}

	summary.Processed++
	outcome := "retry"
	if final {
		summary.Failed++
		outcome = "failed"
	} else {
		summary.Retried++
	}
	metrics.AddMessages(summary.TenantID, outcome, 1)

	log.Warn().
		Int("message_id", m.ID).
		Str("to", logger.RedactEmail(m.RecipientEmail)).
		Int("attempt", m.Attempts).
		Bool("final", final).
		Str("reason", reason).
		Msg("message not delivered")
	return nil
}

func (d *Dispatcher) finalize(ctx context.Context, log zerolog.Logger, campaignID int) error {
	completed, err := d.campaigns.FinalizeIfDrained(ctx, campaignID)
	if err != nil {
		return err
	}
	if completed {
		log.Info().Msg("campaign completed")
	}
	return nil
}

func buildMessage(campaign *models.Campaign, m *models.QueuedMessage) *smtp.Message {
	return &smtp.Message{
		FromName:  campaign.FromName,
		FromEmail: campaign.FromEmail,
		To:        m.RecipientEmail,
		Subject:   m.Subject(campaign),
		HTMLBody:  m.Body(campaign),
		Headers: map[string]string{
			"X-Campaign-ID": strconv.Itoa(campaign.ID),
		},
	}
}

// String renders the summary for CLI output
func (s *Summary) String() string {
	return fmt.Sprintf("tenant=%s processed=%d sent=%d retried=%d failed=%d campaigns=%d rate_limited=%t",
		s.TenantID, s.Processed, s.Sent, s.Retried, s.Failed, s.CampaignsTouched, s.RateLimited)
}
