package service

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"clubmailer/internal/models"
	"clubmailer/internal/repository"
	"clubmailer/internal/smtp"
)

// memStore is an in-memory QueueRepository and CampaignRepository with the
// same claim and settlement semantics as the SQL implementation
type memStore struct {
	mu        sync.Mutex
	nextID    int
	clock     time.Time
	campaigns map[int]*models.Campaign
	messages  map[int]*models.QueuedMessage

	failMarkSent error
}

func newMemStore() *memStore {
	return &memStore{
		clock:     time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC),
		campaigns: map[int]*models.Campaign{},
		messages:  map[int]*models.QueuedMessage{},
	}
}

func (s *memStore) tick() time.Time {
	s.clock = s.clock.Add(time.Second)
	return s.clock
}

func (s *memStore) id() int {
	s.nextID++
	return s.nextID
}

// seed enqueues a campaign with the given recipients and returns it
func (s *memStore) seed(t *testing.T, tenantID string, emails ...string) *models.Campaign {
	t.Helper()
	campaign := &models.Campaign{
		TenantID:  tenantID,
		Subject:   "Club news",
		Body:      "<p>Hello members</p>",
		FromName:  "Chess Club",
		FromEmail: "chess@club.org",
	}
	recipients := make([]models.Recipient, len(emails))
	for i, e := range emails {
		recipients[i] = models.Recipient{Email: e}
	}
	if err := s.Enqueue(context.Background(), campaign, recipients); err != nil {
		t.Fatalf("seed: %v", err)
	}
	return campaign
}

func (s *memStore) Enqueue(ctx context.Context, campaign *models.Campaign, recipients []models.Recipient) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	campaign.ID = s.id()
	campaign.CreatedAt = s.tick()
	campaign.Status = models.CampaignStatusPending
	campaign.TotalRecipients = len(recipients)
	stored := *campaign
	s.campaigns[campaign.ID] = &stored

	for _, r := range recipients {
		m := &models.QueuedMessage{
			ID:              s.id(),
			CampaignID:      campaign.ID,
			TenantID:        campaign.TenantID,
			RecipientEmail:  r.Email,
			SubjectOverride: r.SubjectOverride,
			BodyOverride:    r.BodyOverride,
			Status:          models.MessageStatusPending,
			CreatedAt:       s.tick(),
		}
		s.messages[m.ID] = m
	}
	return nil
}

func (s *memStore) sortedMessages(filter func(*models.QueuedMessage) bool) []*models.QueuedMessage {
	var out []*models.QueuedMessage
	for _, m := range s.messages {
		if filter(m) {
			out = append(out, m)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

func (s *memStore) ClaimBatch(ctx context.Context, tenantID string, limit int, exclude []int) (*models.Campaign, []*models.QueuedMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if limit <= 0 {
		return nil, nil, nil
	}
	skip := map[int]bool{}
	for _, id := range exclude {
		skip[id] = true
	}
	claimable := func(m *models.QueuedMessage) bool {
		return m.TenantID == tenantID && m.Status == models.MessageStatusPending && !skip[m.ID]
	}

	var target *models.Campaign
	for _, c := range s.campaigns {
		if c.TenantID != tenantID || c.IsCompleted() {
			continue
		}
		has := false
		for _, m := range s.messages {
			if m.CampaignID == c.ID && claimable(m) {
				has = true
				break
			}
		}
		if !has {
			continue
		}
		if target == nil || c.CreatedAt.Before(target.CreatedAt) || (c.CreatedAt.Equal(target.CreatedAt) && c.ID < target.ID) {
			target = c
		}
	}
	if target == nil {
		return nil, nil, nil
	}

	picked := s.sortedMessages(func(m *models.QueuedMessage) bool {
		return m.CampaignID == target.ID && claimable(m)
	})
	if len(picked) > limit {
		picked = picked[:limit]
	}

	now := s.tick()
	out := make([]*models.QueuedMessage, 0, len(picked))
	for _, m := range picked {
		m.Status = models.MessageStatusSending
		m.Attempts++
		claimed := now
		m.ClaimedAt = &claimed
		cp := *m
		out = append(out, &cp)
	}

	if target.Status == models.CampaignStatusPending {
		target.Status = models.CampaignStatusProcessing
	}
	if target.StartedAt == nil {
		started := now
		target.StartedAt = &started
	}

	cp := *target
	return &cp, out, nil
}

func (s *memStore) MarkSent(ctx context.Context, ids []int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.failMarkSent != nil {
		return s.failMarkSent
	}
	now := s.tick()
	for _, id := range ids {
		m, ok := s.messages[id]
		if !ok || m.Status != models.MessageStatusSending {
			continue
		}
		m.Status = models.MessageStatusSent
		sent := now
		m.SentAt = &sent
		m.ErrorMessage = nil
		s.campaigns[m.CampaignID].SentCount++
	}
	return nil
}

func (s *memStore) MarkFailed(ctx context.Context, id int, reason string, final bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, ok := s.messages[id]
	if !ok || m.Status != models.MessageStatusSending {
		return fmt.Errorf("message %d: %w", id, repository.ErrNotClaimed)
	}
	r := reason
	m.ErrorMessage = &r
	if final {
		m.Status = models.MessageStatusFailed
		s.campaigns[m.CampaignID].FailedCount++
	} else {
		m.Status = models.MessageStatusPending
		m.ClaimedAt = nil
	}
	return nil
}

func (s *memStore) RecoverStale(ctx context.Context, tenantID string, olderThan time.Duration, maxAttempts int) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := 0
	for _, m := range s.messages {
		if m.TenantID != tenantID || m.Status != models.MessageStatusSending || m.ClaimedAt == nil {
			continue
		}
		if s.clock.Sub(*m.ClaimedAt) < olderThan {
			continue
		}
		reason := "interrupted while sending"
		m.ErrorMessage = &reason
		m.ClaimedAt = nil
		if m.Attempts >= maxAttempts {
			m.Status = models.MessageStatusFailed
			s.campaigns[m.CampaignID].FailedCount++
		} else {
			m.Status = models.MessageStatusPending
		}
		n++
	}
	return n, nil
}

func (s *memStore) GetByID(ctx context.Context, id int) (*models.QueuedMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, ok := s.messages[id]
	if !ok {
		return nil, fmt.Errorf("message %d: %w", id, repository.ErrNotFound)
	}
	cp := *m
	return &cp, nil
}

func (s *memStore) GetByCampaignID(ctx context.Context, campaignID int) ([]*models.QueuedMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []*models.QueuedMessage
	for _, m := range s.sortedMessages(func(m *models.QueuedMessage) bool { return m.CampaignID == campaignID }) {
		cp := *m
		out = append(out, &cp)
	}
	return out, nil
}

func (s *memStore) campaign(id int) (*models.Campaign, error) {
	c, ok := s.campaigns[id]
	if !ok {
		return nil, fmt.Errorf("campaign %d: %w", id, repository.ErrNotFound)
	}
	cp := *c
	return &cp, nil
}

func (s *memStore) getCampaign(id int) *models.Campaign {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, _ := s.campaign(id)
	return c
}

func (s *memStore) getMessages(campaignID int) []*models.QueuedMessage {
	msgs, _ := s.GetByCampaignID(context.Background(), campaignID)
	return msgs
}

// GetByID on the campaign side is exposed through campaignView to avoid a
// method clash with the queue side
type campaignView struct{ *memStore }

func (v campaignView) GetByID(ctx context.Context, id int) (*models.Campaign, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.campaign(id)
}

func (v campaignView) GetWithStats(ctx context.Context, id int) (*models.CampaignWithStats, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	c, err := v.campaign(id)
	if err != nil {
		return nil, err
	}
	stats := v.stats(id)
	return &models.CampaignWithStats{Campaign: *c, Stats: stats}, nil
}

func (v campaignView) List(ctx context.Context, filters repository.CampaignFilters) ([]*models.Campaign, int, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	var out []*models.Campaign
	for _, c := range v.campaigns {
		if filters.TenantID != "" && c.TenantID != filters.TenantID {
			continue
		}
		if filters.Status != nil && c.Status != *filters.Status {
			continue
		}
		cp := *c
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	return out, len(out), nil
}

func (v campaignView) FinalizeIfDrained(ctx context.Context, id int) (bool, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	c, ok := v.campaigns[id]
	if !ok || c.IsCompleted() || v.stats(id).InFlight() > 0 {
		return false, nil
	}
	v.complete(c)
	return true, nil
}

func (v campaignView) FinalizeDrained(ctx context.Context, tenantID string) ([]int, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	ids := []int{}
	for _, c := range v.campaigns {
		if c.TenantID != tenantID || c.IsCompleted() || v.stats(c.ID).InFlight() > 0 {
			continue
		}
		v.complete(c)
		ids = append(ids, c.ID)
	}
	sort.Ints(ids)
	return ids, nil
}

func (s *memStore) complete(c *models.Campaign) {
	c.Status = models.CampaignStatusCompleted
	done := s.tick()
	c.CompletedAt = &done
}

func (s *memStore) stats(campaignID int) models.CampaignStats {
	var st models.CampaignStats
	for _, m := range s.messages {
		if m.CampaignID != campaignID {
			continue
		}
		st.Total++
		switch m.Status {
		case models.MessageStatusPending:
			st.Pending++
		case models.MessageStatusSending:
			st.Sending++
		case models.MessageStatusSent:
			st.Sent++
		case models.MessageStatusFailed:
			st.Failed++
		}
	}
	return st
}

// snapshot captures every row and campaign for no-mutation checks
func (s *memStore) snapshot() (map[int]models.Campaign, map[int]models.QueuedMessage) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cs := map[int]models.Campaign{}
	for id, c := range s.campaigns {
		cs[id] = *c
	}
	ms := map[int]models.QueuedMessage{}
	for id, m := range s.messages {
		ms[id] = *m
	}
	return cs, ms
}

// assertInvariants checks the counter and attempt invariants for every campaign
func (s *memStore) assertInvariants(t *testing.T, maxAttempts int) {
	t.Helper()
	s.mu.Lock()
	defer s.mu.Unlock()

	for id, c := range s.campaigns {
		st := s.stats(id)
		assert.Equal(t, c.TotalRecipients, c.SentCount+c.FailedCount+st.InFlight(), "campaign %d counters", id)
		assert.Equal(t, st.Sent, c.SentCount, "campaign %d sent_count", id)
		assert.Equal(t, st.Failed, c.FailedCount, "campaign %d failed_count", id)
		if c.IsCompleted() {
			assert.Zero(t, st.InFlight(), "completed campaign %d has in-flight rows", id)
		}
	}
	for id, m := range s.messages {
		assert.LessOrEqual(t, m.Attempts, maxAttempts, "message %d attempts", id)
		assert.Contains(t, []models.MessageStatus{
			models.MessageStatusPending, models.MessageStatusSending, models.MessageStatusSent, models.MessageStatusFailed,
		}, m.Status)
	}
}

// memLimiter is an in-memory ratelimit.Limiter
type memLimiter struct {
	mu        sync.Mutex
	limit     int
	counts    map[string]int
	checks    int
	records   []int
	err       error
	recordErr error
}

func newMemLimiter(limit int) *memLimiter {
	return &memLimiter{limit: limit, counts: map[string]int{}}
}

func (l *memLimiter) Remaining(ctx context.Context, tenantID string) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.checks++
	if l.err != nil {
		return 0, l.err
	}
	if l.counts[tenantID] >= l.limit {
		return 0, nil
	}
	return l.limit - l.counts[tenantID], nil
}

func (l *memLimiter) Record(ctx context.Context, tenantID string, n int) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.recordErr != nil {
		return l.recordErr
	}
	if n > 0 {
		l.counts[tenantID] += n
		l.records = append(l.records, n)
	}
	return nil
}

// fakeOpener hands out fakeTransports and counts session opens
type fakeOpener struct {
	mu        sync.Mutex
	openErr   error
	reject    func(to string) error
	opens     int
	closes    int
	delivered []*smtp.Message
}

func (o *fakeOpener) Open(ctx context.Context, creds models.SMTPCredentials) (smtp.Transport, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.opens++
	if o.openErr != nil {
		return nil, o.openErr
	}
	return &fakeTransport{opener: o}, nil
}

func (o *fakeOpener) recipients() []string {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make([]string, len(o.delivered))
	for i, m := range o.delivered {
		out[i] = m.To
	}
	return out
}

type fakeTransport struct {
	opener *fakeOpener
}

func (t *fakeTransport) Send(ctx context.Context, msg *smtp.Message) error {
	t.opener.mu.Lock()
	defer t.opener.mu.Unlock()
	if t.opener.reject != nil {
		if err := t.opener.reject(msg.To); err != nil {
			return err
		}
	}
	t.opener.delivered = append(t.opener.delivered, msg)
	return nil
}

func (t *fakeTransport) Close() error {
	t.opener.mu.Lock()
	defer t.opener.mu.Unlock()
	t.opener.closes++
	return nil
}
