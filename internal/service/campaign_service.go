package service

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"strings"

	"clubmailer/internal/models"
	"clubmailer/internal/repository"
)

// MaxRecipientsPerCampaign bounds a single enqueue request
const MaxRecipientsPerCampaign = 10000

// CampaignService handles campaign enqueueing and progress lookups
type CampaignService struct {
	campaignRepo repository.CampaignRepository
	queueRepo    repository.QueueRepository
	templateSvc  *TemplateService
}

// NewCampaignService creates a new campaign service
func NewCampaignService(
	campaignRepo repository.CampaignRepository,
	queueRepo repository.QueueRepository,
	templateSvc *TemplateService,
) *CampaignService {
	return &CampaignService{
		campaignRepo: campaignRepo,
		queueRepo:    queueRepo,
		templateSvc:  templateSvc,
	}
}

// CreateCampaign validates the request, renders per-recipient variables into
// overrides and enqueues the campaign with one pending row per recipient
func (s *CampaignService) CreateCampaign(ctx context.Context, req *CreateCampaignRequest) (*models.Campaign, error) {
	if err := req.Validate(); err != nil {
		return nil, &ValidationError{Message: err.Error()}
	}
	if err := s.templateSvc.ValidateTemplate(req.Subject); err != nil {
		return nil, &ValidationError{Message: fmt.Sprintf("invalid subject: %v", err)}
	}
	if err := s.templateSvc.ValidateTemplate(req.Body); err != nil {
		return nil, &ValidationError{Message: fmt.Sprintf("invalid body: %v", err)}
	}

	campaign := &models.Campaign{
		TenantID:  req.TenantID,
		Subject:   req.Subject,
		Body:      req.Body,
		FromName:  req.FromName,
		FromEmail: req.FromEmail,
	}
	if err := campaign.Validate(); err != nil {
		return nil, &ValidationError{Message: err.Error()}
	}

	recipients := make([]models.Recipient, 0, len(req.Recipients))
	for _, r := range req.Recipients {
		recipients = append(recipients, s.personalize(campaign, r))
	}

	if err := s.queueRepo.Enqueue(ctx, campaign, recipients); err != nil {
		return nil, fmt.Errorf("failed to enqueue campaign: %w", err)
	}

	return campaign, nil
}

func (s *CampaignService) personalize(campaign *models.Campaign, r models.Recipient) models.Recipient {
	out := models.Recipient{
		Email:           strings.TrimSpace(r.Email),
		SubjectOverride: r.SubjectOverride,
		BodyOverride:    r.BodyOverride,
	}
	if len(r.Variables) == 0 {
		return out
	}

	subject := campaign.Subject
	if r.SubjectOverride != nil && *r.SubjectOverride != "" {
		subject = *r.SubjectOverride
	}
	if rendered := s.templateSvc.Render(subject, r.Variables, false); rendered != campaign.Subject {
		out.SubjectOverride = &rendered
	}

	body := campaign.Body
	if r.BodyOverride != nil && *r.BodyOverride != "" {
		body = *r.BodyOverride
	}
	if rendered := s.templateSvc.Render(body, r.Variables, true); rendered != campaign.Body {
		out.BodyOverride = &rendered
	}

	return out
}

// GetCampaign retrieves a campaign by ID
func (s *CampaignService) GetCampaign(ctx context.Context, id int) (*models.Campaign, error) {
	campaign, err := s.campaignRepo.GetByID(ctx, id)
	if err != nil {
		return nil, notFoundOr(err, "campaign", id)
	}
	return campaign, nil
}

// GetCampaignWithStats retrieves a campaign with its queue statistics
func (s *CampaignService) GetCampaignWithStats(ctx context.Context, id int) (*models.CampaignWithStats, error) {
	campaign, err := s.campaignRepo.GetWithStats(ctx, id)
	if err != nil {
		return nil, notFoundOr(err, "campaign", id)
	}
	return campaign, nil
}

// GetCampaignMessages retrieves every queued message of a campaign
func (s *CampaignService) GetCampaignMessages(ctx context.Context, id int) ([]*models.QueuedMessage, error) {
	if _, err := s.GetCampaign(ctx, id); err != nil {
		return nil, err
	}
	messages, err := s.queueRepo.GetByCampaignID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to get campaign messages: %w", err)
	}
	return messages, nil
}

// ListCampaigns lists campaigns with filters
func (s *CampaignService) ListCampaigns(ctx context.Context, filters repository.CampaignFilters) ([]*models.Campaign, *PaginationInfo, error) {
	campaigns, total, err := s.campaignRepo.List(ctx, filters)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to list campaigns: %w", err)
	}

	pageSize := filters.PageSize
	if pageSize <= 0 {
		pageSize = 20
	}
	if pageSize > 100 {
		pageSize = 100
	}
	page := filters.Page
	if page <= 0 {
		page = 1
	}

	pagination := &PaginationInfo{
		Page:       page,
		PageSize:   pageSize,
		TotalCount: total,
		TotalPages: (total + pageSize - 1) / pageSize,
	}

	return campaigns, pagination, nil
}

func notFoundOr(err error, resource string, id int) error {
	if errors.Is(err, repository.ErrNotFound) {
		return &NotFoundError{Resource: resource, ID: id}
	}
	return err
}

// Request/Response types

// CreateCampaignRequest represents a request to enqueue a campaign
type CreateCampaignRequest struct {
	TenantID   string             `json:"-"`
	Subject    string             `json:"subject"`
	Body       string             `json:"body"`
	FromName   string             `json:"from_name"`
	FromEmail  string             `json:"from_email"`
	Recipients []models.Recipient `json:"recipients"`
}

// Validate validates the create campaign request
func (r *CreateCampaignRequest) Validate() error {
	if len(r.Recipients) == 0 {
		return fmt.Errorf("at least one recipient is required")
	}
	if len(r.Recipients) > MaxRecipientsPerCampaign {
		return fmt.Errorf("too many recipients: %d (max %d)", len(r.Recipients), MaxRecipientsPerCampaign)
	}
	for i, recipient := range r.Recipients {
		email := strings.TrimSpace(recipient.Email)
		addr, err := mail.ParseAddress(email)
		if err != nil || addr.Address != email {
			return fmt.Errorf("recipients[%d]: invalid email %q", i, recipient.Email)
		}
	}
	return nil
}

// PaginationInfo represents pagination metadata
type PaginationInfo struct {
	Page       int `json:"page"`
	PageSize   int `json:"page_size"`
	TotalCount int `json:"total_count"`
	TotalPages int `json:"total_pages"`
}
