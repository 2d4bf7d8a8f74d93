package handler

import (
	"context"
	"net/http"
	"regexp"
	"strconv"

	"github.com/gorilla/mux"

	"clubmailer/internal/models"
	"clubmailer/internal/repository"
	"clubmailer/internal/service"
)

var tenantIDPattern = regexp.MustCompile(`^[A-Za-z0-9_-]{1,64}$`)

// CampaignService is the campaign surface used by the API
type CampaignService interface {
	CreateCampaign(ctx context.Context, req *service.CreateCampaignRequest) (*models.Campaign, error)
	GetCampaignWithStats(ctx context.Context, id int) (*models.CampaignWithStats, error)
	GetCampaignMessages(ctx context.Context, id int) ([]*models.QueuedMessage, error)
	ListCampaigns(ctx context.Context, filters repository.CampaignFilters) ([]*models.Campaign, *service.PaginationInfo, error)
}

// CampaignHandler handles HTTP requests for campaign operations
type CampaignHandler struct {
	campaignService CampaignService
}

// NewCampaignHandler creates a new campaign handler
func NewCampaignHandler(campaignService CampaignService) *CampaignHandler {
	return &CampaignHandler{
		campaignService: campaignService,
	}
}

// Create handles POST /tenants/{tenant}/campaigns - enqueues a new campaign
func (h *CampaignHandler) Create(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := tenantFromPath(w, r)
	if !ok {
		return
	}

	var req service.CreateCampaignRequest
	if !decodeJSON(w, r, &req, false) {
		return
	}
	req.TenantID = tenantID

	campaign, err := h.campaignService.CreateCampaign(r.Context(), &req)
	if err != nil {
		HandleServiceError(w, r, err)
		return
	}

	_ = WriteCreated(w, campaign)
}

// List handles GET /tenants/{tenant}/campaigns - lists a tenant's campaigns
func (h *CampaignHandler) List(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := tenantFromPath(w, r)
	if !ok {
		return
	}
	query := r.URL.Query()

	filters := repository.CampaignFilters{
		Page:     positiveInt(query.Get("page"), 1),
		PageSize: min(positiveInt(query.Get("per_page"), 20), 100),
		TenantID: tenantID,
	}

	if statusStr := query.Get("status"); statusStr != "" {
		status := models.CampaignStatus(statusStr)
		switch status {
		case models.CampaignStatusPending, models.CampaignStatusProcessing, models.CampaignStatusCompleted:
			filters.Status = &status
		default:
			WriteValidationError(w, "invalid status: must be one of pending, processing, completed")
			return
		}
	}

	campaigns, pagination, err := h.campaignService.ListCampaigns(r.Context(), filters)
	if err != nil {
		HandleServiceError(w, r, err)
		return
	}
	if campaigns == nil {
		campaigns = []*models.Campaign{}
	}

	_ = WriteOK(w, ListCampaignsResponse{
		Campaigns:  campaigns,
		Pagination: pagination,
	})
}

// GetByID handles GET /campaigns/{id} - returns a campaign with its counters
func (h *CampaignHandler) GetByID(w http.ResponseWriter, r *http.Request) {
	id, ok := campaignIDFromPath(w, r)
	if !ok {
		return
	}

	campaign, err := h.campaignService.GetCampaignWithStats(r.Context(), id)
	if err != nil {
		HandleServiceError(w, r, err)
		return
	}

	_ = WriteOK(w, campaign)
}

// Messages handles GET /campaigns/{id}/messages - lists a campaign's queue rows
func (h *CampaignHandler) Messages(w http.ResponseWriter, r *http.Request) {
	id, ok := campaignIDFromPath(w, r)
	if !ok {
		return
	}

	messages, err := h.campaignService.GetCampaignMessages(r.Context(), id)
	if err != nil {
		HandleServiceError(w, r, err)
		return
	}
	if messages == nil {
		messages = []*models.QueuedMessage{}
	}

	_ = WriteOK(w, CampaignMessagesResponse{CampaignID: id, Messages: messages})
}

func tenantFromPath(w http.ResponseWriter, r *http.Request) (string, bool) {
	tenantID := mux.Vars(r)["tenant"]
	if !tenantIDPattern.MatchString(tenantID) {
		WriteValidationError(w, "invalid tenant ID format")
		return "", false
	}
	return tenantID, true
}

func campaignIDFromPath(w http.ResponseWriter, r *http.Request) (int, bool) {
	id, err := strconv.Atoi(mux.Vars(r)["id"])
	if err != nil {
		WriteValidationError(w, "invalid campaign ID format")
		return 0, false
	}
	if id <= 0 {
		WriteValidationError(w, "campaign ID must be greater than 0")
		return 0, false
	}
	return id, true
}

func positiveInt(s string, def int) int {
	if v, err := strconv.Atoi(s); err == nil && v > 0 {
		return v
	}
	return def
}

// ListCampaignsResponse represents the response for listing campaigns
type ListCampaignsResponse struct {
	Campaigns  []*models.Campaign      `json:"campaigns"`
	Pagination *service.PaginationInfo `json:"pagination"`
}

// CampaignMessagesResponse lists the queue rows of one campaign
type CampaignMessagesResponse struct {
	CampaignID int                     `json:"campaign_id"`
	Messages   []*models.QueuedMessage `json:"messages"`
}
