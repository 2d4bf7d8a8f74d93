package handler

import (
	"net/http"

	"github.com/gorilla/mux"
)

// NewRouter wires the API routes. protect wraps the routes that mutate
// state: campaign creation and dispatch triggers.
func NewRouter(campaigns *CampaignHandler, dispatch *DispatchHandler, health *HealthHandler, protect mux.MiddlewareFunc) *mux.Router {
	router := mux.NewRouter()

	router.HandleFunc("/health", health.HandleHealth).Methods(http.MethodGet)

	router.HandleFunc("/campaigns/{id}", campaigns.GetByID).Methods(http.MethodGet)
	router.HandleFunc("/campaigns/{id}/messages", campaigns.Messages).Methods(http.MethodGet)
	router.HandleFunc("/tenants/{tenant}/campaigns", campaigns.List).Methods(http.MethodGet)

	writes := router.NewRoute().Subrouter()
	if protect != nil {
		writes.Use(protect)
	}
	writes.HandleFunc("/tenants/{tenant}/campaigns", campaigns.Create).Methods(http.MethodPost)
	writes.HandleFunc("/tenants/{tenant}/dispatch", dispatch.Trigger).Methods(http.MethodPost)

	return router
}
