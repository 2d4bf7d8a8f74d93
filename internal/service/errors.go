package service

import "fmt"

// NotFoundError represents a resource not found error
type NotFoundError struct {
	Resource string
	ID       int
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s with ID %d not found", e.Resource, e.ID)
}

// ValidationError represents a validation error
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error: %s", e.Message)
}

// ConfigError means a tenant's SMTP settings are missing or unusable. It is
// raised before any network I/O or queue mutation.
type ConfigError struct {
	TenantID string
	Message  string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("smtp configuration for tenant %q: %s", e.TenantID, e.Message)
}
