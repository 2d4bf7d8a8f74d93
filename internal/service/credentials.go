package service

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/kelseyhightower/envconfig"

	"clubmailer/internal/models"
)

// CredentialResolver yields the SMTP credential tuple for a tenant
type CredentialResolver interface {
	Resolve(ctx context.Context, tenantID string) (models.SMTPCredentials, error)
}

// smtpSpec is one SMTP_* variable set
type smtpSpec struct {
	Host     string
	Port     int    `default:"587"`
	Secure   string `default:"tls"` // none, tls (STARTTLS) or ssl
	Username string
	Password string
}

// EnvCredentialResolver reads TENANT_<ID>_SMTP_* variables, falling back to
// the shared SMTP_* set when the tenant has no host of its own
type EnvCredentialResolver struct{}

// NewEnvCredentialResolver creates a new EnvCredentialResolver
func NewEnvCredentialResolver() *EnvCredentialResolver {
	return &EnvCredentialResolver{}
}

// Resolve implements CredentialResolver
func (r *EnvCredentialResolver) Resolve(ctx context.Context, tenantID string) (models.SMTPCredentials, error) {
	prefix := TenantEnvPrefix(tenantID)
	if _, ok := os.LookupEnv(prefix + "_HOST"); !ok {
		prefix = "SMTP"
	}

	var spec smtpSpec
	if err := envconfig.Process(prefix, &spec); err != nil {
		return models.SMTPCredentials{}, fmt.Errorf("failed to read %s_* settings: %w", prefix, err)
	}

	mode, err := models.ParseSecureMode(spec.Secure)
	if err != nil {
		return models.SMTPCredentials{}, err
	}

	return models.SMTPCredentials{
		Host:       spec.Host,
		Port:       spec.Port,
		SecureMode: mode,
		Username:   spec.Username,
		Password:   spec.Password,
	}, nil
}

// TenantEnvPrefix returns the environment prefix for a tenant's SMTP settings
func TenantEnvPrefix(tenantID string) string {
	var b strings.Builder
	for _, r := range strings.ToUpper(tenantID) {
		if (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
		} else {
			b.WriteByte('_')
		}
	}
	return "TENANT_" + b.String() + "_SMTP"
}

// StaticResolver serves credentials from a fixed map
type StaticResolver map[string]models.SMTPCredentials

// Resolve implements CredentialResolver
func (r StaticResolver) Resolve(ctx context.Context, tenantID string) (models.SMTPCredentials, error) {
	creds, ok := r[tenantID]
	if !ok {
		return models.SMTPCredentials{}, fmt.Errorf("no smtp settings")
	}
	return creds, nil
}
