package services

import (
	"context"
	"fmt"
	"strings"

	"github.com/isdelr/access-panel-be/internal/models"
	"github.com/isdelr/access-panel-be/internal/validator"
	"github.com/rs/zerolog/log"
)

// Provisioner performs one account-creation mutation.
type Provisioner interface {
	Provision(ctx context.Context, req models.ProvisionRequest) models.ProvisionResult
}

// CreateAccountRequest is the account creation form.
type CreateAccountRequest struct {
	AccountType  string `json:"accountType" validate:"required,oneof=ssh v2ray"`
	V2RayVariant string `json:"v2rayType" validate:"required_if=AccountType v2ray,omitempty,oneof=vmess trojan xray"`
	Username     string `json:"username" validate:"required,username"`
	Password     string `json:"password" validate:"required,passwd"`
}

// ProvisionServiceProvider defines the interface for provisioning services.
type ProvisionServiceProvider interface {
	CreateAccount(ctx context.Context, requestedBy string, req CreateAccountRequest) (models.ProvisionResult, error)
}

// ProvisionService validates account requests and records their outcome.
type ProvisionService struct {
	provisioner Provisioner
	events      EventServiceProvider
}

// NewProvisionService creates a new ProvisionService.
func NewProvisionService(provisioner Provisioner, events EventServiceProvider) *ProvisionService {
	return &ProvisionService{provisioner: provisioner, events: events}
}

// CreateAccount validates req and provisions it. A validation problem is the
// only error; provisioning failures come back inside the result. The mutation
// is not cancelled if the caller goes away.
func (s *ProvisionService) CreateAccount(ctx context.Context, requestedBy string, req CreateAccountRequest) (models.ProvisionResult, error) {
	req.AccountType = strings.ToLower(strings.TrimSpace(req.AccountType))
	req.V2RayVariant = strings.ToLower(strings.TrimSpace(req.V2RayVariant))
	req.Username = strings.TrimSpace(req.Username)
	if req.AccountType == string(models.AccountTypeSSH) {
		req.V2RayVariant = ""
	}
	if err := validator.Struct(req); err != nil {
		return models.ProvisionResult{}, err
	}

	accountType, err := models.ParseAccountType(req.AccountType)
	if err != nil {
		return models.ProvisionResult{}, err
	}
	preq := models.ProvisionRequest{AccountType: accountType, Username: req.Username, Password: req.Password}
	if accountType == models.AccountTypeV2Ray {
		if preq.V2RayVariant, err = models.ParseV2RayVariant(req.V2RayVariant); err != nil {
			return models.ProvisionResult{}, err
		}
	}
	kind, _ := preq.Kind()

	result := s.provisioner.Provision(context.WithoutCancel(ctx), preq)

	actor := &requestedBy
	if requestedBy == "" {
		actor = nil
	}
	if result.Success {
		log.Info().Str("kind", kind.String()).Str("account", preq.Username).Str("requested_by", requestedBy).Msg("Account provisioned")
		recordEvent(s.events, models.EventProvisionSuccess, "info",
			fmt.Sprintf("Provisioned %s account '%s'.", kind, preq.Username), actor)
	} else {
		log.Error().Str("kind", kind.String()).Str("account", preq.Username).Str("detail", result.Detail).Msg("Provisioning failed")
		recordEvent(s.events, models.EventProvisionFail, "error",
			fmt.Sprintf("Provisioning %s account '%s' failed: %s", kind, preq.Username, result.Detail), actor)
	}
	return result, nil
}

// ContainerRestarter restarts a proxy container by name.
type ContainerRestarter interface {
	RestartContainer(ctx context.Context, name string) error
}

// AuditedRestarter records failed proxy restarts in the event log.
type AuditedRestarter struct {
	Restarter ContainerRestarter
	Events    EventServiceProvider
}

// RestartContainer restarts name and records a warning event when that fails.
func (a AuditedRestarter) RestartContainer(ctx context.Context, name string) error {
	err := a.Restarter.RestartContainer(ctx, name)
	if err != nil {
		recordEvent(a.Events, models.EventProxyRestartFail, "warn",
			fmt.Sprintf("Restart of proxy container '%s' failed: %v", name, err), nil)
	}
	return err
}
