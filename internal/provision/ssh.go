package provision

import (
	"context"
	"fmt"

	"github.com/isdelr/access-panel-be/internal/models"
	"github.com/isdelr/access-panel-be/internal/validator"
)

// SSHAccounts creates login accounts in the host's user database.
type SSHAccounts struct {
	runner Runner
	shell  string
}

// NewSSHAccounts returns an SSHAccounts backed by runner.
func NewSSHAccounts(runner Runner) *SSHAccounts {
	return &SSHAccounts{runner: runner, shell: "/bin/bash"}
}

// Create adds the OS user and sets its password. The password travels on
// chpasswd's stdin so it never appears in a process listing.
func (a *SSHAccounts) Create(ctx context.Context, username, password string) models.ProvisionResult {
	if !validator.IsUsername(username) {
		return models.ProvisionFailed("Invalid SSH username %q", username)
	}
	if !validator.IsLinePassword(password) {
		return models.ProvisionFailed("Invalid SSH password for %s: line breaks and NUL are not allowed", username)
	}
	if _, err := a.runner.Run(ctx, "", "useradd", "-m", "-s", a.shell, username); err != nil {
		return models.ProvisionFailed("Failed to create SSH user %s: %v", username, err)
	}
	if _, err := a.runner.Run(ctx, username+":"+password+"\n", "chpasswd"); err != nil {
		return models.ProvisionFailed("Created SSH user %s but failed to set its password: %v", username, err)
	}
	return models.ProvisionResult{
		Success: true,
		Detail:  fmt.Sprintf("SSH account created. Username: %s Password: %s", username, password),
	}
}
