// Package provision creates remote-access accounts: OS users for SSH and
// client entries in V2Ray-family proxy configuration files.
package provision

import (
	"context"
	"fmt"

	"github.com/isdelr/access-panel-be/internal/models"
	"github.com/rs/zerolog/log"
)

// Restarter reloads a proxy after its configuration changed.
type Restarter interface {
	RestartContainer(ctx context.Context, name string) error
}

// ProxyTarget is where one V2Ray variant keeps its configuration.
type ProxyTarget struct {
	ConfigPath string
	// Container, when set, is restarted after a successful edit.
	Container string
}

// Options wires a Provisioner.
type Options struct {
	Runner    Runner
	VMess     ProxyTarget
	Trojan    ProxyTarget
	Xray      ProxyTarget
	Restarter Restarter
	// BackupDir keeps a copy of each config document before it is edited.
	BackupDir string
}

// Provisioner dispatches a ProvisionRequest to its mutation path.
type Provisioner struct {
	ssh       *SSHAccounts
	vmess     ProxyTarget
	trojan    ProxyTarget
	xray      ProxyTarget
	restarter Restarter
	backupDir string
}

// New creates a Provisioner. A nil Runner means LocalRunner.
func New(opts Options) *Provisioner {
	runner := opts.Runner
	if runner == nil {
		runner = LocalRunner{}
	}
	return &Provisioner{
		ssh:       NewSSHAccounts(runner),
		vmess:     opts.VMess,
		trojan:    opts.Trojan,
		xray:      opts.Xray,
		restarter: opts.Restarter,
		backupDir: opts.BackupDir,
	}
}

// Provision performs the mutation for req. Failures are reported in the
// result, never returned or panicked.
func (p *Provisioner) Provision(ctx context.Context, req models.ProvisionRequest) (result models.ProvisionResult) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().Interface("panic", r).Str("username", req.Username).Msg("Provisioning panicked")
			result = models.ProvisionFailed("Provisioning failed unexpectedly: %v", r)
		}
	}()

	kind, err := req.Kind()
	if err != nil {
		return models.ProvisionFailed("Invalid account type: %v", err)
	}

	switch kind {
	case models.ProvisionSSH:
		return p.ssh.Create(ctx, req.Username, req.Password)
	case models.ProvisionVMess:
		client := VMessClient{ID: req.Username, AlterID: VMessAlterID, Security: VMessSecurity, Level: ClientLevel}
		return p.appendProxyClient(ctx, "VMess", p.vmess, FirstInbound, client,
			fmt.Sprintf("V2Ray VMess account created. ID: %s alterId: %d security: %s", client.ID, client.AlterID, client.Security))
	case models.ProvisionTrojan:
		client := TrojanClient{Password: req.Password, Email: req.Username, Level: ClientLevel}
		return p.appendProxyClient(ctx, "Trojan", p.trojan, InboundByProtocol("trojan"), client,
			fmt.Sprintf("V2Ray Trojan account created. Username: %s", client.Email))
	case models.ProvisionXray:
		client := XrayClient{ID: req.Username, Email: req.Username, Flow: XrayFlow, Level: ClientLevel}
		return p.appendProxyClient(ctx, "Xray", p.xray, InboundByProtocol("vless"), client,
			fmt.Sprintf("V2Ray Xray account created. ID: %s flow: %s", client.ID, client.Flow))
	}
	return models.ProvisionFailed("Unsupported account type %s", kind)
}

func (p *Provisioner) appendProxyClient(ctx context.Context, label string, target ProxyTarget, sel InboundSelector, client any, detail string) models.ProvisionResult {
	if target.ConfigPath == "" {
		return models.ProvisionFailed("%s provisioning is not configured", label)
	}

	n, err := ConfigFile{Path: target.ConfigPath, BackupDir: p.backupDir}.AppendClient(sel, client)
	if err != nil {
		return models.ProvisionFailed("Failed to add %s client: %v", label, err)
	}
	log.Info().Str("config", target.ConfigPath).Int("clients", n).Msgf("Added %s client", label)

	if target.Container != "" && p.restarter != nil {
		if err := p.restarter.RestartContainer(ctx, target.Container); err != nil {
			log.Warn().Err(err).Str("container", target.Container).Msg("Proxy restart failed")
			detail += fmt.Sprintf(" (restart of %s failed: %v; the client is active after the next restart)", target.Container, err)
		}
	}
	return models.ProvisionResult{Success: true, Detail: detail}
}
