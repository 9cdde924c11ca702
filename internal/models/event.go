package models

import "time"

// Event represents a loggable action in the system.
type Event struct {
	ID        string    `json:"id"`
	Type      string    `json:"type"`  // e.g., "user.register", "account.provision.fail"
	Level     string    `json:"level"` // e.g., "info", "warn", "error"
	Message   string    `json:"message"`
	Username  *string   `json:"username,omitempty"` // Nullable for system-wide events
	CreatedAt time.Time `json:"createdAt"`
}

// Event types recorded by the services.
const (
	EventUserRegister     = "user.register"
	EventUserVerify       = "user.verify"
	EventUserLogin        = "user.login"
	EventMailFail         = "mail.send.fail"
	EventProvisionSuccess = "account.provision.success"
	EventProvisionFail    = "account.provision.fail"
	EventProxyRestartFail = "proxy.restart.fail"
	EventRetentionPruned  = "system.events.pruned"
	EventDiskAlert        = "system.alert.disk"
)
