package models

import (
	"fmt"
	"strings"
)

// AccountType is the top-level choice made on the account type page.
type AccountType string

const (
	AccountTypeSSH   AccountType = "ssh"
	AccountTypeV2Ray AccountType = "v2ray"
)

// AccountTypes lists the selectable account types in display order.
var AccountTypes = []AccountType{AccountTypeSSH, AccountTypeV2Ray}

// ParseAccountType normalises s into a known AccountType.
func ParseAccountType(s string) (AccountType, error) {
	switch t := AccountType(strings.ToLower(strings.TrimSpace(s))); t {
	case AccountTypeSSH, AccountTypeV2Ray:
		return t, nil
	}
	return "", fmt.Errorf("unknown account type %q", s)
}

// V2RayVariant selects the proxy protocol for a V2Ray account.
type V2RayVariant string

const (
	V2RayVMess  V2RayVariant = "vmess"
	V2RayTrojan V2RayVariant = "trojan"
	V2RayXray   V2RayVariant = "xray"
)

// V2RayVariants lists the supported proxy protocols in display order.
var V2RayVariants = []V2RayVariant{V2RayVMess, V2RayTrojan, V2RayXray}

// ParseV2RayVariant normalises s into a known V2RayVariant.
func ParseV2RayVariant(s string) (V2RayVariant, error) {
	switch v := V2RayVariant(strings.ToLower(strings.TrimSpace(s))); v {
	case V2RayVMess, V2RayTrojan, V2RayXray:
		return v, nil
	}
	return "", fmt.Errorf("unknown v2ray variant %q", s)
}

// ProvisionKind is the resolved provisioning path. The zero value is invalid.
type ProvisionKind int

const (
	ProvisionSSH ProvisionKind = iota + 1
	ProvisionVMess
	ProvisionTrojan
	ProvisionXray
)

func (k ProvisionKind) String() string {
	switch k {
	case ProvisionSSH:
		return "ssh"
	case ProvisionVMess:
		return "v2ray-vmess"
	case ProvisionTrojan:
		return "v2ray-trojan"
	case ProvisionXray:
		return "v2ray-xray"
	}
	return fmt.Sprintf("ProvisionKind(%d)", int(k))
}

// ProvisionRequest carries one account-creation submission. It is never stored.
type ProvisionRequest struct {
	AccountType  AccountType
	V2RayVariant V2RayVariant
	Username     string
	Password     string
}

// Kind resolves the account type and variant pair into a provisioning path.
func (r ProvisionRequest) Kind() (ProvisionKind, error) {
	switch r.AccountType {
	case AccountTypeSSH:
		return ProvisionSSH, nil
	case AccountTypeV2Ray:
		switch r.V2RayVariant {
		case V2RayVMess:
			return ProvisionVMess, nil
		case V2RayTrojan:
			return ProvisionTrojan, nil
		case V2RayXray:
			return ProvisionXray, nil
		}
		return 0, fmt.Errorf("unknown v2ray variant %q", r.V2RayVariant)
	}
	return 0, fmt.Errorf("unknown account type %q", r.AccountType)
}

// ProvisionResult is echoed back to the caller after a provisioning attempt.
type ProvisionResult struct {
	Success bool   `json:"success"`
	Detail  string `json:"detail"`
}

// ProvisionFailed builds a failed result from a formatted reason.
func ProvisionFailed(format string, args ...any) ProvisionResult {
	return ProvisionResult{Success: false, Detail: fmt.Sprintf(format, args...)}
}
