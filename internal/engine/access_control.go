package engine

import (
	"strings"

	"merchantrisk/internal/config"
)

// MerchantAccess decides which merchants' transactions are admitted.
type MerchantAccess struct {
	Enabled       bool
	AllowlistOnly bool
	Allowlist     map[string]struct{}
	Blocklist     map[string]struct{}
}

func buildAccessControl(cfg *config.Config) *MerchantAccess {
	ac := &MerchantAccess{Enabled: cfg.AccessControl.Enabled, AllowlistOnly: cfg.AccessControl.AllowlistOnly}
	if !ac.Enabled {
		return ac
	}
	ac.Allowlist = buildMerchantSet(cfg.AccessControl.Allowlist)
	ac.Blocklist = buildMerchantSet(cfg.AccessControl.Blocklist)
	return ac
}

func buildMerchantSet(values []string) map[string]struct{} {
	if len(values) == 0 {
		return nil
	}
	set := make(map[string]struct{}, len(values))
	for _, v := range values {
		id := normalizeMerchantID(v)
		if id == "" {
			continue
		}
		set[id] = struct{}{}
	}
	if len(set) == 0 {
		return nil
	}
	return set
}

// Check returns an empty reason when the merchant is admitted.
func (a *MerchantAccess) Check(merchantID string) (reason string) {
	if a == nil || !a.Enabled {
		return ""
	}
	id := normalizeMerchantID(merchantID)
	if _, ok := a.Blocklist[id]; ok {
		return "blocklisted_merchant"
	}
	if a.AllowlistOnly {
		if _, ok := a.Allowlist[id]; !ok {
			return "not_allowlisted"
		}
	}
	return ""
}

func normalizeMerchantID(id string) string {
	return strings.ToUpper(strings.TrimSpace(id))
}
