package session

import "github.com/skdvlpr/gomercatocrm/internal/bridge"

// ResolveID determines the bridge session id using precedence:
// 1. flagOverride (--session flag)
// 2. configured (config.toml or CRMCHAT_BRIDGE_SESSION_ID)
// 3. bridge.DefaultSessionID
func ResolveID(flagOverride, configured string) string {
	if flagOverride != "" {
		return flagOverride
	}
	if configured != "" {
		return configured
	}
	return bridge.DefaultSessionID
}
