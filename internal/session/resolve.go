package session

import "github.com/matheus3301/livechat/internal/config"

const DefaultProfile = "main"

// Resolve determines the active profile using precedence:
// 1. flagOverride (--profile flag)
// 2. default_profile from config.toml or LIVECHAT_PROFILE
// 3. "main"
func Resolve(flagOverride string) string {
	if flagOverride != "" {
		return flagOverride
	}
	cfg, err := config.LoadWithEnv(ConfigPath())
	if err == nil && cfg.DefaultProfile != "" {
		return cfg.DefaultProfile
	}
	return DefaultProfile
}
