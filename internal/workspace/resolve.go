package workspace

import (
	"fmt"
	"regexp"

	"github.com/matheus3301/wppdesk/internal/config"
)

const DefaultName = "main"

var nameRegexp = regexp.MustCompile(`^[a-z0-9_-]{1,64}$`)

// ValidateName checks that name conforms to workspace naming rules.
func ValidateName(name string) error {
	if !nameRegexp.MatchString(name) {
		return fmt.Errorf("invalid workspace name %q: must match ^[a-z0-9_-]{1,64}$", name)
	}
	return nil
}

// Resolve determines the active workspace name using precedence:
// 1. flagOverride (--workspace flag)
// 2. cfg.DefaultWorkspace (config.toml, overridden by WPPDESK_WORKSPACE)
// 3. "main"
func Resolve(flagOverride string, cfg *config.Config) string {
	if flagOverride != "" {
		return flagOverride
	}
	if cfg != nil && cfg.DefaultWorkspace != "" {
		return cfg.DefaultWorkspace
	}
	return DefaultName
}

// LoadConfig reads the workspace-independent configuration: the .env file
// next to config.toml, then config.toml itself.
func LoadConfig() (*config.Config, error) {
	config.LoadEnv(EnvPath(), ".env")
	return config.Resolve(ConfigPath())
}
