package secrets

import (
	"context"
	"fmt"
	"os"
	"sort"
	"strings"
)

// EnvProvider reads secrets from environment variables.
//
// A secret name maps to an upper-cased variable with hyphens and dots
// replaced by underscores, behind Prefix: with prefix "BASTION_SECRET_" the
// secret "admin-key" is read from BASTION_SECRET_ADMIN_KEY.
type EnvProvider struct {
	Prefix string

	lookup  func(string) (string, bool)
	environ func() []string
}

// NewEnvProvider creates an environment provider.
func NewEnvProvider(prefix string) *EnvProvider {
	return &EnvProvider{
		Prefix:  prefix,
		lookup:  os.LookupEnv,
		environ: os.Environ,
	}
}

// GetSecret reads the variable for name. An unset or empty variable is
// reported as ErrNotFound.
func (p *EnvProvider) GetSecret(_ context.Context, name string) (string, error) {
	envVar := p.envVar(name)
	value, ok := p.lookup(envVar)
	if !ok || value == "" {
		return "", fmt.Errorf("%w: %s (env var %s)", ErrNotFound, name, envVar)
	}
	return value, nil
}

// ListSecrets returns the secret names of every prefixed variable.
func (p *EnvProvider) ListSecrets(context.Context) ([]string, error) {
	var names []string
	for _, kv := range p.environ() {
		key, _, ok := strings.Cut(kv, "=")
		if !ok || !strings.HasPrefix(key, p.Prefix) || key == p.Prefix {
			continue
		}
		names = append(names, p.secretName(key))
	}
	sort.Strings(names)
	return names, nil
}

// Name returns "env".
func (p *EnvProvider) Name() string { return "env" }

// Supports always returns true so the environment acts as a fallback.
func (p *EnvProvider) Supports(string) bool { return true }

var envReplacer = strings.NewReplacer("-", "_", ".", "_")

func (p *EnvProvider) envVar(name string) string {
	return p.Prefix + strings.ToUpper(envReplacer.Replace(name))
}

func (p *EnvProvider) secretName(envVar string) string {
	return strings.ToLower(strings.ReplaceAll(strings.TrimPrefix(envVar, p.Prefix), "_", "-"))
}
