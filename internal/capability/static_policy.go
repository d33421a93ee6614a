package capability

import (
	"fmt"
	"os"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/pitabwire/catalogboard/model"
)

// policyFile maps roles to capability strings. Default capabilities are
// granted to every authenticated caller.
type policyFile struct {
	Default []string            `yaml:"default"`
	Roles   map[string][]string `yaml:"roles"`
}

// StaticPolicyEvaluator resolves capabilities from a static YAML file
// mapping roles to capability strings.
type StaticPolicyEvaluator struct {
	path   string
	mu     sync.RWMutex
	policy policyFile
}

// NewStaticPolicyEvaluator creates an evaluator that loads its policy from
// path.
func NewStaticPolicyEvaluator(path string) (*StaticPolicyEvaluator, error) {
	e := &StaticPolicyEvaluator{path: path}
	if err := e.Sync(); err != nil {
		return nil, err
	}
	return e, nil
}

// ResolveCapabilities returns the default capabilities plus the union of
// the capabilities of every role in the request context.
func (e *StaticPolicyEvaluator) ResolveCapabilities(rctx *model.RequestContext) (model.CapabilitySet, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	caps := make(model.CapabilitySet)
	for _, cap := range e.policy.Default {
		caps[cap] = true
	}
	for _, role := range rctx.Roles {
		for _, cap := range e.policy.Roles[role] {
			caps[cap] = true
		}
	}
	return caps, nil
}

// Sync reloads the policy file from disk.
func (e *StaticPolicyEvaluator) Sync() error {
	data, err := os.ReadFile(e.path)
	if err != nil {
		return fmt.Errorf("capability: reading policy file %s: %w", e.path, err)
	}

	var p policyFile
	if err := yaml.Unmarshal(data, &p); err != nil {
		return fmt.Errorf("capability: parsing policy file %s: %w", e.path, err)
	}

	e.mu.Lock()
	e.policy = p
	e.mu.Unlock()

	return nil
}

// Unrestricted grants every capability. It backs deployments without a
// policy file.
type Unrestricted struct{}

// ResolveCapabilities implements model.PolicyEvaluator.
func (Unrestricted) ResolveCapabilities(*model.RequestContext) (model.CapabilitySet, error) {
	return model.CapabilitySet{"*": true}, nil
}

// Sync implements model.PolicyEvaluator.
func (Unrestricted) Sync() error { return nil }
