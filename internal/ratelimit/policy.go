package ratelimit

import (
	"fmt"
	"time"
)

const (
	PolicyAuth       = "auth"
	PolicyUpload     = "upload"
	PolicyCreateIdea = "create_idea"
	PolicyAddURL     = "add_url"
	PolicyAPI        = "api"
)

type Policy struct {
	Name   string
	Max    int
	Window time.Duration
}

func (p Policy) Validate() error {
	if p.Max <= 0 {
		return fmt.Errorf("policy %s: max must be positive, got %d", p.Name, p.Max)
	}
	if p.Window <= 0 {
		return fmt.Errorf("policy %s: window must be positive, got %s", p.Name, p.Window)
	}
	return nil
}

type Policies map[string]Policy

func DefaultPolicies() Policies {
	return Policies{
		PolicyAuth:       {Name: PolicyAuth, Max: 5, Window: 15 * time.Minute},
		PolicyUpload:     {Name: PolicyUpload, Max: 10, Window: time.Hour},
		PolicyCreateIdea: {Name: PolicyCreateIdea, Max: 20, Window: 24 * time.Hour},
		PolicyAddURL:     {Name: PolicyAddURL, Max: 30, Window: time.Hour},
		PolicyAPI:        {Name: PolicyAPI, Max: 100, Window: time.Minute},
	}
}

// Get returns the named policy, falling back to the built-in default.
func (p Policies) Get(name string) Policy {
	if policy, ok := p[name]; ok {
		return policy
	}
	return DefaultPolicies()[name]
}

// Override replaces max and window of a named policy. Invalid values leave
// the policy unchanged.
func (p Policies) Override(name string, max int, window time.Duration) error {
	policy := Policy{Name: name, Max: max, Window: window}
	if err := policy.Validate(); err != nil {
		return err
	}
	p[name] = policy
	return nil
}
