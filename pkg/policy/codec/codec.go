// Package codec encodes and decodes policy snapshots stored in the version
// history. Snapshots are wrapped in a small envelope carrying a format
// number so that bytes written by an incompatible encoder are rejected
// instead of silently misread.
package codec

import (
	"encoding/json"
	"fmt"

	"gopkg.in/yaml.v3"

	"mercator-hq/bastion/pkg/policy"
)

// FormatVersion is the envelope format written by this package.
const FormatVersion = 1

// Codec serializes policy snapshots. Decode failures match policy.ErrVersionMismatch.
type Codec interface {
	Encode(p *policy.Policy) ([]byte, error)
	Decode(data []byte) (*policy.Policy, error)
	Name() string
}

type envelope struct {
	Format int            `json:"format" yaml:"format"`
	Policy *policy.Policy `json:"policy" yaml:"policy"`
}

// JSON is the default snapshot codec.
type JSON struct{}

// Name returns "json".
func (JSON) Name() string { return "json" }

// Encode writes the policy inside a format envelope.
func (JSON) Encode(p *policy.Policy) ([]byte, error) {
	if p == nil {
		return nil, fmt.Errorf("encode snapshot: nil policy")
	}
	return json.Marshal(envelope{Format: FormatVersion, Policy: p})
}

// Decode reads a snapshot written by Encode.
func (JSON) Decode(data []byte) (*policy.Policy, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, mismatch("json", err)
	}
	return checkEnvelope(env)
}

// YAML encodes snapshots as YAML documents. Used when snapshots are meant to
// be human-reviewed, e.g. when exported through the admin API.
type YAML struct{}

// Name returns "yaml".
func (YAML) Name() string { return "yaml" }

// Encode writes the policy inside a format envelope.
func (YAML) Encode(p *policy.Policy) ([]byte, error) {
	if p == nil {
		return nil, fmt.Errorf("encode snapshot: nil policy")
	}
	return yaml.Marshal(envelope{Format: FormatVersion, Policy: p})
}

// Decode reads a snapshot written by Encode.
func (YAML) Decode(data []byte) (*policy.Policy, error) {
	var env envelope
	if err := yaml.Unmarshal(data, &env); err != nil {
		return nil, mismatch("yaml", err)
	}
	return checkEnvelope(env)
}

// New returns the codec registered under name.
func New(name string) (Codec, error) {
	switch name {
	case "", "json":
		return JSON{}, nil
	case "yaml":
		return YAML{}, nil
	}
	return nil, fmt.Errorf("unknown snapshot codec %q", name)
}

func checkEnvelope(env envelope) (*policy.Policy, error) {
	if env.Format != FormatVersion {
		return nil, fmt.Errorf("%w: snapshot format %d, want %d", policy.ErrVersionMismatch, env.Format, FormatVersion)
	}
	if env.Policy == nil {
		return nil, fmt.Errorf("%w: snapshot has no policy", policy.ErrVersionMismatch)
	}
	return env.Policy, nil
}

func mismatch(codec string, err error) error {
	return fmt.Errorf("%w: decode %s snapshot: %v", policy.ErrVersionMismatch, codec, err)
}
