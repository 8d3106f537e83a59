// Package defaults loads the starting scoring rules and sequences a tenant
// can opt into, and seeds them through the regular services.
package defaults

import (
	_ "embed"
	"fmt"
	"os"
	"time"

	"funnel_backend/internal/funnel/domain"
	"funnel_backend/internal/funnel/transport"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"
)

//go:embed funnel_defaults.yaml
var builtin []byte

// File is the YAML layout of a defaults file.
type File struct {
	Scoring   ScoringFile    `yaml:"scoring"`
	Sequences []SequenceFile `yaml:"sequences"`
}

type ScoringFile struct {
	Thresholds domain.Thresholds `yaml:"thresholds"`
	Rules      []RuleFile        `yaml:"rules"`
}

type RuleFile struct {
	SignalType          string `yaml:"signalType"`
	Weight              int    `yaml:"weight"`
	StalenessWindowDays int    `yaml:"stalenessWindowDays"`
	MaxOccurrences      int    `yaml:"maxOccurrences"`
}

type SequenceFile struct {
	Name       string      `yaml:"name"`
	Trigger    TriggerFile `yaml:"trigger"`
	ExitStages []string    `yaml:"exitStages"`
	Steps      []StepFile  `yaml:"steps"`
}

type TriggerFile struct {
	Kind            string `yaml:"kind"`
	Stage           string `yaml:"stage"`
	InactivityHours int    `yaml:"inactivityHours"`
}

type StepFile struct {
	TemplateRef string `yaml:"templateRef"`
	Channel     string `yaml:"channel"`
	DelayHours  int    `yaml:"delayHours"`
}

// Load reads the defaults at path, or the built-in defaults when path is
// empty. The result is validated before it is returned.
func Load(path string) (File, error) {
	data := builtin
	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return File{}, fmt.Errorf("read defaults file: %w", err)
		}
		data = raw
	}
	return Parse(data)
}

// Parse decodes and validates a defaults document.
func Parse(data []byte) (File, error) {
	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return File{}, fmt.Errorf("decode defaults: %w", err)
	}
	signals := make(map[string]struct{}, len(f.Scoring.Rules))
	for _, r := range f.Scoring.Rules {
		if _, dup := signals[r.SignalType]; dup {
			return File{}, fmt.Errorf("duplicate default rule for %q", r.SignalType)
		}
		signals[r.SignalType] = struct{}{}
	}
	if err := f.RuleSet(uuid.Nil, time.Time{}).Validate(); err != nil {
		return File{}, fmt.Errorf("invalid default scoring rules: %w", err)
	}
	seen := make(map[string]struct{}, len(f.Sequences))
	for _, s := range f.Sequences {
		if s.Name == "" {
			return File{}, fmt.Errorf("default sequence without a name")
		}
		if _, dup := seen[s.Name]; dup {
			return File{}, fmt.Errorf("duplicate default sequence %q", s.Name)
		}
		seen[s.Name] = struct{}{}
		if err := transport.ToSequence(s.request(uuid.Nil)).Validate(); err != nil {
			return File{}, fmt.Errorf("invalid default sequence %q: %w", s.Name, err)
		}
	}
	return f, nil
}

// RuleSet converts the scoring section into a tenant rule table.
func (f File) RuleSet(tenantID uuid.UUID, at time.Time) domain.RuleSet {
	rs := domain.RuleSet{
		TenantID:   tenantID,
		Thresholds: f.Scoring.Thresholds,
		Rules:      make(map[string]domain.ScoringRule, len(f.Scoring.Rules)),
		UpdatedAt:  at,
	}
	for _, r := range f.Scoring.Rules {
		rs.Rules[r.SignalType] = domain.ScoringRule{
			SignalType:      r.SignalType,
			Weight:          r.Weight,
			StalenessWindow: time.Duration(r.StalenessWindowDays) * 24 * time.Hour,
			MaxOccurrences:  r.MaxOccurrences,
		}
	}
	return rs
}

// SequenceRequests returns one upsert request per default sequence. IDs are
// derived from the tenant and the sequence name, so seeding twice updates the
// same sequences instead of duplicating them.
func (f File) SequenceRequests(tenantID uuid.UUID) []transport.UpsertSequenceRequest {
	out := make([]transport.UpsertSequenceRequest, 0, len(f.Sequences))
	for _, s := range f.Sequences {
		out = append(out, s.request(tenantID))
	}
	return out
}

func (s SequenceFile) request(tenantID uuid.UUID) transport.UpsertSequenceRequest {
	id := uuid.NewSHA1(tenantID, []byte("funnel-default-sequence:"+s.Name))
	req := transport.UpsertSequenceRequest{
		ID:         &id,
		Name:       s.Name,
		ExitStages: s.ExitStages,
		Trigger: transport.TriggerDTO{
			Kind:            s.Trigger.Kind,
			Stage:           s.Trigger.Stage,
			InactivityHours: s.Trigger.InactivityHours,
		},
	}
	for _, st := range s.Steps {
		req.Steps = append(req.Steps, transport.SequenceStepDTO{
			TemplateRef: st.TemplateRef,
			DelayHours:  st.DelayHours,
			Channel:     st.Channel,
		})
	}
	return req
}
