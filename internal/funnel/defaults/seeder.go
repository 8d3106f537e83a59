package defaults

import (
	"context"
	"fmt"
	"time"

	"funnel_backend/internal/funnel/domain"
	"funnel_backend/internal/funnel/transport"
	"funnel_backend/platform/logger"

	"github.com/google/uuid"
)

// RuleWriter stores a tenant's scoring rules.
type RuleWriter interface {
	ReplaceRules(ctx context.Context, tenantID uuid.UUID, rules domain.RuleSet) (domain.RuleSet, error)
}

// SequenceWriter stores a tenant's sequences.
type SequenceWriter interface {
	Upsert(ctx context.Context, tenantID uuid.UUID, req transport.UpsertSequenceRequest) (domain.Sequence, error)
}

// Seeder applies a defaults file to tenants.
type Seeder struct {
	file      File
	rules     RuleWriter
	sequences SequenceWriter
	log       *logger.Logger
}

// NewSeeder creates a seeder for file.
func NewSeeder(file File, rules RuleWriter, sequences SequenceWriter, log *logger.Logger) *Seeder {
	return &Seeder{file: file, rules: rules, sequences: sequences, log: log}
}

// SeedRules replaces the tenant's scoring rules with the defaults.
func (s *Seeder) SeedRules(ctx context.Context, tenantID uuid.UUID) (domain.RuleSet, error) {
	rules, err := s.rules.ReplaceRules(ctx, tenantID, s.file.RuleSet(tenantID, time.Time{}))
	if err != nil {
		return domain.RuleSet{}, err
	}
	s.log.WithContext(ctx).Info("default scoring rules seeded", "tenantId", tenantID, "rules", len(rules.Rules))
	return rules, nil
}

// SeedAll seeds the scoring rules and upserts every default sequence.
func (s *Seeder) SeedAll(ctx context.Context, tenantID uuid.UUID) (domain.RuleSet, []domain.Sequence, error) {
	rules, err := s.SeedRules(ctx, tenantID)
	if err != nil {
		return domain.RuleSet{}, nil, err
	}
	sequences := make([]domain.Sequence, 0, len(s.file.Sequences))
	for _, req := range s.file.SequenceRequests(tenantID) {
		seq, err := s.sequences.Upsert(ctx, tenantID, req)
		if err != nil {
			return rules, sequences, fmt.Errorf("seed sequence %q: %w", req.Name, err)
		}
		sequences = append(sequences, seq)
	}
	s.log.WithContext(ctx).Info("default sequences seeded", "tenantId", tenantID, "sequences", len(sequences))
	return rules, sequences, nil
}
