package domain

import (
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
)

// Known engagement signal types. Tenants may score additional types by
// listing them in their rule table.
const (
	SignalMasterclassAttended = "masterclass_attended"
	SignalCallCompleted       = "call_completed"
	SignalEmailOpened         = "email_opened"
	SignalEmailClicked        = "email_clicked"
	SignalWhatsAppReplied     = "whatsapp_replied"
	SignalFormSubmitted       = "form_submitted"
	SignalPaymentLinkOpened   = "payment_link_opened"
	SignalUnsubscribed        = "unsubscribed"
)

// KnownSignalTypes lists the built-in signal types.
var KnownSignalTypes = []string{
	SignalMasterclassAttended,
	SignalCallCompleted,
	SignalEmailOpened,
	SignalEmailClicked,
	SignalWhatsAppReplied,
	SignalFormSubmitted,
	SignalPaymentLinkOpened,
	SignalUnsubscribed,
}

const (
	minRuleWeight = -100
	maxRuleWeight = 100
)

// Signal is one recorded occurrence of an engagement event. Occurrences are
// never deleted; stale ones simply stop contributing.
type Signal struct {
	ID         uuid.UUID
	TenantID   uuid.UUID
	LeadID     uuid.UUID
	Type       string
	OccurredAt time.Time
	RecordedAt time.Time
}

// ScoringRule weighs one signal type. A zero StalenessWindow never expires and
// a zero MaxOccurrences does not cap.
type ScoringRule struct {
	SignalType      string
	Weight          int
	StalenessWindow time.Duration
	MaxOccurrences  int
}

// RuleSet is a tenant's complete scoring configuration.
type RuleSet struct {
	TenantID   uuid.UUID
	Rules      map[string]ScoringRule
	Thresholds Thresholds
	UpdatedAt  time.Time
}

// SortedRules returns the rules ordered by signal type.
func (rs RuleSet) SortedRules() []ScoringRule {
	out := make([]ScoringRule, 0, len(rs.Rules))
	for _, r := range rs.Rules {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SignalType < out[j].SignalType })
	return out
}

// Validate checks thresholds and every rule.
func (rs RuleSet) Validate() error {
	if err := rs.Thresholds.Validate(); err != nil {
		return err
	}
	if len(rs.Rules) == 0 {
		return fmt.Errorf("at least one scoring rule is required")
	}
	for key, r := range rs.Rules {
		if r.SignalType == "" || key != r.SignalType {
			return fmt.Errorf("rule key %q does not match signal type %q", key, r.SignalType)
		}
		if r.Weight < minRuleWeight || r.Weight > maxRuleWeight {
			return fmt.Errorf("weight for %s must be between %d and %d", r.SignalType, minRuleWeight, maxRuleWeight)
		}
		if r.StalenessWindow < 0 {
			return fmt.Errorf("staleness window for %s must not be negative", r.SignalType)
		}
		if r.MaxOccurrences < 0 {
			return fmt.Errorf("max occurrences for %s must not be negative", r.SignalType)
		}
	}
	return nil
}

// Contribution is the share of the score coming from one signal type.
type Contribution struct {
	SignalType  string `json:"signalType"`
	Occurrences int    `json:"occurrences"`
	Counted     int    `json:"counted"`
	Points      int    `json:"points"`
}

// ScoreResult is the outcome of evaluating a signal set.
type ScoreResult struct {
	Score         int
	Temperature   Temperature
	Contributions []Contribution
}

// Evaluate scores signals against the rule set at instant now. It is a pure
// function: occurrences older than a rule's staleness window, types without a
// rule and occurrences beyond the cap contribute nothing, and the total is
// clamped at zero.
func Evaluate(signals []Signal, rules RuleSet, now time.Time) ScoreResult {
	byType := make(map[string][]time.Time)
	for _, s := range signals {
		byType[s.Type] = append(byType[s.Type], s.OccurredAt)
	}

	types := make([]string, 0, len(byType))
	for t := range byType {
		types = append(types, t)
	}
	sort.Strings(types)

	total := 0
	contributions := make([]Contribution, 0, len(types))
	for _, signalType := range types {
		occurrences := byType[signalType]
		c := Contribution{SignalType: signalType, Occurrences: len(occurrences)}

		rule, ok := rules.Rules[signalType]
		if ok {
			fresh := 0
			for _, at := range occurrences {
				if rule.StalenessWindow == 0 || now.Sub(at) <= rule.StalenessWindow {
					fresh++
				}
			}
			if rule.MaxOccurrences > 0 && fresh > rule.MaxOccurrences {
				fresh = rule.MaxOccurrences
			}
			c.Counted = fresh
			c.Points = fresh * rule.Weight
			total += c.Points
		}
		contributions = append(contributions, c)
	}

	if total < 0 {
		total = 0
	}
	return ScoreResult{
		Score:         total,
		Temperature:   rules.Thresholds.Classify(total),
		Contributions: contributions,
	}
}
