package transport

import (
	"time"

	"funnel_backend/internal/funnel/domain"
)

func ToLeadResponse(l domain.Lead) LeadResponse {
	return LeadResponse{
		ID:             l.ID,
		FirstName:      l.FirstName,
		LastName:       l.LastName,
		Email:          l.Email,
		Phone:          l.Phone,
		Source:         l.Source,
		Stage:          string(l.Stage),
		Score:          l.Score,
		Temperature:    string(l.Temperature),
		StageEnteredAt: l.StageEnteredAt,
		LastActivityAt: l.LastActivityAt,
		ScoredAt:       l.ScoredAt,
		CreatedAt:      l.CreatedAt,
		UpdatedAt:      l.UpdatedAt,
	}
}

func ToLeadListResponse(leads []domain.Lead, total, page, pageSize int) LeadListResponse {
	items := make([]LeadResponse, 0, len(leads))
	for _, l := range leads {
		items = append(items, ToLeadResponse(l))
	}
	totalPages := 0
	if pageSize > 0 {
		totalPages = (total + pageSize - 1) / pageSize
	}
	return LeadListResponse{Items: items, Total: total, Page: page, PageSize: pageSize, TotalPages: totalPages}
}

func ToTransitionResponses(ts []domain.StageTransition) []TransitionResponse {
	out := make([]TransitionResponse, 0, len(ts))
	for _, t := range ts {
		var from *string
		if t.FromStage != nil {
			s := string(*t.FromStage)
			from = &s
		}
		out = append(out, TransitionResponse{
			ID:         t.ID,
			FromStage:  from,
			ToStage:    string(t.ToStage),
			Reason:     t.Reason,
			Actor:      t.Actor(),
			OccurredAt: t.OccurredAt,
		})
	}
	return out
}

func ToScoreResponse(l domain.Lead, r domain.ScoreResult) ScoreResponse {
	contributions := make([]ContributionResponse, 0, len(r.Contributions))
	for _, c := range r.Contributions {
		contributions = append(contributions, ContributionResponse(c))
	}
	return ScoreResponse{LeadID: l.ID, Score: r.Score, Temperature: string(r.Temperature), Contributions: contributions}
}

func ToScoringRulesResponse(rs domain.RuleSet) ScoringRulesResponse {
	rules := make([]ScoringRuleDTO, 0, len(rs.Rules))
	for _, r := range rs.SortedRules() {
		rules = append(rules, ScoringRuleDTO{
			SignalType:          r.SignalType,
			Weight:              r.Weight,
			StalenessWindowDays: int(r.StalenessWindow / (24 * time.Hour)),
			MaxOccurrences:      r.MaxOccurrences,
		})
	}
	return ScoringRulesResponse{WarmAt: rs.Thresholds.WarmAt, HotAt: rs.Thresholds.HotAt, Rules: rules, UpdatedAt: rs.UpdatedAt}
}

// ToRuleSet converts a replace request into the domain rule set.
func ToRuleSet(req ReplaceScoringRulesRequest) domain.RuleSet {
	rs := domain.RuleSet{
		Thresholds: domain.Thresholds{WarmAt: req.WarmAt, HotAt: req.HotAt},
		Rules:      make(map[string]domain.ScoringRule, len(req.Rules)),
	}
	for _, r := range req.Rules {
		rs.Rules[r.SignalType] = domain.ScoringRule{
			SignalType:      r.SignalType,
			Weight:          r.Weight,
			StalenessWindow: time.Duration(r.StalenessWindowDays) * 24 * time.Hour,
			MaxOccurrences:  r.MaxOccurrences,
		}
	}
	return rs
}

func ToSequenceResponse(s domain.Sequence) SequenceResponse {
	steps := make([]SequenceStepDTO, 0, len(s.Steps))
	for _, st := range s.Steps {
		steps = append(steps, SequenceStepDTO{TemplateRef: st.TemplateRef, DelayHours: st.DelayHours, Channel: string(st.Channel)})
	}
	exits := make([]string, 0, len(s.ExitStages))
	for _, e := range s.ExitStages {
		exits = append(exits, string(e))
	}
	return SequenceResponse{
		ID:   s.ID,
		Name: s.Name,
		Trigger: TriggerDTO{
			Kind:            string(s.Trigger.Kind),
			Stage:           string(s.Trigger.Stage),
			InactivityHours: s.Trigger.InactivityHours,
		},
		ExitStages: exits,
		Steps:      steps,
		Active:     s.Active,
		CreatedAt:  s.CreatedAt,
		UpdatedAt:  s.UpdatedAt,
	}
}

func ToSequenceResponses(seqs []domain.Sequence) []SequenceResponse {
	out := make([]SequenceResponse, 0, len(seqs))
	for _, s := range seqs {
		out = append(out, ToSequenceResponse(s))
	}
	return out
}

// ToSequence converts an upsert request into the domain sequence. Stage and
// channel values are passed through and checked by domain validation.
func ToSequence(req UpsertSequenceRequest) domain.Sequence {
	seq := domain.Sequence{
		Name: req.Name,
		Trigger: domain.Trigger{
			Kind:            domain.TriggerKind(req.Trigger.Kind),
			Stage:           domain.Stage(req.Trigger.Stage),
			InactivityHours: req.Trigger.InactivityHours,
		},
		Active: true,
	}
	if req.ID != nil {
		seq.ID = *req.ID
	}
	if req.Active != nil {
		seq.Active = *req.Active
	}
	for _, e := range req.ExitStages {
		seq.ExitStages = append(seq.ExitStages, domain.Stage(e))
	}
	for _, st := range req.Steps {
		seq.Steps = append(seq.Steps, domain.SequenceStep{
			TemplateRef: st.TemplateRef,
			DelayHours:  st.DelayHours,
			Channel:     domain.Channel(st.Channel),
		})
	}
	return seq
}

func ToEnrollmentResponse(e domain.Enrollment, steps []domain.ScheduledStep) EnrollmentResponse {
	out := EnrollmentResponse{
		ID:           e.ID,
		SequenceID:   e.SequenceID,
		SequenceName: e.SequenceName,
		Status:       string(e.Status),
		EnrolledAt:   e.EnrolledAt,
		CompletedAt:  e.CompletedAt,
		CancelledAt:  e.CancelledAt,
		CancelReason: e.CancelReason,
		Steps:        make([]ScheduledStepResponse, 0, len(steps)),
	}
	for _, s := range steps {
		out.Steps = append(out.Steps, ScheduledStepResponse{
			ID:          s.ID,
			StepIndex:   s.StepIndex,
			Channel:     string(s.Channel),
			TemplateRef: s.TemplateRef,
			DueAt:       s.DueAt,
			Status:      string(s.Status),
			Attempts:    s.Attempts,
			LastError:   s.LastError,
			SentAt:      s.SentAt,
		})
	}
	return out
}

func ToStageGraphResponse() StageGraphResponse {
	nodes := make([]StageNode, 0, len(domain.AllStages))
	for _, st := range domain.AllStages {
		targets := make([]string, 0)
		for _, t := range domain.AllowedTargets(st) {
			targets = append(targets, string(t))
		}
		nodes = append(nodes, StageNode{Stage: string(st), Terminal: st.IsTerminal(), AllowedTargets: targets})
	}
	return StageGraphResponse{Stages: nodes}
}
