package domain

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// TriggerKind says what starts a sequence.
type TriggerKind string

const (
	TriggerStageEntry TriggerKind = "stage_entry"
	TriggerInactivity TriggerKind = "inactivity"
)

// Channel is a delivery channel for a sequence step.
type Channel string

const (
	ChannelEmail    Channel = "email"
	ChannelWhatsApp Channel = "whatsapp"
)

// IsValid reports whether the channel is supported.
func (c Channel) IsValid() bool {
	return c == ChannelEmail || c == ChannelWhatsApp
}

// Trigger binds a sequence to a stage entry, or to N hours without activity
// while sitting in a stage.
type Trigger struct {
	Kind            TriggerKind `json:"kind"`
	Stage           Stage       `json:"stage"`
	InactivityHours int         `json:"inactivityHours,omitempty"`
}

// SequenceStep is one message in a sequence. DelayHours is measured from the
// moment the lead was enrolled.
type SequenceStep struct {
	TemplateRef string  `json:"templateRef"`
	DelayHours  int     `json:"delayHours"`
	Channel     Channel `json:"channel"`
}

// Sequence is an ordered list of automated messages.
type Sequence struct {
	ID         uuid.UUID
	TenantID   uuid.UUID
	Name       string
	Trigger    Trigger
	ExitStages []Stage
	Steps      []SequenceStep
	Active     bool
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// Validate checks the structural rules of a sequence definition.
func (s Sequence) Validate() error {
	if len(s.Steps) == 0 {
		return fmt.Errorf("sequence needs at least one step")
	}
	if !s.Trigger.Stage.IsKnown() {
		return fmt.Errorf("unknown trigger stage %q", s.Trigger.Stage)
	}
	// Enrollments end as soon as a lead is terminal, so a terminal trigger
	// could never send anything.
	if s.Trigger.Stage.IsTerminal() {
		return fmt.Errorf("trigger stage %s is terminal", s.Trigger.Stage)
	}
	switch s.Trigger.Kind {
	case TriggerStageEntry:
	case TriggerInactivity:
		if s.Trigger.InactivityHours <= 0 {
			return fmt.Errorf("inactivity trigger needs inactivityHours > 0")
		}
	default:
		return fmt.Errorf("unknown trigger kind %q", s.Trigger.Kind)
	}
	for _, st := range s.ExitStages {
		if !st.IsKnown() {
			return fmt.Errorf("unknown exit stage %q", st)
		}
	}
	prev := 0
	for i, step := range s.Steps {
		if step.TemplateRef == "" {
			return fmt.Errorf("step %d needs a template reference", i)
		}
		if !step.Channel.IsValid() {
			return fmt.Errorf("step %d has unsupported channel %q", i, step.Channel)
		}
		if step.DelayHours < 0 {
			return fmt.Errorf("step %d has a negative delay", i)
		}
		if step.DelayHours < prev {
			return fmt.Errorf("step %d delay must not be lower than the previous step", i)
		}
		prev = step.DelayHours
	}
	return nil
}

// IsExitStage reports whether reaching stage ends the sequence.
func (s Sequence) IsExitStage(stage Stage) bool {
	return containsStage(s.ExitStages, stage)
}

func containsStage(stages []Stage, target Stage) bool {
	for _, st := range stages {
		if st == target {
			return true
		}
	}
	return false
}
