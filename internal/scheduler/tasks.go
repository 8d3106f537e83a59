package scheduler

import (
	"encoding/json"

	"github.com/hibiken/asynq"
)

// TaskFunnelSweep runs the sequence dispatcher sweep. An empty tenant means
// every tenant.
const TaskFunnelSweep = "funnel.sweep"

type SweepPayload struct {
	TenantID string `json:"tenantId,omitempty"`
}

func NewSweepTask(payload SweepPayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskFunnelSweep, data), nil
}

func ParseSweepPayload(task *asynq.Task) (SweepPayload, error) {
	var payload SweepPayload
	if len(task.Payload()) == 0 {
		return payload, nil
	}
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return SweepPayload{}, err
	}
	return payload, nil
}
