package domain

import "time"

// Period bounds an analytics query. Both ends are inclusive.
type Period struct {
	From time.Time
	To   time.Time
}

// Contains reports whether t falls inside the period.
func (p Period) Contains(t time.Time) bool {
	return !t.Before(p.From) && !t.After(p.To)
}

// StageCount is one row of the conversion funnel.
type StageCount struct {
	Stage                      Stage   `json:"stage"`
	Count                      int     `json:"count"`
	ConversionRateFromPrevious float64 `json:"conversionRateFromPrevious"`
}

// ConversionFunnel is the full funnel report.
type ConversionFunnel struct {
	Stages      []StageCount `json:"stages"`
	TotalLeads  int          `json:"totalLeads"`
	Period      *Period      `json:"period,omitempty"`
	GeneratedAt time.Time    `json:"generatedAt"`
}

// BuildConversionFunnel turns per-stage counts into the ordered report.
// Main-path rates are count[i]/count[i-1] with 0 when the previous count is 0;
// the first stage reports 0. PERDIDO reports lost/total.
func BuildConversionFunnel(counts map[Stage]int, total int) []StageCount {
	rows := make([]StageCount, 0, len(AllStages))
	for i, st := range MainPath {
		row := StageCount{Stage: st, Count: counts[st]}
		if i > 0 {
			row.ConversionRateFromPrevious = ratio(counts[st], counts[MainPath[i-1]])
		}
		rows = append(rows, row)
	}
	rows = append(rows, StageCount{
		Stage:                      StagePerdido,
		Count:                      counts[StagePerdido],
		ConversionRateFromPrevious: ratio(counts[StagePerdido], total),
	})
	return rows
}

func ratio(num, den int) float64 {
	if den == 0 {
		return 0
	}
	return float64(num) / float64(den)
}

// TemperatureCount is one row of the temperature breakdown.
type TemperatureCount struct {
	Temperature Temperature `json:"temperature"`
	Count       int         `json:"count"`
}
