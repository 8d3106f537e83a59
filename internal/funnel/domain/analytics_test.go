package domain

import "testing"

func TestBuildConversionFunnelRates(t *testing.T) {
	counts := map[Stage]int{
		StageNuevo:      10,
		StageContactado: 5,
		StageInteresado: 0,
		StageCalificado: 2,
		StagePerdido:    3,
	}
	rows := BuildConversionFunnel(counts, 10)

	if len(rows) != len(AllStages) {
		t.Fatalf("expected %d rows, got %d", len(AllStages), len(rows))
	}
	if rows[0].ConversionRateFromPrevious != 0 {
		t.Fatalf("expected first stage rate 0, got %f", rows[0].ConversionRateFromPrevious)
	}
	if rows[1].ConversionRateFromPrevious != 0.5 {
		t.Fatalf("expected CONTACTADO rate 0.5, got %f", rows[1].ConversionRateFromPrevious)
	}
	if rows[3].ConversionRateFromPrevious != 0 {
		t.Fatalf("expected rate 0 after an empty stage, got %f", rows[3].ConversionRateFromPrevious)
	}
	lost := rows[len(rows)-1]
	if lost.Stage != StagePerdido || lost.ConversionRateFromPrevious != 0.3 {
		t.Fatalf("expected PERDIDO rate 0.3, got %+v", lost)
	}
}

func TestBuildConversionFunnelEmpty(t *testing.T) {
	for _, row := range BuildConversionFunnel(map[Stage]int{}, 0) {
		if row.Count != 0 || row.ConversionRateFromPrevious != 0 {
			t.Fatalf("expected zero row, got %+v", row)
		}
	}
}
