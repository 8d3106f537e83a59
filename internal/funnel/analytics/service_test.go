package analytics

import (
	"context"
	"io"
	"strings"
	"testing"
	"time"

	"funnel_backend/internal/funnel/domain"
	"funnel_backend/internal/funnel/repository"
	"funnel_backend/platform/apperr"
	"funnel_backend/platform/logger"

	"github.com/google/uuid"
)

var fixedNow = time.Date(2026, 6, 30, 23, 0, 0, 0, time.UTC)

type fakeObjectStore struct {
	bucket string
	key    string
	body   string
}

func (f *fakeObjectStore) UploadFile(_ context.Context, bucket, folder, fileName, _ string, reader io.Reader, _ int64) (string, error) {
	data, err := io.ReadAll(reader)
	if err != nil {
		return "", err
	}
	f.bucket = bucket
	f.key = folder + "/" + fileName
	f.body = string(data)
	return f.key, nil
}

func (f *fakeObjectStore) DownloadURL(_ context.Context, bucket, fileKey string) (string, time.Time, error) {
	return "https://files.example.com/" + bucket + "/" + fileKey, fixedNow.Add(time.Hour), nil
}

type leadPath struct {
	createdAt time.Time
	moves     []domain.Stage
	movedAt   time.Time
	deleted   bool
}

func seed(t *testing.T, repo *repository.MemoryRepository, tenantID uuid.UUID, paths []leadPath) {
	t.Helper()
	ctx := context.Background()
	for _, p := range paths {
		lead, err := repo.CreateLead(ctx, domain.Lead{
			TenantID:       tenantID,
			FirstName:      "Lead",
			Stage:          domain.StageNuevo,
			Temperature:    domain.TemperatureCold,
			StageEnteredAt: p.createdAt,
			LastActivityAt: p.createdAt,
			CreatedAt:      p.createdAt,
			UpdatedAt:      p.createdAt,
		})
		if err != nil {
			t.Fatalf("create lead: %v", err)
		}
		for _, to := range p.moves {
			_, _, err := repo.ApplyStageTransition(ctx, tenantID, lead.ID, func(current domain.Lead) (domain.StageTransition, error) {
				from := current.Stage
				return domain.StageTransition{ID: uuid.New(), TenantID: tenantID, LeadID: lead.ID, FromStage: &from, ToStage: to, OccurredAt: p.movedAt}, nil
			})
			if err != nil {
				t.Fatalf("move: %v", err)
			}
		}
		if p.deleted {
			if err := repo.SoftDeleteLead(ctx, tenantID, lead.ID, p.movedAt); err != nil {
				t.Fatalf("soft delete: %v", err)
			}
		}
	}
}

func counts(stages []domain.StageCount) map[domain.Stage]domain.StageCount {
	out := make(map[domain.Stage]domain.StageCount, len(stages))
	for _, s := range stages {
		out[s.Stage] = s
	}
	return out
}

func TestConversionFunnelForEmptyTenant(t *testing.T) {
	repo := repository.NewMemoryRepository()
	svc := New(repo, nil, "", logger.New("test")).WithClock(func() time.Time { return fixedNow })

	report, err := svc.GetConversionFunnel(context.Background(), uuid.New(), nil)
	if err != nil {
		t.Fatalf("GetConversionFunnel: %v", err)
	}
	if len(report.Stages) != len(domain.AllStages) {
		t.Fatalf("expected every stage listed, got %d rows", len(report.Stages))
	}
	for _, row := range report.Stages {
		if row.Count != 0 || row.ConversionRateFromPrevious != 0 {
			t.Fatalf("expected zero row for %s, got %+v", row.Stage, row)
		}
	}
}

func TestConversionFunnelSnapshotGroupsByCurrentStage(t *testing.T) {
	repo := repository.NewMemoryRepository()
	tenantID := uuid.New()
	created := fixedNow.Add(-48 * time.Hour)
	seed(t, repo, tenantID, []leadPath{
		{createdAt: created},
		{createdAt: created},
		{createdAt: created, movedAt: created, moves: []domain.Stage{domain.StageContactado}},
		{createdAt: created, movedAt: created, moves: []domain.Stage{domain.StagePerdido}},
		{createdAt: created, movedAt: created, moves: []domain.Stage{domain.StageContactado}, deleted: true},
	})
	seed(t, repo, uuid.New(), []leadPath{{createdAt: created}})

	svc := New(repo, nil, "", logger.New("test"))
	report, err := svc.GetConversionFunnel(context.Background(), tenantID, nil)
	if err != nil {
		t.Fatalf("GetConversionFunnel: %v", err)
	}
	rows := counts(report.Stages)
	if report.TotalLeads != 4 {
		t.Fatalf("expected deleted and foreign leads excluded, got total %d", report.TotalLeads)
	}
	if rows[domain.StageNuevo].Count != 2 || rows[domain.StageContactado].Count != 1 {
		t.Fatalf("unexpected counts: %+v", rows)
	}
	if rows[domain.StageContactado].ConversionRateFromPrevious != 0.5 {
		t.Fatalf("expected 0.5 conversion into CONTACTADO, got %v", rows[domain.StageContactado].ConversionRateFromPrevious)
	}
	if rows[domain.StageInteresado].ConversionRateFromPrevious != 0 {
		t.Fatalf("expected defined 0 rate, got %v", rows[domain.StageInteresado].ConversionRateFromPrevious)
	}
	if rows[domain.StagePerdido].ConversionRateFromPrevious != 0.25 {
		t.Fatalf("expected lost ratio 0.25, got %v", rows[domain.StagePerdido].ConversionRateFromPrevious)
	}
}

func TestConversionFunnelForPeriodCountsReachedStages(t *testing.T) {
	repo := repository.NewMemoryRepository()
	tenantID := uuid.New()
	june := domain.Period{From: time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC), To: time.Date(2026, 6, 30, 23, 59, 59, 0, time.UTC)}
	inJune := time.Date(2026, 6, 10, 12, 0, 0, 0, time.UTC)
	inMay := time.Date(2026, 5, 10, 12, 0, 0, 0, time.UTC)

	seed(t, repo, tenantID, []leadPath{
		{createdAt: inJune},
		{createdAt: inJune, movedAt: inJune, moves: []domain.Stage{domain.StageInteresado, domain.StageCalificado}},
		{createdAt: inMay, movedAt: inJune, moves: []domain.Stage{domain.StageContactado}},
		{createdAt: inMay, movedAt: inMay, moves: []domain.Stage{domain.StageContactado}},
		{createdAt: inJune, movedAt: inJune, moves: []domain.Stage{domain.StagePerdido}},
	})

	svc := New(repo, nil, "", logger.New("test"))
	report, err := svc.GetConversionFunnel(context.Background(), tenantID, &june)
	if err != nil {
		t.Fatalf("GetConversionFunnel: %v", err)
	}
	rows := counts(report.Stages)
	if report.TotalLeads != 4 || rows[domain.StageNuevo].Count != 4 {
		t.Fatalf("expected four leads active in June, got total %d nuevo %d", report.TotalLeads, rows[domain.StageNuevo].Count)
	}
	if rows[domain.StageContactado].Count != 2 || rows[domain.StageInteresado].Count != 1 || rows[domain.StageCalificado].Count != 1 {
		t.Fatalf("unexpected reached counts: %+v", rows)
	}
	if rows[domain.StagePerdido].Count != 1 {
		t.Fatalf("expected one lost lead, got %d", rows[domain.StagePerdido].Count)
	}
	if report.Period == nil || !report.Period.From.Equal(june.From) {
		t.Fatalf("expected period echoed in report")
	}
}

func TestConversionFunnelRejectsInvertedPeriod(t *testing.T) {
	svc := New(repository.NewMemoryRepository(), nil, "", logger.New("test"))
	period := domain.Period{From: fixedNow, To: fixedNow.Add(-time.Hour)}

	if _, err := svc.GetConversionFunnel(context.Background(), uuid.New(), &period); !apperr.Is(err, apperr.KindValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestExportConversionFunnelUploadsCSV(t *testing.T) {
	repo := repository.NewMemoryRepository()
	tenantID := uuid.New()
	seed(t, repo, tenantID, []leadPath{{createdAt: fixedNow}})
	store := &fakeObjectStore{}
	svc := New(repo, store, "funnel-exports", logger.New("test")).WithClock(func() time.Time { return fixedNow })

	out, err := svc.ExportConversionFunnel(context.Background(), tenantID, nil)
	if err != nil {
		t.Fatalf("export: %v", err)
	}
	if store.bucket != "funnel-exports" || !strings.Contains(store.key, tenantID.String()) {
		t.Fatalf("unexpected upload target %s/%s", store.bucket, store.key)
	}
	if !strings.Contains(store.body, "NUEVO,1,0.0000") || !strings.Contains(store.body, "total_leads,1") {
		t.Fatalf("unexpected csv body:\n%s", store.body)
	}
	if out.FileKey != store.key || !out.ExpiresAt.Equal(fixedNow.Add(time.Hour)) {
		t.Fatalf("unexpected export response: %+v", out)
	}
}

func TestExportWithoutObjectStoreIsRejected(t *testing.T) {
	svc := New(repository.NewMemoryRepository(), nil, "", logger.New("test"))

	if _, err := svc.ExportConversionFunnel(context.Background(), uuid.New(), nil); !apperr.Is(err, apperr.KindBadRequest) {
		t.Fatalf("expected bad request, got %v", err)
	}
}

func TestTemperatureBreakdownListsAllTemperatures(t *testing.T) {
	repo := repository.NewMemoryRepository()
	tenantID := uuid.New()
	seed(t, repo, tenantID, []leadPath{{createdAt: fixedNow}, {createdAt: fixedNow}})

	got, err := New(repo, nil, "", logger.New("test")).GetTemperatureBreakdown(context.Background(), tenantID)
	if err != nil {
		t.Fatalf("GetTemperatureBreakdown: %v", err)
	}
	if len(got) != 3 || got[0].Temperature != domain.TemperatureCold || got[0].Count != 2 || got[2].Count != 0 {
		t.Fatalf("unexpected breakdown: %+v", got)
	}
}
