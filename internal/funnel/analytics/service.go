// Package analytics derives read-only funnel reports from the lead store.
package analytics

import (
	"bytes"
	"context"
	"encoding/csv"
	"fmt"
	"strconv"
	"time"

	"funnel_backend/internal/funnel/domain"
	"funnel_backend/internal/funnel/ports"
	"funnel_backend/internal/funnel/repository"
	"funnel_backend/internal/funnel/transport"
	"funnel_backend/platform/apperr"
	"funnel_backend/platform/logger"

	"github.com/google/uuid"
)

const exportFolder = "conversion-funnel"

// Service builds conversion reports. Reads take no locks and may be slightly
// stale.
type Service struct {
	repo         repository.AnalyticsStore
	exports      ports.ObjectStore
	exportBucket string
	log          *logger.Logger
	now          func() time.Time
}

// New creates an analytics service. exports may be nil, in which case
// ExportConversionFunnel is unavailable.
func New(repo repository.AnalyticsStore, exports ports.ObjectStore, exportBucket string, log *logger.Logger) *Service {
	return &Service{repo: repo, exports: exports, exportBucket: exportBucket, log: log, now: time.Now}
}

// WithClock overrides the time source.
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// GetConversionFunnel reports lead counts per stage with stage-to-stage
// conversion rates. Without a period leads are grouped by their current
// stage. With a period a lead counts for every main-path stage up to the
// furthest one it reached inside the period; every lead created or moved in
// the period counts for the initial stage.
func (s *Service) GetConversionFunnel(ctx context.Context, tenantID uuid.UUID, period *domain.Period) (domain.ConversionFunnel, error) {
	report := domain.ConversionFunnel{GeneratedAt: s.now().UTC()}

	if period == nil {
		counts, err := s.repo.CountLeadsByStage(ctx, tenantID)
		if err != nil {
			return domain.ConversionFunnel{}, err
		}
		for _, n := range counts {
			report.TotalLeads += n
		}
		report.Stages = domain.BuildConversionFunnel(counts, report.TotalLeads)
		return report, nil
	}

	if period.From.After(period.To) {
		return domain.ConversionFunnel{}, apperr.Validation("period start must not be after its end")
	}
	activity, err := s.repo.ListPeriodActivity(ctx, tenantID, *period)
	if err != nil {
		return domain.ConversionFunnel{}, err
	}
	counts := reachedCounts(activity)
	report.TotalLeads = len(activity)
	report.Stages = domain.BuildConversionFunnel(counts, report.TotalLeads)
	p := *period
	report.Period = &p
	return report, nil
}

func reachedCounts(activity []repository.LeadPeriodActivity) map[domain.Stage]int {
	counts := make(map[domain.Stage]int)
	for _, a := range activity {
		furthest := 0
		lost := false
		for _, st := range a.ReachedStages {
			if st == domain.StagePerdido {
				lost = true
				continue
			}
			if idx := st.MainPathIndex(); idx > furthest {
				furthest = idx
			}
		}
		for i := 0; i <= furthest; i++ {
			counts[domain.MainPath[i]]++
		}
		if lost {
			counts[domain.StagePerdido]++
		}
	}
	return counts
}

// GetTemperatureBreakdown counts live leads per temperature, always listing
// COLD, WARM and HOT.
func (s *Service) GetTemperatureBreakdown(ctx context.Context, tenantID uuid.UUID) ([]domain.TemperatureCount, error) {
	counts, err := s.repo.CountLeadsByTemperature(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	out := make([]domain.TemperatureCount, 0, len(domain.Temperatures))
	for _, t := range domain.Temperatures {
		out = append(out, domain.TemperatureCount{Temperature: t, Count: counts[t]})
	}
	return out, nil
}

// ExportConversionFunnel renders the funnel as CSV, stores it and returns a
// presigned download link.
func (s *Service) ExportConversionFunnel(ctx context.Context, tenantID uuid.UUID, period *domain.Period) (transport.ExportResponse, error) {
	if s.exports == nil {
		return transport.ExportResponse{}, apperr.BadRequest("funnel exports are not enabled")
	}
	report, err := s.GetConversionFunnel(ctx, tenantID, period)
	if err != nil {
		return transport.ExportResponse{}, err
	}

	data, err := renderCSV(report)
	if err != nil {
		return transport.ExportResponse{}, fmt.Errorf("render funnel csv: %w", err)
	}

	folder := exportFolder + "/" + tenantID.String()
	fileName := "funnel-" + report.GeneratedAt.Format("20060102-150405") + ".csv"
	key, err := s.exports.UploadFile(ctx, s.exportBucket, folder, fileName, "text/csv", bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return transport.ExportResponse{}, fmt.Errorf("upload funnel export: %w", err)
	}
	url, expiresAt, err := s.exports.DownloadURL(ctx, s.exportBucket, key)
	if err != nil {
		return transport.ExportResponse{}, fmt.Errorf("presign funnel export: %w", err)
	}

	s.log.WithContext(ctx).Info("conversion funnel exported", "fileKey", key, "totalLeads", report.TotalLeads)
	return transport.ExportResponse{FileKey: key, URL: url, ExpiresAt: expiresAt}, nil
}

func renderCSV(report domain.ConversionFunnel) ([]byte, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)

	from, to := "", ""
	if report.Period != nil {
		from = report.Period.From.Format(time.RFC3339)
		to = report.Period.To.Format(time.RFC3339)
	}
	records := [][]string{
		{"generated_at", report.GeneratedAt.Format(time.RFC3339)},
		{"period_from", from},
		{"period_to", to},
		{"total_leads", strconv.Itoa(report.TotalLeads)},
		{},
		{"stage", "count", "conversion_rate_from_previous"},
	}
	for _, row := range report.Stages {
		records = append(records, []string{
			string(row.Stage),
			strconv.Itoa(row.Count),
			strconv.FormatFloat(row.ConversionRateFromPrevious, 'f', 4, 64),
		})
	}
	if err := w.WriteAll(records); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
