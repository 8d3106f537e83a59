// Package handler exposes the funnel over HTTP. Every route is tenant-scoped
// through the authenticated identity.
package handler

import (
	"net/http"
	"time"

	"funnel_backend/internal/funnel/analytics"
	"funnel_backend/internal/funnel/automation"
	"funnel_backend/internal/funnel/defaults"
	"funnel_backend/internal/funnel/domain"
	"funnel_backend/internal/funnel/leads"
	"funnel_backend/internal/funnel/scoring"
	"funnel_backend/internal/funnel/stages"
	"funnel_backend/internal/funnel/transport"
	"funnel_backend/platform/apperr"
	"funnel_backend/platform/httpkit"
	"funnel_backend/platform/validator"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

const (
	msgInvalidRequest = "invalid request"
	msgInvalidLeadID  = "invalid lead id"
)

// Services groups what the handler calls into.
type Services struct {
	Leads      *leads.Service
	Stages     *stages.Service
	Scoring    *scoring.Service
	Sequences  *automation.SequenceService
	Dispatcher *automation.Dispatcher
	Analytics  *analytics.Service
	Seeder     *defaults.Seeder
}

// Handler handles HTTP requests for the funnel.
type Handler struct {
	svc Services
	val *validator.Validator
	now func() time.Time
}

// New creates a new funnel handler.
func New(svc Services, val *validator.Validator) *Handler {
	return &Handler{svc: svc, val: val, now: time.Now}
}

// RegisterRoutes registers the funnel routes. Configuration changes and
// manual sweeps require the admin role.
func (h *Handler) RegisterRoutes(rg *gin.RouterGroup) {
	admin := httpkit.RequireRole(httpkit.RoleAdmin)

	rg.GET("/stages", h.StageGraph)

	rg.POST("/leads", h.CaptureLead)
	rg.GET("/leads", h.ListLeads)
	rg.GET("/leads/:id", h.GetLead)
	rg.DELETE("/leads/:id", h.DeleteLead)
	rg.GET("/leads/:id/history", h.History)
	rg.POST("/leads/:id/stage", h.MoveStage)
	rg.POST("/leads/:id/signals", h.RecordSignal)
	rg.POST("/leads/:id/score", h.Recalculate)
	rg.GET("/leads/:id/enrollments", h.ListEnrollments)

	rg.GET("/scoring-rules", h.GetScoringRules)
	rg.PUT("/scoring-rules", admin, h.ReplaceScoringRules)
	rg.POST("/scoring-rules/defaults", admin, h.SeedDefaultRules)

	rg.GET("/sequences", h.ListSequences)
	rg.POST("/sequences", admin, h.UpsertSequence)
	rg.DELETE("/sequences/:id", admin, h.DeactivateSequence)

	rg.POST("/automation/sweep", admin, h.Sweep)

	rg.GET("/analytics/funnel", h.ConversionFunnel)
	rg.GET("/analytics/temperatures", h.TemperatureBreakdown)
	rg.POST("/analytics/funnel/export", h.ExportConversionFunnel)
}

// StageGraph handles GET /stages
func (h *Handler) StageGraph(c *gin.Context) {
	httpkit.OK(c, transport.ToStageGraphResponse())
}

// CaptureLead handles POST /leads
func (h *Handler) CaptureLead(c *gin.Context) {
	var req transport.CaptureLeadRequest
	if !h.bindJSON(c, &req) {
		return
	}
	_, tenantID, ok := httpkit.MustGetTenant(c)
	if !ok {
		return
	}

	lead, err := h.svc.Leads.Capture(c.Request.Context(), tenantID, req)
	if httpkit.HandleError(c, err) {
		return
	}
	httpkit.JSON(c, http.StatusCreated, transport.ToLeadResponse(lead))
}

// ListLeads handles GET /leads
func (h *Handler) ListLeads(c *gin.Context) {
	var req transport.ListLeadsRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		httpkit.Error(c, http.StatusBadRequest, msgInvalidRequest, err.Error())
		return
	}
	if httpkit.HandleError(c, h.val.Struct(req)) {
		return
	}
	_, tenantID, ok := httpkit.MustGetTenant(c)
	if !ok {
		return
	}

	result, err := h.svc.Leads.List(c.Request.Context(), tenantID, req)
	if httpkit.HandleError(c, err) {
		return
	}
	httpkit.OK(c, result)
}

// GetLead handles GET /leads/:id
func (h *Handler) GetLead(c *gin.Context) {
	tenantID, leadID, ok := h.tenantAndLead(c)
	if !ok {
		return
	}
	lead, err := h.svc.Leads.Get(c.Request.Context(), tenantID, leadID)
	if httpkit.HandleError(c, err) {
		return
	}
	httpkit.OK(c, transport.ToLeadResponse(lead))
}

// DeleteLead handles DELETE /leads/:id
func (h *Handler) DeleteLead(c *gin.Context) {
	tenantID, leadID, ok := h.tenantAndLead(c)
	if !ok {
		return
	}
	if httpkit.HandleError(c, h.svc.Leads.SoftDelete(c.Request.Context(), tenantID, leadID)) {
		return
	}
	c.Status(http.StatusNoContent)
}

// History handles GET /leads/:id/history
func (h *Handler) History(c *gin.Context) {
	tenantID, leadID, ok := h.tenantAndLead(c)
	if !ok {
		return
	}
	transitions, err := h.svc.Leads.History(c.Request.Context(), tenantID, leadID)
	if httpkit.HandleError(c, err) {
		return
	}
	httpkit.OK(c, transport.ToTransitionResponses(transitions))
}

// MoveStage handles POST /leads/:id/stage
func (h *Handler) MoveStage(c *gin.Context) {
	var req transport.MoveStageRequest
	if !h.bindJSON(c, &req) {
		return
	}
	identity, tenantID, ok := httpkit.MustGetTenant(c)
	if !ok {
		return
	}
	leadID, ok := parseID(c, msgInvalidLeadID)
	if !ok {
		return
	}

	// Unknown stage names reach the engine, which reports them as invalid
	// transitions rather than malformed requests.
	target, known := domain.ParseStage(req.TargetStage)
	if !known {
		target = domain.Stage(req.TargetStage)
	}
	actor := identity.UserID()
	lead, err := h.svc.Stages.MoveStage(c.Request.Context(), tenantID, leadID, target, req.Reason, &actor)
	if httpkit.HandleError(c, err) {
		return
	}
	httpkit.OK(c, transport.ToLeadResponse(lead))
}

// RecordSignal handles POST /leads/:id/signals
func (h *Handler) RecordSignal(c *gin.Context) {
	var req transport.RecordSignalRequest
	if !h.bindJSON(c, &req) {
		return
	}
	tenantID, leadID, ok := h.tenantAndLead(c)
	if !ok {
		return
	}

	lead, result, err := h.svc.Scoring.RecordSignal(c.Request.Context(), tenantID, leadID, req.SignalType, req.OccurredAt)
	if httpkit.HandleError(c, err) {
		return
	}
	httpkit.JSON(c, http.StatusCreated, transport.ToScoreResponse(lead, result))
}

// Recalculate handles POST /leads/:id/score
func (h *Handler) Recalculate(c *gin.Context) {
	tenantID, leadID, ok := h.tenantAndLead(c)
	if !ok {
		return
	}
	lead, result, err := h.svc.Scoring.Recalculate(c.Request.Context(), tenantID, leadID)
	if httpkit.HandleError(c, err) {
		return
	}
	httpkit.OK(c, transport.ToScoreResponse(lead, result))
}

// ListEnrollments handles GET /leads/:id/enrollments
func (h *Handler) ListEnrollments(c *gin.Context) {
	tenantID, leadID, ok := h.tenantAndLead(c)
	if !ok {
		return
	}
	result, err := h.svc.Sequences.ListEnrollments(c.Request.Context(), tenantID, leadID)
	if httpkit.HandleError(c, err) {
		return
	}
	httpkit.OK(c, result)
}

// GetScoringRules handles GET /scoring-rules
func (h *Handler) GetScoringRules(c *gin.Context) {
	_, tenantID, ok := httpkit.MustGetTenant(c)
	if !ok {
		return
	}
	rules, err := h.svc.Scoring.GetRules(c.Request.Context(), tenantID)
	if httpkit.HandleError(c, err) {
		return
	}
	httpkit.OK(c, transport.ToScoringRulesResponse(rules))
}

// ReplaceScoringRules handles PUT /scoring-rules
func (h *Handler) ReplaceScoringRules(c *gin.Context) {
	var req transport.ReplaceScoringRulesRequest
	if !h.bindJSON(c, &req) {
		return
	}
	_, tenantID, ok := httpkit.MustGetTenant(c)
	if !ok {
		return
	}

	rules, err := h.svc.Scoring.ReplaceRules(c.Request.Context(), tenantID, transport.ToRuleSet(req))
	if httpkit.HandleError(c, err) {
		return
	}
	httpkit.OK(c, transport.ToScoringRulesResponse(rules))
}

// SeedDefaultRules handles POST /scoring-rules/defaults
func (h *Handler) SeedDefaultRules(c *gin.Context) {
	_, tenantID, ok := httpkit.MustGetTenant(c)
	if !ok {
		return
	}
	rules, err := h.svc.Seeder.SeedRules(c.Request.Context(), tenantID)
	if httpkit.HandleError(c, err) {
		return
	}
	httpkit.OK(c, transport.ToScoringRulesResponse(rules))
}

// ListSequences handles GET /sequences
func (h *Handler) ListSequences(c *gin.Context) {
	_, tenantID, ok := httpkit.MustGetTenant(c)
	if !ok {
		return
	}
	sequences, err := h.svc.Sequences.List(c.Request.Context(), tenantID)
	if httpkit.HandleError(c, err) {
		return
	}
	httpkit.OK(c, transport.ToSequenceResponses(sequences))
}

// UpsertSequence handles POST /sequences
func (h *Handler) UpsertSequence(c *gin.Context) {
	var req transport.UpsertSequenceRequest
	if !h.bindJSON(c, &req) {
		return
	}
	_, tenantID, ok := httpkit.MustGetTenant(c)
	if !ok {
		return
	}

	seq, err := h.svc.Sequences.Upsert(c.Request.Context(), tenantID, req)
	if httpkit.HandleError(c, err) {
		return
	}
	httpkit.OK(c, transport.ToSequenceResponse(seq))
}

// DeactivateSequence handles DELETE /sequences/:id
func (h *Handler) DeactivateSequence(c *gin.Context) {
	_, tenantID, ok := httpkit.MustGetTenant(c)
	if !ok {
		return
	}
	sequenceID, ok := parseID(c, "invalid sequence id")
	if !ok {
		return
	}
	if httpkit.HandleError(c, h.svc.Sequences.Deactivate(c.Request.Context(), tenantID, sequenceID)) {
		return
	}
	c.Status(http.StatusNoContent)
}

// Sweep handles POST /automation/sweep
func (h *Handler) Sweep(c *gin.Context) {
	_, tenantID, ok := httpkit.MustGetTenant(c)
	if !ok {
		return
	}
	report, err := h.svc.Dispatcher.SweepTenant(c.Request.Context(), tenantID, h.now())
	if httpkit.HandleError(c, err) {
		return
	}
	httpkit.OK(c, transport.SweepResponse{
		Enrolled:  report.Enrolled,
		Claimed:   report.Claimed,
		Sent:      report.Sent,
		Retried:   report.Retried,
		Failed:    report.Failed,
		Cancelled: report.Cancelled,
		Deferred:  report.Deferred,
	})
}

// ConversionFunnel handles GET /analytics/funnel
func (h *Handler) ConversionFunnel(c *gin.Context) {
	_, tenantID, ok := httpkit.MustGetTenant(c)
	if !ok {
		return
	}
	period, ok := bindPeriod(c)
	if !ok {
		return
	}
	report, err := h.svc.Analytics.GetConversionFunnel(c.Request.Context(), tenantID, period)
	if httpkit.HandleError(c, err) {
		return
	}
	httpkit.OK(c, report)
}

// TemperatureBreakdown handles GET /analytics/temperatures
func (h *Handler) TemperatureBreakdown(c *gin.Context) {
	_, tenantID, ok := httpkit.MustGetTenant(c)
	if !ok {
		return
	}
	result, err := h.svc.Analytics.GetTemperatureBreakdown(c.Request.Context(), tenantID)
	if httpkit.HandleError(c, err) {
		return
	}
	httpkit.OK(c, result)
}

// ExportConversionFunnel handles POST /analytics/funnel/export
func (h *Handler) ExportConversionFunnel(c *gin.Context) {
	_, tenantID, ok := httpkit.MustGetTenant(c)
	if !ok {
		return
	}
	period, ok := bindPeriod(c)
	if !ok {
		return
	}
	result, err := h.svc.Analytics.ExportConversionFunnel(c.Request.Context(), tenantID, period)
	if httpkit.HandleError(c, err) {
		return
	}
	httpkit.JSON(c, http.StatusCreated, result)
}

// bindJSON decodes and validates the request body, writing the error
// response itself when it fails.
func (h *Handler) bindJSON(c *gin.Context, req interface{}) bool {
	if err := c.ShouldBindJSON(req); err != nil {
		httpkit.Error(c, http.StatusBadRequest, msgInvalidRequest, nil)
		return false
	}
	return !httpkit.HandleError(c, h.val.Struct(req))
}

func (h *Handler) tenantAndLead(c *gin.Context) (uuid.UUID, uuid.UUID, bool) {
	_, tenantID, ok := httpkit.MustGetTenant(c)
	if !ok {
		return uuid.UUID{}, uuid.UUID{}, false
	}
	leadID, ok := parseID(c, msgInvalidLeadID)
	if !ok {
		return uuid.UUID{}, uuid.UUID{}, false
	}
	return tenantID, leadID, true
}

func parseID(c *gin.Context, message string) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		httpkit.Error(c, http.StatusBadRequest, message, nil)
		return uuid.UUID{}, false
	}
	return id, true
}

func bindPeriod(c *gin.Context) (*domain.Period, bool) {
	var req transport.PeriodRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		httpkit.Error(c, http.StatusBadRequest, msgInvalidRequest, err.Error())
		return nil, false
	}
	switch {
	case req.From == nil && req.To == nil:
		return nil, true
	case req.From == nil || req.To == nil:
		httpkit.HandleError(c, apperr.Validation("from and to must be given together"))
		return nil, false
	}
	return &domain.Period{From: req.From.UTC(), To: req.To.UTC()}, true
}
