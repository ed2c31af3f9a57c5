package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/valuebench/coamap/internal/common"
	"github.com/valuebench/coamap/internal/model"
	"github.com/valuebench/coamap/internal/service"
)

// accountPayload is the wire form of a canonical account.
type accountPayload struct {
	ID       string   `json:"id"`
	Name     string   `json:"name"`
	Category string   `json:"category"`
	Synonyms []string `json:"synonyms,omitempty"`
}

// lineItemPayload is the wire form of a source line item. Values travel as
// strings so they survive the trip without float rounding.
type lineItemPayload struct {
	ID            string `json:"id"`
	RawLabel      string `json:"raw_label"`
	RawValue      string `json:"raw_value"`
	StatementType string `json:"statement_type"`
}

// mappingPayload is the wire form of a mapping record.
type mappingPayload struct {
	SourceID   string  `json:"source_id"`
	SourceName string  `json:"source_name,omitempty"`
	TargetID   string  `json:"target_id,omitempty"`
	TargetName string  `json:"target_name,omitempty"`
	Confidence float64 `json:"confidence"`
	Band       string  `json:"band"`
	Rationale  string  `json:"rationale,omitempty"`
	Status     string  `json:"status"`
	Condition  string  `json:"condition,omitempty"`
	DecidedBy  string  `json:"decided_by,omitempty"`
	DecidedAt  string  `json:"decided_at,omitempty"`
	Generation int     `json:"generation"`
}

type candidatePayload struct {
	TargetID   string  `json:"target_id"`
	TargetName string  `json:"target_name"`
	Confidence float64 `json:"confidence"`
	Rationale  string  `json:"rationale,omitempty"`
}

type decisionRequest struct {
	Action string `json:"action"`
	Actor  string `json:"actor"`
}

type batchDecisionRequest struct {
	SourceIDs []string `json:"source_ids"`
	Action    string   `json:"action"`
	Actor     string   `json:"actor"`
}

type approvalRequest struct {
	Threshold float64 `json:"threshold"`
	Actor     string  `json:"actor"`
}

func (s *Server) mappingToPayload(record *model.MappingRecord) mappingPayload {
	p := mappingPayload{
		SourceID:   record.SourceID,
		SourceName: record.SourceName,
		TargetID:   record.TargetID,
		TargetName: record.TargetName,
		Confidence: record.Confidence,
		Rationale:  record.Rationale,
		Status:     string(record.Status),
		Condition:  string(record.Condition),
		DecidedBy:  record.DecidedBy,
		Generation: record.Generation,
	}
	if record.Condition == "" {
		p.Band = s.engine.Thresholds().Band(record.Confidence)
	}
	if record.DecidedAt != nil {
		p.DecidedAt = record.DecidedAt.Format("2006-01-02T15:04:05Z07:00")
	}
	return p
}

func (s *Server) handleLoadAccounts(w http.ResponseWriter, r *http.Request) {
	var payload []accountPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	accounts := make([]model.CanonicalAccount, 0, len(payload))
	for _, p := range payload {
		accounts = append(accounts, model.CanonicalAccount{
			ID:       p.ID,
			Name:     p.Name,
			Category: model.AccountCategory(p.Category),
			Synonyms: p.Synonyms,
		})
	}

	if err := s.engine.LoadAccounts(r.Context(), accounts); err != nil {
		s.writeDomainError(r, w, err)
		return
	}

	s.writeJSON(w, http.StatusCreated, map[string]int{"loaded": len(accounts)})
}

func (s *Server) handleListAccounts(w http.ResponseWriter, r *http.Request) {
	index, err := s.engine.Index(r.Context())
	if err != nil {
		s.writeDomainError(r, w, err)
		return
	}

	accounts := index.All()
	payload := make([]accountPayload, 0, len(accounts))
	for _, a := range accounts {
		payload = append(payload, accountPayload{
			ID:       a.ID,
			Name:     a.Name,
			Category: string(a.Category),
			Synonyms: a.Synonyms,
		})
	}
	s.writeJSON(w, http.StatusOK, payload)
}

func (s *Server) handleIngestLineItems(w http.ResponseWriter, r *http.Request) {
	engagementID := chi.URLParam(r, "engagementID")

	var payload []lineItemPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	items := make([]model.SourceLineItem, 0, len(payload))
	for _, p := range payload {
		value, err := decimal.NewFromString(p.RawValue)
		if err != nil {
			s.writeError(w, http.StatusBadRequest, fmt.Sprintf("line item %s: bad raw_value %q", p.ID, p.RawValue))
			return
		}
		items = append(items, model.SourceLineItem{
			ID:            p.ID,
			RawLabel:      p.RawLabel,
			RawValue:      value,
			StatementType: model.StatementType(p.StatementType),
		})
	}

	if err := s.engine.IngestLineItems(r.Context(), engagementID, items); err != nil {
		s.writeDomainError(r, w, err)
		return
	}

	s.writeJSON(w, http.StatusCreated, map[string]int{"ingested": len(items)})
}

func (s *Server) handleScore(w http.ResponseWriter, r *http.Request) {
	engagementID := chi.URLParam(r, "engagementID")

	report, err := s.engine.ScoreEngagement(r.Context(), engagementID)
	if err != nil {
		s.writeDomainError(r, w, err)
		return
	}

	s.writeJSON(w, http.StatusOK, map[string]any{
		"scored":              report.Scored,
		"unscored":            report.Unscored,
		"no_valid_candidates": report.NoValidCandidates,
		"skipped_decided":     report.SkippedDecided,
		"failed":              report.Failed,
	})
}

func (s *Server) handleSuggest(w http.ResponseWriter, r *http.Request) {
	engagementID := chi.URLParam(r, "engagementID")
	sourceID := chi.URLParam(r, "sourceID")

	candidates, record, err := s.engine.Suggest(r.Context(), engagementID, sourceID)
	if err != nil {
		s.writeDomainError(r, w, err)
		return
	}

	payload := make([]candidatePayload, 0, len(candidates))
	for _, c := range candidates {
		payload = append(payload, candidatePayload{
			TargetID:   c.TargetID,
			TargetName: c.TargetName,
			Confidence: c.Confidence,
			Rationale:  c.Rationale,
		})
	}

	s.writeJSON(w, http.StatusOK, map[string]any{
		"candidates": payload,
		"record":     s.mappingToPayload(record),
	})
}

func (s *Server) handleListMappings(w http.ResponseWriter, r *http.Request) {
	engagementID := chi.URLParam(r, "engagementID")

	filter := service.MappingFilter{}
	if status := r.URL.Query().Get("status"); status != "" {
		filter.Status = model.MappingStatus(status)
	}
	if limit := r.URL.Query().Get("limit"); limit != "" {
		n, err := strconv.Atoi(limit)
		if err != nil || n < 0 {
			s.writeError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		filter.Limit = n
	}
	if offset := r.URL.Query().Get("offset"); offset != "" {
		n, err := strconv.Atoi(offset)
		if err != nil || n < 0 {
			s.writeError(w, http.StatusBadRequest, "invalid offset")
			return
		}
		filter.Offset = n
	}

	l, err := s.engine.Ledger(engagementID)
	if err != nil {
		s.writeDomainError(r, w, err)
		return
	}
	records, err := l.List(r.Context(), filter)
	if err != nil {
		s.writeDomainError(r, w, err)
		return
	}

	payload := make([]mappingPayload, 0, len(records))
	for i := range records {
		payload = append(payload, s.mappingToPayload(&records[i]))
	}
	s.writeJSON(w, http.StatusOK, payload)
}

func (s *Server) handleSummary(w http.ResponseWriter, r *http.Request) {
	engagementID := chi.URLParam(r, "engagementID")

	l, err := s.engine.Ledger(engagementID)
	if err != nil {
		s.writeDomainError(r, w, err)
		return
	}
	summary, err := l.Summary(r.Context())
	if err != nil {
		s.writeDomainError(r, w, err)
		return
	}

	s.writeJSON(w, http.StatusOK, map[string]int{
		"total":             summary.Total,
		"high_confidence":   summary.HighConfidence,
		"medium_confidence": summary.MediumConfidence,
		"low_confidence":    summary.LowConfidence,
		"pending":           summary.Pending,
		"approved":          summary.Approved,
		"rejected":          summary.Rejected,
	})
}

func (s *Server) handleDecide(w http.ResponseWriter, r *http.Request) {
	engagementID := chi.URLParam(r, "engagementID")
	sourceID := chi.URLParam(r, "sourceID")

	var req decisionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	action := model.Decision(req.Action)
	if _, err := action.TerminalStatus(); err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	l, err := s.engine.Ledger(engagementID)
	if err != nil {
		s.writeDomainError(r, w, err)
		return
	}
	record, err := l.Decide(r.Context(), sourceID, action, req.Actor)
	if err != nil {
		s.writeDomainError(r, w, err)
		return
	}

	s.writeJSON(w, http.StatusOK, s.mappingToPayload(record))
}

func (s *Server) handleDecideMany(w http.ResponseWriter, r *http.Request) {
	engagementID := chi.URLParam(r, "engagementID")

	var req batchDecisionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	action := model.Decision(req.Action)
	if _, err := action.TerminalStatus(); err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	l, err := s.engine.Ledger(engagementID)
	if err != nil {
		s.writeDomainError(r, w, err)
		return
	}
	result, err := l.DecideMany(r.Context(), req.SourceIDs, action, req.Actor)
	if err != nil {
		s.writeDomainError(r, w, err)
		return
	}

	s.writeJSON(w, http.StatusOK, map[string]any{
		"succeeded": result.Succeeded,
		"failed":    result.Failed,
	})
}

func (s *Server) handleApproveAboveThreshold(w http.ResponseWriter, r *http.Request) {
	engagementID := chi.URLParam(r, "engagementID")

	var req approvalRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if req.Threshold < 0 || req.Threshold > 1 {
		s.writeError(w, http.StatusBadRequest, "threshold must be in [0, 1]")
		return
	}

	l, err := s.engine.Ledger(engagementID)
	if err != nil {
		s.writeDomainError(r, w, err)
		return
	}
	approved, err := l.ApproveAboveThreshold(r.Context(), req.Threshold, req.Actor)
	if err != nil {
		s.writeDomainError(r, w, err)
		return
	}

	s.writeJSON(w, http.StatusOK, map[string]int{"approved": approved})
}

func (s *Server) handleClear(w http.ResponseWriter, r *http.Request) {
	engagementID := chi.URLParam(r, "engagementID")

	l, err := s.engine.Ledger(engagementID)
	if err != nil {
		s.writeDomainError(r, w, err)
		return
	}
	generation, err := l.Clear(r.Context())
	if err != nil {
		s.writeDomainError(r, w, err)
		return
	}

	s.writeJSON(w, http.StatusOK, map[string]int{"generation": generation})
}

// writeDomainError maps domain errors to HTTP statuses.
func (s *Server) writeDomainError(r *http.Request, w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, common.ErrNotFound):
		s.writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, common.ErrAlreadyDecided):
		s.writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, common.ErrDuplicateAccountID):
		s.writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, common.ErrScoringUnavailable):
		s.writeError(w, http.StatusServiceUnavailable, err.Error())
	case errors.Is(err, common.ErrScorerContract):
		s.writeError(w, http.StatusBadGateway, err.Error())
	case errors.Is(err, common.ErrInvalidConfig), errors.Is(err, common.ErrMissingConfig):
		s.writeError(w, http.StatusBadRequest, err.Error())
	default:
		s.logger.Error("request failed",
			"request_id", RequestIDFromContext(r.Context()),
			"error", err)
		s.writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.logger.Error("failed to encode response", "error", err)
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, map[string]string{"error": message})
}
