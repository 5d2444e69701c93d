package api

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/solatis/factkeeper/internal/core/db"
	"github.com/solatis/factkeeper/internal/rules"
	"github.com/solatis/factkeeper/internal/types"
)

// maxRuleDocumentSize bounds rule definition uploads. Generous relative to
// the tree limits the compiler enforces.
const maxRuleDocumentSize = 256 * 1024

type evaluateRequest struct {
	Facts json.RawMessage `json:"facts"`
}

type evaluateResponse struct {
	Results []rules.RuleResult `json:"results"`
}

// ruleResponse is the wire shape of a stored rule.
type ruleResponse struct {
	RuleID     string          `json:"rule_id"`
	Name       string          `json:"name"`
	Definition json.RawMessage `json:"definition"`
	Enabled    bool            `json:"enabled"`
	CreatedAt  time.Time       `json:"created_at"`
	UpdatedAt  time.Time       `json:"updated_at"`
}

func toRuleResponse(row db.StoredRule) ruleResponse {
	return ruleResponse{
		RuleID:     row.RuleID,
		Name:       row.Name,
		Definition: json.RawMessage(row.Definition),
		Enabled:    row.Enabled,
		CreatedAt:  row.CreatedAt,
		UpdatedAt:  row.UpdatedAt,
	}
}

// handleEvaluate runs every loaded rule against the posted fact document
// and dispatches the events of the rules that passed. Event delivery
// failures are side-channel problems; they are logged and counted but do
// not fail the evaluation response.
func (s *Service) handleEvaluate(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, types.MaxFactsSize+4096)

	var req evaluateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("invalid request body: %w", err))
		return
	}
	if len(req.Facts) == 0 {
		writeError(w, http.StatusBadRequest, fmt.Errorf("facts field is required"))
		return
	}
	if len(req.Facts) > types.MaxFactsSize {
		writeError(w, http.StatusRequestEntityTooLarge,
			fmt.Errorf("fact document exceeds %d bytes", types.MaxFactsSize))
		return
	}

	facts, err := types.FromJSON(req.Facts)
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("parse fact document: %w", err))
		return
	}

	engine := s.engine.Load()

	start := time.Now()
	results, err := engine.Run(r.Context(), facts)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	matched := 0
	errorKinds := make(map[string]int)
	for _, res := range results {
		if res.Passed {
			matched++
		}
		collectErrorKinds(res.Detail, errorKinds)
	}
	s.metrics.ObserveRun(time.Since(start), matched, len(results), errorKinds)

	for _, res := range results {
		if !res.Passed || res.Event == nil {
			continue
		}
		if err := s.hub.Dispatch(r.Context(), *res.Event, facts); err != nil {
			s.metrics.EventDispatchFails.WithLabelValues(res.Event.Type).Inc()
			s.logger.ErrorContext(r.Context(), "event dispatch failed",
				"rule_id", string(res.RuleID),
				"event_type", res.Event.Type,
				"error", err)
			continue
		}
		s.metrics.EventsDispatched.WithLabelValues(res.Event.Type).Inc()
	}

	writeJSON(w, http.StatusOK, evaluateResponse{Results: results})
}

func collectErrorKinds(node rules.ConditionResult, kinds map[string]int) {
	if node.Error != "" {
		kinds[node.Error]++
	}
	for _, child := range node.Children {
		collectErrorKinds(child, kinds)
	}
}

// handleCreateRule validates, persists, and activates a rule definition.
// The stored document always carries the rule ID so every reload
// reconstructs the same rule identity.
func (s *Service) handleCreateRule(w http.ResponseWriter, r *http.Request) {
	body, rule, ok := s.readRuleDefinition(w, r, "")
	if !ok {
		return
	}

	row, err := s.store.Insert(rule.ID, rule.Name, body)
	if err != nil {
		writeError(w, storeErrStatus(err), err)
		return
	}
	if err := s.Reload(); err != nil {
		writeError(w, http.StatusServiceUnavailable, err)
		return
	}

	writeJSON(w, http.StatusCreated, toRuleResponse(row))
}

func (s *Service) handleListRules(w http.ResponseWriter, r *http.Request) {
	rows, err := s.store.List()
	if err != nil {
		writeError(w, storeErrStatus(err), err)
		return
	}

	out := make([]ruleResponse, 0, len(rows))
	for _, row := range rows {
		out = append(out, toRuleResponse(row))
	}
	writeJSON(w, http.StatusOK, map[string][]ruleResponse{"rules": out})
}

func (s *Service) handleGetRule(w http.ResponseWriter, r *http.Request) {
	id, err := types.ParseRuleID(r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	row, err := s.store.Get(id)
	if err != nil {
		writeError(w, storeErrStatus(err), err)
		return
	}
	writeJSON(w, http.StatusOK, toRuleResponse(row))
}

// handleUpdateRule replaces a rule definition in place. The rule keeps its
// ID; a body that names a different ID is rejected.
func (s *Service) handleUpdateRule(w http.ResponseWriter, r *http.Request) {
	id, err := types.ParseRuleID(r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	body, rule, ok := s.readRuleDefinition(w, r, id)
	if !ok {
		return
	}

	if err := s.store.Update(id, rule.Name, body); err != nil {
		writeError(w, storeErrStatus(err), err)
		return
	}
	if err := s.Reload(); err != nil {
		writeError(w, http.StatusServiceUnavailable, err)
		return
	}

	row, err := s.store.Get(id)
	if err != nil {
		writeError(w, storeErrStatus(err), err)
		return
	}
	writeJSON(w, http.StatusOK, toRuleResponse(row))
}

func (s *Service) handleDeleteRule(w http.ResponseWriter, r *http.Request) {
	id, err := types.ParseRuleID(r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	if err := s.store.Delete(id); err != nil {
		writeError(w, storeErrStatus(err), err)
		return
	}
	if err := s.Reload(); err != nil {
		writeError(w, http.StatusServiceUnavailable, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// readRuleDefinition reads, parses, compile-checks and event-checks a rule
// document from the request body. forceID pins the rule identity for
// updates; empty means the document's own (or a fresh) ID is used. The
// returned body always carries the final ID.
func (s *Service) readRuleDefinition(w http.ResponseWriter, r *http.Request, forceID types.RuleID) (json.RawMessage, *rules.CompiledRule, bool) {
	r.Body = http.MaxBytesReader(w, r.Body, maxRuleDocumentSize)
	body, err := io.ReadAll(r.Body)
	if err != nil {
		writeError(w, http.StatusRequestEntityTooLarge, fmt.Errorf("read rule definition: %w", err))
		return nil, nil, false
	}

	def, err := rules.ParseDefinition(body)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return nil, nil, false
	}
	if forceID != "" {
		if def.ID != forceID && !definitionOmitsID(body) {
			writeError(w, http.StatusBadRequest,
				fmt.Errorf("definition id %s does not match path id %s", def.ID, forceID))
			return nil, nil, false
		}
		def.ID = forceID
	}

	rule, err := s.compiler().Compile(def)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return nil, nil, false
	}
	if err := s.hub.Validate(rule.Event); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return nil, nil, false
	}

	canonical, err := withDefinitionID(body, rule.ID)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return nil, nil, false
	}
	return canonical, rule, true
}

// definitionOmitsID reports whether the document has no explicit id field,
// in which case ParseDefinition minted one and there is no mismatch to
// complain about.
func definitionOmitsID(body []byte) bool {
	var probe struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(body, &probe); err != nil {
		return false
	}
	return probe.ID == ""
}

// withDefinitionID rewrites the document so its id field holds the final
// rule ID. Reloads reparse stored documents, so the identity must live in
// the document itself.
func withDefinitionID(body []byte, id types.RuleID) (json.RawMessage, error) {
	var doc map[string]json.RawMessage
	if err := json.Unmarshal(body, &doc); err != nil {
		return nil, fmt.Errorf("invalid rule definition: %w", err)
	}
	idField, err := json.Marshal(string(id))
	if err != nil {
		return nil, err
	}
	doc["id"] = idField
	return json.Marshal(doc)
}
