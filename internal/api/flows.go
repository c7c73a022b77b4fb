package api

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/dali-center/internal/flow"
	"github.com/nerrad567/dali-center/internal/inventory"
)

// selectGatewayRequest is the body of POST /flows/{id}/gateway.
type selectGatewayRequest struct {
	Serial string `json:"serial"`
}

// selectEntitiesRequest is the body of POST /flows/{id}/entities.
type selectEntitiesRequest struct {
	Selected []inventory.Key `json:"selected"`
}

// handleListFlows returns every retained flow, newest first.
func (s *Server) handleListFlows(w http.ResponseWriter, _ *http.Request) {
	flows := s.flows.List()
	writeJSON(w, http.StatusOK, map[string]any{
		"flows": flows,
		"count": len(flows),
	})
}

// handleStartDiscovery starts a discovery flow. The scan runs in the
// background.
func (s *Server) handleStartDiscovery(w http.ResponseWriter, r *http.Request) {
	f, err := s.flows.StartDiscovery(r.Context())
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	s.logger.Info("discovery started", "flow_id", f.ID(), "by", subject(r))
	writeJSON(w, http.StatusAccepted, f.Snapshot())
}

// handleGetFlow returns one flow's snapshot.
func (s *Server) handleGetFlow(w http.ResponseWriter, r *http.Request) {
	f, err := s.flows.Get(chi.URLParam(r, "id"))
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, f.Snapshot())
}

// handleRescan restarts the gateway scan of a discovery flow.
func (s *Server) handleRescan(w http.ResponseWriter, r *http.Request) {
	s.flowAction(w, r, func(f *flow.Flow) error {
		return f.Rescan(r.Context())
	})
}

// handleSelectGateway picks a scanned gateway; the inventory fetch runs in
// the background.
func (s *Server) handleSelectGateway(w http.ResponseWriter, r *http.Request) {
	var req selectGatewayRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	if req.Serial == "" {
		writeError(w, http.StatusBadRequest, ErrCodeValidation, "serial is required")
		return
	}
	s.flowAction(w, r, func(f *flow.Flow) error {
		return f.SelectGateway(r.Context(), req.Serial)
	})
}

// handleSelectEntities persists the chosen entities. An empty selection is
// valid and configures the gateway with no entities.
func (s *Server) handleSelectEntities(w http.ResponseWriter, r *http.Request) {
	var req selectEntitiesRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body: "+err.Error())
		return
	}
	s.flowAction(w, r, func(f *flow.Flow) error {
		return f.SelectEntities(r.Context(), req.Selected)
	})
}

// handleCancelFlow cancels a flow that has not finished.
func (s *Server) handleCancelFlow(w http.ResponseWriter, r *http.Request) {
	s.flowAction(w, r, func(f *flow.Flow) error {
		return f.Cancel()
	})
}

// flowAction runs op on the flow named in the URL and answers with its
// snapshot.
func (s *Server) flowAction(w http.ResponseWriter, r *http.Request, op func(f *flow.Flow) error) {
	f, err := s.flows.Get(chi.URLParam(r, "id"))
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	if err := op(f); err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, f.Snapshot())
}

// subject returns the token subject of the request for logs and audit.
func subject(r *http.Request) string {
	if claims := claimsFromContext(r.Context()); claims != nil {
		return claims.Subject
	}
	return ""
}
