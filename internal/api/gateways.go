package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/dali-center/internal/flow"
	"github.com/nerrad567/dali-center/internal/inventory"
	"github.com/nerrad567/dali-center/internal/selection"
)

// GatewaySummary is one configured gateway in the list response.
type GatewaySummary struct {
	Serial     string           `json:"serial"`
	Name       string           `json:"name"`
	Label      string           `json:"label"`
	Host       string           `json:"host,omitempty"`
	Port       int              `json:"port,omitempty"`
	Revision   int              `json:"revision"`
	Selected   int              `json:"selected"`
	LastSeen   int              `json:"last_seen"`
	ByKind     map[string]int   `json:"selected_by_kind"`
	UpdatedAt  time.Time        `json:"updated_at"`
	ActiveFlow string           `json:"active_flow,omitempty"`
	Items      []inventory.Item `json:"items,omitempty"`
}

// refreshRequest is the body of POST /gateways/{serial}/refresh. An empty
// body refreshes every kind.
type refreshRequest struct {
	Kinds          []string `json:"kinds"`
	RefreshAddress bool     `json:"refresh_address"`
}

func (s *Server) summarise(rec *selection.Record) GatewaySummary {
	byKind := make(map[string]int, len(inventory.EntityKinds))
	for _, k := range inventory.EntityKinds {
		byKind[k.Plural()] = 0
	}
	for key := range rec.Selected {
		byKind[key.Kind.Plural()]++
	}

	gs := GatewaySummary{
		Serial:    rec.GatewaySerial,
		Name:      rec.Gateway.DisplayName,
		Label:     rec.Gateway.Label(),
		Revision:  rec.Revision,
		Selected:  len(rec.Selected),
		LastSeen:  len(rec.LastSeen),
		ByKind:    byKind,
		UpdatedAt: rec.UpdatedAt,
	}
	if gi := rec.Gateway.TypeInfo.Gateway; gi != nil {
		gs.Host, gs.Port = gi.Host, gi.Port
	}
	if id, ok := s.flows.ActiveFlow(rec.GatewaySerial); ok {
		gs.ActiveFlow = id
	}
	return gs
}

// handleListGateways returns every configured gateway.
func (s *Server) handleListGateways(w http.ResponseWriter, r *http.Request) {
	records, err := s.store.List(r.Context())
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	out := make([]GatewaySummary, 0, len(records))
	for _, rec := range records {
		out = append(out, s.summarise(rec))
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"gateways": out,
		"count":    len(out),
	})
}

// handleGetGateway returns one gateway with its selected items.
func (s *Server) handleGetGateway(w http.ResponseWriter, r *http.Request) {
	rec, err := s.store.Load(r.Context(), chi.URLParam(r, "serial"))
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	gs := s.summarise(rec)
	gs.Items = rec.SelectedItems()
	writeJSON(w, http.StatusOK, gs)
}

// handleRemoveGateway destroys a gateway's record and its host entities.
func (s *Server) handleRemoveGateway(w http.ResponseWriter, r *http.Request) {
	serial := chi.URLParam(r, "serial")
	if err := s.flows.RemoveGateway(r.Context(), serial); err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	s.logger.Info("gateway removed", "gateway", serial, "by", subject(r))
	if s.recorder != nil {
		if err := s.recorder.GatewayRemoved(r.Context(), serial, subject(r)); err != nil {
			s.logger.Error("audit write failed", "action", "gateway_removed", "error", err)
		}
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleStartRefresh starts a refresh flow for a configured gateway.
func (s *Server) handleStartRefresh(w http.ResponseWriter, r *http.Request) {
	var req refreshRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		writeBadRequest(w, "invalid JSON body")
		return
	}

	fr := flow.RefreshRequest{RefreshAddress: req.RefreshAddress}
	for _, k := range req.Kinds {
		kind, err := inventory.ParseKind(k)
		if err != nil {
			writeError(w, http.StatusBadRequest, ErrCodeValidation, err.Error())
			return
		}
		fr.Kinds = append(fr.Kinds, kind)
	}

	serial := chi.URLParam(r, "serial")
	f, err := s.flows.StartRefresh(r.Context(), serial, fr)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	s.logger.Info("refresh started", "flow_id", f.ID(), "gateway", serial, "by", subject(r))
	writeJSON(w, http.StatusAccepted, f.Snapshot())
}
