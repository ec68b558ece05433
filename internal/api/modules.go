package api

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/microcoaster-core/internal/audit"
	"github.com/nerrad567/microcoaster-core/internal/auth"
	"github.com/nerrad567/microcoaster-core/internal/command"
	"github.com/nerrad567/microcoaster-core/internal/device"
	"github.com/nerrad567/microcoaster-core/internal/events"
)

// evictReasonReleased closes the session of a module whose claim is released.
const evictReasonReleased = "released"

// ─── Request/Response Types ────────────────────────────────────────

// moduleView is a stored module merged with its live presence.
type moduleView struct {
	device.Module
	Online        bool           `json:"online"`
	LastTelemetry map[string]any `json:"last_telemetry,omitempty"`
}

type claimRequest struct {
	ModuleID string `json:"module_id"`
	Secret   string `json:"secret"`
}

type commandRequest struct {
	Command string          `json:"command"`
	Params  json.RawMessage `json:"params"`
}

type provisionRequest struct {
	ID     string      `json:"id"`
	Type   device.Type `json:"type"`
	Name   string      `json:"name"`
	Secret string      `json:"secret"`
}

func (s *Server) view(m device.Module) moduleView {
	v := moduleView{Module: m}
	if state, ok := s.presence.Snapshot(m.ID); ok {
		v.Online = state.Online
		v.LastTelemetry = state.LastTelemetry
		if !state.LastSeen.IsZero() {
			seen := state.LastSeen
			v.LastSeen = &seen
		}
		if state.Online {
			v.Status = device.StatusOnline
		}
	}
	return v
}

func (s *Server) views(mods []device.Module) []moduleView {
	out := make([]moduleView, 0, len(mods))
	for _, m := range mods {
		out = append(out, s.view(m))
	}
	return out
}

// ─── Handlers ──────────────────────────────────────────────────────

// handleListModules returns the caller's modules with live presence.
func (s *Server) handleListModules(w http.ResponseWriter, r *http.Request) {
	id := identityFromContext(r.Context())

	mods, err := s.modules.ListByOwner(r.Context(), id.UserID)
	if err != nil {
		s.writeServiceError(w, err, "failed to list modules")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"modules": s.views(mods),
		"count":   len(mods),
	})
}

// handleClaimModule assigns an unclaimed module to the caller.
func (s *Server) handleClaimModule(w http.ResponseWriter, r *http.Request) {
	var req claimRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	req.ModuleID = strings.ToUpper(strings.TrimSpace(req.ModuleID))
	if req.ModuleID == "" || req.Secret == "" {
		writeBadRequest(w, "module_id and secret are required")
		return
	}

	id := identityFromContext(r.Context())
	m, err := s.modules.Claim(r.Context(), req.ModuleID, req.Secret, id.UserID)
	if err != nil {
		s.writeServiceError(w, err, "failed to claim module")
		return
	}

	s.logger.Info("module claimed", "device_id", m.ID, "user_id", id.UserID)
	s.record(r.Context(), audit.Entry{Action: audit.ActionModuleClaim, ModuleID: m.ID, UserID: id.UserID})
	s.events.ModuleClaimed(events.ModulePayload{
		DeviceID:   m.ID,
		DeviceType: string(m.Type),
		Name:       m.Name,
		UserID:     id.UserID,
	})
	writeJSON(w, http.StatusOK, s.view(*m))
}

// handleReleaseModule clears the caller's claim and drops the module's
// live session, which belonged to the old owner.
func (s *Server) handleReleaseModule(w http.ResponseWriter, r *http.Request) {
	moduleID := chi.URLParam(r, "id")
	id := identityFromContext(r.Context())

	if err := s.modules.Release(r.Context(), moduleID, id.UserID); err != nil {
		s.writeServiceError(w, err, "failed to release module")
		return
	}

	wasOnline := s.presence.Evict(moduleID, evictReasonReleased)
	s.record(r.Context(), audit.Entry{
		Action:   audit.ActionModuleRelease,
		ModuleID: moduleID,
		UserID:   id.UserID,
		Details:  map[string]any{"was_online": wasOnline},
	})
	s.logger.Info("module released", "device_id", moduleID, "user_id", id.UserID)
	s.events.ModuleReleased(events.ModulePayload{DeviceID: moduleID, UserID: id.UserID})
	w.WriteHeader(http.StatusNoContent)
}

// handleGetModule returns one module to its owner or an admin.
func (s *Server) handleGetModule(w http.ResponseWriter, r *http.Request) {
	id := identityFromContext(r.Context())

	m, err := s.modules.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeServiceError(w, err, "failed to load module")
		return
	}
	if m.OwnerID != id.UserID && !auth.HasPermission(id.Role, auth.PermModuleManage) {
		writeForbidden(w, "module is not yours")
		return
	}
	writeJSON(w, http.StatusOK, s.view(*m))
}

// handleModuleCommand dispatches a command. Rejections are reported in
// the body with status 200.
func (s *Server) handleModuleCommand(w http.ResponseWriter, r *http.Request) {
	var req commandRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}

	params, err := command.ParseParams(req.Params)
	if err != nil {
		writeJSON(w, http.StatusOK, command.Result{Reason: command.ReasonInvalidCommand})
		return
	}

	id := identityFromContext(r.Context())
	res := s.dispatcher.Dispatch(r.Context(), id.UserID, chi.URLParam(r, "id"), req.Command, params)
	writeJSON(w, http.StatusOK, res)
}

// handleAdminListModules returns every module with live presence.
func (s *Server) handleAdminListModules(w http.ResponseWriter, r *http.Request) {
	mods, err := s.modules.List(r.Context())
	if err != nil {
		s.writeServiceError(w, err, "failed to list modules")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"modules":   s.views(mods),
		"count":     len(mods),
		"snapshots": s.presence.ListSnapshots(),
	})
}

// handleProvisionModule registers a new unclaimed module.
func (s *Server) handleProvisionModule(w http.ResponseWriter, r *http.Request) {
	var req provisionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}

	m := &device.Module{
		ID:   strings.ToUpper(strings.TrimSpace(req.ID)),
		Type: req.Type,
		Name: req.Name,
	}
	if err := s.modules.Provision(r.Context(), m, req.Secret); err != nil {
		s.writeServiceError(w, err, "failed to provision module")
		return
	}

	by := identityFromContext(r.Context()).UserID
	s.logger.Info("module provisioned", "device_id", m.ID, "type", m.Type, "by", by)
	s.record(r.Context(), audit.Entry{
		Action:   audit.ActionModuleProvision,
		ModuleID: m.ID,
		UserID:   by,
		Details:  map[string]any{"type": m.Type, "name": m.Name},
	})
	writeJSON(w, http.StatusCreated, m)
}
