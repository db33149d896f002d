package main

import (
	stderrors "errors"
	"net/http"

	json "github.com/goccy/go-json"
	"go.uber.org/zap"

	"github.com/PNdlovu/WriteCareNotes-sub010/pkg/connector/core"
	"github.com/PNdlovu/WriteCareNotes-sub010/pkg/connector/engine"
	"github.com/PNdlovu/WriteCareNotes-sub010/pkg/connector/instance"
	"github.com/PNdlovu/WriteCareNotes-sub010/pkg/connector/registry"
	"github.com/PNdlovu/WriteCareNotes-sub010/pkg/errors"
	"github.com/PNdlovu/WriteCareNotes-sub010/pkg/logger"
)

// apiServer exposes the engine's operations over HTTP. It is an
// administrative surface: authentication and tenancy enforcement sit in the
// platform gateway in front of it, which forwards the caller identity in
// the X-Tenant-ID and X-User-ID headers.
type apiServer struct {
	registry *registry.Registry
	manager  *instance.Manager
	engine   *engine.Engine
	logger   *zap.Logger
}

func newAPI(reg *registry.Registry, manager *instance.Manager, eng *engine.Engine) http.Handler {
	s := &apiServer{
		registry: reg,
		manager:  manager,
		engine:   eng,
		logger:   logger.Get().With(zap.String("component", "api")),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	mux.HandleFunc("GET /connectors", s.listConnectors)
	mux.HandleFunc("GET /connectors/{id}", s.getConnector)

	mux.HandleFunc("POST /instances", s.createInstance)
	mux.HandleFunc("GET /instances", s.listInstances)
	mux.HandleFunc("GET /instances/{id}", s.getInstance)
	mux.HandleFunc("PUT /instances/{id}", s.updateInstance)
	mux.HandleFunc("PUT /instances/{id}/status", s.setInstanceStatus)
	mux.HandleFunc("DELETE /instances/{id}", s.deleteInstance)

	mux.HandleFunc("POST /instances/{id}/executions", s.executeEndpoint)
	mux.HandleFunc("GET /executions", s.listExecutions)
	mux.HandleFunc("GET /executions/{id}", s.getExecution)
	mux.HandleFunc("POST /executions/{id}/cancel", s.cancelExecution)

	return mux
}

func callerFrom(r *http.Request) core.Caller {
	return core.Caller{
		TenantID: r.Header.Get("X-Tenant-ID"),
		UserID:   r.Header.Get("X-User-ID"),
	}
}

func (s *apiServer) listConnectors(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, s.registry.List())
}

func (s *apiServer) getConnector(w http.ResponseWriter, r *http.Request) {
	def, err := s.registry.Get(r.PathValue("id"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, def)
}

type createInstanceRequest struct {
	ConnectorID string                 `json:"connector_id"`
	Name        string                 `json:"name"`
	Config      map[string]interface{} `json:"config"`
	Credentials map[string]interface{} `json:"credentials"`
}

func (s *apiServer) createInstance(w http.ResponseWriter, r *http.Request) {
	var req createInstanceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, errors.ValidationFailed("body", "malformed request body"))
		return
	}

	inst, err := s.manager.CreateInstance(r.Context(), req.ConnectorID, req.Name,
		req.Config, req.Credentials, callerFrom(r))
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, inst)
}

func (s *apiServer) listInstances(w http.ResponseWriter, r *http.Request) {
	instances, err := s.manager.List(r.Context(), r.URL.Query().Get("connector_id"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, instances)
}

func (s *apiServer) getInstance(w http.ResponseWriter, r *http.Request) {
	inst, err := s.manager.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, inst)
}

type updateInstanceRequest struct {
	Name        *string                `json:"name"`
	Config      map[string]interface{} `json:"config"`
	Credentials map[string]interface{} `json:"credentials"`
}

func (s *apiServer) updateInstance(w http.ResponseWriter, r *http.Request) {
	var req updateInstanceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, errors.ValidationFailed("body", "malformed request body"))
		return
	}

	inst, err := s.manager.UpdateInstance(r.Context(), r.PathValue("id"), instance.UpdateRequest{
		Name:        req.Name,
		Config:      req.Config,
		Credentials: req.Credentials,
	}, callerFrom(r))
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, inst)
}

func (s *apiServer) setInstanceStatus(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Status string `json:"status"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, errors.ValidationFailed("body", "malformed request body"))
		return
	}

	inst, err := s.manager.SetStatus(r.Context(), r.PathValue("id"),
		core.InstanceStatus(req.Status), callerFrom(r))
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, inst)
}

func (s *apiServer) deleteInstance(w http.ResponseWriter, r *http.Request) {
	if err := s.manager.DeleteInstance(r.Context(), r.PathValue("id"), callerFrom(r)); err != nil {
		s.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type executeRequest struct {
	EndpointID string      `json:"endpoint_id"`
	Input      core.Record `json:"input"`
}

func (s *apiServer) executeEndpoint(w http.ResponseWriter, r *http.Request) {
	var req executeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, errors.ValidationFailed("body", "malformed request body"))
		return
	}

	exec, err := s.engine.ExecuteEndpoint(r.Context(), r.PathValue("id"),
		req.EndpointID, req.Input, callerFrom(r))
	if err != nil {
		// A failed execution still carries its record; surface both.
		if exec != nil {
			s.writeJSON(w, statusFor(err), exec)
			return
		}
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, exec)
}

func (s *apiServer) listExecutions(w http.ResponseWriter, r *http.Request) {
	execs, err := s.engine.ListExecutions(r.Context(), r.URL.Query().Get("instance_id"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, execs)
}

func (s *apiServer) getExecution(w http.ResponseWriter, r *http.Request) {
	exec, err := s.engine.GetExecution(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, exec)
}

func (s *apiServer) cancelExecution(w http.ResponseWriter, r *http.Request) {
	if err := s.engine.CancelExecution(r.PathValue("id")); err != nil {
		s.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

func (s *apiServer) writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.logger.Warn("failed to encode response", zap.Error(err))
	}
}

type errorResponse struct {
	Error   string                 `json:"error"`
	Type    string                 `json:"type,omitempty"`
	Details map[string]interface{} `json:"details,omitempty"`
}

func (s *apiServer) writeError(w http.ResponseWriter, err error) {
	resp := errorResponse{Error: err.Error()}
	var structured *errors.Error
	if stderrors.As(err, &structured) {
		resp.Type = string(structured.Type)
		resp.Details = structured.Details
	}
	s.writeJSON(w, statusFor(err), resp)
}

func statusFor(err error) int {
	var structured *errors.Error
	if !stderrors.As(err, &structured) {
		return http.StatusInternalServerError
	}
	switch structured.Type {
	case errors.ErrorTypeNotFound:
		return http.StatusNotFound
	case errors.ErrorTypeValidation, errors.ErrorTypeData:
		return http.StatusBadRequest
	case errors.ErrorTypeConfig:
		return http.StatusUnprocessableEntity
	case errors.ErrorTypeRateLimit:
		return http.StatusTooManyRequests
	case errors.ErrorTypeAuthentication:
		return http.StatusUnauthorized
	case errors.ErrorTypeConflict:
		return http.StatusConflict
	case errors.ErrorTypeTimeout:
		return http.StatusGatewayTimeout
	case errors.ErrorTypeConnection:
		return http.StatusBadGateway
	case errors.ErrorTypeCancelled:
		return 499 // client closed request
	default:
		return http.StatusInternalServerError
	}
}
