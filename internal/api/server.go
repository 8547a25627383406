package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/skyportlabs/panel/internal/auth"
	"github.com/skyportlabs/panel/internal/config"
	"github.com/skyportlabs/panel/internal/redeploy"
	"github.com/skyportlabs/panel/internal/store"
)

// Redeployer runs the redeployment workflow for one instance.
type Redeployer interface {
	Redeploy(ctx context.Context, req redeploy.Request, actor redeploy.Actor) (redeploy.Result, error)
}

type Server struct {
	cfg       config.Config
	redeploy  Redeployer
	recs      *store.Records
	metricsH  http.Handler
	logger    *slog.Logger
	startedAt time.Time
}

func New(cfg config.Config, rd Redeployer, recs *store.Records, metricsHandler http.Handler, logger *slog.Logger) *Server {
	return &Server{
		cfg:       cfg,
		redeploy:  rd,
		recs:      recs,
		metricsH:  metricsHandler,
		logger:    logger,
		startedAt: time.Now().UTC(),
	}
}

func (s *Server) Routes() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/healthz", s.handleHealthz)
	mux.HandleFunc("/readyz", s.handleReadyz)
	if s.metricsH != nil {
		mux.Handle(s.cfg.Observability.MetricsPath, s.metricsH)
	}

	mux.HandleFunc("/instances", s.handleListInstances)
	mux.HandleFunc("/instances/", s.handleInstancePath)

	return mux
}

func (s *Server) handleInstancePath(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/instances/")
	if rest, ok := strings.CutPrefix(path, "redeploy/"); ok {
		s.handleRedeploy(w, r, rest)
		return
	}
	s.handleGetInstance(w, r, path)
}

func (s *Server) handleRedeploy(w http.ResponseWriter, r *http.Request, instanceID string) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "Method not allowed.", nil)
		return
	}
	identity, ok := auth.IdentityFromContext(r.Context())
	if !ok || !identity.IsAdmin {
		writeError(w, http.StatusForbidden, "forbidden", "Admin access required.", nil)
		return
	}

	req, verr := redeploy.ValidateRequest(instanceID, r.URL.Query())
	if verr != nil {
		var details any
		if len(verr.Missing) > 0 {
			details = map[string]any{"missing": verr.Missing}
		}
		writeError(w, http.StatusBadRequest, string(verr.Kind), verr.Message, details)
		return
	}

	actor := redeploy.Actor{
		UserID:   identity.UserID,
		Username: identity.Username,
		SourceIP: auth.ClientIP(r),
	}
	result, err := s.redeploy.Redeploy(r.Context(), req, actor)
	if err != nil {
		s.writeRedeployErr(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, SuccessEnvelope{
		Success: true,
		Message: "Instance redeployed successfully.",
		Data: RedeployData{
			ContainerID: result.ContainerID,
			VolumeID:    result.VolumeID,
			InstanceID:  result.InstanceID,
		},
	})
}

func (s *Server) handleListInstances(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "Method not allowed.", nil)
		return
	}
	list, err := s.recs.InstanceList(r.Context(), store.GlobalInstancesKey)
	if err != nil {
		s.logger.Error("instance_list_failed", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "internal_error", "Unable to list instances.", nil)
		return
	}
	writeJSON(w, http.StatusOK, InstanceListResponse{Success: true, Instances: list})
}

func (s *Server) handleGetInstance(w http.ResponseWriter, r *http.Request, instanceID string) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "Method not allowed.", nil)
		return
	}
	if instanceID == "" {
		writeError(w, http.StatusNotFound, "not_found", "Instance not found.", nil)
		return
	}
	inst, err := s.recs.Instance(r.Context(), instanceID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "not_found", "Instance not found.", nil)
			return
		}
		s.logger.Error("instance_read_failed", slog.String("instance_id", instanceID), slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "internal_error", "Unable to read instance.", nil)
		return
	}
	writeJSON(w, http.StatusOK, InstanceResponse{Success: true, Instance: inst})
}

func (s *Server) writeRedeployErr(w http.ResponseWriter, err error) {
	re := redeploy.AsError(err)
	switch re.Kind {
	case redeploy.KindInvalidInput, redeploy.KindInvalidPortMapping, redeploy.KindInvalidState, redeploy.KindPreconditionFailed:
		writeError(w, http.StatusBadRequest, string(re.Kind), re.Message, nil)
	case redeploy.KindNotFound:
		writeError(w, http.StatusNotFound, string(re.Kind), re.Message, nil)
	case redeploy.KindUpstreamError:
		details := map[string]any{}
		if re.UpstreamStatus != 0 {
			details["status"] = re.UpstreamStatus
			details["body"] = re.UpstreamBody
		}
		writeError(w, http.StatusInternalServerError, string(re.Kind), re.Message, details)
	case redeploy.KindPersistenceError:
		writeError(w, http.StatusInternalServerError, string(re.Kind), re.Message, nil)
	default:
		s.logger.Error("redeploy_failed", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, string(redeploy.KindRedeployFailed),
			"Failed to redeploy instance. Please check the logs and try again.", nil)
	}
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "Method not allowed.", nil)
		return
	}
	storeOK := s.storeHealthy(r.Context())
	status := "ok"
	code := http.StatusOK
	if !storeOK {
		status = "degraded"
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, HealthResponse{
		Status:  status,
		Version: s.cfg.Server.Version,
		Uptime:  int64(time.Since(s.startedAt).Seconds()),
		StoreOK: storeOK,
	})
}

func (s *Server) handleReadyz(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "Method not allowed.", nil)
		return
	}
	if !s.storeHealthy(r.Context()) {
		writeJSON(w, http.StatusServiceUnavailable, ReadyResponse{Status: "not_ready", Ready: false})
		return
	}
	writeJSON(w, http.StatusOK, ReadyResponse{Status: "ready", Ready: true})
}

func (s *Server) storeHealthy(ctx context.Context) bool {
	_, err := s.recs.Images(ctx)
	return err == nil
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, errCode, message string, details any) {
	writeJSON(w, code, ErrorEnvelope{Error: ErrorBody{Code: errCode, Message: message, Details: details}})
}
