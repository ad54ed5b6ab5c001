package main

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/BaSui01/expflow/experiment"
	"github.com/BaSui01/expflow/types"

	"go.uber.org/zap"
)

// Handlers 实验 API 的 HTTP 处理器集合
type Handlers struct {
	svc    *experiment.Service
	ready  func(ctx context.Context) error
	logger *zap.Logger
}

// NewHandlers 创建处理器集合。ready 为就绪探针回调（检查存储等依赖），可为 nil。
func NewHandlers(svc *experiment.Service, ready func(ctx context.Context) error, logger *zap.Logger) *Handlers {
	return &Handlers{svc: svc, ready: ready, logger: logger}
}

// Register 注册全部路由
func (h *Handlers) Register(mux *http.ServeMux) {
	mux.HandleFunc("POST /v1/assign", h.handleAssign)
	mux.HandleFunc("POST /v1/convert", h.handleConvert)

	mux.HandleFunc("POST /v1/experiments", h.handleCreateExperiment)
	mux.HandleFunc("GET /v1/experiments", h.handleListExperiments)
	mux.HandleFunc("GET /v1/experiments/{name}", h.handleGetExperiment)
	mux.HandleFunc("DELETE /v1/experiments/{name}", h.handleDeleteExperiment)
	mux.HandleFunc("POST /v1/experiments/{name}/status", h.handleTransitionStatus)
	mux.HandleFunc("GET /v1/experiments/{name}/results", h.handleResults)
	mux.HandleFunc("POST /v1/experiments/{name}/rebuild", h.handleRebuild)

	mux.HandleFunc("GET /health", h.handleHealth)
	mux.HandleFunc("GET /healthz", h.handleHealthz)
	mux.HandleFunc("GET /ready", h.handleReady)
	mux.HandleFunc("GET /version", h.handleVersion)
}

// --- 分流与转化 ---

type assignRequest struct {
	Experiment    string            `json:"experiment"`
	ParticipantID string            `json:"participant_id"`
	Context       map[string]string `json:"context,omitempty"`
}

type assignResponse struct {
	Experiment    string `json:"experiment"`
	ParticipantID string `json:"participant_id"`
	Variant       string `json:"variant"`
}

func (h *Handlers) handleAssign(w http.ResponseWriter, r *http.Request) {
	var req assignRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	if req.Experiment == "" || req.ParticipantID == "" {
		writeBadRequest(w, "experiment and participant_id are required")
		return
	}

	variant, err := h.svc.AssignVariant(r.Context(), req.Experiment, req.ParticipantID, req.Context)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, assignResponse{
		Experiment:    req.Experiment,
		ParticipantID: req.ParticipantID,
		Variant:       variant,
	})
}

type convertRequest struct {
	Experiment    string `json:"experiment"`
	ParticipantID string `json:"participant_id"`
	Goal          string `json:"goal"`
}

func (h *Handlers) handleConvert(w http.ResponseWriter, r *http.Request) {
	var req convertRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	if req.Experiment == "" || req.ParticipantID == "" || req.Goal == "" {
		writeBadRequest(w, "experiment, participant_id and goal are required")
		return
	}

	if err := h.svc.RecordConversion(r.Context(), req.Experiment, req.ParticipantID, req.Goal); err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "recorded"})
}

// --- 实验管理 ---

func (h *Handlers) handleCreateExperiment(w http.ResponseWriter, r *http.Request) {
	var exp types.Experiment
	if err := json.NewDecoder(r.Body).Decode(&exp); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	if err := h.svc.CreateExperiment(r.Context(), &exp); err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, exp)
}

func (h *Handlers) handleListExperiments(w http.ResponseWriter, r *http.Request) {
	exps, err := h.svc.ListExperiments(r.Context())
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"experiments": exps})
}

func (h *Handlers) handleGetExperiment(w http.ResponseWriter, r *http.Request) {
	exp, err := h.svc.GetExperiment(r.Context(), r.PathValue("name"))
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, exp)
}

func (h *Handlers) handleDeleteExperiment(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.DeleteExperiment(r.Context(), r.PathValue("name")); err != nil {
		h.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type transitionRequest struct {
	Status types.Status `json:"status"`
}

func (h *Handlers) handleTransitionStatus(w http.ResponseWriter, r *http.Request) {
	var req transitionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	if !req.Status.Valid() {
		writeBadRequest(w, "unknown status")
		return
	}
	if err := h.svc.TransitionStatus(r.Context(), r.PathValue("name"), req.Status); err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": string(req.Status)})
}

func (h *Handlers) handleResults(w http.ResponseWriter, r *http.Request) {
	report, err := h.svc.ExperimentResults(r.Context(), r.PathValue("name"))
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (h *Handlers) handleRebuild(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.RebuildCounters(r.Context(), r.PathValue("name")); err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "rebuilt"})
}

// --- 健康与版本 ---

func (h *Handlers) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	if h.ready != nil {
		if err := h.ready(ctx); err != nil {
			h.logger.Warn("health check failed", zap.Error(err))
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{
				"status": "unhealthy",
				"reason": err.Error(),
			})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// 存活探针:进程存活即 200,不触达依赖
func (h *Handlers) handleHealthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *Handlers) handleReady(w http.ResponseWriter, r *http.Request) {
	h.handleHealth(w, r)
}

func (h *Handlers) handleVersion(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"version":    Version,
		"build_time": BuildTime,
		"git_commit": GitCommit,
	})
}

// --- 响应辅助 ---

type errorBody struct {
	Code    types.ErrorCode `json:"code"`
	Message string          `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeBadRequest(w http.ResponseWriter, message string) {
	writeJSON(w, http.StatusBadRequest, map[string]errorBody{
		"error": {Code: types.ErrCodeInvalidExperiment, Message: message},
	})
}

// writeError 将领域错误映射为 HTTP 状态码
func (h *Handlers) writeError(w http.ResponseWriter, err error) {
	code := types.GetErrorCode(err)

	status := http.StatusInternalServerError
	switch code {
	case types.ErrCodeExperimentNotFound, types.ErrCodeVariantNotFound:
		status = http.StatusNotFound
	case types.ErrCodeInvalidExperiment, types.ErrCodeInvalidTrafficPercent,
		types.ErrCodeInvalidWeights, types.ErrCodeUnknownGoal:
		status = http.StatusBadRequest
	case types.ErrCodeInvalidTransition, types.ErrCodeExperimentNotRunning,
		types.ErrCodeNoAssignment:
		status = http.StatusConflict
	case types.ErrCodeStorage:
		if types.IsRetryable(err) {
			status = http.StatusServiceUnavailable
		}
	}

	message := err.Error()
	var domainErr *types.Error
	if errors.As(err, &domainErr) {
		message = domainErr.Message
	}

	if status >= http.StatusInternalServerError {
		h.logger.Error("request failed", zap.String("code", string(code)), zap.Error(err))
	}
	writeJSON(w, status, map[string]errorBody{
		"error": {Code: code, Message: message},
	})
}
