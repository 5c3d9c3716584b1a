package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"aqueue/internal/logger"
	"aqueue/internal/scenario"
	"aqueue/internal/worker"
)

// Response はAPIレスポンスの共通形式
type Response struct {
	Success bool   `json:"success"`
	Data    any    `json:"data,omitempty"`
	Error   string `json:"error,omitempty"`
}

func writeResponse(w http.ResponseWriter, status int, resp Response) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		logger.Error("api", "Failed to encode JSON: %v", err)
	}
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	writeResponse(w, status, Response{Success: true, Data: data})
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeResponse(w, status, Response{Success: false, Error: message})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	status := "healthy"
	if !s.pool.Running() {
		status = "stopped"
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": status})
}

// PoolResponse はプール診断レスポンス
type PoolResponse struct {
	worker.Stats
	Workers         []worker.WorkerInfo `json:"workers"`
	ScenarioRunning bool                `json:"scenario_running"`
}

func (s *Server) handlePool(w http.ResponseWriter, r *http.Request) {
	s.mu.RLock()
	running := s.engine != nil
	s.mu.RUnlock()

	writeJSON(w, http.StatusOK, PoolResponse{
		Stats:           s.pool.Stats(),
		Workers:         s.pool.Workers(),
		ScenarioRunning: running,
	})
}

// JobRequest はジョブ投入リクエスト
type JobRequest struct {
	Duration string `json:"duration"`        // 各ジョブのスリープ時間
	Count    int    `json:"count,omitempty"` // 投入数（省略で1）
	Fail     bool   `json:"fail,omitempty"`  // エラーを返すジョブにする
	Panic    bool   `json:"panic,omitempty"` // パニックするジョブにする
}

// JobResponse はジョブ投入レスポンス
type JobResponse struct {
	JobIDs     []string `json:"job_ids"`
	ActiveJobs int      `json:"active_jobs"`
}

// maxJobsPerRequest は1リクエストで投入できるジョブ数の上限
const maxJobsPerRequest = 10000

func (s *Server) handleSubmitJobs(w http.ResponseWriter, r *http.Request) {
	var req JobRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	var d time.Duration
	if req.Duration != "" {
		var err error
		if d, err = time.ParseDuration(req.Duration); err != nil || d < 0 {
			writeError(w, http.StatusBadRequest, "Invalid duration")
			return
		}
	}

	count := req.Count
	if count == 0 {
		count = 1
	}
	if count < 0 || count > maxJobsPerRequest {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("count must be between 1 and %d", maxJobsPerRequest))
		return
	}

	resp := JobResponse{JobIDs: make([]string, 0, count)}
	var submitErr error
	for range count {
		id, err := s.pool.SubmitJob(sleepJob(d, req.Fail, req.Panic))
		if err != nil {
			submitErr = err
			break
		}
		resp.JobIDs = append(resp.JobIDs, id)
	}
	resp.ActiveJobs = s.pool.ActiveJobs()

	switch {
	case submitErr == nil:
		writeJSON(w, http.StatusAccepted, resp)
	case len(resp.JobIDs) == 0:
		writeError(w, submitStatus(submitErr), submitErr.Error())
	default:
		// 受理済みのジョブは実行されるので、そのIDもエラーと一緒に返す
		writeResponse(w, http.StatusMultiStatus, Response{Success: false, Data: resp, Error: submitErr.Error()})
	}
}

// submitStatus は投入エラーに対応するステータスコードを返す
func submitStatus(err error) int {
	switch {
	case errors.Is(err, worker.ErrPoolShutDown):
		return http.StatusServiceUnavailable
	case errors.Is(err, worker.ErrQueueFull):
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}

// errRequestedFailure は fail 指定のジョブが返すエラー
var errRequestedFailure = errors.New("requested failure")

func sleepJob(d time.Duration, fail, panics bool) worker.Job {
	return worker.JobFunc(func() error {
		if d > 0 {
			time.Sleep(d)
		}
		if panics {
			panic("requested panic")
		}
		if fail {
			return errRequestedFailure
		}
		return nil
	})
}

// handleStopPool はクライアントの切断に関係なく stopTimeout まで停止を待つ
func (s *Server) handleStopPool(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(r.Context()), s.stopTimeout)
	defer cancel()

	if err := s.pool.StopContext(ctx); err != nil {
		writeError(w, http.StatusGatewayTimeout, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"state": s.pool.State().String()})
}

// PresetInfo はプリセット情報
type PresetInfo struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Kind        string `json:"kind"`
}

func (s *Server) handlePresets(w http.ResponseWriter, r *http.Request) {
	names := scenario.ListPresets()
	presets := make([]PresetInfo, 0, len(names))
	for _, name := range names {
		config, _ := scenario.GetPreset(name)
		presets = append(presets, PresetInfo{
			Name:        name,
			Description: config.Description,
			Kind:        string(config.Kind),
		})
	}
	writeJSON(w, http.StatusOK, presets)
}

func (s *Server) handleRunScenario(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")

	config, ok := scenario.GetPreset(name)
	if !ok {
		writeError(w, http.StatusNotFound, "Unknown scenario: "+name)
		return
	}

	s.mu.Lock()
	if s.engine != nil {
		s.mu.Unlock()
		writeError(w, http.StatusConflict, "Scenario already running")
		return
	}
	engine := scenario.New(config)
	engine.SetEventBus(s.bus)
	s.engine = engine
	s.mu.Unlock()

	// バックグラウンドで実行
	s.scenarios.Add(1)
	go func() {
		defer s.scenarios.Done()

		result, err := engine.Run(s.ctx)

		s.mu.Lock()
		s.engine = nil
		if result != nil {
			s.lastResult = result
		}
		s.mu.Unlock()

		if err != nil {
			logger.Error("api", "Scenario %s failed: %v", name, err)
		} else {
			logger.Info("api", "Scenario %s completed (passed: %v)", name, result.Passed)
		}

		s.broadcast(map[string]any{
			"type":   "scenario_complete",
			"result": result,
		})
	}()

	writeJSON(w, http.StatusAccepted, map[string]string{"status": "started", "scenario": config.Name})
}

func (s *Server) handleLastResult(w http.ResponseWriter, r *http.Request) {
	s.mu.RLock()
	result := s.lastResult
	s.mu.RUnlock()

	if result == nil {
		writeError(w, http.StatusNotFound, "No scenario has completed")
		return
	}
	writeJSON(w, http.StatusOK, result)
}
