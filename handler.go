package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/Tutortoise/fpga-inference-service/config"
	"github.com/Tutortoise/fpga-inference-service/detections"
	"github.com/Tutortoise/fpga-inference-service/logger"
	"github.com/Tutortoise/fpga-inference-service/models"
	"github.com/Tutortoise/fpga-inference-service/staging"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
)

const frameField = "frame"

var errNoFrame = errors.New("no frame field in request")

// FrameStager persists a frame where the inference executable can read it.
type FrameStager interface {
	Save(frame []byte) (string, error)
}

// InferenceRunner launches the inference executable and reports its output.
type InferenceRunner interface {
	Run(ctx context.Context, workDir, executable, inputName string) (models.InferenceReport, error)
}

// ReportExtractor turns a raw report into detections.
type ReportExtractor func(report models.InferenceReport) (models.InferenceResult, error)

type AppState struct {
	Accelerator config.AcceleratorConfig
	MaxFrame    int64
	Gate        *Gate
	Stager      FrameStager
	Invoker     InferenceRunner
	Extract     ReportExtractor
	Logger      *logger.Logger

	statsMu     sync.RWMutex
	processed   int64
	failed      int64
	lastLatency float64
}

type DetectionPayload struct {
	Label string  `json:"label"`
	Conf  float64 `json:"conf"`
	Box   [4]int  `json:"box"`
}

type FrameResponse struct {
	Status     string             `json:"status"`
	LatencyMs  float64            `json:"latency_ms"`
	Detections []DetectionPayload `json:"detections"`
}

type ErrorResponse struct {
	Status string `json:"status,omitempty"`
	Error  string `json:"error"`
}

func newRouter(state *AppState) http.Handler {
	r := mux.NewRouter()
	r.HandleFunc("/process-frame", handleProcessFrame(state)).Methods(http.MethodPost)
	r.HandleFunc("/process-frame", handlePreflight).Methods(http.MethodOptions)
	state.addMonitoringRoutes(r)
	return corsMiddleware(r)
}

// corsMiddleware wraps the whole router so that unmatched routes get the
// headers too.
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h := w.Header()
		h.Set("Access-Control-Allow-Origin", "*")
		h.Set("Access-Control-Allow-Headers", "Content-Type,Authorization,ngrok-skip-browser-warning,x-hackathon-token")
		h.Set("Access-Control-Allow-Methods", "GET,PUT,POST,DELETE,OPTIONS")
		next.ServeHTTP(w, r)
	})
}

func handlePreflight(w http.ResponseWriter, _ *http.Request) {
	sendJSON(w, http.StatusOK, struct{}{})
}

func handleProcessFrame(state *AppState) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		startTotal := time.Now()
		requestID := uuid.NewString()
		log := state.Logger.ForRequest(requestID)
		timings := &models.ProcessingTimings{RequestID: requestID}

		frame, err := readFrame(w, r, state.MaxFrame)
		if err != nil {
			var tooLarge *http.MaxBytesError
			if errors.As(err, &tooLarge) {
				sendErrorResponse(w, MsgFrameTooLarge, http.StatusRequestEntityTooLarge)
				return
			}
			log.Debug("Rejecting request without frame", "error", err)
			sendErrorResponse(w, MsgNoFrame, http.StatusBadRequest)
			return
		}

		if !state.Gate.TryAcquire() {
			log.Debug("Accelerator busy, dropping frame")
			sendJSON(w, http.StatusTooManyRequests, ErrorResponse{Status: StatusSkipped, Error: MsgBusy})
			return
		}

		result, err := state.runInference(r.Context(), log, frame, timings)
		timings.Total = time.Since(startTotal)
		logTimings(log, timings)

		if err != nil {
			state.recordFailure()
			if errors.Is(err, staging.ErrInvalidImage) {
				sendErrorResponse(w, MsgInvalidImage, http.StatusBadRequest)
				return
			}

			var execErr *detections.ExecutionError
			if errors.As(err, &execErr) {
				log.Error("CRITICAL ERROR: inference executable failed",
					"exit_code", execErr.ExitCode,
					"parsed_detections", execErr.Parsed,
					"error", execErr.Diagnostic)
			} else {
				log.Error("CRITICAL ERROR: frame processing failed", "error", err.Error())
			}
			sendErrorResponse(w, err.Error(), http.StatusInternalServerError)
			return
		}

		state.recordSuccess(result.LatencyMs)
		log.Debug("Frame processed",
			"latency_ms", result.LatencyMs,
			"detections", detections.FormatDetections(result.Detections))

		sendJSON(w, http.StatusOK, newFrameResponse(result))
	}
}

// runInference holds the accelerator for the whole stage, invoke and parse
// sequence. The gate is released on every return path, panics included.
func (s *AppState) runInference(ctx context.Context, log *logger.Logger, frame []byte, timings *models.ProcessingTimings) (result models.InferenceResult, err error) {
	defer s.Gate.Release()
	defer func() {
		if p := recover(); p != nil {
			log.Error("Recovered panic during inference", "panic", fmt.Sprint(p))
			err = fmt.Errorf("unexpected fault: %v", p)
		}
	}()

	stageStart := time.Now()
	if _, err := s.Stager.Save(frame); err != nil {
		return models.InferenceResult{}, err
	}
	timings.Stage = time.Since(stageStart)

	// A client hanging up must not kill a job already on the accelerator;
	// only the configured timeout may.
	runCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.Accelerator.Timeout)
	defer cancel()

	invokeStart := time.Now()
	report, err := s.Invoker.Run(runCtx, s.Accelerator.WorkDir, s.Accelerator.Executable, s.Accelerator.InputName)
	timings.Invoke = time.Since(invokeStart)
	if err != nil {
		return models.InferenceResult{}, err
	}

	parseStart := time.Now()
	result, err = s.Extract(report)
	timings.Parse = time.Since(parseStart)
	return result, err
}

func readFrame(w http.ResponseWriter, r *http.Request, limit int64) ([]byte, error) {
	// A declared length over the limit is refused without reading the body.
	// Chunked uploads are cut off by MaxBytesReader instead.
	if r.ContentLength > limit {
		return nil, &http.MaxBytesError{Limit: limit}
	}
	r.Body = http.MaxBytesReader(w, r.Body, limit)
	if err := r.ParseMultipartForm(limit); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %v", errNoFrame, err)
	}

	file, _, err := r.FormFile(frameField)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errNoFrame, err)
	}
	defer file.Close()

	return io.ReadAll(file)
}

func newFrameResponse(result models.InferenceResult) FrameResponse {
	payload := make([]DetectionPayload, 0, len(result.Detections))
	for _, d := range result.Detections {
		payload = append(payload, DetectionPayload{
			Label: d.Label,
			Conf:  d.Confidence,
			Box:   [4]int{d.Box.X, d.Box.Y, d.Box.Width, d.Box.Height},
		})
	}
	return FrameResponse{
		Status:     string(models.StatusSuccess),
		LatencyMs:  result.LatencyMs,
		Detections: payload,
	}
}

func (s *AppState) recordSuccess(latencyMs float64) {
	s.statsMu.Lock()
	defer s.statsMu.Unlock()
	s.processed++
	s.lastLatency = latencyMs
}

func (s *AppState) recordFailure() {
	s.statsMu.Lock()
	defer s.statsMu.Unlock()
	s.failed++
}

func (s *AppState) addMonitoringRoutes(r *mux.Router) {
	r.HandleFunc("/metrics", s.handleMetrics).Methods(http.MethodGet)
	r.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
}

func (s *AppState) handleMetrics(w http.ResponseWriter, _ *http.Request) {
	gate := s.Gate.GetMetrics()

	s.statsMu.RLock()
	response := map[string]interface{}{
		"accelerator_busy":    gate.InUse,
		"accelerator_held_ms": gate.HeldTime.Milliseconds(),
		"total_acquired":      gate.TotalAcquired,
		"total_released":      gate.TotalReleased,
		"frames_dropped":      gate.TotalRejected,
		"frames_processed":    s.processed,
		"frames_failed":       s.failed,
		"last_latency_ms":     s.lastLatency,
	}
	s.statsMu.RUnlock()

	sendJSON(w, http.StatusOK, response)
}

func (s *AppState) handleHealth(w http.ResponseWriter, _ *http.Request) {
	sendJSON(w, http.StatusOK, map[string]interface{}{
		"status": "ok",
		"busy":   s.Gate.Busy(),
	})
}

func logTimings(log *logger.Logger, t *models.ProcessingTimings) {
	log.Debug("Processing times",
		"stage", t.Stage,
		"invoke", t.Invoke,
		"parse", t.Parse,
		"total", t.Total)
}

func sendJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}

func sendErrorResponse(w http.ResponseWriter, message string, status int) {
	sendJSON(w, status, ErrorResponse{Error: message})
}
