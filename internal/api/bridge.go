package api

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"

	"github.com/ashureev/tutormesh/internal/bridge"
	"github.com/ashureev/tutormesh/internal/config"
	"github.com/ashureev/tutormesh/internal/domain"
	"github.com/ashureev/tutormesh/internal/identity"
	"github.com/ashureev/tutormesh/internal/student"
)

const (
	msgEmptyInput  = "Input cannot be empty."
	msgUnavailable = "The student agent is unavailable. Please try again shortly."
	msgDelayed     = "Your input was received; the response is delayed. Poll /recent_outputs for it."
)

// Submitter hands raw input to the student agent without waiting for the
// tutor.
type Submitter interface {
	Submit(studentID, text, correlationID string) error
}

// BridgeHandler serves the UI bridge endpoints.
type BridgeHandler struct {
	submitter      Submitter
	buffer         *bridge.Buffer
	limiter        *RateLimiter
	ui             config.UIConfig
	allowedOrigins []string
	isDev          bool
	logger         *slog.Logger
}

// NewBridgeHandler creates the handler. Call Close to stop the rate limiter.
func NewBridgeHandler(sub Submitter, buf *bridge.Buffer, cfg *config.Config, logger *slog.Logger) *BridgeHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &BridgeHandler{
		submitter:      sub,
		buffer:         buf,
		limiter:        NewRateLimiter(cfg.RateLimit.RequestsPerWindow, cfg.RateLimit.WindowDuration),
		ui:             cfg.UI,
		allowedOrigins: cfg.AllowedOrigins(),
		isDev:          cfg.IsDevelopment(),
		logger:         logger.With("component", "ui_bridge"),
	}
}

// RegisterRoutes mounts the bridge routes on r.
func (h *BridgeHandler) RegisterRoutes(r chi.Router) {
	r.Post("/submit_input", h.HandleSubmit)
	r.Post("/submit", h.HandleSubmit)
	r.Get("/ui", h.HandleSubmit)
	r.Get("/recent_outputs", h.HandleRecentOutputs)
	r.Post("/recent_outputs", h.HandleRecentOutputs)
	r.Get("/ws/outputs", h.HandleOutputsWS)
}

// Close releases background resources.
func (h *BridgeHandler) Close() {
	h.limiter.Close()
}

type submitRequest struct {
	StudentID      string `json:"studentId"`
	StudentIDSnake string `json:"student_id"`
	Text           string `json:"text"`
	UserInput      string `json:"user_input"`
}

type submitResponse struct {
	Status        string               `json:"status"`
	Message       string               `json:"message"`
	StudentID     string               `json:"student_id"`
	CorrelationID string               `json:"correlation_id"`
	Ordinal       int64                `json:"ordinal"`
	Outputs       []domain.OutputEntry `json:"outputs"`
	Delayed       bool                 `json:"delayed"`
}

type recentResponse struct {
	StudentID string               `json:"student_id"`
	Outputs   []domain.OutputEntry `json:"outputs"`
	Latest    int64                `json:"latest"`
}

var errMalformed = errors.New("malformed request")

// HandleSubmit accepts one line of student input, forwards it to the student
// agent and waits up to the poll deadline for the reply that concludes it.
func (h *BridgeHandler) HandleSubmit(w http.ResponseWriter, r *http.Request) {
	req, err := h.decodeSubmit(w, r)
	if err != nil {
		h.logger.Debug("rejected submit", "error", err, "request_id", chiMiddleware.GetReqID(r.Context()))
		Error(w, http.StatusBadRequest, msgEmptyInput)
		return
	}

	text := firstNonEmpty(req.Text, req.UserInput)
	if strings.TrimSpace(text) == "" {
		Error(w, http.StatusBadRequest, msgEmptyInput)
		return
	}
	studentID := identity.Resolve(r.Context(), firstNonEmpty(req.StudentID, req.StudentIDSnake))
	if studentID == "" {
		Error(w, http.StatusBadRequest, "A valid student id is required.")
		return
	}
	if ok, wait := h.limiter.Reserve(studentID); !ok {
		w.Header().Set("Retry-After", strconv.Itoa(int(wait/time.Second)+1))
		Error(w, http.StatusTooManyRequests, "Too many requests. Please slow down.")
		return
	}

	correlationID := uuid.NewString()
	logger := h.logger.With("student_id", studentID, "correlation_id", correlationID)

	since := h.buffer.Latest()
	if err := h.submitter.Submit(studentID, text, correlationID); err != nil {
		if errors.Is(err, student.ErrEmptyInput) {
			Error(w, http.StatusBadRequest, msgEmptyInput)
			return
		}
		logger.Error("student agent rejected input", "error", err)
		Error(w, http.StatusServiceUnavailable, msgUnavailable)
		return
	}
	ack := h.buffer.Append(domain.OutputEntry{
		StudentID:     studentID,
		Kind:          domain.EntryAck,
		Text:          "Received: " + strings.TrimSpace(text),
		CorrelationID: correlationID,
	})
	logger.Info("input accepted", "ordinal", ack.Ordinal)

	resp := submitResponse{
		Status:        "ok",
		Message:       ack.Text,
		StudentID:     studentID,
		CorrelationID: correlationID,
		Ordinal:       ack.Ordinal,
	}
	if !wantsWait(r) {
		resp.Outputs = []domain.OutputEntry{ack}
		JSON(w, http.StatusOK, resp)
		return
	}

	outputs, ok := h.buffer.Await(r.Context(), studentID, correlationID, since, h.ui.PollDeadline, h.ui.PollInterval)
	outputs = bridge.ForRequest(outputs, correlationID)
	resp.Outputs = outputs
	if final, found := bridge.Conclusion(outputs, correlationID); ok && found {
		resp.Message = final.Text
	} else {
		resp.Delayed = true
		resp.Message = msgDelayed
		logger.Warn("response delayed", "deadline", h.ui.PollDeadline)
	}
	JSON(w, http.StatusOK, resp)
}

func (h *BridgeHandler) decodeSubmit(w http.ResponseWriter, r *http.Request) (submitRequest, error) {
	var req submitRequest
	if r.Method == http.MethodGet {
		q := r.URL.Query()
		req.StudentID = q.Get("studentId")
		req.StudentIDSnake = q.Get("student_id")
		req.Text = q.Get("text")
		req.UserInput = q.Get("user_input")
		return req, nil
	}

	maxBytes := h.ui.MaxBodyBytes
	if maxBytes <= 0 {
		maxBytes = 1 << 20
	}
	r.Body = http.MaxBytesReader(w, r.Body, maxBytes)

	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType == "application/x-www-form-urlencoded" || mediaType == "multipart/form-data" {
		if err := r.ParseForm(); err != nil {
			return req, errors.Join(errMalformed, err)
		}
		req.StudentID = r.FormValue("studentId")
		req.StudentIDSnake = r.FormValue("student_id")
		req.Text = r.FormValue("text")
		req.UserInput = r.FormValue("user_input")
		return req, nil
	}

	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		if errors.Is(err, io.EOF) {
			return req, errors.Join(errMalformed, errors.New("empty body"))
		}
		return req, errors.Join(errMalformed, err)
	}
	return req, nil
}

// HandleRecentOutputs returns the student's buffered entries after since.
func (h *BridgeHandler) HandleRecentOutputs(w http.ResponseWriter, r *http.Request) {
	studentID := identity.Resolve(r.Context(), firstNonEmpty(r.URL.Query().Get("student_id"), r.URL.Query().Get("studentId")))
	if studentID == "" {
		Error(w, http.StatusBadRequest, "A valid student id is required.")
		return
	}
	since, err := parseSince(r.URL.Query().Get("since"))
	if err != nil {
		Error(w, http.StatusBadRequest, "since must be a non-negative integer.")
		return
	}

	outputs := h.buffer.Since(studentID, since)
	if outputs == nil {
		outputs = []domain.OutputEntry{}
	}
	JSON(w, http.StatusOK, recentResponse{
		StudentID: studentID,
		Outputs:   outputs,
		Latest:    h.buffer.Latest(),
	})
}

func parseSince(raw string) (int64, error) {
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || n < 0 {
		return 0, errMalformed
	}
	return n, nil
}

func wantsWait(r *http.Request) bool {
	switch strings.ToLower(r.URL.Query().Get("wait")) {
	case "0", "false", "no":
		return false
	}
	return true
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}

// pollInterval is used by the websocket push loop as a keepalive.
func (h *BridgeHandler) pollInterval() time.Duration {
	if h.ui.PollInterval > 0 {
		return h.ui.PollInterval
	}
	return 100 * time.Millisecond
}
