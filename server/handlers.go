package server

import (
	"encoding/json"
	"errors"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	"MediaGuard/config"
	"MediaGuard/core/events"
	"MediaGuard/core/ingest"
	"MediaGuard/core/pipeline"
	"MediaGuard/logger"
	"MediaGuard/model"
	"MediaGuard/repository"
)

// APIHandler 处理所有API请求
type APIHandler struct {
	cfg    *config.Config
	store  repository.MediaRepository
	engine *ingest.Engine
	orch   *pipeline.Orchestrator
	hub    *events.Hub
}

// NewAPIHandler 创建新的API处理器
func NewAPIHandler(
	cfg *config.Config,
	store repository.MediaRepository,
	engine *ingest.Engine,
	orch *pipeline.Orchestrator,
	hub *events.Hub,
) *APIHandler {
	return &APIHandler{
		cfg:    cfg,
		store:  store,
		engine: engine,
		orch:   orch,
		hub:    hub,
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Warn("写入 JSON 响应失败", logger.ErrorField(err))
	}
}

// errorBody is the plain error shape used outside the RPC layer.
type errorBody struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

func writeError(w http.ResponseWriter, status int, msg string, details string) {
	writeJSON(w, status, errorBody{Error: msg, Details: details})
}

// uploadedFile is the client-facing subset returned by the upload endpoint.
type uploadedFile struct {
	ID          string             `json:"id"`
	Filename    string             `json:"filename"`
	FileType    model.MediaKind    `json:"fileType"`
	DurationSec *float64           `json:"durationSec,omitempty"`
	Status      model.UploadStatus `json:"status"`
	Language    string             `json:"language"`
	CreatedAt   time.Time          `json:"createdAt"`
	Size        int64              `json:"size"`
}

type uploadResponse struct {
	Success bool         `json:"success"`
	Message string       `json:"message"`
	File    uploadedFile `json:"file"`
}

// UploadHandler streams a multipart upload to disk, creates the record and
// launches transcription. It returns before transcription finishes.
func (h *APIHandler) UploadHandler(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	res, err := h.engine.Ingest(r.Context(), r.Header.Get("Content-Type"), r.Body)
	if err != nil {
		h.writeIngestError(w, err)
		return
	}

	duration, err := parseDuration(res.Fields["duration"])
	if err != nil {
		removeQuietly(res.StoragePath)
		writeError(w, http.StatusBadRequest, "Invalid duration", err.Error())
		return
	}
	language := strings.TrimSpace(res.Fields["language"])
	if language == "" {
		language = "en"
	}

	rec := &model.MediaRecord{
		Filename:     res.Filename,
		StoragePath:  res.StoragePath,
		MediaKind:    res.Kind,
		MimeType:     res.MimeType,
		ByteSize:     res.ByteSize,
		DurationSec:  duration,
		UploadStatus: model.UploadProcessing,
		Language:     language,
	}
	if err := h.store.Create(r.Context(), rec); err != nil {
		logger.Error("创建媒体记录失败", logger.String("path", res.StoragePath), logger.ErrorField(err))
		removeQuietly(res.StoragePath)
		writeError(w, http.StatusInternalServerError, "Failed to save media record", err.Error())
		return
	}

	logger.Info("上传完成",
		logger.String("mediaId", rec.ID),
		logger.String("filename", rec.Filename),
		logger.Int64("size", rec.ByteSize),
		logger.Duration("elapsed", time.Since(start)))

	h.orch.StartTranscription(rec.ID)

	writeJSON(w, http.StatusOK, uploadResponse{
		Success: true,
		Message: "File uploaded successfully",
		File: uploadedFile{
			ID:          rec.ID,
			Filename:    rec.Filename,
			FileType:    rec.MediaKind,
			DurationSec: rec.DurationSec,
			Status:      rec.UploadStatus,
			Language:    rec.Language,
			CreatedAt:   rec.CreatedAt,
			Size:        rec.ByteSize,
		},
	})
}

func (h *APIHandler) writeIngestError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ingest.ErrTooLarge):
		writeError(w, http.StatusRequestEntityTooLarge, "File too large", err.Error())
	case errors.Is(err, ingest.ErrNotMultipart),
		errors.Is(err, ingest.ErrUnsupportedType),
		errors.Is(err, ingest.ErrNoFile),
		errors.Is(err, ingest.ErrMultipleFiles),
		errors.Is(err, ingest.ErrFieldTooLarge):
		writeError(w, http.StatusBadRequest, err.Error(), "")
	default:
		logger.Error("上传失败", logger.ErrorField(err))
		writeError(w, http.StatusInternalServerError, "Upload failed", err.Error())
	}
}

func parseDuration(raw string) (*float64, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil || v < 0 || math.IsNaN(v) || math.IsInf(v, 0) {
		return nil, errors.New("duration must be a non-negative number of seconds")
	}
	return &v, nil
}

func removeQuietly(path string) {
	if err := ingest.Remove(path); err != nil {
		logger.Warn("删除文件失败", logger.String("path", path), logger.ErrorField(err))
	}
}

// HealthHandler reports liveness.
func (h *APIHandler) HealthHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
