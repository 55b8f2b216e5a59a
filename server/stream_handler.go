package server

import (
	"context"
	"errors"
	"net/http"
	"os"

	"MediaGuard/core/mediatype"
	"MediaGuard/core/rangeserve"
	"MediaGuard/logger"
	"MediaGuard/repository"

	"github.com/gorilla/mux"
)

// StreamHandler serves a record's file with HTTP Range support. The body is
// copied straight from disk; it is never loaded whole.
func (h *APIHandler) StreamHandler(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	f, size, mimeType, ok := h.openMedia(w, r, id)
	if !ok {
		return
	}
	defer f.Close()

	plan, err := rangeserve.NewPlan(r.Header.Get("Range"), size)
	for k, v := range plan.Headers {
		w.Header().Set(k, v)
	}
	if err != nil {
		logger.Debug("无效的 Range 请求",
			logger.String("mediaId", id),
			logger.String("range", r.Header.Get("Range")),
			logger.Int64("size", size))
		w.WriteHeader(plan.Status)
		return
	}

	w.Header().Set("Content-Type", mimeType)
	w.WriteHeader(plan.Status)
	if r.Method == http.MethodHead {
		return
	}

	if _, err := rangeserve.Copy(r.Context(), w, f, plan.Range); err != nil {
		if errors.Is(err, context.Canceled) {
			logger.Debug("客户端断开，停止推流", logger.String("mediaId", id))
			return
		}
		logger.Warn("推流中断", logger.String("mediaId", id), logger.ErrorField(err))
	}
}

// openMedia resolves id to an open file. On failure it writes the response
// and returns ok=false.
func (h *APIHandler) openMedia(w http.ResponseWriter, r *http.Request, id string) (f *os.File, size int64, mimeType string, ok bool) {
	rec, err := h.store.Get(r.Context(), id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			writeError(w, http.StatusNotFound, "Media file not found", "")
			return nil, 0, "", false
		}
		logger.Error("读取媒体记录失败", logger.String("mediaId", id), logger.ErrorField(err))
		writeError(w, http.StatusInternalServerError, "Failed to load media record", err.Error())
		return nil, 0, "", false
	}

	mimeType, known := mediatype.Lookup(rec.StoragePath)
	if !known {
		writeError(w, http.StatusUnsupportedMediaType, "Unsupported file type", "")
		return nil, 0, "", false
	}

	f, err = os.Open(rec.StoragePath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			writeError(w, http.StatusNotFound, "File not found on disk", "")
			return nil, 0, "", false
		}
		logger.Error("打开媒体文件失败", logger.String("path", rec.StoragePath), logger.ErrorField(err))
		writeError(w, http.StatusInternalServerError, "Failed to open media file", err.Error())
		return nil, 0, "", false
	}
	st, err := f.Stat()
	if err != nil {
		f.Close()
		writeError(w, http.StatusInternalServerError, "Failed to stat media file", err.Error())
		return nil, 0, "", false
	}
	return f, st.Size(), mimeType, true
}
