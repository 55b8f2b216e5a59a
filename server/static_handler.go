package server

import (
	"errors"
	"net/http"
	"os"
	"strconv"

	"MediaGuard/core/mediatype"
	"MediaGuard/logger"
	"MediaGuard/repository"

	"github.com/gorilla/mux"
)

// FileHandler returns the whole file in one response. It reads the file into
// memory first and is meant for previews of small files.
func (h *APIHandler) FileHandler(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	rec, err := h.store.Get(r.Context(), id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			writeError(w, http.StatusNotFound, "Media file not found", "")
			return
		}
		writeError(w, http.StatusInternalServerError, "Failed to load media record", err.Error())
		return
	}

	data, err := os.ReadFile(rec.StoragePath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			writeError(w, http.StatusNotFound, "File not found on disk", "")
			return
		}
		logger.Error("读取媒体文件失败", logger.String("path", rec.StoragePath), logger.ErrorField(err))
		writeError(w, http.StatusInternalServerError, "Failed to read media file", err.Error())
		return
	}

	contentType, ok := mediatype.Lookup(rec.StoragePath)
	if !ok {
		contentType = "application/octet-stream"
	}
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	w.WriteHeader(http.StatusOK)
	if r.Method == http.MethodHead {
		return
	}
	if _, err := w.Write(data); err != nil {
		logger.Debug("写入文件响应失败", logger.String("mediaId", id), logger.ErrorField(err))
	}
}
