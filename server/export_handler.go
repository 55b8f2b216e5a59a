package server

import (
	"bytes"
	"errors"
	"fmt"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"

	"MediaGuard/core/export"
	"MediaGuard/logger"
	"MediaGuard/repository"

	"github.com/gorilla/mux"
)

const xlsxContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

// ExportHandler downloads the annotated transcript as an xlsx workbook.
func (h *APIHandler) ExportHandler(w http.ResponseWriter, r *http.Request) {
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

	var buf bytes.Buffer
	if err := export.WriteTranscript(&buf, rec); err != nil {
		if errors.Is(err, export.ErrNoTranscript) {
			writeError(w, http.StatusConflict, "Transcript not available yet", "")
			return
		}
		logger.Error("导出转写失败", logger.String("mediaId", id), logger.ErrorField(err))
		writeError(w, http.StatusInternalServerError, "Failed to export transcript", err.Error())
		return
	}

	w.Header().Set("Content-Type", xlsxContentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", exportName(rec.Filename)))
	w.Header().Set("Content-Length", strconv.Itoa(buf.Len()))
	w.WriteHeader(http.StatusOK)
	if _, err := buf.WriteTo(w); err != nil {
		logger.Debug("写出导出文件失败", logger.String("mediaId", id), logger.ErrorField(err))
	}
}

func exportName(filename string) string {
	base := strings.TrimSuffix(filepath.Base(filename), filepath.Ext(filename))
	base = strings.Map(func(r rune) rune {
		if r < 0x20 || r == '"' || r == '\\' || r == '/' {
			return '_'
		}
		return r
	}, base)
	if base == "" || base == "." {
		base = "transcript"
	}
	return base + ".xlsx"
}
