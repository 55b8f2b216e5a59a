package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"MediaGuard/core/pipeline"
	"MediaGuard/logger"
	"MediaGuard/model"
	"MediaGuard/repository"

	"github.com/gorilla/mux"
)

// RPC 错误码
const (
	CodeNotFound           = "NOT_FOUND"
	CodePreconditionFailed = "PRECONDITION_FAILED"
	CodeBadRequest         = "BAD_REQUEST"
	CodeInternal           = "INTERNAL_SERVER_ERROR"
)

const maxRPCBody = 64 << 10

// rpcError carries a code that maps onto an HTTP status.
type rpcError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e *rpcError) Error() string { return e.Code + ": " + e.Message }

func (e *rpcError) status() int {
	switch e.Code {
	case CodeNotFound:
		return http.StatusNotFound
	case CodePreconditionFailed:
		return http.StatusPreconditionFailed
	case CodeBadRequest:
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

// rpcInput is the common procedure input. Clients send either id or mediaId.
type rpcInput struct {
	ID      string `json:"id"`
	MediaID string `json:"mediaId"`
}

func (in rpcInput) mediaID() string {
	if in.ID != "" {
		return in.ID
	}
	return in.MediaID
}

type rpcProcedure func(ctx context.Context, in rpcInput) (interface{}, error)

func (h *APIHandler) procedures() map[string]rpcProcedure {
	return map[string]rpcProcedure{
		"media.getAll":               h.rpcGetAll,
		"media.getById":              h.rpcGetByID,
		"media.delete":               h.rpcDelete,
		"analysis.startAnalysis":     h.rpcStartAnalysis,
		"analysis.getAnalysisStatus": h.rpcGetAnalysisStatus,
		"processor.processAudio":     h.rpcProcessAudio,
	}
}

// RPCHandler dispatches /rpc/{procedure}. Successful calls answer
// {"result": ...}; failures answer {"error": {"code", "message"}}.
func (h *APIHandler) RPCHandler(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["procedure"]
	proc, ok := h.procedures()[name]
	if !ok {
		writeRPCError(w, &rpcError{Code: CodeNotFound, Message: "Unknown procedure " + name})
		return
	}

	in, err := decodeRPCInput(r)
	if err != nil {
		writeRPCError(w, &rpcError{Code: CodeBadRequest, Message: err.Error()})
		return
	}

	result, err := proc(r.Context(), in)
	if err != nil {
		var re *rpcError
		if !errors.As(err, &re) {
			logger.Error("RPC 调用失败", logger.String("procedure", name), logger.ErrorField(err))
			re = &rpcError{Code: CodeInternal, Message: err.Error()}
		}
		writeRPCError(w, re)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"result": result})
}

// decodeRPCInput reads the input from a POST body, or from ?input= / ?id= on GET.
func decodeRPCInput(r *http.Request) (rpcInput, error) {
	var in rpcInput
	if r.Method == http.MethodGet {
		q := r.URL.Query()
		if raw := q.Get("input"); raw != "" {
			if err := json.Unmarshal([]byte(raw), &in); err != nil {
				return in, errors.New("input is not valid JSON")
			}
			return in, nil
		}
		in.ID = q.Get("id")
		in.MediaID = q.Get("mediaId")
		return in, nil
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxRPCBody+1))
	if err != nil {
		return in, errors.New("failed to read request body")
	}
	if len(body) > maxRPCBody {
		return in, errors.New("request body too large")
	}
	if strings.TrimSpace(string(body)) == "" {
		return in, nil
	}
	if err := json.Unmarshal(body, &in); err != nil {
		return in, errors.New("request body is not valid JSON")
	}
	return in, nil
}

func writeRPCError(w http.ResponseWriter, e *rpcError) {
	writeJSON(w, e.status(), map[string]interface{}{"error": e})
}

func requireID(in rpcInput) (string, error) {
	id := strings.TrimSpace(in.mediaID())
	if id == "" {
		return "", &rpcError{Code: CodeBadRequest, Message: "id is required"}
	}
	return id, nil
}

func notFound() error {
	return &rpcError{Code: CodeNotFound, Message: "Media file not found"}
}

func (h *APIHandler) rpcGetAll(ctx context.Context, _ rpcInput) (interface{}, error) {
	recs, err := h.store.List(ctx)
	if err != nil {
		return nil, err
	}
	if recs == nil {
		recs = []*model.MediaRecord{}
	}
	return recs, nil
}

func (h *APIHandler) rpcGetByID(ctx context.Context, in rpcInput) (interface{}, error) {
	id, err := requireID(in)
	if err != nil {
		return nil, err
	}
	rec, err := h.store.Get(ctx, id)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, notFound()
	}
	return rec, err
}

type deleteResult struct {
	Success   bool   `json:"success"`
	DeletedID string `json:"deletedId"`
}

// rpcDelete removes the record first and the file second; a file that cannot
// be removed is logged and left behind for the sweep command.
func (h *APIHandler) rpcDelete(ctx context.Context, in rpcInput) (interface{}, error) {
	id, err := requireID(in)
	if err != nil {
		return nil, err
	}
	rec, err := h.store.Delete(ctx, id)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, notFound()
	}
	if err != nil {
		return nil, err
	}
	removeQuietly(rec.StoragePath)
	logger.Info("媒体已删除", logger.String("mediaId", id), logger.String("filename", rec.Filename))
	return deleteResult{Success: true, DeletedID: id}, nil
}

type messageResult struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

func (h *APIHandler) rpcStartAnalysis(ctx context.Context, in rpcInput) (interface{}, error) {
	id, err := requireID(in)
	if err != nil {
		return nil, err
	}
	switch err := h.orch.StartAnalysis(ctx, id); {
	case errors.Is(err, pipeline.ErrNotFound):
		return nil, notFound()
	case errors.Is(err, pipeline.ErrPrecondition):
		return nil, &rpcError{Code: CodePreconditionFailed, Message: "Transcription must be complete before analysis"}
	case err != nil:
		return nil, err
	}
	return messageResult{Success: true, Message: "Analysis started"}, nil
}

type analysisStatusResult struct {
	AnalysisStatus model.StageStatus `json:"analysisStatus"`
	Transcript     *model.Transcript `json:"transcript"`
}

func (h *APIHandler) rpcGetAnalysisStatus(ctx context.Context, in rpcInput) (interface{}, error) {
	id, err := requireID(in)
	if err != nil {
		return nil, err
	}
	rec, err := h.store.Get(ctx, id)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, notFound()
	}
	if err != nil {
		return nil, err
	}
	return analysisStatusResult{AnalysisStatus: rec.AnalysisStatus, Transcript: rec.Transcript}, nil
}

func (h *APIHandler) rpcProcessAudio(ctx context.Context, in rpcInput) (interface{}, error) {
	id, err := requireID(in)
	if err != nil {
		return nil, err
	}
	switch _, err := h.orch.TagCategories(ctx, id); {
	case errors.Is(err, pipeline.ErrNotFound):
		return nil, notFound()
	case errors.Is(err, pipeline.ErrPrecondition):
		return nil, &rpcError{Code: CodePreconditionFailed, Message: "Transcript is required before processing"}
	case err != nil:
		logger.Warn("分类标注失败", logger.String("mediaId", id), logger.ErrorField(err))
		return nil, &rpcError{Code: CodeInternal, Message: "Failed to process audio"}
	}
	return messageResult{Success: true, Message: "Audio processed successfully"}, nil
}
