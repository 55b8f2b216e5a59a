// Package pipeline runs the background annotation stages of a media record:
// transcription, the per-segment extremism observer, batch analysis and
// category tagging. Every stage writes its outcome into the record through the
// store's atomic partial updates.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"MediaGuard/core/classify"
	"MediaGuard/core/events"
	"MediaGuard/core/transcribe"
	"MediaGuard/logger"
	"MediaGuard/model"
	"MediaGuard/repository"
)

var (
	// ErrNotFound is returned when the record does not exist.
	ErrNotFound = repository.ErrNotFound
	// ErrPrecondition is returned when a stage is triggered too early.
	ErrPrecondition = errors.New("transcription must be complete before analysis")
)

// ReasoningFailed is written to a segment whose observer call failed.
const ReasoningFailed = "Analysis failed"

// Store is the subset of the media repository the orchestrator needs.
type Store interface {
	Get(ctx context.Context, id string) (*model.MediaRecord, error)
	UpdateFields(ctx context.Context, id string, f repository.Fields) (*model.MediaRecord, error)
	UpdateTranscript(ctx context.Context, id string, mutate repository.TranscriptMutator, f repository.Fields) (*model.MediaRecord, error)
}

// Config bounds the background stages.
type Config struct {
	TranscribeTimeout time.Duration
	AnalysisTimeout   time.Duration
	TagTimeout        time.Duration
	ObserverEnabled   bool
	SegmentDelay      time.Duration
}

// Deps are the collaborators. Extremism, Tagger and Events may be nil.
type Deps struct {
	Store       Store
	Transcriber transcribe.Transcriber
	Batch       classify.BatchClassifier
	Extremism   classify.ExtremismClassifier
	Tagger      classify.Tagger
	Events      events.Publisher
}

// Orchestrator 后台标注任务调度器
type Orchestrator struct {
	deps Deps
	cfg  Config

	base   context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates an orchestrator. Background jobs run until they finish or Stop
// is called.
func New(deps Deps, cfg Config) *Orchestrator {
	if cfg.TranscribeTimeout <= 0 {
		cfg.TranscribeTimeout = 30 * time.Minute
	}
	if cfg.AnalysisTimeout <= 0 {
		cfg.AnalysisTimeout = 5 * time.Minute
	}
	if cfg.TagTimeout <= 0 {
		cfg.TagTimeout = 2 * time.Minute
	}
	if deps.Events == nil {
		deps.Events = events.Nop{}
	}
	base, cancel := context.WithCancel(context.Background())
	return &Orchestrator{deps: deps, cfg: cfg, base: base, cancel: cancel}
}

// Wait blocks until every background job has returned.
func (o *Orchestrator) Wait() {
	o.wg.Wait()
}

// Stop cancels running jobs and waits for them to record their outcome.
func (o *Orchestrator) Stop() {
	o.cancel()
	o.wg.Wait()
}

func (o *Orchestrator) goJob(name, id string, fn func(ctx context.Context)) {
	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		defer func() {
			if r := recover(); r != nil {
				logger.Error("后台任务 panic",
					logger.String("job", name),
					logger.String("mediaId", id),
					logger.Any("panic", r))
			}
		}()
		fn(o.base)
	}()
}

func (o *Orchestrator) publish(id string, stage events.Stage, status string) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	ev := events.Event{MediaID: id, Stage: stage, Status: status, Timestamp: time.Now().UnixMilli()}
	if err := o.deps.Events.Publish(ctx, ev); err != nil {
		logger.Warn("发布状态事件失败",
			logger.String("mediaId", id),
			logger.String("stage", string(stage)),
			logger.ErrorField(err))
	}
}

// storeCtx is used for status writes that must land even when the stage's own
// context has expired.
func storeCtx() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), 10*time.Second)
}

func uploadStatus(s model.UploadStatus) *model.UploadStatus { return &s }

func stageStatus(s model.StageStatus) *model.StageStatus { return &s }

func boolPtr(b bool) *bool { return &b }

func float64Ptr(f float64) *float64 { return &f }

// ========== 转写 ==========

// StartTranscription launches the transcription stage for id and returns
// immediately. The record is expected to be in uploadStatus=processing.
func (o *Orchestrator) StartTranscription(id string) {
	o.goJob("transcription", id, func(base context.Context) {
		o.runTranscription(base, id)
	})
}

func (o *Orchestrator) runTranscription(base context.Context, id string) {
	ctx, cancel := context.WithTimeout(base, o.cfg.TranscribeTimeout)
	defer cancel()

	rec, err := o.deps.Store.Get(ctx, id)
	if err != nil {
		logger.Error("转写任务读取记录失败", logger.String("mediaId", id), logger.ErrorField(err))
		if !errors.Is(err, ErrNotFound) {
			o.failTranscription(id)
		}
		return
	}

	start := time.Now()
	logger.Info("开始转写",
		logger.String("mediaId", id),
		logger.String("filename", rec.Filename),
		logger.String("language", rec.Language))

	transcript, err := o.deps.Transcriber.Transcribe(ctx, transcribe.Request{
		Path:     rec.StoragePath,
		Filename: rec.Filename,
		MimeType: rec.MimeType,
		Language: rec.Language,
	})
	if err == nil && !transcript.HasSegments() {
		err = transcribe.ErrEmptyTranscript
	}
	if err != nil {
		logger.Error("转写失败",
			logger.String("mediaId", id),
			logger.Duration("elapsed", time.Since(start)),
			logger.ErrorField(err))
		o.failTranscription(id)
		return
	}

	wctx, wcancel := storeCtx()
	defer wcancel()
	updated, err := o.deps.Store.UpdateFields(wctx, id, repository.Fields{
		UploadStatus: uploadStatus(model.UploadComplete),
		Transcript:   transcript,
	})
	if err != nil {
		logger.Error("保存转写结果失败", logger.String("mediaId", id), logger.ErrorField(err))
		if !errors.Is(err, ErrNotFound) {
			o.failTranscription(id)
		}
		return
	}
	logger.Info("转写完成",
		logger.String("mediaId", id),
		logger.Int("segments", len(transcript.Segments)),
		logger.Duration("elapsed", time.Since(start)))
	o.publish(id, events.StageUpload, string(model.UploadComplete))

	if o.cfg.ObserverEnabled && o.deps.Extremism != nil && !updated.AnalyzedForExtremism {
		o.observeExtremism(base, updated)
	}
}

func (o *Orchestrator) failTranscription(id string) {
	ctx, cancel := storeCtx()
	defer cancel()
	if _, err := o.deps.Store.UpdateFields(ctx, id, repository.Fields{
		UploadStatus: uploadStatus(model.UploadError),
	}); err != nil {
		logger.Error("写入转写失败状态失败", logger.String("mediaId", id), logger.ErrorField(err))
		return
	}
	o.publish(id, events.StageUpload, string(model.UploadError))
}

// ========== 逐段极端内容检测 ==========

// observeExtremism classifies every segment in order. A failed segment is
// labelled safe; the stage itself never fails the record.
func (o *Orchestrator) observeExtremism(base context.Context, rec *model.MediaRecord) {
	segments := rec.Transcript.Segments
	verdicts := make([]classify.Verdict, len(segments))
	flagged := 0

	for i, seg := range segments {
		if base.Err() != nil {
			logger.Warn("极端内容检测被取消", logger.String("mediaId", rec.ID))
			return
		}
		v, err := o.deps.Extremism.Analyze(base, seg.Text)
		if err != nil {
			logger.Warn("段落分析失败，标记为安全",
				logger.String("mediaId", rec.ID),
				logger.Int("segment", i),
				logger.ErrorField(err))
			v = classify.Verdict{IsExtremist: false, Confidence: 0, Reasoning: ReasoningFailed}
		} else if o.cfg.SegmentDelay > 0 && i < len(segments)-1 {
			select {
			case <-time.After(o.cfg.SegmentDelay):
			case <-base.Done():
			}
		}
		if v.IsExtremist {
			flagged++
		}
		verdicts[i] = v
	}

	ctx, cancel := storeCtx()
	defer cancel()
	_, err := o.deps.Store.UpdateTranscript(ctx, rec.ID, func(t *model.Transcript) error {
		for i := range t.Segments {
			if i >= len(verdicts) {
				break
			}
			v := verdicts[i]
			t.Segments[i].IsExtremist = boolPtr(v.IsExtremist)
			t.Segments[i].ExtremistConfidence = float64Ptr(v.Confidence)
			t.Segments[i].ExtremistReasoning = v.Reasoning
		}
		return nil
	}, repository.Fields{AnalyzedForExtremism: boolPtr(true)})
	if err != nil {
		logger.Error("保存极端内容检测结果失败", logger.String("mediaId", rec.ID), logger.ErrorField(err))
		return
	}
	logger.Info("极端内容检测完成",
		logger.String("mediaId", rec.ID),
		logger.Int("flagged", flagged),
		logger.Int("segments", len(segments)))
	o.publish(rec.ID, events.StageExtremism, "complete")
}

// ========== 批量分析 ==========

// StartAnalysis checks the preconditions, marks the record as processing and
// classifies its transcript in the background.
func (o *Orchestrator) StartAnalysis(ctx context.Context, id string) error {
	rec, err := o.deps.Store.Get(ctx, id)
	if err != nil {
		return err
	}
	if rec.UploadStatus != model.UploadComplete || !rec.Transcript.HasSegments() {
		return ErrPrecondition
	}

	if _, err := o.deps.Store.UpdateFields(ctx, id, repository.Fields{
		AnalysisStatus: stageStatus(model.StageProcessing),
	}); err != nil {
		return fmt.Errorf("mark analysis processing: %w", err)
	}
	o.publish(id, events.StageAnalysis, string(model.StageProcessing))

	segments := rec.Transcript.Clone().Segments
	o.goJob("analysis", id, func(base context.Context) {
		o.runAnalysis(base, id, segments)
	})
	return nil
}

func (o *Orchestrator) runAnalysis(base context.Context, id string, segments []model.Segment) {
	ctx, cancel := context.WithTimeout(base, o.cfg.AnalysisTimeout)
	defer cancel()

	logger.Info("开始批量分析", logger.String("mediaId", id), logger.Int("segments", len(segments)))
	labels, err := o.deps.Batch.Classify(ctx, segments)
	if err != nil {
		logger.Error("批量分析失败", logger.String("mediaId", id), logger.ErrorField(err))
		o.failAnalysis(id)
		return
	}

	wctx, wcancel := storeCtx()
	defer wcancel()
	_, err = o.deps.Store.UpdateTranscript(wctx, id, func(t *model.Transcript) error {
		if len(t.Segments) != len(labels) {
			return fmt.Errorf("%w: transcript has %d segments, got %d labels",
				classify.ErrLengthMismatch, len(t.Segments), len(labels))
		}
		MergeLabels(t.Segments, labels)
		return nil
	}, repository.Fields{AnalysisStatus: stageStatus(model.StageComplete)})
	if err != nil {
		logger.Error("保存分析结果失败", logger.String("mediaId", id), logger.ErrorField(err))
		o.failAnalysis(id)
		return
	}
	logger.Info("批量分析完成", logger.String("mediaId", id))
	o.publish(id, events.StageAnalysis, string(model.StageComplete))
}

// MergeLabels writes labels into segments by index. len(labels) must equal
// len(segments).
func MergeLabels(segments []model.Segment, labels []classify.Label) {
	for i := range segments {
		l := labels[i]
		segments[i].IsExtremist = boolPtr(l.IsExtremist)
		segments[i].ClassType = l.ClassType
		segments[i].Confidence = float64Ptr(l.Confidence)
	}
}

func (o *Orchestrator) failAnalysis(id string) {
	ctx, cancel := storeCtx()
	defer cancel()
	if _, err := o.deps.Store.UpdateFields(ctx, id, repository.Fields{
		AnalysisStatus: stageStatus(model.StageError),
	}); err != nil {
		logger.Error("写入分析失败状态失败", logger.String("mediaId", id), logger.ErrorField(err))
		return
	}
	o.publish(id, events.StageAnalysis, string(model.StageError))
}

// ========== 分类标签 ==========

// TagCategories flags segments with a content category and waits for the
// result. Provider failures set processingStatus=error and are returned.
func (o *Orchestrator) TagCategories(ctx context.Context, id string) (*model.MediaRecord, error) {
	if o.deps.Tagger == nil {
		return nil, errors.New("category tagger not configured")
	}
	rec, err := o.deps.Store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !rec.Transcript.HasSegments() {
		return nil, ErrPrecondition
	}

	if _, err := o.deps.Store.UpdateFields(ctx, id, repository.Fields{
		ProcessingStatus: stageStatus(model.StageProcessing),
	}); err != nil {
		return nil, fmt.Errorf("mark processing: %w", err)
	}
	o.publish(id, events.StageProcessing, string(model.StageProcessing))

	tctx, cancel := context.WithTimeout(ctx, o.cfg.TagTimeout)
	defer cancel()
	flags, err := o.deps.Tagger.Tag(tctx, rec.Transcript.Segments)
	if err != nil {
		o.failProcessing(id)
		return nil, err
	}

	wctx, wcancel := storeCtx()
	defer wcancel()
	updated, err := o.deps.Store.UpdateTranscript(wctx, id, func(t *model.Transcript) error {
		for _, f := range flags {
			if f.Index >= 0 && f.Index < len(t.Segments) {
				t.Segments[f.Index].Category = f.Category
			}
		}
		return nil
	}, repository.Fields{ProcessingStatus: stageStatus(model.StageComplete)})
	if err != nil {
		o.failProcessing(id)
		return nil, fmt.Errorf("save categories: %w", err)
	}
	logger.Info("分类标签完成", logger.String("mediaId", id), logger.Int("flagged", len(flags)))
	o.publish(id, events.StageProcessing, string(model.StageComplete))
	return updated, nil
}

func (o *Orchestrator) failProcessing(id string) {
	ctx, cancel := storeCtx()
	defer cancel()
	if _, err := o.deps.Store.UpdateFields(ctx, id, repository.Fields{
		ProcessingStatus: stageStatus(model.StageError),
	}); err != nil {
		logger.Error("写入处理失败状态失败", logger.String("mediaId", id), logger.ErrorField(err))
		return
	}
	o.publish(id, events.StageProcessing, string(model.StageError))
}
