package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"MediaGuard/model"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ErrNotFound is returned when no record matches the requested id.
var ErrNotFound = errors.New("media record not found")

// Fields is a partial update. Only non-nil fields are written.
type Fields struct {
	UploadStatus         *model.UploadStatus
	AnalysisStatus       *model.StageStatus
	ProcessingStatus     *model.StageStatus
	Transcript           *model.Transcript
	AnalyzedForExtremism *bool
}

// Empty reports whether f carries no changes.
func (f Fields) Empty() bool {
	return f.UploadStatus == nil && f.AnalysisStatus == nil && f.ProcessingStatus == nil &&
		f.Transcript == nil && f.AnalyzedForExtremism == nil
}

func (f Fields) columns() map[string]interface{} {
	cols := make(map[string]interface{}, 6)
	if f.UploadStatus != nil {
		cols["upload_status"] = *f.UploadStatus
	}
	if f.AnalysisStatus != nil {
		cols["analysis_status"] = *f.AnalysisStatus
	}
	if f.ProcessingStatus != nil {
		cols["processing_status"] = *f.ProcessingStatus
	}
	if f.Transcript != nil {
		cols["transcript"] = f.Transcript
	}
	if f.AnalyzedForExtremism != nil {
		cols["analyzed_for_extremism"] = *f.AnalyzedForExtremism
	}
	return cols
}

// TranscriptMutator edits a private copy of the stored transcript. Returning
// an error aborts the update.
type TranscriptMutator func(t *model.Transcript) error

// MediaRepository 媒体记录数据访问接口
type MediaRepository interface {
	Create(ctx context.Context, rec *model.MediaRecord) error
	Get(ctx context.Context, id string) (*model.MediaRecord, error)
	List(ctx context.Context) ([]*model.MediaRecord, error)
	UpdateFields(ctx context.Context, id string, f Fields) (*model.MediaRecord, error)
	UpdateTranscript(ctx context.Context, id string, mutate TranscriptMutator, f Fields) (*model.MediaRecord, error)
	Delete(ctx context.Context, id string) (*model.MediaRecord, error)
}

// gormMediaRepository GORM 实现
type gormMediaRepository struct {
	db *gorm.DB
}

// NewGormMediaRepository 创建 GORM 媒体仓库
func NewGormMediaRepository(db *gorm.DB) MediaRepository {
	return &gormMediaRepository{db: db}
}

// Create 插入新记录，补全 id 和默认状态
func (r *gormMediaRepository) Create(ctx context.Context, rec *model.MediaRecord) error {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.UploadStatus == "" {
		rec.UploadStatus = model.UploadInProgress
	}
	if rec.AnalysisStatus == "" {
		rec.AnalysisStatus = model.StagePending
	}
	if rec.ProcessingStatus == "" {
		rec.ProcessingStatus = model.StagePending
	}
	if rec.Language == "" {
		rec.Language = "en"
	}
	now := time.Now()
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = now
	}
	rec.UpdatedAt = now

	if err := r.db.WithContext(ctx).Create(rec).Error; err != nil {
		return fmt.Errorf("failed to create media record: %w", err)
	}
	return nil
}

// Get 根据ID获取记录
func (r *gormMediaRepository) Get(ctx context.Context, id string) (*model.MediaRecord, error) {
	return r.get(r.db.WithContext(ctx), id)
}

func (r *gormMediaRepository) get(tx *gorm.DB, id string) (*model.MediaRecord, error) {
	var rec model.MediaRecord
	if err := tx.Where("id = ?", id).First(&rec).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get media record %s: %w", id, err)
	}
	return &rec, nil
}

// List 按创建时间倒序返回全部记录
func (r *gormMediaRepository) List(ctx context.Context) ([]*model.MediaRecord, error) {
	var recs []*model.MediaRecord
	err := r.db.WithContext(ctx).
		Order("created_at DESC").
		Find(&recs).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list media records: %w", err)
	}
	return recs, nil
}

// UpdateFields 在一个事务内原子写入非空字段并刷新 updated_at
func (r *gormMediaRepository) UpdateFields(ctx context.Context, id string, f Fields) (*model.MediaRecord, error) {
	var out *model.MediaRecord
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := applyFields(tx, id, f); err != nil {
			return err
		}
		rec, err := r.get(tx, id)
		if err != nil {
			return err
		}
		out = rec
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// UpdateTranscript 加锁读取 transcript，调用 mutate 修改副本后与 f 一起写回
func (r *gormMediaRepository) UpdateTranscript(ctx context.Context, id string, mutate TranscriptMutator, f Fields) (*model.MediaRecord, error) {
	var out *model.MediaRecord
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		q := tx
		if tx.Dialector.Name() != "sqlite" {
			q = tx.Clauses(clause.Locking{Strength: "UPDATE"})
		}
		rec, err := r.get(q, id)
		if err != nil {
			return err
		}

		next := rec.Transcript.Clone()
		if next == nil {
			next = &model.Transcript{}
		}
		if err := mutate(next); err != nil {
			return err
		}
		f.Transcript = next

		if err := applyFields(tx, id, f); err != nil {
			return err
		}
		rec, err = r.get(tx, id)
		if err != nil {
			return err
		}
		out = rec
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Delete 删除记录并返回被删除的内容，调用方负责清理文件
func (r *gormMediaRepository) Delete(ctx context.Context, id string) (*model.MediaRecord, error) {
	var out *model.MediaRecord
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		rec, err := r.get(tx, id)
		if err != nil {
			return err
		}
		if err := tx.Where("id = ?", id).Delete(&model.MediaRecord{}).Error; err != nil {
			return fmt.Errorf("failed to delete media record %s: %w", id, err)
		}
		out = rec
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func applyFields(tx *gorm.DB, id string, f Fields) error {
	cols := f.columns()
	cols["updated_at"] = time.Now()

	res := tx.Model(&model.MediaRecord{}).
		Where("id = ?", id).
		Updates(cols)
	if res.Error != nil {
		return fmt.Errorf("failed to update media record %s: %w", id, res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}
