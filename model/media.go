package model

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/schema"
)

// MediaKind 媒体类型
type MediaKind string

const (
	KindAudio MediaKind = "audio"
	KindVideo MediaKind = "video"
)

// UploadStatus tracks the transcription lifecycle of a record.
type UploadStatus string

const (
	UploadInProgress UploadStatus = "in-progress"
	UploadProcessing UploadStatus = "processing"
	UploadComplete   UploadStatus = "complete"
	UploadError      UploadStatus = "error"
)

// StageStatus tracks a classification stage (batch analysis or category tagging).
type StageStatus string

const (
	StagePending    StageStatus = "pending"
	StageProcessing StageStatus = "processing"
	StageComplete   StageStatus = "complete"
	StageError      StageStatus = "error"
)

// Segment categories assigned by the category tagger.
const (
	CategoryExtremistSpeech = "EXTREMIST_SPEECH"
	CategoryBadLanguage     = "BAD_LANGUAGE"
)

// Word is a word-level timestamp inside a segment.
type Word struct {
	Start float64 `json:"start"`
	End   float64 `json:"end"`
	Word  string  `json:"word"`
}

// Segment is one timestamped span of transcribed speech. Its identity is its
// index in Transcript.Segments.
type Segment struct {
	Start float64 `json:"start"`
	End   float64 `json:"end"`
	Text  string  `json:"text"`
	Words []Word  `json:"words,omitempty"`

	// 分类标签（category tagger）
	Category string `json:"category,omitempty"`

	// batch 分析结果
	IsExtremist *bool    `json:"isExtremist,omitempty"`
	ClassType   string   `json:"classType,omitempty"`
	Confidence  *float64 `json:"confidence,omitempty"`

	// 逐段 LLM 分析结果
	ExtremistConfidence *float64 `json:"extremistConfidence,omitempty"`
	ExtremistReasoning  string   `json:"extremistReasoning,omitempty"`
}

// Transcript is the transcription result attached to a record. It is stored
// as a single JSON column.
type Transcript struct {
	Language            string    `json:"language"`
	LanguageProbability float64   `json:"languageProbability"`
	Duration            float64   `json:"duration"`
	Segments            []Segment `json:"segments"`
}

// Value implements driver.Valuer.
func (t Transcript) Value() (driver.Value, error) {
	b, err := json.Marshal(t)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

// GormDBDataType picks a column type large enough for long recordings;
// MySQL TEXT stops at 64 KiB.
func (Transcript) GormDBDataType(db *gorm.DB, _ *schema.Field) string {
	switch db.Dialector.Name() {
	case "mysql":
		return "longtext"
	default:
		return "text"
	}
}

// Scan implements sql.Scanner.
func (t *Transcript) Scan(value interface{}) error {
	var raw []byte
	switch v := value.(type) {
	case nil:
		*t = Transcript{}
		return nil
	case []byte:
		raw = v
	case string:
		raw = []byte(v)
	default:
		return fmt.Errorf("unsupported transcript column type %T", value)
	}
	if len(raw) == 0 {
		*t = Transcript{}
		return nil
	}
	return json.Unmarshal(raw, t)
}

// Clone returns a deep copy so callers can mutate segments without touching
// the original.
func (t *Transcript) Clone() *Transcript {
	if t == nil {
		return nil
	}
	out := *t
	out.Segments = make([]Segment, len(t.Segments))
	for i, seg := range t.Segments {
		if seg.Words != nil {
			seg.Words = append([]Word(nil), seg.Words...)
		}
		if seg.IsExtremist != nil {
			v := *seg.IsExtremist
			seg.IsExtremist = &v
		}
		if seg.Confidence != nil {
			v := *seg.Confidence
			seg.Confidence = &v
		}
		if seg.ExtremistConfidence != nil {
			v := *seg.ExtremistConfidence
			seg.ExtremistConfidence = &v
		}
		out.Segments[i] = seg
	}
	return &out
}

// HasSegments reports whether the transcript carries at least one segment.
func (t *Transcript) HasSegments() bool {
	return t != nil && len(t.Segments) > 0
}

// MediaRecord represents an ingested audio/video file and its annotation state.
type MediaRecord struct {
	ID                   string       `json:"id" gorm:"primaryKey;size:36"`
	Filename             string       `json:"filename" gorm:"size:512;not null"`
	StoragePath          string       `json:"-" gorm:"size:767;not null;uniqueIndex"` // 服务端生成，不对外暴露
	MediaKind            MediaKind    `json:"fileType" gorm:"size:16;not null"`
	MimeType             string       `json:"mimeType" gorm:"size:64"`
	ByteSize             int64        `json:"size"`
	DurationSec          *float64     `json:"durationSec,omitempty"`
	UploadStatus         UploadStatus `json:"status" gorm:"size:16;not null;default:in-progress"`
	Language             string       `json:"language" gorm:"size:16;not null;default:en"`
	Transcript           *Transcript  `json:"transcript,omitempty"`
	AnalysisStatus       StageStatus  `json:"analysisStatus" gorm:"size:16;not null;default:pending"`
	ProcessingStatus     StageStatus  `json:"processingStatus" gorm:"size:16;not null;default:pending"`
	AnalyzedForExtremism bool         `json:"analyzedForExtremism" gorm:"not null;default:false"`
	CreatedAt            time.Time    `json:"createdAt" gorm:"index"`
	UpdatedAt            time.Time    `json:"updatedAt"`
}

// TableName keeps the collection name used by earlier deployments.
func (MediaRecord) TableName() string {
	return "media_files"
}
