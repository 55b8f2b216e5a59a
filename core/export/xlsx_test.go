package export

import (
	"bytes"
	"errors"
	"testing"

	"MediaGuard/model"

	"github.com/xuri/excelize/v2"
)

func TestWriteTranscript(t *testing.T) {
	yes, no := true, false
	conf := 0.95
	rec := &model.MediaRecord{
		ID:             "m1",
		Filename:       "clip.mp3",
		MediaKind:      model.KindAudio,
		UploadStatus:   model.UploadComplete,
		AnalysisStatus: model.StageComplete,
		Transcript: &model.Transcript{
			Language: "en",
			Duration: 4,
			Segments: []model.Segment{
				{Start: 0, End: 2, Text: "hello", IsExtremist: &no},
				{Start: 2, End: 4, Text: "burn it", IsExtremist: &yes, ClassType: "hate", Confidence: &conf, Category: model.CategoryExtremistSpeech},
			},
		},
	}

	var buf bytes.Buffer
	if err := WriteTranscript(&buf, rec); err != nil {
		t.Fatalf("WriteTranscript: %v", err)
	}

	f, err := excelize.OpenReader(&buf)
	if err != nil {
		t.Fatalf("open workbook: %v", err)
	}
	defer f.Close()

	rows, err := f.GetRows(SegmentsSheet)
	if err != nil {
		t.Fatalf("read rows: %v", err)
	}
	if len(rows) != 3 {
		t.Fatalf("expected header + 2 rows, got %d", len(rows))
	}
	if rows[0][0] != "Index" || rows[0][3] != "Text" {
		t.Fatalf("unexpected header %v", rows[0])
	}
	if rows[1][3] != "hello" || rows[2][3] != "burn it" {
		t.Fatalf("segments out of order: %v / %v", rows[1], rows[2])
	}
	if rows[2][4] != model.CategoryExtremistSpeech || rows[2][5] != "TRUE" || rows[2][6] != "hate" {
		t.Fatalf("unexpected labels %v", rows[2])
	}

	summary, err := f.GetRows(SummarySheet)
	if err != nil {
		t.Fatalf("read summary: %v", err)
	}
	found := false
	for _, row := range summary {
		if len(row) == 2 && row[0] == "Flagged" {
			found = row[1] == "1"
		}
	}
	if !found {
		t.Fatalf("flagged count missing from summary: %v", summary)
	}
}

func TestWriteTranscriptWithoutTranscript(t *testing.T) {
	var buf bytes.Buffer
	err := WriteTranscript(&buf, &model.MediaRecord{ID: "m1"})
	if !errors.Is(err, ErrNoTranscript) {
		t.Fatalf("expected ErrNoTranscript, got %v", err)
	}
	if buf.Len() != 0 {
		t.Fatal("nothing should be written")
	}
}
