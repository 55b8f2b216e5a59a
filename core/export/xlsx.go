// Package export renders a record's annotated transcript as a spreadsheet.
package export

import (
	"errors"
	"fmt"
	"io"

	"MediaGuard/model"

	"github.com/xuri/excelize/v2"
)

// ErrNoTranscript is returned for records that have not been transcribed.
var ErrNoTranscript = errors.New("export: record has no transcript")

const (
	SegmentsSheet = "Segments"
	SummarySheet  = "Summary"
)

var segmentHeader = []interface{}{
	"Index", "Start", "End", "Text", "Category",
	"Is Extremist", "Class Type", "Confidence",
	"LLM Confidence", "LLM Reasoning",
}

// WriteTranscript writes an xlsx workbook with one row per segment, in
// segment order, plus a summary sheet.
func WriteTranscript(w io.Writer, rec *model.MediaRecord) error {
	if rec == nil || !rec.Transcript.HasSegments() {
		return ErrNoTranscript
	}

	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", SegmentsSheet); err != nil {
		return fmt.Errorf("rename sheet: %w", err)
	}
	if err := f.SetSheetRow(SegmentsSheet, "A1", &segmentHeader); err != nil {
		return fmt.Errorf("write header: %w", err)
	}

	flagged := 0
	for i, seg := range rec.Transcript.Segments {
		row := []interface{}{
			i, seg.Start, seg.End, seg.Text, seg.Category,
			optBool(seg.IsExtremist), seg.ClassType, optFloat(seg.Confidence),
			optFloat(seg.ExtremistConfidence), seg.ExtremistReasoning,
		}
		if seg.IsExtremist != nil && *seg.IsExtremist {
			flagged++
		}
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return err
		}
		if err := f.SetSheetRow(SegmentsSheet, cell, &row); err != nil {
			return fmt.Errorf("write segment %d: %w", i, err)
		}
	}
	if err := f.SetPanes(SegmentsSheet, &excelize.Panes{
		Freeze:      true,
		YSplit:      1,
		TopLeftCell: "A2",
		ActivePane:  "bottomLeft",
	}); err != nil {
		return fmt.Errorf("freeze header: %w", err)
	}
	if err := f.SetColWidth(SegmentsSheet, "D", "D", 80); err != nil {
		return fmt.Errorf("set width: %w", err)
	}

	if _, err := f.NewSheet(SummarySheet); err != nil {
		return fmt.Errorf("create summary: %w", err)
	}
	summary := [][]interface{}{
		{"ID", rec.ID},
		{"Filename", rec.Filename},
		{"Type", string(rec.MediaKind)},
		{"Language", rec.Transcript.Language},
		{"Duration", rec.Transcript.Duration},
		{"Upload Status", string(rec.UploadStatus)},
		{"Analysis Status", string(rec.AnalysisStatus)},
		{"Processing Status", string(rec.ProcessingStatus)},
		{"Segments", len(rec.Transcript.Segments)},
		{"Flagged", flagged},
	}
	for i, row := range summary {
		if err := f.SetSheetRow(SummarySheet, fmt.Sprintf("A%d", i+1), &row); err != nil {
			return fmt.Errorf("write summary: %w", err)
		}
	}

	if _, err := f.WriteTo(w); err != nil {
		return fmt.Errorf("write workbook: %w", err)
	}
	return nil
}

func optBool(b *bool) interface{} {
	if b == nil {
		return ""
	}
	return *b
}

func optFloat(v *float64) interface{} {
	if v == nil {
		return ""
	}
	return *v
}
