// Package report exports tracker snapshots as an xlsx workbook.
package report

import (
	"bytes"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/GABRIELS562/RFID-Evidence-Tracking-System-sub001/internal/models"

	"github.com/xuri/excelize/v2"
)

// Sheet names in the exported workbook.
const (
	SheetSessions = "Sessions"
	SheetPaths    = "Paths"
	SheetAlerts   = "Alerts"
	SheetTags     = "Tags"
)

var (
	sessionHeader = []string{"Session ID", "Tag ID", "Status", "Current Location", "Start Time", "Last Seen", "Path Length", "Alerts"}
	pathHeader    = []string{"Session ID", "Tag ID", "Seq", "Location", "Timestamp", "Signal Strength"}
	alertHeader   = []string{"Alert ID", "Type", "Severity", "Tag ID", "Session ID", "Message", "Timestamp", "Acknowledged", "Acknowledged At"}
	tagHeader     = []string{"Tag ID", "Location", "Signal Strength", "Last Seen", "X", "Y", "Z"}
)

const timeLayout = "2006-01-02 15:04:05"

// Snapshot the data one workbook is built from
type Snapshot struct {
	Sessions []models.TrackingSession
	Alerts   []models.Alert
	Tags     []models.LiveTag
}

// sheetWriter writes rows to one sheet and remembers the first error, so
// the row loops stay readable.
type sheetWriter struct {
	f     *excelize.File
	sheet string
	err   error
}

func (w *sheetWriter) row(row int, values ...interface{}) {
	if w.err != nil {
		return
	}
	for i, v := range values {
		if v == nil || v == "" {
			continue
		}
		cell, err := excelize.CoordinatesToCellName(i+1, row)
		if err != nil {
			w.err = err
			return
		}
		if err := w.f.SetCellValue(w.sheet, cell, v); err != nil {
			w.err = fmt.Errorf("failed to set cell %s!%s: %w", w.sheet, cell, err)
			return
		}
	}
}

// Generate builds the workbook and returns its bytes.
func Generate(s Snapshot) ([]byte, error) {
	f := excelize.NewFile()

	headerStyle, err := f.NewStyle(&excelize.Style{
		Font: &excelize.Font{Bold: true},
		Fill: excelize.Fill{
			Type:    "pattern",
			Color:   []string{"#E6F3FF"},
			Pattern: 1,
		},
		Alignment: &excelize.Alignment{Horizontal: "center", Vertical: "center"},
	})
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to create header style: %w", err)
	}

	sheets := []struct {
		name   string
		header []string
		fill   func(w *sheetWriter)
	}{
		{SheetSessions, sessionHeader, func(w *sheetWriter) { fillSessions(w, s.Sessions) }},
		{SheetPaths, pathHeader, func(w *sheetWriter) { fillPaths(w, s.Sessions) }},
		{SheetAlerts, alertHeader, func(w *sheetWriter) { fillAlerts(w, s.Alerts) }},
		{SheetTags, tagHeader, func(w *sheetWriter) { fillTags(w, s.Tags) }},
	}

	for i, sh := range sheets {
		index, err := f.NewSheet(sh.name)
		if err != nil {
			f.Close()
			return nil, fmt.Errorf("failed to create sheet %s: %w", sh.name, err)
		}
		if i == 0 {
			f.SetActiveSheet(index)
		}
		if err := writeHeader(f, sh.name, sh.header, headerStyle); err != nil {
			f.Close()
			return nil, err
		}
		w := &sheetWriter{f: f, sheet: sh.name}
		sh.fill(w)
		if w.err != nil {
			f.Close()
			return nil, w.err
		}
	}

	// the default sheet is replaced by ours
	f.DeleteSheet("Sheet1")

	var buf bytes.Buffer
	if _, err := f.WriteTo(&buf); err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to write to buffer: %w", err)
	}
	if err := f.Close(); err != nil {
		return nil, fmt.Errorf("failed to close file: %w", err)
	}
	return buf.Bytes(), nil
}

// WriteFile generates the workbook and writes it to path.
func WriteFile(path string, s Snapshot) error {
	data, err := Generate(s)
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write report: %w", err)
	}
	return nil
}

func writeHeader(f *excelize.File, sheet string, header []string, style int) error {
	for col, title := range header {
		cell, err := excelize.CoordinatesToCellName(col+1, 1)
		if err != nil {
			return fmt.Errorf("failed to convert coordinates: %w", err)
		}
		if err := f.SetCellValue(sheet, cell, title); err != nil {
			return fmt.Errorf("failed to set header cell %s: %w", cell, err)
		}
		if err := f.SetCellStyle(sheet, cell, cell, style); err != nil {
			return fmt.Errorf("failed to set header style: %w", err)
		}
		name, err := excelize.ColumnNumberToName(col + 1)
		if err != nil {
			return fmt.Errorf("failed to convert column number: %w", err)
		}
		if err := f.SetColWidth(sheet, name, name, 20); err != nil {
			return fmt.Errorf("failed to set column width: %w", err)
		}
	}

	// keep the header row visible
	return f.SetPanes(sheet, &excelize.Panes{
		Freeze:      true,
		YSplit:      1,
		TopLeftCell: "A2",
		ActivePane:  "bottomLeft",
	})
}

func fillSessions(w *sheetWriter, sessions []models.TrackingSession) {
	for i, s := range sessions {
		w.row(i+2,
			s.SessionID,
			s.TagID,
			string(s.Status),
			s.CurrentLocation,
			formatTime(s.StartTime),
			formatTime(s.LastSeen),
			len(s.Path),
			strings.Join(s.Alerts, ", "),
		)
	}
}

func fillPaths(w *sheetWriter, sessions []models.TrackingSession) {
	row := 2
	for _, s := range sessions {
		for seq, p := range s.Path {
			w.row(row, s.SessionID, s.TagID, seq+1, p.Location, formatTime(p.Timestamp), p.SignalStrength)
			row++
		}
	}
}

func fillAlerts(w *sheetWriter, alerts []models.Alert) {
	for i, a := range alerts {
		acked := "No"
		if a.Acknowledged {
			acked = "Yes"
		}
		ackedAt := ""
		if a.AcknowledgedAt != nil {
			ackedAt = formatTime(*a.AcknowledgedAt)
		}
		w.row(i+2,
			a.ID,
			a.Type,
			string(a.Severity),
			a.TagID,
			a.SessionID,
			a.Message,
			formatTime(a.Timestamp),
			acked,
			ackedAt,
		)
	}
}

func fillTags(w *sheetWriter, tags []models.LiveTag) {
	for i, t := range tags {
		var x, y, z interface{}
		if t.Coordinates != nil {
			x, y = t.Coordinates.X, t.Coordinates.Y
			if t.Coordinates.Z != nil {
				z = *t.Coordinates.Z
			}
		}
		w.row(i+2, t.TagID, t.Location, t.SignalStrength, formatTime(t.LastSeen), x, y, z)
	}
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(timeLayout)
}
