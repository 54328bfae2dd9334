// Package report exports a student's course progress as a spreadsheet.
package report

import (
	"fmt"
	"io"
	"time"

	"github.com/xuri/excelize/v2"

	"github.com/p-n-ai/pai-progress/internal/progress"
)

// SheetName is the worksheet holding the lesson table.
const SheetName = "Progress"

// Progress is the data rendered into a report.
type Progress struct {
	StudentID   string
	CourseID    string
	CourseName  string
	Percent     int
	GeneratedAt time.Time
	Lessons     []progress.LessonStatus
}

var header = []any{"#", "Module", "Lesson", "Title", "Completed", "Accessible", "Requires"}

// headerRow is the row of the lesson table header; rows above it hold the summary.
const headerRow = 6

// WriteXLSX renders p as an .xlsx workbook into w.
func WriteXLSX(w io.Writer, p Progress) error {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", SheetName); err != nil {
		return fmt.Errorf("rename sheet: %w", err)
	}

	generated := p.GeneratedAt
	if generated.IsZero() {
		generated = time.Now()
	}
	summary := [][]any{
		{"Student", p.StudentID},
		{"Course", courseLabel(p)},
		{"Completion", fmt.Sprintf("%d%%", p.Percent)},
		{"Generated", generated.UTC().Format(time.RFC3339)},
	}
	for i, row := range summary {
		if err := setRow(f, i+1, row); err != nil {
			return err
		}
	}

	if err := setRow(f, headerRow, header); err != nil {
		return err
	}
	bold, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err != nil {
		return fmt.Errorf("create header style: %w", err)
	}
	if err := f.SetRowStyle(SheetName, headerRow, headerRow, bold); err != nil {
		return fmt.Errorf("style header: %w", err)
	}

	for i, l := range p.Lessons {
		row := []any{l.Position, l.ModuleID, l.LessonID, l.Title, yesNo(l.Completed), yesNo(l.Accessible), l.Prerequisite}
		if err := setRow(f, headerRow+1+i, row); err != nil {
			return err
		}
	}

	if err := f.SetColWidth(SheetName, "B", "D", 24); err != nil {
		return fmt.Errorf("set column width: %w", err)
	}

	if _, err := f.WriteTo(w); err != nil {
		return fmt.Errorf("write workbook: %w", err)
	}
	return nil
}

func setRow(f *excelize.File, row int, values []any) error {
	cell, err := excelize.CoordinatesToCellName(1, row)
	if err != nil {
		return fmt.Errorf("cell name for row %d: %w", row, err)
	}
	if err := f.SetSheetRow(SheetName, cell, &values); err != nil {
		return fmt.Errorf("write row %d: %w", row, err)
	}
	return nil
}

func courseLabel(p Progress) string {
	if p.CourseName == "" {
		return p.CourseID
	}
	return fmt.Sprintf("%s (%s)", p.CourseName, p.CourseID)
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}
