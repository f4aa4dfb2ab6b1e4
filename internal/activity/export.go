package activity

import (
	"fmt"
	"io"
	"time"

	"github.com/xuri/excelize/v2"
)

const exportSheet = "Playback History"

var exportHeaders = []string{"Time", "Sound", "Trigger", "Status", "Schedule"}

// ExportXLSX writes logs as a spreadsheet, timestamps rendered in loc.
func ExportXLSX(w io.Writer, logs []PlaybackLog, loc *time.Location) error {
	f := excelize.NewFile()
	defer f.Close()

	index, err := f.NewSheet(exportSheet)
	if err != nil {
		return fmt.Errorf("failed to create sheet: %w", err)
	}
	if err := f.DeleteSheet("Sheet1"); err != nil {
		return fmt.Errorf("failed to remove default sheet: %w", err)
	}
	f.SetActiveSheet(index)

	headerStyle, err := f.NewStyle(&excelize.Style{
		Font: &excelize.Font{Bold: true},
		Fill: excelize.Fill{Type: "pattern", Color: []string{"#E6F3FF"}, Pattern: 1},
	})
	if err != nil {
		return fmt.Errorf("failed to create header style: %w", err)
	}

	for col, header := range exportHeaders {
		cell, err := excelize.CoordinatesToCellName(col+1, 1)
		if err != nil {
			return err
		}
		if err := f.SetCellValue(exportSheet, cell, header); err != nil {
			return fmt.Errorf("failed to set header cell %s: %w", cell, err)
		}
		if err := f.SetCellStyle(exportSheet, cell, cell, headerStyle); err != nil {
			return fmt.Errorf("failed to set header style: %w", err)
		}
	}
	if err := f.SetColWidth(exportSheet, "A", "A", 22); err != nil {
		return err
	}
	if err := f.SetColWidth(exportSheet, "B", "B", 28); err != nil {
		return err
	}

	for i, entry := range logs {
		scheduleID := ""
		if entry.ScheduleID != nil {
			scheduleID = *entry.ScheduleID
		}
		values := []any{
			entry.Time().In(loc).Format("2006-01-02 15:04:05"),
			entry.SoundName,
			string(entry.TriggerType),
			string(entry.Status),
			scheduleID,
		}
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return err
		}
		if err := f.SetSheetRow(exportSheet, cell, &values); err != nil {
			return fmt.Errorf("failed to write row %d: %w", i+2, err)
		}
	}

	if _, err := f.WriteTo(w); err != nil {
		return fmt.Errorf("failed to write spreadsheet: %w", err)
	}
	return nil
}
