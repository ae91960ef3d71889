// Package export renders session data as spreadsheets.
package export

import (
	"bytes"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/xuri/excelize/v2"

	"liveclass/internal/model"
)

const rosterSheet = "Roster"

var rosterHeader = []string{"#", "Student", "Student ID", "Joined at (UTC)"}

// Roster builds an xlsx workbook listing the session's participants under a title row.
func Roster(d *model.SessionDetail) ([]byte, error) {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", rosterSheet); err != nil {
		return nil, fmt.Errorf("rename sheet: %w", err)
	}

	title := d.Title
	if d.StartTime != nil {
		title += " · " + d.StartTime.UTC().Format("2006-01-02 15:04")
	}
	if err := f.SetCellStr(rosterSheet, "A1", title); err != nil {
		return nil, fmt.Errorf("set title: %w", err)
	}
	if err := f.SetCellStr(rosterSheet, "A2", fmt.Sprintf("Teacher: %s · Status: %s · Participants: %d", d.Teacher.Name, d.Status, len(d.Participants))); err != nil {
		return nil, fmt.Errorf("set subtitle: %w", err)
	}
	titleStyle, _ := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true, Size: 14}})
	_ = f.SetCellStyle(rosterSheet, "A1", "A1", titleStyle)

	const headerRow = 4
	for col, h := range rosterHeader {
		cell, _ := excelize.CoordinatesToCellName(col+1, headerRow)
		if err := f.SetCellStr(rosterSheet, cell, h); err != nil {
			return nil, fmt.Errorf("set cell %s: %w", cell, err)
		}
	}
	first, _ := excelize.CoordinatesToCellName(1, headerRow)
	last, _ := excelize.CoordinatesToCellName(len(rosterHeader), headerRow)
	bold, _ := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	_ = f.SetCellStyle(rosterSheet, first, last, bold)

	widths := make([]int, len(rosterHeader))
	for i, h := range rosterHeader {
		widths[i] = len(h)
	}
	for i, p := range d.Participants {
		row := []string{
			fmt.Sprint(i + 1),
			p.Student.Name,
			p.StudentID,
			p.JoinedAt.UTC().Format(time.DateTime),
		}
		for col, v := range row {
			cell, _ := excelize.CoordinatesToCellName(col+1, headerRow+1+i)
			if err := f.SetCellStr(rosterSheet, cell, v); err != nil {
				return nil, fmt.Errorf("set cell %s: %w", cell, err)
			}
			if l := len([]rune(v)); l > widths[col] {
				widths[col] = l
			}
		}
	}
	if len(d.Participants) > 0 {
		end, _ := excelize.CoordinatesToCellName(len(rosterHeader), headerRow+len(d.Participants))
		_ = f.AutoFilter(rosterSheet, first+":"+end, nil)
	}
	for col, w := range widths {
		name, _ := excelize.ColumnNumberToName(col + 1)
		width := float64(w) * 1.1
		if width < 6 {
			width = 6
		}
		if width > 48 {
			width = 48
		}
		_ = f.SetColWidth(rosterSheet, name, name, width)
	}

	var buf bytes.Buffer
	if err := f.Write(&buf); err != nil {
		return nil, fmt.Errorf("write workbook: %w", err)
	}
	return buf.Bytes(), nil
}

var invalidFileRe = regexp.MustCompile(`[\\/:*?"<>|]+`)

// RosterFilename is a download name for the session's roster.
func RosterFilename(d *model.SessionDetail) string {
	title := strings.Join(strings.Fields(d.Title), " ")
	if title == "" {
		title = "session"
	}
	return invalidFileRe.ReplaceAllString(title, "_") + " - roster.xlsx"
}
