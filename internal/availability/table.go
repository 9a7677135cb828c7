package availability

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/xuri/excelize/v2"
)

const (
	SheetName      = "All_Schedules"
	DateTimeLayout = "2006-01-02 15:04"
)

const (
	colDoctor = iota
	colDateTime
	colLocation
	colAvailable
	colDuration
	colKind
	colBookingID
	colPatientRef
	colBookedAt
)

var header = []string{
	"doctor_name",
	"datetime",
	"location",
	"available",
	"duration_available",
	"appointment_type",
	"booking_id",
	"patient_ref",
	"booked_at",
}

// Files from the schedule generator only carry the first six columns.
const requiredColumns = colKind + 1

var readLayouts = []string{
	DateTimeLayout,
	"2006-01-02 15:04:05",
	"2006-01-02T15:04",
	"2006-01-02T15:04:05",
	time.RFC3339,
}

// ReadTable parses the schedule workbook at path. Datetimes without a zone are
// interpreted in loc.
func ReadTable(path string, loc *time.Location) ([]Slot, error) {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return nil, fmt.Errorf("open schedule %s: %w", path, err)
	}
	defer f.Close()

	sheet := SheetName
	if idx, _ := f.GetSheetIndex(sheet); idx < 0 {
		sheets := f.GetSheetList()
		if len(sheets) == 0 {
			return nil, fmt.Errorf("schedule %s has no sheets", path)
		}
		sheet = sheets[0]
	}

	rows, err := f.GetRows(sheet, excelize.Options{RawCellValue: true})
	if err != nil {
		return nil, fmt.Errorf("read sheet %s: %w", sheet, err)
	}
	if len(rows) == 0 {
		return nil, nil
	}

	index, err := columnIndex(rows[0])
	if err != nil {
		return nil, fmt.Errorf("schedule %s: %w", path, err)
	}

	slots := make([]Slot, 0, len(rows)-1)
	for i, row := range rows[1:] {
		if blank(row) {
			continue
		}
		slot, err := parseRow(row, index, loc)
		if err != nil {
			// +2: one for the header, one for 1-based row numbers
			return nil, fmt.Errorf("schedule %s row %d: %w", path, i+2, err)
		}
		slots = append(slots, slot)
	}

	return slots, nil
}

// WriteTable replaces the workbook at path. The new content is written to a
// temporary file in the same directory and renamed over the old file, so a
// concurrent reader sees either the old or the new table.
func WriteTable(path string, slots []Slot, loc *time.Location) error {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName(f.GetSheetName(0), SheetName); err != nil {
		return fmt.Errorf("name sheet: %w", err)
	}

	head := make([]any, len(header))
	for i, h := range header {
		head[i] = h
	}
	if err := f.SetSheetRow(SheetName, "A1", &head); err != nil {
		return fmt.Errorf("write header: %w", err)
	}

	for i, s := range slots {
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return err
		}
		bookedAt := ""
		if s.BookedAt != nil {
			bookedAt = s.BookedAt.UTC().Format(time.RFC3339)
		}
		row := []any{
			s.Doctor,
			s.Start.In(loc).Format(DateTimeLayout),
			s.Location,
			s.Available,
			s.CapacityMinutes,
			s.Kind,
			s.BookingID,
			s.PatientRef,
			bookedAt,
		}
		if err := f.SetSheetRow(SheetName, cell, &row); err != nil {
			return fmt.Errorf("write row %d: %w", i+2, err)
		}
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp schedule: %w", err)
	}
	tmpName := tmp.Name()

	if err := f.Write(tmp); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write temp schedule: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("sync temp schedule: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("close temp schedule: %w", err)
	}

	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("replace schedule %s: %w", path, err)
	}

	return nil
}

func columnIndex(head []string) ([]int, error) {
	index := make([]int, len(header))
	for i := range index {
		index[i] = -1
	}
	for pos, name := range head {
		name = strings.ToLower(strings.TrimSpace(name))
		for i, want := range header {
			if name == want {
				index[i] = pos
			}
		}
	}
	for i := 0; i < requiredColumns; i++ {
		if index[i] < 0 {
			return nil, fmt.Errorf("missing column %q", header[i])
		}
	}
	return index, nil
}

func parseRow(row []string, index []int, loc *time.Location) (Slot, error) {
	cell := func(col int) string {
		pos := index[col]
		if pos < 0 || pos >= len(row) {
			return ""
		}
		return strings.TrimSpace(row[pos])
	}

	var s Slot

	s.Doctor = cell(colDoctor)
	if s.Doctor == "" {
		return Slot{}, fmt.Errorf("empty %s", header[colDoctor])
	}

	start, err := parseDateTime(cell(colDateTime), loc)
	if err != nil {
		return Slot{}, err
	}
	s.Start = start

	s.Location = cell(colLocation)

	s.Available, err = parseBool(cell(colAvailable))
	if err != nil {
		return Slot{}, err
	}

	if raw := cell(colDuration); raw != "" {
		f, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return Slot{}, fmt.Errorf("invalid %s %q", header[colDuration], raw)
		}
		s.CapacityMinutes = int(f)
	}

	s.Kind = cell(colKind)
	s.BookingID = cell(colBookingID)
	s.PatientRef = cell(colPatientRef)

	if raw := cell(colBookedAt); raw != "" {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return Slot{}, fmt.Errorf("invalid %s %q", header[colBookedAt], raw)
		}
		s.BookedAt = &t
	}

	return s, nil
}

func parseDateTime(raw string, loc *time.Location) (time.Time, error) {
	if raw == "" {
		return time.Time{}, fmt.Errorf("empty %s", header[colDateTime])
	}
	for _, layout := range readLayouts {
		if t, err := time.ParseInLocation(layout, raw, loc); err == nil {
			return t, nil
		}
	}
	// Cells typed as dates come back as Excel serial numbers.
	if serial, err := strconv.ParseFloat(raw, 64); err == nil {
		t, err := excelize.ExcelDateToTime(serial, false)
		if err == nil {
			t = time.Date(t.Year(), t.Month(), t.Day(), t.Hour(), t.Minute(), 0, 0, loc)
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("invalid %s %q", header[colDateTime], raw)
}

func parseBool(raw string) (bool, error) {
	switch strings.ToLower(raw) {
	case "true", "1", "yes", "y":
		return true, nil
	case "false", "0", "no", "n", "":
		return false, nil
	}
	return false, fmt.Errorf("invalid %s %q", header[colAvailable], raw)
}

func blank(row []string) bool {
	for _, c := range row {
		if strings.TrimSpace(c) != "" {
			return false
		}
	}
	return true
}
