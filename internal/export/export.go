// Package export renders bookings as an XLSX workbook.
package export

import (
	"fmt"
	"io"
	"time"

	"salonbook/internal/models"

	"github.com/xuri/excelize/v2"
)

const (
	bookingsSheet = "Bookings"
	summarySheet  = "Summary"
	timeFormat    = "2006-01-02 15:04"
)

var columns = []struct {
	title string
	width float64
}{
	{"ID", 38}, {"Date", 12}, {"Time", 10}, {"Staff", 16}, {"Service", 16}, {"User", 16},
	{"Price", 10}, {"Status", 12}, {"Payment", 10}, {"Paid At", 18}, {"Card", 8}, {"Created At", 18},
}

var statusFill = map[string]string{
	models.StatusPending:   "#FFEB9C",
	models.StatusConfirmed: "#C6EFCE",
	models.StatusCompleted: "#DDEBF7",
	models.StatusCancelled: "#FFC7CE",
}

// Names resolves catalog ids to display names. Unknown ids are printed as is.
type Names struct {
	Staff    map[string]string
	Services map[string]string
}

func (n Names) staff(id string) string {
	if name, ok := n.Staff[id]; ok {
		return name
	}
	return id
}

func (n Names) service(id string) string {
	if name, ok := n.Services[id]; ok {
		return name
	}
	return id
}

// WriteBookings writes a workbook with one row per booking and a summary sheet.
func WriteBookings(w io.Writer, title string, bookings []*models.Booking, names Names, generatedAt time.Time) error {
	f := excelize.NewFile()
	defer f.Close()

	index, err := f.NewSheet(bookingsSheet)
	if err != nil {
		return fmt.Errorf("create sheet: %w", err)
	}
	f.SetActiveSheet(index)

	header, err := f.NewStyle(&excelize.Style{
		Fill:      excelize.Fill{Type: "pattern", Color: []string{"#D9D9D9"}, Pattern: 1},
		Font:      &excelize.Font{Bold: true},
		Alignment: &excelize.Alignment{Horizontal: "center"},
	})
	if err != nil {
		return err
	}

	for i, col := range columns {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		name, _ := excelize.ColumnNumberToName(i + 1)
		_ = f.SetCellValue(bookingsSheet, cell, col.title)
		_ = f.SetColWidth(bookingsSheet, name, name, col.width)
	}
	lastCol, _ := excelize.ColumnNumberToName(len(columns))
	_ = f.SetCellStyle(bookingsSheet, "A1", lastCol+"1", header)
	_ = f.SetPanes(bookingsSheet, &excelize.Panes{Freeze: true, YSplit: 1, TopLeftCell: "A2", ActivePane: "bottomLeft"})

	styles := make(map[string]int, len(statusFill))
	for status, color := range statusFill {
		id, err := f.NewStyle(&excelize.Style{Fill: excelize.Fill{Type: "pattern", Color: []string{color}, Pattern: 1}})
		if err != nil {
			return err
		}
		styles[status] = id
	}

	counts := make(map[string]int)
	var revenue int64
	for i, b := range bookings {
		row := i + 2
		paidAt := ""
		if b.PaymentDate != nil {
			paidAt = b.PaymentDate.Format(timeFormat)
		}
		values := []interface{}{
			b.ID, b.Date, b.Time, names.staff(b.StaffID), names.service(b.ServiceID), b.UserID,
			b.Price, b.Status, b.PaymentMethod, paidAt, b.CardLastFour, b.CreatedAt.Format(timeFormat),
		}
		cell, _ := excelize.CoordinatesToCellName(1, row)
		if err := f.SetSheetRow(bookingsSheet, cell, &values); err != nil {
			return fmt.Errorf("write row %d: %w", row, err)
		}
		if style, ok := styles[b.Status]; ok {
			statusCell, _ := excelize.CoordinatesToCellName(8, row)
			_ = f.SetCellStyle(bookingsSheet, statusCell, statusCell, style)
		}

		counts[b.Status]++
		if b.Status == models.StatusConfirmed || b.Status == models.StatusCompleted {
			revenue += b.Price
		}
	}

	if err := writeSummary(f, title, len(bookings), counts, revenue, generatedAt); err != nil {
		return err
	}
	_ = f.DeleteSheet("Sheet1")

	if _, err := f.WriteTo(w); err != nil {
		return fmt.Errorf("write workbook: %w", err)
	}
	return nil
}

func writeSummary(f *excelize.File, title string, total int, counts map[string]int, revenue int64, generatedAt time.Time) error {
	if _, err := f.NewSheet(summarySheet); err != nil {
		return fmt.Errorf("create summary sheet: %w", err)
	}
	rows := [][]interface{}{
		{title},
		{"Generated", generatedAt.Format(timeFormat)},
		{"Total", total},
		{models.StatusPending, counts[models.StatusPending]},
		{models.StatusConfirmed, counts[models.StatusConfirmed]},
		{models.StatusCompleted, counts[models.StatusCompleted]},
		{models.StatusCancelled, counts[models.StatusCancelled]},
		{"Revenue", revenue},
	}
	for i, r := range rows {
		cell, _ := excelize.CoordinatesToCellName(1, i+1)
		if err := f.SetSheetRow(summarySheet, cell, &r); err != nil {
			return err
		}
	}
	_ = f.SetColWidth(summarySheet, "A", "A", 20)
	bold, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true, Size: 14}})
	if err != nil {
		return err
	}
	return f.SetCellStyle(summarySheet, "A1", "A1", bold)
}
