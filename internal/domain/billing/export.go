package billing

import (
	"fmt"
	"io"

	"github.com/google/uuid"
	"github.com/xuri/excelize/v2"
)

const exportSheet = "Invoices"

var exportHeader = []string{
	"Invoice No",
	"Customer",
	"Issue Date",
	"Due Date",
	"Sub Total",
	"Tax Rate",
	"Tax Amount",
	"Net Total",
	"Payment Status",
	"Paid At",
}

var exportWidths = []float64{20, 32, 14, 14, 14, 10, 14, 14, 16, 20}

// WriteInvoiceWorkbook renders invoices as a single-sheet XLSX workbook.
// customerNames maps customer ids to display names; ids missing from it
// are written as-is.
func WriteInvoiceWorkbook(w io.Writer, invoices []*Invoice, customerNames map[uuid.UUID]string) error {
	f := excelize.NewFile()
	defer f.Close()

	index, err := f.NewSheet(exportSheet)
	if err != nil {
		return fmt.Errorf("failed to create sheet: %w", err)
	}
	f.DeleteSheet("Sheet1")
	f.SetActiveSheet(index)

	headerStyle, err := f.NewStyle(&excelize.Style{
		Font: &excelize.Font{Bold: true},
		Fill: excelize.Fill{Type: "pattern", Color: []string{"#E6F3FF"}, Pattern: 1},
		Border: []excelize.Border{
			{Type: "left", Color: "000000", Style: 1},
			{Type: "top", Color: "000000", Style: 1},
			{Type: "bottom", Color: "000000", Style: 1},
			{Type: "right", Color: "000000", Style: 1},
		},
		Alignment: &excelize.Alignment{Horizontal: "center", Vertical: "center"},
	})
	if err != nil {
		return fmt.Errorf("failed to create header style: %w", err)
	}
	moneyFmt := "#,##0.00"
	moneyStyle, err := f.NewStyle(&excelize.Style{CustomNumFmt: &moneyFmt})
	if err != nil {
		return fmt.Errorf("failed to create money style: %w", err)
	}

	for i, h := range exportHeader {
		col, err := excelize.ColumnNumberToName(i + 1)
		if err != nil {
			return fmt.Errorf("failed to convert column number: %w", err)
		}
		cell := col + "1"
		if err := f.SetCellValue(exportSheet, cell, h); err != nil {
			return fmt.Errorf("failed to set header cell %s: %w", cell, err)
		}
		if err := f.SetColWidth(exportSheet, col, col, exportWidths[i]); err != nil {
			return fmt.Errorf("failed to set column width: %w", err)
		}
	}
	if err := f.SetCellStyle(exportSheet, "A1", "J1", headerStyle); err != nil {
		return fmt.Errorf("failed to set header style: %w", err)
	}

	for i, inv := range invoices {
		row := i + 2
		customer, ok := customerNames[inv.CustomerID]
		if !ok {
			customer = inv.CustomerID.String()
		}
		paidAt := ""
		if inv.PaidAt != nil {
			paidAt = inv.PaidAt.Format("2006-01-02 15:04")
		}
		values := []interface{}{
			inv.InvoiceNo,
			customer,
			inv.IssueDate.Format("2006-01-02"),
			inv.DueDate.Format("2006-01-02"),
			inv.SubTotal.InexactFloat64(),
			inv.TaxRate.InexactFloat64(),
			inv.TaxAmount.InexactFloat64(),
			inv.NetTotal.InexactFloat64(),
			string(inv.PaymentStatus),
			paidAt,
		}
		cell, err := excelize.CoordinatesToCellName(1, row)
		if err != nil {
			return fmt.Errorf("failed to convert coordinates: %w", err)
		}
		if err := f.SetSheetRow(exportSheet, cell, &values); err != nil {
			return fmt.Errorf("failed to write row %d: %w", row, err)
		}
		if err := f.SetCellStyle(exportSheet, fmt.Sprintf("E%d", row), fmt.Sprintf("E%d", row), moneyStyle); err != nil {
			return fmt.Errorf("failed to style row %d: %w", row, err)
		}
		if err := f.SetCellStyle(exportSheet, fmt.Sprintf("G%d", row), fmt.Sprintf("H%d", row), moneyStyle); err != nil {
			return fmt.Errorf("failed to style row %d: %w", row, err)
		}
	}

	if _, err := f.WriteTo(w); err != nil {
		return fmt.Errorf("failed to write workbook: %w", err)
	}
	return nil
}
