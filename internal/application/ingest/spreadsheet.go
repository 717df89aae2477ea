package ingest

import (
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/xuri/excelize/v2"

	"github.com/salesledger/backend/internal/domain/ledger"
)

var (
	ErrEmptySheet     = errors.New("ingest: spreadsheet has no data rows")
	ErrMissingColumns = errors.New("ingest: spreadsheet is missing required columns")
)

// requiredSheetColumns must resolve from the header row for the import to
// proceed at all; everything else degrades gracefully per cell.
var requiredSheetColumns = []string{"date", "product", "total"}

// ReadSpreadsheet loads the first sheet of an xlsx upload into raw string
// rows, header included.
func ReadSpreadsheet(r io.Reader) ([][]string, error) {
	f, err := excelize.OpenReader(r)
	if err != nil {
		return nil, fmt.Errorf("ingest: opening spreadsheet: %w", err)
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, ErrEmptySheet
	}

	rows, err := f.GetRows(sheets[0])
	if err != nil {
		return nil, fmt.Errorf("ingest: reading sheet %q: %w", sheets[0], err)
	}
	return rows, nil
}

// NormalizeSheet converts spreadsheet rows, the first row being the header.
// Column resolution reuses the legacy alias tables, so the operator's
// Portuguese headers map the same way legacy database columns do. Rejected
// row indices refer to data rows, header excluded.
func NormalizeSheet(rows [][]string) Result {
	var result Result

	if len(rows) < 2 {
		result.reject(0, "%v", ErrEmptySheet)
		return result
	}

	columns, err := resolveSheetHeader(rows[0])
	if err != nil {
		result.reject(0, "%v", err)
		return result
	}

	for i, cells := range rows[1:] {
		row := sheetRow{columns: columns, cells: cells}
		if row.empty() {
			continue
		}

		date, err := parseDateString(row.str("date"))
		if err != nil {
			result.reject(i, "date: %v", err)
			continue
		}
		total, err := parseAmount(row.str("total"))
		if err != nil {
			result.reject(i, "total: %v", err)
			continue
		}

		unitPrice, _ := parseAmount(row.str("unitprice"))
		sku := row.str("sku")
		product := row.str("product")
		store := row.str("store")

		orderID := row.str("orderid")
		if orderID == "" {
			orderID = syntheticLegacyOrderID(date, store)
		}

		result.accept(i, &ledger.SaleRecord{
			OrderID:      orderID,
			Date:         date,
			Store:        store,
			Product:      product,
			Variation:    deriveVariation(row.str("variation"), sku, product),
			SKU:          sku,
			Quantity:     parseQuantity(row.str("quantity")),
			Total:        total,
			UnitPrice:    unitPrice,
			ClientName:   row.str("clientname"),
			CodCli:       row.str("codcli"),
			NomeFantasia: row.str("nomefantasia"),
			CnpjCpf:      row.str("cnpjcpf"),
			Channel:      ledger.SaleChannelOther,
		})
	}

	return result
}

// resolveSheetHeader maps canonical attributes to cell positions
func resolveSheetHeader(header []string) (map[string]int, error) {
	columns := make(map[string]int, len(header))
	for i, name := range header {
		if canonical, ok := legacyColumnIndex[normalizeKey(name)]; ok {
			if _, taken := columns[canonical]; !taken {
				columns[canonical] = i
			}
		}
	}

	var missing []string
	for _, required := range requiredSheetColumns {
		if _, ok := columns[required]; !ok {
			missing = append(missing, required)
		}
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("%w: %s", ErrMissingColumns, strings.Join(missing, ", "))
	}
	return columns, nil
}

// sheetRow provides canonical-name access over one row of cells
type sheetRow struct {
	columns map[string]int
	cells   []string
}

// str reads a canonical attribute, tolerating short rows
func (r sheetRow) str(key string) string {
	idx, ok := r.columns[key]
	if !ok || idx >= len(r.cells) {
		return ""
	}
	return strings.TrimSpace(r.cells[idx])
}

// empty reports whether every cell is blank
func (r sheetRow) empty() bool {
	for _, cell := range r.cells {
		if strings.TrimSpace(cell) != "" {
			return false
		}
	}
	return true
}
