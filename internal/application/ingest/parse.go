package ingest

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

var (
	ErrEmptyAmount      = errors.New("ingest: empty amount")
	ErrUnparsableAmount = errors.New("ingest: unparsable amount")
	ErrEmptyDate        = errors.New("ingest: empty date")
	ErrUnparsableDate   = errors.New("ingest: unparsable date")
)

// excelEpoch is day zero of the spreadsheet serial-date scheme
var excelEpoch = time.Date(1899, 12, 30, 0, 0, 0, 0, time.UTC)

// parseAmount reads a money value in either convention the sources use:
// "1234.56" and "1.234,56" both land on the same decimal. Comma presence
// decides which separator is the decimal mark.
func parseAmount(raw string) (decimal.Decimal, error) {
	s := strings.TrimSpace(raw)
	s = strings.TrimPrefix(s, "R$")
	s = strings.ReplaceAll(s, " ", "")
	s = strings.ReplaceAll(s, " ", "")
	if s == "" || s == "-" {
		return decimal.Zero, ErrEmptyAmount
	}

	if strings.Contains(s, ",") {
		// Brazilian convention: dot groups thousands, comma marks decimals
		s = strings.ReplaceAll(s, ".", "")
		s = strings.Replace(s, ",", ".", 1)
	}

	value, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, fmt.Errorf("%w: %q", ErrUnparsableAmount, raw)
	}
	return value, nil
}

// dateLayouts are tried in order for string dates. The legacy sources write
// day first; ISO shapes come from the aggregator.
var dateLayouts = []string{
	"02/01/2006 15:04:05",
	"02/01/2006 15:04",
	"02/01/2006",
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05Z07:00",
	"2006-01-02",
	"02-01-2006",
	"02.01.2006",
	"2006/01/02",
}

// parseDate accepts the date shapes found across the sources: a spreadsheet
// serial number, DD/MM/YYYY with optional time, ISO, and a few free-form
// fallbacks.
func parseDate(value any) (time.Time, error) {
	switch v := value.(type) {
	case time.Time:
		return v, nil
	case float64:
		return fromExcelSerial(v)
	case int64:
		return fromExcelSerial(float64(v))
	case int:
		return fromExcelSerial(float64(v))
	case string:
		return parseDateString(v)
	case []byte:
		return parseDateString(string(v))
	case nil:
		return time.Time{}, ErrEmptyDate
	default:
		return time.Time{}, fmt.Errorf("%w: %T", ErrUnparsableDate, value)
	}
}

// parseDateString tries the known layouts, then a serial number carried as
// text, which is how some spreadsheet cells come through.
func parseDateString(raw string) (time.Time, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return time.Time{}, ErrEmptyDate
	}

	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}

	if serial, err := strconv.ParseFloat(s, 64); err == nil {
		return fromExcelSerial(serial)
	}

	return time.Time{}, fmt.Errorf("%w: %q", ErrUnparsableDate, raw)
}

// fromExcelSerial converts a spreadsheet serial date. Serials below 1 (or
// wildly out of range) are not dates.
func fromExcelSerial(serial float64) (time.Time, error) {
	if serial < 1 || serial > 200000 {
		return time.Time{}, fmt.Errorf("%w: serial %v", ErrUnparsableDate, serial)
	}
	days := int(serial)
	frac := serial - float64(days)
	t := excelEpoch.AddDate(0, 0, days)
	return t.Add(time.Duration(frac * float64(24*time.Hour))), nil
}

// parseQuantity reads a quantity cell, defaulting to one when the source
// omits it entirely.
func parseQuantity(raw string) decimal.Decimal {
	qty, err := parseAmount(raw)
	if err != nil || qty.Sign() <= 0 {
		return decimal.NewFromInt(1)
	}
	return qty
}

// accentReplacer folds the accented characters seen in legacy column names
// and values, so mapping tables can match on plain ASCII.
var accentReplacer = strings.NewReplacer(
	"á", "a", "à", "a", "â", "a", "ã", "a", "ä", "a",
	"é", "e", "ê", "e", "è", "e",
	"í", "i", "î", "i",
	"ó", "o", "ô", "o", "õ", "o", "ö", "o",
	"ú", "u", "û", "u", "ü", "u",
	"ç", "c",
)

// normalizeKey canonicalizes a column name for mapping-table lookup
func normalizeKey(name string) string {
	s := strings.ToLower(strings.TrimSpace(name))
	s = accentReplacer.Replace(s)
	s = strings.NewReplacer(" ", "", "_", "", "-", "", ".", "").Replace(s)
	return s
}
