package ingest

import (
	"bufio"
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"unicode/utf8"

	"golang.org/x/text/encoding/charmap"
)

var ErrEmptyCSV = errors.New("ingest: csv file is empty")

// csvSniffLimit bounds how much of the file is inspected for encoding and
// delimiter detection.
const csvSniffLimit = 4096

// ReadCSV loads a CSV upload into raw string rows, header included, in the
// same shape ReadSpreadsheet produces. Legacy ERP exports arrive with a
// UTF-8 BOM, in windows-1252, or semicolon delimited; all three are detected
// rather than configured.
func ReadCSV(r io.Reader) ([][]string, error) {
	buf := bufio.NewReader(r)

	head, err := buf.Peek(csvSniffLimit)
	if err != nil && err != io.EOF {
		return nil, fmt.Errorf("ingest: reading csv: %w", err)
	}
	if len(head) == 0 {
		return nil, ErrEmptyCSV
	}

	windowFull := len(head) == csvSniffLimit

	if bytes.HasPrefix(head, []byte{0xEF, 0xBB, 0xBF}) {
		_, _ = buf.Discard(3)
		head = head[3:]
	}

	sniff := head
	if windowFull {
		// a multi-byte rune can straddle the sniff window; drop the partial
		// tail so the truncation is not misread as a bad encoding
		sniff = trimPartialRune(sniff)
	}

	var source io.Reader = buf
	if !utf8.Valid(sniff) {
		// Not UTF-8: assume the windows-1252 the legacy tooling writes
		source = charmap.Windows1252.NewDecoder().Reader(buf)
	}

	reader := csv.NewReader(source)
	reader.Comma = sniffDelimiter(head)
	reader.LazyQuotes = true
	reader.TrimLeadingSpace = true
	reader.FieldsPerRecord = -1

	rows, err := reader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("ingest: parsing csv: %w", err)
	}
	if len(rows) == 0 {
		return nil, ErrEmptyCSV
	}
	return rows, nil
}

// trimPartialRune cuts an incomplete trailing UTF-8 sequence off b.
func trimPartialRune(b []byte) []byte {
	start := len(b)
	for start > 0 && len(b)-start < utf8.UTFMax && !utf8.RuneStart(b[start-1]) {
		start--
	}
	if start == 0 {
		return b
	}
	start--
	if !utf8.FullRune(b[start:]) {
		return b[:start]
	}
	return b
}

// sniffDelimiter picks the delimiter by counting candidates on the first
// line. Brazilian spreadsheet tools export semicolon-separated files because
// the decimal comma occupies the comma.
func sniffDelimiter(head []byte) rune {
	line := head
	if i := bytes.IndexByte(head, '\n'); i >= 0 {
		line = head[:i]
	}
	if bytes.Count(line, []byte{';'}) > bytes.Count(line, []byte{','}) {
		return ';'
	}
	return ','
}
