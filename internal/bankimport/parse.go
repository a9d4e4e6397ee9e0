// Package bankimport reads bank statement exports (xlsx, xls or csv) into
// bank transactions.
package bankimport

import (
	"bytes"
	"crypto/sha256"
	"encoding/csv"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"VersotechFeeEngine/internal/model"

	"github.com/extrame/xls"
	"github.com/shopspring/decimal"
	"github.com/xuri/excelize/v2"
	"golang.org/x/text/encoding/charmap"
)

// headerScanRows bounds the search for the header row.
const headerScanRows = 20

const (
	FormatXLSX = "xlsx"
	FormatXLS  = "xls"
	FormatCSV  = "csv"
)

type column int

const (
	colDate column = iota
	colAmount
	colCredit
	colDebit
	colCurrency
	colCounterparty
	colMemo
	colAccount
	colReference
	colCount
)

// aliases maps normalised header text to a column.
var aliases = map[string]column{
	"date":               colDate,
	"value_date":         colDate,
	"transaction_date":   colDate,
	"txn_date":           colDate,
	"posting_date":       colDate,
	"booking_date":       colDate,
	"amount":             colAmount,
	"transaction_amount": colAmount,
	"credit":             colCredit,
	"deposit":            colCredit,
	"credit_amount":      colCredit,
	"debit":              colDebit,
	"withdrawal":         colDebit,
	"debit_amount":       colDebit,
	"currency":           colCurrency,
	"ccy":                colCurrency,
	"counterparty":       colCounterparty,
	"name":               colCounterparty,
	"sender":             colCounterparty,
	"payer":              colCounterparty,
	"remitter":           colCounterparty,
	"memo":               colMemo,
	"description":        colMemo,
	"narrative":          colMemo,
	"details":            colMemo,
	"remarks":            colMemo,
	"account":            colAccount,
	"account_ref":        colAccount,
	"account_number":     colAccount,
	"reference":          colReference,
	"transaction_id":     colReference,
	"bank_reference":     colReference,
	"ref":                colReference,
}

// ParsedRow is one accepted statement line.
type ParsedRow struct {
	Row           int
	ValueDate     time.Time
	Amount        decimal.Decimal
	Currency      string
	Counterparty  string
	Memo          string
	AccountRef    string
	BankReference string
}

type ParseResult struct {
	Format  string
	Rows    []ParsedRow
	Skipped int
	Errors  []model.ValidationError
}

var errNoHeader = errors.New("no header row with a date and an amount column in the first 20 rows")

func normalizeHeader(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	s = strings.TrimPrefix(s, "\ufeff")
	s = strings.Trim(s, ".:*")
	return strings.NewReplacer(" ", "_", "-", "_", "/", "_", ".", "").Replace(s)
}

func allEmptyRow(row []string) bool {
	for _, c := range row {
		if strings.TrimSpace(c) != "" {
			return false
		}
	}
	return true
}

// Parse reads the statement and maps its rows. Row-level problems are
// collected; only an unreadable file or a missing header fails the parse.
func Parse(data []byte, defaultCurrency string) (ParseResult, error) {
	rows, format, decimalComma, err := readTable(data)
	if err != nil {
		return ParseResult{}, err
	}
	res := ParseResult{Format: format}

	headerIdx, cols := findHeader(rows)
	if headerIdx < 0 {
		return res, fmt.Errorf("%w: %s", model.ErrValidation, errNoHeader.Error())
	}

	seen := map[string]int{}
	for i := headerIdx + 1; i < len(rows); i++ {
		row := rows[i]
		lineNo := i + 1
		if allEmptyRow(row) {
			continue
		}
		pr, skip, err := mapRow(row, cols, lineNo, defaultCurrency, decimalComma)
		if err != nil {
			var ve *model.ValidationError
			if errors.As(err, &ve) {
				res.Errors = append(res.Errors, *ve)
			} else {
				res.Errors = append(res.Errors, model.ValidationError{Row: lineNo, Reason: err.Error()})
			}
			continue
		}
		if skip {
			res.Skipped++
			continue
		}
		if pr.BankReference == "" {
			pr.BankReference = syntheticReference(pr, seen)
		}
		res.Rows = append(res.Rows, pr)
	}
	return res, nil
}

func findHeader(rows [][]string) (int, [colCount]int) {
	var cols [colCount]int
	for i := 0; i < len(rows) && i < headerScanRows; i++ {
		for c := range cols {
			cols[c] = -1
		}
		for j, cell := range rows[i] {
			col, ok := aliases[normalizeHeader(cell)]
			if ok && cols[col] < 0 {
				cols[col] = j
			}
		}
		hasAmount := cols[colAmount] >= 0 || cols[colCredit] >= 0 || cols[colDebit] >= 0
		if cols[colDate] >= 0 && hasAmount {
			return i, cols
		}
	}
	return -1, cols
}

func cell(row []string, idx int) string {
	if idx < 0 || idx >= len(row) {
		return ""
	}
	return strings.TrimSpace(row[idx])
}

func mapRow(row []string, cols [colCount]int, lineNo int, defaultCurrency string, decimalComma bool) (ParsedRow, bool, error) {
	pr := ParsedRow{
		Row:           lineNo,
		Counterparty:  cell(row, cols[colCounterparty]),
		Memo:          cell(row, cols[colMemo]),
		AccountRef:    cell(row, cols[colAccount]),
		BankReference: cell(row, cols[colReference]),
	}

	rawDate := cell(row, cols[colDate])
	if rawDate == "" {
		return pr, false, &model.ValidationError{Row: lineNo, Field: "date", Reason: "is empty"}
	}
	d, err := parseDate(rawDate)
	if err != nil {
		return pr, false, &model.ValidationError{Row: lineNo, Field: "date", Reason: err.Error()}
	}
	pr.ValueDate = d

	amount := decimal.Zero
	if raw := cell(row, cols[colAmount]); raw != "" {
		if amount, err = parseAmount(raw, decimalComma); err != nil {
			return pr, false, &model.ValidationError{Row: lineNo, Field: "amount", Reason: err.Error()}
		}
	} else {
		credit, debit := cell(row, cols[colCredit]), cell(row, cols[colDebit])
		if credit != "" {
			c, err := parseAmount(credit, decimalComma)
			if err != nil {
				return pr, false, &model.ValidationError{Row: lineNo, Field: "credit", Reason: err.Error()}
			}
			amount = amount.Add(c.Abs())
		}
		if debit != "" {
			dbt, err := parseAmount(debit, decimalComma)
			if err != nil {
				return pr, false, &model.ValidationError{Row: lineNo, Field: "debit", Reason: err.Error()}
			}
			amount = amount.Sub(dbt.Abs())
		}
	}
	if amount.IsZero() {
		return pr, true, nil
	}
	pr.Amount = model.RoundMoney(amount)

	pr.Currency = strings.ToUpper(cell(row, cols[colCurrency]))
	if pr.Currency == "" {
		pr.Currency = defaultCurrency
	}
	if len(pr.Currency) != 3 {
		return pr, false, &model.ValidationError{Row: lineNo, Field: "currency", Reason: fmt.Sprintf("%q is not an ISO 4217 code", pr.Currency)}
	}
	return pr, false, nil
}

// syntheticReference derives a stable reference for rows the bank left
// unreferenced. Identical rows in one file are told apart by occurrence.
func syntheticReference(pr ParsedRow, seen map[string]int) string {
	base := strings.Join([]string{
		pr.ValueDate.Format("2006-01-02"),
		pr.Amount.StringFixed(model.MoneyPlaces),
		pr.Currency,
		strings.ToLower(pr.Counterparty),
		strings.ToLower(pr.Memo),
	}, "|")
	seen[base]++
	sum := sha256.Sum256([]byte(base + "|" + strconv.Itoa(seen[base])))
	return "GEN-" + strings.ToUpper(hex.EncodeToString(sum[:12]))
}

var dateLayouts = []string{
	"2006-01-02", "2006/01/02", "2006.01.02",
	"02/01/2006", "2/1/2006", "02-01-2006", "02.01.2006", "02/01/06",
	"02-Jan-2006", "2-Jan-2006", "02-Jan-06", "02 Jan 2006", "2 Jan 2006",
	"Jan 2, 2006", "January 2, 2006",
	"2006-01-02 15:04:05", "2006-01-02T15:04:05", time.RFC3339,
	"02/01/2006 15:04:05", "02/01/2006 15:04",
}

// parseDate prefers ISO, then day-first layouts, then Excel serial numbers.
func parseDate(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return model.Day(t), nil
		}
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil && f > 1 && f < 200000 {
		days := int(f)
		// Excel counts a phantom 1900-02-29
		if days > 59 {
			days--
		}
		return model.Day(time.Date(1899, 12, 31, 0, 0, 0, 0, time.UTC).AddDate(0, 0, days)), nil
	}
	return time.Time{}, fmt.Errorf("could not parse date %q", s)
}

// parseAmount accepts thousands separators, currency symbols and codes, a
// leading or trailing minus, parentheses, and CR/DR suffixes. decimalComma
// marks a ';' delimited export, where ',' is the expected decimal separator.
func parseAmount(s string, decimalComma bool) (decimal.Decimal, error) {
	raw := s
	s = strings.TrimSpace(strings.ToUpper(s))
	negative := false

	switch {
	case strings.HasSuffix(s, "DR"):
		negative = true
		s = strings.TrimSuffix(s, "DR")
	case strings.HasSuffix(s, "CR"):
		s = strings.TrimSuffix(s, "CR")
	}
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "(") && strings.HasSuffix(s, ")") {
		negative = !negative
		s = strings.TrimSuffix(strings.TrimPrefix(s, "("), ")")
	}

	var b strings.Builder
	for _, r := range s {
		switch {
		case r >= '0' && r <= '9', r == '.', r == ',':
			b.WriteRune(r)
		case r == '-':
			negative = !negative
		case r == ' ', r == '\u00a0', r == '\'', r == '+':
		case r >= 'A' && r <= 'Z', strings.ContainsRune("$€£¥₹", r):
		default:
			return decimal.Zero, fmt.Errorf("invalid amount %q", raw)
		}
	}
	num, err := normalizeSeparators(b.String(), decimalComma)
	if err != nil {
		return decimal.Zero, fmt.Errorf("invalid amount %q: %w", raw, err)
	}
	d, err := decimal.NewFromString(num)
	if err != nil {
		return decimal.Zero, fmt.Errorf("invalid amount %q", raw)
	}
	if negative {
		d = d.Neg()
	}
	return d, nil
}

// normalizeSeparators rewrites digits with '.' and ',' into a plain decimal
// literal. When both marks occur the last one is the decimal separator. A
// lone mark followed by one or two digits is decimal; followed by three it is
// a thousands separator only if the export dialect says so, otherwise the
// value is ambiguous.
func normalizeSeparators(s string, decimalComma bool) (string, error) {
	if s == "" {
		return "", errors.New("no digits")
	}
	thousands := ','
	if decimalComma {
		thousands = '.'
	}

	lastDot, lastComma := strings.LastIndexByte(s, '.'), strings.LastIndexByte(s, ',')
	var dec rune
	switch {
	case lastDot >= 0 && lastComma >= 0:
		dec = '.'
		if lastComma > lastDot {
			dec = ','
		}
		if strings.Count(s, string(dec)) > 1 {
			return "", errors.New("repeated decimal separator")
		}
	case lastDot >= 0 || lastComma >= 0:
		sep := '.'
		if lastComma >= 0 {
			sep = ','
		}
		idx := strings.LastIndexByte(s, byte(sep))
		tail := len(s) - idx - 1
		switch {
		case strings.Count(s, string(sep)) > 1:
			// only grouping repeats
		case tail == 1 || tail == 2:
			dec = sep
		case tail == 3 && sep == thousands:
		case tail == 3:
			return "", fmt.Errorf("ambiguous separator %q", sep)
		case tail > 3 && sep != thousands:
			dec = sep
		default:
			return "", fmt.Errorf("misplaced separator %q", sep)
		}
	}

	intPart, frac := s, ""
	if dec != 0 {
		i := strings.LastIndexByte(s, byte(dec))
		intPart, frac = s[:i], s[i+1:]
		if frac == "" {
			return "", errors.New("no digits after the decimal separator")
		}
	}
	groups := strings.FieldsFunc(intPart, func(r rune) bool { return r == '.' || r == ',' })
	if len(groups) > 1 {
		if strings.ContainsRune(intPart, dec) || strings.Count(intPart, ",")*strings.Count(intPart, ".") != 0 {
			return "", errors.New("mixed grouping separators")
		}
		for i, g := range groups {
			if (i == 0 && (len(g) == 0 || len(g) > 3)) || (i > 0 && len(g) != 3) {
				return "", errors.New("malformed digit grouping")
			}
		}
	}
	if intPart != "" && len(groups) == 0 {
		return "", errors.New("no digits before the decimal separator")
	}
	lit := strings.Join(groups, "")
	if lit == "" {
		lit = "0"
	}
	if frac != "" {
		lit += "." + frac
	}
	return lit, nil
}

var oleMagic = []byte{0xD0, 0xCF, 0x11, 0xE0, 0xA1, 0xB1, 0x1A, 0xE1}

// readTable tries xlsx, then legacy xls, then csv.
// A semicolon-delimited csv reports decimalComma.
func readTable(data []byte) (rows [][]string, format string, decimalComma bool, err error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, "", false, model.Invalid("file", "is empty")
	}
	if xl, err := excelize.OpenReader(bytes.NewReader(data)); err == nil {
		defer xl.Close()
		rows, err := xl.GetRows(xl.GetSheetName(0))
		if err != nil {
			return nil, FormatXLSX, false, fmt.Errorf("read xlsx rows: %w", err)
		}
		return rows, FormatXLSX, false, nil
	}
	if bytes.HasPrefix(data, oleMagic) {
		rows, err := readXLS(data)
		if err != nil {
			return nil, FormatXLS, false, err
		}
		return rows, FormatXLS, false, nil
	}
	rows, decimalComma, err = readCSV(data)
	if err != nil {
		return nil, FormatCSV, false, err
	}
	return rows, FormatCSV, decimalComma, nil
}

func readXLS(data []byte) ([][]string, error) {
	wb, err := xls.OpenReader(bytes.NewReader(data), "utf-8")
	if err != nil {
		return nil, fmt.Errorf("open xls: %w", err)
	}
	sheet := wb.GetSheet(0)
	if sheet == nil {
		return nil, errors.New("xls workbook has no sheets")
	}
	var rows [][]string
	for i := 0; i <= int(sheet.MaxRow); i++ {
		row := sheet.Row(i)
		if row == nil {
			rows = append(rows, nil)
			continue
		}
		vals := make([]string, 0, row.LastCol()+1)
		for j := 0; j <= row.LastCol(); j++ {
			vals = append(vals, row.Col(j))
		}
		rows = append(rows, vals)
	}
	return rows, nil
}

// readCSV decodes Windows-1252 exports when the bytes are not valid UTF-8 and
// picks ';' as the separator when it dominates the first line.
func readCSV(data []byte) ([][]string, bool, error) {
	data = bytes.TrimPrefix(data, []byte("\xef\xbb\xbf"))
	if !utf8.Valid(data) {
		decoded, err := charmap.Windows1252.NewDecoder().Bytes(data)
		if err != nil {
			return nil, false, fmt.Errorf("decode windows-1252: %w", err)
		}
		data = decoded
	}
	first := data
	if i := bytes.IndexByte(data, '\n'); i >= 0 {
		first = data[:i]
	}
	r := csv.NewReader(bytes.NewReader(data))
	r.FieldsPerRecord = -1
	r.LazyQuotes = true
	r.TrimLeadingSpace = true
	semicolon := bytes.Count(first, []byte(";")) > bytes.Count(first, []byte(","))
	if semicolon {
		r.Comma = ';'
	}
	var rows [][]string
	for {
		rec, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, false, fmt.Errorf("%w: csv: %s", model.ErrValidation, err.Error())
		}
		rows = append(rows, rec)
	}
	return rows, semicolon, nil
}
