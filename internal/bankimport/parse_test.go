package bankimport

import (
	"strings"
	"testing"
	"time"

	"VersotechFeeEngine/internal/model"

	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
)

const statementCSV = `Statement for account 0042
Generated 2024-04-30
Value Date,Amount,Currency,Sender,Description,Reference
15/04/2024,"10,000.00",usd,ACME CAPITAL PARTNERS,INV-DEAL1-20240401-AAAAAA,BR-1
16/04/2024,0.00,USD,Bank,interest adj,BR-2
notadate,12.00,USD,Someone,,BR-3
2024-04-17,(250.00),,Wire Fee,charges,
2024-04-17,(250.00),,Wire Fee,charges,
`

func TestParseCSV(t *testing.T) {
	res, err := Parse([]byte(statementCSV), "USD")
	require.NoError(t, err)
	require.Equal(t, FormatCSV, res.Format)
	require.Equal(t, 1, res.Skipped)
	require.Len(t, res.Errors, 1)
	require.Equal(t, "date", res.Errors[0].Field)
	require.Equal(t, 6, res.Errors[0].Row)

	require.Len(t, res.Rows, 3)
	first := res.Rows[0]
	require.Equal(t, time.Date(2024, 4, 15, 0, 0, 0, 0, time.UTC), first.ValueDate)
	require.Equal(t, "10000", first.Amount.String())
	require.Equal(t, "USD", first.Currency)
	require.Equal(t, "ACME CAPITAL PARTNERS", first.Counterparty)
	require.Equal(t, "INV-DEAL1-20240401-AAAAAA", first.Memo)
	require.Equal(t, "BR-1", first.BankReference)

	// identical unreferenced rows get distinct stable references
	a, b := res.Rows[1], res.Rows[2]
	require.Equal(t, "-250", a.Amount.String())
	require.True(t, strings.HasPrefix(a.BankReference, "GEN-"))
	require.NotEqual(t, a.BankReference, b.BankReference)

	again, err := Parse([]byte(statementCSV), "USD")
	require.NoError(t, err)
	require.Equal(t, a.BankReference, again.Rows[1].BankReference)
}

func TestParseSemicolonCreditDebit(t *testing.T) {
	data := "Booking Date;Details;Debit;Credit;Account\n" +
		"01.04.2024;subscription fee;;500.00;ACC-9\n" +
		"02.04.2024;charge;25.00;;ACC-9\n"
	res, err := Parse([]byte(data), "EUR")
	require.NoError(t, err)
	require.Len(t, res.Rows, 2)
	require.Equal(t, "500", res.Rows[0].Amount.String())
	require.Equal(t, "EUR", res.Rows[0].Currency)
	require.Equal(t, "ACC-9", res.Rows[0].AccountRef)
	require.Equal(t, "-25", res.Rows[1].Amount.String())
}

func TestParseWindows1252(t *testing.T) {
	data := []byte("date,amount,counterparty\n2024-04-01,100,Soci\xe9t\xe9 G\xe9n\xe9rale\n")
	res, err := Parse(data, "USD")
	require.NoError(t, err)
	require.Len(t, res.Rows, 1)
	require.Equal(t, "Société Générale", res.Rows[0].Counterparty)
}

func TestParseXLSX(t *testing.T) {
	f := excelize.NewFile()
	sheet := f.GetSheetName(0)
	require.NoError(t, f.SetSheetRow(sheet, "A1", &[]interface{}{"Transaction Date", "Amount", "Name", "Reference"}))
	require.NoError(t, f.SetSheetRow(sheet, "A2", &[]interface{}{"2024-04-15", "1,500.25", "Beta LP", "X-77"}))
	buf, err := f.WriteToBuffer()
	require.NoError(t, err)

	res, err := Parse(buf.Bytes(), "USD")
	require.NoError(t, err)
	require.Equal(t, FormatXLSX, res.Format)
	require.Len(t, res.Rows, 1)
	require.Equal(t, "1500.25", res.Rows[0].Amount.String())
	require.Equal(t, "X-77", res.Rows[0].BankReference)
}

func TestParseWithoutHeader(t *testing.T) {
	_, err := Parse([]byte("foo,bar\n1,2\n"), "USD")
	require.ErrorIs(t, err, model.ErrValidation)

	_, err = Parse([]byte("   "), "USD")
	require.ErrorIs(t, err, model.ErrValidation)
}

func TestParseAmount(t *testing.T) {
	cases := []struct {
		in           string
		decimalComma bool
		want         string
	}{
		{"1,234.50", false, "1234.5"},
		{"(1,250.00)", false, "-1250"},
		{"1,250.00 DR", false, "-1250"},
		{"980.10 CR", false, "980.1"},
		{"€ 99.5", false, "99.5"},
		{"USD 12", false, "12"},
		{"12-", false, "-12"},
		{"-3 000", false, "-3000"},
		{"1,234", false, "1234"},
		{"1,234,567.89", false, "1234567.89"},
		{"1.234,56", false, "1234.56"},
		{"100,50", false, "100.5"},
		{"1.234,56", true, "1234.56"},
		{"100,50", true, "100.5"},
		{"1.234", true, "1234"},
		{"1.234.567,8", true, "1234567.8"},
		{"-12,5 €", true, "-12.5"},
		{"25.00", true, "25"},
	}
	for _, tc := range cases {
		got, err := parseAmount(tc.in, tc.decimalComma)
		require.NoError(t, err, tc.in)
		require.Equal(t, tc.want, got.String(), tc.in)
	}

	bad := []struct {
		in           string
		decimalComma bool
	}{
		{"abc", false},
		{"", false},
		{"1.2.3", false},
		{"12#", false},
		{"1.234", false},
		{"1,234", true},
		{"1.234,5,6", false},
		{"12,34,567", false},
		{"1.", false},
	}
	for _, tc := range bad {
		_, err := parseAmount(tc.in, tc.decimalComma)
		require.Error(t, err, tc.in)
	}
}

func TestParseSemicolonDecimalComma(t *testing.T) {
	data := "Value Date;Amount;Currency;Counterparty;Memo\n" +
		"15.04.2024;1.234,56;EUR;Acme Holding GmbH;INV-1\n" +
		"16.04.2024;100,50;EUR;Beta SA;INV-2\n" +
		"17.04.2024;1,234;EUR;Gamma AG;INV-3\n"
	res, err := Parse([]byte(data), "EUR")
	require.NoError(t, err)
	require.Len(t, res.Rows, 2)
	require.Equal(t, "1234.56", res.Rows[0].Amount.String())
	require.Equal(t, "100.5", res.Rows[1].Amount.String())
	require.Len(t, res.Errors, 1)
	require.Equal(t, "amount", res.Errors[0].Field)
	require.Equal(t, 4, res.Errors[0].Row)
}

func TestParseDate(t *testing.T) {
	want := time.Date(2024, 4, 15, 0, 0, 0, 0, time.UTC)
	for _, in := range []string{"2024-04-15", "15/04/2024", "15-Apr-2024", "45397", "2024-04-15T10:30:00"} {
		got, err := parseDate(in)
		require.NoError(t, err, in)
		require.Equal(t, want, got, in)
	}
	_, err := parseDate("April-ish")
	require.Error(t, err)
}
