package matching

import (
	"fmt"
	"math"
	"strings"
	"unicode"

	"VersotechFeeEngine/internal/model"

	"github.com/agnivade/levenshtein"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// Config holds the matcher weights and thresholds.
type Config struct {
	AmountWeight       float64
	CounterpartyWeight float64
	DateWeight         float64
	ReferenceBonus     float64
	HighThreshold      float64
	LowThreshold       float64
	// AmountTolerance is the relative difference at which the amount
	// signal reaches zero.
	AmountTolerance float64
	DateWindowDays  int
	DateGraceDays   int
	MaxSuggestions  int
}

func DefaultConfig() Config {
	return Config{
		AmountWeight:       0.60,
		CounterpartyWeight: 0.25,
		DateWeight:         0.15,
		ReferenceBonus:     0.10,
		HighThreshold:      0.85,
		LowThreshold:       0.50,
		AmountTolerance:    0.05,
		DateWindowDays:     45,
		DateGraceDays:      7,
		MaxSuggestions:     5,
	}
}

// minNameSimilarity is the floor below which names are treated as unrelated.
const minNameSimilarity = 0.4

// Candidate is one scored (transaction, invoice) pair.
type Candidate struct {
	Invoice      model.Invoice
	InvestorName string
	Amount       float64
	Counterparty float64
	Date         float64
	Reference    bool
	Confidence   float64
}

// Reason renders the signal breakdown stored on suggestions.
func (c Candidate) Reason() string {
	r := fmt.Sprintf("amount=%.2f counterparty=%.2f date=%.2f", c.Amount, c.Counterparty, c.Date)
	if c.Reference {
		r += " reference"
	}
	return r
}

// Score combines the independent signals for one pair.
func Score(cfg Config, txn model.BankTransaction, inv model.Invoice, investorName string) Candidate {
	c := Candidate{Invoice: inv, InvestorName: investorName}
	c.Amount = amountSignal(cfg, txn, inv)
	c.Counterparty = NameSimilarity(txn.Counterparty, investorName)
	c.Date = dateSignal(cfg, txn, inv)
	c.Reference = referenceHit(txn, inv)

	conf := cfg.AmountWeight*c.Amount + cfg.CounterpartyWeight*c.Counterparty + cfg.DateWeight*c.Date
	if c.Reference {
		conf += cfg.ReferenceBonus
	}
	// an exact amount in the invoice currency is decisive on its own
	if c.Amount == 1 && strings.EqualFold(txn.Currency, inv.Currency) {
		conf = math.Max(conf, cfg.HighThreshold)
	}
	c.Confidence = clamp(conf)
	return c
}

func clamp(v float64) float64 {
	return math.Max(0, math.Min(1, v))
}

func amountSignal(cfg Config, txn model.BankTransaction, inv model.Invoice) float64 {
	if !inv.BalanceDue.IsPositive() {
		return 0
	}
	abs := txn.AbsAmount()
	if abs.Equal(inv.BalanceDue) {
		return 1
	}
	rel, _ := abs.Sub(inv.BalanceDue).Abs().Div(inv.BalanceDue).Float64()
	if cfg.AmountTolerance <= 0 || rel >= cfg.AmountTolerance {
		return 0
	}
	return 1 - rel/cfg.AmountTolerance
}

func dateSignal(cfg Config, txn model.BankTransaction, inv model.Invoice) float64 {
	grace := cfg.DateGraceDays
	from := model.Day(inv.IssueDate).AddDate(0, 0, -grace)
	to := model.Day(inv.DueDate).AddDate(0, 0, grace)
	d := model.Day(txn.ValueDate)

	var outside float64
	switch {
	case d.Before(from):
		outside = from.Sub(d).Hours() / 24
	case d.After(to):
		outside = d.Sub(to).Hours() / 24
	default:
		return 1
	}
	if cfg.DateWindowDays <= 0 {
		return 0
	}
	return math.Max(0, 1-outside/float64(cfg.DateWindowDays))
}

func alnum(s string) string {
	var b strings.Builder
	for _, r := range strings.ToUpper(s) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(r)
		}
	}
	return b.String()
}

func referenceHit(txn model.BankTransaction, inv model.Invoice) bool {
	num := alnum(inv.InvoiceNumber)
	if num == "" {
		return false
	}
	return strings.Contains(alnum(txn.Memo), num) || strings.Contains(alnum(txn.BankReference), num)
}

var legalSuffixes = map[string]bool{
	"ltd": true, "limited": true, "llc": true, "inc": true, "incorporated": true,
	"corp": true, "corporation": true, "co": true, "company": true, "plc": true,
	"gmbh": true, "ag": true, "sa": true, "sarl": true, "bv": true, "nv": true,
	"lp": true, "llp": true, "pte": true, "pty": true, "srl": true, "spa": true,
	"the": true,
}

var stripMarks = transform.Chain(norm.NFKD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)

// normalizeName folds a party name to lower-case ASCII-ish tokens with
// diacritics, punctuation and legal-form suffixes removed.
func normalizeName(s string) []string {
	folded, _, err := transform.String(stripMarks, s)
	if err != nil {
		folded = s
	}
	folded = strings.ToLower(folded)
	var b strings.Builder
	for _, r := range folded {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(r)
		} else {
			b.WriteRune(' ')
		}
	}
	var tokens []string
	for _, tok := range strings.Fields(b.String()) {
		if !legalSuffixes[tok] {
			tokens = append(tokens, tok)
		}
	}
	return tokens
}

// NameSimilarity scores how much free-text counterparty resembles a legal
// name: containment scores 1, otherwise the better of token overlap and
// edit-distance similarity, dropped to 0 below a floor.
func NameSimilarity(counterparty, legalName string) float64 {
	a, b := normalizeName(counterparty), normalizeName(legalName)
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	as, bs := strings.Join(a, " "), strings.Join(b, " ")
	if strings.Contains(" "+as+" ", " "+bs+" ") || strings.Contains(" "+bs+" ", " "+as+" ") {
		return 1
	}

	set := map[string]bool{}
	for _, t := range a {
		set[t] = true
	}
	inter, union := 0, len(set)
	seen := map[string]bool{}
	for _, t := range b {
		if seen[t] {
			continue
		}
		seen[t] = true
		if set[t] {
			inter++
		} else {
			union++
		}
	}
	jaccard := float64(inter) / float64(union)

	ra, rb := []rune(as), []rune(bs)
	maxLen := len(ra)
	if len(rb) > maxLen {
		maxLen = len(rb)
	}
	edit := 1 - float64(levenshtein.ComputeDistance(as, bs))/float64(maxLen)

	sim := math.Max(jaccard, edit)
	if sim < minNameSimilarity {
		return 0
	}
	return sim
}
