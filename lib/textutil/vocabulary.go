package textutil

import (
	"strings"
)

// Vocabulary is an immutable set of lower-cased keywords.
type Vocabulary struct {
	terms []string
}

// NewVocabulary copies terms, lower-cases them and drops blanks and
// repeats.
func NewVocabulary(terms ...string) Vocabulary {
	seen := map[string]bool{}
	out := make([]string, 0, len(terms))
	for _, t := range terms {
		t = strings.ToLower(strings.TrimSpace(t))
		if t == "" || seen[t] {
			continue
		}
		seen[t] = true
		out = append(out, t)
	}
	return Vocabulary{terms: out}
}

// Terms returns a copy of the keywords.
func (v Vocabulary) Terms() []string {
	out := make([]string, len(v.terms))
	copy(out, v.terms)
	return out
}

func (v Vocabulary) Len() int {
	return len(v.terms)
}

// Matches reports whether text contains any keyword, ignoring case. An
// empty vocabulary matches nothing.
func (v Vocabulary) Matches(text string) bool {
	lowered := strings.ToLower(text)
	for _, t := range v.terms {
		if strings.Contains(lowered, t) {
			return true
		}
	}
	return false
}

// InvestmentVocabulary is the default polish/english investing keyword list.
func InvestmentVocabulary() Vocabulary {
	return NewVocabulary(
		"akcje", "giełda", "inwestor", "inwestycja", "notowania",
		"kurs", "spółka", "fundusz", "dividenda", "dividend",
		"ticker", "share", "stock", "earnings", "IPO",
		"wykres", "trading", "broker", "forex", "crypto",
		"bitcoin", "ethereum", "altcoin",
		"price", "market", "buy", "sell", "hold",
		"portfolio", "wallet", "exchange", "mining", "blockchain",
		"cena", "rynek", "kupić", "sprzedać", "trzymać",
		"portfel", "portfel kryptowalut", "giełda kryptowalut", "kopanie",
	)
}
