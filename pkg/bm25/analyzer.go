package bm25

import (
	"regexp"
	"strings"

	"github.com/blevesearch/go-porterstemmer"
)

// Analyzer tokenizes raw text into the terms a BM25 index scores
// against. Collections select an analyzer by name in their BM25Config;
// new analyzers are added to the registry below.
type Analyzer interface {
	Tokenize(text string) []string
}

var tokenPattern = regexp.MustCompile(`[^a-zA-Z0-9]+`)

func splitNonAlphanumeric(text string) []string {
	var tokens []string
	for _, raw := range tokenPattern.Split(strings.ToLower(text), -1) {
		if raw != "" {
			tokens = append(tokens, raw)
		}
	}
	return tokens
}

// DefaultAnalyzer splits on runs of non-alphanumeric characters and
// lowercases, matching original_source's Analyzer::tokenize exactly.
type DefaultAnalyzer struct{}

func (DefaultAnalyzer) Tokenize(text string) []string {
	return splitNonAlphanumeric(text)
}

// EnglishAnalyzer runs DefaultAnalyzer's split, then applies the
// Porter stemming algorithm to each token via
// github.com/blevesearch/go-porterstemmer — the same stemmer the
// teacher pulls in transitively through bleve, used here directly.
type EnglishAnalyzer struct{}

func (EnglishAnalyzer) Tokenize(text string) []string {
	tokens := splitNonAlphanumeric(text)
	out := make([]string, len(tokens))
	for i, tok := range tokens {
		out[i] = porterstemmer.StemString(tok)
	}
	return out
}

// arabicSuffixes are stripped (longest match first) before the light
// stemming pass, covering the common enclitic/possessive suffix set.
var arabicSuffixes = []string{"هما", "كما", "نا", "كم", "هم", "ها", "ني", "ه", "ي", "ك"}

const arabicDefiniteArticle = "ال"

// ArabicAnalyzer is a light stemmer: strip the definite article
// prefix "ال" and a small suffix set. No Arabic stemming library
// appears anywhere in the retrieved pack, so this is hand-rolled per
// original_source's arabic analyzer (see DESIGN.md).
type ArabicAnalyzer struct{}

func (ArabicAnalyzer) Tokenize(text string) []string {
	var tokens []string
	for _, word := range strings.Fields(text) {
		tokens = append(tokens, arabicLightStem(word))
	}
	return tokens
}

func arabicLightStem(word string) string {
	runes := []rune(word)
	prefix := []rune(arabicDefiniteArticle)
	if len(runes) > len(prefix) && string(runes[:len(prefix)]) == arabicDefiniteArticle {
		runes = runes[len(prefix):]
	}
	for _, suffix := range arabicSuffixes {
		sfx := []rune(suffix)
		if len(runes) > len(sfx)+1 && string(runes[len(runes)-len(sfx):]) == suffix {
			runes = runes[:len(runes)-len(sfx)]
			break
		}
	}
	return string(runes)
}

// analyzers is the name -> Analyzer registry collections select from
// via BM25Config.Analyzer.
var analyzers = map[string]Analyzer{
	"default": DefaultAnalyzer{},
	"english": EnglishAnalyzer{},
	"arabic":  ArabicAnalyzer{},
}

// Resolve looks up a registered analyzer by name, defaulting to
// DefaultAnalyzer for an empty name.
func Resolve(name string) Analyzer {
	if name == "" {
		return DefaultAnalyzer{}
	}
	if a, ok := analyzers[name]; ok {
		return a
	}
	return DefaultAnalyzer{}
}
