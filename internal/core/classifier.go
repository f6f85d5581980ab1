package core

import (
	"math"
	"strings"
	"unicode"
	"unicode/utf8"

	"streamagency.io/mode-router/internal/store"
)

// Classification is the outcome of keyword-based mode detection.
type Classification struct {
	Mode       store.Mode `json:"mode"`
	Confidence float64    `json:"confidence"`
}

var (
	handoffKeywords = []string{
		"atendente humano", "atendimento humano", "falar com humano", "falar com um humano",
		"falar com atendente", "falar com um atendente", "falar com uma pessoa", "falar com alguém",
		"pessoa real", "quero um humano", "suporte humano", "operador humano",
	}

	salesKeywords = []string{
		"quanto custa", "preço", "valor", "plano", "assinar", "assinatura", "comprar",
		"contratar", "pacote", "desconto", "promoção", "mensalidade", "pagamento", "orçamento",
	}

	supportKeywords = []string{
		"problema", "erro", "ajuda", "não consigo", "nao consigo", "dúvida", "duvida",
		"como faço", "como funciona", "não funciona", "travou", "senha", "login", "acesso",
	}

	financialTutorKeywords = []string{
		"cpa-10", "cpa-20", "cpa 10", "cpa 20", "cea", "anbima", "certificação", "certificacao",
		"simulado", "renda fixa", "renda variável", "tesouro direto", "fundos de investimento",
		"previdência", "cdb",
	}

	marketingKeywords = []string{
		"divulgação", "divulgar", "instagram", "tiktok", "youtube", "redes sociais",
		"engajamento", "seguidores", "campanha", "parceria", "influenciador",
	}
)

const defaultConfidence = 0.5

// Keywords up to this many runes only match as whole words, so "cea" does
// not fire on "ceará" nor "erro" on "terror".
const shortKeywordRunes = 4

// Classify maps a message to a mode. Keyword sets are checked in strict
// priority order: handoff, sales (two hits needed), support, financial tutor,
// marketing, then the support fallback.
func Classify(text string) Classification {
	lower := strings.ToLower(text)

	if countMatches(lower, handoffKeywords) > 0 {
		return Classification{Mode: store.ModeHandoffHuman, Confidence: 0.95}
	}
	if n := countMatches(lower, salesKeywords); n >= 2 {
		return Classification{Mode: store.ModeSales, Confidence: confidence(0.6, 0.1, n, 0.9)}
	}
	if n := countMatches(lower, supportKeywords); n >= 1 {
		return Classification{Mode: store.ModeSupport, Confidence: confidence(0.5, 0.15, n, 0.85)}
	}
	if n := countMatches(lower, financialTutorKeywords); n >= 1 {
		return Classification{Mode: store.ModeFinancialTutor, Confidence: confidence(0.7, 0.1, n, 0.95)}
	}
	if countMatches(lower, marketingKeywords) > 0 {
		return Classification{Mode: store.ModeMarketing, Confidence: 0.7}
	}
	return Classification{Mode: store.ModeSupport, Confidence: defaultConfidence}
}

func countMatches(text string, keywords []string) int {
	if text == "" {
		return 0
	}
	n := 0
	for _, kw := range keywords {
		if matchKeyword(text, kw) {
			n++
		}
	}
	return n
}

func matchKeyword(text, kw string) bool {
	if utf8.RuneCountInString(kw) > shortKeywordRunes {
		return strings.Contains(text, kw)
	}
	for offset := 0; offset < len(text); {
		i := strings.Index(text[offset:], kw)
		if i < 0 {
			return false
		}
		start := offset + i
		end := start + len(kw)
		before, _ := utf8.DecodeLastRuneInString(text[:start])
		after, _ := utf8.DecodeRuneInString(text[end:])
		if !isWordRune(before) && !isWordRune(after) {
			return true
		}
		offset = start + 1
	}
	return false
}

// isWordRune reports false for utf8.RuneError, which is what the decoders
// return at either end of the text.
func isWordRune(r rune) bool {
	return r != utf8.RuneError && (unicode.IsLetter(r) || unicode.IsDigit(r))
}

// confidence returns min(ceiling, base + step*hits), rounded to two decimals
// so repeated float addition never leaks past the ceiling.
func confidence(base, step float64, hits int, ceiling float64) float64 {
	c := math.Round((base+step*float64(hits))*100) / 100
	return math.Min(ceiling, c)
}
