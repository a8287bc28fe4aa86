package services

import (
	"strings"
	"sync"

	"github.com/pkoukk/tiktoken-go"
	tiktoken_loader "github.com/pkoukk/tiktoken-go-loader"
	"github.com/sirupsen/logrus"
)

const (
	budgetEncoding = "cl100k_base"
	// Rough characters-per-token ratio used when no encoding is available.
	runesPerToken = 4
)

type tokenizer interface {
	Encode(text string) []int
	Decode(tokens []int) string
}

type tiktokenizer struct {
	enc *tiktoken.Tiktoken
}

func (t tiktokenizer) Encode(text string) []int {
	return t.enc.Encode(text, nil, nil)
}

func (t tiktokenizer) Decode(tokens []int) string {
	return t.enc.Decode(tokens)
}

var useOfflineBPE sync.Once

// TextBudget caps the document text embedded in prompts.
type TextBudget struct {
	maxTokens int
	enc       tokenizer
}

// NewTextBudget loads the cl100k_base encoding from the ranks embedded in the
// binary, so no download happens. When it cannot be loaded the budget
// estimates tokens from rune counts instead.
func NewTextBudget(maxTokens int, log logrus.FieldLogger) *TextBudget {
	useOfflineBPE.Do(func() {
		tiktoken.SetBpeLoader(tiktoken_loader.NewOfflineLoader())
	})
	enc, err := tiktoken.GetEncoding(budgetEncoding)
	if err != nil {
		if log != nil {
			log.WithError(err).Warn("token encoding unavailable, estimating from characters")
		}
		return &TextBudget{maxTokens: maxTokens}
	}
	return &TextBudget{maxTokens: maxTokens, enc: tiktokenizer{enc: enc}}
}

// Count returns the number of tokens in text.
func (b *TextBudget) Count(text string) int {
	if b.enc != nil {
		return len(b.enc.Encode(text))
	}
	runes := len([]rune(text))
	return (runes + runesPerToken - 1) / runesPerToken
}

// Truncate shortens text to fit the budget and reports whether it did.
// A non-positive budget disables truncation.
func (b *TextBudget) Truncate(text string) (string, bool) {
	if b == nil || b.maxTokens <= 0 {
		return text, false
	}
	if b.enc != nil {
		tokens := b.enc.Encode(text)
		if len(tokens) <= b.maxTokens {
			return text, false
		}
		// Tokens are byte-level, so the cut can split a multi-byte rune.
		return strings.ToValidUTF8(b.enc.Decode(tokens[:b.maxTokens]), ""), true
	}
	runes := []rune(text)
	limit := b.maxTokens * runesPerToken
	if len(runes) <= limit {
		return text, false
	}
	return string(runes[:limit]), true
}
