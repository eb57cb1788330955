package rag

import (
	"fmt"
	"sync"

	"github.com/pkoukk/tiktoken-go"
	"go.uber.org/zap"
)

// Tokenizer counts tokens for chunk sizing.
type Tokenizer interface {
	CountTokens(text string) int
}

// TiktokenTokenizer counts tokens with a tiktoken encoding. The encoding
// data is fetched lazily on first use; failures fall back to a character
// estimate so ingestion never blocks on the download.
type TiktokenTokenizer struct {
	encoding string
	enc      *tiktoken.Tiktoken
	once     sync.Once
	initErr  error
	logger   *zap.Logger
}

// NewTiktokenTokenizer creates a tokenizer for the given encoding name,
// e.g. "cl100k_base" or "o200k_base".
func NewTiktokenTokenizer(encoding string, logger *zap.Logger) *TiktokenTokenizer {
	if encoding == "" {
		encoding = "cl100k_base"
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &TiktokenTokenizer{
		encoding: encoding,
		logger:   logger.With(zap.String("component", "tokenizer")),
	}
}

func (t *TiktokenTokenizer) init() error {
	t.once.Do(func() {
		enc, err := tiktoken.GetEncoding(t.encoding)
		if err != nil {
			t.initErr = fmt.Errorf("init tiktoken encoding %s: %w", t.encoding, err)
			return
		}
		t.enc = enc
	})
	return t.initErr
}

// CountTokens returns the token count, estimating when the encoding is
// unavailable.
func (t *TiktokenTokenizer) CountTokens(text string) int {
	if err := t.init(); err != nil {
		t.logger.Warn("tiktoken unavailable, falling back to estimate", zap.Error(err))
		return estimateTokens(text)
	}
	return len(t.enc.Encode(text, nil, nil))
}

// EstimatorTokenizer approximates token counts without encoding data.
type EstimatorTokenizer struct{}

func (EstimatorTokenizer) CountTokens(text string) int {
	return estimateTokens(text)
}

// estimateTokens approximates one token per four bytes, minimum one for
// non-empty text.
func estimateTokens(text string) int {
	if len(text) == 0 {
		return 0
	}
	n := len(text) / 4
	if n == 0 {
		return 1
	}
	return n
}
