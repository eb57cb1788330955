package rag

import (
	"strings"

	"go.uber.org/zap"

	"github.com/BaSui01/medflow/config"
	"github.com/BaSui01/medflow/types"
)

// Chunker splits document text into overlapping token windows aligned to
// sentence boundaries. Chunk IDs derive from (document, offset range), so
// chunking the same text twice yields identical IDs.
type Chunker struct {
	cfg    config.IngestConfig
	tok    Tokenizer
	logger *zap.Logger
}

// NewChunker creates a chunker.
func NewChunker(cfg config.IngestConfig, tok Tokenizer, logger *zap.Logger) *Chunker {
	if cfg.ChunkTokens <= 0 {
		cfg.ChunkTokens = 512
	}
	if cfg.OverlapTokens < 0 || cfg.OverlapTokens >= cfg.ChunkTokens {
		cfg.OverlapTokens = cfg.ChunkTokens / 10
	}
	if tok == nil {
		tok = EstimatorTokenizer{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Chunker{
		cfg:    cfg,
		tok:    tok,
		logger: logger.With(zap.String("component", "chunker")),
	}
}

// span is a half-open byte range of one sentence, including the whitespace
// that follows it. Spans are contiguous: each starts where the previous ends.
type span struct {
	start, end int
	tokens     int
}

// Chunk splits text into chunks for the given document and namespace.
// Every byte of the document is covered by at least one chunk; adjacent
// chunks share roughly the configured token overlap.
func (c *Chunker) Chunk(documentID, namespace, text string) []types.Chunk {
	if strings.TrimSpace(text) == "" {
		return nil
	}

	spans := c.sentenceSpans(text)
	if len(spans) == 0 {
		return nil
	}

	var chunks []types.Chunk
	start := 0
	for start < len(spans) {
		end := start
		tokens := 0
		for end < len(spans) {
			next := tokens + spans[end].tokens
			if end > start && next > c.cfg.ChunkTokens {
				break
			}
			tokens = next
			end++
		}

		offset := types.OffsetRange{Start: spans[start].start, End: spans[end-1].end}
		chunkText := text[offset.Start:offset.End]
		chunks = append(chunks, types.Chunk{
			ID:         types.ChunkID(documentID, offset),
			DocumentID: documentID,
			Namespace:  namespace,
			Text:       chunkText,
			Offset:     offset,
			TokenCount: tokens,
		})

		if end >= len(spans) {
			break
		}
		start = c.overlapStart(spans, start, end)
	}

	c.logger.Debug("document chunked",
		zap.String("document_id", documentID),
		zap.String("namespace", namespace),
		zap.Int("chunks", len(chunks)))

	return chunks
}

// overlapStart picks the first sentence of the next window: back up from
// end until the trailing sentences reach the overlap budget, always
// advancing past the previous window's start.
func (c *Chunker) overlapStart(spans []span, prevStart, end int) int {
	start := end
	tokens := 0
	for start > prevStart+1 {
		tokens += spans[start-1].tokens
		if tokens > c.cfg.OverlapTokens {
			break
		}
		start--
	}
	if start <= prevStart {
		start = prevStart + 1
	}
	return start
}

// sentenceSpans splits text into contiguous sentence spans. A sentence
// longer than the chunk budget is hard-split at whitespace so any single
// span fits a window.
func (c *Chunker) sentenceSpans(text string) []span {
	bounds := sentenceBoundaries(text)

	var spans []span
	prev := 0
	for _, b := range bounds {
		for _, piece := range c.hardSplit(text, prev, b) {
			spans = append(spans, piece)
		}
		prev = b
	}
	return spans
}

// sentenceBoundaries returns end offsets of sentences, always ending with
// len(text). A boundary follows '.', '!', '?', or a newline, once any
// trailing whitespace is consumed.
func sentenceBoundaries(text string) []int {
	var bounds []int
	n := len(text)
	for i := 0; i < n; i++ {
		ch := text[i]
		if ch != '.' && ch != '!' && ch != '?' && ch != '\n' {
			continue
		}
		j := i + 1
		for j < n && (text[j] == ' ' || text[j] == '\t' || text[j] == '\n' || text[j] == '\r') {
			j++
		}
		if j > i+1 || ch == '\n' {
			bounds = append(bounds, j)
			i = j - 1
		}
	}
	if len(bounds) == 0 || bounds[len(bounds)-1] != n {
		bounds = append(bounds, n)
	}
	return bounds
}

// hardSplit breaks text[start:end] into spans no larger than the chunk
// budget, splitting at whitespace where possible.
func (c *Chunker) hardSplit(text string, start, end int) []span {
	piece := text[start:end]
	tokens := c.tok.CountTokens(piece)
	if tokens <= c.cfg.ChunkTokens {
		if end > start {
			return []span{{start: start, end: end, tokens: tokens}}
		}
		return nil
	}

	// budget in bytes, approximated from the observed token density
	budget := (end - start) * c.cfg.ChunkTokens / tokens
	if budget < 1 {
		budget = 1
	}

	var spans []span
	for pos := start; pos < end; {
		cut := pos + budget
		if cut >= end {
			cut = end
		} else {
			ws := strings.LastIndexByte(text[pos:cut], ' ')
			if ws > 0 {
				cut = pos + ws + 1
			}
		}
		spans = append(spans, span{
			start:  pos,
			end:    cut,
			tokens: c.tok.CountTokens(text[pos:cut]),
		})
		pos = cut
	}
	return spans
}
