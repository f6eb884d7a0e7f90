package searcher

import (
	"context"
	"strings"
	"sync"
	"unicode"

	"github.com/dshills/catalog-mcp/internal/embedder"
	"github.com/dshills/catalog-mcp/internal/storage"
	"github.com/dshills/catalog-mcp/pkg/types"
)

// Query is a single search invocation shared by every tier. Embeddings are
// memoized per text, failures included, so a provider that is down is
// called at most once per text per search.
type Query struct {
	Kind     types.EntityKind
	Text     string
	Expanded string
	Params   types.SearchParams
	Filters  *storage.Filters
	Limit    int

	emb  embedder.Embedder
	mu   sync.Mutex
	memo map[string]embedResult
}

type embedResult struct {
	vector []float32
	err    error
}

// NewQuery creates a query bound to an embedder. emb may be nil, in which
// case every embedding lookup fails with ErrEmbeddingUnavailable.
func NewQuery(kind types.EntityKind, text string, params types.SearchParams, emb embedder.Embedder) *Query {
	return &Query{
		Kind:   kind,
		Text:   strings.TrimSpace(text),
		Params: params,
		emb:    emb,
		memo:   make(map[string]embedResult),
	}
}

// SearchText is the expanded text when expansion produced one
func (q *Query) SearchText() string {
	if q.Expanded != "" {
		return q.Expanded
	}
	return q.Text
}

// Embed returns the embedding of text, calling the provider at most once.
// Failures caused by ctx ending are not remembered.
func (q *Query) Embed(ctx context.Context, text string) ([]float32, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if r, ok := q.memo[text]; ok {
		return r.vector, r.err
	}
	vec, err := embedder.Vector(ctx, q.emb, text)
	if err != nil && ctx.Err() != nil {
		// a cancelled tier must not poison the next one
		return nil, err
	}
	q.memo[text] = embedResult{vector: vec, err: err}
	return vec, err
}

// Vocab is the closed vocabulary of entity types used to find the head term
type Vocab struct {
	// Heads are single-word type names, e.g. "bàn" or "chair"
	Heads []string
	// Phrases map multi-word type names onto their head word. A matched
	// phrase is consumed entirely and contributes no secondary words.
	Phrases map[string]string
}

// DefaultVocab returns the furniture vocabulary for products and the raw
// material vocabulary for materials
func DefaultVocab(kind types.EntityKind) Vocab {
	if kind == types.KindMaterial {
		return Vocab{
			Heads: []string{
				"gỗ", "đá", "da", "vải", "kính", "inox", "thép", "nhôm", "sơn", "nệm", "mút",
				"wood", "stone", "leather", "fabric", "glass", "steel", "aluminium", "paint", "foam",
			},
			Phrases: map[string]string{
				"kim loại": "kim loại",
				"phụ kiện": "phụ kiện",
			},
		}
	}
	return Vocab{
		Heads: []string{
			"bàn", "ghế", "tủ", "giường", "sofa", "kệ", "đèn", "gương",
			"table", "chair", "cabinet", "bed", "shelf", "lamp", "mirror",
		},
		Phrases: map[string]string{
			"bàn làm việc":   "bàn",
			"bàn ăn":         "bàn",
			"bàn trà":        "bàn",
			"bàn trang điểm": "bàn",
			"ghế sofa":       "sofa",
			"ghế ăn":         "ghế",
			"ghế văn phòng":  "ghế",
			"tủ quần áo":     "tủ",
			"tủ bếp":         "tủ",
			"kệ sách":        "kệ",
			"giường ngủ":     "giường",
			"dining table":   "table",
			"coffee table":   "table",
			"office chair":   "chair",
		},
	}
}

// Split is a query broken into its required head term and the remaining
// descriptive words
type Split struct {
	Head      string
	Phrase    string // matched type phrase, if any
	Secondary []string
	Tokens    []string
}

// HasSecondary reports whether any descriptive words remain
func (s Split) HasSecondary() bool {
	return len(s.Secondary) > 0
}

// Tokenize lowercases text, replaces punctuation with spaces, and drops
// tokens shorter than two runes
func Tokenize(text string) []string {
	cleaned := strings.Map(func(r rune) rune {
		if unicode.IsPunct(r) || unicode.IsSymbol(r) {
			return ' '
		}
		return unicode.ToLower(r)
	}, text)

	var tokens []string
	for _, f := range strings.Fields(cleaned) {
		if len([]rune(f)) >= 2 {
			tokens = append(tokens, f)
		}
	}
	return tokens
}

// SplitQuery finds the head term of text. The longest type phrase wins,
// then the earliest vocabulary word, then the first token.
func SplitQuery(text string, vocab Vocab) Split {
	tokens := Tokenize(text)
	split := Split{Tokens: tokens}
	if len(tokens) == 0 {
		return split
	}

	rest := tokens
	if phrase, start, n := longestPhrase(tokens, vocab.Phrases); n > 0 {
		split.Phrase = phrase
		split.Head = vocab.Phrases[phrase]
		rest = make([]string, 0, len(tokens)-n)
		rest = append(rest, tokens[:start]...)
		rest = append(rest, tokens[start+n:]...)
	} else {
		split.Head = firstHead(tokens, vocab.Heads)
		if split.Head == "" {
			split.Head = tokens[0]
		}
	}

	headWords := strings.Fields(split.Head)
	for _, t := range rest {
		if !contains(headWords, t) {
			split.Secondary = append(split.Secondary, t)
		}
	}
	return split
}

func longestPhrase(tokens []string, phrases map[string]string) (string, int, int) {
	var (
		best      string
		bestStart int
		bestLen   int
	)
	for phrase := range phrases {
		words := strings.Fields(phrase)
		if len(words) < bestLen {
			continue
		}
		start := indexOfRun(tokens, words)
		if start < 0 || (len(words) == bestLen && start >= bestStart) {
			continue
		}
		best, bestStart, bestLen = phrase, start, len(words)
	}
	return best, bestStart, bestLen
}

// indexOfRun returns the first index where words occur contiguously in tokens
func indexOfRun(tokens, words []string) int {
	for i := 0; i+len(words) <= len(tokens); i++ {
		match := true
		for j, w := range words {
			if tokens[i+j] != w {
				match = false
				break
			}
		}
		if match {
			return i
		}
	}
	return -1
}

func firstHead(tokens, heads []string) string {
	for _, t := range tokens {
		if contains(heads, t) {
			return t
		}
	}
	return ""
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
