// Package embedding ranks and prunes retrieved text by semantic
// similarity to a query, with a lexical fallback for when no embedding
// backend is reachable.
package embedding

import (
	"context"
	"fmt"
	"log"
	"math"
	"sort"
	"strings"
	"sync"
)

const (
	// Dim is the vector size produced by the sentence embedding model.
	Dim = 384
	// MaxSeqLength caps how many whitespace tokens are sent per input.
	MaxSeqLength = 256
	// minParagraphChars filters out fragments too short to carry meaning.
	minParagraphChars = 20
)

// Backend produces raw embedding vectors for a batch of texts.
type Backend interface {
	Embed(ctx context.Context, model string, texts []string) ([][]float32, error)
}

// Embedder wraps a Backend with input truncation, dimension checking
// and normalization. Inference calls are serialized.
type Embedder struct {
	backend Backend
	model   string

	mu     sync.Mutex
	logger *log.Logger
}

// New returns an Embedder using the given backend and model name.
func New(backend Backend, model string) *Embedder {
	return &Embedder{
		backend: backend,
		model:   model,
		logger:  log.New(log.Writer(), "[EMBED] ", log.LstdFlags),
	}
}

// truncate keeps at most MaxSeqLength whitespace tokens.
func truncate(text string) string {
	fields := strings.Fields(text)
	if len(fields) <= MaxSeqLength {
		return text
	}
	return strings.Join(fields[:MaxSeqLength], " ")
}

// Embed returns the L2-normalized vector for text.
func (e *Embedder) Embed(ctx context.Context, text string) ([]float32, error) {
	vecs, err := e.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

// EmbedBatch embeds several texts in one backend call.
func (e *Embedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	inputs := make([]string, len(texts))
	for i, t := range texts {
		inputs[i] = truncate(t)
	}
	vecs, err := e.backend.Embed(ctx, e.model, inputs)
	if err != nil {
		return nil, fmt.Errorf("embedding %d texts: %w", len(texts), err)
	}
	if len(vecs) != len(texts) {
		return nil, fmt.Errorf("embedding backend returned %d vectors for %d inputs", len(vecs), len(texts))
	}
	for i, v := range vecs {
		if len(v) != Dim {
			return nil, fmt.Errorf("embedding %d has dimension %d, expected %d", i, len(v), Dim)
		}
		normalize(v)
	}
	return vecs, nil
}

func normalize(v []float32) {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	norm := math.Sqrt(sum)
	if norm == 0 {
		return
	}
	for i := range v {
		v[i] = float32(float64(v[i]) / norm)
	}
}

// CosineSimilarity returns the cosine of the angle between a and b, or
// 0 when the vectors are empty, mismatched or zero.
func CosineSimilarity(a, b []float32) float32 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return float32(dot / (math.Sqrt(normA) * math.Sqrt(normB)))
}

// Ranked pairs a document index with its similarity score.
type Ranked struct {
	Index int     `json:"index"`
	Score float32 `json:"score"`
}

// RankByRelevance scores each document against the query, highest
// first. A document that fails to embed scores zero rather than
// aborting the ranking.
func (e *Embedder) RankByRelevance(ctx context.Context, query string, docs []string) ([]Ranked, error) {
	if len(docs) == 0 {
		return nil, nil
	}
	queryVec, err := e.Embed(ctx, query)
	if err != nil {
		return nil, err
	}

	out := make([]Ranked, 0, len(docs))
	for i, doc := range docs {
		vec, err := e.Embed(ctx, doc)
		if err != nil {
			e.logger.Printf("embedding document %d failed, scoring zero: %v", i, err)
			out = append(out, Ranked{Index: i})
			continue
		}
		out = append(out, Ranked{Index: i, Score: CosineSimilarity(queryVec, vec)})
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Score > out[j].Score })
	return out, nil
}

type scoredParagraph struct {
	index int
	text  string
	score float32
}

// PruneContext keeps only the paragraphs of context most relevant to
// query, within a whitespace-token budget, preserving original order.
func (e *Embedder) PruneContext(ctx context.Context, query, context_ string, maxTokens int, minScore float32) (string, error) {
	paragraphs := splitParagraphs(context_)
	if len(paragraphs) == 0 {
		return context_, nil
	}

	queryVec, err := e.Embed(ctx, query)
	if err != nil {
		return "", err
	}

	scored := make([]scoredParagraph, 0, len(paragraphs))
	for _, p := range paragraphs {
		vec, err := e.Embed(ctx, p.text)
		if err != nil {
			e.logger.Printf("embedding paragraph failed, skipping: %v", err)
			continue
		}
		score := CosineSimilarity(queryVec, vec)
		if score < minScore {
			continue
		}
		scored = append(scored, scoredParagraph{index: p.index, text: p.text, score: score})
	}
	return assemble(scored, maxTokens), nil
}

// PruneContextBM25 is the lexical variant of PruneContext: paragraphs
// are scored by log-damped query-term frequency instead of embeddings.
func PruneContextBM25(query, context_ string, maxTokens int) string {
	paragraphs := splitParagraphs(context_)
	if len(paragraphs) == 0 {
		return context_
	}

	// Zero scores stay in: with no term overlap anywhere the context
	// is still kept, trimmed to the budget.
	terms := queryTerms(query)
	scored := make([]scoredParagraph, 0, len(paragraphs))
	for _, p := range paragraphs {
		scored = append(scored, scoredParagraph{index: p.index, text: p.text, score: bm25Score(terms, p.text)})
	}
	return assemble(scored, maxTokens)
}

type paragraph struct {
	index int
	text  string
}

func splitParagraphs(context_ string) []paragraph {
	var out []paragraph
	for i, chunk := range strings.Split(context_, "\n\n") {
		trimmed := strings.TrimSpace(chunk)
		if len(trimmed) > minParagraphChars {
			out = append(out, paragraph{index: i, text: trimmed})
		}
	}
	return out
}

// assemble takes scored paragraphs in score order until one would
// overflow the token budget, then re-joins the survivors in their
// original order. Selection stops at the first overflow so a kept
// paragraph is never outranked by one that was cut. When nothing fits
// the budget the single best paragraph is kept anyway.
func assemble(scored []scoredParagraph, maxTokens int) string {
	sort.SliceStable(scored, func(i, j int) bool { return scored[i].score > scored[j].score })

	var accepted []scoredParagraph
	total := 0
	for _, p := range scored {
		tokens := len(strings.Fields(p.text))
		if total+tokens > maxTokens && len(accepted) > 0 {
			break
		}
		accepted = append(accepted, p)
		total += tokens
	}

	sort.SliceStable(accepted, func(i, j int) bool { return accepted[i].index < accepted[j].index })
	parts := make([]string, len(accepted))
	for i, p := range accepted {
		parts[i] = p.text
	}
	return strings.Join(parts, "\n\n")
}

// queryTerms lowercases and keeps tokens longer than two runes.
func queryTerms(query string) []string {
	var out []string
	for _, f := range strings.Fields(strings.ToLower(query)) {
		if len([]rune(f)) > 2 {
			out = append(out, f)
		}
	}
	return out
}

func bm25Score(terms []string, text string) float32 {
	if len(terms) == 0 {
		return 0
	}
	lower := strings.ToLower(text)
	weight := 1.0 / float64(1+len(terms))
	var score float64
	for _, term := range terms {
		count := strings.Count(lower, term)
		if count > 0 {
			score += (1 + math.Log(float64(count))) * weight
		}
	}
	return float32(score)
}
