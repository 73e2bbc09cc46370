package analyze

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"log/slog"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/sync/errgroup"

	"github.com/edupipe/edupipe/internal/content"
	"github.com/edupipe/edupipe/internal/retry"
)

// maxEmbedRunes bounds the text handed to the embedding service. Longer
// text is split into equal rune chunks whose vectors are averaged, so
// truncation is deterministic.
const maxEmbedRunes = 8000

// ContentEmbedder is the slice of the embedding client the analyzer needs.
type ContentEmbedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Analyzer enriches content records in place: keywords, difficulty and
// grade levels, and an embedding vector.
type Analyzer struct {
	embedder ContentEmbedder
	cache    *lru.Cache[string, []float32]
	policy   retry.Policy
	log      *slog.Logger
	now      func() time.Time
}

func New(embedder ContentEmbedder, cacheSize int, log *slog.Logger) (*Analyzer, error) {
	if cacheSize <= 0 {
		cacheSize = 10000
	}
	cache, err := lru.New[string, []float32](cacheSize)
	if err != nil {
		return nil, err
	}
	if log == nil {
		log = slog.Default()
	}
	return &Analyzer{
		embedder: embedder,
		cache:    cache,
		policy:   retry.DefaultPolicy(),
		log:      log,
		now:      time.Now,
	}, nil
}

// Analyze fills the record's derived fields. Classification never fails;
// a persistently unreachable embedding service leaves Embedding nil and
// the record is still forwarded, to be indexed keyword-only downstream.
func (a *Analyzer) Analyze(ctx context.Context, rec *content.Record) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	rec.Keywords = ExtractKeywords(rec.Title, rec.Description)
	rec.DifficultyLevel, rec.GradeLevel = InferDifficulty(rec.Title, rec.Description, rec.Subject, rec.AgeGroup)

	vec, err := a.embedText(ctx, rec.CombinedText())
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return err
		}
		a.log.Warn("embedding failed, record will be keyword-searchable only",
			"id", rec.ID, "error", err)
		rec.Embedding = nil
	} else {
		rec.Embedding = vec
	}

	rec.UpdatedAt = a.now().UTC()
	return nil
}

// AnalyzeAll runs Analyze over the records with bounded concurrency.
// Per-record embedding failures are absorbed by Analyze; only
// cancellation stops the batch.
func (a *Analyzer) AnalyzeAll(ctx context.Context, recs []*content.Record, workers int) error {
	if workers <= 0 {
		workers = 3
	}
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for _, rec := range recs {
		g.Go(func() error {
			return a.Analyze(ctx, rec)
		})
	}
	return g.Wait()
}

// EmbedQuery embeds free-form query text with the same truncation rules
// applied to records, so query and record vectors stay comparable.
func (a *Analyzer) EmbedQuery(ctx context.Context, query string) ([]float32, error) {
	return a.embedText(ctx, query)
}

func (a *Analyzer) embedText(ctx context.Context, text string) ([]float32, error) {
	if text == "" {
		return nil, errors.New("empty text")
	}

	key := cacheKey(text)
	if vec, ok := a.cache.Get(key); ok {
		return vec, nil
	}

	chunks := splitRunes(text, maxEmbedRunes)
	vectors := make([][]float32, 0, len(chunks))
	for _, chunk := range chunks {
		vec, err := retry.Do(ctx, a.policy, func() ([]float32, error) {
			return a.embedder.Embed(ctx, chunk)
		})
		if err != nil {
			return nil, err
		}
		vectors = append(vectors, vec)
	}

	vec := averageVectors(vectors)
	a.cache.Add(key, vec)
	return vec, nil
}

func cacheKey(text string) string {
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:])
}

// splitRunes cuts text into equal-size rune chunks no longer than max.
func splitRunes(text string, max int) []string {
	runes := []rune(text)
	if len(runes) <= max {
		return []string{text}
	}

	n := (len(runes) + max - 1) / max
	size := (len(runes) + n - 1) / n
	chunks := make([]string, 0, n)
	for start := 0; start < len(runes); start += size {
		end := start + size
		if end > len(runes) {
			end = len(runes)
		}
		chunks = append(chunks, string(runes[start:end]))
	}
	return chunks
}

func averageVectors(vectors [][]float32) []float32 {
	if len(vectors) == 1 {
		return vectors[0]
	}
	out := make([]float32, len(vectors[0]))
	for _, vec := range vectors {
		for i := range out {
			if i < len(vec) {
				out[i] += vec[i]
			}
		}
	}
	for i := range out {
		out[i] /= float32(len(vectors))
	}
	return out
}
