package sqlitedb

import (
	"context"
	"encoding/binary"
	"fmt"
	"math"
	"sort"

	"github.com/hyperengineering/migrant/internal/engine"
)

// packEmbedding/unpackEmbedding use a fixed little-endian float32 byte
// layout so a stored embedding can be read back exactly regardless of
// which process wrote it.
func packEmbedding(v []float32) []byte {
	buf := make([]byte, len(v)*4)
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return buf
}

func unpackEmbedding(b []byte) []float32 {
	v := make([]float32, len(b)/4)
	for i := range v {
		v[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*4:]))
	}
	return v
}

func cosineSimilarity(a, b []float32) float32 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, normA, normB float32
	for i := range a {
		dot += a[i] * b[i]
		normA += a[i] * a[i]
		normB += b[i] * b[i]
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (float32(math.Sqrt(float64(normA))) * float32(math.Sqrt(float64(normB))))
}

// SetEmbedding stores an embedding vector for a record, keyed by id.
// Embedding ingestion is engine-specific and outside the wrapper's
// query DSL, so this lives on the concrete engine rather than
// engine.Table; migrant's backfill/dual-write paths never call it.
func (t *table[M]) SetEmbedding(ctx context.Context, id string, embedding []float32) error {
	_, err := t.db.ExecContext(ctx, fmt.Sprintf(`UPDATE %s SET embedding = ? WHERE id = ?`, t.name), packEmbedding(embedding), id)
	return err
}

type scored struct {
	row   dbRow
	score float32
}

func (t *table[M]) FindSimilar(ctx context.Context, embedding []float32, field string, maxResults int) ([]M, error) {
	rows, err := t.scanCandidates(ctx, engine.Always())
	if err != nil {
		return nil, err
	}
	var ranked []scored
	for _, r := range rows {
		if len(r.embedding) == 0 {
			continue
		}
		ranked = append(ranked, scored{row: r, score: cosineSimilarity(embedding, unpackEmbedding(r.embedding))})
	}
	sort.SliceStable(ranked, func(i, j int) bool { return ranked[i].score > ranked[j].score })
	if maxResults > 0 && len(ranked) > maxResults {
		ranked = ranked[:maxResults]
	}
	out := make([]M, 0, len(ranked))
	for _, s := range ranked {
		m, err := decodeModel[M](s.row.raw)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, nil
}

// FindSimilarSparse is not supported by the brute-force cosine index;
// sqlitedb only carries dense embeddings.
func (t *table[M]) FindSimilarSparse(ctx context.Context, terms map[string]float32, field string, maxResults int) ([]M, error) {
	return nil, engine.ErrUnsupported
}
