package storage

import (
	"container/heap"
	"encoding/binary"
	"fmt"
	"math"
)

// encodeVector packs a float32 vector as little-endian bytes.
func encodeVector(vec []float32) []byte {
	buf := make([]byte, 4*len(vec))
	for i, v := range vec {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(v))
	}
	return buf
}

func decodeVector(blob []byte) ([]float32, error) {
	if len(blob)%4 != 0 {
		return nil, fmt.Errorf("embedding blob length %d not a multiple of 4", len(blob))
	}
	vec := make([]float32, len(blob)/4)
	for i := range vec {
		vec[i] = math.Float32frombits(binary.LittleEndian.Uint32(blob[i*4:]))
	}
	return vec, nil
}

func vectorNorm(vec []float32) float64 {
	var sum float64
	for _, v := range vec {
		sum += float64(v) * float64(v)
	}
	return math.Sqrt(sum)
}

// cosine computes cosine similarity given the precomputed query norm.
func cosine(query, candidate []float32, queryNorm float64) float32 {
	n := len(query)
	if len(candidate) < n {
		n = len(candidate)
	}
	var dot, candNorm float64
	for i := 0; i < n; i++ {
		dot += float64(query[i]) * float64(candidate[i])
	}
	for _, v := range candidate {
		candNorm += float64(v) * float64(v)
	}
	if candNorm == 0 {
		return 0
	}
	return float32(dot / (queryNorm * math.Sqrt(candNorm)))
}

type idScore struct {
	id    string
	score float32
}

// idScoreHeap is a min-heap on score, so the root is the weakest of the
// current top-K and cheap to evict.
type idScoreHeap []idScore

func (h idScoreHeap) Len() int            { return len(h) }
func (h idScoreHeap) Less(i, j int) bool  { return h[i].score < h[j].score }
func (h idScoreHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *idScoreHeap) Push(x any)         { *h = append(*h, x.(idScore)) }
func (h *idScoreHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}

// SearchByVector performs brute-force cosine similarity over the stored
// embeddings and returns the top-K records, best first. Records without
// an embedding never match.
func (s *Store) SearchByVector(query []float32, topK int) ([]ScoredRecord, error) {
	if topK <= 0 || len(query) == 0 {
		return nil, nil
	}
	queryNorm := vectorNorm(query)
	if queryNorm == 0 {
		return nil, nil
	}

	rows, err := s.db.Query(`SELECT id, embedding FROM content_records WHERE embedding IS NOT NULL`)
	if err != nil {
		return nil, fmt.Errorf("querying embeddings: %w", err)
	}
	defer rows.Close()

	h := &idScoreHeap{}
	heap.Init(h)
	for rows.Next() {
		var id string
		var blob []byte
		if err := rows.Scan(&id, &blob); err != nil {
			return nil, err
		}
		vec, err := decodeVector(blob)
		if err != nil {
			return nil, fmt.Errorf("decoding embedding for %s: %w", id, err)
		}
		score := cosine(query, vec, queryNorm)
		if h.Len() < topK {
			heap.Push(h, idScore{id: id, score: score})
		} else if score > (*h)[0].score {
			(*h)[0] = idScore{id: id, score: score}
			heap.Fix(h, 0)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if h.Len() == 0 {
		return nil, nil
	}

	// Popping the min-heap yields ascending scores; fill back to front.
	results := make([]ScoredRecord, h.Len())
	for i := len(results) - 1; i >= 0; i-- {
		item := heap.Pop(h).(idScore)
		rec, err := s.GetContentRecord(item.id)
		if err != nil {
			return nil, err
		}
		results[i] = ScoredRecord{Record: rec, Score: item.score}
	}
	return results, nil
}
