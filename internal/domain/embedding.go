package domain

import "time"

// Embedding is a vector for one chunk of a ContentItem.
// Records are never mutated; a reindex replaces them wholesale.
type Embedding struct {
	ID         int64     `json:"id"          db:"id"`
	ContentID  int64     `json:"content_id"  db:"content_id"`
	Variant    Variant   `json:"variant"     db:"variant"`
	ChunkIndex int       `json:"chunk_index" db:"chunk_index"`
	Vector     []float32 `json:"-"           db:"vector"`
	CreatedAt  time.Time `json:"created_at"  db:"created_at"`
}

// SimilarEmbedding is returned by similarity search, including the score.
type SimilarEmbedding struct {
	Embedding
	Similarity float64 `json:"similarity"`
}

// IndexStats summarises the embedding index.
type IndexStats struct {
	Total        int     `json:"totalEmbeddings"`
	Course       int     `json:"courseEmbeddings"`
	Forum        int     `json:"forumEmbeddings"`
	AvgQueryTime float64 `json:"avgQueryTime"` // seconds
	Dimension    int     `json:"dimension"`
}
