package models

// VectorMetadata carries the context an embedding was produced in: where the
// text came from, chunking position, and the estimated cost of producing it.
// Instances are immutable; the With* methods derive copies.
type VectorMetadata struct {
	SourceTextLength int                    `json:"source_text_length"`
	ChunkIndex       *int                   `json:"chunk_index,omitempty"`
	TotalChunks      *int                   `json:"total_chunks,omitempty"`
	DocumentID       string                 `json:"document_id,omitempty"`
	CostCents        *int                   `json:"cost_cents,omitempty"`
	Custom           map[string]interface{} `json:"custom,omitempty"`
}

// NewVectorMetadata creates metadata for a plain (unchunked) source text.
func NewVectorMetadata(sourceText string) *VectorMetadata {
	return &VectorMetadata{SourceTextLength: len(sourceText)}
}

// NewChunkMetadata creates metadata for one chunk of a larger document.
func NewChunkMetadata(sourceText string, chunkIndex, totalChunks int, documentID string) *VectorMetadata {
	return &VectorMetadata{
		SourceTextLength: len(sourceText),
		ChunkIndex:       &chunkIndex,
		TotalChunks:      &totalChunks,
		DocumentID:       documentID,
	}
}

// IsChunk reports whether the metadata describes a chunk of a document.
func (m *VectorMetadata) IsChunk() bool {
	return m.ChunkIndex != nil && m.TotalChunks != nil
}

// IsLastChunk reports whether this is the final chunk of its document.
func (m *VectorMetadata) IsLastChunk() bool {
	return m.IsChunk() && *m.ChunkIndex == *m.TotalChunks-1
}

// WithCost returns a copy of the metadata with the estimated cost attached.
func (m *VectorMetadata) WithCost(costCents int) *VectorMetadata {
	out := m.clone()
	out.CostCents = &costCents
	return out
}

// WithDocumentID returns a copy of the metadata bound to a document.
func (m *VectorMetadata) WithDocumentID(documentID string) *VectorMetadata {
	out := m.clone()
	out.DocumentID = documentID
	return out
}

// WithCustom returns a copy of the metadata with an extra free-form property.
func (m *VectorMetadata) WithCustom(key string, value interface{}) *VectorMetadata {
	out := m.clone()
	out.Custom[key] = value
	return out
}

// CustomProperty returns a free-form property value, or nil when absent.
func (m *VectorMetadata) CustomProperty(key string) interface{} {
	if m.Custom == nil {
		return nil
	}
	return m.Custom[key]
}

func (m *VectorMetadata) clone() *VectorMetadata {
	out := *m
	out.Custom = make(map[string]interface{}, len(m.Custom)+1)
	for k, v := range m.Custom {
		out.Custom[k] = v
	}
	return &out
}
