package core

// ContentFamily selects an extraction strategy for a source unit.
type ContentFamily string

const (
	// FamilyOffice covers structured office documents handled by docconv
	// (PDF, DOCX, ODT, RTF, HTML and friends).
	FamilyOffice ContentFamily = "office"

	// FamilyText covers plain text, markup, and source code that passes
	// through extraction largely unchanged.
	FamilyText ContentFamily = "text"

	// FamilyTabular covers CSV/TSV/JSONL exports serialised row-by-row with
	// inlined column headers.
	FamilyTabular ContentFamily = "tabular"

	// FamilyUnknown means no extractor applies; the unit is skipped.
	FamilyUnknown ContentFamily = "unknown"
)

// SourceUnit is one discrete input to extraction: an uploaded file, a file
// from a repository checkout, or one exported row batch. The payload is
// transient and discarded once chunks are emitted.
type SourceUnit struct {
	// Origin is the unit's identifier within its context: a filename, a
	// repo-relative path, or "table[batch]".
	Origin string

	// ContentType is the detected or declared MIME type, may be empty.
	ContentType string

	// Data is the raw payload handed to the extractor.
	Data []byte
}

// StructMeta carries the structural metadata recovered during extraction.
type StructMeta struct {
	Title    string
	Author   string
	Subject  string
	Language string // programming or natural language hint, e.g. "go", "markdown"
	Table    bool   // unit contains serialised tabular data
	Section  string // table/schema name for tabular units
}

// Extraction is the Content Extractor's output for one source unit.
type Extraction struct {
	Text string
	Meta StructMeta
}

// ChunkDraft is a chunk as produced by the chunker, before it is assigned a
// persistent identity by the orchestrator.
type ChunkDraft struct {
	// Position is the zero-based ordinal within the source unit.
	Position int

	Text string

	// Section is the heading or structural unit the chunk came from.
	Section string

	// Table flags chunks that carry serialised table rows.
	Table bool

	// Language is the detected content language, inherited from extraction.
	Language string

	// Strategy is the chunking strategy that produced this chunk.
	Strategy string

	// Oversized marks a single atomic structural unit larger than the
	// configured maximum that was deliberately not split mid-structure.
	Oversized bool

	// TokenEstimate is the approximate token count used for budgeting.
	TokenEstimate int
}

// Entry pairs a chunk's identity with its vector inside a context index.
type Entry struct {
	ChunkID  string
	Position int
	Source   string
	Text     string
	Vector   []float32
	Meta     ChunkMeta
}

// ChunkMeta is the denormalised chunk metadata kept alongside each vector so
// retrieval never needs a second lookup.
type ChunkMeta struct {
	Section   string `json:"section,omitempty"`
	Table     bool   `json:"table,omitempty"`
	Language  string `json:"language,omitempty"`
	Strategy  string `json:"strategy,omitempty"`
	Oversized bool   `json:"oversized,omitempty"`
}

// Match is one similarity search hit, ordered by descending score.
type Match struct {
	ChunkID string
	Score   float32 // cosine similarity in [0,1]
	Source  string
	Text    string
	Meta    ChunkMeta
}
