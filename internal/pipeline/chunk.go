package pipeline

import "unicode/utf8"

// Chunking bounds: a chunk closes when adding the next unit would exceed the
// character budget, or when it reaches the unit cap. The budget counts runes
// so multi-byte scripts chunk the same as ASCII.
const (
	chunkCharBudget = 3000
	chunkMaxUnits   = 50
)

// Chunk is a contiguous run of dialogue units, identified by half-open unit
// index bounds.
type Chunk struct {
	Start int
	End   int
}

// BuildChunks partitions unit texts into ordered, non-overlapping chunks.
func BuildChunks(texts []string) []Chunk {
	var chunks []Chunk
	start := 0
	chars := 0
	for i, text := range texts {
		size := utf8.RuneCountInString(text)
		if i > start && (chars+size > chunkCharBudget || i-start >= chunkMaxUnits) {
			chunks = append(chunks, Chunk{Start: start, End: i})
			start = i
			chars = 0
		}
		chars += size
	}
	if start < len(texts) {
		chunks = append(chunks, Chunk{Start: start, End: len(texts)})
	}
	return chunks
}
