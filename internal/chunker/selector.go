package chunker

import "studyforge/internal/models"

// Select deterministically picks count chunks spread evenly across the whole
// sequence, preserving original order. When count meets or exceeds the number
// of chunks, every chunk is selected. The result never aliases the input.
func Select(chunks []models.Chunk, count int) []models.Chunk {
	if count <= 0 || len(chunks) == 0 {
		return nil
	}
	if count >= len(chunks) {
		return append([]models.Chunk(nil), chunks...)
	}

	step := float64(len(chunks)) / float64(count)
	out := make([]models.Chunk, 0, count)
	for i := 0; i < count; i++ {
		out = append(out, chunks[int(float64(i)*step)])
	}
	return out
}
