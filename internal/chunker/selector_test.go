package chunker

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"studyforge/internal/models"
)

func makeChunks(n int) []models.Chunk {
	chunks := make([]models.Chunk, n)
	for i := range chunks {
		chunks[i] = models.Chunk{Content: fmt.Sprintf("chunk %d", i), Source: "src", Index: i}
	}
	return chunks
}

func TestSelect_CountAtLeastLength(t *testing.T) {
	chunks := makeChunks(5)
	assert.Equal(t, chunks, Select(chunks, 5))
	assert.Equal(t, chunks, Select(chunks, 12))
}

func TestSelect_EvenDistribution(t *testing.T) {
	for _, tc := range []struct {
		n, count int
	}{
		{10, 3},
		{20, 5},
		{100, 7},
		{9, 4},
		{2, 1},
	} {
		t.Run(fmt.Sprintf("%d_of_%d", tc.count, tc.n), func(t *testing.T) {
			selected := Select(makeChunks(tc.n), tc.count)
			require.Len(t, selected, tc.count)

			// First pick is always the opening chunk; indices strictly increase.
			assert.Equal(t, 0, selected[0].Index)
			for i := 1; i < len(selected); i++ {
				assert.Greater(t, selected[i].Index, selected[i-1].Index)
			}

			// Matches the stride formula exactly.
			step := float64(tc.n) / float64(tc.count)
			for i, ch := range selected {
				assert.Equal(t, int(float64(i)*step), ch.Index)
			}
		})
	}
}

func TestSelect_CopiesWhenReturningAll(t *testing.T) {
	chunks := makeChunks(3)
	got := Select(chunks, 5)
	require.Len(t, got, 3)

	got[0].Content = "mutated"
	assert.Equal(t, "chunk 0", chunks[0].Content, "callers must not share backing storage")
}

func TestSelect_Degenerate(t *testing.T) {
	assert.Nil(t, Select(nil, 3))
	assert.Nil(t, Select(makeChunks(3), 0))
	assert.Nil(t, Select(makeChunks(3), -1))
}
