package directory

import (
	"strings"
	"testing"

	"pgregory.net/rapid"
)

// Chunks never exceed the limit, never break a line, and rejoin to the input.
func TestProperty_ChunkPreservesLines(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping property test in short mode")
	}

	rapid.Check(t, func(rt *rapid.T) {
		limit := rapid.IntRange(8, 200).Draw(rt, "limit")
		lines := rapid.SliceOfN(
			rapid.StringOfN(rapid.RuneFrom([]rune("abcXYZ ·[]()🌟é")), 0, limit/2, -1),
			1, 60,
		).Draw(rt, "lines")

		text := strings.Join(lines, "\n")
		chunks := Chunk(text, limit)

		for i, chunk := range chunks {
			if Length(chunk) > limit {
				rt.Fatalf("chunk %d has length %d over limit %d", i, Length(chunk), limit)
			}
		}

		if joined := strings.Join(chunks, "\n"); joined != text {
			rt.Fatalf("chunks do not rejoin to input:\n%q\n%q", joined, text)
		}

		// Every chunk is a run of whole input lines.
		next := 0
		for i, chunk := range chunks {
			for _, line := range strings.Split(chunk, "\n") {
				if next >= len(lines) || lines[next] != line {
					rt.Fatalf("chunk %d breaks line %d", i, next)
				}
				next++
			}
		}
		if next != len(lines) {
			rt.Fatalf("expected %d lines across chunks, got %d", len(lines), next)
		}
	})
}
