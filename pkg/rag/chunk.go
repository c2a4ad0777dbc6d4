package rag

import (
	"fmt"
	"strings"
)

// Chunk is one ingestion unit of a document.
type Chunk struct {
	ID      string
	Index   int
	Content string
}

// chunkContent splits content into chunks of at most maxChars, breaking on
// line boundaries so chunks never split mid-line. A single line longer than
// maxChars becomes its own oversized chunk.
func chunkContent(docID, content string, maxChars int) []Chunk {
	content = strings.TrimSpace(content)
	if content == "" {
		return nil
	}
	if len(content) <= maxChars {
		return []Chunk{{ID: chunkID(docID, 0), Index: 0, Content: content}}
	}

	var chunks []Chunk
	var current strings.Builder

	flush := func() {
		text := strings.TrimSpace(current.String())
		if text != "" {
			chunks = append(chunks, Chunk{
				ID:      chunkID(docID, len(chunks)),
				Index:   len(chunks),
				Content: text,
			})
		}
		current.Reset()
	}

	for _, line := range strings.Split(content, "\n") {
		if current.Len() > 0 && current.Len()+len(line)+1 > maxChars {
			flush()
		}
		current.WriteString(line)
		current.WriteByte('\n')
	}
	flush()

	return chunks
}

func chunkID(docID string, index int) string {
	return fmt.Sprintf("%s#%04d", docID, index)
}
