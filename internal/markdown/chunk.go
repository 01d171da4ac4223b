package markdown

import "strings"

// ChunkByLength splits text into pieces of at most limit runes, cutting
// wherever the limit falls. A limit of zero or less disables chunking.
func ChunkByLength(text string, limit int) []string {
	if limit <= 0 || runeLen(text) <= limit {
		return []string{text}
	}
	var chunks []string
	runes := []rune(text)
	for len(runes) > 0 {
		n := limit
		if n > len(runes) {
			n = len(runes)
		}
		chunks = append(chunks, string(runes[:n]))
		runes = runes[n:]
	}
	return chunks
}

// ChunkByNewline splits text into pieces of at most limit runes, preferring
// to cut at line boundaries. A line longer than the limit is split mid-line.
func ChunkByNewline(text string, limit int) []string {
	if limit <= 0 || runeLen(text) <= limit {
		return []string{text}
	}
	var chunks []string
	var current strings.Builder
	currentLen := 0
	flush := func() {
		if current.Len() > 0 {
			chunks = append(chunks, current.String())
			current.Reset()
			currentLen = 0
		}
	}
	for _, line := range strings.Split(text, "\n") {
		lineLen := runeLen(line)
		if lineLen > limit {
			flush()
			for _, piece := range splitLongLine(line, limit) {
				chunks = append(chunks, piece)
			}
			continue
		}
		// +1 for the newline that rejoins the line to the chunk.
		if currentLen > 0 && currentLen+1+lineLen > limit {
			flush()
		}
		if currentLen > 0 {
			current.WriteString("\n")
			currentLen++
		}
		current.WriteString(line)
		currentLen += lineLen
	}
	flush()
	return chunks
}

func splitLongLine(line string, limit int) []string {
	var pieces []string
	runes := []rune(line)
	for len(runes) > 0 {
		n := limit
		if n > len(runes) {
			n = len(runes)
		}
		pieces = append(pieces, string(runes[:n]))
		runes = runes[n:]
	}
	return pieces
}

func runeLen(s string) int {
	return len([]rune(s))
}
