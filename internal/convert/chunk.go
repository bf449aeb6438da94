package convert

// DefaultChunkSize is the maximum chunk length, in characters, used when no
// size is configured.
const DefaultChunkSize = 10000

// Chunk is one ordered slice of a document's text. Concatenating a
// document's chunks by Seq reproduces the text exactly.
type Chunk struct {
	Source string
	Seq    int
	Text   string
	Length int
}

// Break points in order of preference. Each cut falls immediately after the
// separator so no character is dropped or repeated.
var breakPoints = [][]rune{
	[]rune(PageBreak),
	[]rune("\n\n"),
	[]rune("\n"),
	[]rune(". "),
	[]rune(" "),
	[]rune("\t"),
}

// SplitText divides text into chunks of at most max characters. Empty text
// yields no chunks.
func SplitText(source, text string, max int) []Chunk {
	if max <= 0 {
		max = DefaultChunkSize
	}
	rs := []rune(text)
	var chunks []Chunk
	for start := 0; start < len(rs); {
		end := len(rs)
		if end-start > max {
			end = start + cutPoint(rs[start:start+max], max)
		}
		piece := rs[start:end]
		chunks = append(chunks, Chunk{
			Source: source,
			Seq:    len(chunks),
			Text:   string(piece),
			Length: len(piece),
		})
		start = end
	}
	return chunks
}

// cutPoint returns how many runes of window to keep. A break point is only
// used if it keeps at least a quarter of the window; otherwise the window is
// cut hard.
func cutPoint(window []rune, max int) int {
	floor := max / 4
	for _, sep := range breakPoints {
		if i := lastIndex(window, sep); i >= 0 {
			if cut := i + len(sep); cut > floor {
				return cut
			}
		}
	}
	return len(window)
}

func lastIndex(rs, sep []rune) int {
	for i := len(rs) - len(sep); i >= 0; i-- {
		match := true
		for j := range sep {
			if rs[i+j] != sep[j] {
				match = false
				break
			}
		}
		if match {
			return i
		}
	}
	return -1
}
