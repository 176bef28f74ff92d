package extract

// extractPlain splits text into pages on form feeds.
func extractPlain(content []byte) (*Extraction, error) {
	x := &Extraction{}
	start, n := 0, 1
	for i, c := range content {
		if c == '\f' {
			x.Pages = append(x.Pages, Page{Number: n, Text: string(content[start:i])})
			start, n = i+1, n+1
		}
	}
	x.Pages = append(x.Pages, Page{Number: n, Text: string(content[start:])})
	return x, nil
}
