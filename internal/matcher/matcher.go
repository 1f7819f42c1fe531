// Package matcher segments transcript text around case-insensitive occurrences
// of a search phrase.
package matcher

import "strings"

// Segment is one run of transcript text, matched or not. The JSON field names
// are the stored transcription artifact format.
type Segment struct {
	Match bool   `json:"match"`
	Text  string `json:"text"`
}

// Result is the outcome of scanning one transcript for a phrase.
type Result struct {
	MatchCount int       `json:"matchCount"`
	Segments   []Segment `json:"segments"`
	FullText   string    `json:"fullText"`
}

// Find scans text left to right for non-overlapping, case-insensitive
// occurrences of phrase and splits it into alternating segments. Concatenating
// every segment's Text reproduces text exactly. An empty phrase means "no
// search": the whole text comes back as a single non-matching segment.
//
// Case folding operates on the lowercased bytes. For the rare code points
// whose lowercase form has a different byte length (e.g. U+0130), matching
// degrades to exact case so that segment offsets stay aligned with text.
func Find(text, phrase string) Result {
	res := Result{MatchCount: 0, Segments: []Segment{}, FullText: text}

	if phrase == "" || text == "" {
		res.Segments = append(res.Segments, Segment{Match: false, Text: text})
		return res
	}

	haystack := strings.ToLower(text)
	needle := strings.ToLower(phrase)
	// Lowercasing can shift byte offsets for exotic code points; searching the
	// original keeps segment offsets valid in that case.
	if len(haystack) != len(text) || len(needle) != len(phrase) {
		haystack = text
		needle = phrase
	}

	cur := 0
	for cur <= len(text) {
		rel := strings.Index(haystack[cur:], needle)
		if rel < 0 {
			if cur < len(text) {
				res.Segments = append(res.Segments, Segment{Match: false, Text: text[cur:]})
			}
			break
		}

		pos := cur + rel
		if pos > cur {
			res.Segments = append(res.Segments, Segment{Match: false, Text: text[cur:pos]})
		}

		res.Segments = append(res.Segments, Segment{Match: true, Text: text[pos : pos+len(needle)]})
		res.MatchCount++
		cur = pos + len(needle)
	}

	return res
}
