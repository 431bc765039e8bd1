// Package teaser cuts the excerpt shown under a search hit. The body is split
// into sentences on ". " and into words on spaces. Every word gets a weight:
// a word whose stem starts with a stemmed query word weighs most, the first
// word of a sentence weighs more than the rest. The window of consecutive
// words with the highest total weight is returned with matches wrapped in
// <em>.
package teaser

import (
	"html"
	"strings"

	"github.com/mrhatman/booksearch/internal/pipeline"
)

const (
	matchWeight         = 40
	sentenceStartWeight = 8
	wordWeight          = 2
)

type word struct {
	text   string
	weight int
	start  int
}

// Make returns a teaser of at most size words from body. body is HTML-escaped
// before highlighting.
func Make(body string, queryWords []string, size int) string {
	body = html.EscapeString(body)

	stems := make([]string, 0, len(queryWords))
	for _, w := range queryWords {
		if w == "" {
			continue
		}
		stems = append(stems, pipeline.Stem(strings.ToLower(w)))
	}

	var weighted []word
	found := false
	index := 0
	for _, sentence := range strings.Split(body, ". ") {
		weight := sentenceStartWeight
		for _, w := range strings.Split(sentence, " ") {
			if len(w) > 0 {
				stemmed := pipeline.Stem(strings.ToLower(w))
				for _, s := range stems {
					if strings.HasPrefix(stemmed, s) {
						weight = matchWeight
						found = true
					}
				}
				weighted = append(weighted, word{text: w, weight: weight, start: index})
				weight = wordWeight
			}
			index += len(w) + 1
		}
		index++
	}
	if len(weighted) == 0 {
		return body
	}

	if size <= 0 || size > len(weighted) {
		size = len(weighted)
	}
	sums := make([]int, 0, len(weighted)-size+1)
	sum := 0
	for i := 0; i < size; i++ {
		sum += weighted[i].weight
	}
	sums = append(sums, sum)
	for i := 0; i < len(weighted)-size; i++ {
		sum -= weighted[i].weight
		sum += weighted[i+size].weight
		sums = append(sums, sum)
	}

	best := 0
	if found {
		max := 0
		for i := len(sums) - 1; i >= 0; i-- {
			if sums[i] > max {
				max = sums[i]
				best = i
			}
		}
	}

	var b strings.Builder
	index = weighted[best].start
	for i := best; i < best+size; i++ {
		w := weighted[i]
		if index < w.start {
			b.WriteString(body[index:w.start])
		}
		if w.weight == matchWeight {
			b.WriteString("<em>")
		}
		index = w.start + len(w.text)
		b.WriteString(body[w.start:index])
		if w.weight == matchWeight {
			b.WriteString("</em>")
		}
	}
	return b.String()
}
