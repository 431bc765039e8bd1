// Package pipeline turns field text into index tokens. Text is trimmed,
// lower-cased and split on whitespace and hyphens, then every token passes
// through an ordered list of named stages. A stage may rewrite a token or
// drop it by returning the empty string.
package pipeline

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"unicode"

	porterstemmer "github.com/blevesearch/go-porterstemmer"

	apperrors "github.com/mrhatman/booksearch/pkg/errors"
)

// Stage names as they appear in a serialized index.
const (
	Trimmer        = "trimmer"
	StopWordFilter = "stopWordFilter"
	Stemmer        = "stemmer"
)

// Func transforms one token. An empty result removes the token.
type Func func(token string) string

var (
	mu       sync.RWMutex
	registry = map[string]Func{
		Trimmer:        Trim,
		StopWordFilter: FilterStopWord,
		Stemmer:        Stem,
	}
)

// Register adds or replaces a named stage.
func Register(name string, fn Func) {
	mu.Lock()
	defer mu.Unlock()
	registry[name] = fn
}

// Registered reports whether a stage exists under name.
func Registered(name string) bool {
	mu.RLock()
	defer mu.RUnlock()
	_, ok := registry[name]
	return ok
}

// Names lists the registered stages.
func Names() []string {
	mu.RLock()
	defer mu.RUnlock()
	out := make([]string, 0, len(registry))
	for name := range registry {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Pipeline is an immutable, ordered list of stages.
type Pipeline struct {
	names  []string
	stages []Func
}

// DefaultStages is the stage list books are indexed with.
var DefaultStages = []string{Trimmer, StopWordFilter, Stemmer}

// New resolves stage names against the registry.
func New(names ...string) (*Pipeline, error) {
	mu.RLock()
	defer mu.RUnlock()
	p := &Pipeline{
		names:  append([]string(nil), names...),
		stages: make([]Func, 0, len(names)),
	}
	for _, name := range names {
		fn, ok := registry[name]
		if !ok {
			return nil, fmt.Errorf("%w: %q", apperrors.ErrUnknownStage, name)
		}
		p.stages = append(p.stages, fn)
	}
	return p, nil
}

// Default returns the trimmer, stop-word filter and stemmer pipeline.
func Default() *Pipeline {
	p, err := New(DefaultStages...)
	if err != nil {
		panic(err)
	}
	return p
}

// Names returns the stage names in order.
func (p *Pipeline) Names() []string {
	return append([]string(nil), p.names...)
}

// Run tokenizes text and passes every token through the stages.
func (p *Pipeline) Run(text string) []string {
	words := Tokenize(text)
	out := words[:0]
	for _, w := range words {
		if t := p.RunToken(w); t != "" {
			out = append(out, t)
		}
	}
	return out
}

// RunToken passes a single, already tokenized word through the stages.
func (p *Pipeline) RunToken(token string) string {
	for _, stage := range p.stages {
		if token == "" {
			return ""
		}
		token = stage(token)
	}
	return token
}

// Tokenize lower-cases text and splits it on whitespace and hyphens.
func Tokenize(text string) []string {
	text = strings.ToLower(strings.TrimSpace(text))
	return strings.FieldsFunc(text, func(r rune) bool {
		return unicode.IsSpace(r) || r == '-'
	})
}

func isWordRune(r rune) bool {
	return unicode.IsLetter(r) || unicode.IsDigit(r) || r == '_'
}

// Trim strips leading and trailing non-word characters.
func Trim(token string) string {
	return strings.TrimFunc(token, func(r rune) bool { return !isWordRune(r) })
}

// Stem reduces a token to its Porter stem. Generated indexes use lunr's
// variant of the algorithm, which only rewrites a final y to i after a
// consonant; the result is adjusted to match.
func Stem(token string) string {
	word := []rune(strings.ToLower(token))
	stem := []rune(porterstemmer.StemString(token))
	n := len(stem)
	switch {
	case n >= 2 && stem[n-1] == 'i' && isVowel(stem[n-2]) &&
		len(word) >= n && word[n-1] == 'y' && string(word[:n-1]) == string(stem[:n-1]):
		stem[n-1] = 'y'
	case n >= 3 && string(stem) == string(word) && stem[n-1] == 'y' && !isVowel(stem[n-2]):
		stem[n-1] = 'i'
	}
	return string(stem)
}

func isVowel(r rune) bool {
	switch r {
	case 'a', 'e', 'i', 'o', 'u':
		return true
	}
	return false
}
