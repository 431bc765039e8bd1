package searchindex

// FieldStats summarises one field trie.
type FieldStats struct {
	Field    string  `json:"field"`
	Boost    float64 `json:"boost"`
	Tokens   int     `json:"tokens"`
	Nodes    int     `json:"nodes"`
	Postings int     `json:"postings"`
	MaxDepth int     `json:"max_depth"`
}

// Stats summarises an index.
type Stats struct {
	Documents       int          `json:"documents"`
	Version         string       `json:"version"`
	Ref             string       `json:"ref"`
	Pipeline        []string     `json:"pipeline"`
	Fields          []FieldStats `json:"fields"`
	LimitResults    int          `json:"limit_results"`
	TeaserWordCount int          `json:"teaser_word_count"`
}

// ComputeStats walks every field trie.
func ComputeStats(idx *Index) Stats {
	st := Stats{
		Documents:       idx.DocCount(),
		Version:         idx.Elastic.Version,
		Ref:             idx.Elastic.Ref,
		Pipeline:        append([]string(nil), idx.Elastic.Pipeline...),
		LimitResults:    idx.ResultsOptions.LimitResults,
		TeaserWordCount: idx.ResultsOptions.TeaserWordCount,
	}
	for _, name := range idx.Elastic.Fields {
		fs := FieldStats{Field: name, Boost: idx.Boost(name)}
		if fi := idx.Field(name); fi != nil && fi.Root != nil {
			fi.Root.walk("", func(token string, n *Node) {
				fs.Nodes++
				if len(n.Docs) > 0 {
					fs.Tokens++
					fs.Postings += len(n.Docs)
				}
				if depth := len([]rune(token)); depth > fs.MaxDepth {
					fs.MaxDepth = depth
				}
			})
		}
		st.Fields = append(st.Fields, fs)
	}
	return st
}

// Terms lists the tokens of a field in lexical order.
func (fi *FieldIndex) Terms() []string {
	if fi == nil || fi.Root == nil {
		return nil
	}
	var out []string
	fi.Root.Walk(func(token string, _ *Node) {
		out = append(out, token)
	})
	return out
}
