package validate

import (
	"fmt"

	"github.com/mrhatman/booksearch/internal/builder"
	"github.com/mrhatman/booksearch/internal/searchindex"
)

// Mode names of the two ways term counts can be attributed to fields.
const (
	ModeAccumulate = "accumulate"
	ModePerField   = "per-field"
)

// Verification is the outcome of regenerating an index's tries from its own
// document store.
type Verification struct {
	// Mode is the accumulation mode that reproduces the stored tries, or
	// empty when neither does.
	Mode     string `json:"mode,omitempty"`
	Verified bool   `json:"verified"`
	// Differences lists the first mismatch found for each mode tried.
	Differences map[string]string `json:"differences,omitempty"`
}

// Verify rebuilds the tries of idx from its stored documents with the index's
// own pipeline and compares them with the stored ones. An index without
// stored documents cannot be verified.
func Verify(idx *searchindex.Index) (*Verification, error) {
	if !idx.Elastic.DocumentStore.Save {
		return nil, fmt.Errorf("index stores no documents to rebuild from")
	}
	docs := idx.Documents()
	v := &Verification{Differences: make(map[string]string)}
	for _, mode := range []string{ModeAccumulate, ModePerField} {
		rebuilt, err := builder.Build(docs, builder.OptionsFromIndex(idx, mode == ModeAccumulate))
		if err != nil {
			return nil, fmt.Errorf("rebuilding index: %w", err)
		}
		if diff := Diff(idx, rebuilt); diff != "" {
			v.Differences[mode] = diff
			continue
		}
		v.Mode = mode
		v.Verified = true
		v.Differences = nil
		return v, nil
	}
	return v, nil
}

// Diff describes the first difference between the tries and field lengths of
// two indexes, or returns "" when they agree.
func Diff(want, got *searchindex.Index) string {
	for _, ref := range want.Refs() {
		for _, f := range want.Elastic.Fields {
			if w, g := want.FieldLength(ref, f), got.FieldLength(ref, f); w != g {
				return fmt.Sprintf("docInfo.%s.%s: stored %d, rebuilt %d", ref, f, w, g)
			}
		}
	}
	for _, f := range want.Elastic.Fields {
		wf, gf := want.Field(f), got.Field(f)
		if wf == nil || gf == nil {
			return fmt.Sprintf("index.%s: missing tree", f)
		}
		if d := diffTrie(f, wf.Root, gf.Root); d != "" {
			return d
		}
	}
	return ""
}

func diffTrie(field string, want, got *searchindex.Node) string {
	var diff string
	want.Walk(func(token string, n *searchindex.Node) {
		if diff != "" {
			return
		}
		other := got.Find(token)
		if other == nil || len(other.Docs) == 0 {
			diff = fmt.Sprintf("%s.%s: token missing from rebuilt tree", field, token)
			return
		}
		for ref, tf := range n.Docs {
			if otf, ok := other.Docs[ref]; !ok || otf != tf {
				diff = fmt.Sprintf("%s.%s: doc %s stored tf %v, rebuilt %v", field, token, ref, tf, otf)
				return
			}
		}
		if len(other.Docs) != len(n.Docs) {
			diff = fmt.Sprintf("%s.%s: stored %d documents, rebuilt %d", field, token, len(n.Docs), len(other.Docs))
		}
	})
	if diff != "" {
		return diff
	}
	got.Walk(func(token string, _ *searchindex.Node) {
		if diff != "" {
			return
		}
		if n := want.Find(token); n == nil || len(n.Docs) == 0 {
			diff = fmt.Sprintf("%s.%s: rebuilt token not in stored tree", field, token)
		}
	})
	return diff
}
