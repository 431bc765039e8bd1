package validate

import (
	"errors"
	"strings"
	"testing"

	"github.com/mrhatman/booksearch/internal/searchindex"
	apperrors "github.com/mrhatman/booksearch/pkg/errors"
)

func fixture(t *testing.T) *searchindex.Index {
	t.Helper()
	idx, err := searchindex.Load("../searchindex/testdata/searchindex.js")
	if err != nil {
		t.Fatal(err)
	}
	return idx
}

func TestValidateGeneratedIndex(t *testing.T) {
	r := Validate(fixture(t))
	if !r.OK() {
		t.Fatalf("generated index reported problems: %v", r.Problems)
	}
	if r.Err() != nil {
		t.Errorf("Err = %v", r.Err())
	}
	if r.Documents != 2 || r.Tokens == 0 {
		t.Errorf("report = %+v", r)
	}
}

func TestValidateFindsEveryProblem(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*searchindex.Index)
		path   string
	}{
		{"length mismatch", func(i *searchindex.Index) { i.Elastic.DocumentStore.Length = 5 }, "index.documentStore.length"},
		{"missing url", func(i *searchindex.Index) { i.DocURLs = i.DocURLs[:1] }, "doc_urls"},
		{"unknown ref in trie", func(i *searchindex.Index) {
			i.Field("title").Root.Insert("ghost", "7", 1)
		}, "index.index.title.ghost"},
		{"df mismatch", func(i *searchindex.Index) {
			i.Field("body").Root.Find("game").DF = 1
		}, "index.index.body.game"},
		{"df on intermediate node", func(i *searchindex.Index) {
			i.Field("body").Root.Find("gam").DF = 3
		}, "index.index.body.gam"},
		{"zero tf", func(i *searchindex.Index) {
			i.Field("title").Root.Find("core").Docs["1"] = 0
		}, "index.index.title.core"},
		{"bad bool", func(i *searchindex.Index) { i.SearchOptions.Bool = "XOR" }, "search_options.bool"},
		{"undeclared boost", func(i *searchindex.Index) {
			i.SearchOptions.Fields["tags"] = searchindex.FieldOptions{Boost: 1}
		}, "search_options.fields.tags"},
		{"unknown stage", func(i *searchindex.Index) {
			i.Elastic.Pipeline = append(i.Elastic.Pipeline, "lemmatizer")
		}, "index.pipeline"},
		{"missing tree", func(i *searchindex.Index) { delete(i.Elastic.Index, "breadcrumbs") }, "index.index"},
		{"ref field mismatch", func(i *searchindex.Index) {
			i.Elastic.DocumentStore.Docs["1"]["id"] = "0"
		}, "index.documentStore.docs.1"},
		{"orphan doc", func(i *searchindex.Index) { delete(i.Elastic.DocumentStore.DocInfo, "1") }, "index.documentStore.docs.1"},
		{"no teaser words", func(i *searchindex.Index) { i.ResultsOptions.TeaserWordCount = 0 }, "results_options.teaser_word_count"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			idx := fixture(t)
			tt.mutate(idx)
			r := Validate(idx)
			if r.OK() {
				t.Fatal("expected problems")
			}
			if !errors.Is(r.Err(), apperrors.ErrInvalidIndex) {
				t.Errorf("Err does not wrap ErrInvalidIndex")
			}
			found := false
			for _, p := range r.Problems {
				if p.Path == tt.path {
					found = true
				}
			}
			if !found {
				t.Errorf("no problem at %s in %v", tt.path, r.Problems)
			}
		})
	}
}

func TestValidateReportsAllProblemsAtOnce(t *testing.T) {
	idx := fixture(t)
	idx.Elastic.Ref = ""
	idx.Elastic.Version = ""
	idx.ResultsOptions.LimitResults = -1
	r := Validate(idx)
	if len(r.Problems) < 3 {
		t.Fatalf("problems = %v", r.Problems)
	}
	if !strings.HasPrefix(r.Error(), "3 problem(s)") {
		t.Errorf("Error = %q", r.Error())
	}
}

func TestVerifyDetectsAccumulation(t *testing.T) {
	v, err := Verify(fixture(t))
	if err != nil {
		t.Fatal(err)
	}
	if !v.Verified || v.Mode != ModeAccumulate {
		t.Fatalf("verification = %+v", v)
	}
}

func TestVerifyReportsDifferences(t *testing.T) {
	idx := fixture(t)
	idx.Field("title").Root.Find("core").Docs["1"] = 2

	v, err := Verify(idx)
	if err != nil {
		t.Fatal(err)
	}
	if v.Verified {
		t.Fatal("tampered index verified")
	}
	if d := v.Differences[ModeAccumulate]; !strings.Contains(d, "title.core") {
		t.Errorf("accumulate diff = %q", d)
	}
	if _, ok := v.Differences[ModePerField]; !ok {
		t.Error("per-field mode should also report a difference")
	}
}

func TestVerifyWithoutStoredDocuments(t *testing.T) {
	idx := fixture(t)
	idx.Elastic.DocumentStore.Save = false
	if _, err := Verify(idx); err == nil {
		t.Fatal("expected an error")
	}
}
