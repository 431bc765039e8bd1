package searchindex

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"

	apperrors "github.com/mrhatman/booksearch/pkg/errors"
)

const fixturePath = "testdata/searchindex.js"

func loadFixture(t *testing.T) (*Index, []byte) {
	t.Helper()
	raw, err := os.ReadFile(fixturePath)
	if err != nil {
		t.Fatalf("reading fixture: %v", err)
	}
	idx, err := Parse(raw)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	return idx, raw
}

func TestParseFixture(t *testing.T) {
	idx, _ := loadFixture(t)

	if got := idx.DocURLs; !reflect.DeepEqual(got, []string{"intro.html#introduction", "core_game.html#core-game"}) {
		t.Errorf("doc_urls = %v", got)
	}
	if idx.DocCount() != 2 {
		t.Errorf("length = %d", idx.DocCount())
	}
	if got := idx.FieldLength("0", "body"); got != 54 {
		t.Errorf("docInfo[0].body = %d, want 54", got)
	}
	if got := idx.Elastic.Pipeline; !reflect.DeepEqual(got, []string{"trimmer", "stopWordFilter", "stemmer"}) {
		t.Errorf("pipeline = %v", got)
	}
	if idx.Elastic.Ref != "id" || idx.Elastic.Version != "0.9.5" {
		t.Errorf("ref/version = %q/%q", idx.Elastic.Ref, idx.Elastic.Version)
	}
	if idx.ResultsOptions.LimitResults != 30 || idx.ResultsOptions.TeaserWordCount != 30 {
		t.Errorf("results_options = %+v", idx.ResultsOptions)
	}
	if idx.Boost("title") != 2 || idx.Boost("body") != 1 {
		t.Errorf("boosts = %+v", idx.SearchOptions.Fields)
	}
	if !idx.SearchOptions.Expand || idx.SearchOptions.Bool != "OR" {
		t.Errorf("search_options = %+v", idx.SearchOptions)
	}

	game := idx.Field("body").Root.Find("game")
	if game == nil {
		t.Fatal("body trie has no token game")
	}
	if game.DF != 2 || game.Docs["0"] != 2.449489742783178 || game.Docs["1"] != 1.4142135623730951 {
		t.Errorf("game postings = df %d %v", game.DF, game.Docs)
	}
	if n := idx.Field("body").Root.Find("gam"); n == nil || n.DF != 0 || len(n.Docs) != 0 {
		t.Errorf("intermediate node gam = %+v", n)
	}
}

func TestEncodeRoundTripIsByteExact(t *testing.T) {
	idx, raw := loadFixture(t)

	out, err := Encode(idx, FormatJS)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	if !bytes.Equal(bytes.TrimSpace(raw), out) {
		t.Fatalf("round trip differs at byte %d", firstDiff(bytes.TrimSpace(raw), out))
	}
}

func TestJSONAndJSFingerprintsMatch(t *testing.T) {
	idx, _ := loadFixture(t)
	asJSON, err := Encode(idx, FormatJSON)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.HasPrefix(asJSON, []byte(`{"doc_urls":`)) {
		t.Errorf("json output starts with %q", asJSON[:20])
	}
	reparsed, err := Parse(asJSON)
	if err != nil {
		t.Fatalf("Parse(json): %v", err)
	}
	a, err := Fingerprint(idx)
	if err != nil {
		t.Fatal(err)
	}
	b, err := Fingerprint(reparsed)
	if err != nil {
		t.Fatal(err)
	}
	if a != b || len(a) != 32 {
		t.Errorf("fingerprints %q vs %q", a, b)
	}
}

func TestParseRejectsGarbage(t *testing.T) {
	for _, in := range []string{"", "window.search = ;", `{"index":{"index":{"body":{"root":{"ab":{}}}}}}`} {
		if _, err := Parse([]byte(in)); !errors.Is(err, apperrors.ErrInvalidIndex) {
			t.Errorf("Parse(%q) error = %v, want ErrInvalidIndex", in, err)
		}
	}
}

func TestNodeInsertFindExpand(t *testing.T) {
	root := NewNode()
	root.Insert("screen", "0", 1)
	root.Insert("screenshot", "1", 1)
	root.Insert("screen", "2", 1.4142135623730951)
	root.Insert("", "3", 1)

	n := root.Find("screen")
	if n == nil || n.DF != 2 {
		t.Fatalf("screen = %+v", n)
	}
	if got := root.Expand("scr"); !reflect.DeepEqual(got, []string{"screen", "screenshot"}) {
		t.Errorf("Expand(scr) = %v", got)
	}
	if got := root.Expand("screens"); !reflect.DeepEqual(got, []string{"screenshot"}) {
		t.Errorf("Expand(screens) = %v", got)
	}
	if got := root.Expand("x"); got != nil {
		t.Errorf("Expand(x) = %v", got)
	}
	if root.Find("") != nil {
		t.Error("empty token should not resolve")
	}
}

func TestNodeJSONLayout(t *testing.T) {
	root := NewNode()
	root.Insert("ad", "0", 1)
	root.Insert("ad", "1", 1)
	root.Insert("a\"", "0", 2)

	got, err := root.MarshalJSON()
	if err != nil {
		t.Fatal(err)
	}
	want := `{"a":{"\"":{"df":1,"docs":{"0":{"tf":2.0}}},"d":{"df":2,"docs":{"0":{"tf":1.0},"1":{"tf":1.0}}},"df":0,"docs":{}},"df":0,"docs":{}}`
	if string(got) != want {
		t.Errorf("MarshalJSON =\n%s\nwant\n%s", got, want)
	}

	var back Node
	if err := back.UnmarshalJSON(got); err != nil {
		t.Fatalf("UnmarshalJSON: %v", err)
	}
	if n := back.Find("a\""); n == nil || n.Docs["0"] != 2 {
		t.Errorf("decoded node = %+v", n)
	}
}

func TestWriteFileAtomicAndLoad(t *testing.T) {
	idx, _ := loadFixture(t)
	path := filepath.Join(t.TempDir(), "out", "searchindex.json")

	if err := WriteFile(path, idx, FormatForPath(path)); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	if _, err := os.Stat(path + ".tmp"); !os.IsNotExist(err) {
		t.Errorf("temp file left behind: %v", err)
	}
	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if !reflect.DeepEqual(loaded.DocURLs, idx.DocURLs) {
		t.Errorf("doc_urls = %v", loaded.DocURLs)
	}
	data, _ := os.ReadFile(path)
	if strings.HasPrefix(string(data), "Object.assign") {
		t.Error(".json path should be written as bare JSON")
	}
}

func TestDocumentAndStats(t *testing.T) {
	idx, _ := loadFixture(t)

	doc, err := idx.Document("1")
	if err != nil {
		t.Fatal(err)
	}
	if doc.Title != "Core Game" || doc.URL != "core_game.html#core-game" || doc.Breadcrumbs != "Core Game" {
		t.Errorf("document = %+v", doc)
	}
	if _, err := idx.Document("9"); !errors.Is(err, apperrors.ErrDocumentNotFound) {
		t.Errorf("missing ref error = %v", err)
	}

	st := ComputeStats(idx)
	if st.Documents != 2 || len(st.Fields) != 3 {
		t.Fatalf("stats = %+v", st)
	}
	title := st.Fields[0]
	if title.Field != "title" || title.Tokens != 3 || title.Boost != 2 {
		t.Errorf("title stats = %+v", title)
	}
	if got := idx.Field("title").Terms(); !reflect.DeepEqual(got, []string{"core", "game", "introduct"}) {
		t.Errorf("title terms = %v", got)
	}
}

func TestSortRefs(t *testing.T) {
	refs := []string{"10", "2", "b", "0", "a"}
	SortRefs(refs)
	if !reflect.DeepEqual(refs, []string{"0", "2", "10", "a", "b"}) {
		t.Errorf("SortRefs = %v", refs)
	}
}

func firstDiff(a, b []byte) int {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	for i := 0; i < n; i++ {
		if a[i] != b[i] {
			return i
		}
	}
	return n
}
