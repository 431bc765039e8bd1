package teaser

import (
	"testing"

	"github.com/mrhatman/booksearch/internal/searchindex"
)

func TestMake(t *testing.T) {
	idx, err := searchindex.Load("../../searchindex/testdata/searchindex.js")
	if err != nil {
		t.Fatal(err)
	}
	intro, _ := idx.Document("0")
	core, _ := idx.Document("1")

	tests := []struct {
		name  string
		body  string
		words []string
		size  int
		want  string
	}{
		{
			"densest window of matches",
			core.Body, []string{"snake"}, 30,
			"<em>snake</em> that in controlled by the four directional keys (buttons will be added later) The <em>snakes</em> head moves around the field followed by the <em>snakes</em> body. If the <em>snake</em> hits",
		},
		{
			"stemmed match",
			intro.Body, []string{"screen"}, 10,
			"<em>Screen</em> Handling Settings Saving a game to a file Difficulty",
		},
		{
			"no match starts at the beginning",
			intro.Body, []string{"zebra"}, 5,
			"The goal of this tutorial",
		},
		{
			"escapes html",
			"Fish & chips. <b>Chips</b> are good", []string{"chips"}, 4,
			"Fish &amp; <em>chips</em>. &lt;b&gt;Chips&lt;/b&gt;",
		},
		{
			"empty query words are ignored",
			"alpha beta gamma", []string{""}, 2,
			"alpha beta",
		},
		{
			"window larger than body",
			"alpha beta", []string{"beta"}, 30,
			"alpha <em>beta</em>",
		},
		{
			"empty body",
			"", []string{"x"}, 30,
			"",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Make(tt.body, tt.words, tt.size); got != tt.want {
				t.Errorf("Make =\n%q\nwant\n%q", got, tt.want)
			}
		})
	}
}
