package steps

import (
	"testing"

	chat "github.com/fenwick-ai/ragchat-core/internal/domain/chat"
)

func testSources() []CitationSource {
	return []CitationSource{
		{Doc: &chat.RetrievalDoc{Text: "Paris is the capital of France."}, SourceID: "doc-0", SourceType: "message", Title: "A"},
		{Doc: &chat.RetrievalDoc{Text: "The Eiffel Tower was completed in 1889."}, SourceID: "doc-1", SourceType: "message", Title: "B"},
		{SourceID: "doc-2", SourceType: "message", Title: "C", Attachments: []chat.MessageAttachment{
			{Kind: "image", URL: "https://example.com/tower.png"},
		}},
	}
}

func feedAll(p *CitationStreamParser, chunks ...string) []StreamEvent {
	var out []StreamEvent
	for _, c := range chunks {
		out = append(out, p.Feed(c)...)
	}
	return out
}

func TestCitationStreamParserTextCitation(t *testing.T) {
	t.Parallel()
	p := NewCitationStreamParser(testSources(), 0)

	events := feedAll(p,
		`{"answer": "Paris is great`,
		` [0]. More text."}`,
	)

	var sawCitation bool
	for _, e := range events {
		if e.Citation != nil {
			sawCitation = true
			if e.Citation.SourceID != "doc-0" {
				t.Fatalf("unexpected source id: %q", e.Citation.SourceID)
			}
			if e.Citation.DisplayIndex != 1 {
				t.Fatalf("unexpected display index: %d", e.Citation.DisplayIndex)
			}
		}
	}
	if !sawCitation {
		t.Fatalf("expected a citation event, got none: %+v", events)
	}

	cites := p.Citations()
	if len(cites) != 1 {
		t.Fatalf("expected exactly one accumulated citation, got %d", len(cites))
	}
}

func TestCitationStreamParserDoesNotDoubleEmitSameMarker(t *testing.T) {
	t.Parallel()
	p := NewCitationStreamParser(testSources(), 0)

	feedAll(p, `{"answer": "See [0]."}`)
	events := feedAll(p, ` [0] again.`)

	for _, e := range events {
		if e.Citation != nil {
			t.Fatalf("marker [0] should only be yielded once, got a second citation event")
		}
	}
}

func TestCitationStreamParserImageCitation(t *testing.T) {
	t.Parallel()
	p := NewCitationStreamParser(testSources(), 0)

	events := feedAll(p, `{"answer": "Here is a photo [2_0]."}`)

	var img *chat.ImageCitation
	for _, e := range events {
		if e.ImageCitation != nil {
			img = e.ImageCitation
		}
	}
	if img == nil {
		t.Fatalf("expected an image citation event, got none: %+v", events)
	}
	if img.URL != "https://example.com/tower.png" {
		t.Fatalf("unexpected image url: %q", img.URL)
	}
}

func TestCitationStreamParserIgnoresOutOfRangeMarker(t *testing.T) {
	t.Parallel()
	p := NewCitationStreamParser(testSources(), 0)

	events := feedAll(p, `{"answer": "Out of range [99]."}`)
	for _, e := range events {
		if e.Citation != nil {
			t.Fatalf("marker [99] has no matching source, should not resolve to a citation")
		}
	}
}

func TestCitationStreamParserReasoningPreamble(t *testing.T) {
	t.Parallel()
	p := NewCitationStreamParser(testSources(), 0)

	events := feedAll(p,
		"<<<THINKING>>>thinking about it<<<END_THINKING>>>",
		`{"answer": "Done [0]."}`,
	)

	var sawReasoning, sawCitation bool
	for _, e := range events {
		if e.Reasoning != "" {
			sawReasoning = true
		}
		if e.Citation != nil {
			sawCitation = true
		}
	}
	if !sawReasoning {
		t.Fatalf("expected a reasoning event")
	}
	if !sawCitation {
		t.Fatalf("expected a citation event after reasoning closed")
	}
}

func TestCitationStreamParserRewriteUsesDisplayOrder(t *testing.T) {
	t.Parallel()
	p := NewCitationStreamParser(testSources(), 0)

	feedAll(p, `{"answer": "B first [1], then A [0]."}`)
	rewritten := p.Rewrite("B first [1], then A [0]. Unknown [7].")

	want := "B first [1], then A [2]. Unknown ."
	if rewritten != want {
		t.Fatalf("unexpected rewrite: got=%q want=%q", rewritten, want)
	}
}

func TestCitationStreamParserBaseIndexOffsetsMarkers(t *testing.T) {
	t.Parallel()
	sources := testSources()
	p := NewCitationStreamParser(sources[1:], 1)

	events := feedAll(p, `{"answer": "See [1]."}`)
	var cite *chat.Citation
	for _, e := range events {
		if e.Citation != nil {
			cite = e.Citation
		}
	}
	if cite == nil {
		t.Fatalf("expected marker [1] to resolve against baseIndex 1 sources")
	}
	if cite.SourceID != "doc-1" {
		t.Fatalf("unexpected source id: %q", cite.SourceID)
	}
}

func TestExtractAnswerPrefixHandlesEscapes(t *testing.T) {
	t.Parallel()
	answer, ok := extractAnswerPrefix(`{"answer": "line one\nline two"}`)
	if !ok {
		t.Fatalf("expected extractAnswerPrefix to succeed")
	}
	if answer != "line one\nline two" {
		t.Fatalf("unexpected decoded answer: %q", answer)
	}
}

func TestExtractAnswerPrefixNull(t *testing.T) {
	t.Parallel()
	answer, ok := extractAnswerPrefix(`{"answer": null}`)
	if !ok || answer != "null" {
		t.Fatalf("expected null sentinel, got answer=%q ok=%v", answer, ok)
	}
}
