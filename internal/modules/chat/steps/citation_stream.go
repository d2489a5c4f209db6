package steps

import (
	"encoding/json"
	"regexp"
	"strconv"
	"strings"

	chat "github.com/fenwick-ai/ragchat-core/internal/domain/chat"
)

const (
	startThinkingToken = "<<<THINKING>>>"
	endThinkingToken    = "<<<END_THINKING>>>"
)

// StreamEvent is one unit of C1's lazy output sequence: a prose fragment,
// a reasoning fragment, or a resolved citation. At most one field is set.
type StreamEvent struct {
	Text          string
	Reasoning     string
	Citation      *chat.Citation
	ImageCitation *chat.ImageCitation
}

var (
	reTextCitation  = regexp.MustCompile(`\[(\d+)\]`)
	reImageCitation = regexp.MustCompile(`\[(\d+)_(\d+)\]`)
)

// CitationSource is one materialized retrieval result the stream's
// citation markers index into; Attachments carries image attachments for
// image-marker resolution.
type CitationSource struct {
	Doc         *chat.RetrievalDoc
	SourceID    string
	SourceType  string
	Title       string
	Locator     string
	Attachments []chat.MessageAttachment
}

// CitationStreamParser incrementally parses a JSON-wrapped `{"answer":
// "..."}` token stream (optionally preceded by a StartThinkingToken/
// EndThinkingToken reasoning preamble) and emits text/reasoning/citation
// events in order, per §4.1.
type CitationStreamParser struct {
	results   []CitationSource
	baseIndex int

	inReasoning  bool
	reasoningSeen bool
	raw          strings.Builder
	lastAnswer   string

	yieldedText  map[int]bool
	yieldedImage map[string]bool

	// citationMap: marker index n -> 0-based position in the sources list,
	// assigned on first sight in emission order; display index is
	// citationMap[n] + 1 (§3 Citation, §4.1 post-emission rewrite).
	citationMap map[int]int
}

// NewCitationStreamParser constructs a parser for one stream. baseIndex is
// the length of previously emitted results across prior iterations so
// marker indices don't collide when reasoning mode restarts numbering.
func NewCitationStreamParser(results []CitationSource, baseIndex int) *CitationStreamParser {
	return &CitationStreamParser{
		results:      results,
		baseIndex:    baseIndex,
		yieldedText:  map[int]bool{},
		yieldedImage: map[string]bool{},
		citationMap:  map[int]int{},
	}
}

// Feed processes one raw delta from the underlying LLM stream and returns
// the events it produces, in order.
func (p *CitationStreamParser) Feed(delta string) []StreamEvent {
	if delta == "" {
		return nil
	}
	var events []StreamEvent

	for len(delta) > 0 {
		if !p.reasoningSeen && !p.inReasoning {
			if idx := strings.Index(delta, startThinkingToken); idx >= 0 {
				p.inReasoning = true
				delta = delta[idx+len(startThinkingToken):]
				continue
			}
		}
		if p.inReasoning {
			if idx := strings.Index(delta, endThinkingToken); idx >= 0 {
				if idx > 0 {
					events = append(events, StreamEvent{Reasoning: delta[:idx]})
				}
				p.inReasoning = false
				p.reasoningSeen = true
				delta = delta[idx+len(endThinkingToken):]
				continue
			}
			events = append(events, StreamEvent{Reasoning: delta})
			return events
		}
		p.raw.WriteString(stripFence(delta))
		break
	}

	answer, ok := extractAnswerPrefix(p.raw.String())
	if !ok {
		return events
	}
	if answer == "null" {
		return events
	}
	if !strings.HasPrefix(answer, p.lastAnswer) {
		// Model revised earlier content; treat the new prefix as authoritative
		// and only emit the tail beyond what was already sent.
		if len(answer) > len(p.lastAnswer) {
			p.lastAnswer = answer[:len(p.lastAnswer)]
		}
	}
	if len(answer) <= len(p.lastAnswer) {
		return events
	}
	suffix := answer[len(p.lastAnswer):]
	p.lastAnswer = answer

	textEvents, citationEvents := p.scanSuffix(suffix)
	if strings.TrimSpace(suffix) != "" || len(textEvents) > 0 {
		events = append(events, textEvents...)
	}
	events = append(events, citationEvents...)
	return events
}

// scanSuffix emits the new prose (markers left intact for later rewrite)
// plus any newly-resolved citation/imageCitation events found in it.
func (p *CitationStreamParser) scanSuffix(suffix string) ([]StreamEvent, []StreamEvent) {
	var textEvents []StreamEvent
	if suffix != "" {
		textEvents = append(textEvents, StreamEvent{Text: suffix})
	}

	var citationEvents []StreamEvent
	for _, m := range reImageCitation.FindAllStringSubmatch(suffix, -1) {
		n, err1 := strconv.Atoi(m[1])
		imgIx, err2 := strconv.Atoi(m[2])
		if err1 != nil || err2 != nil {
			continue
		}
		key := m[1] + "_" + m[2]
		if p.yieldedImage[key] {
			continue
		}
		src, ok := p.resolve(n)
		if !ok || imgIx < 0 || imgIx >= len(src.Attachments) {
			continue
		}
		att := src.Attachments[imgIx]
		if strings.ToLower(att.Kind) != "image" {
			continue
		}
		p.yieldedImage[key] = true
		citationEvents = append(citationEvents, StreamEvent{ImageCitation: &chat.ImageCitation{
			DisplayIndex: p.displayIndex(n),
			SourceID:     src.SourceID,
			URL:          att.URL,
		}})
	}

	for _, m := range reTextCitation.FindAllStringSubmatch(suffix, -1) {
		n, err := strconv.Atoi(m[1])
		if err != nil {
			continue
		}
		if p.yieldedText[n] {
			continue
		}
		src, ok := p.resolve(n)
		if !ok {
			continue
		}
		p.yieldedText[n] = true
		var quote string
		if src.Doc != nil {
			quote = trimToChars(src.Doc.Text, 240)
		}
		citationEvents = append(citationEvents, StreamEvent{Citation: &chat.Citation{
			DisplayIndex: p.displayIndex(n),
			SourceID:     src.SourceID,
			SourceType:   src.SourceType,
			Title:        src.Title,
			Locator:      src.Locator,
			Quote:        quote,
		}})
	}
	return textEvents, citationEvents
}

// LastAnswer returns the full answer text accumulated so far (pre-rewrite).
func (p *CitationStreamParser) LastAnswer() string {
	return p.lastAnswer
}

// Citations returns every text citation yielded during the stream, in
// first-yielded order, with display indices already resolved.
func (p *CitationStreamParser) Citations() []chat.Citation {
	out := make([]chat.Citation, 0, len(p.yieldedText))
	for n := range p.yieldedText {
		src, ok := p.resolve(n)
		if !ok {
			continue
		}
		var quote string
		if src.Doc != nil {
			quote = trimToChars(src.Doc.Text, 240)
		}
		out = append(out, chat.Citation{
			DisplayIndex: p.displayIndex(n),
			SourceID:     src.SourceID,
			SourceType:   src.SourceType,
			Title:        src.Title,
			Locator:      src.Locator,
			Quote:        quote,
		})
	}
	sortCitationsByDisplayIndex(out)
	return out
}

// ImageCitations returns every image citation yielded during the stream.
func (p *CitationStreamParser) ImageCitations() []chat.ImageCitation {
	out := make([]chat.ImageCitation, 0, len(p.yieldedImage))
	for key := range p.yieldedImage {
		parts := strings.SplitN(key, "_", 2)
		if len(parts) != 2 {
			continue
		}
		n, err1 := strconv.Atoi(parts[0])
		imgIx, err2 := strconv.Atoi(parts[1])
		if err1 != nil || err2 != nil {
			continue
		}
		src, ok := p.resolve(n)
		if !ok || imgIx < 0 || imgIx >= len(src.Attachments) {
			continue
		}
		att := src.Attachments[imgIx]
		out = append(out, chat.ImageCitation{
			DisplayIndex: p.displayIndex(n),
			SourceID:     src.SourceID,
			URL:          att.URL,
		})
	}
	sortImageCitationsByDisplayIndex(out)
	return out
}

func sortCitationsByDisplayIndex(c []chat.Citation) {
	for i := 1; i < len(c); i++ {
		for j := i; j > 0 && c[j].DisplayIndex < c[j-1].DisplayIndex; j-- {
			c[j], c[j-1] = c[j-1], c[j]
		}
	}
}

func sortImageCitationsByDisplayIndex(c []chat.ImageCitation) {
	for i := 1; i < len(c); i++ {
		for j := i; j > 0 && c[j].DisplayIndex < c[j-1].DisplayIndex; j-- {
			c[j], c[j-1] = c[j-1], c[j]
		}
	}
}

func (p *CitationStreamParser) resolve(n int) (CitationSource, bool) {
	i := n - p.baseIndex
	if i < 0 || i >= len(p.results) {
		return CitationSource{}, false
	}
	return p.results[i], true
}

// displayIndex assigns (or returns the already-assigned) 1-based display
// position for marker index n, per §4.1's citationMap.
func (p *CitationStreamParser) displayIndex(n int) int {
	if pos, ok := p.citationMap[n]; ok {
		return pos + 1
	}
	pos := len(p.citationMap)
	p.citationMap[n] = pos
	return pos + 1
}

// Rewrite replaces every `[n]`/`[n_i]` marker in text with its display
// position, per the post-emission rewrite rule in §4.1. Unresolved markers
// (never cited during the stream) are stripped.
func (p *CitationStreamParser) Rewrite(text string) string {
	text = reImageCitation.ReplaceAllStringFunc(text, func(m string) string {
		sub := reImageCitation.FindStringSubmatch(m)
		n, err := strconv.Atoi(sub[1])
		if err != nil {
			return ""
		}
		if _, ok := p.citationMap[n]; !ok {
			return ""
		}
		return "[" + strconv.Itoa(p.displayIndex(n)) + "]"
	})
	text = reTextCitation.ReplaceAllStringFunc(text, func(m string) string {
		sub := reTextCitation.FindStringSubmatch(m)
		n, err := strconv.Atoi(sub[1])
		if err != nil {
			return ""
		}
		if _, ok := p.citationMap[n]; !ok {
			return ""
		}
		return "[" + strconv.Itoa(p.displayIndex(n)) + "]"
	})
	return strings.TrimSpace(text)
}

func stripFence(s string) string {
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	return s
}

// extractAnswerPrefix tolerantly parses a possibly-incomplete
// `{"answer": "..."}` buffer, returning the longest valid prefix of the
// answer string value seen so far.
func extractAnswerPrefix(buf string) (string, bool) {
	buf = strings.TrimSpace(buf)
	idx := strings.Index(buf, `"answer"`)
	if idx < 0 {
		return "", false
	}
	rest := buf[idx+len(`"answer"`):]
	colon := strings.Index(rest, ":")
	if colon < 0 {
		return "", false
	}
	rest = strings.TrimSpace(rest[colon+1:])
	if strings.HasPrefix(rest, "null") {
		return "null", true
	}
	if !strings.HasPrefix(rest, `"`) {
		return "", false
	}

	var sb strings.Builder
	escaped := false
	closed := false
	for i := 1; i < len(rest); i++ {
		c := rest[i]
		if escaped {
			switch c {
			case 'n':
				sb.WriteByte('\n')
			case 't':
				sb.WriteByte('\t')
			case '"', '\\', '/':
				sb.WriteByte(c)
			default:
				sb.WriteByte(c)
			}
			escaped = false
			continue
		}
		if c == '\\' {
			escaped = true
			continue
		}
		if c == '"' {
			closed = true
			break
		}
		sb.WriteByte(c)
	}
	if sb.Len() == 0 && !closed {
		return "", false
	}

	// If the full buffer happens to already be valid JSON, prefer the
	// canonically-decoded value (handles escape sequences we didn't model).
	var full map[string]any
	if closed {
		if err := json.Unmarshal([]byte(buf), &full); err == nil {
			if a, ok := full["answer"].(string); ok {
				return a, true
			}
		}
	}
	return sb.String(), true
}
