package transform

import (
	"context"
	"regexp"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"

	"curator/internal/record"
	"curator/internal/stage"
)

// NameMarkup is the markup stage name.
const NameMarkup = "markup"

var markupPattern = regexp.MustCompile(`(?i)</?[a-z][a-z0-9]*(\s[^<>]*)?/?>|&(?:[a-z]+|#[0-9]+|#x[0-9a-f]+);`)

var blockTags = map[atom.Atom]bool{
	atom.Br: true, atom.P: true, atom.Div: true, atom.Li: true, atom.Ul: true,
	atom.Ol: true, atom.Tr: true, atom.Table: true, atom.Pre: true,
	atom.Blockquote: true, atom.H1: true, atom.H2: true, atom.H3: true,
	atom.H4: true, atom.H5: true, atom.H6: true, atom.Hr: true,
	atom.Section: true, atom.Article: true,
}

// Markup strips HTML markup from descriptions.
type Markup struct{}

// NewMarkup constructs the stage.
func NewMarkup() *Markup { return &Markup{} }

func (s *Markup) Name() string     { return NameMarkup }
func (s *Markup) Kind() stage.Kind { return stage.KindTransform }

// Apply replaces the description with its text content when it contains markup.
func (s *Markup) Apply(_ context.Context, rec *record.Record) stage.Result {
	desc := rec.Field(record.FieldDescription)
	if !markupPattern.MatchString(desc) {
		rec.SetMeta(record.MetaMarkupStripped, false)
		return stage.Continue()
	}
	stripped := StripMarkup(desc)
	if strings.TrimSpace(stripped) == "" {
		return stage.Reject(record.RejectValidation, record.ReasonDescriptionEmpty)
	}
	rec.SetDerived(record.FieldDescription, stripped)
	rec.SetMeta(record.MetaMarkupStripped, stripped != desc)
	return stage.Continue()
}

// StripMarkup returns the visible text of an HTML fragment. Script and style
// bodies are dropped, block elements become line breaks, and entities are
// unescaped.
func StripMarkup(text string) string {
	z := html.NewTokenizer(strings.NewReader(text))
	var b strings.Builder
	skip := 0
	for {
		tt := z.Next()
		switch tt {
		case html.ErrorToken:
			return tidyLines(b.String())
		case html.TextToken:
			if skip == 0 {
				b.Write(z.Text())
			}
		case html.StartTagToken, html.SelfClosingTagToken:
			name, _ := z.TagName()
			tag := atom.Lookup(name)
			if tag == atom.Script || tag == atom.Style {
				if tt == html.StartTagToken {
					skip++
				}
				continue
			}
			if blockTags[tag] {
				b.WriteByte('\n')
			}
		case html.EndTagToken:
			name, _ := z.TagName()
			tag := atom.Lookup(name)
			if tag == atom.Script || tag == atom.Style {
				if skip > 0 {
					skip--
				}
				continue
			}
			if blockTags[tag] {
				b.WriteByte('\n')
			}
		}
	}
}

// tidyLines collapses spaces within lines and keeps at most one blank line
// between paragraphs.
func tidyLines(text string) string {
	lines := strings.Split(text, "\n")
	out := make([]string, 0, len(lines))
	blank := false
	for _, line := range lines {
		line = strings.Join(strings.Fields(line), " ")
		if line == "" {
			if len(out) > 0 && !blank {
				out = append(out, "")
				blank = true
			}
			continue
		}
		out = append(out, line)
		blank = false
	}
	return strings.TrimSpace(strings.Join(out, "\n"))
}
