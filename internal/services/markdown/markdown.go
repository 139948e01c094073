// Package markdown translates LLM markdown output into the flat block list
// the document provider accepts. Only the constructs the doc API can render
// are produced; everything else degrades to paragraphs.
package markdown

import (
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/text"

	"github.com/pkrish5/xfund-deal-diligence-pipeline/internal/models"
)

// Translator converts markdown to document blocks.
type Translator struct {
	md goldmark.Markdown
}

// NewTranslator creates a translator with the default CommonMark parser.
func NewTranslator() *Translator {
	return &Translator{md: goldmark.New()}
}

// ToBlocks parses the markdown and flattens it into document blocks.
func (t *Translator) ToBlocks(source string) []models.DocBlock {
	src := []byte(source)
	doc := t.md.Parser().Parse(text.NewReader(src))

	var blocks []models.DocBlock
	for node := doc.FirstChild(); node != nil; node = node.NextSibling() {
		blocks = append(blocks, t.translateNode(node, src)...)
	}
	return blocks
}

func (t *Translator) translateNode(node ast.Node, src []byte) []models.DocBlock {
	switch n := node.(type) {
	case *ast.Heading:
		blockType := models.BlockHeading3
		switch n.Level {
		case 1:
			blockType = models.BlockHeading1
		case 2:
			blockType = models.BlockHeading2
		}
		return []models.DocBlock{{Type: blockType, Text: textOf(n, src)}}

	case *ast.Paragraph:
		content := textOf(n, src)
		if content == "" {
			return nil
		}
		return []models.DocBlock{{Type: models.BlockParagraph, Text: content}}

	case *ast.List:
		itemType := models.BlockBulletedItem
		if n.IsOrdered() {
			itemType = models.BlockNumberedItem
		}
		return t.translateList(n, itemType, src)

	case *ast.Blockquote:
		return []models.DocBlock{{Type: models.BlockQuote, Text: textOf(n, src)}}

	case *ast.FencedCodeBlock:
		return []models.DocBlock{{
			Type:     models.BlockCode,
			Text:     linesOf(n, src),
			Language: string(n.Language(src)),
		}}

	case *ast.CodeBlock:
		return []models.DocBlock{{Type: models.BlockCode, Text: linesOf(n, src)}}

	case *ast.ThematicBreak:
		return []models.DocBlock{{Type: models.BlockDivider}}
	}

	// Unknown container nodes flatten to their textual content.
	if content := textOf(node, src); content != "" {
		return []models.DocBlock{{Type: models.BlockParagraph, Text: content}}
	}
	return nil
}

// translateList flattens a list, recursing into nested lists so depth never
// exceeds what the doc API accepts.
func (t *Translator) translateList(list *ast.List, itemType models.BlockType, src []byte) []models.DocBlock {
	var blocks []models.DocBlock
	for item := list.FirstChild(); item != nil; item = item.NextSibling() {
		for child := item.FirstChild(); child != nil; child = child.NextSibling() {
			if nested, ok := child.(*ast.List); ok {
				nestedType := models.BlockBulletedItem
				if nested.IsOrdered() {
					nestedType = models.BlockNumberedItem
				}
				blocks = append(blocks, t.translateList(nested, nestedType, src)...)
				continue
			}
			if content := textOf(child, src); content != "" {
				blocks = append(blocks, models.DocBlock{Type: itemType, Text: content})
			}
		}
	}
	return blocks
}

// textOf collects the plain text under a node, joining soft line breaks with
// spaces.
func textOf(node ast.Node, src []byte) string {
	var sb strings.Builder
	_ = ast.Walk(node, func(child ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering {
			return ast.WalkContinue, nil
		}
		switch n := child.(type) {
		case *ast.Text:
			sb.Write(n.Segment.Value(src))
			if n.SoftLineBreak() || n.HardLineBreak() {
				sb.WriteByte(' ')
			}
		case *ast.AutoLink:
			sb.Write(n.URL(src))
		}
		return ast.WalkContinue, nil
	})
	return strings.TrimSpace(sb.String())
}

// linesOf joins a code block's raw lines.
func linesOf(node interface {
	Lines() *text.Segments
}, src []byte) string {
	var sb strings.Builder
	lines := node.Lines()
	for i := 0; i < lines.Len(); i++ {
		seg := lines.At(i)
		sb.Write(seg.Value(src))
	}
	return strings.TrimRight(sb.String(), "\n")
}
