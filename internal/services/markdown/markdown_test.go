package markdown

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pkrish5/xfund-deal-diligence-pipeline/internal/models"
)

func TestToBlocks_HeadingsAndParagraphs(t *testing.T) {
	translator := NewTranslator()

	blocks := translator.ToBlocks("# Market\n\nLarge and growing.\n\n## Sizing\n\n#### Deep detail\n")
	require.Len(t, blocks, 4)

	assert.Equal(t, models.BlockHeading1, blocks[0].Type)
	assert.Equal(t, "Market", blocks[0].Text)
	assert.Equal(t, models.BlockParagraph, blocks[1].Type)
	assert.Equal(t, "Large and growing.", blocks[1].Text)
	assert.Equal(t, models.BlockHeading2, blocks[2].Type)
	assert.Equal(t, models.BlockHeading3, blocks[3].Type, "deep headings clamp to heading_3")
}

func TestToBlocks_Lists(t *testing.T) {
	translator := NewTranslator()

	blocks := translator.ToBlocks("- first\n- second\n\n1. one\n2. two\n")
	require.Len(t, blocks, 4)

	assert.Equal(t, models.BlockBulletedItem, blocks[0].Type)
	assert.Equal(t, "first", blocks[0].Text)
	assert.Equal(t, models.BlockBulletedItem, blocks[1].Type)
	assert.Equal(t, models.BlockNumberedItem, blocks[2].Type)
	assert.Equal(t, "one", blocks[2].Text)
	assert.Equal(t, models.BlockNumberedItem, blocks[3].Type)
}

func TestToBlocks_NestedListsFlatten(t *testing.T) {
	translator := NewTranslator()

	blocks := translator.ToBlocks("- outer\n  - inner one\n  - inner two\n")
	require.Len(t, blocks, 3)
	assert.Equal(t, "outer", blocks[0].Text)
	assert.Equal(t, "inner one", blocks[1].Text)
	assert.Equal(t, "inner two", blocks[2].Text)
	for _, b := range blocks {
		assert.Equal(t, models.BlockBulletedItem, b.Type)
	}
}

func TestToBlocks_CodeAndQuoteAndDivider(t *testing.T) {
	translator := NewTranslator()

	blocks := translator.ToBlocks("> A strong signal.\n\n```go\nfunc main() {}\n```\n\n---\n")
	require.Len(t, blocks, 3)

	assert.Equal(t, models.BlockQuote, blocks[0].Type)
	assert.Equal(t, "A strong signal.", blocks[0].Text)
	assert.Equal(t, models.BlockCode, blocks[1].Type)
	assert.Equal(t, "go", blocks[1].Language)
	assert.Equal(t, "func main() {}", blocks[1].Text)
	assert.Equal(t, models.BlockDivider, blocks[2].Type)
}

func TestToBlocks_InlineFormattingStripsToText(t *testing.T) {
	translator := NewTranslator()

	blocks := translator.ToBlocks("Revenue grew **3x** in _two_ quarters.\n")
	require.Len(t, blocks, 1)
	assert.Equal(t, "Revenue grew 3x in two quarters.", blocks[0].Text)
}

func TestToBlocks_EmptyInput(t *testing.T) {
	translator := NewTranslator()
	assert.Empty(t, translator.ToBlocks(""))
	assert.Empty(t, translator.ToBlocks("\n\n"))
}
