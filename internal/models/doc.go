package models

// BlockType is the document provider's block vocabulary, reduced to the
// subset the markdown translator emits.
type BlockType string

const (
	BlockHeading1     BlockType = "heading_1"
	BlockHeading2     BlockType = "heading_2"
	BlockHeading3     BlockType = "heading_3"
	BlockParagraph    BlockType = "paragraph"
	BlockBulletedItem BlockType = "bulleted_list_item"
	BlockNumberedItem BlockType = "numbered_list_item"
	BlockQuote        BlockType = "quote"
	BlockCode         BlockType = "code"
	BlockDivider      BlockType = "divider"
	BlockCallout      BlockType = "callout"
)

// DocBlock is one block written to a document page. Text is plain; inline
// markdown formatting is flattened by the translator.
type DocBlock struct {
	Type     BlockType `json:"type"`
	Text     string    `json:"text,omitempty"`
	Language string    `json:"language,omitempty"` // Code blocks only
	URL      string    `json:"url,omitempty"`      // Optional link target (sources lists)
}
