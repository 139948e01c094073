// Package docs implements the document provider client: page creation,
// block append/removal and plain-text extraction. Pages form the per-deal
// workspace (root plus five children).
package docs

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/pkrish5/xfund-deal-diligence-pipeline/internal/common"
	"github.com/pkrish5/xfund-deal-diligence-pipeline/internal/interfaces"
	"github.com/pkrish5/xfund-deal-diligence-pipeline/internal/models"
	"github.com/pkrish5/xfund-deal-diligence-pipeline/internal/services/secrets"
)

// Client talks to the document provider's REST API.
type Client struct {
	baseURL     string
	client      *http.Client
	secretCache interfaces.SecretSource
	logger      arbor.ILogger
}

// NewClient creates a docs client.
func NewClient(config *common.DocsConfig, secretCache interfaces.SecretSource, logger arbor.ILogger) *Client {
	return &Client{
		baseURL:     config.BaseURL,
		client:      &http.Client{Timeout: 30 * time.Second},
		secretCache: secretCache,
		logger:      logger,
	}
}

type richText struct {
	Type string `json:"type"`
	Text struct {
		Content string `json:"content"`
	} `json:"text"`
	PlainText string `json:"plain_text,omitempty"`
}

func newRichText(content string) []richText {
	rt := richText{Type: "text"}
	rt.Text.Content = content
	return []richText{rt}
}

// CreatePage creates a page under the parent.
func (c *Client) CreatePage(ctx context.Context, parentID, title string) (*interfaces.DocPage, error) {
	body := map[string]interface{}{
		"parent": map[string]string{"page_id": parentID},
		"properties": map[string]interface{}{
			"title": map[string]interface{}{"title": newRichText(title)},
		},
	}
	var resp struct {
		ID  string `json:"id"`
		URL string `json:"url"`
	}
	if err := c.do(ctx, http.MethodPost, "/pages", body, &resp); err != nil {
		return nil, fmt.Errorf("failed to create page %q: %w", title, err)
	}

	c.logger.Debug().Str("page_id", resp.ID).Str("title", title).Msg("Document page created")
	return &interfaces.DocPage{ID: resp.ID, Title: title, URL: resp.URL}, nil
}

// blockPayload converts one DocBlock into the provider's block object.
func blockPayload(block models.DocBlock) map[string]interface{} {
	payload := map[string]interface{}{
		"object": "block",
		"type":   string(block.Type),
	}
	switch block.Type {
	case models.BlockDivider:
		payload[string(block.Type)] = map[string]interface{}{}
	case models.BlockCode:
		language := block.Language
		if language == "" {
			language = "plain text"
		}
		payload[string(block.Type)] = map[string]interface{}{
			"rich_text": newRichText(block.Text),
			"language":  language,
		}
	default:
		content := map[string]interface{}{
			"rich_text": newRichText(block.Text),
		}
		if block.URL != "" {
			content["rich_text"] = []map[string]interface{}{{
				"type": "text",
				"text": map[string]interface{}{
					"content": block.Text,
					"link":    map[string]string{"url": block.URL},
				},
			}}
		}
		payload[string(block.Type)] = content
	}
	return payload
}

// AppendBlocks appends blocks to the page in order. The provider caps one
// append at 100 blocks, so longer lists are chunked.
func (c *Client) AppendBlocks(ctx context.Context, pageID string, blocks []models.DocBlock) error {
	const chunkSize = 100
	for start := 0; start < len(blocks); start += chunkSize {
		end := start + chunkSize
		if end > len(blocks) {
			end = len(blocks)
		}
		children := make([]map[string]interface{}, 0, end-start)
		for _, block := range blocks[start:end] {
			children = append(children, blockPayload(block))
		}
		body := map[string]interface{}{"children": children}
		path := fmt.Sprintf("/blocks/%s/children", url.PathEscape(pageID))
		if err := c.do(ctx, http.MethodPatch, path, body, nil); err != nil {
			return fmt.Errorf("failed to append blocks to %s: %w", pageID, err)
		}
	}
	return nil
}

type childrenResponse struct {
	Results    []json.RawMessage `json:"results"`
	HasMore    bool              `json:"has_more"`
	NextCursor string            `json:"next_cursor"`
}

// listChildren enumerates all block IDs and their plain text.
func (c *Client) listChildren(ctx context.Context, pageID string) (ids []string, texts []string, err error) {
	cursor := ""
	for {
		path := fmt.Sprintf("/blocks/%s/children?page_size=100", url.PathEscape(pageID))
		if cursor != "" {
			path += "&start_cursor=" + url.QueryEscape(cursor)
		}
		var resp childrenResponse
		if err := c.do(ctx, http.MethodGet, path, nil, &resp); err != nil {
			return nil, nil, err
		}

		for _, raw := range resp.Results {
			var header struct {
				ID   string `json:"id"`
				Type string `json:"type"`
			}
			if err := json.Unmarshal(raw, &header); err != nil {
				continue
			}
			ids = append(ids, header.ID)

			// The typed content lives under a key named after the type.
			var generic map[string]json.RawMessage
			if err := json.Unmarshal(raw, &generic); err != nil {
				continue
			}
			content, ok := generic[header.Type]
			if !ok {
				continue
			}
			var typed struct {
				RichText []richText `json:"rich_text"`
			}
			if err := json.Unmarshal(content, &typed); err != nil {
				continue
			}
			var sb strings.Builder
			for _, rt := range typed.RichText {
				if rt.PlainText != "" {
					sb.WriteString(rt.PlainText)
				} else {
					sb.WriteString(rt.Text.Content)
				}
			}
			if sb.Len() > 0 {
				texts = append(texts, sb.String())
			}
		}

		if !resp.HasMore || resp.NextCursor == "" {
			return ids, texts, nil
		}
		cursor = resp.NextCursor
	}
}

// GetPageText returns the page's plain text, one line per block.
func (c *Client) GetPageText(ctx context.Context, pageID string) (string, error) {
	_, texts, err := c.listChildren(ctx, pageID)
	if err != nil {
		return "", fmt.Errorf("failed to read page %s: %w", pageID, err)
	}
	return strings.Join(texts, "\n"), nil
}

// ClearPage removes every existing block from the page. Used to drop
// placeholder content before research output is written.
func (c *Client) ClearPage(ctx context.Context, pageID string) error {
	ids, _, err := c.listChildren(ctx, pageID)
	if err != nil {
		return fmt.Errorf("failed to enumerate page %s: %w", pageID, err)
	}
	for _, id := range ids {
		path := fmt.Sprintf("/blocks/%s", url.PathEscape(id))
		if err := c.do(ctx, http.MethodDelete, path, nil, nil); err != nil {
			return fmt.Errorf("failed to delete block %s: %w", id, err)
		}
	}
	return nil
}

func (c *Client) do(ctx context.Context, method, path string, body, out interface{}) error {
	apiKey, err := c.secretCache.Get(ctx, secrets.NameDocsAPIKey)
	if err != nil {
		return fmt.Errorf("failed to resolve docs credentials: %w", err)
	}

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+apiKey)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return fmt.Errorf("docs API returned %d: %s", resp.StatusCode, string(data))
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
