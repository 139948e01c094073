// Package tasks implements the task-manager provider client. The API wraps
// every payload in a "data" object and addresses records by GID.
package tasks

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/pkrish5/xfund-deal-diligence-pipeline/internal/common"
	"github.com/pkrish5/xfund-deal-diligence-pipeline/internal/interfaces"
	"github.com/pkrish5/xfund-deal-diligence-pipeline/internal/services/secrets"
)

// Client talks to the task-manager REST API.
type Client struct {
	baseURL     string
	client      *http.Client
	secretCache interfaces.SecretSource
	logger      arbor.ILogger
}

// NewClient creates a tasks client.
func NewClient(config *common.TasksConfig, secretCache interfaces.SecretSource, logger arbor.ILogger) *Client {
	return &Client{
		baseURL:     config.BaseURL,
		client:      &http.Client{Timeout: 30 * time.Second},
		secretCache: secretCache,
		logger:      logger,
	}
}

type apiMembership struct {
	Project struct {
		GID string `json:"gid"`
	} `json:"project"`
	Section struct {
		GID string `json:"gid"`
	} `json:"section"`
}

type apiTask struct {
	GID         string          `json:"gid"`
	Name        string          `json:"name"`
	Notes       string          `json:"notes"`
	Completed   bool            `json:"completed"`
	ModifiedAt  string          `json:"modified_at"`
	Memberships []apiMembership `json:"memberships"`
}

func (t *apiTask) toRecord() *interfaces.TaskRecord {
	record := &interfaces.TaskRecord{
		GID:        t.GID,
		Name:       t.Name,
		Notes:      t.Notes,
		Completed:  t.Completed,
		ModifiedAt: t.ModifiedAt,
	}
	for _, m := range t.Memberships {
		record.Memberships = append(record.Memberships, interfaces.TaskMembership{
			ProjectGID: m.Project.GID,
			SectionGID: m.Section.GID,
		})
	}
	return record
}

const taskFields = "gid,name,notes,completed,modified_at,memberships.project.gid,memberships.section.gid"

// GetTask fetches one task with its project memberships.
func (c *Client) GetTask(ctx context.Context, taskGID string) (*interfaces.TaskRecord, error) {
	var resp struct {
		Data apiTask `json:"data"`
	}
	path := fmt.Sprintf("/tasks/%s?opt_fields=%s", url.PathEscape(taskGID), url.QueryEscape(taskFields))
	if err := c.do(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return nil, fmt.Errorf("failed to fetch task %s: %w", taskGID, err)
	}
	return resp.Data.toRecord(), nil
}

// CreateTask creates a task in the project and, when a section is given,
// moves it there in a second call. The provider has no single-shot
// create-in-section operation.
func (c *Client) CreateTask(ctx context.Context, req *interfaces.NewTaskRequest) (*interfaces.TaskRecord, error) {
	body := map[string]interface{}{
		"data": map[string]interface{}{
			"name":     req.Name,
			"notes":    req.Notes,
			"projects": []string{req.ProjectGID},
		},
	}
	var resp struct {
		Data apiTask `json:"data"`
	}
	if err := c.do(ctx, http.MethodPost, "/tasks", body, &resp); err != nil {
		return nil, fmt.Errorf("failed to create task %q: %w", req.Name, err)
	}
	created := resp.Data.toRecord()

	if req.SectionGID != "" {
		movePath := fmt.Sprintf("/sections/%s/addTask", url.PathEscape(req.SectionGID))
		moveBody := map[string]interface{}{
			"data": map[string]string{"task": created.GID},
		}
		if err := c.do(ctx, http.MethodPost, movePath, moveBody, nil); err != nil {
			return nil, fmt.Errorf("failed to move task %s into section %s: %w", created.GID, req.SectionGID, err)
		}
	}

	c.logger.Debug().
		Str("task_gid", created.GID).
		Str("section_gid", req.SectionGID).
		Msg("Task created")
	return created, nil
}

// CreateSubtask creates a subtask under the parent.
func (c *Client) CreateSubtask(ctx context.Context, parentGID, name, notes string) (*interfaces.TaskRecord, error) {
	body := map[string]interface{}{
		"data": map[string]string{
			"name":  name,
			"notes": notes,
		},
	}
	var resp struct {
		Data apiTask `json:"data"`
	}
	path := fmt.Sprintf("/tasks/%s/subtasks", url.PathEscape(parentGID))
	if err := c.do(ctx, http.MethodPost, path, body, &resp); err != nil {
		return nil, fmt.Errorf("failed to create subtask %q under %s: %w", name, parentGID, err)
	}
	return resp.Data.toRecord(), nil
}

// UpdateTaskNotes replaces the task's notes.
func (c *Client) UpdateTaskNotes(ctx context.Context, taskGID, notes string) error {
	body := map[string]interface{}{
		"data": map[string]string{"notes": notes},
	}
	path := fmt.Sprintf("/tasks/%s", url.PathEscape(taskGID))
	if err := c.do(ctx, http.MethodPut, path, body, nil); err != nil {
		return fmt.Errorf("failed to update notes on task %s: %w", taskGID, err)
	}
	return nil
}

// CompleteTask marks the task completed.
func (c *Client) CompleteTask(ctx context.Context, taskGID string) error {
	body := map[string]interface{}{
		"data": map[string]bool{"completed": true},
	}
	path := fmt.Sprintf("/tasks/%s", url.PathEscape(taskGID))
	if err := c.do(ctx, http.MethodPut, path, body, nil); err != nil {
		return fmt.Errorf("failed to complete task %s: %w", taskGID, err)
	}
	return nil
}

// CreateWebhook registers a webhook on the resource. The provider answers
// the registration with a handshake request to the target before this call
// returns.
func (c *Client) CreateWebhook(ctx context.Context, resourceGID, target string) (*interfaces.WebhookInfo, error) {
	body := map[string]interface{}{
		"data": map[string]string{
			"resource": resourceGID,
			"target":   target,
		},
	}
	var resp struct {
		Data struct {
			GID      string `json:"gid"`
			Resource struct {
				GID string `json:"gid"`
			} `json:"resource"`
			Target string `json:"target"`
		} `json:"data"`
	}
	if err := c.do(ctx, http.MethodPost, "/webhooks", body, &resp); err != nil {
		return nil, fmt.Errorf("failed to create webhook on %s: %w", resourceGID, err)
	}
	return &interfaces.WebhookInfo{
		GID:      resp.Data.GID,
		Resource: resp.Data.Resource.GID,
		Target:   resp.Data.Target,
	}, nil
}

// DeleteWebhook removes a webhook registration.
func (c *Client) DeleteWebhook(ctx context.Context, webhookGID string) error {
	path := fmt.Sprintf("/webhooks/%s", url.PathEscape(webhookGID))
	if err := c.do(ctx, http.MethodDelete, path, nil, nil); err != nil {
		return fmt.Errorf("failed to delete webhook %s: %w", webhookGID, err)
	}
	return nil
}

func (c *Client) do(ctx context.Context, method, path string, body, out interface{}) error {
	apiKey, err := c.secretCache.Get(ctx, secrets.NameTasksAPIKey)
	if err != nil {
		return fmt.Errorf("failed to resolve tasks credentials: %w", err)
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
		return fmt.Errorf("tasks API returned %d: %s", resp.StatusCode, string(data))
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
