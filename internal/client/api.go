package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"securechat/internal/models"
)

// APIClient speaks the persistence path: message storage, history,
// read receipts and reply suggestions over the REST API.
type APIClient struct {
	BaseURL    string
	Token      string
	HTTPClient *http.Client
}

func NewAPIClient(baseURL, token string) *APIClient {
	return &APIClient{
		BaseURL:    baseURL,
		Token:      token,
		HTTPClient: &http.Client{Timeout: 10 * time.Second},
	}
}

func (c *APIClient) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, reader)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.Token)

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var apiErr struct {
			Error string `json:"error"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&apiErr); err == nil && apiErr.Error != "" {
			return fmt.Errorf("%s %s: %s (status %d)", method, path, apiErr.Error, resp.StatusCode)
		}
		return fmt.Errorf("%s %s: unexpected status %d", method, path, resp.StatusCode)
	}

	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// SendMessage persists a ciphertext envelope and returns the stored
// record (readBy initialized to the sender).
func (c *APIClient) SendMessage(ctx context.Context, groupID, ciphertext string) (models.Message, error) {
	var out struct {
		Message models.Message `json:"message"`
	}
	err := c.do(ctx, http.MethodPost, "/api/messages", map[string]string{
		"group_id": groupID,
		"content":  ciphertext,
	}, &out)
	return out.Message, err
}

// GroupMessages fetches the full persisted history, ciphertext as
// stored, ascending by creation time.
func (c *APIClient) GroupMessages(ctx context.Context, groupID string) ([]models.Message, error) {
	var out struct {
		Messages []models.Message `json:"messages"`
	}
	err := c.do(ctx, http.MethodGet, "/api/messages/group/"+groupID, nil, &out)
	return out.Messages, err
}

func (c *APIClient) MarkRead(ctx context.Context, messageID string) error {
	return c.do(ctx, http.MethodPost, "/api/messages/"+messageID+"/read", nil, nil)
}

func (c *APIClient) Suggestions(ctx context.Context, messageID string) ([]models.Suggestion, error) {
	var out struct {
		Suggestions []models.Suggestion `json:"suggestions"`
	}
	err := c.do(ctx, http.MethodGet, "/api/messages/"+messageID+"/suggestions", nil, &out)
	return out.Suggestions, err
}
