// Package restapi is the HTTP client for the chat REST collaborator.
package restapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"rtclient/internal/domain"
)

const defaultTimeout = 15 * time.Second

// Client implements domain.ChatAPI against the server's /chat routes.
type Client struct {
	baseURL string
	token   string
	http    *http.Client
}

var _ domain.ChatAPI = (*Client)(nil)

func NewClient(baseURL, token string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: defaultTimeout}
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		http:    httpClient,
	}
}

// APIError is a non-2xx response. It unwraps to the matching domain sentinel.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("chat api: status %d", e.Status)
	}
	return fmt.Sprintf("chat api: status %d: %s", e.Status, e.Message)
}

func (e *APIError) Unwrap() error {
	switch e.Status {
	case http.StatusBadRequest, http.StatusUnprocessableEntity:
		return domain.ErrInvalidInput
	case http.StatusUnauthorized:
		return domain.ErrUnauthorized
	case http.StatusForbidden:
		return domain.ErrForbidden
	case http.StatusNotFound:
		return domain.ErrNotFound
	case http.StatusConflict:
		return domain.ErrConflict
	}
	return domain.ErrInternal
}

func (c *Client) ListConversations(ctx context.Context) ([]domain.Conversation, error) {
	var out []domain.Conversation
	if err := c.do(ctx, http.MethodGet, "/chat/channels", nil, &out); err != nil {
		return nil, fmt.Errorf("list conversations: %w", err)
	}
	return out, nil
}

func (c *Client) GetConversation(ctx context.Context, id string) (*domain.Conversation, error) {
	var out domain.Conversation
	if err := c.do(ctx, http.MethodGet, "/chat/channels/"+url.PathEscape(id), nil, &out); err != nil {
		return nil, fmt.Errorf("get conversation %s: %w", id, err)
	}
	return &out, nil
}

// ListMessages returns one page of a conversation's history, oldest first.
func (c *Client) ListMessages(ctx context.Context, conversationID string, limit, offset int) ([]domain.Message, error) {
	q := url.Values{}
	q.Set("limit", strconv.Itoa(limit))
	q.Set("offset", strconv.Itoa(offset))
	path := "/chat/channels/" + url.PathEscape(conversationID) + "/messages?" + q.Encode()

	var out []domain.Message
	if err := c.do(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, fmt.Errorf("list messages %s: %w", conversationID, err)
	}
	return out, nil
}

func (c *Client) CreateConversation(ctx context.Context, in domain.CreateConversationInput) (*domain.Conversation, error) {
	var out domain.Conversation
	if err := c.do(ctx, http.MethodPost, "/chat/channels", in, &out); err != nil {
		return nil, fmt.Errorf("create conversation: %w", err)
	}
	return &out, nil
}

type directRequest struct {
	UserID string `json:"user_id"`
}

// CreateDirectConversation returns the existing direct conversation with
// userID when the server already has one.
func (c *Client) CreateDirectConversation(ctx context.Context, userID string) (*domain.Conversation, error) {
	var out domain.Conversation
	if err := c.do(ctx, http.MethodPost, "/chat/channels/direct", directRequest{UserID: userID}, &out); err != nil {
		return nil, fmt.Errorf("create direct conversation: %w", err)
	}
	return &out, nil
}

type membersRequest struct {
	UserIDs []string `json:"user_ids"`
}

func (c *Client) AddMembers(ctx context.Context, conversationID string, userIDs []string) (*domain.Conversation, error) {
	var out domain.Conversation
	path := "/chat/channels/" + url.PathEscape(conversationID) + "/members"
	if err := c.do(ctx, http.MethodPost, path, membersRequest{UserIDs: userIDs}, &out); err != nil {
		return nil, fmt.Errorf("add members: %w", err)
	}
	return &out, nil
}

func (c *Client) RemoveMember(ctx context.Context, conversationID, userID string) (*domain.Conversation, error) {
	var out domain.Conversation
	path := "/chat/channels/" + url.PathEscape(conversationID) + "/members/" + url.PathEscape(userID)
	if err := c.do(ctx, http.MethodDelete, path, nil, &out); err != nil {
		return nil, fmt.Errorf("remove member: %w", err)
	}
	if out.ID == "" {
		return nil, nil
	}
	return &out, nil
}

func (c *Client) DeleteConversation(ctx context.Context, conversationID string) error {
	if err := c.do(ctx, http.MethodDelete, "/chat/channels/"+url.PathEscape(conversationID), nil, nil); err != nil {
		return fmt.Errorf("delete conversation: %w", err)
	}
	return nil
}

type errorBody struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode/100 != 2 {
		var eb errorBody
		_ = json.NewDecoder(io.LimitReader(resp.Body, 64<<10)).Decode(&eb)
		msg := eb.Error
		if msg == "" {
			msg = eb.Message
		}
		return &APIError{Status: resp.StatusCode, Message: msg}
	}

	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
