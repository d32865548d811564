package chat

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// Doer executes authorized HTTP requests. session.Guard satisfies it.
type Doer interface {
	Do(req *http.Request) (*http.Response, error)
}

// RESTClient talks to the chat REST endpoints for hydration and the
// operations that are not frame-based.
type RESTClient struct {
	base string
	doer Doer
}

// NewRESTClient builds a client rooted at the API base URL.
func NewRESTClient(baseURL string, doer Doer) *RESTClient {
	return &RESTClient{base: strings.TrimRight(baseURL, "/"), doer: doer}
}

type participantDTO struct {
	ID          string `json:"id"`
	DisplayName string `json:"display_name"`
	Avatar      string `json:"avatar,omitempty"`
}

type conversationDTO struct {
	ID             string            `json:"id"`
	Participants   [2]participantDTO `json:"participants"`
	LastActivityAt int64             `json:"last_activity_at"`
	UnreadCount    int               `json:"unread_count"`
}

type messageDTO struct {
	ID             string `json:"id"`
	ConversationID string `json:"conversation_id"`
	SenderID       string `json:"sender_id"`
	Body           string `json:"body"`
	Kind           string `json:"kind"`
	CreatedAt      int64  `json:"created_at"`
	DeliveredAt    *int64 `json:"delivered_at,omitempty"`
	ReadAt         *int64 `json:"read_at,omitempty"`
}

func (d conversationDTO) model() Conversation {
	c := Conversation{
		ID:             d.ID,
		LastActivityAt: time.Unix(d.LastActivityAt, 0),
		UnreadCount:    d.UnreadCount,
	}
	for i, p := range d.Participants {
		c.Participants[i] = Participant{ID: p.ID, DisplayName: p.DisplayName, AvatarRef: p.Avatar}
	}
	return c
}

func (d messageDTO) model() Message {
	m := Message{
		ID:             d.ID,
		ConversationID: d.ConversationID,
		SenderID:       d.SenderID,
		Body:           d.Body,
		Kind:           MessageKind(d.Kind),
		CreatedAt:      time.Unix(d.CreatedAt, 0),
	}
	if m.Kind == "" {
		m.Kind = KindText
	}
	if d.DeliveredAt != nil {
		at := time.Unix(*d.DeliveredAt, 0)
		m.DeliveredAt = &at
	}
	if d.ReadAt != nil {
		at := time.Unix(*d.ReadAt, 0)
		m.ReadAt = &at
	}
	return m
}

// Conversations lists the user's conversations.
func (c *RESTClient) Conversations(ctx context.Context) ([]Conversation, error) {
	var dtos []conversationDTO
	if err := c.get(ctx, "/chat/conversations/", &dtos); err != nil {
		return nil, err
	}
	out := make([]Conversation, len(dtos))
	for i, d := range dtos {
		out[i] = d.model()
	}
	return out, nil
}

// Messages lists a conversation's history.
func (c *RESTClient) Messages(ctx context.Context, conversationID string) ([]Message, error) {
	var dtos []messageDTO
	path := fmt.Sprintf("/chat/conversations/%s/messages/", conversationID)
	if err := c.get(ctx, path, &dtos); err != nil {
		return nil, err
	}
	out := make([]Message, len(dtos))
	for i, d := range dtos {
		out[i] = d.model()
	}
	return out, nil
}

// SendMessage posts a message over REST. The gateway echoes it to all
// connected devices, including this one.
func (c *RESTClient) SendMessage(ctx context.Context, conversationID, body string, kind MessageKind) (Message, error) {
	path := fmt.Sprintf("/chat/conversations/%s/messages/", conversationID)
	var dto messageDTO
	payload := map[string]string{"body": body, "kind": string(kind)}
	if err := c.post(ctx, path, payload, &dto); err != nil {
		return Message{}, err
	}
	return dto.model(), nil
}

// MarkRead tells the server the conversation was read up to now.
func (c *RESTClient) MarkRead(ctx context.Context, conversationID string) error {
	path := fmt.Sprintf("/chat/conversations/%s/read/", conversationID)
	return c.post(ctx, path, nil, nil)
}

func (c *RESTClient) get(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.base+path, nil)
	if err != nil {
		return err
	}
	return c.roundTrip(req, out)
}

func (c *RESTClient) post(ctx context.Context, path string, body, out any) error {
	var rd *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return err
		}
		rd = bytes.NewReader(data)
	} else {
		rd = bytes.NewReader(nil)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.base+path, rd)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	return c.roundTrip(req, out)
}

func (c *RESTClient) roundTrip(req *http.Request, out any) error {
	resp, err := c.doer.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("chat api: %s %s: unexpected status %d", req.Method, req.URL.Path, resp.StatusCode)
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
