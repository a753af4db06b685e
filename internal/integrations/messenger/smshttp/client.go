package smshttp

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/pkg/errors"
)

// Client talks to an HTTP SMS gateway (single POST /messages endpoint).
type Client struct {
	baseURL string
	apiKey  string
	sender  string
	httpc   *http.Client
}

func New(baseURL, apiKey, sender string) *Client {
	if baseURL == "" {
		baseURL = "http://localhost:9100"
	}
	return &Client{
		baseURL: baseURL,
		apiKey:  apiKey,
		sender:  sender,
		httpc: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

type sendReq struct {
	To     string `json:"to"`
	Body   string `json:"body"`
	Sender string `json:"sender,omitempty"`
}

type sendResp struct {
	Status    string `json:"status"`
	MessageID string `json:"messageId"`
	Error     string `json:"error,omitempty"`
}

func (c *Client) Send(ctx context.Context, phone, body string) error {
	u, err := url.Parse(c.baseURL)
	if err != nil {
		return errors.Wrap(err, "parse base url")
	}
	u.Path = "/messages"

	payload, err := json.Marshal(sendReq{To: phone, Body: body, Sender: c.sender})
	if err != nil {
		return errors.Wrap(err, "marshal request")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u.String(), bytes.NewReader(payload))
	if err != nil {
		return errors.Wrap(err, "new request")
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpc.Do(req)
	if err != nil {
		return errors.Wrap(err, "do request")
	}
	defer resp.Body.Close()

	if resp.StatusCode/100 != 2 {
		return fmt.Errorf("sms gateway http %d", resp.StatusCode)
	}

	var r sendResp
	if err := json.NewDecoder(resp.Body).Decode(&r); err != nil {
		return errors.Wrap(err, "decode")
	}
	if r.Status != "ok" {
		return fmt.Errorf("sms gateway status=%s error=%s", r.Status, r.Error)
	}
	return nil
}
