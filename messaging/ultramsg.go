package messaging

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/bytedance/sonic"

	"taskboard/domain"
)

// UltraMsg sends chat messages through the UltraMsg HTTP API.
type UltraMsg struct {
	endpoint string
	token    string
	http     *http.Client
}

// NewUltraMsg creates a client for the given instance.
func NewUltraMsg(baseURL, instance, token string, timeout time.Duration) (*UltraMsg, error) {
	if strings.TrimSpace(instance) == "" || strings.TrimSpace(token) == "" {
		return nil, fmt.Errorf("ultramsg: instance and token are required")
	}
	u, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("ultramsg: parse base url: %w", err)
	}
	if u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("ultramsg: base url %q must be absolute", baseURL)
	}
	return &UltraMsg{
		endpoint: u.String() + "/" + url.PathEscape(instance) + "/messages/chat",
		token:    token,
		http:     &http.Client{Timeout: timeout},
	}, nil
}

// Send posts a single chat message. Any 2xx answer without an error payload
// counts as sent.
func (u *UltraMsg) Send(ctx context.Context, to, body string) error {
	form := url.Values{}
	form.Set("token", u.token)
	form.Set("to", to)
	form.Set("body", body)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u.endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("send message: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := u.http.Do(req)
	if err != nil {
		return &domain.NetworkError{Op: "send message", Err: err}
	}
	defer resp.Body.Close()
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4<<10))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &domain.NetworkError{Op: "send message", Err: fmt.Errorf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(raw)))}
	}
	var answer struct {
		Error any `json:"error"`
	}
	if err := sonic.Unmarshal(raw, &answer); err == nil && answer.Error != nil {
		return &domain.RejectedUpdate{Op: "send message", StatusCode: resp.StatusCode, Message: fmt.Sprint(answer.Error)}
	}
	return nil
}
