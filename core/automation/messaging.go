package automation

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"fathom-crm/core/store"
)

type FlowMessage struct {
	FlowID    string         `json:"flow_id"`
	Phone     string         `json:"phone"`
	FirstName string         `json:"first_name"`
	LastName  string         `json:"last_name,omitempty"`
	Variables map[string]any `json:"variables,omitempty"`
}

type FlowSender interface {
	SendFlow(ctx context.Context, settings *store.MessagingSettings, msg FlowMessage) error
}

type HTTPFlowSender struct {
	client *http.Client
}

func NewHTTPFlowSender(timeout time.Duration) *HTTPFlowSender {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &HTTPFlowSender{client: &http.Client{Timeout: timeout}}
}

func (s *HTTPFlowSender) SendFlow(ctx context.Context, settings *store.MessagingSettings, msg FlowMessage) error {
	if settings == nil || strings.TrimSpace(settings.Endpoint) == "" || strings.TrimSpace(settings.APIKey) == "" {
		return errors.New("messaging endpoint or api key missing")
	}
	if strings.TrimSpace(msg.Phone) == "" {
		return errors.New("empty phone")
	}
	raw, _ := json.Marshal(msg)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, strings.TrimRight(settings.Endpoint, "/")+"/flows/send", bytes.NewReader(raw))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+settings.APIKey)
	resp, err := s.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	return fmt.Errorf("messaging api status %d", resp.StatusCode)
}

// NormalizePhone strips formatting and known dialing prefixes and returns
// an international number. Bare digit strings of at least ten digits get a
// plus prefix.
func NormalizePhone(raw string) string {
	var digits strings.Builder
	plus := false
	for i, r := range strings.TrimSpace(raw) {
		if r == '+' && i == 0 {
			plus = true
			continue
		}
		if r >= '0' && r <= '9' {
			digits.WriteRune(r)
		}
	}
	num := digits.String()
	if num == "" {
		return ""
	}
	if strings.HasPrefix(num, "00") {
		num = num[2:]
		plus = true
	}
	if plus {
		return "+" + num
	}
	if len(num) >= 10 {
		return "+" + num
	}
	return num
}

// SplitName splits a full name into first and last. Everything after the
// first word is the last name.
func SplitName(full string) (string, string) {
	parts := strings.Fields(strings.TrimSpace(full))
	if len(parts) == 0 {
		return "", ""
	}
	if len(parts) == 1 {
		return parts[0], ""
	}
	return parts[0], strings.Join(parts[1:], " ")
}
