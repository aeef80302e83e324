package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"streakline/internal/config"
	"streakline/internal/domain"
)

const defaultWebhookTimeout = 5 * time.Second

// WebhookNotifier POSTs each fact as JSON to every enabled hook whose fact
// filter matches.
type WebhookNotifier struct {
	Hooks  []config.WebhookConfig
	Client *http.Client
	Now    func() time.Time
}

func NewWebhookNotifier(hooks []config.WebhookConfig) *WebhookNotifier {
	var enabled []config.WebhookConfig
	for _, hook := range hooks {
		if hook.Enabled && strings.TrimSpace(hook.URL) != "" {
			enabled = append(enabled, hook)
		}
	}
	return &WebhookNotifier{
		Hooks:  enabled,
		Client: &http.Client{Timeout: defaultWebhookTimeout},
		Now:    time.Now,
	}
}

type webhookDelivery struct {
	DeliveryID string          `json:"delivery_id"`
	Kind       string          `json:"kind"`
	Target     Target          `json:"target"`
	TS         string          `json:"ts"`
	Fact       json.RawMessage `json:"fact"`
}

func (w *WebhookNotifier) Notify(ctx context.Context, target Target, fact domain.Fact) error {
	if len(w.Hooks) == 0 {
		return nil
	}
	factJSON, err := json.Marshal(fact)
	if err != nil {
		return fmt.Errorf("marshal fact %s: %w", fact.FactKind(), err)
	}
	now := time.Now
	if w.Now != nil {
		now = w.Now
	}
	body := webhookDelivery{
		DeliveryID: uuid.NewString(),
		Kind:       fact.FactKind(),
		Target:     target,
		TS:         now().UTC().Format(time.RFC3339),
		Fact:       factJSON,
	}
	data, err := json.Marshal(body)
	if err != nil {
		return err
	}
	var errs []string
	for _, hook := range w.Hooks {
		if !newFactFilter(hook.Facts).match(body.Kind) {
			continue
		}
		if err := w.post(ctx, hook, body, data); err != nil {
			errs = append(errs, fmt.Sprintf("%s: %v", hook.URL, err))
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("webhook delivery failed: %s", strings.Join(errs, "; "))
	}
	return nil
}

func (w *WebhookNotifier) post(ctx context.Context, hook config.WebhookConfig, body webhookDelivery, data []byte) error {
	client := w.Client
	if client == nil || client.Timeout != hook.Timeout() {
		client = &http.Client{Timeout: hook.Timeout()}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, hook.URL, bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Streakline-Fact", body.Kind)
	req.Header.Set("X-Streakline-Delivery", body.DeliveryID)
	if strings.TrimSpace(hook.Secret) != "" {
		req.Header.Set("X-Streakline-Secret", hook.Secret)
	}
	res, err := client.Do(req)
	if err != nil {
		return err
	}
	defer res.Body.Close()
	if res.StatusCode < 200 || res.StatusCode >= 300 {
		bodyBytes, _ := io.ReadAll(io.LimitReader(res.Body, 4096))
		return fmt.Errorf("status %d: %s", res.StatusCode, strings.TrimSpace(string(bodyBytes)))
	}
	return nil
}

type factFilter struct {
	all bool
	set map[string]struct{}
}

func newFactFilter(kinds []string) factFilter {
	set := make(map[string]struct{}, len(kinds))
	for _, kind := range kinds {
		key := strings.TrimSpace(kind)
		if key == "" {
			continue
		}
		set[key] = struct{}{}
	}
	if len(set) == 0 {
		return factFilter{all: true}
	}
	return factFilter{set: set}
}

func (f factFilter) match(kind string) bool {
	if f.all {
		return true
	}
	_, ok := f.set[kind]
	return ok
}
