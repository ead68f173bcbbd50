// Package webhook registers outbound event sinks and delivers matching events
// to them best-effort.
//
// Delivery is fire-and-forget: a failed POST is recorded and never retried,
// and never blocks the kernel.
package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/tylerbuilds/scrum-mcp/internal/clock"
	"github.com/tylerbuilds/scrum-mcp/internal/domain"
	"github.com/tylerbuilds/scrum-mcp/internal/eventbus"
	"github.com/tylerbuilds/scrum-mcp/internal/ids"
	"github.com/tylerbuilds/scrum-mcp/internal/kernelerr"
	"github.com/tylerbuilds/scrum-mcp/internal/logging"
	"github.com/tylerbuilds/scrum-mcp/internal/store"
)

// DeliveryTimeout bounds one outbound POST.
const DeliveryTimeout = 10 * time.Second

// ValidateURL enforces the outbound sink rules: https only, and never a
// loopback, private, or link-local destination.
func ValidateURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("invalid url: %v", err)
	}
	if u.Scheme != "https" {
		return fmt.Errorf("webhook url must use https")
	}
	host := u.Hostname()
	if host == "" {
		return fmt.Errorf("webhook url must carry a host")
	}
	if blockedHost(host) {
		return fmt.Errorf("webhook url targets a blocked address")
	}
	return nil
}

func blockedHost(host string) bool {
	lower := strings.ToLower(host)
	if lower == "localhost" || lower == "0.0.0.0" {
		return true
	}
	ip := net.ParseIP(host)
	if ip == nil {
		return false
	}
	if ip.IsLoopback() || ip.IsLinkLocalUnicast() || ip.IsUnspecified() {
		return true
	}
	if v4 := ip.To4(); v4 != nil {
		switch {
		case v4[0] == 10:
			return true
		case v4[0] == 172 && v4[1] >= 16 && v4[1] <= 31:
			return true
		case v4[0] == 192 && v4[1] == 168:
			return true
		}
	}
	return false
}

// Manager owns webhook registrations and the dispatch loop.
type Manager struct {
	store  *store.Store
	clock  clock.Clock
	bus    *eventbus.Bus
	logger logging.Logger
	client *http.Client
}

// New creates a webhook manager.
func New(st *store.Store, clk clock.Clock, bus *eventbus.Bus, logger logging.Logger) *Manager {
	return &Manager{
		store:  st,
		clock:  clk,
		bus:    bus,
		logger: logging.OrNop(logger),
		client: &http.Client{Timeout: DeliveryTimeout},
	}
}

// Register validates and stores a webhook. An empty events list matches every
// event type.
func (m *Manager) Register(ctx context.Context, rawURL string, events []string) (*domain.Webhook, error) {
	if err := ValidateURL(rawURL); err != nil {
		return nil, kernelerr.Validation("%v", err)
	}
	hook := &domain.Webhook{
		ID:        ids.NewWebhook(),
		URL:       rawURL,
		Events:    append([]string{}, events...),
		CreatedAt: m.clock.NowMillis(),
	}
	if err := m.store.InsertWebhook(ctx, hook); err != nil {
		return nil, err
	}
	return hook, nil
}

// Unregister deletes a webhook.
func (m *Manager) Unregister(ctx context.Context, id string) error {
	return m.store.DeleteWebhook(ctx, id)
}

// List returns all registered webhooks.
func (m *Manager) List(ctx context.Context) ([]*domain.Webhook, error) {
	return m.store.ListWebhooks(ctx)
}

// Start subscribes to the bus and dispatches events until ctx is cancelled.
func (m *Manager) Start(ctx context.Context) {
	sub := m.bus.Subscribe(eventbus.DefaultSubscriberBuffer)
	go func() {
		defer m.bus.Unsubscribe(sub)
		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-sub.Events():
				if !ok {
					return
				}
				if event.Type == eventbus.TypeHello {
					continue
				}
				m.dispatch(ctx, event)
			}
		}
	}()
}

// dispatch posts the event to every matching webhook, recording each attempt.
func (m *Manager) dispatch(ctx context.Context, event eventbus.Event) {
	hooks, err := m.store.ListWebhooks(ctx)
	if err != nil {
		m.logger.Warn("webhook dispatch: %v", err)
		return
	}
	for _, hook := range hooks {
		if !matches(hook.Events, event.Type) {
			continue
		}
		m.deliver(ctx, hook, event)
	}
}

func matches(subscribed []string, eventType string) bool {
	if len(subscribed) == 0 {
		return true
	}
	for _, s := range subscribed {
		if s == eventType {
			return true
		}
		// Prefix form: "task.*" matches every task event.
		if strings.HasSuffix(s, ".*") && strings.HasPrefix(eventType, strings.TrimSuffix(s, "*")) {
			return true
		}
	}
	return false
}

func (m *Manager) deliver(ctx context.Context, hook *domain.Webhook, event eventbus.Event) {
	record := &domain.WebhookDelivery{
		ID:        ids.NewDelivery(),
		WebhookID: hook.ID,
		EventType: event.Type,
		CreatedAt: m.clock.NowMillis(),
	}

	body, err := json.Marshal(event)
	if err != nil {
		record.Error = err.Error()
	} else {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, hook.URL, bytes.NewReader(body))
		if err != nil {
			record.Error = err.Error()
		} else {
			req.Header.Set("Content-Type", "application/json")
			resp, err := m.client.Do(req)
			if err != nil {
				record.Error = err.Error()
			} else {
				resp.Body.Close()
				record.StatusCode = resp.StatusCode
				if resp.StatusCode >= 300 {
					record.Error = "unexpected status " + strconv.Itoa(resp.StatusCode)
				}
			}
		}
	}

	if record.Error != "" {
		m.logger.Warn("webhook %s delivery of %s failed: %s", hook.ID, event.Type, record.Error)
	}
	if err := m.store.InsertWebhookDelivery(ctx, record); err != nil {
		m.logger.Warn("webhook delivery record: %v", err)
	}
}
