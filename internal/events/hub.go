package events

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"leadwire/internal/metrics"

	"github.com/coder/websocket"
	"github.com/sirupsen/logrus"
)

type HubConfig struct {
	// Buffer is how many events a subscriber may lag behind before it is
	// disconnected.
	Buffer         int
	WriteTimeout   time.Duration
	OriginPatterns []string
}

type subscriber struct {
	msgs      chan []byte
	closeSlow func()
}

// Hub streams events to websocket subscribers of the event's tenant.
type Hub struct {
	cfg    HubConfig
	logger *logrus.Logger

	mu   sync.RWMutex
	subs map[string]map[*subscriber]struct{}
}

func NewHub(cfg HubConfig, logger *logrus.Logger) *Hub {
	if logger == nil {
		logger = logrus.New()
	}
	if cfg.Buffer <= 0 {
		cfg.Buffer = 16
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 5 * time.Second
	}
	return &Hub{cfg: cfg, logger: logger, subs: make(map[string]map[*subscriber]struct{})}
}

// Publish queues the event for every subscriber of its tenant. Subscribers
// with a full buffer are dropped.
func (h *Hub) Publish(_ context.Context, event Event) error {
	body, err := json.Marshal(event)
	if err != nil {
		return err
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for s := range h.subs[event.Tenant] {
		select {
		case s.msgs <- body:
		default:
			go s.closeSlow()
		}
	}
	return nil
}

// Subscribers returns the number of open streams for tenant.
func (h *Hub) Subscribers(tenant string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs[tenant])
}

// ServeHTTP upgrades GET /ws/events?tenant=<id> and streams until the
// client goes away.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	tenant := r.URL.Query().Get("tenant")
	if tenant == "" {
		http.Error(w, "tenant is required", http.StatusBadRequest)
		return
	}

	c, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: h.cfg.OriginPatterns})
	if err != nil {
		h.logger.WithError(err).Debug("Websocket upgrade failed")
		return
	}
	defer c.CloseNow()

	s := &subscriber{
		msgs: make(chan []byte, h.cfg.Buffer),
		closeSlow: func() {
			_ = c.Close(websocket.StatusPolicyViolation, "subscriber too slow")
		},
	}
	h.add(tenant, s)
	defer h.remove(tenant, s)

	// Clients only listen; CloseRead handles their control frames.
	ctx := c.CloseRead(r.Context())
	for {
		select {
		case msg := <-s.msgs:
			if err := h.write(ctx, c, msg); err != nil {
				h.logger.WithError(err).WithField("tenant", tenant).Debug("Websocket subscriber gone")
				return
			}
		case <-ctx.Done():
			return
		}
	}
}

func (h *Hub) write(ctx context.Context, c *websocket.Conn, msg []byte) error {
	ctx, cancel := context.WithTimeout(ctx, h.cfg.WriteTimeout)
	defer cancel()
	return c.Write(ctx, websocket.MessageText, msg)
}

func (h *Hub) add(tenant string, s *subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.subs[tenant] == nil {
		h.subs[tenant] = make(map[*subscriber]struct{})
	}
	h.subs[tenant][s] = struct{}{}
	metrics.WebsocketSubscribers.Inc()
}

func (h *Hub) remove(tenant string, s *subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.subs[tenant][s]; !ok {
		return
	}
	delete(h.subs[tenant], s)
	if len(h.subs[tenant]) == 0 {
		delete(h.subs, tenant)
	}
	metrics.WebsocketSubscribers.Dec()
}
