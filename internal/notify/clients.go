package notify

import (
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	engine "github.com/eugener/warden/internal"
)

// Client is an open application client (a window or tab) known to the
// engine. URL tracks the client's current location for click routing.
type Client struct {
	ID          string    `json:"id"`
	URL         string    `json:"url"`
	Focused     bool      `json:"focused"`
	ConnectedAt time.Time `json:"connected_at"`
}

// ClientEventType identifies a client command emitted by the dispatcher.
type ClientEventType string

const (
	// EventFocus asks the host to bring an existing client to front.
	EventFocus ClientEventType = "focus"
	// EventOpen asks the host to open a new client at a URL.
	EventOpen ClientEventType = "open"
)

// ClientEvent is a command for the host application, delivered over the
// event stream to whichever consumer drives the actual windows.
type ClientEvent struct {
	Type     ClientEventType `json:"type"`
	ClientID string          `json:"client_id"`
	URL      string          `json:"url"`
}

// ClientRegistry tracks open application clients and fans client commands
// out to event stream subscribers. Safe for concurrent use.
type ClientRegistry struct {
	mu      sync.RWMutex
	clients map[string]*Client
	subs    map[chan ClientEvent]struct{}
}

// NewClientRegistry returns an empty registry.
func NewClientRegistry() *ClientRegistry {
	return &ClientRegistry{
		clients: make(map[string]*Client),
		subs:    make(map[chan ClientEvent]struct{}),
	}
}

// Register adds a client at the given URL and returns its record.
func (r *ClientRegistry) Register(url string) Client {
	c := &Client{
		ID:          uuid.Must(uuid.NewV7()).String(),
		URL:         url,
		ConnectedAt: time.Now(),
	}
	r.mu.Lock()
	r.clients[c.ID] = c
	r.mu.Unlock()
	return *c
}

// Unregister removes a client. Unknown IDs are ignored.
func (r *ClientRegistry) Unregister(id string) {
	r.mu.Lock()
	delete(r.clients, id)
	r.mu.Unlock()
}

// Navigate updates a client's current URL.
func (r *ClientRegistry) Navigate(id, url string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.clients[id]
	if !ok {
		return engine.ErrNotFound
	}
	c.URL = url
	return nil
}

// List returns all clients ordered by connection time.
func (r *ClientRegistry) List() []Client {
	r.mu.RLock()
	out := make([]Client, 0, len(r.clients))
	for _, c := range r.clients {
		out = append(out, *c)
	}
	r.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool {
		if out[i].ConnectedAt.Equal(out[j].ConnectedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].ConnectedAt.Before(out[j].ConnectedAt)
	})
	return out
}

// FindByURL returns the oldest client currently at url.
func (r *ClientRegistry) FindByURL(url string) (Client, bool) {
	for _, c := range r.List() {
		if c.URL == url {
			return c, true
		}
	}
	return Client{}, false
}

// Focus marks the client focused, clears focus on all others, and emits
// a focus command.
func (r *ClientRegistry) Focus(id string) error {
	r.mu.Lock()
	c, ok := r.clients[id]
	if !ok {
		r.mu.Unlock()
		return engine.ErrNotFound
	}
	for _, other := range r.clients {
		other.Focused = false
	}
	c.Focused = true
	ev := ClientEvent{Type: EventFocus, ClientID: c.ID, URL: c.URL}
	r.mu.Unlock()

	r.publish(ev)
	return nil
}

// Open registers a new focused client at url and emits an open command.
func (r *ClientRegistry) Open(url string) (Client, error) {
	c := &Client{
		ID:          uuid.Must(uuid.NewV7()).String(),
		URL:         url,
		Focused:     true,
		ConnectedAt: time.Now(),
	}
	r.mu.Lock()
	for _, other := range r.clients {
		other.Focused = false
	}
	r.clients[c.ID] = c
	r.mu.Unlock()

	r.publish(ClientEvent{Type: EventOpen, ClientID: c.ID, URL: url})
	return *c, nil
}

// Subscribe returns a channel of client commands and a cancel func.
// Slow subscribers drop events rather than blocking the dispatcher.
func (r *ClientRegistry) Subscribe() (<-chan ClientEvent, func()) {
	ch := make(chan ClientEvent, 16)
	r.mu.Lock()
	r.subs[ch] = struct{}{}
	r.mu.Unlock()

	cancel := func() {
		r.mu.Lock()
		delete(r.subs, ch)
		r.mu.Unlock()
	}
	return ch, cancel
}

func (r *ClientRegistry) publish(ev ClientEvent) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for ch := range r.subs {
		select {
		case ch <- ev:
		default:
		}
	}
}
