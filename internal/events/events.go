// Package events carries state changes from the core (session, search flow,
// auth failures) to whatever presentation layer is attached.
package events

import (
	"sync"

	evbus "github.com/asaskevich/EventBus"
)

const (
	// Payload: *models.User, nil when the session is gone
	TopicSessionChanged = "session:changed"

	// Payload: path the user is sent to
	TopicSignInRequired = "auth:signin-required"

	// Payload: orchestrator.State
	TopicSearchState = "search:state"
)

// Paths where the user is already unauthenticated and must not be redirected
const (
	PathSignIn = "/signin"
	PathSignUp = "/signup"
)

// Bus is a synchronous in-process bus: handlers run on the publisher goroutine.
// Handlers must not publish from inside a handler.
type Bus struct {
	bus evbus.Bus
}

func New() *Bus {
	return &Bus{bus: evbus.New()}
}

func (b *Bus) Publish(topic string, args ...any) {
	b.bus.Publish(topic, args...)
}

func (b *Bus) Subscribe(topic string, fn any) error {
	return b.bus.Subscribe(topic, fn)
}

func (b *Bus) Unsubscribe(topic string, fn any) error {
	return b.bus.Unsubscribe(topic, fn)
}

// Navigator tracks where the user currently is and turns redirect requests into events
type Navigator struct {
	mu   sync.Mutex
	path string
	bus  *Bus
}

func NewNavigator(bus *Bus, path string) *Navigator {
	return &Navigator{bus: bus, path: path}
}

func (n *Navigator) CurrentPath() string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.path
}

// Navigate records a location change made by the presentation layer
func (n *Navigator) Navigate(path string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.path = path
}

// Redirect moves to path and announces it
func (n *Navigator) Redirect(path string) {
	n.Navigate(path)
	n.bus.Publish(TopicSignInRequired, path)
}
