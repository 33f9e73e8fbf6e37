package cart

import "sync"

// Registry keeps one transient cart per user.
type Registry struct {
	mutex    sync.Mutex
	carts    map[string]*Cart
	observer func(userID string, e Event)
}

func NewRegistry() *Registry {
	return &Registry{carts: make(map[string]*Cart)}
}

// OnEvent registers a callback attached to every cart created afterwards.
func (r *Registry) OnEvent(fn func(userID string, e Event)) {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	r.observer = fn
}

func (r *Registry) For(userID string) *Cart {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	if c, ok := r.carts[userID]; ok {
		return c
	}
	c := New()
	if fn := r.observer; fn != nil {
		c.Observe(func(e Event) { fn(userID, e) })
	}
	r.carts[userID] = c
	return c
}

// Drop forgets the user's cart, e.g. on logout.
func (r *Registry) Drop(userID string) {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	delete(r.carts, userID)
}
