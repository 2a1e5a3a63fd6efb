package exchange

import (
	"errors"
	"fmt"
	"slices"
	"sync"
)

// Container is a thread-safe set of client singletons keyed by exchange name.
type Container struct {
	mu        sync.Mutex
	exchanges map[string]Client
}

// NewContainer creates and returns a new empty exchange container.
func NewContainer() *Container {
	return &Container{
		exchanges: make(map[string]Client),
	}
}

// GetOrCreate returns the client registered under name, calling create at most
// once per name. Concurrent callers wait for the first construction to finish.
// A failed construction is not cached.
func (c *Container) GetOrCreate(name string, create func() (Client, error)) (Client, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if ex, ok := c.exchanges[name]; ok {
		return ex, nil
	}
	ex, err := create()
	if err != nil {
		return nil, err
	}
	c.exchanges[name] = ex
	return ex, nil
}

// Names returns the registered exchange names in sorted order.
func (c *Container) Names() []string {
	c.mu.Lock()
	defer c.mu.Unlock()

	names := make([]string, 0, len(c.exchanges))
	for name := range c.exchanges {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// Close closes and removes every client. All close errors are returned joined.
func (c *Container) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	var errs []error
	for name, ex := range c.exchanges {
		if err := ex.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close %s: %w", name, err))
		}
	}
	c.exchanges = make(map[string]Client)
	return errors.Join(errs...)
}
