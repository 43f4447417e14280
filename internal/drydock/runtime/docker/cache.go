package docker

import (
	"sync"

	"github.com/drydock-dev/drydock/internal/drydock/runtime"
)

// refCache maps sandbox IDs to container refs so repeated resolution does
// not hit the daemon. Entries are added by Create/List and removed when the
// container is deleted; there is no TTL because container identity only
// changes through those two paths.
type refCache struct {
	mu          sync.Mutex
	bySandbox   map[string]runtime.ContainerRef
	byContainer map[string]string // container ID -> sandbox ID
}

func newRefCache() *refCache {
	return &refCache{
		bySandbox:   make(map[string]runtime.ContainerRef),
		byContainer: make(map[string]string),
	}
}

func (c *refCache) put(sandboxID string, ref runtime.ContainerRef) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if old, ok := c.bySandbox[sandboxID]; ok {
		delete(c.byContainer, old.ID)
	}
	c.bySandbox[sandboxID] = ref
	c.byContainer[ref.ID] = sandboxID
}

func (c *refCache) get(sandboxID string) (runtime.ContainerRef, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	ref, ok := c.bySandbox[sandboxID]
	return ref, ok
}

func (c *refCache) invalidateContainer(containerID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if sandboxID, ok := c.byContainer[containerID]; ok {
		delete(c.bySandbox, sandboxID)
		delete(c.byContainer, containerID)
	}
}
