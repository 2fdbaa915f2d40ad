package daemon

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/fetcharr/fetcharr/internal/arr"
	"github.com/fetcharr/fetcharr/internal/model"
	"github.com/fetcharr/fetcharr/internal/secrets"
)

// clientCache hands out one arr client per connector, decrypting the API key
// just in time. Entries are invalidated when the connector's URL or stored
// ciphertext changes, so credential rotations take effect on the next call.
type clientCache struct {
	box     *secrets.Box
	factory arr.Factory

	mu      sync.Mutex
	entries map[int64]cachedClient
}

type cachedClient struct {
	client arr.ClientInterface
	url    string
	cipher string
}

func newClientCache(box *secrets.Box, factory arr.Factory) *clientCache {
	if factory == nil {
		factory = func(base, apiKey string) arr.ClientInterface {
			return arr.New(base, apiKey, arr.Options{Timeout: 30 * time.Second})
		}
	}
	return &clientCache{
		box:     box,
		factory: factory,
		entries: make(map[int64]cachedClient),
	}
}

// Resolve satisfies the ClientResolver contract shared by the queue engine,
// the syncer, the reconnect controller and the command monitor.
func (c *clientCache) Resolve(_ context.Context, conn *model.Connector) (arr.ClientInterface, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if e, ok := c.entries[conn.ID]; ok && e.url == conn.URL && e.cipher == conn.APIKeyEncrypted {
		return e.client, nil
	}
	apiKey, err := c.box.Decrypt(conn.APIKeyEncrypted)
	if err != nil {
		return nil, fmt.Errorf("daemon: decrypt api key for connector %d: %w", conn.ID, err)
	}
	client := c.factory(conn.URL, apiKey)
	c.entries[conn.ID] = cachedClient{client: client, url: conn.URL, cipher: conn.APIKeyEncrypted}
	return client, nil
}

// Evict drops a cached client, forcing a rebuild on the next resolve.
func (c *clientCache) Evict(connectorID int64) {
	c.mu.Lock()
	delete(c.entries, connectorID)
	c.mu.Unlock()
}
