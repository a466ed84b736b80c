package poller

import (
	"sync/atomic"

	"github.com/jamesprial/netio-mcp/internal/netio"
)

// Cache holds the most recent successfully decoded snapshot. Readers always
// see a complete snapshot; a store replaces it wholesale.
type Cache struct {
	snap atomic.Pointer[netio.Snapshot]
}

// Load returns the cached snapshot, or nil before the first successful read.
// The returned value must not be modified.
func (c *Cache) Load() *netio.Snapshot {
	return c.snap.Load()
}

// Store replaces the cached snapshot. A nil snapshot is ignored so a failed
// read can never clear the cache.
func (c *Cache) Store(s *netio.Snapshot) {
	if s == nil {
		return
	}
	c.snap.Store(s)
}

// Outlet returns one outlet from the cached snapshot.
func (c *Cache) Outlet(id netio.OutletID) (netio.OutletState, bool) {
	return c.snap.Load().Outlet(id)
}
