// Package cache holds read-side results keyed by tenant and scope, with
// whole-tenant eviction. Writers invalidate a tenant after every successful
// aggregate change, so cached reads are never stale across a write the same
// process performed.
package cache

import (
	"strings"

	lru "github.com/hashicorp/golang-lru/v2"
)

const sep = "\x00"

// Tenant is an LRU cache of V keyed by (tenant, scope).
type Tenant[V any] struct {
	entries *lru.Cache[string, V]
}

func New[V any](size int) (*Tenant[V], error) {
	entries, err := lru.New[string, V](size)
	if err != nil {
		return nil, err
	}
	return &Tenant[V]{entries: entries}, nil
}

func key(tenantID, scope string) string {
	return tenantID + sep + scope
}

func (c *Tenant[V]) Get(tenantID, scope string) (V, bool) {
	return c.entries.Get(key(tenantID, scope))
}

func (c *Tenant[V]) Put(tenantID, scope string, v V) {
	c.entries.Add(key(tenantID, scope), v)
}

// Invalidate drops every entry belonging to tenantID.
func (c *Tenant[V]) Invalidate(tenantID string) {
	prefix := tenantID + sep
	for _, k := range c.entries.Keys() {
		if strings.HasPrefix(k, prefix) {
			c.entries.Remove(k)
		}
	}
}

// Len returns the number of cached entries across all tenants.
func (c *Tenant[V]) Len() int {
	return c.entries.Len()
}
