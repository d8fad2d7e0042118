package dispatch

import (
	"fmt"
	"sync"
)

// ParamDef declares one named, typed request parameter of a route.
type ParamDef struct {
	Name     string `json:"name" yaml:"name"`
	Type     string `json:"type" yaml:"type"`
	Required bool   `json:"required" yaml:"required"`
	Default  any    `json:"default,omitempty" yaml:"default,omitempty"`
}

// RouteEntry describes one action: its declared parameters, optional version
// fields, the handler names the auto-loader resolves, and opaque metadata the
// core never interprets.
type RouteEntry struct {
	Params   []ParamDef     `json:"params" yaml:"params"`
	Version  string         `json:"version,omitempty" yaml:"version,omitempty"`
	Versions []string       `json:"versions,omitempty" yaml:"versions,omitempty"`
	Handlers []string       `json:"handlers,omitempty" yaml:"handlers,omitempty"`
	Meta     map[string]any `json:"meta,omitempty" yaml:"meta,omitempty"`
}

// RouteGroup maps namespace -> action -> entry.
type RouteGroup map[string]map[string]*RouteEntry

// RouteConfig is the ordered list of route groups. Groups are scanned in
// order; the first group containing a namespace wins, with no merging across
// groups.
type RouteConfig []RouteGroup

// routeTable resolves namespace/action(/version) lookups over the configured
// groups, with a bounded result cache in front of the scan.
type routeTable struct {
	groups     RouteConfig
	versioning bool

	cache *routeCache
}

func newRouteTable(cfg RouteConfig, versioning bool, cacheSize int, cacheEnabled bool) (*routeTable, error) {
	for i, group := range cfg {
		if group == nil {
			return nil, fmt.Errorf("route group %d is nil", i)
		}
		for ns, actions := range group {
			if actions == nil {
				return nil, fmt.Errorf("route group %d namespace %q is nil", i, ns)
			}
			for action, entry := range actions {
				if entry == nil {
					return nil, fmt.Errorf("route %s/%s is nil", ns, action)
				}
			}
		}
	}
	t := &routeTable{groups: cfg, versioning: versioning}
	if cacheEnabled {
		t.cache = newRouteCache(cacheSize)
	}
	return t, nil
}

// cacheKey builds the string key a lookup is cached under.
func cacheKey(namespace, action, version string) string {
	if version == "" {
		return namespace + "/" + action
	}
	return namespace + "/" + action + "@" + version
}

// resolve returns the entry for namespace/action, honoring versioning when
// enabled. Misses are cached alongside hits so repeated bad lookups do not
// rescan the groups.
func (t *routeTable) resolve(namespace, action, version string) *RouteEntry {
	if !t.versioning {
		version = ""
	}
	key := cacheKey(namespace, action, version)
	if t.cache != nil {
		if entry, ok := t.cache.get(key); ok {
			return entry
		}
	}
	entry := t.scan(namespace, action, version)
	if t.cache != nil {
		t.cache.put(key, entry)
	}
	return entry
}

func (t *routeTable) scan(namespace, action, version string) *RouteEntry {
	for _, group := range t.groups {
		actions, ok := group[namespace]
		if !ok {
			continue
		}
		// First group containing the namespace wins, found or not.
		if version != "" {
			// Strategy (a): composite "action.version" key.
			if entry, ok := actions[action+"."+version]; ok {
				return entry
			}
			// Strategy (b): plain entry whose version fields match.
			if entry, ok := actions[action]; ok && entryHasVersion(entry, version) {
				return entry
			}
			return nil
		}
		if entry, ok := actions[action]; ok {
			return entry
		}
		return nil
	}
	return nil
}

func entryHasVersion(entry *RouteEntry, version string) bool {
	if entry.Version == version {
		return true
	}
	for _, v := range entry.Versions {
		if v == version {
			return true
		}
	}
	return false
}

// routeCache is a bounded map from lookup key to resolved entry (nil marks a
// cached miss). Eviction is oldest-inserted-first, not LRU-by-access; the
// insertion order list is the eviction queue.
type routeCache struct {
	mu      sync.Mutex
	maxSize int
	entries map[string]*RouteEntry
	order   []string
}

func newRouteCache(maxSize int) *routeCache {
	if maxSize < 1 {
		maxSize = 1
	}
	return &routeCache{
		maxSize: maxSize,
		entries: make(map[string]*RouteEntry, maxSize),
		order:   make([]string, 0, maxSize),
	}
}

func (c *routeCache) get(key string) (*RouteEntry, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	entry, ok := c.entries[key]
	return entry, ok
}

func (c *routeCache) put(key string, entry *RouteEntry) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, exists := c.entries[key]; exists {
		c.entries[key] = entry
		return
	}
	if len(c.order) >= c.maxSize {
		oldest := c.order[0]
		c.order = c.order[1:]
		delete(c.entries, oldest)
	}
	c.entries[key] = entry
	c.order = append(c.order, key)
}

func (c *routeCache) len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.order)
}
