// Package invalidation defines snapshot eviction events consumed from
// Kafka. Evicting a key lets the next read re-fetch from the upstream, which
// is how out-of-band reference or provider changes propagate before the TTL
// would expire them.
package invalidation

import (
	"fmt"
	"strings"
	"time"
)

const (
	OpEvict       = "evict"
	OpEvictDomain = "evict_domain"
)

type Event struct {
	Version  int       `json:"version"`
	Op       string    `json:"op"`
	Domain   string    `json:"domain"`
	EntityID string    `json:"entity_id,omitempty"`
	TS       time.Time `json:"ts"`
	Source   string    `json:"source,omitempty"`
}

func (e Event) Validate() error {
	if e.Version != 1 {
		return fmt.Errorf("version must be 1")
	}
	if strings.TrimSpace(e.Domain) == "" {
		return fmt.Errorf("domain is required")
	}
	if e.TS.IsZero() {
		return fmt.Errorf("ts is required")
	}
	switch e.Op {
	case OpEvict:
		if strings.TrimSpace(e.EntityID) == "" {
			return fmt.Errorf("entity_id is required for op=evict")
		}
	case OpEvictDomain:
	default:
		return fmt.Errorf("op must be evict|evict_domain")
	}
	return nil
}
