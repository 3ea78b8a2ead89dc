package alerts

import (
	"fmt"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/Buchi-dev/puretrack/internal/models"
)

// Cooldowns maps severity to the duration within which a repeat crossing
// merges into the existing open alert rather than creating a new one.
// Critical is shortest, advisory longest.
type Cooldowns struct {
	Critical, Warning, Advisory time.Duration
}

// DefaultCooldowns is the out-of-the-box cooldown schedule: 10 minutes for
// critical, 30 for warning, 60 for advisory.
func DefaultCooldowns() Cooldowns {
	return Cooldowns{
		Critical: 10 * time.Minute,
		Warning:  30 * time.Minute,
		Advisory: 60 * time.Minute,
	}
}

// Duration returns C(severity).
func (c Cooldowns) Duration(sev models.Severity) time.Duration {
	switch sev {
	case models.SeverityCritical:
		return c.Critical
	case models.SeverityWarning:
		return c.Warning
	default:
		return c.Advisory
	}
}

// dedupWindow floors occurredAt to a fixed-width bucket the length of
// cooldown, giving the open-alert uniqueness index a time-bounded key: two
// crossings that land in the same bucket are, by construction, within
// cooldown of one another and collide on insert; a crossing in a later
// bucket is free to open a new alert even though the previous one is still
// open. A non-positive cooldown collapses to a single shared bucket.
func dedupWindow(occurredAt time.Time, cooldown time.Duration) int64 {
	seconds := int64(cooldown.Seconds())
	if seconds <= 0 {
		return 0
	}
	return occurredAt.Unix() / seconds
}

// cachedAlert is the cache's record of the most recent open alert for a
// (deviceId,parameter,severity) key, along with the createdAt it was opened
// at — needed to tell whether it is still inside its cooldown window.
type cachedAlert struct {
	alertID   string
	createdAt time.Time
}

// openAlertCache is a bounded read-through cache in front of "most recent
// open alert for (deviceId,parameter,severity)", avoiding a repository round
// trip for every evaluated reading on devices with no active alert. It is an
// optimization only — the repository's unique index remains the source of
// truth for correctness under concurrent evaluation (see Service.createOrMerge).
// A cached entry is only usable while its createdAt is still within the
// cooldown window the caller evaluates it against; nothing evicts the cache
// proactively when that window lapses, so every read re-checks the cutoff
// itself rather than trusting a bare hit.
type openAlertCache struct {
	mu    sync.Mutex
	cache *lru.Cache[string, cachedAlert]
}

func newOpenAlertCache(size int) *openAlertCache {
	c, _ := lru.New[string, cachedAlert](size)
	return &openAlertCache{cache: c}
}

func cooldownKey(deviceID string, parameter models.Channel, severity models.Severity) string {
	return fmt.Sprintf("%s/%s/%s", deviceID, parameter, severity)
}

// get returns the cached alert id for the key, but only if its createdAt is
// at or after cutoff; a cached entry older than cutoff is a miss (and is
// evicted), since the alert it names has aged out of the cooldown window and
// a repeat crossing belongs to a brand-new alert instead.
func (c *openAlertCache) get(deviceID string, parameter models.Channel, severity models.Severity, cutoff time.Time) (string, bool) {
	key := cooldownKey(deviceID, parameter, severity)
	c.mu.Lock()
	defer c.mu.Unlock()
	entry, ok := c.cache.Get(key)
	if !ok {
		return "", false
	}
	if entry.createdAt.Before(cutoff) {
		c.cache.Remove(key)
		return "", false
	}
	return entry.alertID, true
}

func (c *openAlertCache) set(deviceID string, parameter models.Channel, severity models.Severity, alertID string, createdAt time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cache.Add(cooldownKey(deviceID, parameter, severity), cachedAlert{alertID: alertID, createdAt: createdAt})
}

func (c *openAlertCache) evict(deviceID string, parameter models.Channel, severity models.Severity) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cache.Remove(cooldownKey(deviceID, parameter, severity))
}
