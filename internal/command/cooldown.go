package command

import "time"

const (
	DefaultSuppressWindow = 3 * time.Second
	DefaultExpireWindow   = 10 * time.Second
)

// Cooldown tracks when each command key last fired. A key may not fire
// again within the suppress window; entries are forgotten after the expire
// window. Not safe for concurrent use.
type Cooldown struct {
	suppress time.Duration
	expire   time.Duration
	fired    map[string]time.Time
}

// NewCooldown returns a registry using the given windows, defaulting zero
// values to 3s and 10s.
func NewCooldown(suppress, expire time.Duration) *Cooldown {
	if suppress <= 0 {
		suppress = DefaultSuppressWindow
	}
	if expire < suppress {
		expire = DefaultExpireWindow
	}
	return &Cooldown{suppress: suppress, expire: expire}
}

// Allow reports whether key may fire at now and records the firing if so.
func (c *Cooldown) Allow(key string, now time.Time) bool {
	if c.fired == nil {
		c.fired = make(map[string]time.Time)
	}
	c.prune(now)

	if last, ok := c.fired[key]; ok && now.Sub(last) < c.suppress {
		return false
	}
	c.fired[key] = now
	return true
}

// Active returns the number of keys still remembered at now.
func (c *Cooldown) Active(now time.Time) int {
	c.prune(now)
	return len(c.fired)
}

// Reset forgets every key.
func (c *Cooldown) Reset() {
	c.fired = nil
}

func (c *Cooldown) prune(now time.Time) {
	for key, at := range c.fired {
		if now.Sub(at) >= c.expire {
			delete(c.fired, key)
		}
	}
}
