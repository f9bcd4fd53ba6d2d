package telegram

import (
	"crypto/sha256"
	"encoding/base64"
	"strings"
	"sync"
)

// MaxCallbackData is the Bot API limit on inline button callback data, in bytes.
const MaxCallbackData = 64

const digestPrefix = "tg:"

// Callbacks maps choice payloads onto callback data. Payloads that fit in
// MaxCallbackData are used verbatim. Longer ones are replaced by a digest
// that Resolve turns back into the payload; the mapping lives in memory, so
// buttons sent before a restart resolve to the bare digest.
type Callbacks struct {
	mu       sync.RWMutex
	payloads map[string]string
}

func NewCallbacks() *Callbacks {
	return &Callbacks{payloads: make(map[string]string)}
}

// Encode returns callback data for payload, never longer than MaxCallbackData.
func (c *Callbacks) Encode(payload string) string {
	if len(payload) <= MaxCallbackData && !strings.HasPrefix(payload, digestPrefix) {
		return payload
	}
	sum := sha256.Sum256([]byte(payload))
	data := digestPrefix + base64.RawURLEncoding.EncodeToString(sum[:])

	c.mu.Lock()
	c.payloads[data] = payload
	c.mu.Unlock()
	return data
}

// Resolve returns the payload data was encoded from. Unknown data is
// returned unchanged.
func (c *Callbacks) Resolve(data string) string {
	if !strings.HasPrefix(data, digestPrefix) {
		return data
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	if payload, ok := c.payloads[data]; ok {
		return payload
	}
	return data
}
