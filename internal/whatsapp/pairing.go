package whatsapp

import (
	"sync"
	"time"
)

// PairingArtifact is the latest undelivered pairing material for a user.
// At most one live value exists per user.
type PairingArtifact struct {
	Payload  string
	IssuedAt time.Time
}

// pairingCache stores the newest pairing artifact per user. Writes always
// overwrite: a superseded artifact is never delivered again, while repeated
// peeks between writes return the identical value so polling clients can
// keep rendering it until it is scanned.
type pairingCache struct {
	mu        sync.Mutex
	artifacts map[string]PairingArtifact
}

func newPairingCache() *pairingCache {
	return &pairingCache{artifacts: make(map[string]PairingArtifact)}
}

// Set records fresh pairing material for the user, discarding any prior value.
func (c *pairingCache) Set(userID, payload string) PairingArtifact {
	artifact := PairingArtifact{Payload: payload, IssuedAt: time.Now().UTC()}
	c.mu.Lock()
	c.artifacts[userID] = artifact
	c.mu.Unlock()
	return artifact
}

// Peek returns the live artifact without consuming it.
func (c *pairingCache) Peek(userID string) (PairingArtifact, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	artifact, ok := c.artifacts[userID]
	return artifact, ok
}

// Clear removes the user's artifact. Called on authentication and teardown.
func (c *pairingCache) Clear(userID string) {
	c.mu.Lock()
	delete(c.artifacts, userID)
	c.mu.Unlock()
}
