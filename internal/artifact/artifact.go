// Package artifact hosts short-lived files, such as rendered prescriptions, at
// URLs an external gateway can fetch on its own.
package artifact

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"regexp"
	"strings"
	"time"
)

// Host stores artifacts under caller-chosen names and exposes them by URL
type Host interface {
	// Put stores data and returns the public URL it is reachable at
	Put(ctx context.Context, name string, data []byte, contentType string) (string, error)
	// Delete removes an artifact. Removing a missing artifact is not an error.
	Delete(ctx context.Context, name string) error
	// Sweep removes artifacts last modified before cutoff and reports how many
	Sweep(ctx context.Context, cutoff time.Time) (int, error)
}

var nonSafe = regexp.MustCompile(`[^a-z0-9\-_]+`)

// NewName derives a collision-free artifact name from an owning record id.
// Two calls with the same id never return the same name.
func NewName(ownerID, ext string) string {
	base := strings.Trim(nonSafe.ReplaceAllString(strings.ToLower(ownerID), "-"), "-_")
	if base == "" {
		base = "file"
	}
	return "rx-" + base + "-" + randomHex(8) + ext
}

func randomHex(n int) string {
	b := make([]byte, n)
	_, _ = rand.Read(b)
	return hex.EncodeToString(b)
}

func validName(name string) bool {
	return name != "" &&
		!strings.HasPrefix(name, ".") &&
		!strings.ContainsAny(name, `/\`)
}
