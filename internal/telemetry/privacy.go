package telemetry

import (
	"crypto/sha256"
	"encoding/hex"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

// blockedFields are content-carrying keys that must never leave the
// process inside a telemetry payload.
var blockedFields = map[string]bool{
	"pruned_html": true, "raw_html": true, "html": true, "text": true,
	"content": true, "page_source": true, "body": true,
	"inner_html": true, "outer_html": true, "snapshot": true,
	"value": true, "name": true,
}

// SanitizeURL strips the query and fragment. With hashPaths each path
// segment is replaced by a truncated SHA-256 hash; the domain is kept
// for analytics.
func SanitizeURL(raw string, hashPaths bool) string {
	u, err := url.Parse(raw)
	if err != nil {
		return ""
	}
	path := u.EscapedPath()
	if hashPaths && path != "" {
		segments := strings.Split(path, "/")
		for i, seg := range segments {
			if seg == "" {
				continue
			}
			sum := sha256.Sum256([]byte(seg))
			segments[i] = hex.EncodeToString(sum[:])[:4]
		}
		path = strings.Join(segments, "/")
	}
	out := url.URL{Scheme: u.Scheme, Host: u.Host, Path: path}
	return out.String()
}

// sanitizePayload removes blocked content fields, shallow plus one
// nested map level. The input map is modified in place.
func sanitizePayload(payload map[string]any) map[string]any {
	for key, value := range payload {
		if blockedFields[key] {
			delete(payload, key)
			continue
		}
		if nested, ok := value.(map[string]any); ok {
			for k := range nested {
				if blockedFields[k] {
					delete(nested, k)
				}
			}
		}
	}
	return payload
}

// InstallationID returns a persistent anonymous installation ID stored
// under ~/.pagemap. Derived from a random UUID, never from hardware or
// user identity. Persistence failures are tolerated: the generated ID
// is still returned, it just won't survive restarts.
func InstallationID() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return uuid.NewString()
	}
	idFile := filepath.Join(home, ".pagemap", "installation_id")

	if data, err := os.ReadFile(idFile); err == nil {
		if stored := strings.TrimSpace(string(data)); stored != "" {
			return stored
		}
	}

	id := strings.ReplaceAll(uuid.NewString(), "-", "")
	if err := os.MkdirAll(filepath.Dir(idFile), 0o755); err == nil {
		_ = os.WriteFile(idFile, []byte(id+"\n"), 0o644)
	}
	return id
}
