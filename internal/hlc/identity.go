package hlc

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

// LoadOrCreateNodeID returns the stable node identity stored at path,
// generating and persisting a fresh UUID on first start. The identity is
// the final tiebreaker in operation ordering, so it must survive restarts:
// a node that changed identity would stop recognizing its own history.
func LoadOrCreateNodeID(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err == nil {
		id := strings.TrimSpace(string(data))
		if _, parseErr := uuid.Parse(id); parseErr != nil {
			return "", fmt.Errorf("node id file %s: %w", path, parseErr)
		}
		return id, nil
	}
	if !os.IsNotExist(err) {
		return "", fmt.Errorf("read node id: %w", err)
	}

	id := uuid.NewString()
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return "", fmt.Errorf("create node id dir: %w", err)
		}
	}
	if err := os.WriteFile(path, []byte(id+"\n"), 0o600); err != nil {
		return "", fmt.Errorf("persist node id: %w", err)
	}
	return id, nil
}

// NewOpID returns a time-sortable UUIDv7 for transport-level
// deduplication of operations.
func NewOpID() string {
	return uuid.Must(uuid.NewV7()).String()
}
