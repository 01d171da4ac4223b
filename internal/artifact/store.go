// Package artifact persists downloaded media bytes to the local workdir so
// the agent runtime can reference them by path.
package artifact

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/gabriel-vasile/mimetype"
	"github.com/google/uuid"
)

var (
	// ErrArtifactTooLarge indicates the payload exceeds the configured ceiling.
	ErrArtifactTooLarge = errors.New("artifact too large")
	// ErrEmptyArtifact indicates the payload carried no bytes.
	ErrEmptyArtifact = errors.New("artifact is empty")
)

// Direction labels whether an artifact entered or left the bridge.
type Direction string

const (
	DirectionInbound  Direction = "inbound"
	DirectionOutbound Direction = "outbound"
)

// PersistInput carries one payload to persist.
type PersistInput struct {
	Data        []byte
	ContentType string
	Direction   Direction
	Name        string
	MaxBytes    int64
}

// Artifact describes a persisted payload.
type Artifact struct {
	Path        string
	ContentType string
	SizeBytes   int64
}

// Store writes artifacts under a fixed root directory.
type Store struct {
	root string
}

// NewStore creates a store rooted at dir.
func NewStore(dir string) *Store {
	return &Store{root: strings.TrimSpace(dir)}
}

// Persist writes the payload to <root>/<direction>/<uuid><ext>. The content
// type is sniffed from the bytes when the caller does not supply one.
func (s *Store) Persist(ctx context.Context, in PersistInput) (Artifact, error) {
	if err := ctx.Err(); err != nil {
		return Artifact{}, err
	}
	if len(in.Data) == 0 {
		return Artifact{}, ErrEmptyArtifact
	}
	if in.MaxBytes > 0 && int64(len(in.Data)) > in.MaxBytes {
		return Artifact{}, fmt.Errorf("%w: %d bytes, max %d", ErrArtifactTooLarge, len(in.Data), in.MaxBytes)
	}
	contentType := strings.TrimSpace(in.ContentType)
	ext := ""
	if contentType == "" || contentType == "application/octet-stream" {
		detected := mimetype.Detect(in.Data)
		contentType = detected.String()
		ext = detected.Extension()
	} else if detected := mimetype.Lookup(contentType); detected != nil {
		ext = detected.Extension()
	}
	if ext == "" {
		ext = filepath.Ext(strings.TrimSpace(in.Name))
	}
	direction := in.Direction
	if direction == "" {
		direction = DirectionInbound
	}
	dir := filepath.Join(s.root, string(direction))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return Artifact{}, fmt.Errorf("create artifact dir: %w", err)
	}
	path := filepath.Join(dir, uuid.NewString()+ext)
	if err := os.WriteFile(path, in.Data, 0o644); err != nil {
		return Artifact{}, fmt.Errorf("write artifact: %w", err)
	}
	return Artifact{
		Path:        path,
		ContentType: contentType,
		SizeBytes:   int64(len(in.Data)),
	}, nil
}
