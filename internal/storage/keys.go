package storage

import (
	"errors"
	"fmt"
	"strings"
)

// BucketContext selects the bucket a key lives in.
type BucketContext string

const (
	// Shared holds files uploaded through links.
	Shared BucketContext = "shared"
	// Workspace holds files in users' personal workspaces.
	Workspace BucketContext = "workspace"
)

// Valid reports whether c is a known bucket context.
func (c BucketContext) Valid() bool {
	return c == Shared || c == Workspace
}

var ErrInvalidKey = errors.New("invalid storage key")

// WorkspaceKey returns the key of a workspace file. The owning user's id is
// the first path segment; path-based access policies depend on it.
func WorkspaceKey(userID, workspaceID, fileID, name string) string {
	return userID + "/workspaces/" + workspaceID + "/" + fileID + "/" + name
}

// LinkKey returns the key of a file uploaded through a link.
func LinkKey(linkID, fileID, name string) string {
	return "links/" + linkID + "/" + fileID + "/" + name
}

// ValidateKey rejects empty keys and keys that could escape their prefix.
func ValidateKey(key string) error {
	if key == "" || strings.HasPrefix(key, "/") {
		return fmt.Errorf("%w: %q", ErrInvalidKey, key)
	}
	for _, seg := range strings.Split(key, "/") {
		if seg == "" || seg == "." || seg == ".." {
			return fmt.Errorf("%w: %q", ErrInvalidKey, key)
		}
	}
	return nil
}

// ValidateWorkspaceKey checks that key is well formed and belongs to userID.
func ValidateWorkspaceKey(key, userID string) error {
	if err := ValidateKey(key); err != nil {
		return err
	}
	if userID == "" || !strings.HasPrefix(key, userID+"/") {
		return fmt.Errorf("%w: %q does not start with user %q", ErrInvalidKey, key, userID)
	}
	return nil
}
