package cache

import (
	"fmt"
	"strings"
	"time"
)

// Namespace partitions cached entries by what they describe.
type Namespace string

const (
	NamespaceFolders     Namespace = "folders"
	NamespaceFiles       Namespace = "files"
	NamespaceFileContent Namespace = "fileContent"
)

// DefaultFreshness is how old a remote item must be before it may be cached.
const DefaultFreshness = 24 * time.Hour

// RootParent is used as the parent id for items at the top of a library.
const RootParent = "root"

// Namespaces returns all known namespaces in a stable order.
func Namespaces() []Namespace {
	return []Namespace{NamespaceFolders, NamespaceFiles, NamespaceFileContent}
}

// Valid reports whether ns is one of the known namespaces.
func (ns Namespace) Valid() bool {
	switch ns {
	case NamespaceFolders, NamespaceFiles, NamespaceFileContent:
		return true
	}
	return false
}

// ParseNamespace converts a user supplied name into a Namespace.
func ParseNamespace(s string) (Namespace, error) {
	ns := Namespace(s)
	if !ns.Valid() {
		return "", fmt.Errorf("%w: %q", ErrUnknownNamespace, s)
	}
	return ns, nil
}

// Key identifies one cached object. An empty ParentID means the library root.
type Key struct {
	DriveID     string
	ParentID    string
	ItemID      string
	ContentType string
}

// String renders the key in its stored form: drive/parent/item/contentType.
func (k Key) String() string {
	parent := k.ParentID
	if parent == "" {
		parent = RootParent
	}
	return strings.Join([]string{k.DriveID, parent, k.ItemID, k.ContentType}, "/")
}

// IsCacheEligible reports whether an item last modified at modified may be
// served from or written to the cache at time now. Only items older than
// DefaultFreshness qualify; anything newer is always fetched live.
func IsCacheEligible(modified, now time.Time) bool {
	return isEligible(modified, now, DefaultFreshness)
}

func isEligible(modified, now time.Time, threshold time.Duration) bool {
	if modified.IsZero() {
		return false
	}
	return now.Sub(modified) > threshold
}
