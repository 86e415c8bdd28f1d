// Package cmdid generates unique identifiers for wrapper host commands
// and pipeline commands. IDs must be safe to embed directly in
// filenames (pool_cmd.<id>.sh / <id>.pool.exit naming), so we use
// UUIDs rather than anything containing path separators.
package cmdid

import "github.com/google/uuid"

// New returns a new globally-unique, filename-safe command id.
func New() string {
	return uuid.NewString()
}
