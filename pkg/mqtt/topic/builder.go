package topic

import (
	"strings"
)

// Builder constructs the topics a process publishes its own state on.
// Pattern: {root}/{segment}, e.g. "process/timelapse_trip/alive".
type Builder struct {
	root string
}

// NewBuilder creates a Builder for the given root namespace. Leading and
// trailing slashes are trimmed.
func NewBuilder(root string) *Builder {
	return &Builder{root: strings.Trim(root, "/")}
}

// Build returns {root}/{segment}.
func (b *Builder) Build(segment string) string {
	segment = strings.Trim(segment, "/")
	if b.root == "" {
		return segment
	}
	return b.root + "/" + segment
}
