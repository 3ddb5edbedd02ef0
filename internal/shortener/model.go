package shortener

import "time"

// DefaultGroupTitle is stored when a group is created without a title.
const DefaultGroupTitle = "Link groups"

// Link is a stored mapping from a short identifier to a destination URL.
// A link is alive while DeletedAt is nil; soft-deleted links keep their row
// so they can be restored instead of re-inserted.
type Link struct {
	ID        string
	URL       string
	GroupID   *string // nil for standalone links
	CreatedAt time.Time
	UpdatedAt time.Time
	DeletedAt *time.Time
}

// Deleted reports whether the link is soft-deleted.
func (l Link) Deleted() bool { return l.DeletedAt != nil }

// Grouped reports whether the link belongs to a group.
func (l Link) Grouped() bool { return l.GroupID != nil }

// Group is a named collection of links created together. The token is the
// secret authorizing future membership edits; it is returned exactly once,
// in the creation response.
type Group struct {
	ID        string
	Title     string
	Token     string
	CreatedAt time.Time
	UpdatedAt time.Time
	DeletedAt *time.Time
}

// Deleted reports whether the group is soft-deleted.
func (g Group) Deleted() bool { return g.DeletedAt != nil }
