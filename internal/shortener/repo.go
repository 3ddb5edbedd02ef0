package shortener

import "context"

// Repository defines the persistence operations for Link and Group entities.
// All methods report absence via errx.NotFound and uniqueness violations via
// errx.Conflict so the service can branch without knowing the store.
//
// InTx runs fn against a Repository view bound to a single database
// transaction; multi-row operations (group creation, cascading group
// deletion) must go through it so they commit or roll back as one unit.
type Repository interface {
	InTx(ctx context.Context, fn func(Repository) error) error

	// Link store.

	// FindUngroupedLinkByURL finds a link for url with no group. When
	// includeDeleted is true, dead rows are candidates too, ordered so
	// that a live row wins over any dead one and the most recently
	// deleted row wins among the dead.
	FindUngroupedLinkByURL(ctx context.Context, url string, includeDeleted bool) (Link, error)
	// FindLinkByID finds a live link by its public identifier.
	FindLinkByID(ctx context.Context, id string) (Link, error)
	// FindLinksByGroupID lists a group's links ordered by creation.
	FindLinksByGroupID(ctx context.Context, groupID string, liveOnly bool) ([]Link, error)
	// InsertLink inserts a new live link, optionally pre-bound to a group.
	InsertLink(ctx context.Context, id, url string, groupID *string) (Link, error)
	// TouchLink refreshes a live link's updated_at and returns the row.
	TouchLink(ctx context.Context, id string) (Link, error)
	// TouchLinksByGroupID refreshes updated_at on all of a group's live
	// links and returns them ordered by creation.
	TouchLinksByGroupID(ctx context.Context, groupID string) ([]Link, error)
	// RestoreLink clears deleted_at, optionally reassigns the group, and
	// refreshes updated_at.
	RestoreLink(ctx context.Context, id string, groupID *string) (Link, error)
	// ReassignLinkGroup attaches an ungrouped live link to a group. The
	// update is guarded on group_id IS NULL: if the link was grouped in
	// the meantime it reports NotFound and no row changes.
	ReassignLinkGroup(ctx context.Context, id, groupID string) (Link, error)
	// SoftDeleteLink marks a live link dead.
	SoftDeleteLink(ctx context.Context, id string) error
	// SoftDeleteLinksByGroupID marks all of a group's live links dead.
	SoftDeleteLinksByGroupID(ctx context.Context, groupID string) error

	// Group store.

	InsertGroup(ctx context.Context, id, token, title string) (Group, error)
	FindGroupByID(ctx context.Context, id string, liveOnly bool) (Group, error)
	SoftDeleteGroup(ctx context.Context, id string) error
	RestoreGroup(ctx context.Context, id string) error
}
