package shortener

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/linkgrove/linkgrove/internal/errx"
)

// dbtx abstracts the subset of pgx shared by *pgxpool.Pool and pgx.Tx, so
// the same queries run inside and outside a transaction.
type dbtx interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type pgRepo struct {
	db   dbtx
	pool *pgxpool.Pool // nil when the repo is bound to a transaction
}

// NewRepository creates a Repository backed by PostgreSQL.
func NewRepository(pool *pgxpool.Pool) Repository {
	return &pgRepo{db: pool, pool: pool}
}

const linkColumns = "id, url, group_id, created_at, updated_at, deleted_at"
const groupColumns = "id, title, token, created_at, updated_at, deleted_at"

func scanLink(row pgx.Row) (Link, error) {
	var l Link
	err := row.Scan(&l.ID, &l.URL, &l.GroupID, &l.CreatedAt, &l.UpdatedAt, &l.DeletedAt)
	return l, err
}

func scanLinks(rows pgx.Rows) ([]Link, error) {
	defer rows.Close()

	var links []Link
	for rows.Next() {
		var l Link
		if err := rows.Scan(&l.ID, &l.URL, &l.GroupID, &l.CreatedAt, &l.UpdatedAt, &l.DeletedAt); err != nil {
			return nil, err
		}
		links = append(links, l)
	}
	return links, rows.Err()
}

func scanGroup(row pgx.Row) (Group, error) {
	var g Group
	err := row.Scan(&g.ID, &g.Title, &g.Token, &g.CreatedAt, &g.UpdatedAt, &g.DeletedAt)
	return g, err
}

func mapRepoError(op string, err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return errx.E(op, errx.NotFound, err)
	}
	if _, ok := pgUniqueViolation(err); ok {
		return errx.E(op, errx.Conflict, err)
	}
	return errx.E(op, errx.Unavailable, err)
}

func (r *pgRepo) InTx(ctx context.Context, fn func(Repository) error) error {
	const op = "shortener.repo.InTx"

	// Already transactional; run in place so nested calls compose.
	if r.pool == nil {
		return fn(r)
	}

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return errx.E(op, errx.Unavailable, err)
	}
	defer func() {
		_ = tx.Rollback(ctx) // no-op after commit
	}()

	if err := fn(&pgRepo{db: tx}); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return errx.E(op, errx.Unavailable, err)
	}
	return nil
}

func (r *pgRepo) FindUngroupedLinkByURL(ctx context.Context, url string, includeDeleted bool) (Link, error) {
	const op = "shortener.repo.FindUngroupedLinkByURL"

	query := `
		SELECT ` + linkColumns + `
		FROM links
		WHERE url = $1 AND group_id IS NULL AND deleted_at IS NULL`
	if includeDeleted {
		// Live rows first, then the most recently deleted one.
		query = `
			SELECT ` + linkColumns + `
			FROM links
			WHERE url = $1 AND group_id IS NULL
			ORDER BY (deleted_at IS NULL) DESC, deleted_at DESC
			LIMIT 1`
	}

	link, err := scanLink(r.db.QueryRow(ctx, query, url))
	if err != nil {
		return Link{}, mapRepoError(op, err)
	}
	return link, nil
}

func (r *pgRepo) FindLinkByID(ctx context.Context, id string) (Link, error) {
	const op = "shortener.repo.FindLinkByID"

	link, err := scanLink(r.db.QueryRow(ctx, `
		SELECT `+linkColumns+`
		FROM links
		WHERE id = $1 AND deleted_at IS NULL`, id))
	if err != nil {
		return Link{}, mapRepoError(op, err)
	}
	return link, nil
}

func (r *pgRepo) FindLinksByGroupID(ctx context.Context, groupID string, liveOnly bool) ([]Link, error) {
	const op = "shortener.repo.FindLinksByGroupID"

	query := `
		SELECT ` + linkColumns + `
		FROM links
		WHERE group_id = $1
		ORDER BY created_at, id`
	if liveOnly {
		query = `
			SELECT ` + linkColumns + `
			FROM links
			WHERE group_id = $1 AND deleted_at IS NULL
			ORDER BY created_at, id`
	}

	rows, err := r.db.Query(ctx, query, groupID)
	if err != nil {
		return nil, mapRepoError(op, err)
	}

	links, err := scanLinks(rows)
	if err != nil {
		return nil, mapRepoError(op, err)
	}
	return links, nil
}

func (r *pgRepo) InsertLink(ctx context.Context, id, url string, groupID *string) (Link, error) {
	const op = "shortener.repo.InsertLink"

	link, err := scanLink(r.db.QueryRow(ctx, `
		INSERT INTO links (id, url, group_id)
		VALUES ($1, $2, $3)
		RETURNING `+linkColumns, id, url, groupID))
	if err != nil {
		return Link{}, mapRepoError(op, err)
	}
	return link, nil
}

func (r *pgRepo) TouchLink(ctx context.Context, id string) (Link, error) {
	const op = "shortener.repo.TouchLink"

	link, err := scanLink(r.db.QueryRow(ctx, `
		UPDATE links
		SET updated_at = now()
		WHERE id = $1 AND deleted_at IS NULL
		RETURNING `+linkColumns, id))
	if err != nil {
		return Link{}, mapRepoError(op, err)
	}
	return link, nil
}

func (r *pgRepo) TouchLinksByGroupID(ctx context.Context, groupID string) ([]Link, error) {
	const op = "shortener.repo.TouchLinksByGroupID"

	rows, err := r.db.Query(ctx, `
		WITH touched AS (
			UPDATE links
			SET updated_at = now()
			WHERE group_id = $1 AND deleted_at IS NULL
			RETURNING `+linkColumns+`
		)
		SELECT `+linkColumns+`
		FROM touched
		ORDER BY created_at, id`, groupID)
	if err != nil {
		return nil, mapRepoError(op, err)
	}

	links, err := scanLinks(rows)
	if err != nil {
		return nil, mapRepoError(op, err)
	}
	return links, nil
}

func (r *pgRepo) RestoreLink(ctx context.Context, id string, groupID *string) (Link, error) {
	const op = "shortener.repo.RestoreLink"

	link, err := scanLink(r.db.QueryRow(ctx, `
		UPDATE links
		SET deleted_at = NULL,
		    group_id = COALESCE($2, group_id),
		    updated_at = now()
		WHERE id = $1
		RETURNING `+linkColumns, id, groupID))
	if err != nil {
		return Link{}, mapRepoError(op, err)
	}
	return link, nil
}

func (r *pgRepo) ReassignLinkGroup(ctx context.Context, id, groupID string) (Link, error) {
	const op = "shortener.repo.ReassignLinkGroup"

	// Guarded on group_id IS NULL so a link can never be stolen from
	// another group under concurrent requests.
	link, err := scanLink(r.db.QueryRow(ctx, `
		UPDATE links
		SET group_id = $2, updated_at = now()
		WHERE id = $1 AND group_id IS NULL AND deleted_at IS NULL
		RETURNING `+linkColumns, id, groupID))
	if err != nil {
		return Link{}, mapRepoError(op, err)
	}
	return link, nil
}

func (r *pgRepo) SoftDeleteLink(ctx context.Context, id string) error {
	const op = "shortener.repo.SoftDeleteLink"

	tag, err := r.db.Exec(ctx, `
		UPDATE links
		SET deleted_at = now(), updated_at = now()
		WHERE id = $1 AND deleted_at IS NULL`, id)
	if err != nil {
		return mapRepoError(op, err)
	}
	if tag.RowsAffected() == 0 {
		return errx.E(op, errx.NotFound, pgx.ErrNoRows)
	}
	return nil
}

func (r *pgRepo) SoftDeleteLinksByGroupID(ctx context.Context, groupID string) error {
	const op = "shortener.repo.SoftDeleteLinksByGroupID"

	_, err := r.db.Exec(ctx, `
		UPDATE links
		SET deleted_at = now(), updated_at = now()
		WHERE group_id = $1 AND deleted_at IS NULL`, groupID)
	if err != nil {
		return mapRepoError(op, err)
	}
	return nil
}

func (r *pgRepo) InsertGroup(ctx context.Context, id, token, title string) (Group, error) {
	const op = "shortener.repo.InsertGroup"

	group, err := scanGroup(r.db.QueryRow(ctx, `
		INSERT INTO groups (id, token, title)
		VALUES ($1, $2, $3)
		RETURNING `+groupColumns, id, token, title))
	if err != nil {
		return Group{}, mapRepoError(op, err)
	}
	return group, nil
}

func (r *pgRepo) FindGroupByID(ctx context.Context, id string, liveOnly bool) (Group, error) {
	const op = "shortener.repo.FindGroupByID"

	query := `
		SELECT ` + groupColumns + `
		FROM groups
		WHERE id = $1`
	if liveOnly {
		query += ` AND deleted_at IS NULL`
	}

	group, err := scanGroup(r.db.QueryRow(ctx, query, id))
	if err != nil {
		return Group{}, mapRepoError(op, err)
	}
	return group, nil
}

func (r *pgRepo) SoftDeleteGroup(ctx context.Context, id string) error {
	const op = "shortener.repo.SoftDeleteGroup"

	// Deleting an already-dead group is a no-op: the empty-group cascade
	// must stay repeatable.
	_, err := r.db.Exec(ctx, `
		UPDATE groups
		SET deleted_at = now(), updated_at = now()
		WHERE id = $1 AND deleted_at IS NULL`, id)
	if err != nil {
		return mapRepoError(op, err)
	}
	return nil
}

func (r *pgRepo) RestoreGroup(ctx context.Context, id string) error {
	const op = "shortener.repo.RestoreGroup"

	tag, err := r.db.Exec(ctx, `
		UPDATE groups
		SET deleted_at = NULL, updated_at = now()
		WHERE id = $1`, id)
	if err != nil {
		return mapRepoError(op, err)
	}
	if tag.RowsAffected() == 0 {
		return errx.E(op, errx.NotFound, pgx.ErrNoRows)
	}
	return nil
}
