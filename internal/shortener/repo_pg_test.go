package shortener

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/linkgrove/linkgrove/internal/errx"
	"github.com/linkgrove/linkgrove/migrations"
)

// setupTestRepo starts PostgreSQL in Docker, applies the embedded
// migrations and returns a repository bound to a fresh pool. The container
// stops when the test finishes.
func setupTestRepo(t *testing.T) Repository {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping container-backed test in short mode")
	}
	ctx := context.Background()

	pgContainer, err := postgres.Run(ctx,
		"postgres:16-alpine",
		postgres.WithDatabase("linkgrove_test"),
		postgres.WithUsername("test"),
		postgres.WithPassword("test"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second),
		),
	)
	require.NoError(t, err)
	t.Cleanup(func() {
		require.NoError(t, pgContainer.Terminate(ctx))
	})

	connStr, err := pgContainer.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	migrateDB, err := sql.Open("pgx", connStr)
	require.NoError(t, err)
	require.NoError(t, migrations.Up(migrateDB))
	require.NoError(t, migrateDB.Close())

	pool, err := pgxpool.New(ctx, connStr)
	require.NoError(t, err)
	t.Cleanup(pool.Close)

	return NewRepository(pool)
}

func TestPGRepoLinks(t *testing.T) {
	repo := setupTestRepo(t)
	ctx := context.Background()

	t.Run("insert and find by id", func(t *testing.T) {
		link, err := repo.InsertLink(ctx, "aaaaaaa1", "https://example.com/1", nil)
		require.NoError(t, err)
		assert.Equal(t, "aaaaaaa1", link.ID)
		assert.Nil(t, link.GroupID)
		assert.False(t, link.CreatedAt.IsZero())
		assert.Nil(t, link.DeletedAt)

		found, err := repo.FindLinkByID(ctx, "aaaaaaa1")
		require.NoError(t, err)
		assert.Equal(t, link.ID, found.ID)
		assert.Equal(t, "https://example.com/1", found.URL)
	})

	t.Run("find by id reports NotFound for missing and dead rows", func(t *testing.T) {
		_, err := repo.FindLinkByID(ctx, "nooooope")
		assert.Equal(t, errx.NotFound, errx.KindOf(err))

		_, err = repo.InsertLink(ctx, "aaaaaaa2", "https://example.com/2", nil)
		require.NoError(t, err)
		require.NoError(t, repo.SoftDeleteLink(ctx, "aaaaaaa2"))

		_, err = repo.FindLinkByID(ctx, "aaaaaaa2")
		assert.Equal(t, errx.NotFound, errx.KindOf(err))
	})

	t.Run("duplicate id raises Conflict", func(t *testing.T) {
		_, err := repo.InsertLink(ctx, "aaaaaaa3", "https://example.com/3", nil)
		require.NoError(t, err)

		_, err = repo.InsertLink(ctx, "aaaaaaa3", "https://example.com/other", nil)
		assert.Equal(t, errx.Conflict, errx.KindOf(err))
	})

	t.Run("second live standalone link for same url raises Conflict", func(t *testing.T) {
		_, err := repo.InsertLink(ctx, "aaaaaaa4", "https://example.com/4", nil)
		require.NoError(t, err)

		_, err = repo.InsertLink(ctx, "aaaaaaa5", "https://example.com/4", nil)
		assert.Equal(t, errx.Conflict, errx.KindOf(err))
	})

	t.Run("dead rows may share a url with a live row", func(t *testing.T) {
		_, err := repo.InsertLink(ctx, "aaaaaaa6", "https://example.com/6", nil)
		require.NoError(t, err)
		require.NoError(t, repo.SoftDeleteLink(ctx, "aaaaaaa6"))

		_, err = repo.InsertLink(ctx, "aaaaaaa7", "https://example.com/6", nil)
		require.NoError(t, err)
	})

	t.Run("ungrouped lookup prefers the live row", func(t *testing.T) {
		_, err := repo.InsertLink(ctx, "aaaaaaa8", "https://example.com/8", nil)
		require.NoError(t, err)
		require.NoError(t, repo.SoftDeleteLink(ctx, "aaaaaaa8"))
		_, err = repo.InsertLink(ctx, "aaaaaaa9", "https://example.com/8", nil)
		require.NoError(t, err)

		found, err := repo.FindUngroupedLinkByURL(ctx, "https://example.com/8", true)
		require.NoError(t, err)
		assert.Equal(t, "aaaaaaa9", found.ID)
		assert.Nil(t, found.DeletedAt)
	})

	t.Run("ungrouped lookup can surface a dead row", func(t *testing.T) {
		_, err := repo.InsertLink(ctx, "aaaaaa10", "https://example.com/10", nil)
		require.NoError(t, err)
		require.NoError(t, repo.SoftDeleteLink(ctx, "aaaaaa10"))

		_, err = repo.FindUngroupedLinkByURL(ctx, "https://example.com/10", false)
		assert.Equal(t, errx.NotFound, errx.KindOf(err))

		found, err := repo.FindUngroupedLinkByURL(ctx, "https://example.com/10", true)
		require.NoError(t, err)
		assert.Equal(t, "aaaaaa10", found.ID)
		assert.NotNil(t, found.DeletedAt)
	})

	t.Run("touch refreshes updated_at and skips dead rows", func(t *testing.T) {
		inserted, err := repo.InsertLink(ctx, "aaaaaa11", "https://example.com/11", nil)
		require.NoError(t, err)

		touched, err := repo.TouchLink(ctx, "aaaaaa11")
		require.NoError(t, err)
		assert.False(t, touched.UpdatedAt.Before(inserted.UpdatedAt))

		require.NoError(t, repo.SoftDeleteLink(ctx, "aaaaaa11"))
		_, err = repo.TouchLink(ctx, "aaaaaa11")
		assert.Equal(t, errx.NotFound, errx.KindOf(err))
	})

	t.Run("soft delete is not repeatable", func(t *testing.T) {
		_, err := repo.InsertLink(ctx, "aaaaaa12", "https://example.com/12", nil)
		require.NoError(t, err)

		require.NoError(t, repo.SoftDeleteLink(ctx, "aaaaaa12"))
		err = repo.SoftDeleteLink(ctx, "aaaaaa12")
		assert.Equal(t, errx.NotFound, errx.KindOf(err))
	})

	t.Run("restore revives a dead row in place", func(t *testing.T) {
		_, err := repo.InsertLink(ctx, "aaaaaa13", "https://example.com/13", nil)
		require.NoError(t, err)
		require.NoError(t, repo.SoftDeleteLink(ctx, "aaaaaa13"))

		restored, err := repo.RestoreLink(ctx, "aaaaaa13", nil)
		require.NoError(t, err)
		assert.Nil(t, restored.DeletedAt)
		assert.Nil(t, restored.GroupID)

		found, err := repo.FindLinkByID(ctx, "aaaaaa13")
		require.NoError(t, err)
		assert.Equal(t, "https://example.com/13", found.URL)
	})
}

func TestPGRepoGroups(t *testing.T) {
	repo := setupTestRepo(t)
	ctx := context.Background()

	mustGroup := func(t *testing.T, id, token string) Group {
		t.Helper()
		group, err := repo.InsertGroup(ctx, id, token, "demo")
		require.NoError(t, err)
		return group
	}

	t.Run("insert and find", func(t *testing.T) {
		group := mustGroup(t, "ggggggg1", "tokentoken01")
		assert.Equal(t, "demo", group.Title)
		assert.False(t, group.CreatedAt.IsZero())

		found, err := repo.FindGroupByID(ctx, "ggggggg1", true)
		require.NoError(t, err)
		assert.Equal(t, "tokentoken01", found.Token)
	})

	t.Run("duplicate token raises Conflict", func(t *testing.T) {
		mustGroup(t, "ggggggg2", "tokentoken02")

		_, err := repo.InsertGroup(ctx, "ggggggg3", "tokentoken02", "demo")
		assert.Equal(t, errx.Conflict, errx.KindOf(err))
	})

	t.Run("group membership and ordering", func(t *testing.T) {
		group := mustGroup(t, "ggggggg4", "tokentoken04")

		_, err := repo.InsertLink(ctx, "ggglink1", "https://g.example/1", &group.ID)
		require.NoError(t, err)
		_, err = repo.InsertLink(ctx, "ggglink2", "https://g.example/2", &group.ID)
		require.NoError(t, err)

		children, err := repo.FindLinksByGroupID(ctx, group.ID, true)
		require.NoError(t, err)
		require.Len(t, children, 2)
		assert.Equal(t, "ggglink1", children[0].ID)
		assert.Equal(t, "ggglink2", children[1].ID)

		touched, err := repo.TouchLinksByGroupID(ctx, group.ID)
		require.NoError(t, err)
		require.Len(t, touched, 2)
		assert.Equal(t, "ggglink1", touched[0].ID)
	})

	t.Run("same url allowed in different groups", func(t *testing.T) {
		g1 := mustGroup(t, "ggggggg5", "tokentoken05")
		g2 := mustGroup(t, "ggggggg6", "tokentoken06")

		_, err := repo.InsertLink(ctx, "ggglink3", "https://g.example/shared", &g1.ID)
		require.NoError(t, err)
		_, err = repo.InsertLink(ctx, "ggglink4", "https://g.example/shared", &g2.ID)
		require.NoError(t, err)

		// And also as a live standalone link alongside the grouped ones.
		_, err = repo.InsertLink(ctx, "ggglink5", "https://g.example/shared", nil)
		require.NoError(t, err)

		// But not twice in the same group.
		_, err = repo.InsertLink(ctx, "ggglink6", "https://g.example/shared", &g1.ID)
		assert.Equal(t, errx.Conflict, errx.KindOf(err))
	})

	t.Run("reassign only claims ungrouped live links", func(t *testing.T) {
		g1 := mustGroup(t, "ggggggg7", "tokentoken07")
		g2 := mustGroup(t, "ggggggg8", "tokentoken08")

		_, err := repo.InsertLink(ctx, "ggglink7", "https://g.example/free", nil)
		require.NoError(t, err)

		claimed, err := repo.ReassignLinkGroup(ctx, "ggglink7", g1.ID)
		require.NoError(t, err)
		require.NotNil(t, claimed.GroupID)
		assert.Equal(t, g1.ID, *claimed.GroupID)

		// A second claim hits the group_id IS NULL guard.
		_, err = repo.ReassignLinkGroup(ctx, "ggglink7", g2.ID)
		assert.Equal(t, errx.NotFound, errx.KindOf(err))
	})

	t.Run("restore binds a dead link to a group", func(t *testing.T) {
		group := mustGroup(t, "ggggggg9", "tokentoken09")

		_, err := repo.InsertLink(ctx, "ggglink8", "https://g.example/dead", nil)
		require.NoError(t, err)
		require.NoError(t, repo.SoftDeleteLink(ctx, "ggglink8"))

		restored, err := repo.RestoreLink(ctx, "ggglink8", &group.ID)
		require.NoError(t, err)
		require.NotNil(t, restored.GroupID)
		assert.Equal(t, group.ID, *restored.GroupID)
	})

	t.Run("group soft delete cascades stay repeatable", func(t *testing.T) {
		group := mustGroup(t, "gggggg10", "tokentoken10")
		_, err := repo.InsertLink(ctx, "ggglink9", "https://g.example/c1", &group.ID)
		require.NoError(t, err)

		require.NoError(t, repo.SoftDeleteLinksByGroupID(ctx, group.ID))
		require.NoError(t, repo.SoftDeleteGroup(ctx, group.ID))

		_, err = repo.FindGroupByID(ctx, group.ID, true)
		assert.Equal(t, errx.NotFound, errx.KindOf(err))

		children, err := repo.FindLinksByGroupID(ctx, group.ID, true)
		require.NoError(t, err)
		assert.Empty(t, children)

		// Running the cascade again against the dead group is a no-op.
		require.NoError(t, repo.SoftDeleteLinksByGroupID(ctx, group.ID))
		require.NoError(t, repo.SoftDeleteGroup(ctx, group.ID))
	})

	t.Run("restore group revives the dead row", func(t *testing.T) {
		group := mustGroup(t, "gggggg11", "tokentoken11")
		require.NoError(t, repo.SoftDeleteGroup(ctx, group.ID))

		require.NoError(t, repo.RestoreGroup(ctx, group.ID))
		found, err := repo.FindGroupByID(ctx, group.ID, true)
		require.NoError(t, err)
		assert.Nil(t, found.DeletedAt)

		err = repo.RestoreGroup(ctx, "gggggg99")
		assert.Equal(t, errx.NotFound, errx.KindOf(err))
	})
}

func TestPGRepoInTx(t *testing.T) {
	repo := setupTestRepo(t)
	ctx := context.Background()

	t.Run("commits on success", func(t *testing.T) {
		err := repo.InTx(ctx, func(tx Repository) error {
			if _, err := tx.InsertGroup(ctx, "txgroup1", "txtokentok01", "demo"); err != nil {
				return err
			}
			gid := "txgroup1"
			_, err := tx.InsertLink(ctx, "txlink01", "https://tx.example/1", &gid)
			return err
		})
		require.NoError(t, err)

		_, err = repo.FindGroupByID(ctx, "txgroup1", true)
		require.NoError(t, err)
		_, err = repo.FindLinkByID(ctx, "txlink01")
		require.NoError(t, err)
	})

	t.Run("rolls back everything on error", func(t *testing.T) {
		boom := errors.New("boom")
		err := repo.InTx(ctx, func(tx Repository) error {
			if _, err := tx.InsertGroup(ctx, "txgroup2", "txtokentok02", "demo"); err != nil {
				return err
			}
			gid := "txgroup2"
			if _, err := tx.InsertLink(ctx, "txlink02", "https://tx.example/2", &gid); err != nil {
				return err
			}
			return boom
		})
		require.ErrorIs(t, err, boom)

		_, err = repo.FindGroupByID(ctx, "txgroup2", false)
		assert.Equal(t, errx.NotFound, errx.KindOf(err))
		_, err = repo.FindLinkByID(ctx, "txlink02")
		assert.Equal(t, errx.NotFound, errx.KindOf(err))
	})

	t.Run("nested transactions run in place", func(t *testing.T) {
		err := repo.InTx(ctx, func(tx Repository) error {
			return tx.InTx(ctx, func(inner Repository) error {
				_, err := inner.InsertLink(ctx, "txlink03", "https://tx.example/3", nil)
				return err
			})
		})
		require.NoError(t, err)

		_, err = repo.FindLinkByID(ctx, "txlink03")
		require.NoError(t, err)
	})
}
