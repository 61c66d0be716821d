//go:build integration

package repository

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/listsync/listsync/internal/testutil"
)

func TestIntegrationMigration_IdentityTables(t *testing.T) {
	ctx, pool := newMigrationTestEnv(t)

	columns := map[string][]string{
		"t_user":      {"user_id", "user_email", "org_id", "created_on_utc", "validated_on_utc"},
		"t_list":      {"lid", "user_id", "org_id", "created_on_utc", "validated_on_utc"},
		"t_list_item": {"liid", "parent_lid", "child_lid", "origin_liid", "origin_lid", "top_liid", "top_lid", "user_id", "org_id", "created_on_utc", "validated_on_utc"},
	}
	for table, cols := range columns {
		t.Run(table, func(t *testing.T) {
			exists, err := tableExists(ctx, pool, table)
			if err != nil {
				t.Fatalf("tableExists failed: %v", err)
			}
			if !exists {
				t.Fatalf("table %q should exist after migrations", table)
			}
			for _, col := range cols {
				ok, err := columnExists(ctx, pool, table, col)
				if err != nil {
					t.Fatalf("columnExists failed: %v", err)
				}
				if !ok {
					t.Errorf("column %q should exist in %s", col, table)
				}
			}
		})
	}
}

func TestIntegrationMigration_StoredFunctions(t *testing.T) {
	ctx, pool := newMigrationTestEnv(t)

	for _, fn := range []string{
		"ld_get_tuser", "ld_put_tuser", "ld_del_tuser",
		"ld_get_tlist", "ld_put_tlist", "ld_del_tlist", "ld_get_tlist_ids_by_user",
		"ld_get_tlistitem", "ld_get_tlistitems", "ld_put_tlistitem", "ld_del_tlistitem",
	} {
		var exists bool
		err := pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM pg_proc WHERE proname = $1)`, fn).Scan(&exists)
		if err != nil {
			t.Fatalf("query pg_proc: %v", err)
		}
		if !exists {
			t.Errorf("function %s should exist after migrations", fn)
		}
	}
}

func TestIntegrationMigration_RollbackAndIdempotency(t *testing.T) {
	ctx, pool := newMigrationTestEnv(t)

	root, err := testutil.ProjectRoot()
	if err != nil {
		t.Fatalf("ProjectRoot failed: %v", err)
	}
	read := func(name string) string {
		t.Helper()
		sql, err := os.ReadFile(filepath.Join(root, "migrations", name))
		if err != nil {
			t.Fatalf("read migration %s: %v", name, err)
		}
		return string(sql)
	}

	if _, err := pool.Exec(ctx, read("000001_identity.down.sql")); err != nil {
		t.Fatalf("apply down migration: %v", err)
	}
	exists, err := tableExists(ctx, pool, "t_list")
	if err != nil {
		t.Fatalf("tableExists failed: %v", err)
	}
	if exists {
		t.Error("t_list should not exist after rollback")
	}

	up := read("000001_identity.up.sql")
	for i := 0; i < 2; i++ {
		if _, err := pool.Exec(ctx, up); err != nil {
			t.Fatalf("apply up migration (run %d): %v", i+1, err)
		}
	}
}

func tableExists(ctx context.Context, pool *pgxpool.Pool, tableName string) (bool, error) {
	var exists bool
	err := pool.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM information_schema.tables
			WHERE table_schema = 'public' AND table_name = $1
		)`, tableName).Scan(&exists)
	return exists, err
}

func columnExists(ctx context.Context, pool *pgxpool.Pool, tableName, columnName string) (bool, error) {
	var exists bool
	err := pool.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM information_schema.columns
			WHERE table_schema = 'public' AND table_name = $1 AND column_name = $2
		)`, tableName, columnName).Scan(&exists)
	return exists, err
}

// newMigrationTestEnv connects to DATABASE_URL, serializes against other
// database tests and starts from a freshly migrated schema.
func newMigrationTestEnv(t *testing.T) (context.Context, *pgxpool.Pool) {
	t.Helper()
	ctx := context.Background()

	pool, err := pgxpool.New(ctx, testutil.RequireEnv(t, "DATABASE_URL"))
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	t.Cleanup(pool.Close)

	unlock, err := testutil.AcquireDBLock(ctx, pool)
	if err != nil {
		t.Fatalf("lock: %v", err)
	}
	t.Cleanup(func() { _ = unlock() })

	if err := testutil.ResetIdentitySchema(ctx, pool); err != nil {
		t.Fatalf("reset schema: %v", err)
	}
	return ctx, pool
}
