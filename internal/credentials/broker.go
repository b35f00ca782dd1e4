// Package credentials issues and revokes ephemeral, per-run database
// principals scoped to a run's resolved roles.
package credentials

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Settings are the administrative DB connection parameters.
type Settings struct {
	Host     string
	Username string
	Password string
	Database string
}

// Broker grants and revokes ephemeral run principals against a single
// Postgres instance.
type Broker struct {
	pool *pgxpool.Pool
}

// New opens the administrative connection pool used to provision
// per-run principals.
func New(ctx context.Context, settings Settings) (*Broker, error) {
	dsn := fmt.Sprintf("postgres://%s:%s@%s/%s", settings.Username, settings.Password, settings.Host, settings.Database)
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("credentials: opening pool: %w", err)
	}
	return &Broker{pool: pool}, nil
}

// Close releases the administrative pool.
func (b *Broker) Close() { b.pool.Close() }

const targetSchema = "build_test"

// CreatePrincipal provisions a fresh login role scoped to roles,
// granting SELECT on the shared build_test schema through each role
// (additive and idempotent: re-running with the same roles never
// errors even if a role already exists).
func (b *Broker) CreatePrincipal(ctx context.Context, roles []string) (user, password string, err error) {
	user = strings.ReplaceAll(uuid.NewString(), "-", "")
	password = strings.ReplaceAll(uuid.NewString(), "-", "")

	tx, err := b.pool.Begin(ctx)
	if err != nil {
		return "", "", fmt.Errorf("credentials: begin: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, fmt.Sprintf(`drop role if exists "%s"`, user)); err != nil {
		return "", "", fmt.Errorf("credentials: dropping stale principal: %w", err)
	}
	if _, err := tx.Exec(ctx, fmt.Sprintf(`create role "%s" login password '%s'`, user, password)); err != nil {
		return "", "", fmt.Errorf("credentials: creating principal: %w", err)
	}

	for _, role := range roles {
		if _, err := tx.Exec(ctx, fmt.Sprintf(`do $$ begin
			if not exists (select from pg_roles where rolname = '%s') then
				create role "%s";
			end if;
		end $$`, role, role)); err != nil {
			return "", "", fmt.Errorf("credentials: ensuring role %s: %w", role, err)
		}
		if _, err := tx.Exec(ctx, fmt.Sprintf(`grant usage on schema %s to "%s"`, targetSchema, role)); err != nil {
			return "", "", fmt.Errorf("credentials: granting schema usage to %s: %w", role, err)
		}
		if _, err := tx.Exec(ctx, fmt.Sprintf(`grant select on all tables in schema %s to "%s"`, targetSchema, role)); err != nil {
			return "", "", fmt.Errorf("credentials: granting select to %s: %w", role, err)
		}
		if _, err := tx.Exec(ctx, fmt.Sprintf(`grant "%s" to "%s"`, role, user)); err != nil {
			return "", "", fmt.Errorf("credentials: granting %s to principal: %w", role, err)
		}
	}

	if len(roles) > 0 {
		quoted := make([]string, len(roles))
		for i, role := range roles {
			quoted[i] = fmt.Sprintf(`"%s"`, role)
		}
		stmt := fmt.Sprintf(`alter role "%s" set role %s`, user, strings.Join(quoted, ", "))
		if _, err := tx.Exec(ctx, stmt); err != nil {
			return "", "", fmt.Errorf("credentials: setting default roles: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return "", "", fmt.Errorf("credentials: commit: %w", err)
	}
	return user, password, nil
}

// DeletePrincipal drops a run's database principal. Missing principals
// are not an error: reaping a run whose provisioning failed midway
// must still succeed.
func (b *Broker) DeletePrincipal(ctx context.Context, user string) error {
	if user == "" {
		return nil
	}
	if _, err := b.pool.Exec(ctx, fmt.Sprintf(`drop role if exists "%s"`, user)); err != nil {
		return fmt.Errorf("credentials: dropping principal %s: %w", user, err)
	}
	return nil
}
