package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"strings"

	"turn.careers/internal/authz"
	"turn.careers/internal/identity"
	"turn.careers/internal/obs"
	"turn.careers/internal/store"
)

// newDirectory picks the account source: the accounts table when a database
// is configured, otherwise a static directory seeded from TURN_DEV_ACCOUNTS
// ("email=role,email=role"). The table itself belongs to the profile
// service; this process only reads it.
func newDirectory(db *sql.DB) identity.Directory {
	if db != nil {
		return &pgDirectory{db: db}
	}
	return staticDirectoryFromEnv()
}

type pgDirectory struct {
	db *sql.DB
}

func (d *pgDirectory) Account(ctx context.Context, subjectID string) (identity.Account, error) {
	row := d.db.QueryRowContext(ctx, `
		select id, role, is_active, is_verified from accounts where id = $1`, subjectID)
	return scanAccount(row)
}

func (d *pgDirectory) AccountByDestination(ctx context.Context, destination string) (identity.Account, error) {
	row := d.db.QueryRowContext(ctx, `
		select id, role, is_active, is_verified from accounts where lower(email) = lower($1)`, destination)
	return scanAccount(row)
}

func scanAccount(row *sql.Row) (identity.Account, error) {
	var (
		account identity.Account
		role    string
	)
	err := row.Scan(&account.ID, &role, &account.Active, &account.Verified)
	if errors.Is(err, sql.ErrNoRows) {
		return identity.Account{}, identity.ErrAccountNotFound
	}
	if err != nil {
		return identity.Account{}, fmt.Errorf("%w: %v", store.ErrUnavailable, err)
	}
	account.Role, err = authz.ParseRole(role)
	if err != nil {
		return identity.Account{}, err
	}
	return account, nil
}

type staticDirectory struct {
	byDestination map[string]identity.Account
}

func staticDirectoryFromEnv() *staticDirectory {
	dir := &staticDirectory{byDestination: make(map[string]identity.Account)}
	for _, entry := range strings.Split(os.Getenv("TURN_DEV_ACCOUNTS"), ",") {
		email, roleName, ok := strings.Cut(strings.TrimSpace(entry), "=")
		if !ok {
			continue
		}
		role, err := authz.ParseRole(roleName)
		if err != nil {
			obs.Logger().Warn("skipping dev account", "entry", entry, "error", err)
			continue
		}
		email = strings.ToLower(strings.TrimSpace(email))
		dir.byDestination[email] = identity.Account{
			ID:       email,
			Role:     role,
			Active:   true,
			Verified: true,
		}
	}
	return dir
}

func (d *staticDirectory) Account(ctx context.Context, subjectID string) (identity.Account, error) {
	account, ok := d.byDestination[strings.ToLower(subjectID)]
	if !ok {
		return identity.Account{}, identity.ErrAccountNotFound
	}
	return account, nil
}

func (d *staticDirectory) AccountByDestination(ctx context.Context, destination string) (identity.Account, error) {
	account, ok := d.byDestination[strings.ToLower(strings.TrimSpace(destination))]
	if !ok {
		return identity.Account{}, identity.ErrAccountNotFound
	}
	return account, nil
}

// logMessenger stands in for a real email/SMS provider: it writes the
// message to the log instead of delivering it.
type logMessenger struct{}

func (logMessenger) Send(ctx context.Context, destination, content string) error {
	obs.Logger().Info("message dispatched", "destination", destination, "content", content)
	return nil
}
