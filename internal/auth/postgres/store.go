// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"

	"github.com/holomush/authcore/internal/auth"
)

const emailConstraint = "users_email_key"

const selectUser = `
	SELECT u.id, u.email, u.password_algorithm, u.password_digest, u.created_at, u.updated_at,
	       r.token_hash, r.purpose, r.email, r.issued_at
	FROM users u
	LEFT JOIN reset_tokens r ON r.user_id = u.id
`

const selectLoginTokens = `SELECT token_hash, issued_at FROM login_tokens WHERE user_id = $1 ORDER BY issued_at`

// Store implements auth.UserStore on PostgreSQL.
type Store struct {
	pool Pool
}

// NewStore wraps an existing pool.
func NewStore(pool Pool) *Store {
	return &Store{pool: pool}
}

// Close releases the pool.
func (s *Store) Close() {
	s.pool.Close()
}

// Ping implements auth.UserStore.
func (s *Store) Ping(ctx context.Context) error {
	if err := s.pool.Ping(ctx); err != nil {
		return oops.With("operation", "ping").Wrap(err)
	}
	return nil
}

// Create implements auth.UserStore.
func (s *Store) Create(ctx context.Context, user *auth.User) error {
	return s.withTx(ctx, "create user", func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, `
			INSERT INTO users (id, email, password_algorithm, password_digest, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6)
		`,
			user.ID.String(),
			user.Email,
			user.PasswordHash.Algorithm,
			user.PasswordHash.Digest,
			user.CreatedAt,
			user.UpdatedAt,
		)
		if err != nil {
			if isViolation(err, pgerrcode.UniqueViolation, emailConstraint) {
				return oops.Code("USER_EMAIL_TAKEN").With("operation", "create user").Wrap(auth.ErrEmailTaken)
			}
			return oops.With("operation", "insert user").Wrap(err)
		}

		for _, t := range user.LoginTokens {
			if err := insertLoginToken(ctx, tx, user.ID, t); err != nil {
				return err
			}
		}

		if rt := user.ResetToken; rt != nil {
			if err := upsertResetToken(ctx, tx, user.ID, *rt); err != nil {
				return err
			}
		}
		return nil
	})
}

// FindByID implements auth.UserStore.
func (s *Store) FindByID(ctx context.Context, id ulid.ULID) (*auth.User, error) {
	return s.findOne(ctx, "find by id", selectUser+`WHERE u.id = $1`, id.String())
}

// FindByEmail implements auth.UserStore.
func (s *Store) FindByEmail(ctx context.Context, email string) (*auth.User, error) {
	return s.findOne(ctx, "find by email", selectUser+`WHERE u.email = $1`, email)
}

// FindByLoginTokenHash implements auth.UserStore.
func (s *Store) FindByLoginTokenHash(ctx context.Context, tokenHash string) (*auth.User, error) {
	return s.findOne(ctx, "find by login token",
		selectUser+`WHERE u.id = (SELECT user_id FROM login_tokens WHERE token_hash = $1)`, tokenHash)
}

// FindByResetTokenHash implements auth.UserStore.
func (s *Store) FindByResetTokenHash(ctx context.Context, tokenHash string) (*auth.User, error) {
	return s.findOne(ctx, "find by reset token", selectUser+`WHERE r.token_hash = $1`, tokenHash)
}

// SetPasswordHash implements auth.UserStore.
func (s *Store) SetPasswordHash(ctx context.Context, id ulid.ULID, expected, next auth.PasswordHash) error {
	const op = "set password hash"
	tag, err := s.pool.Exec(ctx, `
		UPDATE users SET password_algorithm = $2, password_digest = $3, updated_at = NOW()
		WHERE id = $1 AND password_algorithm = $4 AND password_digest = $5
	`, id.String(), next.Algorithm, next.Digest, expected.Algorithm, expected.Digest)
	if err != nil {
		return oops.With("operation", op).Wrap(err)
	}
	if tag.RowsAffected() == 1 {
		return nil
	}
	if err := requireUser(ctx, s.pool, id, op); err != nil {
		return err
	}
	return oops.Code("USER_STALE_CREDENTIAL").With("operation", op).Wrap(auth.ErrStaleCredential)
}

// AddLoginToken implements auth.UserStore. The user row is share-locked so the
// insert serializes with ApplyCredentialChange: either the change sees and
// revokes the new token, or the insert sees the new hash and fails stale.
func (s *Store) AddLoginToken(ctx context.Context, id ulid.ULID, expected auth.PasswordHash, token auth.LoginToken) error {
	const op = "add login token"
	return s.withTx(ctx, op, func(tx pgx.Tx) error {
		var current auth.PasswordHash
		err := tx.QueryRow(ctx,
			`SELECT password_algorithm, password_digest FROM users WHERE id = $1 FOR SHARE`,
			id.String()).Scan(&current.Algorithm, &current.Digest)
		if errors.Is(err, pgx.ErrNoRows) {
			return oops.Code("USER_NOT_FOUND").With("operation", op).Wrap(auth.ErrNotFound)
		}
		if err != nil {
			return oops.With("operation", "lock user").Wrap(err)
		}
		if current != expected {
			return oops.Code("USER_STALE_CREDENTIAL").With("operation", op).Wrap(auth.ErrStaleCredential)
		}
		return insertLoginToken(ctx, tx, id, token)
	})
}

// RemoveLoginTokenByHash implements auth.UserStore.
func (s *Store) RemoveLoginTokenByHash(ctx context.Context, id ulid.ULID, tokenHash string) (bool, error) {
	const op = "remove login token"
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM login_tokens WHERE user_id = $1 AND token_hash = $2`, id.String(), tokenHash)
	if err != nil {
		return false, oops.With("operation", op).Wrap(err)
	}
	if tag.RowsAffected() == 0 {
		return false, requireUser(ctx, s.pool, id, op)
	}
	return true, nil
}

// ReplaceLoginTokens implements auth.UserStore.
func (s *Store) ReplaceLoginTokens(ctx context.Context, id ulid.ULID, keep []string) (int64, error) {
	if keep == nil {
		keep = []string{}
	}
	return s.deleteForUser(ctx, "replace login tokens", id,
		`DELETE FROM login_tokens WHERE user_id = $1 AND NOT (token_hash = ANY($2))`, id.String(), keep)
}

// PruneLoginTokens implements auth.UserStore.
func (s *Store) PruneLoginTokens(ctx context.Context, id ulid.ULID, issuedBefore time.Time) (int64, error) {
	return s.deleteForUser(ctx, "prune login tokens", id,
		`DELETE FROM login_tokens WHERE user_id = $1 AND issued_at < $2`, id.String(), issuedBefore)
}

// SetResetToken implements auth.UserStore. A previous pending token is replaced.
func (s *Store) SetResetToken(ctx context.Context, id ulid.ULID, token auth.ResetToken) error {
	return upsertResetToken(ctx, s.pool, id, token)
}

// ClearResetToken implements auth.UserStore.
func (s *Store) ClearResetToken(ctx context.Context, id ulid.ULID) error {
	_, err := s.deleteForUser(ctx, "clear reset token", id,
		`DELETE FROM reset_tokens WHERE user_id = $1`, id.String())
	return err
}

// ApplyCredentialChange implements auth.UserStore. The user row is locked for
// the duration so concurrent changes serialize.
func (s *Store) ApplyCredentialChange(ctx context.Context, id ulid.ULID, change auth.CredentialChange) error {
	const op = "apply credential change"
	return s.withTx(ctx, op, func(tx pgx.Tx) error {
		var current auth.PasswordHash
		err := tx.QueryRow(ctx,
			`SELECT password_algorithm, password_digest FROM users WHERE id = $1 FOR UPDATE`,
			id.String()).Scan(&current.Algorithm, &current.Digest)
		if errors.Is(err, pgx.ErrNoRows) {
			return oops.Code("USER_NOT_FOUND").With("operation", op).Wrap(auth.ErrNotFound)
		}
		if err != nil {
			return oops.With("operation", "lock user").Wrap(err)
		}

		if change.Expected != nil && current != *change.Expected {
			return oops.Code("USER_STALE_CREDENTIAL").With("operation", op).Wrap(auth.ErrStaleCredential)
		}

		if change.ResetTokenHash != "" {
			tag, err := tx.Exec(ctx,
				`DELETE FROM reset_tokens WHERE user_id = $1 AND token_hash = $2`,
				id.String(), change.ResetTokenHash)
			if err != nil {
				return oops.With("operation", "consume reset token").Wrap(err)
			}
			if tag.RowsAffected() == 0 {
				return oops.Code("RESET_TOKEN_NOT_FOUND").With("operation", op).Wrap(auth.ErrNotFound)
			}
		}

		if _, err := tx.Exec(ctx, `
			UPDATE users SET password_algorithm = $2, password_digest = $3, updated_at = NOW()
			WHERE id = $1
		`, id.String(), change.NewHash.Algorithm, change.NewHash.Digest); err != nil {
			return oops.With("operation", "update password hash").Wrap(err)
		}

		if change.KeepTokenHash == "" {
			_, err = tx.Exec(ctx, `DELETE FROM login_tokens WHERE user_id = $1`, id.String())
		} else {
			_, err = tx.Exec(ctx,
				`DELETE FROM login_tokens WHERE user_id = $1 AND token_hash <> $2`,
				id.String(), change.KeepTokenHash)
		}
		if err != nil {
			return oops.With("operation", "revoke login tokens").Wrap(err)
		}

		if _, err := tx.Exec(ctx, `DELETE FROM reset_tokens WHERE user_id = $1`, id.String()); err != nil {
			return oops.With("operation", "clear reset token").Wrap(err)
		}
		return nil
	})
}

// DeleteExpiredLoginTokens implements auth.UserStore.
func (s *Store) DeleteExpiredLoginTokens(ctx context.Context, issuedBefore time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM login_tokens WHERE issued_at < $1`, issuedBefore)
	if err != nil {
		return 0, oops.With("operation", "delete expired login tokens").Wrap(err)
	}
	return tag.RowsAffected(), nil
}

// DeleteExpiredResetTokens implements auth.UserStore.
func (s *Store) DeleteExpiredResetTokens(ctx context.Context, issuedBefore time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM reset_tokens WHERE issued_at < $1`, issuedBefore)
	if err != nil {
		return 0, oops.With("operation", "delete expired reset tokens").Wrap(err)
	}
	return tag.RowsAffected(), nil
}

func (s *Store) findOne(ctx context.Context, op, query string, arg any) (*auth.User, error) {
	user, err := scanUser(s.pool.QueryRow(ctx, query, arg))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, oops.Code("USER_NOT_FOUND").With("operation", op).Wrap(auth.ErrNotFound)
	}
	if err != nil {
		return nil, oops.With("operation", op).Wrap(err)
	}

	tokens, err := loadLoginTokens(ctx, s.pool, user.ID)
	if err != nil {
		return nil, oops.With("operation", op).Wrap(err)
	}
	user.LoginTokens = tokens
	return user, nil
}

// deleteForUser runs a per-user DELETE. Zero affected rows is only an error
// when the user itself does not exist.
func (s *Store) deleteForUser(ctx context.Context, op string, id ulid.ULID, query string, args ...any) (int64, error) {
	tag, err := s.pool.Exec(ctx, query, args...)
	if err != nil {
		return 0, oops.With("operation", op).Wrap(err)
	}
	if tag.RowsAffected() == 0 {
		return 0, requireUser(ctx, s.pool, id, op)
	}
	return tag.RowsAffected(), nil
}

// withTx runs fn in a transaction, rolling back when fn fails.
func (s *Store) withTx(ctx context.Context, op string, fn func(pgx.Tx) error) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return oops.With("operation", "begin transaction").With("for", op).Wrap(err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback(ctx) //nolint:errcheck // fn error takes precedence
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return oops.With("operation", "commit transaction").With("for", op).Wrap(err)
	}
	return nil
}

func requireUser(ctx context.Context, q querier, id ulid.ULID, op string) error {
	var exists bool
	if err := q.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM users WHERE id = $1)`, id.String()).Scan(&exists); err != nil {
		return oops.With("operation", op).Wrap(err)
	}
	if !exists {
		return oops.Code("USER_NOT_FOUND").With("operation", op).Wrap(auth.ErrNotFound)
	}
	return nil
}

func insertLoginToken(ctx context.Context, q querier, id ulid.ULID, token auth.LoginToken) error {
	_, err := q.Exec(ctx,
		`INSERT INTO login_tokens (token_hash, user_id, issued_at) VALUES ($1, $2, $3)`,
		token.TokenHash, id.String(), token.IssuedAt)
	if err != nil {
		if isViolation(err, pgerrcode.ForeignKeyViolation, "") {
			return oops.Code("USER_NOT_FOUND").With("operation", "add login token").Wrap(auth.ErrNotFound)
		}
		return oops.With("operation", "add login token").Wrap(err)
	}
	return nil
}

func upsertResetToken(ctx context.Context, q querier, id ulid.ULID, token auth.ResetToken) error {
	_, err := q.Exec(ctx, `
		INSERT INTO reset_tokens (user_id, token_hash, purpose, email, issued_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (user_id) DO UPDATE
		SET token_hash = EXCLUDED.token_hash,
		    purpose = EXCLUDED.purpose,
		    email = EXCLUDED.email,
		    issued_at = EXCLUDED.issued_at
	`, id.String(), token.TokenHash, token.Purpose, token.Email, token.IssuedAt)
	if err != nil {
		if isViolation(err, pgerrcode.ForeignKeyViolation, "") {
			return oops.Code("USER_NOT_FOUND").With("operation", "set reset token").Wrap(auth.ErrNotFound)
		}
		return oops.With("operation", "set reset token").Wrap(err)
	}
	return nil
}

func loadLoginTokens(ctx context.Context, q querier, id ulid.ULID) ([]auth.LoginToken, error) {
	rows, err := q.Query(ctx, selectLoginTokens, id.String())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var tokens []auth.LoginToken
	for rows.Next() {
		var t auth.LoginToken
		if err := rows.Scan(&t.TokenHash, &t.IssuedAt); err != nil {
			return nil, err
		}
		tokens = append(tokens, t)
	}
	return tokens, rows.Err()
}

func scanUser(row pgx.Row) (*auth.User, error) {
	var (
		u                          auth.User
		idStr                      string
		resetHash, purpose, rEmail *string
		issuedAt                   *time.Time
	)
	if err := row.Scan(
		&idStr, &u.Email, &u.PasswordHash.Algorithm, &u.PasswordHash.Digest, &u.CreatedAt, &u.UpdatedAt,
		&resetHash, &purpose, &rEmail, &issuedAt,
	); err != nil {
		return nil, err
	}

	id, err := ulid.Parse(idStr)
	if err != nil {
		return nil, oops.Code("USER_ID_INVALID").With("id", idStr).Wrap(err)
	}
	u.ID = id

	if resetHash != nil {
		rt := &auth.ResetToken{TokenHash: *resetHash}
		if purpose != nil {
			rt.Purpose = *purpose
		}
		if rEmail != nil {
			rt.Email = *rEmail
		}
		if issuedAt != nil {
			rt.IssuedAt = *issuedAt
		}
		u.ResetToken = rt
	}
	return &u, nil
}

// isViolation reports whether err is a PostgreSQL error with code and, when
// constraint is non-empty, that constraint name.
func isViolation(err error, code, constraint string) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) || pgErr.Code != code {
		return false
	}
	return constraint == "" || pgErr.ConstraintName == constraint
}

var _ auth.UserStore = (*Store)(nil)
