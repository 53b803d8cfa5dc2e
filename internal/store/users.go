package store

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"chatworks/pkg/models"

	"github.com/google/uuid"
)

const userColumns = `id, phone, username, password_hash, first_name, last_name, avatar_url, bio, is_online, last_seen, created_at, updated_at`

func scanUser(row rowScanner) (*models.User, error) {
	var u models.User
	var lastSeen sql.NullTime
	err := row.Scan(
		&u.ID, &u.Phone, &u.Username, &u.PasswordHash, &u.FirstName, &u.LastName,
		&u.AvatarURL, &u.Bio, &u.IsOnline, &lastSeen, &u.CreatedAt, &u.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if lastSeen.Valid {
		u.LastSeen = &lastSeen.Time
	}
	return &u, nil
}

// CreateUser inserts a new user. Phone and username are unique; collisions
// return ErrConflict.
func (s *Store) CreateUser(ctx context.Context, user *models.User) (err error) {
	defer s.observe("create_user", time.Now(), &err)
	query := `
		INSERT INTO telegraph.users (phone, username, password_hash, first_name, last_name)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, is_online, created_at, updated_at
	`
	err = s.db.QueryRowContext(ctx, query,
		user.Phone, user.Username, user.PasswordHash, user.FirstName, user.LastName,
	).Scan(&user.ID, &user.IsOnline, &user.CreatedAt, &user.UpdatedAt)
	if isUniqueViolation(err) {
		return ErrConflict
	}
	return err
}

func (s *Store) GetUser(ctx context.Context, id uuid.UUID) (u *models.User, err error) {
	defer s.observe("get_user", time.Now(), &err)
	query := `SELECT ` + userColumns + ` FROM telegraph.users WHERE id = $1`
	return scanUser(s.db.QueryRowContext(ctx, query, id))
}

func (s *Store) GetUserByPhone(ctx context.Context, phone string) (u *models.User, err error) {
	defer s.observe("get_user_by_phone", time.Now(), &err)
	query := `SELECT ` + userColumns + ` FROM telegraph.users WHERE phone = $1`
	return scanUser(s.db.QueryRowContext(ctx, query, phone))
}

func (s *Store) GetUserByUsername(ctx context.Context, username string) (u *models.User, err error) {
	defer s.observe("get_user_by_username", time.Now(), &err)
	query := `SELECT ` + userColumns + ` FROM telegraph.users WHERE username = $1`
	return scanUser(s.db.QueryRowContext(ctx, query, username))
}

// SearchUsers matches the query against username and name fields.
func (s *Store) SearchUsers(ctx context.Context, q string, limit int) (users []models.User, err error) {
	defer s.observe("search_users", time.Now(), &err)
	if limit <= 0 {
		limit = 20
	}
	query := `
		SELECT ` + userColumns + `
		FROM telegraph.users
		WHERE username ILIKE '%' || $1 || '%'
		   OR first_name ILIKE '%' || $1 || '%'
		   OR last_name ILIKE '%' || $1 || '%'
		ORDER BY username
		LIMIT $2
	`
	rows, err := s.db.QueryContext(ctx, query, q, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		users = append(users, *u)
	}
	return users, rows.Err()
}

// UpdateProfile applies the non-nil fields of the request and returns the
// updated user.
func (s *Store) UpdateProfile(ctx context.Context, id uuid.UUID, req *models.UpdateProfileRequest) (u *models.User, err error) {
	defer s.observe("update_profile", time.Now(), &err)
	query := `
		UPDATE telegraph.users
		SET first_name = COALESCE($2, first_name),
		    last_name = COALESCE($3, last_name),
		    bio = COALESCE($4, bio),
		    avatar_url = COALESCE($5, avatar_url),
		    updated_at = NOW()
		WHERE id = $1
		RETURNING ` + userColumns + `
	`
	return scanUser(s.db.QueryRowContext(ctx, query, id, req.FirstName, req.LastName, req.Bio, req.AvatarURL))
}

// SetOnline flips the presence flag and stamps last_seen.
func (s *Store) SetOnline(ctx context.Context, id uuid.UUID, online bool) (err error) {
	defer s.observe("set_online", time.Now(), &err)
	query := `
		UPDATE telegraph.users
		SET is_online = $2, last_seen = NOW(), updated_at = NOW()
		WHERE id = $1
	`
	res, err := s.db.ExecContext(ctx, query, id, online)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}
