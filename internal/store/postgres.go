package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"stackd/api/internal/catalog"
)

type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) DB() *sql.DB {
	return s.db
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanContent(schema catalog.Schema, row rowScanner) (ContentItem, error) {
	item := ContentItem{
		Collection: schema.Collection,
		Fields:     make(map[string]string, len(schema.Fields)),
	}
	values := make([]string, len(schema.Fields))
	dest := make([]any, 0, len(schema.Fields)+5)
	dest = append(dest, &item.ID)
	for i := range values {
		dest = append(dest, &values[i])
	}
	dest = append(dest, &item.ImageURL, &item.RankingIndex, &item.CreatedAt, &item.UpdatedAt)
	if err := row.Scan(dest...); err != nil {
		return ContentItem{}, err
	}
	for i, f := range schema.Fields {
		item.Fields[f.Key] = values[i]
	}
	return item, nil
}

func (s *PostgresStore) queryContent(ctx context.Context, schema catalog.Schema, query string, args ...any) ([]ContentItem, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", schema.Table, err)
	}
	defer rows.Close()

	items := make([]ContentItem, 0)
	for rows.Next() {
		item, err := scanContent(schema, rows)
		if err != nil {
			return nil, fmt.Errorf("scan %s: %w", schema.Table, err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate %s: %w", schema.Table, err)
	}
	return items, nil
}

// ListAll returns every row of the collection ordered by ranking_index.
func (s *PostgresStore) ListAll(ctx context.Context, schema catalog.Schema) ([]ContentItem, error) {
	query := fmt.Sprintf(`SELECT %s FROM %s ORDER BY ranking_index ASC, created_at ASC`, columns(schema), schema.Table)
	return s.queryContent(ctx, schema, query)
}

// ListPage returns one 1-based page and the total row count.
func (s *PostgresStore) ListPage(ctx context.Context, schema catalog.Schema, page, size int) ([]ContentItem, int, error) {
	if page < 1 {
		page = 1
	}
	if size < 1 {
		size = 10
	}
	var total int
	if err := s.db.QueryRowContext(ctx, fmt.Sprintf(`SELECT COUNT(*) FROM %s`, schema.Table)).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count %s: %w", schema.Table, err)
	}
	query := fmt.Sprintf(`
		SELECT %s FROM %s
		ORDER BY ranking_index ASC, created_at ASC
		LIMIT $1 OFFSET $2
	`, columns(schema), schema.Table)
	items, err := s.queryContent(ctx, schema, query, size, (page-1)*size)
	if err != nil {
		return nil, 0, err
	}
	return items, total, nil
}

func (s *PostgresStore) GetContent(ctx context.Context, schema catalog.Schema, id string) (ContentItem, error) {
	query := fmt.Sprintf(`SELECT %s FROM %s WHERE id=$1`, columns(schema), schema.Table)
	return scanContent(schema, s.db.QueryRowContext(ctx, query, id))
}

func (s *PostgresStore) InsertContent(ctx context.Context, schema catalog.Schema, item ContentItem) error {
	cols := []string{"id"}
	args := []any{item.ID}
	for _, f := range schema.Fields {
		cols = append(cols, f.Column)
		args = append(args, item.Fields[f.Key])
	}
	cols = append(cols, "image_url", "ranking_index")
	args = append(args, item.ImageURL, item.RankingIndex)

	placeholders := make([]string, len(args))
	for i := range args {
		placeholders[i] = fmt.Sprintf("$%d", i+1)
	}
	query := fmt.Sprintf(`INSERT INTO %s (%s) VALUES (%s)`, schema.Table, strings.Join(cols, ", "), strings.Join(placeholders, ", "))
	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("insert %s: %w", schema.Table, err)
	}
	return nil
}

// UpdateContent writes every field, the image and the rank of an existing row.
func (s *PostgresStore) UpdateContent(ctx context.Context, schema catalog.Schema, item ContentItem) error {
	sets := make([]string, 0, len(schema.Fields)+3)
	args := make([]any, 0, len(schema.Fields)+3)
	for _, f := range schema.Fields {
		args = append(args, item.Fields[f.Key])
		sets = append(sets, fmt.Sprintf("%s=$%d", f.Column, len(args)))
	}
	args = append(args, item.ImageURL)
	sets = append(sets, fmt.Sprintf("image_url=$%d", len(args)))
	args = append(args, item.RankingIndex)
	sets = append(sets, fmt.Sprintf("ranking_index=$%d", len(args)))
	sets = append(sets, "updated_at=NOW()")
	args = append(args, item.ID)

	query := fmt.Sprintf(`UPDATE %s SET %s WHERE id=$%d`, schema.Table, strings.Join(sets, ", "), len(args))
	result, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("update %s: %w", schema.Table, err)
	}
	return requireAffected(result)
}

// UpdateRankingIndex changes only the rank of one row.
func (s *PostgresStore) UpdateRankingIndex(ctx context.Context, schema catalog.Schema, id string, rank float64) error {
	query := fmt.Sprintf(`UPDATE %s SET ranking_index=$1, updated_at=NOW() WHERE id=$2`, schema.Table)
	result, err := s.db.ExecContext(ctx, query, rank, id)
	if err != nil {
		return fmt.Errorf("update ranking index %s/%s: %w", schema.Table, id, err)
	}
	return requireAffected(result)
}

func (s *PostgresStore) DeleteContent(ctx context.Context, schema catalog.Schema, id string) error {
	result, err := s.db.ExecContext(ctx, fmt.Sprintf(`DELETE FROM %s WHERE id=$1`, schema.Table), id)
	if err != nil {
		return fmt.Errorf("delete %s: %w", schema.Table, err)
	}
	return requireAffected(result)
}

// SearchContent is the fallback used when Meilisearch is unavailable.
func (s *PostgresStore) SearchContent(ctx context.Context, schema catalog.Schema, text string, limit int) ([]ContentItem, error) {
	if limit <= 0 {
		limit = 20
	}
	haystack := make([]string, len(schema.Fields))
	for i, f := range schema.Fields {
		haystack[i] = f.Column
	}
	query := fmt.Sprintf(`
		SELECT %s FROM %s
		WHERE CONCAT_WS(' ', %s) ILIKE '%%' || $1 || '%%'
		ORDER BY ranking_index ASC
		LIMIT $2
	`, columns(schema), schema.Table, strings.Join(haystack, ", "))
	return s.queryContent(ctx, schema, query, escapeLike(text), limit)
}

func escapeLike(value string) string {
	replacer := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return replacer.Replace(value)
}

func requireAffected(result sql.Result) error {
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}

func (s *PostgresStore) GetAdminByEmail(ctx context.Context, email string) (AdminUser, error) {
	var user AdminUser
	err := s.db.QueryRowContext(ctx, `
		SELECT id, email, display_name, password_hash, role, created_at
		FROM admin_users
		WHERE LOWER(email) = LOWER($1)
	`, email).Scan(&user.ID, &user.Email, &user.DisplayName, &user.PasswordHash, &user.Role, &user.CreatedAt)
	if err != nil {
		return AdminUser{}, err
	}
	return user, nil
}

func (s *PostgresStore) GetAdminByID(ctx context.Context, id string) (AdminUser, error) {
	var user AdminUser
	err := s.db.QueryRowContext(ctx, `
		SELECT id, email, display_name, password_hash, role, created_at
		FROM admin_users
		WHERE id = $1
	`, id).Scan(&user.ID, &user.Email, &user.DisplayName, &user.PasswordHash, &user.Role, &user.CreatedAt)
	if err != nil {
		return AdminUser{}, err
	}
	return user, nil
}

// UpsertAdmin creates the admin or refreshes the password hash of an
// existing one with the same email.
func (s *PostgresStore) UpsertAdmin(ctx context.Context, user AdminUser) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO admin_users (id, email, display_name, password_hash, role)
		VALUES ($1, LOWER($2), $3, $4, $5)
		ON CONFLICT (email) DO UPDATE SET password_hash=EXCLUDED.password_hash, role=EXCLUDED.role
	`, user.ID, user.Email, user.DisplayName, user.PasswordHash, user.Role)
	if err != nil {
		return fmt.Errorf("upsert admin: %w", err)
	}
	return nil
}

func (s *PostgresStore) SaveRefreshSession(ctx context.Context, tokenHash, userID string, expiresAt time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO refresh_sessions (token_hash, user_id, expires_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (token_hash) DO UPDATE SET user_id=EXCLUDED.user_id, expires_at=EXCLUDED.expires_at, revoked_at=NULL
	`, tokenHash, userID, expiresAt)
	if err != nil {
		return fmt.Errorf("save refresh session: %w", err)
	}
	return nil
}

func (s *PostgresStore) LookupRefreshSession(ctx context.Context, tokenHash string) (AdminUser, error) {
	var user AdminUser
	err := s.db.QueryRowContext(ctx, `
		SELECT u.id, u.email, u.display_name, u.role, u.created_at
		FROM refresh_sessions rs
		JOIN admin_users u ON u.id = rs.user_id
		WHERE rs.token_hash = $1
			AND rs.revoked_at IS NULL
			AND rs.expires_at > NOW()
	`, tokenHash).Scan(&user.ID, &user.Email, &user.DisplayName, &user.Role, &user.CreatedAt)
	if err != nil {
		return AdminUser{}, err
	}
	return user, nil
}

func (s *PostgresStore) RevokeRefreshSession(ctx context.Context, tokenHash string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE refresh_sessions SET revoked_at=NOW() WHERE token_hash=$1`, tokenHash)
	if err != nil {
		return fmt.Errorf("revoke refresh session: %w", err)
	}
	return nil
}

func (s *PostgresStore) RevokeAccessToken(ctx context.Context, jti string, exp time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO revoked_access_tokens (jti, expires_at)
		VALUES ($1, $2)
		ON CONFLICT (jti) DO NOTHING
	`, jti, exp)
	if err != nil {
		return fmt.Errorf("revoke access token: %w", err)
	}
	return nil
}

func (s *PostgresStore) IsAccessTokenRevoked(ctx context.Context, jti string) (bool, error) {
	var revoked bool
	err := s.db.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM revoked_access_tokens WHERE jti=$1)`, jti).Scan(&revoked)
	if err != nil {
		return false, fmt.Errorf("check revoked token: %w", err)
	}
	return revoked, nil
}

// IsNotFound reports whether err means the row does not exist.
func IsNotFound(err error) bool {
	return errors.Is(err, sql.ErrNoRows)
}
