package mysql

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"PlanPilot/internal/auth"
)

// SQLAuthStore persists users, roles and permissions in MySQL. It shares the
// migration runner with the step repository so both can bootstrap the same
// schema.
type SQLAuthStore struct {
	db *sql.DB
}

var (
	_ auth.Store      = (*SQLAuthStore)(nil)
	_ auth.SeedWriter = (*SQLAuthStore)(nil)
)

// NewSQLAuthStore opens a connection pool and applies pending migrations.
func NewSQLAuthStore(ctx context.Context, cfg Config) (*SQLAuthStore, error) {
	db, err := openDatabase(ctx, cfg)
	if err != nil {
		return nil, err
	}
	if err := runMigrations(ctx, db); err != nil {
		db.Close()
		return nil, err
	}
	return &SQLAuthStore{db: db}, nil
}

// Close releases the underlying connection pool.
func (s *SQLAuthStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// FindUserByUsername implements auth.Store.
func (s *SQLAuthStore) FindUserByUsername(ctx context.Context, username string) (*auth.User, error) {
	const query = `SELECT id, username, password_hash, disabled FROM auth_users WHERE username = ?`
	var (
		user     auth.User
		disabled int
	)
	err := s.db.QueryRowContext(ctx, query, strings.TrimSpace(username)).
		Scan(&user.ID, &user.Username, &user.PasswordHash, &disabled)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}
	if err != nil {
		return nil, fmt.Errorf("查询用户失败: %w", err)
	}
	user.Disabled = disabled == 1
	return &user, nil
}

// LoadSubject implements auth.Store. Roles come from the user-role binding,
// permissions from the union of role grants and direct user grants.
func (s *SQLAuthStore) LoadSubject(ctx context.Context, userID int64) (*auth.Subject, error) {
	const userQuery = `SELECT id, username, disabled FROM auth_users WHERE id = ?`
	var (
		subject  auth.Subject
		disabled int
	)
	err := s.db.QueryRowContext(ctx, userQuery, userID).Scan(&subject.ID, &subject.Username, &disabled)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}
	if err != nil {
		return nil, fmt.Errorf("查询用户信息失败: %w", err)
	}
	subject.Disabled = disabled == 1

	const rolesQuery = `SELECT r.name FROM auth_roles r
JOIN auth_user_roles ur ON ur.role_id = r.id
WHERE ur.user_id = ?`
	if subject.Roles, err = s.collectStrings(ctx, rolesQuery, subject.ID); err != nil {
		return nil, err
	}

	const permsQuery = `SELECT DISTINCT p.name FROM auth_permissions p
JOIN auth_role_permissions rp ON rp.permission_id = p.id
JOIN auth_user_roles ur ON ur.role_id = rp.role_id
WHERE ur.user_id = ?
UNION
SELECT DISTINCT p.name FROM auth_permissions p
JOIN auth_user_permissions up ON up.permission_id = p.id
WHERE up.user_id = ?`
	if subject.Permissions, err = s.collectStrings(ctx, permsQuery, subject.ID, subject.ID); err != nil {
		return nil, err
	}
	subject.Normalise()
	return &subject, nil
}

// collectStrings 读取单列字符串结果，统一转小写并排序。
func (s *SQLAuthStore) collectStrings(ctx context.Context, query string, args ...any) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("查询列表失败: %w", err)
	}
	defer rows.Close()
	var result []string
	for rows.Next() {
		var value string
		if err := rows.Scan(&value); err != nil {
			return nil, fmt.Errorf("解析列表失败: %w", err)
		}
		result = append(result, strings.ToLower(strings.TrimSpace(value)))
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("遍历列表失败: %w", err)
	}
	sort.Strings(result)
	return result, nil
}

// ApplySeed implements auth.SeedWriter. The whole seed is written in a single
// transaction so a partially provisioned account never becomes visible.
func (s *SQLAuthStore) ApplySeed(ctx context.Context, seed auth.Seed) error {
	username := strings.TrimSpace(seed.Username)
	if username == "" {
		return errors.New("seed username cannot be empty")
	}
	passwordHash, err := auth.HashPassword(seed.Password)
	if err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if err := applySeedTx(ctx, tx, seed, username, passwordHash); err != nil {
		tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("提交种子数据失败: %w", err)
	}
	return nil
}

func applySeedTx(ctx context.Context, tx *sql.Tx, seed auth.Seed, username, passwordHash string) error {
	now := time.Now().Unix()

	const upsertUser = `INSERT INTO auth_users (username, password_hash, disabled, created_at, updated_at)
VALUES (?, ?, ?, ?, ?)
ON DUPLICATE KEY UPDATE password_hash = VALUES(password_hash), disabled = VALUES(disabled), updated_at = VALUES(updated_at), id = LAST_INSERT_ID(id)`
	res, err := tx.ExecContext(ctx, upsertUser, username, passwordHash, boolToInt(seed.Disabled), now, now)
	if err != nil {
		return fmt.Errorf("保存用户失败: %w", err)
	}
	userID, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("获取用户ID失败: %w", err)
	}

	for _, role := range dedupeValues(seed.Roles) {
		roleID, err := upsertNamed(ctx, tx, "auth_roles", role, now)
		if err != nil {
			return fmt.Errorf("保存角色失败: %w", err)
		}
		const bindRole = `INSERT IGNORE INTO auth_user_roles (user_id, role_id, assigned_at) VALUES (?, ?, ?)`
		if _, err := tx.ExecContext(ctx, bindRole, userID, roleID, now); err != nil {
			return fmt.Errorf("绑定用户角色失败: %w", err)
		}
	}

	for _, perm := range dedupeValues(seed.Permissions) {
		permID, err := upsertNamed(ctx, tx, "auth_permissions", perm, now)
		if err != nil {
			return fmt.Errorf("保存权限失败: %w", err)
		}
		const bindPerm = `INSERT IGNORE INTO auth_user_permissions (user_id, permission_id, assigned_at) VALUES (?, ?, ?)`
		if _, err := tx.ExecContext(ctx, bindPerm, userID, permID, now); err != nil {
			return fmt.Errorf("绑定用户权限失败: %w", err)
		}
	}
	return nil
}

// upsertNamed 写入角色或权限并返回其主键，已存在时复用原记录。
func upsertNamed(ctx context.Context, tx *sql.Tx, table, name string, now int64) (int64, error) {
	query := fmt.Sprintf(`INSERT INTO %s (name, description, created_at, updated_at)
VALUES (?, '', ?, ?)
ON DUPLICATE KEY UPDATE updated_at = VALUES(updated_at), id = LAST_INSERT_ID(id)`, table)
	res, err := tx.ExecContext(ctx, query, name, now, now)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func dedupeValues(values []string) []string {
	seen := make(map[string]struct{}, len(values))
	for _, value := range values {
		value = strings.TrimSpace(value)
		if value == "" {
			continue
		}
		seen[strings.ToLower(value)] = struct{}{}
	}
	result := make([]string, 0, len(seen))
	for key := range seen {
		result = append(result, key)
	}
	sort.Strings(result)
	return result
}
