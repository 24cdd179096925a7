package db

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shiftwatch/shiftwatch/pkg/common"
)

var (
	ErrInvalidInput   = errors.New("invalid input")
	ErrRecordNotFound = errors.New("record not found")
)

const (
	defaultCacheTTL      = 10 * time.Minute
	defaultCacheRefresh  = 29 * time.Minute
	negativeCacheTTL     = 5 * time.Minute
	maxCacheSize         = 10_000
	fallbackPropertiesID = int32(1)
)

const userColumns = `u.id, u.user_name, u.employee_number, u.password, u.display_name, u.email,
	u.file_name, u.custom_general_properties_id, u.creation_date, u.last_execution_date,
	u.last_successful_sign_in_date, u.last_system_execution_date,
	COALESCE(s.execution_interval_minutes, 60), COALESCE(s.execution_minute, 0),
	COALESCE(s.auto_delete_account, TRUE), COALESCE(s.mail_new_shifts, TRUE),
	COALESCE(s.mail_updated_shifts, TRUE), COALESCE(s.mail_removed_shifts, TRUE)`

// UserStore is the typed query layer over Postgres. Reads of users and
// properties go through an in-memory cache; every write invalidates the
// affected keys.
type UserStore struct {
	pool                *pgxpool.Pool
	cipher              *Cipher
	cache               common.Cache[CacheKey, any]
	defaultPropertiesID int32
}

func NewUserStore(pool *pgxpool.Pool, cipher *Cipher, defaultPropertiesID int32) (*UserStore, error) {
	cache, err := NewMemoryCache[CacheKey, any](maxCacheSize, &struct{}{}, defaultCacheTTL, defaultCacheRefresh, negativeCacheTTL)
	if err != nil {
		return nil, err
	}

	if defaultPropertiesID <= 0 {
		defaultPropertiesID = fallbackPropertiesID
	}

	return &UserStore{
		pool:                pool,
		cipher:              cipher,
		cache:               cache,
		defaultPropertiesID: defaultPropertiesID,
	}, nil
}

func (s *UserStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

func (s *UserStore) Cipher() *Cipher {
	return s.cipher
}

func (s *UserStore) ListUserNames(ctx context.Context) ([]string, error) {
	rows, err := s.pool.Query(ctx, `SELECT user_name FROM users ORDER BY user_name`)
	if err != nil {
		slog.ErrorContext(ctx, "Failed to list user names", common.ErrAttr(err))
		return nil, err
	}

	names, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		slog.ErrorContext(ctx, "Failed to scan user names", common.ErrAttr(err))
		return nil, err
	}

	return names, nil
}

func (s *UserStore) scanUser(row pgx.Row) (*User, error) {
	var u User
	var password, email string
	var displayName, fileName *string

	err := row.Scan(&u.ID, &u.UserName, &u.EmployeeNumber, &password, &displayName, &email,
		&fileName, &u.CustomGeneralPropertiesID, &u.CreationDate, &u.LastExecutionDate,
		&u.LastSuccessfulSignInDate, &u.LastSystemExecutionDate,
		&u.Settings.ExecutionIntervalMinutes, &u.Settings.ExecutionMinute,
		&u.Settings.AutoDeleteAccount, &u.Settings.MailNewShifts,
		&u.Settings.MailUpdatedShifts, &u.Settings.MailRemovedShifts)
	if err == pgx.ErrNoRows {
		return nil, ErrRecordNotFound
	} else if err != nil {
		return nil, err
	}

	if u.Password, err = s.cipher.Decrypt(password); err != nil {
		return nil, err
	}

	if u.Email, err = s.cipher.Decrypt(email); err != nil {
		return nil, err
	}

	if displayName != nil {
		if u.DisplayName, err = s.cipher.Decrypt(*displayName); err != nil {
			return nil, err
		}
	}

	if fileName != nil {
		u.FileName = *fileName
	}

	return &u, nil
}

func (s *UserStore) getUserByNameImpl(ctx context.Context, name string) (*User, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+userColumns+`
		FROM users u LEFT JOIN user_settings s ON s.user_id = u.id
		WHERE u.user_name = $1`, name)

	user, err := s.scanUser(row)
	if err != nil {
		if err != ErrRecordNotFound {
			slog.ErrorContext(ctx, "Failed to load user", common.ErrAttr(err))
		}
		return nil, err
	}

	return user, nil
}

func (s *UserStore) GetUserByName(ctx context.Context, name string) (*User, error) {
	if len(name) == 0 {
		return nil, ErrInvalidInput
	}

	key := userByNameCacheKey(name)
	if cached, err := s.cache.Get(ctx, key); err == nil {
		if user, ok := cached.(*User); ok {
			return user, nil
		}
	} else if err == ErrNegativeCacheHit {
		return nil, ErrRecordNotFound
	}

	user, err := s.getUserByNameImpl(ctx, name)
	if err == ErrRecordNotFound {
		_ = s.cache.SetMissing(ctx, key)
		return nil, err
	} else if err != nil {
		return nil, err
	}

	_ = s.cache.Set(ctx, key, user)
	_ = s.cache.Set(ctx, userByIDCacheKey(user.ID), user)

	return user, nil
}

func (s *UserStore) GetUserByID(ctx context.Context, id int32) (*User, error) {
	if id <= 0 {
		return nil, ErrInvalidInput
	}

	key := userByIDCacheKey(id)
	if cached, err := s.cache.Get(ctx, key); err == nil {
		if user, ok := cached.(*User); ok {
			return user, nil
		}
	} else if err == ErrNegativeCacheHit {
		return nil, ErrRecordNotFound
	}

	row := s.pool.QueryRow(ctx, `SELECT `+userColumns+`
		FROM users u LEFT JOIN user_settings s ON s.user_id = u.id
		WHERE u.id = $1`, id)

	user, err := s.scanUser(row)
	if err == ErrRecordNotFound {
		_ = s.cache.SetMissing(ctx, key)
		return nil, err
	} else if err != nil {
		slog.ErrorContext(ctx, "Failed to load user", "userID", id, common.ErrAttr(err))
		return nil, err
	}

	_ = s.cache.Set(ctx, key, user)
	_ = s.cache.Set(ctx, userByNameCacheKey(user.UserName), user)

	return user, nil
}

func (s *UserStore) scanProperties(row pgx.Row) (*GeneralProperties, error) {
	var p GeneralProperties
	var kumaPassword, smtpPassword string

	err := row.Scan(&p.ID, &p.FileTarget, &p.ICalDomain, &p.SignupURL, &p.PasswordResetURL,
		&p.SupportEmail, &p.ExpectedExecutionTimeSeconds, &p.ExecutionRetryCount,
		&p.SigninFailExecutionReduce, &p.SigninFailMailReduce,
		&p.Kuma.ID, &p.Kuma.ServerURL, &p.Kuma.Username, &kumaPassword, &p.Kuma.GroupName,
		&p.Email.ID, &p.Email.SMTPHost, &p.Email.SMTPPort, &p.Email.SMTPUsername,
		&smtpPassword, &p.Email.FromAddress)
	if err == pgx.ErrNoRows {
		return nil, ErrRecordNotFound
	} else if err != nil {
		return nil, err
	}

	if len(kumaPassword) > 0 {
		if p.Kuma.Password, err = s.cipher.Decrypt(kumaPassword); err != nil {
			return nil, err
		}
	}

	if len(smtpPassword) > 0 {
		if p.Email.SMTPPassword, err = s.cipher.Decrypt(smtpPassword); err != nil {
			return nil, err
		}
	}

	return &p, nil
}

func (s *UserStore) GetProperties(ctx context.Context, id int32) (*GeneralProperties, error) {
	if id <= 0 {
		return nil, ErrInvalidInput
	}

	key := propertiesCacheKey(id)
	if cached, err := s.cache.Get(ctx, key); err == nil {
		if props, ok := cached.(*GeneralProperties); ok {
			return props, nil
		}
	} else if err == ErrNegativeCacheHit {
		return nil, ErrRecordNotFound
	}

	row := s.pool.QueryRow(ctx, `SELECT g.id, g.file_target, g.ical_domain, g.signup_url,
		g.password_reset_url, g.support_email, g.expected_execution_time_seconds,
		g.execution_retry_count, g.signin_fail_execution_reduce, g.signin_fail_mail_reduce,
		COALESCE(k.id, 0), COALESCE(k.server_url, ''), COALESCE(k.username, ''),
		COALESCE(k.password, ''), COALESCE(k.group_name, ''),
		COALESCE(e.id, 0), COALESCE(e.smtp_host, ''), COALESCE(e.smtp_port, 0),
		COALESCE(e.smtp_username, ''), COALESCE(e.smtp_password, ''), COALESCE(e.from_address, '')
		FROM general_properties g
		LEFT JOIN kuma_properties k ON k.id = g.kuma_properties_id
		LEFT JOIN email_properties e ON e.id = g.email_properties_id
		WHERE g.id = $1`, id)

	props, err := s.scanProperties(row)
	if err == ErrRecordNotFound {
		_ = s.cache.SetMissing(ctx, key)
		return nil, err
	} else if err != nil {
		slog.ErrorContext(ctx, "Failed to load properties", "propertiesID", id, common.ErrAttr(err))
		return nil, err
	}

	_ = s.cache.Set(ctx, key, props)

	return props, nil
}

// DefaultProperties loads the configured defaults row, falling back to id=1.
func (s *UserStore) DefaultProperties(ctx context.Context) (*GeneralProperties, error) {
	props, err := s.GetProperties(ctx, s.defaultPropertiesID)
	if err == ErrRecordNotFound && s.defaultPropertiesID != fallbackPropertiesID {
		slog.WarnContext(ctx, "Configured default properties not found, falling back",
			"propertiesID", s.defaultPropertiesID)
		return s.GetProperties(ctx, fallbackPropertiesID)
	}

	return props, err
}

// EffectiveProperties resolves the per-user override, if any.
func (s *UserStore) EffectiveProperties(ctx context.Context, user *User) (*GeneralProperties, error) {
	if user.CustomGeneralPropertiesID != nil {
		props, err := s.GetProperties(ctx, *user.CustomGeneralPropertiesID)
		if err == nil {
			return props, nil
		}

		slog.WarnContext(ctx, "Custom properties not loadable, using defaults",
			"propertiesID", *user.CustomGeneralPropertiesID, common.ErrAttr(err))
	}

	return s.DefaultProperties(ctx)
}

func (s *UserStore) invalidateUser(ctx context.Context, id int32, name string) {
	_ = s.cache.Delete(ctx, userByIDCacheKey(id))
	if len(name) > 0 {
		_ = s.cache.Delete(ctx, userByNameCacheKey(name))
	}
}

// UpdateUserTimestamps applies a partial timestamp update in a single
// statement. Nil fields keep their current value.
func (s *UserStore) UpdateUserTimestamps(ctx context.Context, id int32, update TimestampUpdate) error {
	if id <= 0 {
		return ErrInvalidInput
	}

	if update.Empty() {
		return nil
	}

	var name string
	err := s.pool.QueryRow(ctx, `UPDATE users SET
		last_execution_date = COALESCE($2, last_execution_date),
		last_successful_sign_in_date = COALESCE($3, last_successful_sign_in_date),
		last_system_execution_date = COALESCE($4, last_system_execution_date)
		WHERE id = $1
		RETURNING user_name`,
		id, update.LastExecution, update.LastSuccessfulSignIn, update.LastSystemExecution).Scan(&name)
	if err == pgx.ErrNoRows {
		return ErrRecordNotFound
	} else if err != nil {
		slog.ErrorContext(ctx, "Failed to update user timestamps", "userID", id, common.ErrAttr(err))
		return err
	}

	s.invalidateUser(ctx, id, name)

	return nil
}

func (s *UserStore) UpdateDisplayName(ctx context.Context, id int32, displayName Secret) error {
	if id <= 0 {
		return ErrInvalidInput
	}

	encrypted, err := s.cipher.Encrypt(displayName)
	if err != nil {
		return err
	}

	var name string
	err = s.pool.QueryRow(ctx, `UPDATE users SET display_name = $2 WHERE id = $1 RETURNING user_name`,
		id, encrypted).Scan(&name)
	if err == pgx.ErrNoRows {
		return ErrRecordNotFound
	} else if err != nil {
		slog.ErrorContext(ctx, "Failed to update display name", "userID", id, common.ErrAttr(err))
		return err
	}

	s.invalidateUser(ctx, id, name)

	return nil
}

// DeleteUser removes the users row; user_settings cascades.
func (s *UserStore) DeleteUser(ctx context.Context, id int32) error {
	if id <= 0 {
		return ErrInvalidInput
	}

	var name string
	err := s.pool.QueryRow(ctx, `DELETE FROM users WHERE id = $1 RETURNING user_name`, id).Scan(&name)
	if err == pgx.ErrNoRows {
		return ErrRecordNotFound
	} else if err != nil {
		slog.ErrorContext(ctx, "Failed to delete user", "userID", id, common.ErrAttr(err))
		return err
	}

	s.invalidateUser(ctx, id, name)
	slog.InfoContext(ctx, "Deleted user", "userID", id)

	return nil
}
