package auth

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Service owns the local user rows mirrored from the identity provider.
type Service struct {
	db     *sql.DB
	mailer Mailer
}

type ServiceConfig struct {
	Mailer Mailer
}

type UpdateProfileInput struct {
	FirstName    *string    `json:"firstName" validate:"omitempty,min=1,max=128"`
	LastName     *string    `json:"lastName" validate:"omitempty,max=128"`
	AvatarURL    *string    `json:"avatarUrl" validate:"omitempty,url"`
	Municipality *int       `json:"municipality" validate:"omitempty,gte=0"`
	School       *int       `json:"school" validate:"omitempty,gte=0"`
	SectorID     *uuid.UUID `json:"sectorId"`
}

const userColumns = `id, firebase_uid, email, first_name, last_name, avatar_url, is_active,
	municipality, school, sector_id, created_at, updated_at`

func NewService(db *sql.DB, cfg ServiceConfig) *Service {
	return &Service{db: db, mailer: cfg.Mailer}
}

// GetOrCreate resolves the local user for a verified identity, inserting it on
// first sight. The boolean reports whether a row was created.
func (s *Service) GetOrCreate(ctx context.Context, id Identity) (*User, bool, error) {
	if strings.TrimSpace(id.UID) == "" {
		return nil, false, ErrInvalidInput
	}

	u, err := s.findByUID(ctx, id.UID)
	if err == nil {
		return u, false, nil
	}
	if !errors.Is(err, ErrUserNotFound) {
		return nil, false, err
	}

	u, err = s.insert(ctx, id)
	if errors.Is(err, sql.ErrNoRows) {
		// lost the race against a concurrent first request
		u, err = s.findByUID(ctx, id.UID)
		return u, false, err
	}
	if err != nil {
		return nil, false, err
	}

	s.sendWelcome(u)
	return u, true, nil
}

// Create inserts the user for an identity and fails when it already exists.
func (s *Service) Create(ctx context.Context, id Identity) (*User, error) {
	if strings.TrimSpace(id.UID) == "" {
		return nil, ErrInvalidInput
	}
	u, err := s.insert(ctx, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrUserExists
	}
	if err != nil {
		return nil, err
	}
	s.sendWelcome(u)
	return u, nil
}

func (s *Service) GetByUID(ctx context.Context, uid string) (*User, error) {
	return s.findByUID(ctx, uid)
}

func (s *Service) UpdateProfile(ctx context.Context, uid string, in UpdateProfileInput) (*User, error) {
	if in.FirstName != nil && strings.TrimSpace(*in.FirstName) == "" {
		return nil, ErrInvalidInput
	}

	row := s.db.QueryRowContext(ctx, `
		UPDATE users
		SET first_name = COALESCE($2, first_name),
			last_name = COALESCE($3, last_name),
			avatar_url = COALESCE($4, avatar_url),
			municipality = COALESCE($5, municipality),
			school = COALESCE($6, school),
			sector_id = COALESCE($7, sector_id),
			updated_at = now()
		WHERE firebase_uid = $1
		RETURNING `+userColumns,
		uid, trimPtr(in.FirstName), trimPtr(in.LastName), trimPtr(in.AvatarURL),
		in.Municipality, in.School, in.SectorID,
	)
	u, err := scanUser(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("update user profile: %w", err)
	}
	return u, nil
}

// Delete removes the user together with the answers that reference it.
func (s *Service) Delete(ctx context.Context, uid string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var userID uuid.UUID
	err = tx.QueryRowContext(ctx, `SELECT id FROM users WHERE firebase_uid = $1 FOR UPDATE`, uid).Scan(&userID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ErrUserNotFound
		}
		return fmt.Errorf("lock user: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM user_answers WHERE user_id = $1`, userID); err != nil {
		return fmt.Errorf("delete user answers: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM users WHERE id = $1`, userID); err != nil {
		return fmt.Errorf("delete user: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

func (s *Service) findByUID(ctx context.Context, uid string) (*User, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE firebase_uid = $1`, uid)
	u, err := scanUser(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("load user: %w", err)
	}
	return u, nil
}

// insert returns sql.ErrNoRows when the firebase uid is already taken.
func (s *Service) insert(ctx context.Context, id Identity) (*User, error) {
	first, last := splitDisplayName(id.Name, id.Email)
	row := s.db.QueryRowContext(ctx, `
		INSERT INTO users (id, firebase_uid, email, first_name, last_name, avatar_url, is_active, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, NULLIF($6, ''), TRUE, now(), now())
		ON CONFLICT (firebase_uid) DO NOTHING
		RETURNING `+userColumns,
		uuid.New(), id.UID, strings.TrimSpace(id.Email), first, last, strings.TrimSpace(id.Picture),
	)
	u, err := scanUser(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, sql.ErrNoRows
		}
		return nil, fmt.Errorf("insert user: %w", err)
	}
	return u, nil
}

func (s *Service) sendWelcome(u *User) {
	if s.mailer == nil || strings.TrimSpace(u.Email) == "" {
		return
	}
	go func(email, name string) {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := s.mailer.SendWelcome(ctx, email, name); err != nil {
			log.Printf("welcome email to %s failed: %v", email, err)
		}
	}(u.Email, u.FirstName)
}

// splitDisplayName derives first and last name from the provider display
// name, falling back to the e-mail local part.
func splitDisplayName(name, email string) (string, string) {
	parts := strings.Fields(name)
	if len(parts) > 0 {
		return parts[0], strings.Join(parts[1:], " ")
	}
	if at := strings.Index(email, "@"); at > 0 {
		return email[:at], ""
	}
	return "User", ""
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanUser(row rowScanner) (*User, error) {
	var (
		u            User
		avatar       sql.NullString
		municipality sql.NullInt32
		school       sql.NullInt32
		sectorID     uuid.NullUUID
	)
	if err := row.Scan(
		&u.ID, &u.FirebaseUID, &u.Email, &u.FirstName, &u.LastName, &avatar, &u.IsActive,
		&municipality, &school, &sectorID, &u.CreatedAt, &u.UpdatedAt,
	); err != nil {
		return nil, err
	}
	if avatar.Valid {
		u.AvatarURL = &avatar.String
	}
	if municipality.Valid {
		v := int(municipality.Int32)
		u.Municipality = &v
	}
	if school.Valid {
		v := int(school.Int32)
		u.School = &v
	}
	if sectorID.Valid {
		u.SectorID = &sectorID.UUID
	}
	return &u, nil
}

func trimPtr(v *string) any {
	if v == nil {
		return nil
	}
	return strings.TrimSpace(*v)
}
