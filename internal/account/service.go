package account

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"golang.org/x/crypto/bcrypt"

	"github.com/lodgic/authd/internal/database"
	apperrors "github.com/lodgic/authd/internal/errors"
)

var (
	ErrIdentityNotFound   = apperrors.NotFoundError("identity not found", nil)
	ErrTenantNotFound     = apperrors.NotFoundError("tenant not found", nil)
	ErrEmailTaken         = apperrors.ValidationError("email is already registered", nil)
	ErrInvalidCredentials = apperrors.UnauthorizedError("invalid credentials", nil)
)

type Service struct {
	DB database.Querier
}

func NewService(db database.Querier) *Service {
	return &Service{DB: db}
}

// Register creates an identity with a password hash and its tenant in a
// single transaction. The tenant display name defaults to the mailbox
// part of the email.
func (s *Service) Register(ctx context.Context, email, password string) (Identity, Tenant, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" {
		return Identity{}, Tenant{}, apperrors.ValidationError("email cannot be empty", nil)
	}
	if password == "" {
		return Identity{}, Tenant{}, apperrors.ValidationError("password cannot be empty", nil)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return Identity{}, Tenant{}, apperrors.InternalError("failed to hash password", err)
	}

	identity := Identity{Email: email, PasswordHash: string(hash), IsActive: true}
	tenant := Tenant{DisplayName: displayNameFromEmail(email)}

	if err := s.createPair(ctx, &identity, &tenant); err != nil {
		return Identity{}, Tenant{}, err
	}
	return identity, tenant, nil
}

// ProvisionFederated finds the identity bound to a federation subject,
// creating identity and tenant on first contact.
func (s *Service) ProvisionFederated(ctx context.Context, subject, email string) (Identity, Tenant, error) {
	if subject == "" {
		return Identity{}, Tenant{}, apperrors.ValidationError("federation subject cannot be empty", nil)
	}
	email = strings.ToLower(strings.TrimSpace(email))

	identity, err := s.GetIdentityByFederationSubject(ctx, subject)
	if err == nil {
		tenant, err := s.GetTenantByIdentityID(ctx, identity.ID)
		if err != nil {
			return Identity{}, Tenant{}, err
		}
		return identity, tenant, nil
	}
	if !errors.Is(err, ErrIdentityNotFound) {
		return Identity{}, Tenant{}, err
	}

	identity = Identity{Email: email, FederationSubject: subject, IsActive: true}
	tenant := Tenant{DisplayName: displayNameFromEmail(email)}

	if err := s.createPair(ctx, &identity, &tenant); err != nil {
		return Identity{}, Tenant{}, err
	}
	return identity, tenant, nil
}

func (s *Service) createPair(ctx context.Context, identity *Identity, tenant *Tenant) error {
	tx, err := s.DB.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	var passwordHash, federationSubject any
	if identity.PasswordHash != "" {
		passwordHash = identity.PasswordHash
	}
	if identity.FederationSubject != "" {
		federationSubject = identity.FederationSubject
	}

	err = tx.QueryRow(ctx,
		`INSERT INTO tbl_identity (email, password_hash, federation_subject, is_active)
		 VALUES ($1, $2, $3, $4)
		 RETURNING id, created_at, updated_at`,
		identity.Email, passwordHash, federationSubject, identity.IsActive,
	).Scan(&identity.ID, &identity.CreatedAt, &identity.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrEmailTaken
		}
		return fmt.Errorf("failed to save identity: %w", err)
	}

	tenant.IdentityID = identity.ID
	err = tx.QueryRow(ctx,
		`INSERT INTO tbl_tenant (identity_id, display_name)
		 VALUES ($1, $2)
		 RETURNING id, created_at, updated_at`,
		tenant.IdentityID, tenant.DisplayName,
	).Scan(&tenant.ID, &tenant.CreatedAt, &tenant.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to save tenant: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// Authenticate verifies an email/password pair. Every failure mode maps
// to ErrInvalidCredentials so callers cannot tell which check tripped.
func (s *Service) Authenticate(ctx context.Context, email, password string) (Identity, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" || password == "" {
		return Identity{}, ErrInvalidCredentials
	}

	identity, err := s.GetIdentityByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, ErrIdentityNotFound) {
			return Identity{}, ErrInvalidCredentials
		}
		return Identity{}, err
	}

	if !identity.IsActive || identity.PasswordHash == "" {
		return Identity{}, ErrInvalidCredentials
	}

	if err := bcrypt.CompareHashAndPassword([]byte(identity.PasswordHash), []byte(password)); err != nil {
		return Identity{}, ErrInvalidCredentials
	}

	return identity, nil
}

func (s *Service) GetIdentityByID(ctx context.Context, id uuid.UUID) (Identity, error) {
	return s.getIdentity(ctx, `WHERE id = $1`, id)
}

func (s *Service) GetIdentityByEmail(ctx context.Context, email string) (Identity, error) {
	return s.getIdentity(ctx, `WHERE email = $1`, email)
}

func (s *Service) GetIdentityByFederationSubject(ctx context.Context, subject string) (Identity, error) {
	return s.getIdentity(ctx, `WHERE federation_subject = $1`, subject)
}

func (s *Service) getIdentity(ctx context.Context, where string, arg any) (Identity, error) {
	var identity Identity
	var passwordHash, federationSubject *string

	query := `SELECT id, email, password_hash, federation_subject, is_active, created_at, updated_at FROM tbl_identity ` + where
	err := s.DB.QueryRow(ctx, query, arg).Scan(
		&identity.ID,
		&identity.Email,
		&passwordHash,
		&federationSubject,
		&identity.IsActive,
		&identity.CreatedAt,
		&identity.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, database.ErrNoRows) {
			return Identity{}, ErrIdentityNotFound
		}
		return Identity{}, fmt.Errorf("failed to get identity: %w", err)
	}

	if passwordHash != nil {
		identity.PasswordHash = *passwordHash
	}
	if federationSubject != nil {
		identity.FederationSubject = *federationSubject
	}
	return identity, nil
}

func (s *Service) GetTenantByIdentityID(ctx context.Context, identityID uuid.UUID) (Tenant, error) {
	var tenant Tenant
	err := s.DB.QueryRow(ctx,
		`SELECT id, identity_id, display_name, created_at, updated_at FROM tbl_tenant WHERE identity_id = $1`,
		identityID,
	).Scan(&tenant.ID, &tenant.IdentityID, &tenant.DisplayName, &tenant.CreatedAt, &tenant.UpdatedAt)
	if err != nil {
		if errors.Is(err, database.ErrNoRows) {
			return Tenant{}, ErrTenantNotFound
		}
		return Tenant{}, fmt.Errorf("failed to get tenant by identity ID: %w", err)
	}
	return tenant, nil
}

// DeleteIdentity removes an identity; the owning tenant and its secrets
// cascade at the database level.
func (s *Service) DeleteIdentity(ctx context.Context, id uuid.UUID) error {
	if _, err := s.DB.Exec(ctx, `DELETE FROM tbl_identity WHERE id = $1`, id); err != nil {
		return fmt.Errorf("failed to delete identity: %w", err)
	}
	return nil
}

func displayNameFromEmail(email string) string {
	if at := strings.IndexByte(email, '@'); at > 0 {
		return email[:at]
	}
	if email == "" {
		return "tenant"
	}
	return email
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
