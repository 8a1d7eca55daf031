package auth

import (
	"context"
	"errors"
	"log/slog"
	"strconv"
	"time"

	"github.com/orcamentos/orcamentos/internal/rbac"
	"github.com/orcamentos/orcamentos/internal/shared"
)

// Login outcomes reported to the observer.
const (
	OutcomeSuccess   = "success"
	OutcomeInvalid   = "invalid_credentials"
	OutcomeInactive  = "inactive"
	OutcomeThrottled = "throttled"
	OutcomeError     = "error"
)

// LoginObserver receives the outcome of each login attempt.
type LoginObserver interface {
	ObserveLogin(outcome string)
}

// Deps collects the collaborators of Service. Only Repo and Tokens are required.
type Deps struct {
	Repo     rbac.Repository
	Tokens   *TokenCodec
	Throttle *Throttle
	Activity rbac.ActivityRecorder
	Audit    rbac.Auditor
	Observer LoginObserver
	Logger   *slog.Logger
}

// Service wraps credential verification, token issuance and password changes.
type Service struct {
	repo     rbac.Repository
	tokens   *TokenCodec
	throttle *Throttle
	activity rbac.ActivityRecorder
	audit    rbac.Auditor
	observer LoginObserver
	logger   *slog.Logger
	now      func() time.Time
}

// NewService constructs a new Service.
func NewService(d Deps) *Service {
	logger := d.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		repo:     d.Repo,
		tokens:   d.Tokens,
		throttle: d.Throttle,
		activity: d.Activity,
		audit:    d.Audit,
		observer: d.Observer,
		logger:   logger,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Verified is a user whose credentials checked out, with roles loaded eagerly.
type Verified struct {
	User  rbac.User
	Roles []rbac.Role
}

// LoginResult is returned by Login.
type LoginResult struct {
	Token    Token
	Identity *rbac.Identity
}

// Verify checks email and password. Unknown email and wrong password both yield
// shared.ErrInvalidCredentials; a non-active account yields shared.ErrUserInactive.
func (s *Service) Verify(ctx context.Context, email, password string) (Verified, error) {
	subject := rbac.NormalizeEmail(email)
	if s.throttle.Locked(ctx, subject) {
		s.observe(OutcomeThrottled)
		return Verified{}, shared.ErrTooManyAttempts
	}
	user, err := s.repo.FindUserByEmail(ctx, subject)
	if err != nil {
		if !errors.Is(err, shared.ErrNotFound) {
			s.observe(OutcomeError)
			return Verified{}, err
		}
		burnCompare(password)
		s.throttle.Fail(ctx, subject)
		s.observe(OutcomeInvalid)
		return Verified{}, shared.ErrInvalidCredentials
	}
	if !CheckPassword(user.PasswordHash, password) {
		s.throttle.Fail(ctx, subject)
		s.observe(OutcomeInvalid)
		return Verified{}, shared.ErrInvalidCredentials
	}
	if user.Status != rbac.StatusActive {
		s.observe(OutcomeInactive)
		return Verified{}, shared.ErrUserInactive
	}
	now := s.now()
	roles, err := s.repo.UserRoles(ctx, user.ID, now)
	if err != nil {
		s.observe(OutcomeError)
		return Verified{}, err
	}
	s.throttle.Reset(ctx, subject)
	if s.activity != nil {
		s.activity.Touch(user.ID, now)
	}
	s.observe(OutcomeSuccess)
	return Verified{User: user, Roles: roles}, nil
}

// Login verifies credentials and issues a token.
func (s *Service) Login(ctx context.Context, email, password string) (LoginResult, error) {
	v, err := s.Verify(ctx, email, password)
	if err != nil {
		return LoginResult{}, err
	}
	token, err := s.tokens.Issue(v.User.ID)
	if err != nil {
		return LoginResult{}, err
	}
	return LoginResult{Token: token, Identity: rbac.NewIdentity(v.User, v.Roles)}, nil
}

// ChangePasswordInput carries a self-service password change.
type ChangePasswordInput struct {
	Current      string
	New          string
	Confirmation string
}

// ChangePassword replaces the caller's password after checking the current one.
func (s *Service) ChangePassword(ctx context.Context, userID int64, in ChangePasswordInput) error {
	if in.New != in.Confirmation {
		return shared.NewValidationError("new_password_confirmation", "confirmação não confere")
	}
	if err := ValidatePassword("new_password", in.New); err != nil {
		return err
	}
	user, err := s.repo.GetUser(ctx, userID)
	if err != nil {
		if errors.Is(err, shared.ErrNotFound) {
			return shared.ErrUserNotFound
		}
		return err
	}
	if !CheckPassword(user.PasswordHash, in.Current) {
		return shared.ErrWrongPassword
	}
	if in.New == in.Current {
		return shared.NewValidationError("new_password", "a nova senha deve ser diferente da atual")
	}
	hash, err := HashPassword(in.New)
	if err != nil {
		return err
	}
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx rbac.TxRepository) error {
		return tx.UpdatePassword(ctx, userID, hash)
	})
	if err != nil {
		return err
	}
	if s.audit != nil {
		entry := shared.AuditLog{ActorID: userID, Action: shared.AuditPasswordChanged, Entity: "user", EntityID: strconv.FormatInt(userID, 10), At: s.now()}
		if err := s.audit.Record(ctx, entry); err != nil {
			s.logger.Warn("audit password change", slog.Any("error", err))
		}
	}
	return nil
}

func (s *Service) observe(outcome string) {
	if s.observer != nil {
		s.observer.ObserveLogin(outcome)
	}
}
