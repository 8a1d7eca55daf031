// Package users manages user accounts and their role grants.
package users

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/orcamentos/orcamentos/internal/auth"
	"github.com/orcamentos/orcamentos/internal/rbac"
	"github.com/orcamentos/orcamentos/internal/shared"
)

// Service handles user business logic.
type Service struct {
	repo   rbac.Repository
	audit  rbac.Auditor
	logger *slog.Logger
	now    func() time.Time
}

// NewService builds Service instance. audit may be nil.
func NewService(repo rbac.Repository, audit rbac.Auditor, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: repo, audit: audit, logger: logger, now: func() time.Time { return time.Now().UTC() }}
}

// ListParams narrows and pages a user listing.
type ListParams struct {
	Page    int
	PerPage int
	Search  string
	Status  rbac.UserStatus
}

// Page is one page of users.
type Page struct {
	Users      []rbac.User       `json:"users"`
	Pagination shared.Pagination `json:"pagination"`
}

// CreateInput carries a new account. Status defaults to active; RoleExpiresAt applies
// to every role in RoleIDs.
type CreateInput struct {
	Name          string
	Email         string
	Password      string
	Status        rbac.UserStatus
	RoleIDs       []int64
	RoleExpiresAt *time.Time
}

// UpdateInput changes an account; nil fields are left untouched. A non-nil RoleIDs
// replaces the user's grants, an empty slice revokes them all.
type UpdateInput struct {
	Name          *string
	Email         *string
	Status        *rbac.UserStatus
	Password      *string
	RoleIDs       []int64
	RoleExpiresAt *time.Time
}

// List returns a page of users.
func (s *Service) List(ctx context.Context, p ListParams) (Page, error) {
	if p.Status != "" && !p.Status.Valid() {
		return Page{}, shared.NewValidationError("status", "status inválido")
	}
	page, perPage := shared.NormalizePage(p.Page, p.PerPage)
	offset := shared.Pagination{Page: page, PerPage: perPage}.Offset()
	users, total, err := s.repo.ListUsers(ctx, rbac.UserFilter{
		Search: strings.TrimSpace(p.Search),
		Status: p.Status,
		Limit:  perPage,
		Offset: offset,
	})
	if err != nil {
		return Page{}, err
	}
	if users == nil {
		users = []rbac.User{}
	}
	return Page{Users: users, Pagination: shared.NewPagination(page, perPage, total)}, nil
}

// Get returns a user with the roles currently in force.
func (s *Service) Get(ctx context.Context, id int64) (rbac.User, error) {
	user, err := s.repo.GetUser(ctx, id)
	if err != nil {
		return rbac.User{}, err
	}
	user.Roles, err = s.repo.UserRoles(ctx, id, s.now())
	if err != nil {
		return rbac.User{}, err
	}
	return user, nil
}

// Create inserts an account and its initial role grants in one transaction.
func (s *Service) Create(ctx context.Context, actorID int64, in CreateInput) (rbac.User, error) {
	status := in.Status
	if status == "" {
		status = rbac.StatusActive
	}
	if !status.Valid() {
		return rbac.User{}, shared.NewValidationError("status", "status inválido")
	}
	if err := auth.ValidatePassword("password", in.Password); err != nil {
		return rbac.User{}, err
	}
	hash, err := auth.HashPassword(in.Password)
	if err != nil {
		return rbac.User{}, err
	}
	email := rbac.NormalizeEmail(in.Email)
	now := s.now()

	var created rbac.User
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx rbac.TxRepository) error {
		if err := ensureEmailFree(ctx, tx, email, 0); err != nil {
			return err
		}
		user, err := tx.InsertUser(ctx, rbac.User{
			Name:         strings.TrimSpace(in.Name),
			Email:        email,
			PasswordHash: hash,
			Status:       status,
		})
		if err != nil {
			return err
		}
		if len(in.RoleIDs) > 0 {
			if err := rbac.ReplaceUserRolesTx(ctx, tx, user.ID, assignments(in.RoleIDs, in.RoleExpiresAt), actorID, now); err != nil {
				return err
			}
		}
		user.Roles, err = tx.UserRoles(ctx, user.ID, now)
		created = user
		return err
	})
	if err != nil {
		return rbac.User{}, err
	}
	s.record(ctx, actorID, shared.AuditCreate, created.ID, map[string]any{"email": created.Email, "role_ids": in.RoleIDs})
	return created, nil
}

// Update changes profile, status, password and role grants in one transaction.
func (s *Service) Update(ctx context.Context, actorID, id int64, in UpdateInput) (rbac.User, error) {
	if in.Status != nil && !in.Status.Valid() {
		return rbac.User{}, shared.NewValidationError("status", "status inválido")
	}
	var hash string
	if in.Password != nil && *in.Password != "" {
		if err := auth.ValidatePassword("password", *in.Password); err != nil {
			return rbac.User{}, err
		}
		var err error
		if hash, err = auth.HashPassword(*in.Password); err != nil {
			return rbac.User{}, err
		}
	}
	now := s.now()

	var updated rbac.User
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx rbac.TxRepository) error {
		if err := tx.LockUser(ctx, id); err != nil {
			return err
		}
		user, err := tx.GetUser(ctx, id)
		if err != nil {
			return err
		}
		if in.Name != nil {
			user.Name = strings.TrimSpace(*in.Name)
		}
		if in.Email != nil {
			email := rbac.NormalizeEmail(*in.Email)
			if email != user.Email {
				if err := ensureEmailFree(ctx, tx, email, id); err != nil {
					return err
				}
				user.Email = email
			}
		}
		if in.Status != nil {
			user.Status = *in.Status
		}
		if user, err = tx.UpdateUser(ctx, user); err != nil {
			return err
		}
		if hash != "" {
			if err := tx.UpdatePassword(ctx, id, hash); err != nil {
				return err
			}
		}
		if in.RoleIDs != nil {
			if err := rbac.ReplaceUserRolesTx(ctx, tx, id, assignments(in.RoleIDs, in.RoleExpiresAt), actorID, now); err != nil {
				return err
			}
		}
		user.Roles, err = tx.UserRoles(ctx, id, now)
		updated = user
		return err
	})
	if err != nil {
		return rbac.User{}, err
	}
	meta := map[string]any{"email": updated.Email, "password_reset": hash != ""}
	if in.RoleIDs != nil {
		meta["role_ids"] = in.RoleIDs
	}
	s.record(ctx, actorID, shared.AuditUpdate, id, meta)
	return updated, nil
}

// Delete removes an account. Callers cannot delete themselves; grants cascade.
func (s *Service) Delete(ctx context.Context, actorID, id int64) error {
	if actorID == id {
		return shared.ErrSelfDelete
	}
	var email string
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx rbac.TxRepository) error {
		user, err := tx.GetUser(ctx, id)
		if err != nil {
			return err
		}
		email = user.Email
		return tx.DeleteUser(ctx, id)
	})
	if err != nil {
		return err
	}
	s.record(ctx, actorID, shared.AuditDelete, id, map[string]any{"email": email})
	return nil
}

func (s *Service) record(ctx context.Context, actorID int64, action string, id int64, meta map[string]any) {
	if s.audit == nil {
		return
	}
	entry := shared.AuditLog{ActorID: actorID, Action: action, Entity: "user", EntityID: strconv.FormatInt(id, 10), Meta: meta, At: s.now()}
	if err := s.audit.Record(ctx, entry); err != nil {
		s.logger.Warn("audit user change", slog.String("action", action), slog.Any("error", err))
	}
}

func ensureEmailFree(ctx context.Context, r rbac.Reader, email string, selfID int64) error {
	existing, err := r.FindUserByEmail(ctx, email)
	switch {
	case errors.Is(err, shared.ErrNotFound):
		return nil
	case err != nil:
		return err
	case existing.ID != selfID:
		return fmt.Errorf("%w: email already registered", shared.ErrDuplicate)
	}
	return nil
}

func assignments(roleIDs []int64, expiresAt *time.Time) []rbac.RoleAssignment {
	out := make([]rbac.RoleAssignment, 0, len(roleIDs))
	for _, id := range roleIDs {
		out = append(out, rbac.RoleAssignment{RoleID: id, ExpiresAt: expiresAt})
	}
	return out
}
