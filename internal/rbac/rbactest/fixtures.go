package rbactest

import (
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/orcamentos/orcamentos/internal/rbac"
	"github.com/orcamentos/orcamentos/internal/shared"
)

// Tokens is an rbac.TokenVerifier that accepts the decimal user id as the token.
type Tokens struct{}

// Verify parses token as a user id.
func (Tokens) Verify(token string) (int64, error) {
	if strings.TrimSpace(token) == "" {
		return 0, shared.ErrTokenMissing
	}
	id, err := strconv.ParseInt(token, 10, 64)
	if err != nil {
		return 0, shared.ErrTokenMalformed
	}
	return id, nil
}

// Bearer returns the Authorization header value Tokens accepts for user.
func Bearer(user rbac.User) string {
	return "Bearer " + strconv.FormatInt(user.ID, 10)
}

// AddUser inserts an active user holding the named roles, bypassing service rules.
func (s *Store) AddUser(email, passwordHash string, roleNames ...string) (rbac.User, error) {
	var created rbac.User
	err := s.WithTx(context.Background(), func(ctx context.Context, tx rbac.TxRepository) error {
		u, err := tx.InsertUser(ctx, rbac.User{Name: email, Email: rbac.NormalizeEmail(email), PasswordHash: passwordHash, Status: rbac.StatusActive})
		if err != nil {
			return err
		}
		grants := make([]rbac.UserRole, 0, len(roleNames))
		for _, name := range roleNames {
			role, err := tx.FindRoleByName(ctx, name)
			if err != nil {
				return err
			}
			grants = append(grants, rbac.UserRole{UserID: u.ID, RoleID: role.ID, GrantedAt: time.Now().UTC()})
		}
		if len(grants) > 0 {
			if err := tx.InsertUserRoles(ctx, grants); err != nil {
				return err
			}
		}
		created = u
		return nil
	})
	return created, err
}
