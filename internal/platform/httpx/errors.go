package httpx

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/orcamentos/orcamentos/internal/shared"
)

// Problem is the resolved HTTP shape of a failure.
type Problem struct {
	Status  int
	Code    string
	Message string
	Context Envelope
}

type mapping struct {
	err     error
	status  int
	code    string
	message string
}

// Ordered: the first sentinel matched by errors.Is wins.
var mappings = []mapping{
	{shared.ErrInvalidCredentials, http.StatusUnauthorized, "INVALID_CREDENTIALS", "E-mail ou senha inválidos"},
	{shared.ErrUserInactive, http.StatusUnauthorized, "USER_INACTIVE", "Usuário inativo"},
	{shared.ErrTokenMissing, http.StatusUnauthorized, "MISSING_TOKEN", "Token de acesso não informado"},
	{shared.ErrTokenFormat, http.StatusUnauthorized, "INVALID_TOKEN_FORMAT", "Formato de token inválido"},
	{shared.ErrTokenExpired, http.StatusUnauthorized, "TOKEN_EXPIRED", "Token expirado"},
	{shared.ErrTokenMalformed, http.StatusUnauthorized, "INVALID_TOKEN", "Token inválido"},
	{shared.ErrUserNotFound, http.StatusUnauthorized, "USER_NOT_FOUND", "Usuário não encontrado"},
	{shared.ErrNotAuthenticated, http.StatusUnauthorized, "NOT_AUTHENTICATED", "Autenticação necessária"},
	{shared.ErrInsufficientPermission, http.StatusForbidden, "INSUFFICIENT_PERMISSION", "Permissão insuficiente"},
	{shared.ErrInsufficientRole, http.StatusForbidden, "INSUFFICIENT_ROLE", "Perfil insuficiente"},
	{shared.ErrPrivilegeEscalation, http.StatusForbidden, "PRIVILEGE_ESCALATION", "Não é possível conceder acesso que você não possui"},
	{shared.ErrTooManyAttempts, http.StatusTooManyRequests, "TOO_MANY_ATTEMPTS", "Muitas tentativas de login, tente novamente mais tarde"},
	{shared.ErrValidation, http.StatusBadRequest, "VALIDATION_ERROR", "Dados inválidos"},
	{shared.ErrWrongPassword, http.StatusBadRequest, "WRONG_PASSWORD", "Senha atual incorreta"},
	{shared.ErrUnknownReference, http.StatusBadRequest, "UNKNOWN_REFERENCE", "Referência inexistente"},
	{shared.ErrSystemProtected, http.StatusBadRequest, "SYSTEM_PROTECTED", "Registro de sistema não pode ser alterado"},
	{shared.ErrInUse, http.StatusBadRequest, "IN_USE", "Registro em uso"},
	{shared.ErrSelfDelete, http.StatusBadRequest, "CANNOT_DELETE_SELF", "Não é possível excluir a própria conta"},
	{shared.ErrDuplicate, http.StatusConflict, "DUPLICATE", "Registro duplicado"},
	{shared.ErrNotFound, http.StatusNotFound, "NOT_FOUND", "Registro não encontrado"},
}

// Resolve maps a failure to its HTTP status, code, message and context fields.
func Resolve(err error) Problem {
	for _, m := range mappings {
		if errors.Is(err, m.err) {
			return Problem{Status: m.status, Code: m.code, Message: m.message, Context: contextFor(err)}
		}
	}
	return Problem{Status: http.StatusInternalServerError, Code: "INTERNAL_ERROR", Message: "Erro interno do servidor"}
}

// RespondError writes the envelope for err.
func RespondError(w http.ResponseWriter, err error) {
	p := Resolve(err)
	Fail(w, p.Status, p.Code, p.Message, p.Context)
}

// Error writes the envelope for err, logging server-side failures under op.
func Error(w http.ResponseWriter, logger *slog.Logger, op string, err error) {
	p := Resolve(err)
	if p.Status >= http.StatusInternalServerError && logger != nil {
		logger.Error(op, slog.Any("error", err))
	}
	Fail(w, p.Status, p.Code, p.Message, p.Context)
}

// RateLimited writes the 429 envelope used by request limiters.
func RateLimited(w http.ResponseWriter, _ *http.Request) {
	Fail(w, http.StatusTooManyRequests, "RATE_LIMITED", "Muitas requisições, tente novamente em instantes", nil)
}

func contextFor(err error) Envelope {
	var denied *shared.DeniedError
	if errors.As(err, &denied) {
		ctx := Envelope{}
		if denied.Mode == shared.MatchOne && len(denied.Required) == 1 {
			ctx["required"] = denied.Required[0]
		} else {
			ctx["required"] = nonNil(denied.Required)
		}
		if denied.Mode == shared.MatchAll {
			ctx["missing"] = nonNil(denied.Missing)
		}
		if errors.Is(denied.Reason, shared.ErrInsufficientRole) {
			ctx["user_roles"] = nonNil(denied.Roles)
		} else {
			ctx["user_permissions"] = nonNil(denied.Permissions)
		}
		return ctx
	}
	var validation *shared.ValidationError
	if errors.As(err, &validation) {
		return Envelope{"errors": validation.Fields}
	}
	var inUse *shared.InUseError
	if errors.As(err, &inUse) {
		return Envelope{"count": inUse.Count}
	}
	var ref *shared.ReferenceError
	if errors.As(err, &ref) {
		return Envelope{"unknown_ids": ref.IDs}
	}
	return nil
}

func nonNil(values []string) []string {
	if values == nil {
		return []string{}
	}
	return values
}
