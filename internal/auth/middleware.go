package auth

import (
	"net/http"
	"strings"

	"go.uber.org/zap"

	"metering-billing/internal/observability/logging"
)

// Middleware authenticates trigger requests and enforces the role policy.
type Middleware struct {
	Secret []byte
	Policy Policy
	logger *zap.Logger
}

// NewMiddleware constructs an auth middleware.
func NewMiddleware(secret []byte, policy Policy, logger *zap.Logger) *Middleware {
	return &Middleware{Secret: secret, Policy: policy, logger: logging.OrNop(logger)}
}

// Wrap puts the caller Identity into the request context of next.
func (m *Middleware) Wrap(next http.Handler) http.Handler {
	if m == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if m.Policy.IsExempt(r) {
			next.ServeHTTP(w, r)
			return
		}
		required, ok := m.Policy.RequiredRole(r)
		if !ok {
			next.ServeHTTP(w, r)
			return
		}
		id, status := m.authenticate(r, required)
		if status != http.StatusOK {
			http.Error(w, http.StatusText(status), status)
			return
		}
		next.ServeHTTP(w, r.WithContext(WithIdentity(r.Context(), id)))
	})
}

// authenticate returns the caller and http.StatusOK, or the status to reject with.
func (m *Middleware) authenticate(r *http.Request, required Role) (Identity, int) {
	id, err := ParseToken(bearerToken(r.Header.Get("Authorization")), m.Secret)
	if err != nil {
		m.logger.Debug("token rejected", zap.String("path", r.URL.Path), zap.Error(err))
		return Identity{}, http.StatusUnauthorized
	}
	if !id.Role.Satisfies(required) {
		m.logger.Debug("role rejected",
			zap.String("path", r.URL.Path),
			zap.String("subject", id.Subject),
			zap.String("role", string(id.Role)),
			zap.String("required", string(required)),
		)
		return Identity{}, http.StatusForbidden
	}
	return id, http.StatusOK
}

func bearerToken(header string) string {
	scheme, token, ok := strings.Cut(strings.TrimSpace(header), " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return ""
	}
	return strings.TrimSpace(token)
}
