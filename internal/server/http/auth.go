package httpserver

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gofrs/uuid/v5"
	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"

	"github.com/and161185/phv-register/internal/errs"
)

// TokenVerifier checks HS256 bearer tokens whose subject is the uploader UUID.
type TokenVerifier struct {
	key    []byte
	leeway time.Duration
}

// NewTokenVerifier constructs a verifier for key.
func NewTokenVerifier(key []byte) *TokenVerifier {
	return &TokenVerifier{key: key, leeway: 30 * time.Second}
}

// Verify validates tok and returns its subject. Failures wrap errs.ErrUnauthorized.
func (v *TokenVerifier) Verify(tok string) (uuid.UUID, error) {
	var claims jwt.RegisteredClaims
	parsed, err := jwt.ParseWithClaims(tok, &claims, func(t *jwt.Token) (any, error) {
		if t.Method != jwt.SigningMethodHS256 {
			return nil, errors.New("unexpected signing method")
		}
		return v.key, nil
	}, jwt.WithLeeway(v.leeway))
	if err != nil || !parsed.Valid {
		return uuid.Nil, fmt.Errorf("%w: invalid token", errs.ErrUnauthorized)
	}

	id, err := uuid.FromString(claims.Subject)
	if err != nil || id == uuid.Nil {
		return uuid.Nil, fmt.Errorf("%w: bad subject", errs.ErrUnauthorized)
	}
	return id, nil
}

func bearerToken(r *http.Request) (string, error) {
	for _, v := range r.Header.Values("Authorization") {
		v = strings.TrimSpace(v)
		if len(v) >= 7 && strings.EqualFold(v[:7], "bearer ") {
			if t := strings.TrimSpace(v[7:]); t != "" {
				return t, nil
			}
		}
	}
	return "", fmt.Errorf("%w: no bearer token", errs.ErrUnauthorized)
}

// RequireUploader rejects requests without a valid bearer token and stores
// the uploader ID of accepted ones in the request context.
func RequireUploader(v *TokenVerifier, log *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			tok, err := bearerToken(r)
			if err == nil {
				var id uuid.UUID
				if id, err = v.Verify(tok); err == nil {
					next.ServeHTTP(w, r.WithContext(WithUploaderID(r.Context(), id)))
					return
				}
			}
			log.Debug("rejected request", zap.String("path", r.URL.Path), zap.Error(err))
			writeError(w, err)
		})
	}
}
