package auth

import (
	"crypto/subtle"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v4"
	"github.com/google/uuid"

	"github.com/kbservice/kbquery/internal/errs"
)

var errMaxSessions = errors.New("session store at capacity")

// scopeAll grants unrestricted access, used for the api-key synthetic session.
const scopeAll = "*"

// Principal is the authenticated identity AuthGate produces for a request,
// combining spec.md §3's Session/Credential fields with the derived scopes
// and auth method callers check before proceeding.
type Principal struct {
	SessionID  string
	Scopes     map[string]bool
	AuthMethod string // "bearer" or "api_key"
}

// HasScope reports whether the principal may perform an operation requiring
// scope. The synthetic api-key principal always carries scopeAll.
func (p Principal) HasScope(scope string) bool {
	if p.Scopes[scopeAll] {
		return true
	}
	return p.Scopes[scope]
}

// Gate is the C9 AuthGate. It verifies bearer tokens against SigningKey and
// api-keys against APIKey, consulting sessions for jti revocation/scopes.
type Gate struct {
	signingKey []byte
	apiKey     string
	sessions   *SessionStore
}

// New builds a Gate. A nil sessions is replaced by a fresh, empty store
// with the default capacity.
func New(signingKey, apiKey string, sessions *SessionStore) *Gate {
	if sessions == nil {
		sessions = NewSessionStore(0)
	}
	return &Gate{signingKey: []byte(signingKey), apiKey: apiKey, sessions: sessions}
}

// Sessions exposes the Gate's session store so callers can mint sessions
// (e.g. after an out-of-band login flow) without reaching into the Gate's
// internals.
func (g *Gate) Sessions() *SessionStore {
	return g.sessions
}

// claims is the JWT payload minted for a bearer session. jti is the key
// used to look the Session up in the store after signature verification.
type claims struct {
	jwt.RegisteredClaims
}

// Authenticate implements spec.md §4.9: bearer-token precedence over
// api-key, mapping every failure mode to the errs.Kind the spec names.
func (g *Gate) Authenticate(r *http.Request) (Principal, error) {
	if token, ok := bearerToken(r); ok {
		return g.authenticateBearer(token)
	}
	if key := r.Header.Get("X-API-Key"); key != "" {
		return g.authenticateAPIKey(key)
	}
	return Principal{}, errs.New(errs.Unauthenticated, "no credential presented")
}

func bearerToken(r *http.Request) (string, bool) {
	h := r.Header.Get("Authorization")
	const prefix = "Bearer "
	if !strings.HasPrefix(h, prefix) {
		return "", false
	}
	return strings.TrimSpace(strings.TrimPrefix(h, prefix)), true
}

func (g *Gate) authenticateBearer(token string) (Principal, error) {
	parsed, err := jwt.ParseWithClaims(token, &claims{}, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return g.signingKey, nil
	})
	if err != nil {
		var verr *jwt.ValidationError
		if errors.As(err, &verr) && verr.Errors&jwt.ValidationErrorExpired != 0 {
			return Principal{}, errs.New(errs.Unauthenticated, "token expired")
		}
		return Principal{}, errs.Wrap(errs.Unauthenticated, "invalid credential", err)
	}
	c, ok := parsed.Claims.(*claims)
	if !ok || !parsed.Valid || c.ID == "" {
		return Principal{}, errs.New(errs.Unauthenticated, "invalid credential")
	}

	sess, found := g.sessions.Get(c.ID)
	if !found {
		return Principal{}, errs.New(errs.Unauthenticated, "session not recognized")
	}
	if sess.Disabled {
		return Principal{}, errs.New(errs.Unauthenticated, "session disabled")
	}

	return Principal{SessionID: sess.ID, Scopes: sess.Scopes, AuthMethod: "bearer"}, nil
}

func (g *Gate) authenticateAPIKey(key string) (Principal, error) {
	if g.apiKey == "" {
		return Principal{}, errs.New(errs.Unauthenticated, "invalid credential")
	}
	if subtle.ConstantTimeCompare([]byte(key), []byte(g.apiKey)) != 1 {
		return Principal{}, errs.New(errs.Unauthenticated, "invalid credential")
	}
	return Principal{
		Scopes:     map[string]bool{scopeAll: true},
		AuthMethod: "api_key",
	}, nil
}

// Mint issues a bearer token for the requested scopes, backing it with a
// Session record in the store so it can later be revoked or expired. This
// is the `/v1/auth/token` exchange's underlying operation; the HTTP
// endpoint itself composes it with credential validation upstream.
func (g *Gate) Mint(scopes []string, ttl time.Duration) (string, error) {
	if len(g.signingKey) == 0 {
		return "", errs.New(errs.Internal, "bearer tokens are not configured")
	}

	now := time.Now()
	jti := uuid.NewString()
	scopeSet := make(map[string]bool, len(scopes))
	for _, s := range scopes {
		scopeSet[s] = true
	}

	sess := &Session{
		ID:        uuid.NewString(),
		TokenJTI:  jti,
		Scopes:    scopeSet,
		IssuedAt:  now,
		ExpiresAt: now.Add(ttl),
	}
	if err := g.sessions.Put(sess); err != nil {
		return "", errs.Wrap(errs.Internal, "mint session", err)
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, &claims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        jti,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	})
	signed, err := token.SignedString(g.signingKey)
	if err != nil {
		g.sessions.Revoke(jti)
		return "", errs.Wrap(errs.Internal, "sign token", err)
	}
	return signed, nil
}

// RequireScope maps spec.md §4.9's InsufficientScope failure mode to
// errs.Forbidden for handlers that need a specific scope beyond mere
// authentication.
func RequireScope(p Principal, scope string) error {
	if p.HasScope(scope) {
		return nil
	}
	return errs.New(errs.Forbidden, fmt.Sprintf("missing required scope %q", scope))
}
