package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"
)

// CookieName is the cookie carrying the session token when no Authorization
// header is sent.
const CookieName = "quiz_token"

// ErrInvalidToken is returned for tokens that fail verification.
var ErrInvalidToken = errors.New("invalid token")

// Claims are the JWT claims issued for a signed-in user.
type Claims struct {
	UserID string `json:"user_id"`
	jwt.RegisteredClaims
}

type userKey struct{}

// Provider authenticates requests with HS256 tokens and builds sign-in
// redirects. It implements app.AuthProvider.
type Provider struct {
	secret    []byte
	signInURL string
	tokenTTL  time.Duration
	now       func() time.Time
	logger    *zap.Logger
}

func NewProvider(secret, signInURL string, tokenTTL time.Duration, logger *zap.Logger) *Provider {
	if tokenTTL <= 0 {
		tokenTTL = 24 * time.Hour
	}
	if signInURL == "" {
		signInURL = "/auth/sign-in"
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Provider{
		secret:    []byte(secret),
		signInURL: signInURL,
		tokenTTL:  tokenTTL,
		now:       time.Now,
		logger:    logger,
	}
}

// IssueToken signs a token for userID.
func (p *Provider) IssueToken(userID string) (string, error) {
	if userID == "" {
		return "", fmt.Errorf("%w: empty user id", ErrInvalidToken)
	}
	now := p.now()
	claims := &Claims{
		UserID: userID,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(p.tokenTTL)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(p.secret)
}

// Parse verifies tokenString and returns its claims.
func (p *Provider) Parse(tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		return p.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(p.now),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid || claims.UserID == "" {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

// Middleware attaches the signed-in user to the request context. Requests
// without a valid token continue as guests.
func (p *Provider) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tokenString := ""
		if header := r.Header.Get("Authorization"); header != "" {
			tokenString = strings.TrimPrefix(header, "Bearer ")
		}
		if tokenString == "" {
			if c, err := r.Cookie(CookieName); err == nil {
				tokenString = c.Value
			}
		}
		if tokenString == "" {
			next.ServeHTTP(w, r)
			return
		}
		claims, err := p.Parse(tokenString)
		if err != nil {
			p.logger.Debug("ignoring invalid token", zap.Error(err))
			next.ServeHTTP(w, r)
			return
		}
		next.ServeHTTP(w, r.WithContext(WithUser(r.Context(), claims.UserID)))
	})
}

// WithUser returns ctx carrying userID as the signed-in user.
func WithUser(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, userKey{}, userID)
}

// CurrentUser reads the signed-in user from ctx.
func (p *Provider) CurrentUser(ctx context.Context) (string, bool) {
	userID, ok := ctx.Value(userKey{}).(string)
	return userID, ok && userID != ""
}

// RedirectToSignIn returns the sign-in URL with returnURL as its returnTo
// parameter.
func (p *Provider) RedirectToSignIn(_ context.Context, returnURL string) (string, error) {
	u, err := url.Parse(p.signInURL)
	if err != nil {
		return "", fmt.Errorf("invalid sign-in url %q: %w", p.signInURL, err)
	}
	q := u.Query()
	q.Set("returnTo", returnURL)
	u.RawQuery = q.Encode()
	return u.String(), nil
}
