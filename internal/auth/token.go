// Package auth issues and verifies scoped capability tokens for remote
// operators.
//
// A token is three base64url segments: a fixed header, the JSON claims and an
// HMAC-SHA256 signature over "header.payload". Only this one algorithm is
// accepted.
package auth

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/leadforge/mission-service/internal/apperr"
)

const (
	TokenVersion = 1

	MinTTLSeconds    = 60
	MaxTTLCeiling    = 86400
	DefaultMaxTTL    = 1800
	headerAlgorithm  = "HS256"
	headerType       = "MST"
	bearerPrefix     = "Bearer "
	authorizationHdr = "Authorization"
)

var encoding = base64.RawURLEncoding

type header struct {
	Alg string `json:"alg"`
	Typ string `json:"typ"`
}

// Claims is the signed payload of a token.
type Claims struct {
	Version        int      `json:"v"`
	Subject        string   `json:"sub"`
	OrganizationID string   `json:"org"`
	Scopes         []string `json:"scopes"`
	IssuedAt       int64    `json:"iat"`
	ExpiresAt      int64    `json:"exp"`
	TokenID        string   `json:"jti"`
}

type IssueRequest struct {
	Subject    string   `json:"subject,omitempty"`
	Scopes     []string `json:"scopes,omitempty"`
	TTLSeconds int      `json:"ttlSeconds,omitempty"`
}

type IssuedToken struct {
	Token     string  `json:"token"`
	Claims    *Claims `json:"claims"`
	ExpiresIn int     `json:"expiresIn"`
}

type Options struct {
	Secret         string
	OrganizationID string
	AllowedScopes  []string
	MaxTTLSeconds  int
}

type Service struct {
	secret        []byte
	orgID         string
	allowedScopes []string
	maxTTL        int
	encodedHeader string
	now           func() time.Time
	logger        zerolog.Logger
}

type Option func(*Service)

// WithClock overrides the time source used for iat/exp checks.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// NewService validates the configuration up front so a missing secret or
// organization fails at start-up instead of on the first request.
func NewService(opts Options, logger zerolog.Logger, options ...Option) (*Service, error) {
	if strings.TrimSpace(opts.Secret) == "" {
		return nil, apperr.Config(apperr.CodeSecretMissing, "token secret is not configured")
	}
	if strings.TrimSpace(opts.OrganizationID) == "" {
		return nil, apperr.Config(apperr.CodeOrgMissing, "organization id is not configured")
	}

	hdr, err := json.Marshal(header{Alg: headerAlgorithm, Typ: headerType})
	if err != nil {
		return nil, err
	}

	s := &Service{
		secret:        []byte(opts.Secret),
		orgID:         opts.OrganizationID,
		allowedScopes: Intersect(opts.AllowedScopes, []string{ScopeAll}),
		maxTTL:        ClampMaxTTL(opts.MaxTTLSeconds),
		encodedHeader: encoding.EncodeToString(hdr),
		now:           time.Now,
		logger:        logger.With().Str("component", "auth").Logger(),
	}
	for _, o := range options {
		o(s)
	}
	return s, nil
}

// ClampMaxTTL bounds the configured maximum lifetime to [60s, 24h]. Zero
// selects the default.
func ClampMaxTTL(seconds int) int {
	if seconds <= 0 {
		return DefaultMaxTTL
	}
	return clamp(seconds, MinTTLSeconds, MaxTTLCeiling)
}

func (s *Service) MaxTTLSeconds() int { return s.maxTTL }
func (s *Service) AllowedScopes() []string { return append([]string(nil), s.allowedScopes...) }
func (s *Service) OrganizationID() string { return s.orgID }

// Issue signs a token for the requested scopes that the allow-list grants.
// With no scopes requested the whole allow-list is granted; with no TTL the
// maximum applies.
func (s *Service) Issue(req IssueRequest) (*IssuedToken, error) {
	requested := req.Scopes
	if len(requested) == 0 {
		requested = s.allowedScopes
	}
	granted := Intersect(requested, s.allowedScopes)
	if len(granted) == 0 {
		return nil, apperr.New(apperr.KindValidation, apperr.CodeNoScopes,
			"none of the requested scopes are allowed").
			WithDetails(map[string]any{"requested": req.Scopes, "allowed": s.allowedScopes})
	}

	ttl := s.maxTTL
	if req.TTLSeconds > 0 {
		ttl = clamp(req.TTLSeconds, MinTTLSeconds, s.maxTTL)
	}

	subject := strings.TrimSpace(req.Subject)
	if subject == "" {
		subject = "operator"
	}

	now := s.now().Unix()
	claims := &Claims{
		Version:        TokenVersion,
		Subject:        subject,
		OrganizationID: s.orgID,
		Scopes:         granted,
		IssuedAt:       now,
		ExpiresAt:      now + int64(ttl),
		TokenID:        uuid.NewString(),
	}
	payload, err := json.Marshal(claims)
	if err != nil {
		return nil, err
	}

	signingInput := s.encodedHeader + "." + encoding.EncodeToString(payload)
	token := signingInput + "." + encoding.EncodeToString(s.sign(signingInput))

	s.logger.Info().
		Str("jti", claims.TokenID).
		Str("sub", claims.Subject).
		Strs("scopes", claims.Scopes).
		Int("ttl_seconds", ttl).
		Msg("Issued scoped token")

	return &IssuedToken{Token: token, Claims: claims, ExpiresIn: ttl}, nil
}

// Verify checks the signature before anything in the token is parsed, then
// the header, expiry and organization.
func (s *Service) Verify(token string) (*Claims, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, apperr.Auth(apperr.CodeTokenMissing, "token is missing")
	}
	parts := strings.Split(token, ".")
	if len(parts) != 3 || parts[0] == "" || parts[1] == "" || parts[2] == "" {
		return nil, apperr.Auth(apperr.CodeTokenMalformed, "token must have three segments")
	}

	sig, err := encoding.DecodeString(parts[2])
	if err != nil {
		return nil, apperr.Auth(apperr.CodeTokenMalformed, "token signature is not base64url")
	}
	if !hmac.Equal(sig, s.sign(parts[0]+"."+parts[1])) {
		return nil, apperr.Auth(apperr.CodeTokenSignatureInvalid, "token signature is invalid")
	}

	var hdr header
	if err := decodeSegment(parts[0], &hdr); err != nil || hdr.Alg != headerAlgorithm || hdr.Typ != headerType {
		return nil, apperr.Auth(apperr.CodeTokenMalformed, "token header is not supported")
	}
	var claims Claims
	if err := decodeSegment(parts[1], &claims); err != nil {
		return nil, apperr.Auth(apperr.CodeTokenMalformed, "token payload is not valid JSON")
	}
	if claims.Version != TokenVersion || claims.ExpiresAt == 0 {
		return nil, apperr.Auth(apperr.CodeTokenMalformed, "token claims are incomplete")
	}

	if s.now().Unix() >= claims.ExpiresAt {
		return nil, apperr.Auth(apperr.CodeTokenExpired, "token has expired").
			WithDetails(map[string]any{"expiredAt": time.Unix(claims.ExpiresAt, 0).UTC().Format(time.RFC3339)})
	}
	if claims.OrganizationID != s.orgID {
		return nil, apperr.Auth(apperr.CodeTokenOrgMismatch, "token was issued for a different organization")
	}
	return &claims, nil
}

// AssertScopes fails unless every required scope is covered, listing all
// of the missing ones.
func (s *Service) AssertScopes(claims *Claims, required []string) error {
	if claims == nil {
		return apperr.Auth(apperr.CodeTokenMissing, "token is missing")
	}
	missing := MissingScopes(claims.Scopes, required)
	if len(missing) == 0 {
		return nil
	}
	e := apperr.Auth(apperr.CodeScopeMissing, "token lacks required scopes: "+strings.Join(missing, ", "))
	e.Missing = missing
	return e.WithDetails(map[string]any{"missing": missing})
}

// Authenticate extracts the bearer token from r, verifies it and checks the
// required scopes.
func (s *Service) Authenticate(r *http.Request, required []string) (*Claims, error) {
	raw := r.Header.Get(authorizationHdr)
	if raw == "" {
		return nil, apperr.Auth(apperr.CodeTokenMissing, "Authorization header is missing")
	}
	if len(raw) < len(bearerPrefix) || !strings.EqualFold(raw[:len(bearerPrefix)], bearerPrefix) {
		return nil, apperr.Auth(apperr.CodeTokenMalformed, "Authorization header must use the Bearer scheme")
	}
	claims, err := s.Verify(raw[len(bearerPrefix):])
	if err != nil {
		return nil, err
	}
	if err := s.AssertScopes(claims, required); err != nil {
		return nil, err
	}
	return claims, nil
}

func (s *Service) sign(input string) []byte {
	mac := hmac.New(sha256.New, s.secret)
	mac.Write([]byte(input))
	return mac.Sum(nil)
}

func decodeSegment(seg string, v any) error {
	raw, err := encoding.DecodeString(seg)
	if err != nil {
		return err
	}
	return json.Unmarshal(raw, v)
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
