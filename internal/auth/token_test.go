package auth

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leadforge/mission-service/internal/apperr"
)

type clock struct{ t time.Time }

func (c *clock) now() time.Time { return c.t }
func (c *clock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newService(t *testing.T, c *clock, allowed ...string) *Service {
	t.Helper()
	if len(allowed) == 0 {
		allowed = []string{ScopeAll}
	}
	s, err := NewService(Options{
		Secret:         "test-secret",
		OrganizationID: "org_1",
		AllowedScopes:  allowed,
		MaxTTLSeconds:  3600,
	}, zerolog.Nop(), WithClock(c.now))
	require.NoError(t, err)
	return s
}

func requireCode(t *testing.T, err error, code apperr.Code) *apperr.Error {
	t.Helper()
	require.Error(t, err)
	ae, ok := apperr.As(err)
	require.True(t, ok, "expected *apperr.Error, got %T", err)
	assert.Equal(t, code, ae.Code)
	return ae
}

func TestNewServiceRequiresSecretAndOrg(t *testing.T) {
	_, err := NewService(Options{OrganizationID: "org_1"}, zerolog.Nop())
	ae := requireCode(t, err, apperr.CodeSecretMissing)
	assert.Equal(t, http.StatusInternalServerError, ae.HTTPStatus())

	_, err = NewService(Options{Secret: "s"}, zerolog.Nop())
	requireCode(t, err, apperr.CodeOrgMissing)
}

func TestTokenLifecycle(t *testing.T) {
	c := &clock{t: time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)}
	s := newService(t, c)

	issued, err := s.Issue(IssueRequest{Scopes: []string{"tasks:read"}, TTLSeconds: 60})
	require.NoError(t, err)
	assert.Equal(t, 60, issued.ExpiresIn)
	assert.Len(t, strings.Split(issued.Token, "."), 3)

	claims, err := s.Verify(issued.Token)
	require.NoError(t, err)
	assert.Equal(t, "org_1", claims.OrganizationID)
	assert.Equal(t, []string{"tasks:read"}, claims.Scopes)
	assert.Equal(t, c.t.Unix()+60, claims.ExpiresAt)
	assert.NotEmpty(t, claims.TokenID)

	c.advance(61 * time.Second)
	_, err = s.Verify(issued.Token)
	ae := requireCode(t, err, apperr.CodeTokenExpired)
	assert.Equal(t, http.StatusUnauthorized, ae.HTTPStatus())
}

func TestVerifyRejectsOtherOrganization(t *testing.T) {
	c := &clock{t: time.Now()}
	other, err := NewService(Options{Secret: "test-secret", OrganizationID: "org_2", AllowedScopes: []string{"*"}}, zerolog.Nop(), WithClock(c.now))
	require.NoError(t, err)
	issued, err := other.Issue(IssueRequest{})
	require.NoError(t, err)

	_, err = newService(t, c).Verify(issued.Token)
	requireCode(t, err, apperr.CodeTokenOrgMismatch)
}

func TestVerifyDistinctCodes(t *testing.T) {
	c := &clock{t: time.Now()}
	s := newService(t, c)
	issued, err := s.Issue(IssueRequest{})
	require.NoError(t, err)
	parts := strings.Split(issued.Token, ".")

	forged, _ := json.Marshal(Claims{Version: 1, OrganizationID: "org_1", Scopes: []string{"*"}, ExpiresAt: c.t.Unix() + 999999})
	otherSigner, err := NewService(Options{Secret: "other-secret", OrganizationID: "org_1", AllowedScopes: []string{"*"}}, zerolog.Nop())
	require.NoError(t, err)
	foreign, err := otherSigner.Issue(IssueRequest{})
	require.NoError(t, err)

	tests := []struct {
		name  string
		token string
		code  apperr.Code
	}{
		{"empty", "", apperr.CodeTokenMissing},
		{"two segments", parts[0] + "." + parts[1], apperr.CodeTokenMalformed},
		{"bad signature encoding", parts[0] + "." + parts[1] + ".***", apperr.CodeTokenMalformed},
		{"tampered payload", parts[0] + "." + encoding.EncodeToString(forged) + "." + parts[2], apperr.CodeTokenSignatureInvalid},
		{"wrong secret", foreign.Token, apperr.CodeTokenSignatureInvalid},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := s.Verify(tt.token)
			requireCode(t, err, tt.code)
		})
	}
}

func TestVerifyRejectsUnsupportedHeader(t *testing.T) {
	c := &clock{t: time.Now()}
	s := newService(t, c)
	issued, err := s.Issue(IssueRequest{})
	require.NoError(t, err)
	parts := strings.Split(issued.Token, ".")

	hdr := encoding.EncodeToString([]byte(`{"alg":"none","typ":"MST"}`))
	input := hdr + "." + parts[1]
	token := input + "." + encoding.EncodeToString(s.sign(input))

	_, err = s.Verify(token)
	requireCode(t, err, apperr.CodeTokenMalformed)
}

func TestIssueScopesAndTTL(t *testing.T) {
	c := &clock{t: time.Now()}
	s := newService(t, c, "tasks:*", "system:read")

	issued, err := s.Issue(IssueRequest{Scopes: []string{"tasks:admin", "campaigns:run", "system:read"}})
	require.NoError(t, err)
	assert.Equal(t, []string{"tasks:admin", "system:read"}, issued.Claims.Scopes)
	assert.Equal(t, 3600, issued.ExpiresIn, "unspecified ttl uses the maximum")

	issued, err = s.Issue(IssueRequest{})
	require.NoError(t, err)
	assert.Equal(t, []string{"tasks:*", "system:read"}, issued.Claims.Scopes)

	issued, err = s.Issue(IssueRequest{TTLSeconds: 5})
	require.NoError(t, err)
	assert.Equal(t, MinTTLSeconds, issued.ExpiresIn)

	issued, err = s.Issue(IssueRequest{TTLSeconds: 100000})
	require.NoError(t, err)
	assert.Equal(t, 3600, issued.ExpiresIn)

	_, err = s.Issue(IssueRequest{Scopes: []string{"campaigns:run"}})
	ae := requireCode(t, err, apperr.CodeNoScopes)
	assert.Equal(t, http.StatusBadRequest, ae.HTTPStatus())
}

func TestClampMaxTTL(t *testing.T) {
	assert.Equal(t, DefaultMaxTTL, ClampMaxTTL(0))
	assert.Equal(t, MinTTLSeconds, ClampMaxTTL(10))
	assert.Equal(t, MaxTTLCeiling, ClampMaxTTL(10_000_000))
	assert.Equal(t, 7200, ClampMaxTTL(7200))
}

func TestAssertScopesListsEveryMissingScope(t *testing.T) {
	s := newService(t, &clock{t: time.Now()})
	claims := &Claims{Scopes: []string{"tasks:read"}}

	err := s.AssertScopes(claims, []string{"tasks:read", "tasks:admin", "system:read"})
	ae := requireCode(t, err, apperr.CodeScopeMissing)
	assert.Equal(t, http.StatusForbidden, ae.HTTPStatus())
	assert.Equal(t, []string{"tasks:admin", "system:read"}, ae.Missing)

	assert.NoError(t, s.AssertScopes(claims, []string{"tasks:read"}))
	assert.NoError(t, s.AssertScopes(claims, nil))
}

func TestAuthenticate(t *testing.T) {
	c := &clock{t: time.Now()}
	s := newService(t, c)
	issued, err := s.Issue(IssueRequest{Scopes: []string{"tasks:*"}})
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/tasks", nil)
	_, err = s.Authenticate(req, []string{ScopeTasksRead})
	requireCode(t, err, apperr.CodeTokenMissing)

	req.Header.Set("Authorization", "Basic abc")
	_, err = s.Authenticate(req, []string{ScopeTasksRead})
	requireCode(t, err, apperr.CodeTokenMalformed)

	req.Header.Set("Authorization", "Bearer "+issued.Token)
	claims, err := s.Authenticate(req, []string{ScopeTasksRead, ScopeTasksAdmin})
	require.NoError(t, err)
	assert.Equal(t, issued.Claims.TokenID, claims.TokenID)

	_, err = s.Authenticate(req, []string{ScopeSystemRead})
	requireCode(t, err, apperr.CodeScopeMissing)
}
