package integration

import (
	"crypto/rand"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"maps"
	"math/big"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const testKeyID = "board-test-key"

// TestClaims holds the claims placed in a test token.
type TestClaims struct {
	SubjectID string
	TenantID  string
	Email     string
	Roles     []string
	Extra     map[string]any
}

// tokenIssuer signs tokens with a fresh RSA key and publishes the public
// half on a JWKS endpoint.
type tokenIssuer struct {
	t          *testing.T
	privateKey *rsa.PrivateKey
	jwksServer *httptest.Server
	issuer     string
	audience   string
}

func newTokenIssuer(t *testing.T) *tokenIssuer {
	t.Helper()

	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("generate RSA key: %v", err)
	}
	jwk := map[string]any{
		"kid": testKeyID,
		"kty": "RSA",
		"alg": "RS256",
		"use": "sig",
		"n":   base64.RawURLEncoding.EncodeToString(key.PublicKey.N.Bytes()),
		"e":   base64.RawURLEncoding.EncodeToString(big.NewInt(int64(key.PublicKey.E)).Bytes()),
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{"keys": []map[string]any{jwk}})
	}))
	t.Cleanup(srv.Close)

	return &tokenIssuer{
		t:          t,
		privateKey: key,
		jwksServer: srv,
		issuer:     "https://auth.test.catalogboard.dev",
		audience:   "catalogboard-test",
	}
}

// GenerateToken signs a token valid for one hour.
func (ti *tokenIssuer) GenerateToken(claims TestClaims) string {
	return ti.sign(claims, time.Now(), time.Hour)
}

// GenerateExpiredToken signs a token that expired an hour ago.
func (ti *tokenIssuer) GenerateExpiredToken(claims TestClaims) string {
	return ti.sign(claims, time.Now().Add(-2*time.Hour), time.Hour)
}

func (ti *tokenIssuer) sign(claims TestClaims, issuedAt time.Time, ttl time.Duration) string {
	mapClaims := jwt.MapClaims{
		"iss":       ti.issuer,
		"aud":       ti.audience,
		"iat":       jwt.NewNumericDate(issuedAt),
		"exp":       jwt.NewNumericDate(issuedAt.Add(ttl)),
		"sub":       claims.SubjectID,
		"tenant_id": claims.TenantID,
		"email":     claims.Email,
	}
	if len(claims.Roles) > 0 {
		roles := make([]any, len(claims.Roles))
		for i, r := range claims.Roles {
			roles[i] = r
		}
		mapClaims["roles"] = roles
	}
	maps.Copy(mapClaims, claims.Extra)

	token := jwt.NewWithClaims(jwt.SigningMethodRS256, mapClaims)
	token.Header["kid"] = testKeyID
	signed, err := token.SignedString(ti.privateKey)
	if err != nil {
		ti.t.Fatalf("sign JWT: %v", err)
	}
	return signed
}

func (ti *tokenIssuer) JWKSURL() string  { return ti.jwksServer.URL }
func (ti *tokenIssuer) Issuer() string   { return ti.issuer }
func (ti *tokenIssuer) Audience() string { return ti.audience }
