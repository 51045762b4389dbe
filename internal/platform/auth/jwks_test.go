package auth

import (
	"crypto/rand"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"math/big"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

func rsaPublicKeyToJWK(privateKey *rsa.PrivateKey, kid string) JWKSKey {
	return JWKSKey{
		Kty: "RSA",
		Kid: kid,
		Use: "sig",
		Alg: "RS256",
		N:   base64.RawURLEncoding.EncodeToString(privateKey.PublicKey.N.Bytes()),
		E:   base64.RawURLEncoding.EncodeToString(big.NewInt(int64(privateKey.PublicKey.E)).Bytes()),
	}
}

func jwksServer(t *testing.T, keys func() []JWKSKey) *httptest.Server {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(JWKSResponse{Keys: keys()})
	}))
	t.Cleanup(server.Close)
	return server
}

func TestJWKSCache_FetchAndCache(t *testing.T) {
	privateKey, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("failed to generate RSA key: %v", err)
	}
	fetches := 0
	server := jwksServer(t, func() []JWKSKey {
		fetches++
		return []JWKSKey{rsaPublicKeyToJWK(privateKey, "k1")}
	})

	cache := NewJWKSCache(server.URL, 5*time.Minute)
	key, err := cache.GetKey("k1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if key.N.Cmp(privateKey.PublicKey.N) != 0 || key.E != privateKey.PublicKey.E {
		t.Error("fetched key does not match original")
	}
	if _, err := cache.GetKey("k1"); err != nil {
		t.Fatalf("unexpected error on cache hit: %v", err)
	}
	if fetches != 1 {
		t.Errorf("expected 1 fetch, got %d", fetches)
	}
}

func TestJWKSCache_KeyNotFound(t *testing.T) {
	server := jwksServer(t, func() []JWKSKey { return nil })
	cache := NewJWKSCache(server.URL, time.Minute)
	if _, err := cache.GetKey("missing"); err == nil {
		t.Error("expected error for unknown kid")
	}
}

func TestJWKSCache_ServerError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	cache := NewJWKSCache(server.URL, time.Minute)
	if _, err := cache.GetKey("k1"); err == nil {
		t.Error("expected error for failing JWKS endpoint")
	}
}

func TestJWTMiddleware_RS256ViaJWKS(t *testing.T) {
	privateKey, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("failed to generate RSA key: %v", err)
	}
	server := jwksServer(t, func() []JWKSKey {
		return []JWKSKey{rsaPublicKeyToJWK(privateKey, "rs-key")}
	})

	staff := uuid.New()
	token := jwt.NewWithClaims(jwt.SigningMethodRS256, Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   staff.String(),
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
		Roles: []string{RoleBilling},
	})
	token.Header["kid"] = "rs-key"
	signed, err := token.SignedString(privateKey)
	if err != nil {
		t.Fatalf("failed to sign: %v", err)
	}

	c, err := runMiddleware(t, JWTMiddleware(JWTConfig{JWKSURL: server.URL}), "Bearer "+signed)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if actor, _ := ActorFromContext(c.Request().Context()); actor != staff {
		t.Errorf("expected actor %s, got %s", staff, actor)
	}
}

func TestDiscoverJWKSURL(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/.well-known/openid-configuration" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"issuer":"x","jwks_uri":"https://idp.example/keys"}`))
	}))
	defer server.Close()

	got, err := DiscoverJWKSURL(server.URL + "/")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != "https://idp.example/keys" {
		t.Errorf("unexpected jwks uri %s", got)
	}
}

func TestDiscoverJWKSURL_Missing(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"issuer":"x"}`))
	}))
	defer server.Close()

	if _, err := DiscoverJWKSURL(server.URL); err == nil {
		t.Error("expected error when jwks_uri is missing")
	}
}
