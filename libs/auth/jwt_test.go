package auth

import (
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"math/big"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestHS256RoundTrip(t *testing.T) {
	claims := Claims{
		Sub:  "ST001",
		Role: "staff",
		Iat:  time.Now().Unix(),
		Exp:  time.Now().Add(1 * time.Hour).Unix(),
	}
	secret := "test-secret"

	token, err := SignHS256(claims, secret)
	if err != nil {
		t.Fatalf("SignHS256 failed: %v", err)
	}
	parsed, err := ParseAndVerifyHS256(token, secret)
	if err != nil {
		t.Fatalf("ParseAndVerifyHS256 failed: %v", err)
	}
	if parsed.Sub != claims.Sub || parsed.Role != claims.Role {
		t.Fatalf("claims mismatch: got %+v", parsed)
	}
	if _, err := ParseAndVerifyHS256(token, "wrong-secret"); err == nil {
		t.Fatal("expected verification error with wrong secret")
	}
}

func TestHS256Expired(t *testing.T) {
	token, err := SignHS256(Claims{Sub: "CU001", Role: "customer", Exp: time.Now().Add(-time.Minute).Unix()}, "s")
	if err != nil {
		t.Fatalf("SignHS256 failed: %v", err)
	}
	if _, err := ParseAndVerifyHS256(token, "s"); err == nil {
		t.Fatal("expected expired token to be rejected")
	}
}

func TestRS256ViaJWKS(t *testing.T) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("rsa.GenerateKey failed: %v", err)
	}

	jwksSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{
			"keys": []map[string]string{{
				"kty": "RSA",
				"kid": "kid-1",
				"n":   base64.RawURLEncoding.EncodeToString(key.PublicKey.N.Bytes()),
				"e":   base64.RawURLEncoding.EncodeToString(big.NewInt(int64(key.PublicKey.E)).Bytes()),
			}},
		})
	}))
	defer jwksSrv.Close()

	token, err := signRS256(Claims{Sub: "ST002", Role: "staff", Exp: time.Now().Add(time.Hour).Unix()}, key, "kid-1")
	if err != nil {
		t.Fatalf("rs256 sign failed: %v", err)
	}

	v := &Verifier{JWKS: NewJWKSClient(jwksSrv.URL, time.Minute)}
	var gotUser, gotRole string
	h := v.RequireAuth(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotUser = r.Header.Get(HeaderUserID)
		gotRole = r.Header.Get(HeaderRole)
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "http://example.com", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set(HeaderUserID, "spoofed")
	rw := httptest.NewRecorder()
	h.ServeHTTP(rw, req)
	if rw.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rw.Code)
	}
	if gotUser != "ST002" || gotRole != "staff" {
		t.Fatalf("identity headers not rewritten: %q %q", gotUser, gotRole)
	}

	reqBad := httptest.NewRequest(http.MethodGet, "http://example.com", nil)
	reqBad.Header.Set("Authorization", "Bearer badtoken")
	rwBad := httptest.NewRecorder()
	h.ServeHTTP(rwBad, reqBad)
	if rwBad.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rwBad.Code)
	}
}

func TestRequireAuthDisabledPassesThrough(t *testing.T) {
	v := &Verifier{}
	called := false
	h := v.RequireAuth(http.HandlerFunc(func(http.ResponseWriter, *http.Request) { called = true }))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "http://example.com", nil))
	if !called {
		t.Fatal("disabled verifier must not block requests")
	}
}

func signRS256(claims Claims, key *rsa.PrivateKey, kid string) (string, error) {
	header := map[string]string{
		"alg": "RS256",
		"typ": "JWT",
	}
	if kid != "" {
		header["kid"] = kid
	}
	headerJSON, err := json.Marshal(header)
	if err != nil {
		return "", err
	}
	payloadJSON, err := json.Marshal(claims)
	if err != nil {
		return "", err
	}
	unsigned := base64.RawURLEncoding.EncodeToString(headerJSON) + "." + base64.RawURLEncoding.EncodeToString(payloadJSON)
	hash := sha256.Sum256([]byte(unsigned))
	sig, err := rsa.SignPKCS1v15(rand.Reader, key, crypto.SHA256, hash[:])
	if err != nil {
		return "", err
	}
	return unsigned + "." + base64.RawURLEncoding.EncodeToString(sig), nil
}
