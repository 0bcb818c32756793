// Package auth verifies bearer tokens and yields the calling principal.
package auth

import (
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

type Role string

const (
	// RoleOwner may read back webhook secrets.
	RoleOwner Role = "owner"
	RoleAdmin Role = "admin"
	RoleAgent Role = "agent"
)

func ParseRole(s string) (Role, bool) {
	switch r := Role(strings.ToLower(strings.TrimSpace(s))); r {
	case RoleOwner, RoleAdmin, RoleAgent:
		return r, true
	}
	return "", false
}

type Principal struct {
	Tenant  string
	Role    Role
	Subject string
}

func (p Principal) IsOwner() bool { return p.Role == RoleOwner }

// CanManageWebhooks is true for owners and admins.
func (p Principal) CanManageWebhooks() bool { return p.Role == RoleOwner || p.Role == RoleAdmin }

const (
	ModeDev  = "dev"
	ModeHMAC = "hmac"
	ModeJWKS = "jwks"
)

var ErrInvalidToken = errors.New("invalid token")

// Verifier validates bearer tokens. In dev mode a token is "tenant:role"; in
// hmac mode it is an HS256 JWT and in jwks mode an RS256 JWT whose key is
// looked up by kid in the JWKS document at JWKSURL. Both JWT modes read the
// tenant and role claims.
type Verifier struct {
	Mode        string
	HMACSecret  []byte
	JWKSURL     string
	TenantClaim string
	RoleClaim   string

	http      *http.Client
	mu        sync.RWMutex
	keys      map[string]*rsa.PublicKey
	lastFetch time.Time
	cacheTTL  time.Duration
}

func NewVerifier(mode string, hmacSecret []byte) *Verifier {
	mode = strings.ToLower(strings.TrimSpace(mode))
	if mode == "" {
		mode = ModeDev
	}
	return &Verifier{
		Mode:        mode,
		HMACSecret:  hmacSecret,
		TenantClaim: "tenant",
		RoleClaim:   "role",
		http:        &http.Client{Timeout: 5 * time.Second},
		cacheTTL:    10 * time.Minute,
	}
}

func (v *Verifier) Dev() bool { return v.Mode == ModeDev }

func (v *Verifier) Verify(token string) (Principal, error) {
	switch v.Mode {
	case ModeDev:
		tenant, role, ok := strings.Cut(token, ":")
		if !ok || tenant == "" {
			return Principal{}, fmt.Errorf("%w: expected tenant:role", ErrInvalidToken)
		}
		r, ok := ParseRole(role)
		if !ok {
			return Principal{}, fmt.Errorf("%w: unknown role %q", ErrInvalidToken, role)
		}
		return Principal{Tenant: tenant, Role: r}, nil
	case ModeHMAC:
		if len(v.HMACSecret) == 0 {
			return Principal{}, errors.New("hmac secret not configured")
		}
		return v.verifyJWT(token, jwt.SigningMethodHS256.Alg(), func(t *jwt.Token) (interface{}, error) {
			return v.HMACSecret, nil
		})
	case ModeJWKS:
		return v.verifyJWT(token, jwt.SigningMethodRS256.Alg(), func(t *jwt.Token) (interface{}, error) {
			kid, _ := t.Header["kid"].(string)
			return v.publicKey(kid)
		})
	default:
		return Principal{}, fmt.Errorf("unsupported auth mode %q", v.Mode)
	}
}

func (v *Verifier) verifyJWT(token, alg string, keyFunc jwt.Keyfunc) (Principal, error) {
	claims := jwt.MapClaims{}
	parsed, err := jwt.ParseWithClaims(token, claims, keyFunc, jwt.WithValidMethods([]string{alg}))
	if err != nil {
		return Principal{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if !parsed.Valid {
		return Principal{}, ErrInvalidToken
	}
	tenant, _ := claims[v.TenantClaim].(string)
	if tenant == "" {
		return Principal{}, fmt.Errorf("%w: missing tenant claim", ErrInvalidToken)
	}
	roleClaim, _ := claims[v.RoleClaim].(string)
	role, ok := ParseRole(roleClaim)
	if !ok {
		role = RoleAgent
	}
	sub, _ := claims.GetSubject()
	return Principal{Tenant: tenant, Role: role, Subject: sub}, nil
}

type jwkSet struct {
	Keys []struct {
		Kty string `json:"kty"`
		Kid string `json:"kid"`
		N   string `json:"n"`
		E   string `json:"e"`
	} `json:"keys"`
}

// publicKey returns the RSA key for kid, refetching the JWKS when the cache is
// stale or the kid is unknown (key rotation).
func (v *Verifier) publicKey(kid string) (*rsa.PublicKey, error) {
	v.mu.RLock()
	key, ok := v.keys[kid]
	stale := time.Since(v.lastFetch) > v.cacheTTL
	v.mu.RUnlock()
	if ok && !stale {
		return key, nil
	}
	if err := v.fetchJWKS(); err != nil {
		return nil, err
	}
	v.mu.RLock()
	defer v.mu.RUnlock()
	if key, ok := v.keys[kid]; ok {
		return key, nil
	}
	return nil, fmt.Errorf("kid %q not found in JWKS", kid)
}

func (v *Verifier) fetchJWKS() error {
	if v.JWKSURL == "" {
		return errors.New("jwks url not configured")
	}
	resp, err := v.http.Get(v.JWKSURL)
	if err != nil {
		return fmt.Errorf("fetch jwks: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("fetch jwks: status %d", resp.StatusCode)
	}
	var set jwkSet
	if err := json.NewDecoder(resp.Body).Decode(&set); err != nil {
		return fmt.Errorf("decode jwks: %w", err)
	}
	keys := make(map[string]*rsa.PublicKey, len(set.Keys))
	for _, k := range set.Keys {
		if !strings.EqualFold(k.Kty, "RSA") {
			continue
		}
		n, err := base64.RawURLEncoding.DecodeString(k.N)
		if err != nil {
			return fmt.Errorf("jwk %q modulus: %w", k.Kid, err)
		}
		e, err := base64.RawURLEncoding.DecodeString(k.E)
		if err != nil {
			return fmt.Errorf("jwk %q exponent: %w", k.Kid, err)
		}
		exp := new(big.Int).SetBytes(e)
		if !exp.IsInt64() || exp.Int64() < 3 || exp.Int64() > 1<<31-1 {
			return fmt.Errorf("jwk %q exponent out of range", k.Kid)
		}
		keys[k.Kid] = &rsa.PublicKey{N: new(big.Int).SetBytes(n), E: int(exp.Int64())}
	}
	v.mu.Lock()
	v.keys = keys
	v.lastFetch = time.Now()
	v.mu.Unlock()
	return nil
}
