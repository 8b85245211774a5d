package platforms

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// StateIssuer builds and checks the signed OAuth state token that rides
// through the authorization redirect. The token binds {client, platform,
// nonce, issued-at} so a callback cannot be replayed against another
// tenant or platform.
type StateIssuer struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

func NewStateIssuer(secret []byte, ttl time.Duration) StateIssuer {
	return StateIssuer{secret: secret, ttl: ttl, now: time.Now}
}

// Issue signs a fresh state token. The nonce is returned so callers can
// track single-use consumption.
func (s StateIssuer) Issue(clientID uint64, platform string) (state, nonce string, err error) {
	nonce = uuid.NewString()
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"cid":   clientID,
		"plat":  platform,
		"nonce": nonce,
		"iat":   s.now().Unix(),
	})
	state, err = tok.SignedString(s.secret)
	return state, nonce, err
}

// Verify checks signature, platform and client binding, and age. Anything
// older than the configured TTL is rejected even with a valid signature.
func (s StateIssuer) Verify(state, platform string, clientID uint64) (string, error) {
	tok, err := jwt.Parse(state, func(t *jwt.Token) (interface{}, error) {
		return s.secret, nil
	}, jwt.WithValidMethods([]string{"HS256"}))
	if err != nil || !tok.Valid {
		return "", fmt.Errorf("state: bad signature: %w", err)
	}
	claims, ok := tok.Claims.(jwt.MapClaims)
	if !ok {
		return "", fmt.Errorf("state: bad claims")
	}
	if p, _ := claims["plat"].(string); p != platform {
		return "", fmt.Errorf("state: platform mismatch")
	}
	cid, _ := claims["cid"].(float64)
	if uint64(cid) != clientID {
		return "", fmt.Errorf("state: client mismatch")
	}
	iat, _ := claims["iat"].(float64)
	if iat == 0 || s.now().Sub(time.Unix(int64(iat), 0)) > s.ttl {
		return "", fmt.Errorf("state: expired")
	}
	nonce, _ := claims["nonce"].(string)
	if nonce == "" {
		return "", fmt.Errorf("state: missing nonce")
	}
	return nonce, nil
}

// Inspect verifies signature and age like Verify, but returns the bound
// client and platform instead of checking them against expectations. The
// OAuth callback uses it to route a bare state token.
func (s StateIssuer) Inspect(state string) (clientID uint64, platform, nonce string, err error) {
	tok, err := jwt.Parse(state, func(t *jwt.Token) (interface{}, error) {
		return s.secret, nil
	}, jwt.WithValidMethods([]string{"HS256"}))
	if err != nil || !tok.Valid {
		return 0, "", "", fmt.Errorf("state: bad signature: %w", err)
	}
	claims, ok := tok.Claims.(jwt.MapClaims)
	if !ok {
		return 0, "", "", fmt.Errorf("state: bad claims")
	}
	iat, _ := claims["iat"].(float64)
	if iat == 0 || s.now().Sub(time.Unix(int64(iat), 0)) > s.ttl {
		return 0, "", "", fmt.Errorf("state: expired")
	}
	cid, _ := claims["cid"].(float64)
	platform, _ = claims["plat"].(string)
	nonce, _ = claims["nonce"].(string)
	if platform == "" || nonce == "" {
		return 0, "", "", fmt.Errorf("state: missing claims")
	}
	return uint64(cid), platform, nonce, nil
}

// PKCEVerifier derives a deterministic code verifier from a state nonce,
// so the callback leg can recompute it without server-side storage.
func (s StateIssuer) PKCEVerifier(nonce string) string {
	mac := hmac.New(sha256.New, s.secret)
	mac.Write([]byte("pkce:" + nonce))
	return hex.EncodeToString(mac.Sum(nil))
}
