package api

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/golang-jwt/jwt/v5"

	"github.com/uhyunpark/carbonledger/pkg/crypto"
	"github.com/uhyunpark/carbonledger/pkg/util"
)

const (
	challengeTTL         = 5 * time.Minute
	maxPendingChallenges = 10000
)

var (
	ErrNoChallenge  = errors.New("no pending challenge for address")
	ErrBadLogin     = errors.New("signature does not match address")
	ErrInvalidToken = errors.New("invalid token")

	ErrTooManyChallenges = errors.New("too many pending challenges")
)

// Claims identify a wallet session. The subject is the checksummed address.
type Claims struct {
	jwt.RegisteredClaims
}

type challenge struct {
	message string
	expires time.Time
}

// Auth issues wallet sessions: the client signs a one-time challenge with
// personal_sign and gets back an HS256 JWT.
type Auth struct {
	secret []byte
	ttl    time.Duration
	clock  util.Clock

	mu         sync.Mutex
	pending    map[common.Address]challenge
	maxPending int
}

func NewAuth(secret string, ttl time.Duration, clock util.Clock) *Auth {
	if clock == nil {
		clock = util.RealClock{}
	}
	return &Auth{
		secret:     []byte(secret),
		ttl:        ttl,
		clock:      clock,
		pending:    make(map[common.Address]challenge),
		maxPending: maxPendingChallenges,
	}
}

// Challenge returns the message addr must sign. A new challenge replaces the old one.
// Expired challenges are dropped when the table is full; if it is still full the
// request fails with ErrTooManyChallenges.
func (a *Auth) Challenge(addr common.Address) (string, error) {
	var nonce [16]byte
	if _, err := rand.Read(nonce[:]); err != nil {
		return "", err
	}
	now := a.clock.Now()
	msg := fmt.Sprintf("Sign in to CarbonLedger\nAddress: %s\nNonce: %s\nIssued: %s",
		addr.Hex(), hex.EncodeToString(nonce[:]), now.UTC().Format(time.RFC3339))

	a.mu.Lock()
	defer a.mu.Unlock()
	if _, ok := a.pending[addr]; !ok && len(a.pending) >= a.maxPending {
		a.pruneLocked(now)
		if len(a.pending) >= a.maxPending {
			return "", ErrTooManyChallenges
		}
	}
	a.pending[addr] = challenge{message: msg, expires: now.Add(challengeTTL)}
	return msg, nil
}

// Prune drops expired challenges
func (a *Auth) Prune() {
	now := a.clock.Now()
	a.mu.Lock()
	a.pruneLocked(now)
	a.mu.Unlock()
}

func (a *Auth) pruneLocked(now time.Time) {
	for addr, ch := range a.pending {
		if now.After(ch.expires) {
			delete(a.pending, addr)
		}
	}
}

// Pending is the number of outstanding challenges
func (a *Auth) Pending() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.pending)
}

// Cleanup prunes expired challenges every interval until ctx is done.
func (a *Auth) Cleanup(ctx context.Context, interval time.Duration) {
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			a.Prune()
		}
	}
}

// Login consumes addr's challenge and returns a signed session token.
func (a *Auth) Login(addr common.Address, signature string) (string, time.Time, error) {
	now := a.clock.Now()
	a.mu.Lock()
	ch, ok := a.pending[addr]
	if ok {
		delete(a.pending, addr)
	}
	a.mu.Unlock()
	if !ok || now.After(ch.expires) {
		return "", time.Time{}, ErrNoChallenge
	}

	sig, err := crypto.DecodeSignature(signature)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("%w: %v", ErrBadLogin, err)
	}
	signer, err := crypto.RecoverPersonal([]byte(ch.message), sig)
	if err != nil || signer != addr {
		return "", time.Time{}, ErrBadLogin
	}
	return a.Issue(addr)
}

// Issue signs a session token for addr without a challenge
func (a *Auth) Issue(addr common.Address) (string, time.Time, error) {
	now := a.clock.Now()
	exp := now.Add(a.ttl)
	claims := Claims{RegisteredClaims: jwt.RegisteredClaims{
		Subject:   addr.Hex(),
		Issuer:    "carbonledger",
		ExpiresAt: jwt.NewNumericDate(exp),
		IssuedAt:  jwt.NewNumericDate(now),
		NotBefore: jwt.NewNumericDate(now),
	}}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(a.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign token: %w", err)
	}
	return token, exp, nil
}

// Validate returns the address a token was issued to
func (a *Auth) Validate(tokenString string) (common.Address, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return a.secret, nil
	}, jwt.WithTimeFunc(a.clock.Now))
	if err != nil {
		return common.Address{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid || !common.IsHexAddress(claims.Subject) {
		return common.Address{}, ErrInvalidToken
	}
	return common.HexToAddress(claims.Subject), nil
}

type ctxKey int

const callerKey ctxKey = iota

// bearer extracts the caller from an Authorization header, if present and valid
func (a *Auth) bearer(r *http.Request) (common.Address, bool) {
	h := r.Header.Get("Authorization")
	if !strings.HasPrefix(h, "Bearer ") {
		return common.Address{}, false
	}
	addr, err := a.Validate(strings.TrimPrefix(h, "Bearer "))
	return addr, err == nil
}

// Require rejects requests without a valid session and stores the caller in the context.
func (a *Auth) Require(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		addr, ok := a.bearer(r)
		if !ok {
			respondError(w, http.StatusUnauthorized, "unauthenticated", "a valid bearer token is required")
			return
		}
		next(w, r.WithContext(context.WithValue(r.Context(), callerKey, addr)))
	}
}

func callerFrom(ctx context.Context) common.Address {
	addr, _ := ctx.Value(callerKey).(common.Address)
	return addr
}
