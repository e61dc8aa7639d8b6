package backend

import (
	"crypto/sha256"
	"crypto/subtle"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
)

var ErrInvalidCredentials = errors.New("invalid username or password")

// Auth manages user accounts and the in-memory bearer token table. Tokens are
// uuids minted at login; restarting the hub invalidates all sessions.
type Auth struct {
	db *DB

	mu     sync.Mutex
	tokens map[string]int64
}

func NewAuth(db *DB) *Auth {
	return &Auth{db: db, tokens: make(map[string]int64)}
}

func hashPassword(password string) string {
	sum := sha256.Sum256([]byte(password))
	return hex.EncodeToString(sum[:])
}

func (a *Auth) Register(username, password string) (int64, error) {
	if username == "" || password == "" {
		return 0, fmt.Errorf("username and password required")
	}
	return a.db.CreateUser(username, hashPassword(password))
}

// Login checks the credentials and mints a bearer token.
func (a *Auth) Login(username, password string) (string, int64, error) {
	userID, storedHash, err := a.db.GetUser(username)
	if errors.Is(err, sql.ErrNoRows) {
		return "", 0, ErrInvalidCredentials
	}
	if err != nil {
		return "", 0, fmt.Errorf("lookup user: %w", err)
	}

	given := hashPassword(password)
	if subtle.ConstantTimeCompare([]byte(given), []byte(storedHash)) != 1 {
		return "", 0, ErrInvalidCredentials
	}

	token := uuid.New().String()
	a.mu.Lock()
	a.tokens[token] = userID
	a.mu.Unlock()
	return token, userID, nil
}

// Verify resolves a bearer token to a user id.
func (a *Auth) Verify(token string) (int64, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	userID, ok := a.tokens[token]
	return userID, ok
}

func (a *Auth) Revoke(token string) {
	a.mu.Lock()
	delete(a.tokens, token)
	a.mu.Unlock()
}
