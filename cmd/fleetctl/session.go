package main

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/fleetpulse/core/internal/api"
)

// session persists the bearer token between invocations. The FLEETPULSE_TOKEN
// and FLEETPULSE_USER_ID env vars override the file.
type session struct {
	Token  string `json:"token"`
	UserID int64  `json:"user_id"`
}

func sessionPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolve home directory: %w", err)
	}
	return filepath.Join(home, ".fleetpulse", "session.json"), nil
}

func saveSession(s session) error {
	path, err := sessionPath()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return fmt.Errorf("create session directory: %w", err)
	}
	data, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("encode session: %w", err)
	}
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("write session: %w", err)
	}
	return nil
}

func loadSession() (session, error) {
	if token := os.Getenv("FLEETPULSE_TOKEN"); token != "" {
		var userID int64
		fmt.Sscanf(os.Getenv("FLEETPULSE_USER_ID"), "%d", &userID)
		return session{Token: token, UserID: userID}, nil
	}

	path, err := sessionPath()
	if err != nil {
		return session{}, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return session{}, fmt.Errorf("not logged in, run fleetctl login first: %w", err)
	}
	var s session
	if err := json.Unmarshal(data, &s); err != nil {
		return session{}, fmt.Errorf("decode session: %w", err)
	}
	return s, nil
}

// authedClient builds an API client carrying the saved session token.
func authedClient(baseURL string) (*api.Client, session, error) {
	sess, err := loadSession()
	if err != nil {
		return nil, session{}, err
	}
	client := api.NewClient(baseURL)
	client.SetToken(sess.Token)
	return client, sess, nil
}
