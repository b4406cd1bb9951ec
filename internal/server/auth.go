package server

import (
	"encoding/json"
	"os"
	"strings"

	"github.com/dreamware/ringdb/internal/apperr"
)

// credential is one entry in the credentials JSON file: an exact-match
// name/password pair, per spec.md §6 ("static credential list ...
// matching is exact on both fields").
type credential struct {
	Name     string `json:"name"`
	Password string `json:"password"`
}

// AuthStore holds the node's static credential list, loaded once at
// startup from a JSON file and never mutated afterward.
type AuthStore struct {
	byName map[string]string
}

// LoadAuthStore reads a JSON array of {"name", "password"} objects from
// path.
func LoadAuthStore(path string) (*AuthStore, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, apperr.Wrapf(apperr.KindServer, err, "read credentials file %q", path)
	}
	var creds []credential
	if err := json.Unmarshal(data, &creds); err != nil {
		return nil, apperr.Wrap(apperr.KindServer, err, "parse credentials file")
	}
	store := &AuthStore{byName: make(map[string]string, len(creds))}
	for _, c := range creds {
		store.byName[c.Name] = c.Password
	}
	return store, nil
}

// Authenticate checks a raw AuthResponse token against the store. The
// token is split on every comma; only the first two segments (name,
// password) are kept and anything after the second comma is silently
// dropped, per spec.md §9 — a preserved quirk of the credential wire
// format, not a new simplification.
func (s *AuthStore) Authenticate(token []byte) bool {
	parts := strings.Split(string(token), ",")
	if len(parts) < 2 {
		return false
	}
	name, password := parts[0], parts[1]
	want, ok := s.byName[name]
	return ok && want == password
}
