package keyring

import (
	"os"

	gokeyring "github.com/zalando/go-keyring"

	"github.com/mizuki-dev/kaiwa/internal/consts"
)

const sessionTokenUser = "session_token"

// GetSessionToken returns the session token from the KAIWA_SESSION_TOKEN
// env var, falling back to the system keyring.
func GetSessionToken() (string, error) {
	if v := os.Getenv("KAIWA_SESSION_TOKEN"); v != "" {
		return v, nil
	}
	return gokeyring.Get(consts.Name, sessionTokenUser)
}

// SetSessionToken stores the session token in the system keyring.
func SetSessionToken(token string) error {
	return gokeyring.Set(consts.Name, sessionTokenUser, token)
}

// DeleteSessionToken removes the session token from the system keyring.
func DeleteSessionToken() error {
	return gokeyring.Delete(consts.Name, sessionTokenUser)
}
