// Package secrets is the credential-store boundary: passwords live in the
// OS keychain and are only read at login/send time, never written to the
// config file or the database.
package secrets

import (
	"errors"
	"fmt"
	"strings"

	"github.com/zalando/go-keyring"

	"postulamatic-engine/internal/config"
)

const (
	// “Service” groups the engine's secrets in the OS keychain.
	KeyringService = "postulamatic"
)

func Get(account string) (string, error) {
	if strings.TrimSpace(account) == "" {
		return "", errors.New("keyring account name is empty")
	}
	pw, err := keyring.Get(KeyringService, account)
	if err != nil || strings.TrimSpace(pw) == "" {
		return "", fmt.Errorf("password not found in keychain for %s", account)
	}
	return pw, nil
}

func Set(account string, password string) error {
	if strings.TrimSpace(account) == "" {
		return errors.New("keyring account name is empty")
	}
	if strings.TrimSpace(password) == "" {
		return errors.New("password is empty")
	}
	return keyring.Set(KeyringService, account, password)
}

func Delete(account string) error {
	if strings.TrimSpace(account) == "" {
		return errors.New("keyring account name is empty")
	}
	return keyring.Delete(KeyringService, account)
}

func PortalAccount(cfg config.Config) string {
	return fmt.Sprintf("postulamatic:portal:%s@%s", cfg.Portal.Username, hostOf(cfg.Portal.BaseURL))
}

func SMTPAccount(cfg config.Config) string {
	return fmt.Sprintf("postulamatic:smtp:%s@%s", cfg.SMTP.Username, cfg.SMTP.Host)
}

func hostOf(raw string) string {
	s := strings.TrimPrefix(strings.TrimPrefix(raw, "https://"), "http://")
	if i := strings.IndexByte(s, '/'); i >= 0 {
		s = s[:i]
	}
	return s
}
