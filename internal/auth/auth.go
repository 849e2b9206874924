// Package auth finds the Gemini API key for local runs and checks that the
// configured model answers with it.
package auth

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/fpang/hand-extractor/internal/failure"
)

const (
	credentialDir  = ".hand-extractor"
	credentialFile = "credentials.gpg"
	passphraseFile = ".gpg-passphrase"
)

// decrypt runs gpg. Replaced in tests.
var decrypt = func(args ...string) ([]byte, error) {
	return exec.Command("gpg", args...).Output()
}

// GetAPIKey returns GEMINI_API_KEY, or the key decrypted from
// ~/.hand-extractor/credentials.gpg when the variable is unset.
func GetAPIKey() (string, error) {
	if key := os.Getenv("GEMINI_API_KEY"); key != "" {
		log.Debug().Msg("Using API key from environment variable")
		return key, nil
	}
	key, err := fromGPG()
	if err != nil {
		return "", failure.New(failure.Config, "startup", fmt.Errorf("API key not found, set GEMINI_API_KEY: %w", err))
	}
	log.Debug().Msg("Using API key from GPG encrypted file")
	return key, nil
}

func fromGPG() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("home directory: %w", err)
	}
	credPath := filepath.Join(home, credentialDir, credentialFile)
	if _, err := os.Stat(credPath); err != nil {
		return "", fmt.Errorf("credentials file %s: %w", credPath, err)
	}

	args := []string{"--decrypt", "--quiet"}
	if pp := passphrasePath(); pp != "" {
		args = append(args, "--pinentry-mode", "loopback", "--passphrase-file", pp)
	}
	out, err := decrypt(append(args, credPath)...)
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return "", fmt.Errorf("gpg decryption failed: %s", strings.TrimSpace(string(exitErr.Stderr)))
		}
		return "", fmt.Errorf("gpg decryption failed: %w", err)
	}
	key := strings.TrimSpace(string(out))
	if key == "" {
		return "", errors.New("decrypted credentials are empty")
	}
	return key, nil
}

// passphrasePath returns an owner-only .gpg-passphrase next to the binary or
// in the working directory, or "" when there is none.
func passphrasePath() string {
	var dirs []string
	if exe, err := os.Executable(); err == nil {
		dirs = append(dirs, filepath.Dir(exe))
	}
	if cwd, err := os.Getwd(); err == nil {
		dirs = append(dirs, cwd)
	}
	for _, dir := range dirs {
		p := filepath.Join(dir, passphraseFile)
		fi, err := os.Stat(p)
		if err != nil {
			continue
		}
		if fi.Mode().Perm()&0o077 != 0 {
			log.Warn().Str("passphrase_file", p).Str("permissions", fmt.Sprintf("%04o", fi.Mode().Perm())).Msg("Passphrase file is not owner-only (want 0600), skipping")
			continue
		}
		return p
	}
	return ""
}
