package remote

import (
	"errors"
	"fmt"
	"os"
	"runtime"
	"strings"
)

// InsecureKeyError reports a private key readable by group or others.
// It is recoverable: the user may confirm and reconnect with
// Config.AcceptInsecureKey set.
type InsecureKeyError struct {
	Path string
	Mode os.FileMode
}

func (e *InsecureKeyError) Error() string {
	return fmt.Sprintf("%sPrivate key file %s has insecure permissions (%04o). It should be 0600.",
		WarningPrefix, e.Path, e.Mode.Perm())
}

// IsInsecureKey reports whether err is an InsecureKeyError.
func IsInsecureKey(err error) bool {
	var e *InsecureKeyError
	return errors.As(err, &e)
}

// CheckPrivateKeyFile verifies that path names a readable private key.
func CheckPrivateKeyFile(path string) error {
	return checkPrivateKeyFile(path, runtime.GOOS)
}

func checkPrivateKeyFile(path, goos string) error {
	info, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return ConfigErrorf("Private key file not found: %s", path)
		}
		return ConfigErrorf("Cannot access private key file %s: %v", path, err)
	}
	if info.IsDir() {
		return ConfigErrorf("Private key path is a directory: %s", path)
	}
	if strings.HasSuffix(strings.ToLower(path), ".pub") {
		return ConfigErrorf("You selected a public key file (.pub). Please select the private key file instead (without .pub extension).")
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return ConfigErrorf("Cannot read private key file %s: %v", path, err)
	}
	content := string(data)
	if !strings.Contains(content, "BEGIN") || !strings.Contains(content, "PRIVATE KEY") {
		return ConfigErrorf("The selected file does not appear to be a valid private key: %s", path)
	}

	if goos != "windows" && info.Mode().Perm() > 0600 {
		return &InsecureKeyError{Path: path, Mode: info.Mode().Perm()}
	}
	return nil
}
