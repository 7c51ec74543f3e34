package crypto

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/ethereum/go-ethereum/accounts/keystore"
)

var errEmptyKeystorePath = errors.New("crypto: empty keystore path")

// SaveToKeystore writes key to an Ethereum v3 keystore file at path, encrypted
// with passphrase. Missing parent directories are created with 0700
// permissions and any existing file at path is replaced.
func SaveToKeystore(path string, key *PrivateKey, passphrase string) error {
	if key == nil || key.PrivateKey == nil {
		return errors.New("crypto: nil private key")
	}
	if path == "" {
		return errEmptyKeystorePath
	}
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("crypto: create keystore dir: %w", err)
	}

	// The keystore package names files itself, so encrypt into a scratch
	// directory and move the single result into place.
	scratch, err := os.MkdirTemp(dir, "keystore-")
	if err != nil {
		return err
	}
	defer os.RemoveAll(scratch)

	ks := keystore.NewKeyStore(scratch, keystore.StandardScryptN, keystore.StandardScryptP)
	if _, err := ks.ImportECDSA(key.PrivateKey, passphrase); err != nil {
		return fmt.Errorf("crypto: encrypt key: %w", err)
	}
	entries, err := os.ReadDir(scratch)
	if err != nil {
		return err
	}
	if len(entries) != 1 {
		return fmt.Errorf("crypto: expected one keystore file, found %d", len(entries))
	}

	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	if err := os.Rename(filepath.Join(scratch, entries[0].Name()), path); err != nil {
		return err
	}
	return os.Chmod(path, 0o600)
}

// LoadFromKeystore decrypts an Ethereum v3 keystore file using passphrase.
func LoadFromKeystore(path, passphrase string) (*PrivateKey, error) {
	if path == "" {
		return nil, errEmptyKeystorePath
	}
	keyJSON, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	decrypted, err := keystore.DecryptKey(keyJSON, passphrase)
	if err != nil {
		return nil, fmt.Errorf("crypto: decrypt keystore: %w", err)
	}
	return &PrivateKey{PrivateKey: decrypted.PrivateKey}, nil
}
