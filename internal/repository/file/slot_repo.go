// Package file stores session slots as sealed files in the client's config directory.
package file

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/and161185/resumatch/internal/crypto/clientcrypto"
	"github.com/and161185/resumatch/internal/errs"
)

const (
	vaultKeyFile = "vault.key"
	slotsDir     = "slots"
)

// SlotRepo implements repository.SlotRepository on the local filesystem.
// Every slot is sealed with a key derived from a per-installation vault key.
type SlotRepo struct {
	dir      string
	vaultKey []byte
}

// NewSlotRepo opens (or initializes) the slot directory under dir.
func NewSlotRepo(dir string) (*SlotRepo, error) {
	if err := os.MkdirAll(filepath.Join(dir, slotsDir), 0o700); err != nil {
		return nil, err
	}
	vk, err := loadOrCreateVaultKey(filepath.Join(dir, vaultKeyFile))
	if err != nil {
		return nil, err
	}
	return &SlotRepo{dir: dir, vaultKey: vk}, nil
}

func loadOrCreateVaultKey(path string) ([]byte, error) {
	b, err := os.ReadFile(path)
	if err == nil && len(b) == clientcrypto.VaultKeyLen {
		return b, nil
	}
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, err
	}
	// missing or truncated key: slots sealed with the old key become unreadable (ErrCorrupt)
	vk, err := clientcrypto.Rand(clientcrypto.VaultKeyLen)
	if err != nil {
		return nil, err
	}
	if err := os.WriteFile(path, vk, 0o600); err != nil {
		return nil, err
	}
	return vk, nil
}

func (r *SlotRepo) path(slot string) (string, error) {
	if slot == "" || strings.ContainsAny(slot, `/\`) || strings.HasPrefix(slot, ".") {
		return "", fmt.Errorf("bad slot name %q", slot)
	}
	return filepath.Join(r.dir, slotsDir, slot), nil
}

// Get reads and unseals a slot.
func (r *SlotRepo) Get(_ context.Context, slot string) (string, error) {
	p, err := r.path(slot)
	if err != nil {
		return "", err
	}
	blob, err := os.ReadFile(p)
	if errors.Is(err, fs.ErrNotExist) {
		return "", errs.ErrNotFound
	}
	if err != nil {
		return "", err
	}
	key, err := clientcrypto.DeriveSlotKey(r.vaultKey, slot)
	if err != nil {
		return "", err
	}
	pt, err := clientcrypto.Open(key, slot, blob)
	if err != nil {
		return "", fmt.Errorf("slot %s: %w", slot, errs.ErrCorrupt)
	}
	return string(pt), nil
}

// Put seals and writes a slot via a temp file + rename.
func (r *SlotRepo) Put(_ context.Context, slot, value string) error {
	p, err := r.path(slot)
	if err != nil {
		return err
	}
	key, err := clientcrypto.DeriveSlotKey(r.vaultKey, slot)
	if err != nil {
		return err
	}
	blob, err := clientcrypto.Seal(key, slot, []byte(value))
	if err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(p), "."+slot+"-*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(blob); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Chmod(tmp.Name(), 0o600); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), p)
}

// Delete removes a slot file.
func (r *SlotRepo) Delete(_ context.Context, slot string) error {
	p, err := r.path(slot)
	if err != nil {
		return err
	}
	if err := os.Remove(p); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return nil
}
