package security

import (
	"fmt"
	"os"
	"path/filepath"

	"atelier/internal/errors"
	"atelier/internal/logging"
)

// ReadFile validates path and returns its contents.
func (v *Validator) ReadFile(path string) ([]byte, error) {
	resolved, err := v.ValidateExisting(path)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(resolved)
	if err != nil {
		return nil, errors.Internal(fmt.Sprintf("read %s", resolved), err)
	}
	logging.Security("read %s (%d bytes)", resolved, len(data))
	return data, nil
}

// WriteFile validates path, creates missing parent directories inside the
// boundary, and writes data.
func (v *Validator) WriteFile(path string, data []byte) error {
	resolved, err := v.ValidatePath(path)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(resolved), 0755); err != nil {
		return errors.Internal(fmt.Sprintf("mkdir for %s", resolved), err)
	}
	if err := os.WriteFile(resolved, data, 0644); err != nil {
		return errors.Internal(fmt.Sprintf("write %s", resolved), err)
	}
	logging.Security("wrote %s (%d bytes)", resolved, len(data))
	return nil
}

// ListDir validates path and returns its directory entries.
func (v *Validator) ListDir(path string) ([]os.DirEntry, error) {
	resolved, err := v.ValidateExisting(path)
	if err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(resolved)
	if err != nil {
		return nil, errors.Internal(fmt.Sprintf("list %s", resolved), err)
	}
	return entries, nil
}
