package persist

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"atelier/internal/errors"
	"atelier/internal/logging"
	"atelier/internal/session"
	"atelier/internal/signing"
	"atelier/internal/types"
)

// Store reads and writes signed session files under one directory. File
// naming is {sessions_dir}/{uuid}.json; the signature lives inside the file
// and covers every other field.
type Store struct {
	dir         string
	signer      *signing.Signer
	maxFileSize int64
}

// NewStore creates the sessions directory if needed.
func NewStore(dir string, signer *signing.Signer, maxFileSize int64) (*Store, error) {
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, errors.Internal("create sessions directory", err)
	}
	return &Store{dir: dir, signer: signer, maxFileSize: maxFileSize}, nil
}

// Dir returns the sessions directory.
func (st *Store) Dir() string { return st.dir }

// Path returns where the session with the given id is (or would be) stored.
func (st *Store) Path(id string) string {
	return filepath.Join(st.dir, id+".json")
}

// signingBody returns the canonical bytes the HMAC covers: the wire struct
// with an empty signature field, compact-marshaled. Struct marshaling is
// deterministic, so writer and verifier always agree on the bytes.
func signingBody(p persistedSession) ([]byte, error) {
	p.Signature = ""
	body, err := json.Marshal(p)
	if err != nil {
		return nil, errors.Internal("marshal session for signing", err)
	}
	return body, nil
}

// Write serializes, signs, and atomically persists a snapshot. The file is
// staged under a temp name in the same directory and renamed into place, so
// a crash mid-write can never leave a half-written session file at the final
// path.
func (st *Store) Write(snap session.Snapshot, closedAt time.Time) error {
	timer := logging.StartTimer(logging.CategoryPersist, "save "+snap.Session.ID)
	defer timer.Stop()

	p := encode(snap, closedAt)

	body, err := signingBody(p)
	if err != nil {
		return err
	}
	sig, err := st.signer.Sign(body)
	if err != nil {
		return err
	}
	p.Signature = sig

	out, err := json.MarshalIndent(p, "", "  ")
	if err != nil {
		return errors.Internal("marshal session file", err)
	}

	final := st.Path(p.ID)
	tmp, err := os.CreateTemp(st.dir, "."+p.ID+".tmp-*")
	if err != nil {
		return errors.Internal("create temp session file", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(out); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return errors.Internal("write temp session file", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return errors.Internal("close temp session file", err)
	}
	if err := os.Rename(tmpName, final); err != nil {
		os.Remove(tmpName)
		return errors.Internal("rename session file into place", err)
	}
	if err := os.Chmod(final, 0600); err != nil {
		logging.PersistWarn("could not restrict permissions on %s: %v", final, err)
	}

	logging.Persist("saved session %s (%d messages, %d bytes)", p.ID, len(p.Conversation), len(out))
	return nil
}

// Read loads and verifies the persisted session with the given id. A file
// over the size cap is rejected before it is read; a signature mismatch or
// malformed content is an integrity error, never a partial result.
func (st *Store) Read(id string) (session.Snapshot, error) {
	if err := validateIDForPath(id); err != nil {
		return session.Snapshot{}, err
	}
	path := st.Path(id)

	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return session.Snapshot{}, &errors.AvailabilityError{Resource: "persisted session " + id, Err: errors.ErrNotFound}
		}
		return session.Snapshot{}, errors.Internal("stat session file", err)
	}
	if info.Size() > st.maxFileSize {
		return session.Snapshot{}, &errors.IntegrityError{
			Path: path,
			Err:  fmt.Errorf("%w: %d bytes exceeds cap %d", errors.ErrFileTooLarge, info.Size(), st.maxFileSize),
		}
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		return session.Snapshot{}, errors.Internal("read session file", err)
	}

	var p persistedSession
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&p); err != nil {
		return session.Snapshot{}, &errors.IntegrityError{
			Path: path,
			Err:  fmt.Errorf("%w: %v", errors.ErrCorrupt, err),
		}
	}

	sig := p.Signature
	body, err := signingBody(p)
	if err != nil {
		return session.Snapshot{}, err
	}
	if err := st.signer.Verify(body, sig); err != nil {
		logging.PersistWarn("signature check failed for %s", path)
		return session.Snapshot{}, err
	}

	snap, err := decode(p)
	if err != nil {
		return session.Snapshot{}, err
	}
	if snap.Session.ID != id {
		return session.Snapshot{}, &errors.IntegrityError{
			Path: path,
			Err:  fmt.Errorf("%w: file claims id %s", errors.ErrCorrupt, snap.Session.ID),
		}
	}
	return snap, nil
}

// Delete removes the persisted file for id.
func (st *Store) Delete(id string) error {
	if err := validateIDForPath(id); err != nil {
		return err
	}
	if err := os.Remove(st.Path(id)); err != nil {
		return errors.Internal("delete session file", err)
	}
	logging.Persist("deleted session file for %s", id)
	return nil
}

// Meta is the lightweight listing projection of a persisted session.
type Meta struct {
	ID           string    `json:"id"`
	Name         string    `json:"name"`
	ProjectPath  string    `json:"project_path"`
	Model        string    `json:"model"`
	MessageCount int       `json:"message_count"`
	ClosedAt     time.Time `json:"closed_at"`
}

// List enumerates every readable persisted session. Individually corrupt
// files are skipped with a warning so one bad file cannot hide the rest.
// Signatures are not verified here; listing shows metadata only and the
// verify happens on resume.
func (st *Store) List() ([]Meta, error) {
	entries, err := os.ReadDir(st.dir)
	if err != nil {
		return nil, errors.Internal("list sessions directory", err)
	}

	var out []Meta
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, ".json") || strings.HasPrefix(name, ".") {
			continue
		}
		raw, err := os.ReadFile(filepath.Join(st.dir, name))
		if err != nil {
			logging.PersistWarn("skipping unreadable session file %s: %v", name, err)
			continue
		}
		var p persistedSession
		if err := json.Unmarshal(raw, &p); err != nil {
			logging.PersistWarn("skipping corrupt session file %s: %v", name, err)
			continue
		}
		if types.ValidateSessionID(p.ID) != nil || p.ID+".json" != name {
			logging.PersistWarn("skipping session file %s with mismatched id %q", name, p.ID)
			continue
		}
		closedAt, err := time.Parse(time.RFC3339Nano, p.ClosedAt)
		if err != nil {
			logging.PersistWarn("skipping session file %s with bad closed_at: %v", name, err)
			continue
		}
		out = append(out, Meta{
			ID:           p.ID,
			Name:         p.Name,
			ProjectPath:  p.ProjectPath,
			Model:        p.Config.Model,
			MessageCount: len(p.Conversation),
			ClosedAt:     closedAt,
		})
	}
	return out, nil
}

// validateIDForPath rejects ids that are not well-formed UUIDs before they
// are interpolated into a filesystem path.
func validateIDForPath(id string) error {
	if err := types.ValidateSessionID(id); err != nil {
		return errors.NewValidationError("session_id", id, err)
	}
	return nil
}
