package persist

import (
	"fmt"
	"os"
	"time"

	"atelier/internal/errors"
	"atelier/internal/logging"
	"atelier/internal/ratelimit"
	"atelier/internal/session"
	"atelier/internal/types"
)

const resumeOp = "resume"

// Pipeline orchestrates save, resume, and listing across the store, the rate
// limiter, and the top-level supervisor.
type Pipeline struct {
	top     *session.Top
	store   *Store
	limiter *ratelimit.Limiter

	resumeLimit  int
	resumeWindow time.Duration
}

// NewPipeline wires the persistence pipeline. limiter may be nil to disable
// resume rate limiting.
func NewPipeline(top *session.Top, store *Store, limiter *ratelimit.Limiter, resumeLimit int, resumeWindow time.Duration) *Pipeline {
	return &Pipeline{
		top:          top,
		store:        store,
		limiter:      limiter,
		resumeLimit:  resumeLimit,
		resumeWindow: resumeWindow,
	}
}

// Store returns the underlying file store.
func (p *Pipeline) Store() *Store { return p.store }

// Save snapshots a running session and writes it to disk. The snapshot is
// taken inside the session's actor, so it is consistent; the serialization
// and file I/O happen out here where they cannot stall the session.
func (p *Pipeline) Save(id string) error {
	state, ok := p.top.GetState(id)
	if !ok {
		return &errors.AvailabilityError{Resource: "session " + id, Err: errors.ErrNotFound}
	}
	snap, err := state.Snapshot()
	if err != nil {
		return errors.Internal(fmt.Sprintf("snapshot session %s", id), err)
	}
	return p.store.Write(snap, time.Now().UTC())
}

// StopSession saves a running session and then stops it. The save happens
// first: a session that failed to persist keeps running rather than losing
// its history.
func (p *Pipeline) StopSession(id string) error {
	if err := p.Save(id); err != nil {
		return err
	}
	return p.top.StopSession(id)
}

// Resume restores a persisted session to a running one. The registry is the
// mutual-exclusion point: of two concurrent resumes for the same id exactly
// one registers, starts, and deletes the file; the loser gets a typed error
// and the file is left alone by it.
//
// The project path is validated twice: once after load, and once again
// immediately before the tree starts. That narrows the window in which the
// directory can be swapped out from under the resume, but does not close it;
// the gateway validator re-checks every path per operation afterwards anyway.
func (p *Pipeline) Resume(id string) (types.Session, error) {
	snap, err := p.store.Read(id)
	if err != nil {
		return types.Session{}, err
	}

	if err := validateProjectDir(snap.Session.ProjectPath); err != nil {
		return types.Session{}, err
	}

	if p.limiter != nil {
		allowed, retryAfter := p.limiter.CheckAndRecord(resumeOp, id, p.resumeLimit, p.resumeWindow)
		if !allowed {
			logging.PersistWarn("resume of %s rate limited, retry in %s", id, retryAfter)
			return types.Session{}, &errors.AvailabilityError{
				Resource:   "resume " + id,
				RetryAfter: retryAfter,
				Err:        errors.ErrRateLimited,
			}
		}
	}

	// Id and created_at survive the cycle; updated_at reflects the resume.
	snap.Session.UpdatedAt = time.Now().UTC()

	if err := p.top.Registry().Register(snap.Session); err != nil {
		return types.Session{}, err
	}

	if err := validateProjectDir(snap.Session.ProjectPath); err != nil {
		p.top.Registry().Unregister(snap.Session.ID)
		return types.Session{}, err
	}

	if err := p.top.Restore(snap); err != nil {
		p.top.Registry().Unregister(snap.Session.ID)
		logging.PersistError("resume of %s failed after registration, file kept: %v", id, err)
		return types.Session{}, err
	}

	// Full success. The persisted copy must not outlive the running session;
	// a failed delete is logged loudly but does not undo the resume.
	if err := p.store.Delete(id); err != nil {
		logging.PersistError("resumed %s but could not delete its file: %v", id, err)
	}
	return snap.Session, nil
}

// ListResumable returns persisted sessions that are not currently live.
func (p *Pipeline) ListResumable() ([]Meta, error) {
	metas, err := p.store.List()
	if err != nil {
		return nil, err
	}
	out := metas[:0]
	for _, m := range metas {
		if _, live := p.top.Registry().Lookup(m.ID); live {
			continue
		}
		out = append(out, m)
	}
	return out, nil
}

// validateProjectDir checks the project path still exists and is a directory.
func validateProjectDir(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return &errors.AvailabilityError{Resource: "project path " + path, Err: errors.ErrNotFound}
		}
		return errors.Internal("stat project path", err)
	}
	if !info.IsDir() {
		return errors.NewValidationError("project_path", path, fmt.Errorf("not a directory"))
	}
	return nil
}
