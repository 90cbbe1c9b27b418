package session

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"skillgate/internal/config"
	"skillgate/internal/logging"
)

// StateCorruption reports an unreadable or malformed session file. Read
// paths surface it so the caller can decide; hooks treat it as "no
// session" after logging.
type StateCorruption struct {
	Path string
	Err  error
}

func (e *StateCorruption) Error() string {
	return fmt.Sprintf("session state corrupt at %s: %v", e.Path, e.Err)
}

func (e *StateCorruption) Unwrap() error { return e.Err }

// currentPointer is the content of .skillgate/current.json: a pointer to
// the live session's file under .skillgate/sessions/.
type currentPointer struct {
	SessionID string `json:"session_id"`
}

// storeLocks serializes in-process access per workspace. The file lock
// below covers cross-process writers; this covers goroutines sharing one
// process (hook handlers, tests).
var (
	storeLocksMu sync.Mutex
	storeLocks   = make(map[string]*sync.Mutex)
)

func lockFor(workspace string) *sync.Mutex {
	storeLocksMu.Lock()
	defer storeLocksMu.Unlock()
	mu, ok := storeLocks[workspace]
	if !ok {
		mu = &sync.Mutex{}
		storeLocks[workspace] = mu
	}
	return mu
}

// Store reads and writes session state files for one workspace.
type Store struct {
	workspace string
	dir       string // <workspace>/.skillgate
	mu        *sync.Mutex
}

// NewStore returns a store rooted at the given workspace directory.
func NewStore(workspace string) *Store {
	abs, err := filepath.Abs(workspace)
	if err != nil {
		abs = filepath.Clean(workspace)
	}
	return &Store{
		workspace: abs,
		dir:       filepath.Join(abs, config.DirName),
		mu:        lockFor(abs),
	}
}

// Dir returns the .skillgate directory this store writes under.
func (st *Store) Dir() string { return st.dir }

func (st *Store) currentPath() string {
	return filepath.Join(st.dir, "current.json")
}

func (st *Store) sessionPath(id string) string {
	return filepath.Join(st.dir, "sessions", id+".json")
}

// Create persists a new session and repoints current.json at it. Both
// writes are atomic (tempfile then rename); the pointer is written last
// so a crash between the two leaves the previous session current.
func (st *Store) Create(state *SessionState) error {
	if state.SessionID == "" {
		return fmt.Errorf("session: create requires a session_id")
	}
	st.mu.Lock()
	defer st.mu.Unlock()

	flock, err := acquireFileLock(st.dir)
	if err != nil {
		return fmt.Errorf("session: lock workspace: %w", err)
	}
	defer flock.release()

	if err := st.writeSession(state); err != nil {
		return err
	}
	if err := st.writeCurrent(state.SessionID); err != nil {
		return err
	}
	logging.Session("created session %s (profile=%s, chain=%d skills)",
		state.SessionID, state.ProfileID, len(state.Chain))
	return nil
}

// Load reads a session by id. A missing file is not an error: callers
// get (nil, nil) and treat it as "no session".
func (st *Store) Load(id string) (*SessionState, error) {
	return readSessionFile(st.sessionPath(id))
}

// LoadCurrent reads the session named by current.json. Returns (nil, nil)
// when no session is active or the pointer dangles.
func (st *Store) LoadCurrent() (*SessionState, error) {
	data, err := os.ReadFile(st.currentPath())
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, &StateCorruption{Path: st.currentPath(), Err: err}
	}
	var ptr currentPointer
	if err := json.Unmarshal(data, &ptr); err != nil {
		return nil, &StateCorruption{Path: st.currentPath(), Err: err}
	}
	if ptr.SessionID == "" {
		return nil, &StateCorruption{Path: st.currentPath(), Err: fmt.Errorf("empty session_id")}
	}
	state, err := st.Load(ptr.SessionID)
	if err != nil {
		return nil, err
	}
	if state == nil {
		logging.SessionWarn("current.json points at missing session %s", ptr.SessionID)
		return nil, nil
	}
	return state, nil
}

// Update applies mutate to the stored session under the workspace lock
// and persists the result atomically. The mutator sees a private copy;
// returning an error abandons the write.
func (st *Store) Update(id string, mutate func(*SessionState) error) (*SessionState, error) {
	st.mu.Lock()
	defer st.mu.Unlock()

	flock, err := acquireFileLock(st.dir)
	if err != nil {
		return nil, fmt.Errorf("session: lock workspace: %w", err)
	}
	defer flock.release()

	state, err := readSessionFile(st.sessionPath(id))
	if err != nil {
		return nil, err
	}
	if state == nil {
		return nil, fmt.Errorf("session: update of unknown session %s", id)
	}
	if err := mutate(state); err != nil {
		return nil, err
	}
	if state.CurrentSkillIndex < 0 || state.CurrentSkillIndex > len(state.Chain) {
		return nil, fmt.Errorf("session: current_skill_index %d out of range [0,%d]",
			state.CurrentSkillIndex, len(state.Chain))
	}
	if err := st.writeSession(state); err != nil {
		return nil, err
	}
	return state, nil
}

// Clear removes the current-session pointer. Session files are retained
// under .skillgate/sessions/ as history.
func (st *Store) Clear() error {
	st.mu.Lock()
	defer st.mu.Unlock()

	flock, err := acquireFileLock(st.dir)
	if err != nil {
		return fmt.Errorf("session: lock workspace: %w", err)
	}
	defer flock.release()

	if err := os.Remove(st.currentPath()); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("session: clear: %w", err)
	}
	logging.Session("cleared current session pointer")
	return nil
}

func (st *Store) writeSession(state *SessionState) error {
	path := st.sessionPath(state.SessionID)
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("session: create sessions dir: %w", err)
	}
	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return fmt.Errorf("session: marshal: %w", err)
	}
	return writeFileAtomic(path, data)
}

func (st *Store) writeCurrent(id string) error {
	if err := os.MkdirAll(st.dir, 0755); err != nil {
		return fmt.Errorf("session: create state dir: %w", err)
	}
	data, err := json.MarshalIndent(currentPointer{SessionID: id}, "", "  ")
	if err != nil {
		return fmt.Errorf("session: marshal pointer: %w", err)
	}
	return writeFileAtomic(st.currentPath(), data)
}

func readSessionFile(path string) (*SessionState, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, &StateCorruption{Path: path, Err: err}
	}
	var state SessionState
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, &StateCorruption{Path: path, Err: err}
	}
	if state.SessionID == "" {
		return nil, &StateCorruption{Path: path, Err: fmt.Errorf("missing session_id")}
	}
	if state.BlockedIntents == nil {
		state.BlockedIntents = make(map[string]string)
	}
	return &state, nil
}

// writeFileAtomic writes data to a sibling tempfile and renames it over
// path, so readers never observe a partial file.
func writeFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".skillgate-*.tmp")
	if err != nil {
		return fmt.Errorf("session: create tempfile: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("session: write tempfile: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("session: close tempfile: %w", err)
	}
	if err := os.Chmod(tmpName, 0644); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("session: chmod tempfile: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("session: rename into place: %w", err)
	}
	return nil
}
