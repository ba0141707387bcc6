// Package store owns the durable state of mq: conversation sessions written
// through an atomic file primitive and a latest-pointer that names the
// current session across invocations.
package store

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/xlr8harder/mq/internal/mqerr"
)

const (
	sessionVersion  = 1
	sessionsDirName = "sessions"
	pointerName     = "last_conversation.json"
)

var sessionIDRe = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9_-]{0,63}$`)

// Message is a single conversation turn.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Session is a persisted multi-turn conversation.
type Session struct {
	Version   int       `json:"version"`
	ID        string    `json:"id"`
	CreatedAt string    `json:"created_at"`
	UpdatedAt string    `json:"updated_at"`
	Shortname string    `json:"model_shortname"`
	Provider  string    `json:"provider"`
	Model     string    `json:"model"`
	Sysprompt string    `json:"sysprompt,omitempty"`
	Messages  []Message `json:"messages"`
}

// Store manages the session files under one home directory. It performs no
// cross-process locking; concurrent writers to the same id race and the last
// writer wins.
type Store struct {
	home    string
	pointer Pointer
}

// New opens the store rooted at home, creating the directory layout if
// needed.
func New(home string) (*Store, error) {
	if home == "" {
		return nil, mqerr.Config("store home directory must not be empty")
	}
	if err := EnsureDir(home); err != nil {
		return nil, err
	}
	if err := EnsureDir(filepath.Join(home, sessionsDirName)); err != nil {
		return nil, err
	}
	return &Store{
		home:    home,
		pointer: &diskPointer{path: filepath.Join(home, pointerName)},
	}, nil
}

// WithPointer swaps the latest-pointer implementation and returns the store.
func (s *Store) WithPointer(p Pointer) *Store {
	s.pointer = p
	return s
}

// Home returns the root state directory.
func (s *Store) Home() string {
	return s.home
}

// SessionsDir returns the directory holding session files.
func (s *Store) SessionsDir() string {
	return filepath.Join(s.home, sessionsDirName)
}

// SessionPath returns the file backing a session id.
func (s *Store) SessionPath(id string) string {
	return filepath.Join(s.SessionsDir(), id+".json")
}

func (s *Store) pointerPath() string {
	return filepath.Join(s.home, pointerName)
}

// ValidateSessionID rejects ids that do not match the allowed pattern.
func ValidateSessionID(id string) error {
	if id == "" {
		return mqerr.User("session id must be non-empty")
	}
	if !sessionIDRe.MatchString(id) {
		return mqerr.User("invalid session id (use only letters, digits, '_' and '-', no spaces)")
	}
	return nil
}

// NewSessionID returns a random 128-bit id as 32 lowercase hex characters.
func NewSessionID() string {
	u := uuid.New()
	return hex.EncodeToString(u[:])
}

// Exists reports whether a session file is present for id.
func (s *Store) Exists(id string) bool {
	if ValidateSessionID(id) != nil {
		return false
	}
	_, err := os.Stat(s.SessionPath(id))
	return err == nil
}

// CreateParams describes a session to create. Leave RequestedID empty to get
// a random id.
type CreateParams struct {
	Shortname   string
	Provider    string
	Model       string
	Sysprompt   string
	Messages    []Message
	RequestedID string
}

// Create writes a new session and repoints the latest-pointer at it. A
// requested id that already has a file is a conflict.
func (s *Store) Create(p CreateParams) (*Session, error) {
	id := p.RequestedID
	if id == "" {
		id = NewSessionID()
	}
	if err := ValidateSessionID(id); err != nil {
		return nil, err
	}
	if s.Exists(id) {
		return nil, mqerr.Conflict("session already exists: %q", id)
	}

	now := nowISO()
	sess := &Session{
		Version:   sessionVersion,
		ID:        id,
		CreatedAt: now,
		UpdatedAt: now,
		Shortname: p.Shortname,
		Provider:  p.Provider,
		Model:     p.Model,
		Sysprompt: p.Sysprompt,
		Messages:  append([]Message(nil), p.Messages...),
	}
	if err := writeJSONAtomic(s.SessionPath(id), sess); err != nil {
		return nil, err
	}
	s.setLatest(id)

	log.Debug().Str("session", id).Msg("session created")
	return sess, nil
}

// Load reads one session by id.
func (s *Store) Load(id string) (*Session, error) {
	if err := ValidateSessionID(id); err != nil {
		return nil, err
	}
	sess, err := readSessionFile(s.SessionPath(id))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, mqerr.NotFound("unknown session id: %q", id)
		}
		return nil, err
	}
	return sess, nil
}

// Save persists an existing session, refreshing updated_at, and repoints the
// latest-pointer at it. This is the only path by which a continued turn is
// made durable.
func (s *Store) Save(sess *Session) error {
	if sess == nil || sess.ID == "" {
		return mqerr.Config("invalid session (missing id)")
	}
	if err := ValidateSessionID(sess.ID); err != nil {
		return err
	}

	sess.UpdatedAt = nowISO()
	if err := writeJSONAtomic(s.SessionPath(sess.ID), sess); err != nil {
		return err
	}
	s.setLatest(sess.ID)

	log.Debug().Str("session", sess.ID).Int("messages", len(sess.Messages)).Msg("session saved")
	return nil
}

// LoadLatest resolves the current session: the pointer target when it parses
// as a session document, else the session named by the pointer, else the
// newest session file on disk.
func (s *Store) LoadLatest() (*Session, error) {
	// Fast path: the pointer is normally a symlink straight at the latest
	// session file, so a single read avoids scanning the sessions
	// directory. Legacy pointers holding a full session document are
	// served by the same read.
	if sess, err := readSessionFile(s.pointerPath()); err == nil && sess.ID != "" {
		return sess, nil
	}

	if id, err := s.pointer.Read(); err == nil && id != "" {
		sess, err := s.Load(id)
		if err == nil {
			return sess, nil
		}
		// A dangling or garbage pointer falls through to the scan; a
		// corrupt session file does not.
		if !mqerr.IsCode(err, mqerr.CodeNotFound) && !mqerr.IsCode(err, mqerr.CodeUser) {
			return nil, err
		}
	}

	id, ok, err := s.newestSessionID()
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, mqerr.NoSession("no previous conversation found")
	}
	return s.Load(id)
}

// List returns all parsable sessions, newest first. The sort key is
// updated_at falling back to created_at, compared as strings: ISO-8601
// timestamps order lexicographically.
func (s *Store) List() ([]*Session, error) {
	entries, err := os.ReadDir(s.SessionsDir())
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read sessions directory: %w", err)
	}

	var sessions []*Session
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, ".json") {
			continue
		}
		sess, err := readSessionFile(filepath.Join(s.SessionsDir(), name))
		if err != nil {
			log.Warn().Str("file", name).Msg("skipping unparsable session file")
			continue
		}
		if sess.ID == "" {
			sess.ID = strings.TrimSuffix(name, ".json")
		}
		sessions = append(sessions, sess)
	}

	sort.SliceStable(sessions, func(i, j int) bool {
		return sessionSortKey(sessions[i]) > sessionSortKey(sessions[j])
	})
	return sessions, nil
}

// Select repoints the latest-pointer at an existing session without mutating
// it.
func (s *Store) Select(id string) error {
	if _, err := s.Load(id); err != nil {
		return err
	}
	if err := s.pointer.Write(id); err != nil {
		return fmt.Errorf("failed to update latest pointer: %w", err)
	}
	return nil
}

// Rename copies a session under a new id, deletes the old file, and repoints
// the latest-pointer only if it referenced the old id.
func (s *Store) Rename(oldID, newID string) error {
	if err := ValidateSessionID(oldID); err != nil {
		return err
	}
	if err := ValidateSessionID(newID); err != nil {
		return err
	}
	if oldID == newID {
		return nil
	}
	if !s.Exists(oldID) {
		return mqerr.NotFound("unknown session id: %q", oldID)
	}
	if s.Exists(newID) {
		return mqerr.Conflict("session already exists: %q", newID)
	}

	sess, err := s.Load(oldID)
	if err != nil {
		return err
	}
	sess.ID = newID
	sess.UpdatedAt = nowISO()
	if err := writeJSONAtomic(s.SessionPath(newID), sess); err != nil {
		return err
	}
	if err := os.Remove(s.SessionPath(oldID)); err != nil && !os.IsNotExist(err) {
		log.Warn().Err(err).Str("session", oldID).Msg("failed to remove old session file")
	}

	if current, err := s.pointer.Read(); err == nil && current == oldID {
		s.setLatest(newID)
	}

	log.Debug().Str("from", oldID).Str("to", newID).Msg("session renamed")
	return nil
}

func (s *Store) setLatest(id string) {
	if err := s.pointer.Write(id); err != nil {
		log.Warn().Err(err).Str("session", id).Msg("failed to update latest pointer")
	}
}

func (s *Store) newestSessionID() (string, bool, error) {
	entries, err := os.ReadDir(s.SessionsDir())
	if err != nil {
		if os.IsNotExist(err) {
			return "", false, nil
		}
		return "", false, fmt.Errorf("failed to read sessions directory: %w", err)
	}

	var bestID string
	var bestTime time.Time
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, ".json") {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		if bestID == "" || info.ModTime().After(bestTime) {
			bestID = strings.TrimSuffix(name, ".json")
			bestTime = info.ModTime()
		}
	}
	return bestID, bestID != "", nil
}

func readSessionFile(path string) (*Session, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var sess Session
	if err := json.Unmarshal(data, &sess); err != nil {
		return nil, mqerr.Config("invalid session format in %s: %v", path, err).Wrap(err)
	}
	return &sess, nil
}

func sessionSortKey(sess *Session) string {
	if sess.UpdatedAt != "" {
		return sess.UpdatedAt
	}
	return sess.CreatedAt
}

func nowISO() string {
	return time.Now().UTC().Truncate(time.Second).Format(time.RFC3339)
}
