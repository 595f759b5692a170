// Package sessions stores chat sessions on disk, one directory per session.
package sessions

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/google/renameio/v2"
	"github.com/google/uuid"

	"github.com/MrSnakeDoc/kilomarket/internal/logger"
)

const (
	dirPrefix     = "session_"
	metaFile      = "session.json"
	messagesDir   = "messages"
	messagePrefix = "message_"
	fileMode      = 0o600
	dirMode       = 0o755
)

var (
	ErrNotFound  = errors.New("session not found")
	ErrInvalidID = errors.New("invalid session id")
)

// Passcodes holds the per-session passcodes outside the session files.
type Passcodes interface {
	Passcodes() map[string]string
	SetPasscode(sessionID, code string) error
	DeletePasscode(sessionID string) error
}

// ProviderRef is the model provider a session was created with.
type ProviderRef struct {
	Provider string            `json:"provider"`
	Name     string            `json:"provider_name,omitempty"`
	Config   map[string]string `json:"config,omitempty"`
}

// Session is the metadata file of one session.
type Session struct {
	ID           string      `json:"session_id"`
	Type         string      `json:"session_type"`
	CreatedAt    time.Time   `json:"created_at"`
	UpdatedAt    time.Time   `json:"updated_at"`
	ApprovalData string      `json:"approval_data"`
	AIProvider   ProviderRef `json:"ai_provider"`
}

// Redacted drops provider credentials so the session can be shown to users.
func (s Session) Redacted() Session {
	s.AIProvider.Config = nil
	return s
}

// Summary is one row of List.
type Summary struct {
	Session
	MessageCount int    `json:"message_count"`
	FileSize     string `json:"file_size"`
	HasPasscode  bool   `json:"has_passcode"`
}

// Message is one persisted chat message.
type Message struct {
	ID        int       `json:"message_id"`
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Store reads and writes session directories under root. Concurrent
// writers to the same session are serialized; otherwise the last write wins.
type Store struct {
	root      string
	passcodes Passcodes
	log       logger.Logger
	now       func() time.Time

	mu sync.Mutex
}

func NewStore(root string, passcodes Passcodes, log logger.Logger) (*Store, error) {
	if err := os.MkdirAll(root, dirMode); err != nil {
		return nil, fmt.Errorf("create sessions directory: %w", err)
	}
	if log == nil {
		log = logger.Nop()
	}
	return &Store{root: root, passcodes: passcodes, log: log, now: time.Now}, nil
}

// WithClock replaces the time source, for tests.
func (s *Store) WithClock(now func() time.Time) *Store {
	s.now = now
	return s
}

func (s *Store) dir(id string) (string, error) {
	if _, err := uuid.Parse(id); err != nil {
		return "", fmt.Errorf("%w: %q", ErrInvalidID, id)
	}
	return filepath.Join(s.root, dirPrefix+id), nil
}

func writeJSON(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	return renameio.WriteFile(path, append(data, '\n'), fileMode)
}

func readJSON(path string, into any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, into)
}

// Create writes a new session and records its passcode.
func (s *Store) Create(approvalData, passcode string, provider ProviderRef) (Session, error) {
	id := uuid.NewString()
	dir, _ := s.dir(id)
	if err := os.MkdirAll(filepath.Join(dir, messagesDir), dirMode); err != nil {
		return Session{}, fmt.Errorf("create session directory: %w", err)
	}

	now := s.now()
	sess := Session{
		ID:           id,
		Type:         "interactive",
		CreatedAt:    now,
		UpdatedAt:    now,
		ApprovalData: approvalData,
		AIProvider:   provider,
	}
	if err := writeJSON(filepath.Join(dir, metaFile), sess); err != nil {
		_ = os.RemoveAll(dir)
		return Session{}, fmt.Errorf("write session: %w", err)
	}

	if passcode != "" && s.passcodes != nil {
		if err := s.passcodes.SetPasscode(id, passcode); err != nil {
			s.log.Warn("failed to store session passcode", logger.String("session", id), logger.Error(err))
		}
	}

	s.log.Info("session created", logger.String("session", id), logger.String("provider", provider.Provider))
	return sess, nil
}

func (s *Store) Get(id string) (Session, error) {
	dir, err := s.dir(id)
	if err != nil {
		return Session{}, err
	}
	var sess Session
	if err := readJSON(filepath.Join(dir, metaFile), &sess); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return Session{}, fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		return Session{}, fmt.Errorf("read session %s: %w", id, err)
	}
	return sess, nil
}

// List returns every readable session, most recently updated first.
func (s *Store) List() ([]Summary, error) {
	entries, err := os.ReadDir(s.root)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}

	var codes map[string]string
	if s.passcodes != nil {
		codes = s.passcodes.Passcodes()
	}

	out := make([]Summary, 0, len(entries))
	for _, e := range entries {
		if !e.IsDir() || !strings.HasPrefix(e.Name(), dirPrefix) {
			continue
		}
		id := strings.TrimPrefix(e.Name(), dirPrefix)
		sess, err := s.Get(id)
		if err != nil {
			s.log.Debug("skipping unreadable session", logger.String("dir", e.Name()), logger.Error(err))
			continue
		}
		msgs, _ := s.Messages(id)
		_, hasCode := codes[id]
		out = append(out, Summary{
			Session:      sess.Redacted(),
			MessageCount: len(msgs),
			FileSize:     humanize.Bytes(jsonSize(filepath.Join(s.root, e.Name()))),
			HasPasscode:  hasCode,
		})
	}

	sort.SliceStable(out, func(i, j int) bool { return out[i].UpdatedAt.After(out[j].UpdatedAt) })
	return out, nil
}

func jsonSize(dir string) uint64 {
	var total uint64
	_ = filepath.WalkDir(dir, func(_ string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() || filepath.Ext(d.Name()) != ".json" {
			return nil
		}
		if info, err := d.Info(); err == nil {
			total += uint64(info.Size())
		}
		return nil
	})
	return total
}

type messageFile struct {
	index int
	path  string
}

func (s *Store) messageFiles(dir string) ([]messageFile, error) {
	entries, err := os.ReadDir(filepath.Join(dir, messagesDir))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	files := make([]messageFile, 0, len(entries))
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasPrefix(name, messagePrefix) || filepath.Ext(name) != ".json" {
			continue
		}
		n, err := strconv.Atoi(strings.TrimSuffix(strings.TrimPrefix(name, messagePrefix), ".json"))
		if err != nil {
			continue
		}
		files = append(files, messageFile{index: n, path: filepath.Join(dir, messagesDir, name)})
	}
	sort.Slice(files, func(i, j int) bool { return files[i].index < files[j].index })
	return files, nil
}

// Messages returns the session transcript in order. Blank messages are skipped.
func (s *Store) Messages(id string) ([]Message, error) {
	dir, err := s.dir(id)
	if err != nil {
		return nil, err
	}
	if _, err := os.Stat(dir); err != nil {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}

	files, err := s.messageFiles(dir)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}

	out := make([]Message, 0, len(files))
	for _, f := range files {
		var m Message
		if err := readJSON(f.path, &m); err != nil {
			s.log.Warn("skipping unreadable message", logger.String("path", f.path), logger.Error(err))
			continue
		}
		if strings.TrimSpace(m.Content) == "" {
			continue
		}
		out = append(out, m)
	}
	return out, nil
}

// Append persists one message and touches the session.
func (s *Store) Append(id, role, content string) (Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, err := s.Get(id)
	if err != nil {
		return Message{}, err
	}
	dir, _ := s.dir(id)
	if err := os.MkdirAll(filepath.Join(dir, messagesDir), dirMode); err != nil {
		return Message{}, fmt.Errorf("create messages directory: %w", err)
	}

	files, err := s.messageFiles(dir)
	if err != nil {
		return Message{}, fmt.Errorf("list messages: %w", err)
	}
	next := 0
	if len(files) > 0 {
		next = files[len(files)-1].index + 1
	}

	now := s.now()
	m := Message{ID: next, Role: role, Content: content, CreatedAt: now, UpdatedAt: now}
	path := filepath.Join(dir, messagesDir, messagePrefix+strconv.Itoa(next)+".json")
	if err := writeJSON(path, m); err != nil {
		return Message{}, fmt.Errorf("write message: %w", err)
	}

	sess.UpdatedAt = now
	if err := writeJSON(filepath.Join(dir, metaFile), sess); err != nil {
		return Message{}, fmt.Errorf("touch session: %w", err)
	}
	return m, nil
}

// Touch bumps the session's updated_at.
func (s *Store) Touch(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, err := s.Get(id)
	if err != nil {
		return err
	}
	sess.UpdatedAt = s.now()
	dir, _ := s.dir(id)
	return writeJSON(filepath.Join(dir, metaFile), sess)
}

// Delete removes the session directory and its passcode.
func (s *Store) Delete(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	dir, err := s.dir(id)
	if err != nil {
		return err
	}
	if _, err := os.Stat(dir); err != nil {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if s.passcodes != nil {
		if err := s.passcodes.DeletePasscode(id); err != nil {
			s.log.Warn("failed to remove session passcode", logger.String("session", id), logger.Error(err))
		}
	}
	if err := os.RemoveAll(dir); err != nil {
		return fmt.Errorf("delete session %s: %w", id, err)
	}
	s.log.Info("session deleted", logger.String("session", id))
	return nil
}
