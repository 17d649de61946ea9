// Package sessionstore keeps chat sessions: an in-memory map of the
// sessions touched by this process, backed by a bbolt database that holds
// session metadata and the append-only message log of each session.
package sessionstore

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	bolt "go.etcd.io/bbolt"

	"github.com/martinemde/steward/logging"
)

var (
	// ErrSessionNotFound is returned for ids the store does not know.
	ErrSessionNotFound = errors.New("session not found")

	// ErrStoreUnavailable wraps failures to open or use the database.
	ErrStoreUnavailable = errors.New("session store unavailable")
)

var (
	sessionsBucket = []byte("sessions")
	messagesBucket = []byte("messages")
)

// ToolCall is a tool invocation recorded on an assistant message.
type ToolCall struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

// Message is one persisted conversation message. Messages are never
// modified once written.
type Message struct {
	Role      string     `json:"role"`
	Content   string     `json:"content"`
	Timestamp int64      `json:"timestamp"`
	ToolCalls []ToolCall `json:"tool_calls,omitempty"`
}

// Info is the metadata of a session.
type Info struct {
	ID        string `json:"id"`
	Title     string `json:"title"`
	WorkDir   string `json:"work_dir"`
	CreatedAt int64  `json:"created_at"`
	UpdatedAt int64  `json:"updated_at"`
}

// Session is the metadata plus the full message log.
type Session struct {
	Info
	Messages []Message `json:"messages"`
}

func (s *Session) clone() Session {
	out := Session{Info: s.Info, Messages: make([]Message, len(s.Messages))}
	copy(out.Messages, s.Messages)
	return out
}

// Store owns the live session map and the database. The mutex guards the
// map only; bbolt serializes its own writers.
type Store struct {
	db  *bolt.DB
	now func() time.Time
	log *logrus.Entry

	mu   sync.Mutex
	live map[string]*Session
}

// Option configures a Store.
type Option func(*Store)

// WithClock overrides time.Now for timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		s.now = now
	}
}

// Open opens or creates the database at path.
func Open(path string, opts ...Option) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("%w: open %s: %v", ErrStoreUnavailable, path, err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		for _, name := range [][]byte{sessionsBucket, messagesBucket} {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("%w: init %s: %v", ErrStoreUnavailable, path, err)
	}

	s := &Store{
		db:   db,
		now:  time.Now,
		log:  logging.NewLogger("sessionstore").WithField("path", path),
		live: make(map[string]*Session),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Now returns the store clock in unix seconds.
func (s *Store) Now() int64 {
	return s.now().Unix()
}

// GetOrCreate returns the session with id, creating it with title and
// workDir when it does not exist yet. created reports which happened.
func (s *Store) GetOrCreate(id, title, workDir string) (info Info, created bool, err error) {
	s.mu.Lock()
	if sess, ok := s.live[id]; ok {
		s.mu.Unlock()
		return sess.Info, false, nil
	}
	s.mu.Unlock()

	sess, err := s.load(id)
	switch {
	case err == nil:
	case errors.Is(err, ErrSessionNotFound):
		now := s.Now()
		sess = &Session{Info: Info{ID: id, Title: title, WorkDir: workDir, CreatedAt: now, UpdatedAt: now}}
		if err := s.putInfo(sess.Info); err != nil {
			return Info{}, false, err
		}
		created = true
		s.log.WithField("session_id", id).Debug("created session")
	default:
		return Info{}, false, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.live[id]; ok {
		return existing.Info, false, nil
	}
	s.live[id] = sess
	return sess.Info, created, nil
}

// AppendMessage appends msg to the session's log and bumps updated_at.
func (s *Store) AppendMessage(id string, msg Message) error {
	if msg.Timestamp == 0 {
		msg.Timestamp = s.Now()
	}
	enc, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("encode message: %w", err)
	}

	var info Info
	err = s.db.Update(func(tx *bolt.Tx) error {
		var err error
		info, err = getInfo(tx, id)
		if err != nil {
			return err
		}
		b, err := tx.Bucket(messagesBucket).CreateBucketIfNotExists([]byte(id))
		if err != nil {
			return err
		}
		seq, err := b.NextSequence()
		if err != nil {
			return err
		}
		if err := b.Put(seqKey(seq), enc); err != nil {
			return err
		}
		info.UpdatedAt = msg.Timestamp
		return putInfo(tx, info)
	})
	if err != nil {
		return s.wrap(err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if sess, ok := s.live[id]; ok {
		sess.Messages = append(sess.Messages, msg)
		sess.UpdatedAt = info.UpdatedAt
	}
	return nil
}

// Touch sets updated_at to now.
func (s *Store) Touch(id string) error {
	now := s.Now()
	err := s.db.Update(func(tx *bolt.Tx) error {
		info, err := getInfo(tx, id)
		if err != nil {
			return err
		}
		info.UpdatedAt = now
		return putInfo(tx, info)
	})
	if err != nil {
		return s.wrap(err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if sess, ok := s.live[id]; ok {
		sess.UpdatedAt = now
	}
	return nil
}

// Cached returns a copy of a session held in memory by this process.
func (s *Store) Cached(id string) (Session, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.live[id]
	if !ok {
		return Session{}, false
	}
	return sess.clone(), true
}

// Get reads a session and its messages from the database.
func (s *Store) Get(id string) (Session, error) {
	sess, err := s.load(id)
	if err != nil {
		return Session{}, err
	}
	return *sess, nil
}

// List returns the metadata of every stored session, most recently
// updated first.
func (s *Store) List() ([]Info, error) {
	var infos []Info
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(sessionsBucket).ForEach(func(k, v []byte) error {
			var info Info
			if err := json.Unmarshal(v, &info); err != nil {
				s.log.WithField("session_id", string(k)).Warn("skipping malformed session record")
				return nil
			}
			infos = append(infos, info)
			return nil
		})
	})
	if err != nil {
		return nil, s.wrap(err)
	}
	sort.SliceStable(infos, func(i, j int) bool {
		return infos[i].UpdatedAt > infos[j].UpdatedAt
	})
	return infos, nil
}

// Delete removes a session and its messages. Deleting an unknown id is
// not an error.
func (s *Store) Delete(id string) error {
	err := s.db.Update(func(tx *bolt.Tx) error {
		if err := tx.Bucket(sessionsBucket).Delete([]byte(id)); err != nil {
			return err
		}
		msgs := tx.Bucket(messagesBucket)
		if msgs.Bucket([]byte(id)) != nil {
			return msgs.DeleteBucket([]byte(id))
		}
		return nil
	})
	if err != nil {
		return s.wrap(err)
	}

	s.mu.Lock()
	delete(s.live, id)
	s.mu.Unlock()
	return nil
}

func (s *Store) load(id string) (*Session, error) {
	var sess Session
	err := s.db.View(func(tx *bolt.Tx) error {
		info, err := getInfo(tx, id)
		if err != nil {
			return err
		}
		sess.Info = info
		b := tx.Bucket(messagesBucket).Bucket([]byte(id))
		if b == nil {
			return nil
		}
		return b.ForEach(func(k, v []byte) error {
			var msg Message
			if err := json.Unmarshal(v, &msg); err != nil {
				s.log.WithField("session_id", id).Warn("skipping malformed message record")
				return nil
			}
			sess.Messages = append(sess.Messages, msg)
			return nil
		})
	})
	if err != nil {
		return nil, s.wrap(err)
	}
	return &sess, nil
}

func (s *Store) putInfo(info Info) error {
	return s.wrap(s.db.Update(func(tx *bolt.Tx) error {
		return putInfo(tx, info)
	}))
}

// wrap leaves domain errors alone and marks database failures as
// ErrStoreUnavailable.
func (s *Store) wrap(err error) error {
	if err == nil || errors.Is(err, ErrSessionNotFound) || errors.Is(err, ErrStoreUnavailable) {
		return err
	}
	return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
}

func getInfo(tx *bolt.Tx, id string) (Info, error) {
	v := tx.Bucket(sessionsBucket).Get([]byte(id))
	if v == nil {
		return Info{}, fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	var info Info
	if err := json.Unmarshal(v, &info); err != nil {
		return Info{}, fmt.Errorf("decode session %s: %w", id, err)
	}
	return info, nil
}

func putInfo(tx *bolt.Tx, info Info) error {
	enc, err := json.Marshal(info)
	if err != nil {
		return err
	}
	return tx.Bucket(sessionsBucket).Put([]byte(info.ID), enc)
}

func seqKey(seq uint64) []byte {
	key := make([]byte, 8)
	binary.BigEndian.PutUint64(key, seq)
	return key
}
