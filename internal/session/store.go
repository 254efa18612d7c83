package session

import (
	"sync"
	"time"
)

// Upload references an image a user sent but has not had analyzed yet. Only
// the Telegram file ID is kept; the bytes are fetched when analysis starts.
type Upload struct {
	FileID   string
	FileName string
	MimeType string
}

type Session struct {
	ChatID       int64
	Uploads      []Upload
	LastActivity time.Time
}

type Options struct {
	MaxUploads int
	TTL        time.Duration
}

// Store holds pending uploads per chat, in memory only.
type Store struct {
	mu         sync.Mutex
	sessions   map[int64]*Session
	maxUploads int
	ttl        time.Duration
	now        func() time.Time
}

func NewStore(opts Options) *Store {
	maxUploads := opts.MaxUploads
	if maxUploads <= 0 {
		maxUploads = 10
	}

	ttl := opts.TTL
	if ttl <= 0 {
		ttl = time.Hour
	}

	return &Store{
		sessions:   make(map[int64]*Session),
		maxUploads: maxUploads,
		ttl:        ttl,
		now:        time.Now,
	}
}

// Add stages uploads for chatID, keeping only the most recent MaxUploads, and
// returns how many are now pending.
func (s *Store) Add(chatID int64, uploads ...Upload) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.pruneLocked()

	sess, ok := s.sessions[chatID]
	if !ok {
		sess = &Session{ChatID: chatID}
		s.sessions[chatID] = sess
	}
	sess.LastActivity = s.now()

	sess.Uploads = append(sess.Uploads, uploads...)
	if len(sess.Uploads) > s.maxUploads {
		sess.Uploads = sess.Uploads[len(sess.Uploads)-s.maxUploads:]
	}
	return len(sess.Uploads)
}

// Take removes and returns the pending uploads for chatID.
func (s *Store) Take(chatID int64) []Upload {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[chatID]
	if !ok {
		return nil
	}
	delete(s.sessions, chatID)

	if s.now().Sub(sess.LastActivity) > s.ttl {
		return nil
	}
	return sess.Uploads
}

func (s *Store) Pending(chatID int64) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	if sess, ok := s.sessions[chatID]; ok {
		return len(sess.Uploads)
	}
	return 0
}

func (s *Store) Clear(chatID int64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.sessions, chatID)
}

func (s *Store) pruneLocked() {
	now := s.now()
	for id, sess := range s.sessions {
		if now.Sub(sess.LastActivity) > s.ttl {
			delete(s.sessions, id)
		}
	}
}
