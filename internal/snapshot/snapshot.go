// Package snapshot persists in-progress attempts so a student can resume
// after a reload. Persistence is best effort: Store never returns errors.
package snapshot

import (
	"context"
	"encoding/json"
	"errors"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"k8s.io/utils/clock"

	"github.com/mind-engage/mindengage-quiz/internal/quiz"
)

// SchemaVersion is written into every saved snapshot. Payloads without a
// version field are read as version 0.
const SchemaVersion = 1

const keyPrefix = "quizplayer:attempt:"

var ErrNotFound = errors.New("snapshot not found")

type TimerState struct {
	Duration  int  `json:"duration,omitempty"`
	TimeLeft  int  `json:"timeLeft"`
	Elapsed   int  `json:"elapsed"`
	IsRunning bool `json:"isRunning"`
	IsPaused  bool `json:"isPaused"`
}

type Snapshot struct {
	Version              int                               `json:"version"`
	AttemptID            string                            `json:"attemptId,omitempty"`
	Mode                 quiz.Mode                         `json:"mode"`
	QuizID               string                            `json:"quizId"`
	UserID               string                            `json:"userId"`
	CurrentQuestionIndex int                               `json:"currentQuestionIndex"`
	Answers              quiz.Answers                      `json:"answers"`
	FlaggedQuestions     []string                          `json:"flaggedQuestions,omitempty"`
	StartedAt            time.Time                         `json:"startedAt"`
	LastSavedAt          time.Time                         `json:"lastSavedAt"`
	TimerState           TimerState                        `json:"timerState"`
	QuestionAnalytics    map[string]quiz.QuestionAnalytics `json:"questionAnalytics,omitempty"`
}

// Backend is raw key/value storage for encoded snapshots. Get returns
// ErrNotFound for missing keys.
type Backend interface {
	Put(ctx context.Context, key string, data []byte) error
	Get(ctx context.Context, key string) ([]byte, error)
	Delete(ctx context.Context, key string) error
	Keys(ctx context.Context, prefix string) ([]string, error)
}

// Key derives the storage key for a (user, quiz) pair.
func Key(userID, quizID string) string {
	return userPrefix(userID) + url.QueryEscape(quizID)
}

func userPrefix(userID string) string {
	return keyPrefix + url.QueryEscape(userID) + ":"
}

type Store struct {
	backend Backend
	clock   clock.PassiveClock
	log     logrus.FieldLogger
}

type Option func(*Store)

func WithClock(c clock.PassiveClock) Option { return func(s *Store) { s.clock = c } }
func WithLogger(l logrus.FieldLogger) Option { return func(s *Store) { s.log = l } }

func NewStore(b Backend, opts ...Option) *Store {
	s := &Store{backend: b, clock: clock.RealClock{}, log: logrus.StandardLogger()}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Save upserts the snapshot, stamping LastSavedAt and the schema version.
// Failures are logged and dropped.
func (s *Store) Save(ctx context.Context, snap Snapshot) {
	snap.Version = SchemaVersion
	snap.LastSavedAt = s.clock.Now().UTC()
	key := Key(snap.UserID, snap.QuizID)
	buf, err := json.Marshal(snap)
	if err != nil {
		s.log.WithError(err).WithField("key", key).Warn("snapshot encode failed")
		return
	}
	if err := s.backend.Put(ctx, key, buf); err != nil {
		s.log.WithError(err).WithField("key", key).Warn("snapshot save failed")
	}
}

// Load returns nil when nothing usable is stored.
func (s *Store) Load(ctx context.Context, userID, quizID string) *Snapshot {
	return s.loadKey(ctx, Key(userID, quizID))
}

func (s *Store) loadKey(ctx context.Context, key string) *Snapshot {
	buf, err := s.backend.Get(ctx, key)
	if err != nil {
		if !errors.Is(err, ErrNotFound) {
			s.log.WithError(err).WithField("key", key).Warn("snapshot load failed")
		}
		return nil
	}
	snap, err := decode(buf)
	if err != nil {
		s.log.WithError(err).WithField("key", key).Warn("discarding malformed snapshot")
		return nil
	}
	return snap
}

func (s *Store) Delete(ctx context.Context, userID, quizID string) {
	key := Key(userID, quizID)
	if err := s.backend.Delete(ctx, key); err != nil && !errors.Is(err, ErrNotFound) {
		s.log.WithError(err).WithField("key", key).Warn("snapshot delete failed")
	}
}

func (s *Store) Exists(ctx context.Context, userID, quizID string) bool {
	return s.Load(ctx, userID, quizID) != nil
}

// ListAll returns every readable snapshot of a user, most recent first.
func (s *Store) ListAll(ctx context.Context, userID string) []Snapshot {
	keys, err := s.backend.Keys(ctx, userPrefix(userID))
	if err != nil {
		s.log.WithError(err).WithField("user_id", userID).Warn("snapshot scan failed")
		return nil
	}
	out := make([]Snapshot, 0, len(keys))
	for _, k := range keys {
		if snap := s.loadKey(ctx, k); snap != nil {
			out = append(out, *snap)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].LastSavedAt.After(out[j].LastSavedAt) })
	return out
}

func decode(buf []byte) (*Snapshot, error) {
	var snap Snapshot
	if err := json.Unmarshal(buf, &snap); err != nil {
		return nil, err
	}
	if snap.Version > SchemaVersion {
		return nil, errors.New("snapshot written by a newer schema")
	}
	if snap.QuizID == "" || snap.UserID == "" || !snap.Mode.Valid() {
		return nil, errors.New("snapshot missing identity fields")
	}
	if snap.Answers == nil {
		snap.Answers = quiz.Answers{}
	}
	return &snap, nil
}

func hasPrefix(key, prefix string) bool { return strings.HasPrefix(key, prefix) }
