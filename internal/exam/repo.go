package exam

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"

	"github.com/mind-engage/mindengage-quiz/internal/quiz"
)

type ListOpts struct {
	Q      string
	Limit  int
	Offset int
}

type AttemptListOpts struct {
	QuizID string // filter by quiz
	UserID string // filter by student
	Status string // optional: in_progress|submitted|finalized
	Limit  int
	Offset int
}

// Store persists quizzes and attempts. Business rules live in Service.
type Store interface {
	PutQuiz(ctx context.Context, qz quiz.Quiz) error
	// GetQuiz returns the full quiz including answer keys.
	GetQuiz(ctx context.Context, id string) (quiz.Quiz, error)
	ListQuizzes(ctx context.Context, opts ListOpts) ([]QuizSummary, error)

	CreateAttempt(ctx context.Context, a Attempt) error
	UpdateAttempt(ctx context.Context, a Attempt) error
	GetAttempt(ctx context.Context, id string) (Attempt, error)
	ListAttempts(ctx context.Context, opts AttemptListOpts) ([]Attempt, error)
}

type storedQuiz struct {
	quiz      quiz.Quiz
	createdAt int64
}

type memoryStore struct {
	mu       sync.RWMutex
	quizzes  map[string]storedQuiz
	attempts map[string]Attempt
}

func NewInMemoryStore() Store {
	return &memoryStore{
		quizzes:  map[string]storedQuiz{},
		attempts: map[string]Attempt{},
	}
}

func (m *memoryStore) PutQuiz(_ context.Context, qz quiz.Quiz) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	created := time.Now().Unix()
	if prev, ok := m.quizzes[qz.ID]; ok {
		created = prev.createdAt
	}
	m.quizzes[qz.ID] = storedQuiz{quiz: qz, createdAt: created}
	return nil
}

func (m *memoryStore) GetQuiz(_ context.Context, id string) (quiz.Quiz, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	sq, ok := m.quizzes[id]
	if !ok {
		return quiz.Quiz{}, errors.Wrapf(ErrNotFound, "quiz %s", id)
	}
	return sq.quiz, nil
}

func (m *memoryStore) ListQuizzes(_ context.Context, opts ListOpts) ([]QuizSummary, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]QuizSummary, 0, len(m.quizzes))
	for _, sq := range m.quizzes {
		if opts.Q != "" && !strings.Contains(strings.ToLower(sq.quiz.Title), strings.ToLower(opts.Q)) {
			continue
		}
		out = append(out, summarize(sq.quiz, sq.createdAt))
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt != out[j].CreatedAt {
			return out[i].CreatedAt > out[j].CreatedAt
		}
		return out[i].ID < out[j].ID
	})
	return page(out, opts.Offset, opts.Limit), nil
}

func (m *memoryStore) CreateAttempt(_ context.Context, a Attempt) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.quizzes[a.QuizID]; !ok {
		return errors.Wrapf(ErrNotFound, "quiz %s", a.QuizID)
	}
	m.attempts[a.ID] = cloneAttempt(a)
	return nil
}

func (m *memoryStore) UpdateAttempt(_ context.Context, a Attempt) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.attempts[a.ID]; !ok {
		return errors.Wrapf(ErrNotFound, "attempt %s", a.ID)
	}
	m.attempts[a.ID] = cloneAttempt(a)
	return nil
}

func (m *memoryStore) GetAttempt(_ context.Context, id string) (Attempt, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	a, ok := m.attempts[id]
	if !ok {
		return Attempt{}, errors.Wrapf(ErrNotFound, "attempt %s", id)
	}
	return cloneAttempt(a), nil
}

func (m *memoryStore) ListAttempts(_ context.Context, opts AttemptListOpts) ([]Attempt, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []Attempt
	for _, a := range m.attempts {
		if opts.QuizID != "" && a.QuizID != opts.QuizID {
			continue
		}
		if opts.UserID != "" && a.UserID != opts.UserID {
			continue
		}
		if opts.Status != "" && a.Status != opts.Status {
			continue
		}
		out = append(out, cloneAttempt(a))
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].StartedAt.Equal(out[j].StartedAt) {
			return out[i].StartedAt.After(out[j].StartedAt)
		}
		return out[i].ID < out[j].ID
	})
	return page(out, opts.Offset, opts.Limit), nil
}

func cloneAttempt(a Attempt) Attempt {
	out := a
	out.Answers = make(map[string]quiz.GradedAnswer, len(a.Answers))
	for k, v := range a.Answers {
		out.Answers[k] = v
	}
	if a.SubmittedAt != nil {
		t := *a.SubmittedAt
		out.SubmittedAt = &t
	}
	return out
}

func page[T any](in []T, offset, limit int) []T {
	if offset < 0 {
		offset = 0
	}
	if offset >= len(in) {
		return []T{}
	}
	in = in[offset:]
	if limit > 0 && limit < len(in) {
		in = in[:limit]
	}
	return in
}
