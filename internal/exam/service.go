package exam

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"k8s.io/utils/clock"

	"github.com/mind-engage/mindengage-quiz/internal/grading"
	"github.com/mind-engage/mindengage-quiz/internal/quiz"
	syncx "github.com/mind-engage/mindengage-quiz/internal/sync"
)

// Service implements the attempt lifecycle on top of a Store.
type Service struct {
	store  Store
	events syncx.Log
	clock  clock.PassiveClock
	log    logrus.FieldLogger
	newID  func() string

	// mu serializes read-modify-write cycles on attempts.
	mu sync.Mutex
}

type Option func(*Service)

func WithEventLog(l syncx.Log) Option { return func(s *Service) { s.events = l } }

func WithClock(c clock.PassiveClock) Option { return func(s *Service) { s.clock = c } }

func WithLogger(l logrus.FieldLogger) Option { return func(s *Service) { s.log = l } }

// WithIDs replaces the attempt id generator.
func WithIDs(f func() string) Option { return func(s *Service) { s.newID = f } }

func NewService(store Store, opts ...Option) *Service {
	s := &Service{
		store: store,
		clock: clock.RealClock{},
		log:   logrus.StandardLogger(),
		newID: uuid.NewString,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// PutQuiz validates and stores a quiz definition.
func (s *Service) PutQuiz(ctx context.Context, qz quiz.Quiz) error {
	if err := quiz.ValidateDefinition(qz).Err(); err != nil {
		return err
	}
	if err := s.store.PutQuiz(ctx, qz); err != nil {
		return err
	}
	s.emit(ctx, syncx.QuizPublished, qz.ID, map[string]any{"title": qz.Title, "questions": len(qz.Questions)})
	return nil
}

func (s *Service) ListQuizzes(ctx context.Context, opts ListOpts) ([]QuizSummary, error) {
	return s.store.ListQuizzes(ctx, opts)
}

// GetQuiz returns the full quiz including answer keys, for authors.
func (s *Service) GetQuiz(ctx context.Context, quizID string) (quiz.Quiz, error) {
	return s.store.GetQuiz(ctx, quizID)
}

// GetQuizForTaking returns the quiz without answer keys together with the
// user's attempts, most recent first.
func (s *Service) GetQuizForTaking(ctx context.Context, quizID, userID string) (quiz.ForTaking, error) {
	qz, err := s.store.GetQuiz(ctx, quizID)
	if err != nil {
		return quiz.ForTaking{}, err
	}
	attempts, err := s.store.ListAttempts(ctx, AttemptListOpts{QuizID: quizID, UserID: userID})
	if err != nil {
		return quiz.ForTaking{}, err
	}
	out := quiz.ForTaking{Quiz: qz.Stripped(), Attempts: make([]quiz.AttemptSummary, 0, len(attempts))}
	for _, a := range attempts {
		out.Attempts = append(out.Attempts, a.Summary())
	}
	return out, nil
}

// StartAttempt returns the user's open attempt if there is one, otherwise
// opens a new attempt unless the quiz's attempt allowance is used up. With
// fresh set the open attempt is abandoned first; abandoned attempts count
// against the allowance.
func (s *Service) StartAttempt(ctx context.Context, quizID, userID string, fresh bool) (Attempt, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	qz, err := s.store.GetQuiz(ctx, quizID)
	if err != nil {
		return Attempt{}, err
	}
	existing, err := s.store.ListAttempts(ctx, AttemptListOpts{QuizID: quizID, UserID: userID})
	if err != nil {
		return Attempt{}, err
	}
	var open *Attempt
	for i := range existing {
		if !existing[i].Closed() {
			open = &existing[i]
			break
		}
	}
	if open != nil && !fresh {
		return *open, nil
	}
	if qz.AttemptsAllowed > 0 && len(existing) >= qz.AttemptsAllowed {
		return Attempt{}, ErrAttemptLimit
	}
	if open != nil {
		if _, err := s.closeAttempt(ctx, *open, qz, quiz.AttemptAbandoned, syncx.AttemptAbandoned); err != nil {
			return Attempt{}, err
		}
	}

	a := Attempt{
		ID:        s.newID(),
		QuizID:    quizID,
		UserID:    userID,
		Status:    quiz.AttemptInProgress,
		Answers:   map[string]quiz.GradedAnswer{},
		StartedAt: s.clock.Now().UTC(),
	}
	if err := s.store.CreateAttempt(ctx, a); err != nil {
		return Attempt{}, err
	}
	s.log.WithFields(logrus.Fields{"quiz_id": quizID, "user_id": userID, "attempt_id": a.ID}).Info("attempt started")
	s.emit(ctx, syncx.AttemptStarted, a.ID, map[string]any{"quiz_id": quizID, "user_id": userID})
	return a, nil
}

// openAttempt loads an attempt for the given quiz and user and checks it
// still accepts answers. An empty userID skips the ownership check.
func (s *Service) openAttempt(ctx context.Context, quizID, attemptID, userID string) (Attempt, quiz.Quiz, error) {
	a, err := s.store.GetAttempt(ctx, attemptID)
	if err != nil {
		return Attempt{}, quiz.Quiz{}, err
	}
	if a.QuizID != quizID {
		return Attempt{}, quiz.Quiz{}, errors.Wrapf(ErrNotFound, "attempt %s of quiz %s", attemptID, quizID)
	}
	if userID != "" && a.UserID != userID {
		return Attempt{}, quiz.Quiz{}, ErrForbidden
	}
	if a.Closed() {
		return Attempt{}, quiz.Quiz{}, ErrAttemptClosed
	}
	qz, err := s.store.GetQuiz(ctx, quizID)
	if err != nil {
		return Attempt{}, quiz.Quiz{}, err
	}
	return a, qz, nil
}

// SubmitAnswer records and grades a single answer, as used by practice mode.
// Quizzes without instant feedback reject it so their keys stay hidden.
func (s *Service) SubmitAnswer(ctx context.Context, quizID, attemptID, userID, questionID string, ans quiz.Answer) (quiz.AnswerFeedback, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	a, qz, err := s.openAttempt(ctx, quizID, attemptID, userID)
	if err != nil {
		return quiz.AnswerFeedback{}, err
	}
	if !qz.InstantFeedbackEnabled {
		return quiz.AnswerFeedback{}, ErrFeedbackDisabled
	}
	q, ok := qz.Question(questionID)
	if !ok {
		return quiz.AnswerFeedback{}, errors.Wrap(quiz.ErrUnknownQuestion, questionID)
	}
	ga := gradeOne(q, ans)
	a.Answers[q.ID] = ga
	if err := s.store.UpdateAttempt(ctx, a); err != nil {
		return quiz.AnswerFeedback{}, err
	}

	fb := quiz.AnswerFeedback{
		IsCorrect:         ga.IsCorrect,
		Explanation:       q.Explanation,
		PointsEarned:      ga.PointsEarned,
		CurrentScore:      grading.ScoreAnswered(qz.Questions, answersOf(a)).ScorePercentage,
		AnsweredQuestions: len(a.Answers),
		TotalQuestions:    len(qz.Questions),
	}
	if !q.NeedsReview() {
		fb.CorrectAnswer = q.CorrectAnswer
	}
	return fb, nil
}

// SubmitAttempt closes the attempt with exactly the given answers. Answers
// recorded earlier through SubmitAnswer are replaced, not merged.
func (s *Service) SubmitAttempt(ctx context.Context, quizID, attemptID, userID string, answers []quiz.SubmittedAnswer) (quiz.AttemptResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	a, qz, err := s.openAttempt(ctx, quizID, attemptID, userID)
	if err != nil {
		return quiz.AttemptResult{}, err
	}
	batch := make(map[string]quiz.GradedAnswer, len(answers))
	for _, sa := range answers {
		q, ok := qz.Question(sa.QuestionID)
		if !ok {
			return quiz.AttemptResult{}, errors.Wrap(quiz.ErrUnknownQuestion, sa.QuestionID)
		}
		batch[q.ID] = gradeOne(q, sa.Answer)
	}
	a.Answers = batch
	return s.closeAttempt(ctx, a, qz, quiz.AttemptSubmitted, syncx.AttemptSubmitted)
}

// FinalizeAttempt closes an attempt whose answers were submitted one by one.
func (s *Service) FinalizeAttempt(ctx context.Context, quizID, attemptID, userID string) (quiz.AttemptResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	a, qz, err := s.openAttempt(ctx, quizID, attemptID, userID)
	if err != nil {
		return quiz.AttemptResult{}, err
	}
	for _, q := range qz.Questions {
		if _, ok := a.Answers[q.ID]; !ok {
			return quiz.AttemptResult{}, ErrIncomplete
		}
	}
	return s.closeAttempt(ctx, a, qz, quiz.AttemptFinalized, syncx.AttemptFinalized)
}

func (s *Service) closeAttempt(ctx context.Context, a Attempt, qz quiz.Quiz, status, event string) (quiz.AttemptResult, error) {
	// regrade so the stored answers and the score agree
	for id, ga := range a.Answers {
		if q, ok := qz.Question(id); ok {
			a.Answers[id] = gradeOne(q, ga.Answer)
		}
	}
	rescore(qz, &a)
	if status == quiz.AttemptAbandoned {
		a.Passed = false
	}
	now := s.clock.Now().UTC()
	a.Status = status
	a.SubmittedAt = &now
	if err := s.store.UpdateAttempt(ctx, a); err != nil {
		return quiz.AttemptResult{}, err
	}
	s.log.WithFields(logrus.Fields{
		"attempt_id": a.ID,
		"status":     status,
		"score":      a.Score,
		"passed":     a.Passed,
	}).Info("attempt closed")
	s.emit(ctx, event, a.ID, map[string]any{"score": a.Score, "passed": a.Passed, "unreviewed": a.HasUnreviewedQuestions})
	return a.Result(qz), nil
}

func (s *Service) GetAttempt(ctx context.Context, attemptID string) (Attempt, error) {
	return s.store.GetAttempt(ctx, attemptID)
}

// GetResult renders an attempt with its quiz. Answer keys are only included
// once the attempt is closed.
func (s *Service) GetResult(ctx context.Context, attemptID string) (quiz.AttemptResult, error) {
	a, err := s.store.GetAttempt(ctx, attemptID)
	if err != nil {
		return quiz.AttemptResult{}, err
	}
	qz, err := s.store.GetQuiz(ctx, a.QuizID)
	if err != nil {
		return quiz.AttemptResult{}, err
	}
	if !a.Closed() {
		qz = qz.Stripped()
	}
	return a.Result(qz), nil
}

func (s *Service) ListAttempts(ctx context.Context, opts AttemptListOpts) ([]Attempt, error) {
	return s.store.ListAttempts(ctx, opts)
}

// ApplyManualGrades records a reviewer's points for answers that need a
// person to grade them. Once nothing is left to review the score covers
// every question and pass/fail is decided.
func (s *Service) ApplyManualGrades(ctx context.Context, attemptID string, updates map[string]ManualGradeInput, gradedBy string) (Attempt, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	a, err := s.store.GetAttempt(ctx, attemptID)
	if err != nil {
		return Attempt{}, err
	}
	if !a.Closed() {
		return Attempt{}, ErrAttemptOpen
	}
	qz, err := s.store.GetQuiz(ctx, a.QuizID)
	if err != nil {
		return Attempt{}, err
	}
	for qid, in := range updates {
		q, ok := qz.Question(qid)
		if !ok {
			return Attempt{}, errors.Wrap(quiz.ErrUnknownQuestion, qid)
		}
		if in.ManualPoints < 0 || in.ManualPoints > q.Points {
			return Attempt{}, errors.Wrapf(ErrInvalidGrade, "%s: %d of %d", qid, in.ManualPoints, q.Points)
		}
		ga, ok := a.Answers[qid]
		if !ok {
			ga = quiz.GradedAnswer{QuestionID: qid, Answer: quiz.NormalizeAnswer(q, quiz.Single(""))}
		}
		pts := in.ManualPoints
		ga.ManualPoints = &pts
		ga.PointsEarned = pts
		ga.IsCorrect = quiz.BoolPtr(pts == q.Points)
		ga.NeedsReview = false
		ga.Comment = in.Comment
		a.Answers[qid] = ga
	}
	rescore(qz, &a)
	if err := s.store.UpdateAttempt(ctx, a); err != nil {
		return Attempt{}, err
	}
	s.emit(ctx, syncx.AttemptReviewed, a.ID, map[string]any{"graded_by": gradedBy, "questions": len(updates), "score": a.Score})
	return a, nil
}

func (s *Service) emit(ctx context.Context, typ, key string, payload any) {
	if s.events == nil {
		return
	}
	ev, err := syncx.NewEvent(typ, key, payload)
	if err == nil {
		err = s.events.Append(ctx, ev)
	}
	if err != nil {
		s.log.WithError(err).WithField("event", typ).Warn("event log append failed")
	}
}

func gradeOne(q quiz.Question, ans quiz.Answer) quiz.GradedAnswer {
	ans = quiz.NormalizeAnswer(q, ans)
	r := grading.ScoreQuestion(q, ans)
	return quiz.GradedAnswer{
		QuestionID:   q.ID,
		Answer:       ans,
		IsCorrect:    r.IsCorrect,
		PointsEarned: r.PointsEarned,
		NeedsReview:  r.NeedsReview,
	}
}

func answersOf(a Attempt) quiz.Answers {
	out := make(quiz.Answers, len(a.Answers))
	for id, ga := range a.Answers {
		out[id] = ga.Answer
	}
	return out
}

// rescore recomputes the attempt score. While anything awaits review the
// score covers auto-graded questions only; afterwards it covers all points.
func rescore(qz quiz.Quiz, a *Attempt) {
	var earned, autoEarned, autoTotal int
	unreviewed := false
	for _, q := range qz.Questions {
		ga, answered := a.Answers[q.ID]
		switch {
		case !answered && q.NeedsReview():
			unreviewed = true
		case !answered:
			autoTotal += q.Points
		case ga.NeedsReview:
			unreviewed = true
		case ga.ManualPoints != nil:
			earned += ga.PointsEarned
		default:
			earned += ga.PointsEarned
			autoEarned += ga.PointsEarned
			autoTotal += q.Points
		}
	}
	a.HasUnreviewedQuestions = unreviewed
	if unreviewed {
		a.Score = grading.Percentage(autoEarned, autoTotal)
	} else {
		a.Score = grading.Percentage(earned, qz.TotalPoints())
	}
	a.Passed = grading.IsPassed(a.Score, qz.PassingScore, unreviewed)
}
