package player

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"k8s.io/utils/clock"

	"github.com/mind-engage/mindengage-quiz/internal/grading"
	"github.com/mind-engage/mindengage-quiz/internal/quiz"
	"github.com/mind-engage/mindengage-quiz/internal/snapshot"
	"github.com/mind-engage/mindengage-quiz/internal/timer"
)

// Machine is the quiz-taking state machine. Every exported method is an
// atomic transition; service calls run outside the lock.
type Machine struct {
	mu    sync.Mutex
	cfg   Config
	svc   QuizService
	store *snapshot.Store
	cb    Callbacks
	clock clock.WithTicker
	log   logrus.FieldLogger
	timer *timer.Timer

	phase     Phase
	quiz      *quiz.Quiz
	attempts  []quiz.AttemptSummary
	mode      quiz.Mode
	attemptID string
	index     int
	answers   quiz.Answers
	flagged   map[string]struct{}
	analytics map[string]quiz.QuestionAnalytics
	spent     map[string]time.Duration
	feedback  map[string]Feedback
	pending   map[string]struct{}
	startedAt time.Time
	enteredAt time.Time
	resumable *snapshot.Snapshot
	results   *Results
	errMsg    string
	dirty     bool
	starting  bool
	// autoSubmitted latches the exam time-up submission for one session.
	autoSubmitted bool

	// persistMu orders snapshot writes against deletes.
	persistMu sync.Mutex
	saveStop  chan struct{}
}

func New(cfg Config, deps Deps, cb Callbacks) *Machine {
	if cfg.Clock == nil {
		cfg.Clock = clock.RealClock{}
	}
	if cfg.AutoSaveInterval <= 0 {
		cfg.AutoSaveInterval = DefaultAutoSaveInterval
	}
	if cfg.Logger == nil {
		cfg.Logger = logrus.StandardLogger()
	}
	if cfg.QuizID == "" && cfg.InitialQuizData != nil {
		cfg.QuizID = cfg.InitialQuizData.ID
	}
	store := deps.Store
	if store == nil {
		store = snapshot.NewStore(snapshot.NewMemoryBackend(), snapshot.WithClock(cfg.Clock), snapshot.WithLogger(cfg.Logger))
	}
	m := &Machine{
		cfg:   cfg,
		svc:   deps.Service,
		store: store,
		cb:    cb,
		clock: cfg.Clock,
		log: cfg.Logger.WithFields(logrus.Fields{
			"quiz_id": cfg.QuizID,
			"user_id": cfg.UserID,
		}),
		phase: PhaseUninitialized,
	}
	m.timer = timer.New(timer.Options{
		Clock:    cfg.Clock,
		Interval: cfg.TickInterval,
		OnTick:   m.onTick,
		OnTimeUp: m.onTimeUp,
	})
	m.clearSessionLocked()
	return m
}

// Mount loads the quiz and decides between resume, mode selection and an
// immediate start with the configured initial mode. It also starts the
// auto-save loop.
func (m *Machine) Mount(ctx context.Context) error {
	m.mu.Lock()
	if m.phase != PhaseUninitialized {
		m.mu.Unlock()
		return ErrWrongPhase
	}
	m.mu.Unlock()

	var (
		qz       quiz.Quiz
		attempts []quiz.AttemptSummary
	)
	switch {
	case m.cfg.InitialQuizData != nil:
		qz = *m.cfg.InitialQuizData
	case m.svc != nil:
		ft, err := m.svc.GetQuizForTaking(ctx, m.cfg.QuizID)
		if err != nil {
			return m.fail(errors.Wrap(err, "load quiz"))
		}
		qz, attempts = ft.Quiz, ft.Attempts
	default:
		return ErrNoQuiz
	}
	qz.Normalize()

	var snap *snapshot.Snapshot
	if m.cfg.InitialQuizData == nil {
		snap = m.store.Load(ctx, m.cfg.UserID, m.cfg.QuizID)
		if snap != nil && closedAttempt(attempts, snap.AttemptID) {
			m.log.WithField("attempt_id", snap.AttemptID).Info("discarding snapshot of a closed attempt")
			m.deleteSnapshot(ctx)
			snap = nil
		}
	}

	m.mu.Lock()
	m.quiz = &qz
	m.attempts = attempts
	m.errMsg = ""
	switch {
	case snap != nil:
		m.phase = PhaseResumePending
		m.resumable = snap
	default:
		m.phase = PhaseModeSelection
	}
	m.startAutoSaveLocked()
	initial := m.cfg.InitialMode
	if !qz.InstantFeedbackEnabled {
		// exam is the only mode, so there is nothing to choose
		initial = quiz.ModeExam
	}
	phase := m.phase
	m.mu.Unlock()
	m.notify()

	if phase == PhaseModeSelection && initial.Valid() {
		return m.ChooseMode(ctx, initial)
	}
	return nil
}

func closedAttempt(attempts []quiz.AttemptSummary, attemptID string) bool {
	if attemptID == "" {
		return false
	}
	for _, a := range attempts {
		if a.ID == attemptID {
			return a.Status != quiz.AttemptInProgress
		}
	}
	return false
}

// ChooseMode starts an attempt in the given mode. From ModeSelection the
// server may hand back the user's open attempt; from ResumePending the saved
// attempt is discarded and the server abandons it for a new one.
func (m *Machine) ChooseMode(ctx context.Context, mode quiz.Mode) error {
	if !mode.Valid() {
		return errors.Errorf("invalid mode %q", mode)
	}
	m.mu.Lock()
	if m.phase != PhaseModeSelection && m.phase != PhaseResumePending {
		m.mu.Unlock()
		return ErrWrongPhase
	}
	if m.starting {
		m.mu.Unlock()
		return ErrBusy
	}
	if mode == quiz.ModePractice && !m.quiz.InstantFeedbackEnabled {
		m.mu.Unlock()
		return ErrPracticeDisabled
	}
	m.starting = true
	discard := m.resumable != nil
	m.resumable = nil
	if discard {
		m.phase = PhaseModeSelection
	}
	qz := *m.quiz
	m.mu.Unlock()

	if discard {
		m.deleteSnapshot(ctx)
	}

	var attemptID string
	if m.svc != nil {
		id, err := m.svc.StartAttempt(ctx, qz.ID, discard)
		if err != nil {
			m.mu.Lock()
			m.starting = false
			m.mu.Unlock()
			return m.fail(errors.Wrap(err, "start attempt"))
		}
		attemptID = id
	}

	m.mu.Lock()
	m.starting = false
	m.initializeLocked(qz, mode, attemptID)
	m.mu.Unlock()
	m.log.WithFields(logrus.Fields{"mode": mode, "attempt_id": attemptID}).Info("attempt started")
	m.notify()
	return nil
}

// Restart is ChooseMode from the resume prompt.
func (m *Machine) Restart(ctx context.Context, mode quiz.Mode) error {
	return m.ChooseMode(ctx, mode)
}

// InitializeQuiz resets the session and enters InProgress with the given
// quiz and mode. Exam mode starts the countdown when the quiz is timed.
func (m *Machine) InitializeQuiz(qz quiz.Quiz, mode quiz.Mode, existingAttemptID string) error {
	if !mode.Valid() {
		return errors.Errorf("invalid mode %q", mode)
	}
	if mode == quiz.ModePractice && !qz.InstantFeedbackEnabled {
		return ErrPracticeDisabled
	}
	qz.Normalize()
	m.mu.Lock()
	if m.phase == PhaseSubmitting {
		m.mu.Unlock()
		return ErrBusy
	}
	m.initializeLocked(qz, mode, existingAttemptID)
	m.mu.Unlock()
	m.notify()
	return nil
}

func (m *Machine) initializeLocked(qz quiz.Quiz, mode quiz.Mode, attemptID string) {
	m.clearSessionLocked()
	now := m.clock.Now()
	m.quiz = &qz
	m.mode = mode
	m.attemptID = attemptID
	m.startedAt = now
	m.enteredAt = now
	m.phase = PhaseInProgress
	m.dirty = true

	m.timer.SetDuration(qz.DurationSeconds())
	if mode == quiz.ModeExam {
		m.timer.Start()
	}
}

// Resume restores the saved attempt offered by Mount.
func (m *Machine) Resume(ctx context.Context) error {
	m.mu.Lock()
	if m.phase != PhaseResumePending || m.resumable == nil {
		m.mu.Unlock()
		return ErrWrongPhase
	}
	snap := m.resumable
	qz := *m.quiz
	if snap.Mode == quiz.ModePractice && !qz.InstantFeedbackEnabled {
		m.mu.Unlock()
		return ErrPracticeDisabled
	}
	m.clearSessionLocked()
	m.quiz = &qz
	m.mode = snap.Mode
	m.attemptID = snap.AttemptID
	m.index = clamp(snap.CurrentQuestionIndex, len(qz.Questions))
	for id, a := range snap.Answers {
		if q, ok := qz.Question(id); ok {
			m.answers[id] = quiz.NormalizeAnswer(q, a)
		}
	}
	for id, a := range snap.QuestionAnalytics {
		m.analytics[id] = a.Clone()
		m.spent[id] = time.Duration(a.TimeSpent) * time.Second
	}
	for _, id := range snap.FlaggedQuestions {
		m.flagged[id] = struct{}{}
	}
	m.startedAt = snap.StartedAt
	if m.startedAt.IsZero() {
		m.startedAt = m.clock.Now()
	}
	m.enteredAt = m.clock.Now()
	m.phase = PhaseInProgress

	ts := snap.TimerState
	duration := ts.Duration
	if duration <= 0 {
		duration = qz.DurationSeconds()
	}
	m.timer.SetDuration(duration)
	m.timer.Restore(timer.State{
		Duration:  duration,
		TimeLeft:  ts.TimeLeft,
		Elapsed:   ts.Elapsed,
		IsRunning: ts.IsRunning,
		IsPaused:  ts.IsPaused,
	})
	m.dirty = true
	m.mu.Unlock()

	m.log.WithField("attempt_id", snap.AttemptID).Info("attempt resumed")
	m.notify()
	return nil
}

func clamp(i, n int) int {
	if i < 0 || n == 0 {
		return 0
	}
	if i >= n {
		return n - 1
	}
	return i
}

// StartTimer starts the advisory countdown of a timed practice attempt.
// Exam attempts start their countdown on initialization.
func (m *Machine) StartTimer() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.phase != PhaseInProgress {
		return
	}
	m.timer.Start()
	m.dirty = true
}

// AnswerQuestion records an answer. In practice mode the answer is graded
// right away, locally first and then by the service when an attempt exists.
func (m *Machine) AnswerQuestion(ctx context.Context, questionID string, a quiz.Answer) error {
	m.mu.Lock()
	if m.phase != PhaseInProgress {
		m.mu.Unlock()
		return ErrNotInProgress
	}
	q, ok := m.quiz.Question(questionID)
	if !ok {
		m.mu.Unlock()
		return errors.Wrap(quiz.ErrUnknownQuestion, questionID)
	}
	if _, busy := m.pending[questionID]; busy {
		m.mu.Unlock()
		return ErrQuestionPending
	}

	a = quiz.NormalizeAnswer(q, a)
	now := m.clock.Now()
	m.answers[questionID] = a
	local := grading.Feedback(q, a)
	m.recordAnswerLocked(q, a, local.IsCorrect, now)
	m.dirty = true
	m.errMsg = ""

	var call bool
	quizID, attemptID := m.quiz.ID, m.attemptID
	if m.mode == quiz.ModePractice {
		m.feedback[questionID] = m.localFeedbackLocked(q, a, local)
		if m.svc != nil && attemptID != "" {
			m.pending[questionID] = struct{}{}
			call = true
		}
	}
	m.mu.Unlock()
	m.notify()

	if !call {
		return nil
	}

	res, err := m.svc.SubmitAnswer(ctx, quizID, attemptID, questionID, a)

	m.mu.Lock()
	delete(m.pending, questionID)
	if m.phase != PhaseInProgress || m.attemptID != attemptID {
		m.mu.Unlock()
		m.notify()
		return nil
	}
	if err != nil {
		m.errMsg = err.Error()
		m.mu.Unlock()
		m.log.WithError(err).WithField("question_id", questionID).Warn("answer grading failed")
		m.notify()
		return errors.Wrap(err, "submit answer")
	}
	m.feedback[questionID] = Feedback{
		IsCorrect:         res.IsCorrect,
		CorrectAnswer:     res.CorrectAnswer,
		Explanation:       res.Explanation,
		PointsEarned:      res.PointsEarned,
		CurrentScore:      res.CurrentScore,
		SelectedAnswer:    a,
		AnsweredQuestions: res.AnsweredQuestions,
		TotalQuestions:    res.TotalQuestions,
		Confirmed:         true,
	}
	if an, ok := m.analytics[questionID]; ok {
		an.IsCorrect = res.IsCorrect
		m.analytics[questionID] = an
	}
	m.dirty = true
	m.mu.Unlock()
	m.notify()
	return nil
}

func (m *Machine) recordAnswerLocked(q quiz.Question, a quiz.Answer, isCorrect *bool, now time.Time) {
	if m.index < len(m.quiz.Questions) && m.quiz.Questions[m.index].ID == q.ID {
		m.accrueLocked(now)
	}
	an := m.analytics[q.ID]
	an.Attempts++
	an.IsCorrect = isCorrect
	seen := make(map[string]struct{}, len(an.ChosenOptions))
	for _, o := range an.ChosenOptions {
		seen[o] = struct{}{}
	}
	for _, o := range a.Strings() {
		if _, ok := seen[o]; !ok {
			an.ChosenOptions = append(an.ChosenOptions, o)
			seen[o] = struct{}{}
		}
	}
	t := now
	if an.FirstAnsweredAt == nil {
		an.FirstAnsweredAt = &t
	}
	an.LastAnsweredAt = &t
	an.TimeSpent = int(m.spent[q.ID] / time.Second)
	m.analytics[q.ID] = an
}

func (m *Machine) localFeedbackLocked(q quiz.Question, a quiz.Answer, r grading.QuestionResult) Feedback {
	fb := Feedback{
		IsCorrect:         r.IsCorrect,
		PointsEarned:      r.PointsEarned,
		SelectedAnswer:    a,
		AnsweredQuestions: len(m.answers),
		TotalQuestions:    len(m.quiz.Questions),
		CurrentScore:      grading.ScoreAnswered(m.quiz.Questions, m.answers).ScorePercentage,
	}
	if q.HasKey() {
		fb.CorrectAnswer = q.CorrectAnswer
		fb.Explanation = q.Explanation
	}
	return fb
}

// accrueLocked charges the time since the current question was entered.
func (m *Machine) accrueLocked(now time.Time) {
	if m.quiz == nil || m.index >= len(m.quiz.Questions) {
		return
	}
	id := m.quiz.Questions[m.index].ID
	if d := now.Sub(m.enteredAt); d > 0 {
		m.spent[id] += d
	}
	m.enteredAt = now
	if an, ok := m.analytics[id]; ok {
		an.TimeSpent = int(m.spent[id] / time.Second)
		m.analytics[id] = an
	}
}

// NavigateToQuestion moves to question i. Out of range indexes are ignored.
func (m *Machine) NavigateToQuestion(i int) {
	m.mu.Lock()
	changed := m.navigateLocked(i)
	m.mu.Unlock()
	if changed {
		m.notify()
	}
}

func (m *Machine) NextQuestion() {
	m.mu.Lock()
	changed := m.navigateLocked(m.index + 1)
	m.mu.Unlock()
	if changed {
		m.notify()
	}
}

func (m *Machine) PreviousQuestion() {
	m.mu.Lock()
	changed := m.navigateLocked(m.index - 1)
	m.mu.Unlock()
	if changed {
		m.notify()
	}
}

func (m *Machine) navigateLocked(i int) bool {
	if m.phase != PhaseInProgress || i < 0 || i >= len(m.quiz.Questions) || i == m.index {
		return false
	}
	m.accrueLocked(m.clock.Now())
	m.index = i
	m.dirty = true
	return true
}

// ToggleFlagQuestion flips the review flag of a question.
func (m *Machine) ToggleFlagQuestion(questionID string) error {
	m.mu.Lock()
	if m.phase != PhaseInProgress {
		m.mu.Unlock()
		return ErrNotInProgress
	}
	if m.quiz.Index(questionID) < 0 {
		m.mu.Unlock()
		return errors.Wrap(quiz.ErrUnknownQuestion, questionID)
	}
	if _, ok := m.flagged[questionID]; ok {
		delete(m.flagged, questionID)
	} else {
		m.flagged[questionID] = struct{}{}
	}
	m.dirty = true
	m.mu.Unlock()
	m.notify()
	return nil
}

// Validate runs the pre-submission checks over the current answers.
func (m *Machine) Validate() quiz.ValidationReport {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.quiz == nil {
		return quiz.ValidationReport{}
	}
	return quiz.Validate(*m.quiz, m.answers)
}

// SubmitQuiz sends every answer in one batch. Without a service or an
// attempt the quiz is scored locally.
func (m *Machine) SubmitQuiz(ctx context.Context) error {
	return m.submit(ctx, false)
}

// FinalizeQuizAttempt closes an attempt whose answers were already graded
// one by one. Every question must be answered.
func (m *Machine) FinalizeQuizAttempt(ctx context.Context) error {
	return m.submit(ctx, true)
}

func (m *Machine) submit(ctx context.Context, finalize bool) error {
	m.mu.Lock()
	switch {
	case m.phase == PhaseSubmitting:
		m.mu.Unlock()
		return ErrBusy
	case m.phase != PhaseInProgress:
		m.mu.Unlock()
		return ErrNotInProgress
	case finalize && len(m.answers) < len(m.quiz.Questions):
		m.mu.Unlock()
		return ErrIncomplete
	}
	m.phase = PhaseSubmitting
	m.errMsg = ""
	qz := *m.quiz
	answers := m.answers.Clone()
	attemptID := m.attemptID
	m.mu.Unlock()
	m.notify()

	var (
		res   quiz.AttemptResult
		err   error
		local bool
	)
	switch {
	case m.svc == nil || attemptID == "":
		res, local = scoreLocally(qz, answers, attemptID), true
	case finalize:
		res, err = m.svc.FinalizeAttempt(ctx, qz.ID, attemptID)
	default:
		res, err = m.svc.SubmitAttempt(ctx, qz.ID, attemptID, answers.List(qz))
	}
	return m.complete(ctx, res, err, local)
}

func scoreLocally(qz quiz.Quiz, answers quiz.Answers, attemptID string) quiz.AttemptResult {
	sr := grading.ScoreQuiz(qz.Questions, answers)
	out := quiz.AttemptResult{
		AttemptID:              attemptID,
		Score:                  sr.ScorePercentage,
		Passed:                 grading.IsPassed(sr.ScorePercentage, qz.PassingScore, sr.HasUnreviewedQuestions),
		HasUnreviewedQuestions: sr.HasUnreviewedQuestions,
		Quiz:                   qz,
	}
	for _, q := range qz.Questions {
		a, ok := answers[q.ID]
		if !ok {
			continue
		}
		qr := sr.Questions[q.ID]
		out.Answers = append(out.Answers, quiz.GradedAnswer{
			QuestionID:   q.ID,
			Answer:       a,
			IsCorrect:    qr.IsCorrect,
			PointsEarned: qr.PointsEarned,
			NeedsReview:  qr.NeedsReview,
		})
	}
	return out
}

func (m *Machine) complete(ctx context.Context, res quiz.AttemptResult, err error, local bool) error {
	m.mu.Lock()
	if m.phase != PhaseSubmitting {
		m.mu.Unlock()
		return err
	}
	if err != nil {
		m.phase = PhaseInProgress
		m.errMsg = err.Error()
		attemptID := m.attemptID
		m.mu.Unlock()
		m.log.WithError(err).WithField("attempt_id", attemptID).Warn("submission failed")
		m.notify()
		return errors.Wrap(err, "submit attempt")
	}

	now := m.clock.Now()
	m.accrueLocked(now)
	ts := m.timer.State()
	m.timer.Stop()
	spent := int(now.Sub(m.startedAt) / time.Second)
	if ts.Timed() && ts.Elapsed > 0 {
		spent = ts.Elapsed
	}
	attemptID := res.AttemptID
	if attemptID == "" {
		attemptID = m.attemptID
	}
	results := Results{
		AttemptID:              attemptID,
		Mode:                   m.mode,
		Score:                  res.Score,
		Passed:                 res.Passed,
		HasUnreviewedQuestions: res.HasUnreviewedQuestions,
		Answers:                m.answers.Clone(),
		Graded:                 res.Answers,
		Analytics:              cloneAnalytics(m.analytics),
		TimeSpent:              spent,
		Local:                  local,
	}
	m.results = &results
	m.phase = PhaseCompleted
	m.dirty = false
	m.mu.Unlock()

	m.deleteSnapshot(ctx)
	m.log.WithFields(logrus.Fields{
		"attempt_id": attemptID,
		"score":      results.Score,
		"passed":     results.Passed,
	}).Info("attempt completed")
	if m.cb.OnQuizComplete != nil {
		m.cb.OnQuizComplete(results)
	}
	m.notify()
	return nil
}

// ResetQuiz drops the session and its snapshot and returns to Uninitialized.
func (m *Machine) ResetQuiz(ctx context.Context) error {
	m.mu.Lock()
	if m.phase == PhaseSubmitting {
		m.mu.Unlock()
		return ErrBusy
	}
	m.timer.SetDuration(0)
	m.clearSessionLocked()
	m.quiz = nil
	m.attempts = nil
	m.phase = PhaseUninitialized
	m.mu.Unlock()

	m.deleteSnapshot(ctx)
	m.notify()
	return nil
}

func (m *Machine) clearSessionLocked() {
	m.mode = ""
	m.attemptID = ""
	m.index = 0
	m.answers = quiz.Answers{}
	m.flagged = map[string]struct{}{}
	m.analytics = map[string]quiz.QuestionAnalytics{}
	m.spent = map[string]time.Duration{}
	m.feedback = map[string]Feedback{}
	m.pending = map[string]struct{}{}
	m.startedAt = time.Time{}
	m.resumable = nil
	m.results = nil
	m.errMsg = ""
	m.dirty = false
	m.autoSubmitted = false
}

func (m *Machine) ClearError() {
	m.mu.Lock()
	m.errMsg = ""
	m.mu.Unlock()
	m.notify()
}

// Flush writes a snapshot of the attempt now. It is a no-op unless an
// attempt is in progress.
func (m *Machine) Flush(ctx context.Context) {
	m.persistMu.Lock()
	defer m.persistMu.Unlock()
	m.mu.Lock()
	if m.phase != PhaseInProgress {
		m.mu.Unlock()
		return
	}
	snap := m.snapshotLocked()
	m.dirty = false
	m.mu.Unlock()
	m.store.Save(ctx, snap)
}

func (m *Machine) deleteSnapshot(ctx context.Context) {
	m.persistMu.Lock()
	defer m.persistMu.Unlock()
	m.store.Delete(ctx, m.cfg.UserID, m.cfg.QuizID)
}

// Suspend is the host hook for page hide, backgrounding and unload.
func (m *Machine) Suspend(ctx context.Context) { m.Flush(ctx) }

// Close flushes the attempt and stops the tick and auto-save loops. The
// countdown continues from the saved time left on resume.
func (m *Machine) Close(ctx context.Context) {
	m.Flush(ctx)
	m.mu.Lock()
	m.timer.Stop()
	if m.saveStop != nil {
		close(m.saveStop)
		m.saveStop = nil
	}
	m.mu.Unlock()
}

func (m *Machine) snapshotLocked() snapshot.Snapshot {
	m.accrueLocked(m.clock.Now())
	ts := m.timer.State()
	flagged := make([]string, 0, len(m.flagged))
	for id := range m.flagged {
		flagged = append(flagged, id)
	}
	sort.Strings(flagged)
	return snapshot.Snapshot{
		AttemptID:            m.attemptID,
		Mode:                 m.mode,
		QuizID:               m.cfg.QuizID,
		UserID:               m.cfg.UserID,
		CurrentQuestionIndex: m.index,
		Answers:              m.answers.Clone(),
		FlaggedQuestions:     flagged,
		StartedAt:            m.startedAt,
		TimerState: snapshot.TimerState{
			Duration:  ts.Duration,
			TimeLeft:  ts.TimeLeft,
			Elapsed:   ts.Elapsed,
			IsRunning: ts.IsRunning,
			IsPaused:  ts.IsPaused,
		},
		QuestionAnalytics: cloneAnalytics(m.analytics),
	}
}

func (m *Machine) startAutoSaveLocked() {
	if m.saveStop != nil {
		return
	}
	stop := make(chan struct{})
	m.saveStop = stop
	tk := m.clock.NewTicker(m.cfg.AutoSaveInterval)
	go func() {
		defer tk.Stop()
		for {
			select {
			case <-stop:
				return
			case <-tk.C():
				m.mu.Lock()
				due := m.dirty && m.phase == PhaseInProgress
				m.mu.Unlock()
				if due {
					m.Flush(context.Background())
				}
			}
		}
	}()
}

func (m *Machine) onTick(timer.Tick) {
	m.mu.Lock()
	if m.phase == PhaseInProgress {
		m.dirty = true
	}
	m.mu.Unlock()
	m.notify()
}

// onTimeUp reports to the host and, in exam mode, submits once.
func (m *Machine) onTimeUp() {
	m.mu.Lock()
	submit := m.mode == quiz.ModeExam && m.phase == PhaseInProgress && !m.autoSubmitted
	if submit {
		m.autoSubmitted = true
	}
	m.mu.Unlock()

	m.log.WithField("auto_submit", submit).Info("time is up")
	if m.cb.OnTimeUp != nil {
		m.cb.OnTimeUp()
	}
	if !submit {
		return
	}
	if err := m.SubmitQuiz(context.Background()); err != nil && !errors.Is(err, ErrBusy) {
		m.log.WithError(err).Warn("auto submit failed")
	}
}

func (m *Machine) notify() {
	if m.cb.OnChange != nil {
		m.cb.OnChange()
	}
}

// fail records a service error for display and returns it.
func (m *Machine) fail(err error) error {
	m.mu.Lock()
	m.errMsg = err.Error()
	m.mu.Unlock()
	m.log.WithError(err).Warn("quiz service call failed")
	m.notify()
	return err
}

// State returns a copy of everything a host needs to render.
func (m *Machine) State() View {
	m.mu.Lock()
	defer m.mu.Unlock()

	v := View{
		Phase:                m.phase,
		Attempts:             append([]quiz.AttemptSummary(nil), m.attempts...),
		Mode:                 m.mode,
		AttemptID:            m.attemptID,
		CurrentQuestionIndex: m.index,
		Answers:              m.answers.Clone(),
		Analytics:            cloneAnalytics(m.analytics),
		Feedback:             make(map[string]Feedback, len(m.feedback)),
		StartedAt:            m.startedAt,
		Timer:                m.timer.State(),
		AnsweredCount:        len(m.answers),
		Error:                m.errMsg,
		Busy:                 m.phase == PhaseSubmitting || m.starting,
	}
	v.IsLowTime = v.Timer.IsLowTime()
	v.IsCriticalTime = v.Timer.IsCriticalTime()
	if m.quiz != nil {
		qz := *m.quiz
		qz.Questions = append([]quiz.Question(nil), m.quiz.Questions...)
		v.Quiz = &qz
		v.LocalScore = grading.ScoreQuiz(qz.Questions, m.answers)
	}
	for id := range m.flagged {
		v.Flagged = append(v.Flagged, id)
	}
	sort.Strings(v.Flagged)
	for id := range m.pending {
		v.PendingQuestions = append(v.PendingQuestions, id)
	}
	sort.Strings(v.PendingQuestions)
	for id, fb := range m.feedback {
		v.Feedback[id] = fb
	}
	if m.resumable != nil {
		s := *m.resumable
		v.Resumable = &s
	}
	if m.results != nil {
		r := *m.results
		v.Results = &r
	}
	return v
}

func cloneAnalytics(in map[string]quiz.QuestionAnalytics) map[string]quiz.QuestionAnalytics {
	out := make(map[string]quiz.QuestionAnalytics, len(in))
	for k, v := range in {
		out[k] = v.Clone()
	}
	return out
}
