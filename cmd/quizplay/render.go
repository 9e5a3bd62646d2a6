package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/mind-engage/mindengage-quiz/internal/player"
	"github.com/mind-engage/mindengage-quiz/internal/quiz"
)

func render(w io.Writer, v player.View) {
	switch v.Phase {
	case player.PhaseModeSelection:
		renderModeSelection(w, v)
	case player.PhaseResumePending:
		renderResume(w, v)
	case player.PhaseInProgress:
		renderQuestion(w, v)
	case player.PhaseSubmitting:
		fmt.Fprintln(w, "Submitting...")
	case player.PhaseCompleted:
		if v.Results != nil {
			renderResults(w, *v.Results)
		}
	}
	if v.Error != "" {
		fmt.Fprintf(w, "! %s\n", v.Error)
	}
}

func renderModeSelection(w io.Writer, v player.View) {
	if v.Quiz == nil {
		return
	}
	fmt.Fprintf(w, "%s (%d questions", v.Quiz.Title, len(v.Quiz.Questions))
	if d := v.Quiz.DurationSeconds(); d > 0 {
		fmt.Fprintf(w, ", %s", clockFace(d))
	}
	fmt.Fprintln(w, ")")
	for _, a := range v.Attempts {
		fmt.Fprintf(w, "  previous attempt %s: %s, score %d%%\n", a.StartedAt.Format("2006-01-02 15:04"), a.Status, a.Score)
	}
	fmt.Fprintln(w, "Choose a mode: exam | practice")
}

func renderResume(w io.Writer, v player.View) {
	s := v.Resumable
	if s == nil {
		return
	}
	fmt.Fprintf(w, "Unfinished %s attempt saved %s: %d answered, at question %d.\n",
		s.Mode, s.LastSavedAt.Format("2006-01-02 15:04"), len(s.Answers), s.CurrentQuestionIndex+1)
	if s.TimerState.Duration > 0 {
		fmt.Fprintf(w, "Time left: %s\n", clockFace(s.TimerState.TimeLeft))
	}
	fmt.Fprintln(w, "r = resume, exam | practice = start over")
}

func renderQuestion(w io.Writer, v player.View) {
	q, ok := v.CurrentQuestion()
	if !ok {
		return
	}
	header := fmt.Sprintf("[%s] Question %d/%d  answered %d/%d", v.Mode, v.CurrentQuestionIndex+1, len(v.Quiz.Questions), v.AnsweredCount, len(v.Quiz.Questions))
	if v.IsFlagged(q.ID) {
		header += "  (flagged)"
	}
	fmt.Fprintln(w, header)
	if line := timerLine(v); line != "" {
		fmt.Fprintln(w, line)
	}

	fmt.Fprintf(w, "%s  (%d pt)\n", q.Question, q.Points)
	ans, answered := v.Answers[q.ID]
	selected := map[string]struct{}{}
	if answered {
		selected = ans.Set()
	}
	for _, o := range q.Options {
		mark := " "
		if _, ok := selected[o]; ok {
			mark = "*"
		}
		fmt.Fprintf(w, "  %s %s\n", mark, o)
	}
	if q.Type == quiz.TrueFalse && len(q.Options) == 0 {
		fmt.Fprintln(w, "  true | false")
	}
	if answered && len(q.Options) == 0 {
		fmt.Fprintf(w, "  your answer: %s\n", ans)
	}

	if v.Mode == quiz.ModePractice {
		if v.IsPending(q.ID) {
			fmt.Fprintln(w, "  grading...")
		} else if fb, ok := v.Feedback[q.ID]; ok {
			renderFeedback(w, fb)
		}
	}
	fmt.Fprintln(w, "n next, p previous, g <i> go to, f flag, a <answer> answer, s submit, q save & quit")
}

func renderFeedback(w io.Writer, fb player.Feedback) {
	switch {
	case fb.IsCorrect == nil:
		fmt.Fprintln(w, "  Submitted for review.")
	case *fb.IsCorrect:
		fmt.Fprintf(w, "  Correct! +%d\n", fb.PointsEarned)
	default:
		fmt.Fprintf(w, "  Incorrect (+%d).", fb.PointsEarned)
		if fb.CorrectAnswer != "" {
			fmt.Fprintf(w, " Correct answer: %s", fb.CorrectAnswer)
		}
		fmt.Fprintln(w)
	}
	if fb.Explanation != "" {
		fmt.Fprintf(w, "  %s\n", fb.Explanation)
	}
	fmt.Fprintf(w, "  Running score %d%% (%d/%d answered)\n", fb.CurrentScore, fb.AnsweredQuestions, fb.TotalQuestions)
}

func timerLine(v player.View) string {
	t := v.Timer
	if !t.Timed() {
		return ""
	}
	line := "Time left " + clockFace(t.TimeLeft)
	switch {
	case !t.IsRunning && !t.IsPaused && t.Elapsed == 0:
		line += " (not started, t to start)"
	case v.IsCriticalTime:
		line += "  LESS THAN A MINUTE"
	case v.IsLowTime:
		line += "  running low"
	}
	return line
}

func renderResults(w io.Writer, r player.Results) {
	fmt.Fprintln(w, strings.Repeat("-", 32))
	fmt.Fprintf(w, "Score: %d%%\n", r.Score)
	switch {
	case r.HasUnreviewedQuestions:
		fmt.Fprintln(w, "Some answers are awaiting review; the final result may change.")
	case r.Passed:
		fmt.Fprintln(w, "Passed")
	default:
		fmt.Fprintln(w, "Not passed")
	}
	fmt.Fprintf(w, "Time spent: %s\n", clockFace(r.TimeSpent))
	if r.Local {
		fmt.Fprintln(w, "(scored offline)")
	}
}

func renderValidation(w io.Writer, rep quiz.ValidationReport) {
	for _, e := range rep.Errors {
		fmt.Fprintf(w, "  error: %s\n", e)
	}
	for _, e := range rep.Warnings {
		fmt.Fprintf(w, "  warning: %s\n", e)
	}
}

func clockFace(seconds int) string {
	if seconds < 0 {
		seconds = 0
	}
	if seconds >= 3600 {
		return fmt.Sprintf("%d:%02d:%02d", seconds/3600, seconds/60%60, seconds%60)
	}
	return fmt.Sprintf("%02d:%02d", seconds/60, seconds%60)
}
