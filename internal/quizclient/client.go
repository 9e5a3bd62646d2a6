// Package quizclient talks to the quiz REST API on behalf of a player host.
package quizclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/mind-engage/mindengage-quiz/internal/quiz"
)

// APIError is a non-2xx response. Message is the server's error text.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("quiz api: %d %s", e.Status, http.StatusText(e.Status))
	}
	return e.Message
}

// StatusOf returns the HTTP status behind err, or 0 for transport errors.
func StatusOf(err error) int {
	var ae *APIError
	if errors.As(err, &ae) {
		return ae.Status
	}
	return 0
}

type Client struct {
	base  string
	token string
	hc    *http.Client
	log   logrus.FieldLogger
}

type Option func(*Client)

func WithHTTPClient(hc *http.Client) Option { return func(c *Client) { c.hc = hc } }

func WithLogger(l logrus.FieldLogger) Option { return func(c *Client) { c.log = l } }

func New(baseURL, token string, opts ...Option) *Client {
	c := &Client{
		base:  strings.TrimSuffix(baseURL, "/"),
		token: token,
		hc:    &http.Client{Timeout: 30 * time.Second},
		log:   logrus.StandardLogger(),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

func (c *Client) GetQuizForTaking(ctx context.Context, quizID string) (quiz.ForTaking, error) {
	var out quiz.ForTaking
	err := c.do(ctx, http.MethodGet, "/quizzes/"+url.PathEscape(quizID)+"/take", nil, &out)
	return out, err
}

// StartAttempt opens an attempt. fresh abandons the user's open attempt
// instead of continuing it.
func (c *Client) StartAttempt(ctx context.Context, quizID string, fresh bool) (string, error) {
	path := "/quizzes/" + url.PathEscape(quizID) + "/attempts"
	if fresh {
		path += "?fresh=true"
	}
	var out quiz.AttemptSummary
	if err := c.do(ctx, http.MethodPost, path, nil, &out); err != nil {
		return "", err
	}
	if out.ID == "" {
		return "", errors.New("start attempt: empty attempt id")
	}
	return out.ID, nil
}

func (c *Client) SubmitAnswer(ctx context.Context, quizID, attemptID, questionID string, a quiz.Answer) (quiz.AnswerFeedback, error) {
	var out quiz.AnswerFeedback
	err := c.do(ctx, http.MethodPost, attemptPath(quizID, attemptID)+"/answers",
		quiz.SubmittedAnswer{QuestionID: questionID, Answer: a}, &out)
	return out, err
}

func (c *Client) SubmitAttempt(ctx context.Context, quizID, attemptID string, answers []quiz.SubmittedAnswer) (quiz.AttemptResult, error) {
	if answers == nil {
		answers = []quiz.SubmittedAnswer{}
	}
	var out quiz.AttemptResult
	err := c.do(ctx, http.MethodPost, attemptPath(quizID, attemptID)+"/submit",
		map[string]any{"answers": answers}, &out)
	return out, err
}

func (c *Client) FinalizeAttempt(ctx context.Context, quizID, attemptID string) (quiz.AttemptResult, error) {
	var out quiz.AttemptResult
	err := c.do(ctx, http.MethodPost, attemptPath(quizID, attemptID)+"/finalize", nil, &out)
	return out, err
}

func attemptPath(quizID, attemptID string) string {
	return "/quizzes/" + url.PathEscape(quizID) + "/attempts/" + url.PathEscape(attemptID)
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var rd io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			return errors.Wrapf(err, "encode %s", path)
		}
		rd = bytes.NewReader(buf)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.base+path, rd)
	if err != nil {
		return errors.Wrapf(err, "build %s %s", method, path)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.hc.Do(req)
	if err != nil {
		return errors.Wrapf(err, "%s %s", method, path)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4<<10))
		apiErr := &APIError{Status: resp.StatusCode, Message: strings.TrimSpace(string(msg))}
		c.log.WithFields(logrus.Fields{"method": method, "path": path, "status": resp.StatusCode}).Debug("quiz api error")
		return apiErr
	}
	if out == nil {
		return nil
	}
	return errors.Wrapf(json.NewDecoder(resp.Body).Decode(out), "decode %s", path)
}
