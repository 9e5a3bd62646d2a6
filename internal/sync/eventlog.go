package syncx

import (
	"context"
	"database/sql"
	"encoding/json"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
)

const (
	AttemptStarted   = "AttemptStarted"
	AttemptSubmitted = "AttemptSubmitted"
	AttemptFinalized = "AttemptFinalized"
	AttemptReviewed  = "AttemptReviewed"
	AttemptAbandoned = "AttemptAbandoned"
	QuizPublished    = "QuizPublished"
)

type Event struct {
	Seq       int64           `json:"seq"`
	ID        string          `json:"id"`
	SiteID    string          `json:"site_id"`
	Type      string          `json:"type"`
	Key       string          `json:"key"`
	Data      json.RawMessage `json:"data"`
	CreatedAt int64           `json:"created_at"`
}

// NewEvent builds an event with a fresh id and a JSON payload.
func NewEvent(typ, key string, payload any) (Event, error) {
	buf, err := json.Marshal(payload)
	if err != nil {
		return Event{}, errors.Wrapf(err, "encode %s payload", typ)
	}
	return Event{ID: uuid.NewString(), Type: typ, Key: key, Data: buf}, nil
}

type ListOpts struct {
	AfterSeq int64
	// Query matches type or key by substring.
	Query string
	Limit int
}

func (o ListOpts) limit() int {
	if o.Limit <= 0 || o.Limit > 500 {
		return 100
	}
	return o.Limit
}

// Log is an append-only record of attempt lifecycle events.
type Log interface {
	Append(ctx context.Context, e Event) error
	List(ctx context.Context, opts ListOpts) ([]Event, error)
}

type EventRepo struct {
	db     *sql.DB
	siteID string
}

func NewEventRepo(db *sql.DB, siteID string) *EventRepo {
	if siteID == "" {
		siteID = "local"
	}
	return &EventRepo{db: db, siteID: siteID}
}

func (r *EventRepo) Append(ctx context.Context, e Event) error {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	data := map[string]json.RawMessage{"event_id": mustRaw(e.ID), "payload": e.Data}
	if len(e.Data) == 0 {
		data["payload"] = json.RawMessage("null")
	}
	buf, err := json.Marshal(data)
	if err != nil {
		return errors.Wrap(err, "encode event")
	}
	_, err = r.db.ExecContext(ctx,
		`INSERT INTO event_log (site_id, typ, key, data, created_at)
		 VALUES ($1,$2,$3,$4,$5)`,
		r.siteID, e.Type, e.Key, string(buf), time.Now().Unix())
	return errors.Wrap(err, "append event")
}

func (r *EventRepo) List(ctx context.Context, opts ListOpts) ([]Event, error) {
	q := "%" + strings.TrimSpace(opts.Query) + "%"
	rows, err := r.db.QueryContext(ctx,
		`SELECT seq, site_id, typ, key, data, created_at FROM event_log
		 WHERE seq > $1 AND (typ LIKE $2 OR key LIKE $3)
		 ORDER BY seq ASC LIMIT $4`, opts.AfterSeq, q, q, opts.limit())
	if err != nil {
		return nil, errors.Wrap(err, "list events")
	}
	defer rows.Close()

	var out []Event
	for rows.Next() {
		var (
			e    Event
			data string
		)
		if err := rows.Scan(&e.Seq, &e.SiteID, &e.Type, &e.Key, &data, &e.CreatedAt); err != nil {
			return nil, errors.Wrap(err, "scan event")
		}
		var env struct {
			EventID string          `json:"event_id"`
			Payload json.RawMessage `json:"payload"`
		}
		if err := json.Unmarshal([]byte(data), &env); err == nil {
			e.ID, e.Data = env.EventID, env.Payload
		} else {
			e.Data = json.RawMessage(data)
		}
		out = append(out, e)
	}
	return out, errors.Wrap(rows.Err(), "list events")
}

func mustRaw(s string) json.RawMessage {
	b, _ := json.Marshal(s)
	return b
}

// MemoryLog keeps events in process, for tests and the in-memory store.
type MemoryLog struct {
	mu     sync.Mutex
	events []Event
}

func NewMemoryLog() *MemoryLog { return &MemoryLog{} }

func (m *MemoryLog) Append(_ context.Context, e Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	e.Seq = int64(len(m.events) + 1)
	e.SiteID = "local"
	e.CreatedAt = time.Now().Unix()
	m.events = append(m.events, e)
	return nil
}

func (m *MemoryLog) List(_ context.Context, opts ListOpts) ([]Event, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Event
	for _, e := range m.events {
		if e.Seq <= opts.AfterSeq {
			continue
		}
		if opts.Query != "" && !strings.Contains(e.Type, opts.Query) && !strings.Contains(e.Key, opts.Query) {
			continue
		}
		out = append(out, e)
		if len(out) == opts.limit() {
			break
		}
	}
	return out, nil
}
