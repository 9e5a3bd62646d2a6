// Command quizplay takes a quiz in the terminal against a quiz server.
//
//	quizplay <quiz-id> [exam|practice]
package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	auth "github.com/mind-engage/mindengage-quiz/internal/auth/middleware"
	"github.com/mind-engage/mindengage-quiz/internal/config"
	"github.com/mind-engage/mindengage-quiz/internal/db"
	"github.com/mind-engage/mindengage-quiz/internal/player"
	"github.com/mind-engage/mindengage-quiz/internal/quiz"
	"github.com/mind-engage/mindengage-quiz/internal/quizclient"
	"github.com/mind-engage/mindengage-quiz/internal/snapshot"
)

func main() { os.Exit(realMain()) }

func realMain() int {
	if len(os.Args) < 2 {
		fmt.Fprintln(os.Stderr, "usage: quizplay <quiz-id> [exam|practice]")
		return 2
	}
	cfg := config.FromEnv()
	log := config.NewLogger(cfg.LogLevel, cfg.LogFormat)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	backend, closeBackend, err := openSnapshots(ctx, cfg)
	if err != nil {
		log.WithError(err).WithField("driver", cfg.SnapshotDriver).Error("snapshot store")
		return 1
	}
	defer closeBackend()

	var mode quiz.Mode
	if len(os.Args) > 2 {
		mode, _ = quiz.ParseMode(os.Args[2])
	}
	out := &syncWriter{w: os.Stdout}
	if err := run(ctx, os.Stdin, out, log, player.Config{
		QuizID:           os.Args[1],
		UserID:           playerUser(cfg, log),
		InitialMode:      mode,
		AutoSaveInterval: cfg.AutoSaveInterval,
		TickInterval:     cfg.TickInterval,
		Logger:           log,
	}, player.Deps{
		Service: quizclient.New(cfg.APIURL, cfg.APIToken, quizclient.WithLogger(log)),
		Store:   snapshot.NewStore(backend, snapshot.WithLogger(log)),
	}); err != nil {
		log.WithError(err).Error("quizplay")
		return 1
	}
	return 0
}

// playerUser keys local snapshots by the token's subject so they follow the
// identity the server sees. QUIZ_USER only applies without a token.
func playerUser(cfg config.Config, log logrus.FieldLogger) string {
	sub := auth.SubjectOf(cfg.APIToken)
	if sub == "" {
		return cfg.UserID
	}
	if cfg.UserID != sub {
		log.WithFields(logrus.Fields{"quiz_user": cfg.UserID, "token_sub": sub}).Debug("using token subject for snapshots")
	}
	return sub
}

// run drives one machine from line-based input until the user quits, the
// input ends or ctx is cancelled.
func run(ctx context.Context, in io.Reader, out io.Writer, log logrus.FieldLogger, cfg player.Config, deps player.Deps) error {
	done := make(chan struct{})
	var (
		m    *player.Machine
		once sync.Once
	)
	m = player.New(cfg, deps, player.Callbacks{
		OnTimeUp: func() { fmt.Fprintln(out, "Time is up.") },
		OnQuizComplete: func(player.Results) {
			once.Do(func() {
				render(out, m.State())
				close(done)
			})
		},
	})
	defer m.Close(context.Background())

	if err := m.Mount(ctx); err != nil {
		return errors.Wrap(err, "mount")
	}
	render(out, m.State())
	s := &session{m: m, out: out}

	lines := make(chan string)
	go func() {
		defer close(lines)
		sc := bufio.NewScanner(in)
		for sc.Scan() {
			lines <- sc.Text()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			m.Suspend(context.Background())
			return nil
		case <-done:
			return nil
		case line, ok := <-lines:
			if !ok {
				m.Suspend(context.Background())
				return nil
			}
			quit, err := s.handle(ctx, line)
			if quit {
				fmt.Fprintln(out, "Progress saved.")
				return nil
			}
			if err != nil {
				log.WithError(err).Debug("command failed")
				fmt.Fprintf(out, "! %s\n", err)
			}
			select {
			case <-done:
				return nil
			default:
				render(out, m.State())
			}
		}
	}
}

func openSnapshots(ctx context.Context, cfg config.Config) (snapshot.Backend, func(), error) {
	noop := func() {}
	switch cfg.SnapshotDriver {
	case "memory":
		return snapshot.NewMemoryBackend(), noop, nil
	case "fs", "":
		b, err := snapshot.NewFSBackend(cfg.SnapshotDir)
		return b, noop, err
	case "sql":
		dbh, err := db.Open(ctx, db.Driver(cfg.DBDriver), cfg.DBDSN)
		if err != nil {
			return nil, noop, err
		}
		return snapshot.NewSQLBackend(dbh), func() { dbh.Close() }, nil
	case "redis":
		rc := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword, DB: cfg.RedisDB})
		if err := rc.Ping(ctx).Err(); err != nil {
			rc.Close()
			return nil, noop, errors.Wrap(err, "redis ping")
		}
		return snapshot.NewRedisBackend(rc, cfg.SnapshotTTL), func() { rc.Close() }, nil
	}
	return nil, noop, errors.Errorf("unknown snapshot driver %q", cfg.SnapshotDriver)
}
