package logx

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"tweetrelay/internal/transport"
)

type Config struct {
	Level    string
	Console  bool
	File     FileConfig
	Telegram TelegramConfig
}

type FileConfig struct {
	Enabled bool
	Path    string
}

// TelegramConfig controls operator alerts. They go to the operator chat set
// with SetTelegramTarget, never to the relayed channel.
type TelegramConfig struct {
	Enabled    bool
	MinLevel   string
	RatePerSec int
	// RepeatWindow is how long an alert for the same failure stays muted
	// (0 = 10m).
	RepeatWindow time.Duration
}

// Service owns the sinks and swaps them when the logging config changes.
type Service struct {
	root atomic.Pointer[zerolog.Logger]

	mu     sync.Mutex
	file   *os.File
	alerts *alertSink
	sender transport.Sender
	stop   context.CancelFunc
	done   chan struct{}
}

// New builds the service, applies cfg and returns the root logger. sender
// delivers operator alerts; nil disables them.
func New(cfg Config, sender transport.Sender) (*Service, Logger) {
	s := &Service{
		sender: sender,
		alerts: newAlertSink(),
	}
	s.Apply(cfg)
	return s, Logger{root: &s.root}
}

// SetTelegramTarget sets the operator chat. A zero target mutes alerts.
func (s *Service) SetTelegramTarget(to transport.ChatTarget) {
	s.alerts.setTarget(to)
}

// Apply rebuilds the outputs from cfg. Safe for concurrent use.
func (s *Service) Apply(cfg Config) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.file != nil {
		_ = s.file.Close()
		s.file = nil
	}

	var writers []io.Writer
	if cfg.Console {
		writers = append(writers, consoleWriter())
	}
	if cfg.File.Enabled {
		path := strings.TrimSpace(cfg.File.Path)
		if path == "" {
			path = "./tweetrelay.log"
		}
		f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
		if err != nil {
			fmt.Fprintf(os.Stderr, "logx: open log file %q: %v\n", path, err)
		} else {
			s.file = f
			writers = append(writers, zerolog.SyncWriter(f))
		}
	}

	tg := cfg.Telegram
	s.alerts.configure(parseLevel(tg.MinLevel, zerolog.WarnLevel), tg.RatePerSec, tg.RepeatWindow)
	if tg.Enabled && s.sender != nil {
		if s.stop == nil {
			ctx, cancel := context.WithCancel(context.Background())
			s.stop = cancel
			s.done = make(chan struct{})
			go func() {
				defer close(s.done)
				s.alerts.deliver(ctx, s.sender)
			}()
		}
		writers = append(writers, s.alerts)
		if s.alerts.target().IsZero() {
			fmt.Fprintln(os.Stderr, "logx: telegram alerts enabled but logging.telegram.chat is not set")
		}
	}

	if len(writers) == 0 {
		writers = append(writers, consoleWriter())
	}
	zl := zerolog.New(zerolog.MultiLevelWriter(writers...)).
		Level(parseLevel(cfg.Level, zerolog.InfoLevel)).
		With().Timestamp().Logger()
	s.root.Store(&zl)
}

// Close stops alert delivery and closes the log file. Queued alerts that
// were not sent yet are dropped.
func (s *Service) Close() error {
	s.mu.Lock()
	f, stop, done := s.file, s.stop, s.done
	s.file, s.stop = nil, nil
	s.mu.Unlock()

	if stop != nil {
		stop()
		<-done
	}
	if f != nil {
		return f.Close()
	}
	return nil
}

func consoleWriter() io.Writer {
	return zerolog.ConsoleWriter{
		Out:        os.Stdout,
		TimeFormat: consoleTimeFormat,
		FormatCaller: func(i any) string {
			s, _ := i.(string)
			return s
		},
	}
}

func parseLevel(s string, def zerolog.Level) zerolog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "trace":
		return zerolog.TraceLevel
	case "debug":
		return zerolog.DebugLevel
	case "info":
		return zerolog.InfoLevel
	case "warn", "warning":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	}
	return def
}
