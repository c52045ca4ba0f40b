package gamelog

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/nxadm/tail"
)

// ErrNoLogDir is returned when no log directory could be located.
var ErrNoLogDir = errors.New("gamelog: log directory not found")

// Default buffer sizes for the output channels.
const (
	DefaultRecordBufferSize = 64
	DefaultErrorBufferSize  = 16
)

// rolloverCheckInterval is how often the source looks for a newer log
// file. The game starts a fresh file on every launch.
const rolloverCheckInterval = 10 * time.Second

// Source tails the newest game log file and emits parsed records,
// switching files when the game rolls over to a new one.
type Source struct {
	logDir           string
	fromStart        bool
	logger           *slog.Logger
	recordBufferSize int
	errorBufferSize  int
}

// SourceOption configures a Source.
type SourceOption func(*Source)

// WithLogDir sets the log directory. Without it the default install
// location is probed.
func WithLogDir(dir string) SourceOption {
	return func(s *Source) { s.logDir = dir }
}

// WithFromStart reads the current file from the beginning instead of
// only following new lines. Used for replay after a restart.
func WithFromStart(fromStart bool) SourceOption {
	return func(s *Source) { s.fromStart = fromStart }
}

// WithSourceLogger sets the logger.
func WithSourceLogger(l *slog.Logger) SourceOption {
	return func(s *Source) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithRecordBufferSize sets the record channel buffer size.
func WithRecordBufferSize(n int) SourceOption {
	return func(s *Source) { s.recordBufferSize = n }
}

// NewSource creates a Source.
func NewSource(opts ...SourceOption) *Source {
	s := &Source{
		logger:           slog.Default(),
		recordBufferSize: DefaultRecordBufferSize,
		errorBufferSize:  DefaultErrorBufferSize,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.recordBufferSize < 1 {
		s.recordBufferSize = 1
	}
	if s.errorBufferSize < 1 {
		s.errorBufferSize = 1
	}
	return s
}

// Start begins tailing and returns record/error channels. Both close
// when ctx is cancelled.
func (s *Source) Start(ctx context.Context) (<-chan *Record, <-chan error, error) {
	dir := s.logDir
	if dir == "" {
		var err error
		dir, err = defaultLogDir()
		if err != nil {
			return nil, nil, err
		}
	}

	path, err := newestLogFile(dir)
	if err != nil {
		return nil, nil, err
	}

	s.logger.Info("tailing game log",
		"path", path,
		"from_start", s.fromStart,
	)

	records := make(chan *Record, s.recordBufferSize)
	errCh := make(chan error, s.errorBufferSize)

	go s.run(ctx, dir, path, records, errCh)

	return records, errCh, nil
}

func (s *Source) run(ctx context.Context, dir, path string, records chan<- *Record, errCh chan<- error) {
	defer close(records)
	defer close(errCh)

	fromStart := s.fromStart
	for {
		switched, err := s.tailOne(ctx, dir, path, fromStart, records, errCh)
		if err != nil {
			s.reportError(errCh, err)
		}
		if ctx.Err() != nil {
			return
		}
		if switched == "" {
			return
		}
		s.logger.Info("game log rolled over", "path", switched)
		path = switched
		// A fresh file is always read from the start; it belongs to a
		// new game launch.
		fromStart = true
	}
}

// tailOne follows a single file until ctx is cancelled or a newer file
// appears, returning the newer path in the latter case.
func (s *Source) tailOne(ctx context.Context, dir, path string, fromStart bool, records chan<- *Record, errCh chan<- error) (string, error) {
	whence := io.SeekEnd
	if fromStart {
		whence = io.SeekStart
	}
	t, err := tail.TailFile(path, tail.Config{
		Follow:    true,
		ReOpen:    true,
		MustExist: true,
		Location:  &tail.SeekInfo{Offset: 0, Whence: whence},
		Logger:    tail.DiscardingLogger,
	})
	if err != nil {
		return "", err
	}
	defer t.Cleanup()
	defer t.Stop()

	rollover := time.NewTicker(rolloverCheckInterval)
	defer rollover.Stop()

	for {
		select {
		case <-ctx.Done():
			return "", nil
		case line, ok := <-t.Lines:
			if !ok {
				return "", nil
			}
			if line.Err != nil {
				s.reportError(errCh, line.Err)
				continue
			}
			rec, err := Parse(line.Text)
			if err != nil {
				s.reportError(errCh, err)
				continue
			}
			if rec == nil {
				continue
			}
			select {
			case records <- rec:
			case <-ctx.Done():
				return "", nil
			}
		case <-rollover.C:
			newest, err := newestLogFile(dir)
			if err != nil {
				continue
			}
			if newest != path {
				return newest, nil
			}
		}
	}
}

func (s *Source) reportError(errCh chan<- error, err error) {
	select {
	case errCh <- err:
	default:
		s.logger.Warn("dropping source error, buffer full", "error", err)
	}
}

// newestLogFile returns the most recently modified output_log file in
// dir.
func newestLogFile(dir string) (string, error) {
	matches, err := filepath.Glob(filepath.Join(dir, "output_log_*.txt"))
	if err != nil {
		return "", err
	}
	if len(matches) == 0 {
		return "", ErrNoLogDir
	}

	type candidate struct {
		path string
		mod  time.Time
	}
	files := make([]candidate, 0, len(matches))
	for _, m := range matches {
		info, err := os.Stat(m)
		if err != nil {
			continue
		}
		files = append(files, candidate{path: m, mod: info.ModTime()})
	}
	if len(files) == 0 {
		return "", ErrNoLogDir
	}
	sort.Slice(files, func(i, j int) bool { return files[i].mod.After(files[j].mod) })
	return files[0].path, nil
}

// defaultLogDir probes the game's default log locations.
func defaultLogDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	candidates := []string{
		filepath.Join(home, "AppData", "LocalLow", "VRChat", "VRChat"),
		filepath.Join(home, ".local", "share", "Steam", "steamapps", "compatdata",
			"438100", "pfx", "drive_c", "users", "steamuser", "AppData", "LocalLow", "VRChat", "VRChat"),
	}
	for _, dir := range candidates {
		if info, err := os.Stat(dir); err == nil && info.IsDir() {
			return dir, nil
		}
	}
	return "", ErrNoLogDir
}
