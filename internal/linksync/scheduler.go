package linksync

import (
	"context"
	"math/rand"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"

	"github.com/chiampee/SmarTrack-sub004/internal/smartrack"
)

const DefaultRetryInterval = time.Minute

type SchedulerOptions struct {
	Interval time.Duration
	Jitter   float64
	// QueueFile, when set, is watched so enqueues from another process
	// (the capture CLI writing the shared queue file) trigger an immediate
	// cycle instead of waiting out the period.
	QueueFile string
	// OnCycle runs after every processor cycle on the same cadence; the
	// broadcast hub flushes its pending upserts through it.
	OnCycle func(ctx context.Context)
	Logger  zerolog.Logger
}

// Scheduler fires the processor on a fixed period, once at startup, and once
// immediately after every enqueue signal. Cycles are serialized: a kick that
// lands while a cycle is running waits for it instead of overlapping.
type Scheduler struct {
	proc     *Processor
	interval time.Duration
	jitter   float64
	file     string
	onCycle  func(ctx context.Context)
	log      zerolog.Logger

	kick   chan struct{}
	cycleM sync.Mutex
}

func NewScheduler(proc *Processor, opts SchedulerOptions) (*Scheduler, error) {
	if proc == nil {
		return nil, smartrack.ErrInvalidInput
	}
	interval := opts.Interval
	if interval <= 0 {
		interval = DefaultRetryInterval
	}
	jitter := opts.Jitter
	if jitter < 0 {
		jitter = 0
	}
	if jitter > 1 {
		jitter = 1
	}
	return &Scheduler{
		proc:     proc,
		interval: interval,
		jitter:   jitter,
		file:     opts.QueueFile,
		onCycle:  opts.OnCycle,
		log:      opts.Logger,
		kick:     make(chan struct{}, 1),
	}, nil
}

// Kick requests an immediate extra cycle. Safe from any goroutine; multiple
// kicks before the cycle starts collapse into one.
func (s *Scheduler) Kick() {
	select {
	case s.kick <- struct{}{}:
	default:
	}
}

func (s *Scheduler) Run(ctx context.Context) error {
	if s.file != "" {
		watcher, err := fsnotify.NewWatcher()
		if err != nil {
			s.log.Warn().Err(err).Msg("queue file watcher unavailable, relying on periodic cycles")
		} else {
			defer watcher.Close()
			// Watch the directory: the queue file is replaced by rename on
			// every save, which breaks a watch on the file itself.
			if err := watcher.Add(filepath.Dir(s.file)); err != nil {
				s.log.Warn().Err(err).Str("file", s.file).Msg("cannot watch queue file")
			} else {
				go s.watchQueueFile(ctx, watcher)
			}
		}
	}

	// Restarts should not wait out a full period before the first attempt.
	s.runCycle(ctx)

	rng := rand.New(rand.NewSource(time.Now().UnixNano()))
	timer := time.NewTimer(s.nextDelay(rng))
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C:
			s.runCycle(ctx)
			timer.Reset(s.nextDelay(rng))
		case <-s.kick:
			s.runCycle(ctx)
		}
	}
}

func (s *Scheduler) runCycle(ctx context.Context) {
	s.cycleM.Lock()
	defer s.cycleM.Unlock()
	s.proc.RunOnce(ctx)
	if s.onCycle != nil {
		s.onCycle(ctx)
	}
}

func (s *Scheduler) watchQueueFile(ctx context.Context, watcher *fsnotify.Watcher) {
	target := filepath.Clean(s.file)
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != target {
				continue
			}
			if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) || event.Has(fsnotify.Rename) {
				s.Kick()
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			s.log.Warn().Err(err).Msg("queue file watcher error")
		}
	}
}

func (s *Scheduler) nextDelay(rng *rand.Rand) time.Duration {
	if s.jitter == 0 {
		return s.interval
	}
	factor := 1 + ((rng.Float64()*2)-1)*s.jitter
	if factor < 0 {
		factor = 0
	}
	delay := time.Duration(float64(s.interval) * factor)
	if delay < time.Millisecond {
		return time.Millisecond
	}
	return delay
}
