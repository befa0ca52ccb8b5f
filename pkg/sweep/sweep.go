// Package sweep runs the automatic stale-execution sweep on a schedule:
// a cron expression when one is configured, otherwise a plain interval.
package sweep

import (
	"sync"
	"time"

	"github.com/adhocore/gronx"

	"github.com/B-Whitt/skillwatch/pkg/logger"
)

// Clearer is the part of the tracker the sweeper drives.
type Clearer interface {
	ClearStale() (int, error)
}

// Sweeper triggers ClearStale on its schedule until stopped.
type Sweeper struct {
	cronExpr string
	interval time.Duration
	clearer  Clearer

	gron *gronx.Gronx
	stop chan struct{}
	once sync.Once
	wg   sync.WaitGroup
}

// New builds a sweeper. With a cron expression the interval is ignored;
// with neither, Start is a no-op.
func New(cronExpr string, interval time.Duration, clearer Clearer) *Sweeper {
	return &Sweeper{
		cronExpr: cronExpr,
		interval: interval,
		clearer:  clearer,
		gron:     gronx.New(),
		stop:     make(chan struct{}),
	}
}

// Start launches the schedule loop.
func (s *Sweeper) Start() {
	if s.cronExpr == "" && s.interval <= 0 {
		return
	}
	s.wg.Add(1)
	go s.loop()
}

// Stop halts the loop and waits for it.
func (s *Sweeper) Stop() {
	s.once.Do(func() { close(s.stop) })
	s.wg.Wait()
}

func (s *Sweeper) loop() {
	defer s.wg.Done()

	tick := s.interval
	if s.cronExpr != "" {
		// Cron granularity is one minute; checking IsDue once per minute
		// hits each due window exactly once.
		tick = time.Minute
	}
	ticker := time.NewTicker(tick)
	defer ticker.Stop()

	for {
		select {
		case <-s.stop:
			return
		case now := <-ticker.C:
			if s.cronExpr != "" {
				due, err := s.gron.IsDue(s.cronExpr, now)
				if err != nil || !due {
					continue
				}
			}
			s.run()
		}
	}
}

func (s *Sweeper) run() {
	count, err := s.clearer.ClearStale()
	if err != nil {
		logger.WarnCF("sweep", "Stale sweep failed", map[string]interface{}{
			"error": err.Error(),
		})
		return
	}
	if count > 0 {
		logger.InfoCF("sweep", "Stale sweep cleared executions", map[string]interface{}{
			"count": count,
		})
	}
}
