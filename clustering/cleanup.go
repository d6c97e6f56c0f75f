package clustering

import (
	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/robfig/cron/v3"
)

// cronLogger writes the scheduler logs to a go-kit logger.
type cronLogger struct {
	logger log.Logger
}

var _ cron.Logger = cronLogger{}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	level.Debug(l.logger).Log(append([]interface{}{"msg", msg}, keysAndValues...)...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	level.Error(l.logger).Log(append([]interface{}{"msg", msg, "err", err}, keysAndValues...)...)
}

func (a *Agent) newScheduler() *cron.Cron {
	cl := cronLogger{logger: a.logger}

	c := cron.New(
		cron.WithLogger(cl),
		cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
	)

	c.Schedule(cron.Every(a.conf.CleanupInterval), cron.FuncJob(func() {
		a.Cleanup()
	}))

	return c
}

// Cleanup evicts the sent messages and the dedup records older than the
// retention window. Each structure is scanned for at most CleanupBatchSize
// evictions, the rest is left for the next run.
func (a *Agent) Cleanup() (sentEvicted, seenEvicted int) {
	deadline := a.conf.Now().Add(-a.conf.RetentionWindow)

	sentEvicted = a.sent.Evict(deadline, a.conf.CleanupBatchSize)
	seenEvicted = a.dedup.Evict(deadline, a.conf.CleanupBatchSize)

	incrCounter(metricEvicted, sentEvicted+seenEvicted)
	setGauge(metricSentBuffer, a.sent.Len())
	setGauge(metricDedupTable, a.dedup.Len())

	if sentEvicted > 0 || seenEvicted > 0 {
		level.Debug(a.logger).Log(
			"msg", "cleanup completed",
			"sent_evicted", sentEvicted,
			"seen_evicted", seenEvicted,
		)
	}

	return sentEvicted, seenEvicted
}
