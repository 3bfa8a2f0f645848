// Package goroutine запускает фоновые задачи с перехватом panic.
package goroutine

import (
	"context"
	"runtime/debug"

	"github.com/sirupsen/logrus"

	"github.com/FanTMS/digital-symbiosis-sub000/internal/logger"
	"github.com/FanTMS/digital-symbiosis-sub000/internal/metrics"
)

// PanicReporter получает имя задачи, значение panic и стек.
type PanicReporter func(task string, recovered any, stack []byte)

// Runner запускает фоновые задачи. Panic в задаче не роняет процесс.
type Runner struct {
	report PanicReporter
}

// NewRunner создаёт Runner с собственным обработчиком panic.
func NewRunner(report PanicReporter) *Runner {
	return &Runner{report: report}
}

// Go запускает fn в отдельной горутине.
func (r *Runner) Go(task string, fn func()) {
	go func() {
		defer r.recover(task)
		fn()
	}()
}

// GoWithContext запускает fn с контекстом, например сборщик, работающий до отмены ctx.
func (r *Runner) GoWithContext(ctx context.Context, task string, fn func(context.Context)) {
	go func() {
		defer r.recover(task)
		fn(ctx)
	}()
}

func (r *Runner) recover(task string) {
	if rec := recover(); rec != nil {
		r.report(task, rec, debug.Stack())
	}
}

func logPanic(task string, recovered any, stack []byte) {
	metrics.BackgroundPanics.WithLabelValues(task).Inc()
	logger.Log.WithFields(logrus.Fields{
		"task":  task,
		"panic": recovered,
	}).Errorf("goroutine: panic в фоновой задаче\n%s", stack)
}

// Default пишет panic в глобальный логгер и метрики.
var Default = NewRunner(logPanic)

// SafeGo запускает задачу через Default.
func SafeGo(task string, fn func()) {
	Default.Go(task, fn)
}

// SafeGoWithContext запускает задачу с контекстом через Default.
func SafeGoWithContext(ctx context.Context, task string, fn func(context.Context)) {
	Default.GoWithContext(ctx, task, fn)
}
