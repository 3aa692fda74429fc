package services

import (
	"context"
	"io"
	"time"

	"github.com/sirupsen/logrus"
)

// defaultTimeout bounds one engine call when the caller's context carries no deadline.
const defaultTimeout = 30 * time.Second

// Deps are the collaborators every engine shares.
type Deps struct {
	Tx      Transactor
	Locker  Locker
	Audit   AuditSink
	Metrics *LedgerMetrics
	Logger  logrus.FieldLogger
	Now     func() time.Time
}

func (d Deps) withDefaults() Deps {
	if d.Locker == nil {
		d.Locker = NewLocalLocker()
	}
	if d.Audit == nil {
		d.Audit = discardAuditSink{}
	}
	if d.Logger == nil {
		l := logrus.New()
		l.SetOutput(io.Discard)
		d.Logger = l
	}
	if d.Now == nil {
		d.Now = time.Now
	}
	return d
}

func (d Deps) now() time.Time {
	return d.Now().UTC().Truncate(time.Millisecond)
}

// withTimeout applies defaultTimeout unless ctx already has a deadline.
func withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if _, ok := ctx.Deadline(); ok {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, defaultTimeout)
}
