package publish

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	logx "postpilot/pkg/logx"
)

// DryRun is a publisher that records what would have been posted without
// talking to any platform. It is the default driver so the daemon can run
// before a real platform adapter is wired in.
type DryRun struct {
	log logx.Logger
	seq atomic.Uint64
}

func NewDryRun(log logx.Logger) *DryRun {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &DryRun{log: log}
}

func (d *DryRun) Publish(ctx context.Context, req Request) (Receipt, error) {
	if err := ctx.Err(); err != nil {
		return Receipt{}, NewError(KindTransient, err)
	}
	n := d.seq.Add(1)
	d.log.Info("dry-run publish",
		logx.String("group", req.GroupRef),
		logx.Int("media", len(req.MediaRefs)),
		logx.Time("publish_at", req.PublishAt),
	)
	return Receipt{PostRef: fmt.Sprintf("dryrun-%d", n), At: time.Now()}, nil
}
