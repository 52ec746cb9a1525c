// Package ops hosts the operational worker: broker self-tests over the ping
// round trip, and repository pull bookkeeping used by the deploy tooling.
package ops

import (
	"context"
	"fmt"

	"github.com/stonefield/matchwire/internal/domain"
	"github.com/stonefield/matchwire/internal/infrastructure/logging"
	"github.com/stonefield/matchwire/internal/messaging"
)

type Ops struct {
	pulls  domain.PullRecordRepository
	logger logging.Logger
}

func New(pulls domain.PullRecordRepository, logger logging.Logger) *Ops {
	return &Ops{pulls: pulls, logger: logger}
}

func (o *Ops) Attach(qw *messaging.QueueWorker) {
	qw.On(messaging.TypePing, o.HandlePing)
	qw.On(messaging.TypePullRepo, o.HandlePullRepo)
}

// HandlePing answers the broker self-test. The sender chooses the outcome:
// a success reply, a failure reply, or a handler error. The ping schema
// drains on error, so exercising the error path never leaves a poison
// message on the queue.
func (o *Ops) HandlePing(ctx context.Context, msg *messaging.Message) (*messaging.Message, error) {
	var p messaging.PingPayload
	if err := msg.DecodePayload(&p); err != nil {
		return nil, err
	}

	o.logger.Debug(logging.Dispatch, logging.Handler, "ping received", map[logging.ExtraKey]any{
		logging.MessageID: msg.MessageID,
	})

	switch p.ReplyWith {
	case messaging.PingReplySuccess, "":
		return messaging.NewSuccessReply(msg), nil
	case messaging.PingReplyFailure:
		return messaging.NewFailureReply(msg, "requested failure"), nil
	case messaging.PingReplyException:
		return nil, fmt.Errorf("requested exception")
	default:
		return nil, fmt.Errorf("unknown ping mode %q", p.ReplyWith)
	}
}

// HandlePullRepo records that a pull was requested for a repository. The
// actual fetch happens out of band; the record is the audit trail.
func (o *Ops) HandlePullRepo(ctx context.Context, msg *messaging.Message) (*messaging.Message, error) {
	var p messaging.PullRepoPayload
	if err := msg.DecodePayload(&p); err != nil {
		return nil, err
	}
	if p.RepoID == "" {
		return nil, fmt.Errorf("pull request without repoId")
	}

	record := domain.NewPullRecord(p.RepoID, p.Branch)
	if err := o.pulls.Record(ctx, record); err != nil {
		return nil, err
	}

	o.logger.Info(logging.Dispatch, logging.Handler, "pull recorded", map[logging.ExtraKey]any{
		logging.RepoID: p.RepoID,
	})

	return nil, nil
}
