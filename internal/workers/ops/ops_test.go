package ops

import (
	"context"
	"testing"

	"github.com/stonefield/matchwire/internal/domain"
	"github.com/stonefield/matchwire/internal/infrastructure/logging"
	"github.com/stonefield/matchwire/internal/messaging"
)

type fakePullRepo struct {
	records []domain.PullRecord
}

func (r *fakePullRepo) Record(ctx context.Context, rec *domain.PullRecord) error {
	r.records = append(r.records, *rec)
	return nil
}

func (r *fakePullRepo) ListByRepo(ctx context.Context, repoID string, limit int) ([]domain.PullRecord, error) {
	var out []domain.PullRecord
	for _, rec := range r.records {
		if rec.RepoID == repoID {
			out = append(out, rec)
		}
	}
	return out, nil
}

func newTestOps() (*Ops, *fakePullRepo) {
	pulls := &fakePullRepo{}
	return New(pulls, logging.NewNopLogger()), pulls
}

func TestHandlePing(t *testing.T) {
	o, _ := newTestOps()
	ctx := context.Background()

	tests := []struct {
		name      string
		replyWith string
		wantErr   bool
		wantOK    bool
	}{
		{"success", messaging.PingReplySuccess, false, true},
		{"default is success", "", false, true},
		{"failure", messaging.PingReplyFailure, false, false},
		{"exception", messaging.PingReplyException, true, false},
		{"unknown mode", "sideways", true, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			reply, err := o.HandlePing(ctx, messaging.NewPing(tt.replyWith, messaging.WithReplyTo("tester")))

			if tt.wantErr {
				if err == nil {
					t.Fatal("expected an error")
				}
				return
			}
			if err != nil {
				t.Fatalf("handle: %v", err)
			}
			if reply == nil {
				t.Fatal("expected an explicit reply")
			}
			if got := reply.GetBool("success"); got != tt.wantOK {
				t.Errorf("success = %v, want %v", got, tt.wantOK)
			}
		})
	}
}

func TestHandlePullRepo(t *testing.T) {
	o, pulls := newTestOps()
	ctx := context.Background()

	reply, err := o.HandlePullRepo(ctx, messaging.NewPullRepo("game-maps", "main"))
	if err != nil {
		t.Fatalf("handle: %v", err)
	}
	if reply != nil {
		t.Fatal("pull requests rely on the default reply")
	}

	if len(pulls.records) != 1 {
		t.Fatalf("records = %d, want 1", len(pulls.records))
	}
	rec := pulls.records[0]
	if rec.RepoID != "game-maps" || rec.Branch != "main" {
		t.Errorf("record = %+v", rec)
	}
	if rec.ID == "" || rec.RequestedAt.IsZero() {
		t.Errorf("record missing id or timestamp: %+v", rec)
	}
}

func TestHandlePullRepoRequiresRepo(t *testing.T) {
	o, pulls := newTestOps()

	if _, err := o.HandlePullRepo(context.Background(), messaging.NewPullRepo("", "main")); err == nil {
		t.Fatal("expected an error for a missing repo id")
	}
	if len(pulls.records) != 0 {
		t.Errorf("records = %d, want 0", len(pulls.records))
	}
}
