package control_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"go.uber.org/goleak"

	"github.com/ShayCichocki/relay/internal/control"
	"github.com/ShayCichocki/relay/internal/orchestrator"
	"github.com/ShayCichocki/relay/internal/planner"
	"github.com/ShayCichocki/relay/internal/registry"
	"github.com/ShayCichocki/relay/internal/state"
	"github.com/ShayCichocki/relay/pkg/models"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func TestWatch_CancelFileCancels(t *testing.T) {
	root := t.TempDir()
	ctx, stop, err := control.Watch(context.Background(), root, "run-1", nil)
	if err != nil {
		t.Fatalf("Watch() error: %v", err)
	}
	defer stop()

	if err := control.RequestCancel(root, "run-1"); err != nil {
		t.Fatalf("RequestCancel() error: %v", err)
	}
	select {
	case <-ctx.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("context not canceled after the cancel file was written")
	}
}

func TestWatch_ClearsStaleCancelFile(t *testing.T) {
	root := t.TempDir()
	if err := control.RequestCancel(root, "run-1"); err != nil {
		t.Fatal(err)
	}

	ctx, stop, err := control.Watch(context.Background(), root, "run-1", nil)
	if err != nil {
		t.Fatalf("Watch() error: %v", err)
	}
	select {
	case <-ctx.Done():
		t.Error("a cancel file from an earlier run canceled the new one")
	case <-time.After(100 * time.Millisecond):
	}

	stop()
	if _, err := os.Stat(control.Dir(root, "run-1")); !os.IsNotExist(err) {
		t.Errorf("control directory left behind: %v", err)
	}
	if ctx.Err() == nil {
		t.Error("stop did not release the context")
	}
}

func TestWatch_OtherRunsUnaffected(t *testing.T) {
	root := t.TempDir()
	ctx, stop, err := control.Watch(context.Background(), root, "run-a", nil)
	if err != nil {
		t.Fatal(err)
	}
	defer stop()

	if err := control.RequestCancel(root, "run-b"); err != nil {
		t.Fatal(err)
	}
	select {
	case <-ctx.Done():
		t.Error("canceling run-b canceled run-a")
	case <-time.After(100 * time.Millisecond):
	}
}

func TestWatch_CanceledRunSkipsUnsettledSteps(t *testing.T) {
	root := t.TempDir()
	started := make(chan struct{})
	search := registry.TeamFunc(func(ctx context.Context, st models.TeamState) (models.ResultEnvelope, error) {
		close(started)
		<-ctx.Done()
		return models.ResultEnvelope{}, ctx.Err()
	})
	reg := registry.New()
	reg.Register(planner.SearchTeam, search, registry.Capabilities{Kind: models.TeamKindSearch}, 1, true)

	j, err := state.OpenJournal(filepath.Join(root, "journal.db"))
	if err != nil {
		t.Fatal(err)
	}
	defer j.Shutdown()
	sup := orchestrator.New(orchestrator.RequiredConfig{
		Planner:  planner.New(planner.Config{Registry: reg}),
		Registry: reg,
		Journal:  j,
	})

	ctx, stop, err := control.Watch(context.Background(), root, "run-c", nil)
	if err != nil {
		t.Fatal(err)
	}
	defer stop()

	go func() {
		<-started
		control.RequestCancel(root, "run-c")
	}()
	rs, err := sup.RunQuery(ctx, "search solar panels", "run-c", orchestrator.DefaultContextOptions())
	if err != nil {
		t.Fatalf("RunQuery() error: %v", err)
	}
	if got := rs.Teams.Membership(planner.SearchTeam); got != "skipped" {
		t.Errorf("search team is %q, want skipped", got)
	}
	if rs.Status() != models.RunStatusCompleted {
		t.Errorf("status = %s", rs.Status())
	}

	stored, err := j.GetState(context.Background(), "run-c")
	if err != nil || stored == nil {
		t.Fatalf("GetState() = %v, %v", stored, err)
	}
	if stored.Status() != models.RunStatusCompleted {
		t.Errorf("journaled status = %s", stored.Status())
	}
}
