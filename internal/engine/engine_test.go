package engine_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"floorline/internal/config"
	"floorline/internal/db"
	"floorline/internal/domain"
	"floorline/internal/engine"
	"floorline/internal/engine/auth"
	"floorline/internal/migrate"
	"floorline/internal/repo"
)

type testEnv struct {
	Engine engine.Engine
	Ctx    context.Context
}

func newTestEnv(t *testing.T) testEnv {
	t.Helper()
	dir := t.TempDir()
	conn, err := db.Open(db.Config{Workspace: dir})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	cfg := config.Default("shop-1")
	eng := engine.New(conn, cfg)
	eng.Now = func() time.Time { return time.Date(2024, 3, 1, 8, 0, 0, 0, time.UTC) }
	ctx := context.Background()
	if err := eng.Repo.SetActorRole(ctx, "boss", "manager"); err != nil {
		t.Fatalf("seed manager: %v", err)
	}
	return testEnv{Engine: eng, Ctx: ctx}
}

func mustCreateJob(t *testing.T, env testEnv, items ...engine.ItemSpec) (domain.Job, []domain.Item) {
	t.Helper()
	j, its, err := env.Engine.CreateJob(env.Ctx, engine.JobCreateOptions{
		Name:    "sheet",
		Items:   items,
		ActorID: "boss",
	})
	if err != nil {
		t.Fatalf("create job: %v", err)
	}
	if _, err := env.Engine.ReleaseJob(env.Ctx, j.ID, "boss"); err != nil {
		t.Fatalf("release job: %v", err)
	}
	j.Status = domain.JobInProduction
	return j, its
}

func TestCompletionFillsOrderThenStock(t *testing.T) {
	env := newTestEnv(t)
	j, items := mustCreateJob(t, env, engine.ItemSpec{Name: "bracket", OrderQty: 10, StockQty: 5})

	entry, err := env.Engine.LogCompletion(env.Ctx, engine.CompletionOptions{
		JobID:   j.ID,
		ActorID: "w1",
		Entries: []engine.CompletionEntry{{ItemID: items[0].ID, QtyCompleted: 12}},
	})
	if err != nil {
		t.Fatalf("log completion: %v", err)
	}
	if len(entry.Deltas) != 1 {
		t.Fatalf("expected 1 delta, got %d", len(entry.Deltas))
	}
	d := entry.Deltas[0]
	if d.OrderCompleted != 10 || d.StockCompleted != 2 || d.Status != domain.ItemPartiallyComplete {
		t.Fatalf("unexpected delta %+v", d)
	}

	// Second report tops up stock and completes the item.
	entry, err = env.Engine.LogCompletion(env.Ctx, engine.CompletionOptions{
		JobID:   j.ID,
		ActorID: "w1",
		Entries: []engine.CompletionEntry{{ItemID: items[0].ID, QtyCompleted: 3}},
	})
	if err != nil {
		t.Fatalf("second completion: %v", err)
	}
	d = entry.Deltas[0]
	if d.OrderCompleted != 10 || d.StockCompleted != 5 || d.Status != domain.ItemComplete {
		t.Fatalf("unexpected delta %+v", d)
	}
	it, err := env.Engine.Repo.GetItem(env.Ctx, items[0].ID)
	if err != nil {
		t.Fatal(err)
	}
	if it.OrderCompleted != 10 || it.StockCompleted != 5 || it.Status != domain.ItemComplete {
		t.Fatalf("persisted item %+v", it)
	}
}

func TestValidationRejectsBeforeMutation(t *testing.T) {
	env := newTestEnv(t)
	j, items := mustCreateJob(t, env, engine.ItemSpec{Name: "plate", OrderQty: 4})

	cases := []engine.CompletionOptions{
		{JobID: j.ID, ActorID: "w1"},
		{JobID: j.ID, ActorID: "w1", Entries: []engine.CompletionEntry{{ItemID: items[0].ID, QtyCompleted: 0}}},
		{JobID: j.ID, ActorID: "w1", Entries: []engine.CompletionEntry{{ItemID: items[0].ID, QtyCompleted: -2}}},
	}
	for i, opts := range cases {
		_, err := env.Engine.LogCompletion(env.Ctx, opts)
		var ve engine.ValidationError
		if !errors.As(err, &ve) {
			t.Fatalf("case %d: expected validation error, got %v", i, err)
		}
	}
	it, _ := env.Engine.Repo.GetItem(env.Ctx, items[0].ID)
	if it.OrderCompleted != 0 || it.Status != domain.ItemNotStarted {
		t.Fatalf("expected untouched item, got %+v", it)
	}
	entries, _ := env.Engine.Repo.ListWorkLog(env.Ctx, j.ID, 0, "")
	if len(entries) != 0 {
		t.Fatalf("expected empty ledger, got %d entries", len(entries))
	}
}

func TestUnknownItemsSkipped(t *testing.T) {
	env := newTestEnv(t)
	j, items := mustCreateJob(t, env, engine.ItemSpec{Name: "frame", OrderQty: 3})

	entry, err := env.Engine.LogCompletion(env.Ctx, engine.CompletionOptions{
		JobID:   j.ID,
		ActorID: "w1",
		Entries: []engine.CompletionEntry{
			{ItemID: "no-such-item", QtyCompleted: 2},
			{ItemID: items[0].ID, QtyCompleted: 1},
		},
	})
	if err != nil {
		t.Fatalf("log completion: %v", err)
	}
	if len(entry.Deltas) != 1 || entry.Deltas[0].ItemID != items[0].ID {
		t.Fatalf("expected one delta for known item, got %+v", entry.Deltas)
	}
}

func TestDuplicateItemEntriesApplySequentially(t *testing.T) {
	env := newTestEnv(t)
	j, items := mustCreateJob(t, env, engine.ItemSpec{Name: "rail", OrderQty: 5, StockQty: 5})

	entry, err := env.Engine.LogCompletion(env.Ctx, engine.CompletionOptions{
		JobID:   j.ID,
		ActorID: "w1",
		Entries: []engine.CompletionEntry{
			{ItemID: items[0].ID, QtyCompleted: 4},
			{ItemID: items[0].ID, QtyCompleted: 4},
		},
	})
	if err != nil {
		t.Fatalf("log completion: %v", err)
	}
	if len(entry.Deltas) != 2 {
		t.Fatalf("expected 2 deltas, got %d", len(entry.Deltas))
	}
	// Second delta sees the first one's result: 4 then 1 to order, 3 to stock.
	if entry.Deltas[0].OrderCompleted != 4 || entry.Deltas[1].OrderCompleted != 5 || entry.Deltas[1].StockCompleted != 3 {
		t.Fatalf("unexpected deltas %+v", entry.Deltas)
	}
	it, _ := env.Engine.Repo.GetItem(env.Ctx, items[0].ID)
	if it.OrderCompleted != 5 || it.StockCompleted != 3 {
		t.Fatalf("persisted item %+v", it)
	}
}

func TestOverageFlaggedOnDelta(t *testing.T) {
	env := newTestEnv(t)
	j, items := mustCreateJob(t, env, engine.ItemSpec{Name: "pin", OrderQty: 2})

	entry, err := env.Engine.LogCompletion(env.Ctx, engine.CompletionOptions{
		JobID:   j.ID,
		ActorID: "w1",
		Entries: []engine.CompletionEntry{{ItemID: items[0].ID, QtyCompleted: 9}},
	})
	if err != nil {
		t.Fatal(err)
	}
	if entry.Deltas[0].Discarded != 7 {
		t.Fatalf("expected 7 discarded, got %d", entry.Deltas[0].Discarded)
	}
	it, _ := env.Engine.Repo.GetItem(env.Ctx, items[0].ID)
	if it.OrderCompleted != 2 {
		t.Fatalf("counter exceeded assignment: %+v", it)
	}
}

func TestAtomicityOnMidTransactionFailure(t *testing.T) {
	env := newTestEnv(t)
	j, items := mustCreateJob(t, env,
		engine.ItemSpec{Name: "a", OrderQty: 5},
		engine.ItemSpec{Name: "b", OrderQty: 5},
		engine.ItemSpec{Name: "c", OrderQty: 5},
	)

	// Make the ledger insert fail so the attempt aborts after the item
	// updates were issued inside the transaction.
	if _, err := env.Engine.DB.Exec(`ALTER TABLE work_log_entries RENAME TO work_log_entries_gone`); err != nil {
		t.Fatalf("break ledger: %v", err)
	}
	_, err := env.Engine.LogCompletion(env.Ctx, engine.CompletionOptions{
		JobID:   j.ID,
		ActorID: "w1",
		Entries: []engine.CompletionEntry{
			{ItemID: items[0].ID, QtyCompleted: 2},
			{ItemID: items[1].ID, QtyCompleted: 2},
			{ItemID: items[2].ID, QtyCompleted: 2},
		},
	})
	if err == nil {
		t.Fatalf("expected failure")
	}
	for _, spec := range items {
		it, getErr := env.Engine.Repo.GetItem(env.Ctx, spec.ID)
		if getErr != nil {
			t.Fatal(getErr)
		}
		if it.OrderCompleted != 0 || it.Status != domain.ItemNotStarted {
			t.Fatalf("expected no partial effect, item %+v", it)
		}
	}
}

func TestStartWorkingSetsStatusOnce(t *testing.T) {
	env := newTestEnv(t)
	j, items := mustCreateJob(t, env, engine.ItemSpec{Name: "arm", OrderQty: 2})

	entry, err := env.Engine.StartWorking(env.Ctx, j.ID, items[0].ID, "w1")
	if err != nil {
		t.Fatalf("start working: %v", err)
	}
	if entry.Kind != domain.EntryStartWorking || entry.ItemID == nil || *entry.ItemID != items[0].ID {
		t.Fatalf("unexpected entry %+v", entry)
	}
	it, _ := env.Engine.Repo.GetItem(env.Ctx, items[0].ID)
	if it.Status != domain.ItemWorking {
		t.Fatalf("expected working, got %s", it.Status)
	}

	// Complete the item, then start again: status must not regress.
	if _, err := env.Engine.LogCompletion(env.Ctx, engine.CompletionOptions{
		JobID: j.ID, ActorID: "w1",
		Entries: []engine.CompletionEntry{{ItemID: items[0].ID, QtyCompleted: 2}},
	}); err != nil {
		t.Fatal(err)
	}
	if _, err := env.Engine.StartWorking(env.Ctx, j.ID, items[0].ID, "w2"); err != nil {
		t.Fatalf("duplicate start: %v", err)
	}
	it, _ = env.Engine.Repo.GetItem(env.Ctx, items[0].ID)
	if it.Status != domain.ItemComplete {
		t.Fatalf("status regressed to %s", it.Status)
	}
}

func TestStartWorkingUnknownItem(t *testing.T) {
	env := newTestEnv(t)
	j, _ := mustCreateJob(t, env, engine.ItemSpec{Name: "arm", OrderQty: 2})
	_, err := env.Engine.StartWorking(env.Ctx, j.ID, "nope", "w1")
	if !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestAggregationLifecycle(t *testing.T) {
	env := newTestEnv(t)
	j, items := mustCreateJob(t, env,
		engine.ItemSpec{Name: "a", OrderQty: 1},
		engine.ItemSpec{Name: "b", OrderQty: 1},
	)

	// Completing one item moves the job to production_started.
	if _, err := env.Engine.LogCompletion(env.Ctx, engine.CompletionOptions{
		JobID: j.ID, ActorID: "w1",
		Entries: []engine.CompletionEntry{{ItemID: items[0].ID, QtyCompleted: 1}},
	}); err != nil {
		t.Fatal(err)
	}
	got, _ := env.Engine.Repo.GetJob(env.Ctx, j.ID)
	if got.Status != domain.JobProductionStarted {
		t.Fatalf("expected production_started, got %s", got.Status)
	}

	// Re-aggregating with one item still not_started changes nothing.
	if _, err := env.Engine.AggregateJob(env.Ctx, j.ID); err != nil {
		t.Fatal(err)
	}
	again, _ := env.Engine.Repo.GetJob(env.Ctx, j.ID)
	if again.Status != domain.JobProductionStarted || again.CompletedAt != nil {
		t.Fatalf("expected unchanged job, got %+v", again)
	}

	// Completing the second item completes the job and stamps completed_at.
	if _, err := env.Engine.LogCompletion(env.Ctx, engine.CompletionOptions{
		JobID: j.ID, ActorID: "w2",
		Entries: []engine.CompletionEntry{{ItemID: items[1].ID, QtyCompleted: 1}},
	}); err != nil {
		t.Fatal(err)
	}
	done, _ := env.Engine.Repo.GetJob(env.Ctx, j.ID)
	if done.Status != domain.JobCompleted || done.CompletedAt == nil {
		t.Fatalf("expected completed job, got %+v", done)
	}
	stamp := *done.CompletedAt

	// Idempotent: a second aggregation keeps the stamp.
	env.Engine.Now = func() time.Time { return time.Date(2024, 3, 2, 8, 0, 0, 0, time.UTC) }
	if _, err := env.Engine.AggregateJob(env.Ctx, j.ID); err != nil {
		t.Fatal(err)
	}
	final, _ := env.Engine.Repo.GetJob(env.Ctx, j.ID)
	if final.CompletedAt == nil || *final.CompletedAt != stamp {
		t.Fatalf("completed_at re-stamped: %+v", final)
	}
}

func TestAggregationZeroItemsNoop(t *testing.T) {
	env := newTestEnv(t)
	j, _, err := env.Engine.CreateJob(env.Ctx, engine.JobCreateOptions{Name: "empty", ActorID: "boss"})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := env.Engine.AggregateJob(env.Ctx, j.ID); err != nil {
		t.Fatal(err)
	}
	got, _ := env.Engine.Repo.GetJob(env.Ctx, j.ID)
	if got.Status != domain.JobDraft {
		t.Fatalf("expected draft, got %s", got.Status)
	}
}

func TestManagerGate(t *testing.T) {
	env := newTestEnv(t)
	_, _, err := env.Engine.CreateJob(env.Ctx, engine.JobCreateOptions{Name: "nope", ActorID: "worker-1"})
	var fe auth.ForbiddenError
	if !errors.As(err, &fe) {
		t.Fatalf("expected forbidden, got %v", err)
	}
}

func TestConcurrentCompletionsBothApply(t *testing.T) {
	env := newTestEnv(t)
	env.Engine.Now = time.Now
	j, items := mustCreateJob(t, env, engine.ItemSpec{Name: "gear", OrderQty: 10})

	var wg sync.WaitGroup
	errs := make(chan error, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := env.Engine.LogCompletion(env.Ctx, engine.CompletionOptions{
				JobID: j.ID, ActorID: "w1",
				Entries: []engine.CompletionEntry{{ItemID: items[0].ID, QtyCompleted: 3}},
			})
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		if err != nil {
			t.Fatalf("concurrent completion: %v", err)
		}
	}
	it, _ := env.Engine.Repo.GetItem(env.Ctx, items[0].ID)
	if it.OrderCompleted != 6 {
		t.Fatalf("lost update: order_completed=%d, want 6", it.OrderCompleted)
	}
	entries, _ := env.Engine.Repo.ListWorkLog(env.Ctx, j.ID, 0, "")
	if len(entries) != 2 {
		t.Fatalf("expected both ledger entries, got %d", len(entries))
	}
}

func TestRebuildItemCounters(t *testing.T) {
	env := newTestEnv(t)
	j, items := mustCreateJob(t, env, engine.ItemSpec{Name: "hub", OrderQty: 6, StockQty: 2})

	for _, qty := range []int{4, 3} {
		if _, err := env.Engine.LogCompletion(env.Ctx, engine.CompletionOptions{
			JobID: j.ID, ActorID: "w1",
			Entries: []engine.CompletionEntry{{ItemID: items[0].ID, QtyCompleted: qty}},
		}); err != nil {
			t.Fatal(err)
		}
	}
	// Corrupt the materialized counters, then replay the ledger.
	if _, err := env.Engine.DB.Exec(`UPDATE items SET order_completed=0, stock_completed=0, status='not_started' WHERE id=?`, items[0].ID); err != nil {
		t.Fatal(err)
	}
	rebuilt, err := env.Engine.RebuildItemCounters(env.Ctx, j.ID, "boss")
	if err != nil {
		t.Fatalf("rebuild: %v", err)
	}
	if len(rebuilt) != 1 {
		t.Fatalf("expected 1 item, got %d", len(rebuilt))
	}
	it := rebuilt[0]
	if it.OrderCompleted != 6 || it.StockCompleted != 1 || it.Status != domain.ItemPartiallyComplete {
		t.Fatalf("rebuilt item %+v", it)
	}
}

func TestAttachPhoto(t *testing.T) {
	env := newTestEnv(t)
	j, items := mustCreateJob(t, env, engine.ItemSpec{Name: "cap", OrderQty: 1})
	entry, err := env.Engine.LogCompletion(env.Ctx, engine.CompletionOptions{
		JobID: j.ID, ActorID: "w1",
		Entries: []engine.CompletionEntry{{ItemID: items[0].ID, QtyCompleted: 1}},
	})
	if err != nil {
		t.Fatal(err)
	}
	p, err := env.Engine.AttachPhoto(env.Ctx, entry.ID, "https://blobs.example/1.jpg", "finished batch", "w1")
	if err != nil {
		t.Fatalf("attach: %v", err)
	}
	if p.EntryID != entry.ID {
		t.Fatalf("unexpected photo %+v", p)
	}
	_, err = env.Engine.AttachPhoto(env.Ctx, 9999, "https://blobs.example/2.jpg", "", "w1")
	if !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("expected not found for missing entry, got %v", err)
	}
}

func TestWorkLogOrdering(t *testing.T) {
	env := newTestEnv(t)
	j, items := mustCreateJob(t, env, engine.ItemSpec{Name: "rod", OrderQty: 9})
	if _, err := env.Engine.StartWorking(env.Ctx, j.ID, items[0].ID, "w1"); err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 3; i++ {
		if _, err := env.Engine.LogCompletion(env.Ctx, engine.CompletionOptions{
			JobID: j.ID, ActorID: "w1",
			Entries: []engine.CompletionEntry{{ItemID: items[0].ID, QtyCompleted: 1}},
		}); err != nil {
			t.Fatal(err)
		}
	}
	desc, err := env.Engine.Repo.ListWorkLog(env.Ctx, j.ID, 0, "")
	if err != nil {
		t.Fatal(err)
	}
	if len(desc) != 4 {
		t.Fatalf("expected 4 entries, got %d", len(desc))
	}
	for i := 1; i < len(desc); i++ {
		if desc[i-1].ID <= desc[i].ID {
			t.Fatalf("expected most-recent-first ordering")
		}
	}
	asc, err := env.Engine.Repo.ListWorkLogAsc(env.Ctx, j.ID)
	if err != nil {
		t.Fatal(err)
	}
	if asc[0].Kind != domain.EntryStartWorking {
		t.Fatalf("expected chronological replay order")
	}
}
