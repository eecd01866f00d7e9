package engine

import (
	"context"
	"testing"
	"time"

	"Outcall/internal/model"
	"Outcall/internal/repository"
)

func newTestWatchdog(store *repository.MemoryStore, clk *fakeClock) *Watchdog {
	w := NewWatchdog(nil, store, WatchdogOptions{
		CallStaleAfter:  5 * time.Minute,
		QueueStaleAfter: 30 * time.Minute,
	})
	w.now = clk.Now
	return w
}

// seedDispatchedEntry 造一个已下发、等回调的条目
func seedDispatchedEntry(t *testing.T, store *repository.MemoryStore, campaignID int64, callID string, at time.Time) *model.CallQueueEntry {
	t.Helper()
	ctx := context.Background()
	if _, err := store.InsertQueueEntries(ctx, []*model.CallQueueEntry{{
		CampaignID:   campaignID,
		ContactID:    7,
		PhoneNumber:  "+15550007777",
		ContactName:  "Watchdog Target",
		Attempt:      1,
		ScheduledFor: at,
		Status:       model.CallQueueStatusPending,
	}}); err != nil {
		t.Fatalf("failed to seed entry: %v", err)
	}
	entry := store.Entries(campaignID)[0]
	if err := store.MarkEntryCalling(ctx, entry.ID); err != nil {
		t.Fatalf("failed to mark entry calling: %v", err)
	}
	if err := store.MarkEntryDispatched(ctx, entry.ID, callID, at); err != nil {
		t.Fatalf("failed to mark entry dispatched: %v", err)
	}
	return entry
}

func TestWatchdogResolvesStaleCallAsVoicemail(t *testing.T) {
	ctx := context.Background()
	t0 := time.Date(2026, 3, 4, 12, 0, 0, 0, time.UTC)
	clk := newFakeClock(t0)
	store := repository.NewMemoryStore()
	store.Now = clk.Now

	c := activeCampaign(store)
	c.Retry = &model.RetrySettings{
		EnableRetries:    true,
		MaxRetries:       3,
		RetryOnVoicemail: true,
		RetryDelay:       1,
		RetryDelayUnit:   "hours",
	}
	seedDispatchedEntry(t, store, c.ID, "call-stale", t0)

	// 通话活过了 30 秒但再没有任何更新
	lastTouched := t0.Add(30 * time.Second)
	store.AddCall(&model.Call{
		BaseModel:      model.BaseModel{UpdatedAt: lastTouched},
		OrganizationID: c.OrganizationID,
		CampaignID:     c.ID,
		PhoneNumber:    "+15550007777",
		VapiCallID:     "call-stale",
		Status:         model.CallStatusQueued,
		StartedAt:      &t0,
	})

	clk.Advance(6 * time.Minute)
	w := newTestWatchdog(store, clk)
	if err := w.Sweep(ctx); err != nil {
		t.Fatalf("Sweep failed: %v", err)
	}

	call, err := store.CallByVapiID(ctx, "call-stale")
	if err != nil || call == nil {
		t.Fatalf("failed to reload call: %v", err)
	}
	if call.Status != model.CallStatusCompleted {
		t.Errorf("call status = %q, want completed", call.Status)
	}
	if call.Outcome != model.OutcomeVoicemail {
		t.Errorf("call outcome = %q, want voicemail", call.Outcome)
	}

	var original, retry *model.CallQueueEntry
	for _, entry := range store.Entries(c.ID) {
		switch entry.Attempt {
		case 1:
			original = entry
		case 2:
			retry = entry
		}
	}
	if original == nil || original.Status != model.CallQueueStatusCompleted {
		t.Fatalf("original entry = %+v, want completed", original)
	}
	if original.LastOutcome == nil || *original.LastOutcome != model.OutcomeVoicemail {
		t.Errorf("original entry outcome = %v, want voicemail", original.LastOutcome)
	}
	if retry == nil || retry.Status != model.CallQueueStatusPending {
		t.Fatalf("retry entry = %+v, want a pending attempt 2", retry)
	}
}

func TestWatchdogResolvesDeadCallAsFailed(t *testing.T) {
	ctx := context.Background()
	t0 := time.Date(2026, 3, 4, 12, 0, 0, 0, time.UTC)
	clk := newFakeClock(t0)
	store := repository.NewMemoryStore()
	store.Now = clk.Now

	c := activeCampaign(store)
	c.Retry = &model.RetrySettings{
		EnableRetries: true,
		MaxRetries:    3,
		RetryOnFailed: true,
		RetryDelay:    1,
	}
	seedDispatchedEntry(t, store, c.ID, "call-dead", t0)

	// 下发后没活过 2 秒，视为根本没接通
	store.AddCall(&model.Call{
		BaseModel:      model.BaseModel{UpdatedAt: t0},
		OrganizationID: c.OrganizationID,
		CampaignID:     c.ID,
		PhoneNumber:    "+15550007777",
		VapiCallID:     "call-dead",
		Status:         model.CallStatusQueued,
		StartedAt:      &t0,
	})

	clk.Advance(6 * time.Minute)
	w := newTestWatchdog(store, clk)
	if err := w.Sweep(ctx); err != nil {
		t.Fatalf("Sweep failed: %v", err)
	}

	call, _ := store.CallByVapiID(ctx, "call-dead")
	if call.Status != model.CallStatusFailed || call.Outcome != model.OutcomeFailed {
		t.Errorf("call resolved as %q/%q, want failed/failed", call.Status, call.Outcome)
	}
	counts := entriesByStatus(store, c.ID)
	if counts[model.CallQueueStatusFailed] != 1 || counts[model.CallQueueStatusPending] != 1 {
		t.Errorf("entry statuses = %v, want 1 failed / 1 pending retry", counts)
	}
}

func TestWatchdogSweepSchedulesSingleRetry(t *testing.T) {
	ctx := context.Background()
	t0 := time.Date(2026, 3, 4, 12, 0, 0, 0, time.UTC)
	clk := newFakeClock(t0)
	store := repository.NewMemoryStore()
	store.Now = clk.Now

	c := activeCampaign(store)
	c.Retry = &model.RetrySettings{
		EnableRetries:    true,
		MaxRetries:       3,
		RetryOnVoicemail: true,
		RetryDelay:       1,
	}
	seedDispatchedEntry(t, store, c.ID, "call-stale", t0)
	lastTouched := t0.Add(time.Minute)
	store.AddCall(&model.Call{
		BaseModel:      model.BaseModel{UpdatedAt: lastTouched},
		OrganizationID: c.OrganizationID,
		CampaignID:     c.ID,
		PhoneNumber:    "+15550007777",
		VapiCallID:     "call-stale",
		Status:         model.CallStatusInProgress,
		StartedAt:      &t0,
	})

	clk.Advance(7 * time.Minute)
	w := newTestWatchdog(store, clk)
	if err := w.Sweep(ctx); err != nil {
		t.Fatalf("first Sweep failed: %v", err)
	}
	clk.Advance(5 * time.Minute)
	if err := w.Sweep(ctx); err != nil {
		t.Fatalf("second Sweep failed: %v", err)
	}

	// 终态的记录和条目不会被再次清扫，重试也只入队一次
	if got := len(store.Entries(c.ID)); got != 2 {
		t.Errorf("queue has %d entries after two sweeps, want 2", got)
	}
}

func TestWatchdogTimesOutStaleCallingEntries(t *testing.T) {
	ctx := context.Background()
	t0 := time.Date(2026, 3, 4, 12, 0, 0, 0, time.UTC)
	clk := newFakeClock(t0)
	store := repository.NewMemoryStore()
	store.Now = clk.Now

	c := activeCampaign(store)
	c.Retry = &model.RetrySettings{
		EnableRetries: true,
		MaxRetries:    3,
		RetryOnFailed: true,
		RetryDelay:    1,
	}
	// 下发后连通话记录都没等到结果
	seedDispatchedEntry(t, store, c.ID, "call-lost", t0)

	clk.Advance(31 * time.Minute)
	w := newTestWatchdog(store, clk)
	if err := w.Sweep(ctx); err != nil {
		t.Fatalf("Sweep failed: %v", err)
	}

	var original, retry *model.CallQueueEntry
	for _, entry := range store.Entries(c.ID) {
		switch entry.Attempt {
		case 1:
			original = entry
		case 2:
			retry = entry
		}
	}
	if original == nil || original.Status != model.CallQueueStatusFailed {
		t.Fatalf("stuck entry = %+v, want failed", original)
	}
	if original.LastOutcome == nil || *original.LastOutcome != model.OutcomeTimeout {
		t.Errorf("stuck entry outcome = %v, want timeout", original.LastOutcome)
	}
	if retry == nil || retry.Status != model.CallQueueStatusPending {
		t.Fatalf("retry entry = %+v, want a pending attempt 2", retry)
	}
}

func TestWatchdogLeavesFreshCallsAlone(t *testing.T) {
	ctx := context.Background()
	t0 := time.Date(2026, 3, 4, 12, 0, 0, 0, time.UTC)
	clk := newFakeClock(t0)
	store := repository.NewMemoryStore()
	store.Now = clk.Now

	c := activeCampaign(store)
	seedDispatchedEntry(t, store, c.ID, "call-fresh", t0)
	store.AddCall(&model.Call{
		BaseModel:      model.BaseModel{UpdatedAt: t0},
		OrganizationID: c.OrganizationID,
		CampaignID:     c.ID,
		PhoneNumber:    "+15550007777",
		VapiCallID:     "call-fresh",
		Status:         model.CallStatusInProgress,
		StartedAt:      &t0,
	})

	clk.Advance(3 * time.Minute)
	w := newTestWatchdog(store, clk)
	if err := w.Sweep(ctx); err != nil {
		t.Fatalf("Sweep failed: %v", err)
	}

	call, _ := store.CallByVapiID(ctx, "call-fresh")
	if call.Status != model.CallStatusInProgress {
		t.Errorf("fresh call touched by watchdog, status = %q", call.Status)
	}
	counts := entriesByStatus(store, c.ID)
	if counts[model.CallQueueStatusCalling] != 1 {
		t.Errorf("entry statuses = %v, want the entry left calling", counts)
	}
}
