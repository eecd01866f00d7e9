package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"Outcall/internal/model"
	"Outcall/internal/repository"
	"Outcall/pkg/vapi"
)

// fakeClock 可推进的假时钟，引擎和存储共用
type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock(t time.Time) *fakeClock {
	return &fakeClock{t: t}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

// fakeVoice 记录下发请求并返回递增的 call id
type fakeVoice struct {
	mu    sync.Mutex
	fail  error
	n     int
	calls []vapi.CallRequest
}

func (f *fakeVoice) CreateCall(_ context.Context, _ vapi.Credentials, req vapi.CallRequest) (*vapi.Call, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail != nil {
		return nil, f.fail
	}
	f.n++
	f.calls = append(f.calls, req)
	return &vapi.Call{ID: fmt.Sprintf("call-%d", f.n), Status: "queued"}, nil
}

func (f *fakeVoice) requests() []vapi.CallRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]vapi.CallRequest, len(f.calls))
	copy(out, f.calls)
	return out
}

// fakeCreds 固定返回测试凭证
type fakeCreds struct {
	found bool
	err   error
}

func (f *fakeCreds) Resolve(_ context.Context, _ int64) (bool, vapi.Credentials, error) {
	if f.err != nil {
		return false, vapi.Credentials{}, f.err
	}
	if !f.found {
		return false, vapi.Credentials{}, nil
	}
	return true, vapi.Credentials{APIKey: "test-key", OrgID: "org-test"}, nil
}

func newTestExecutor(store *repository.MemoryStore, voice VoiceCaller, creds CredentialResolver, clk *fakeClock) *Executor {
	e := NewExecutor(nil, store, voice, creds, nil, Options{
		LockTTL:          time.Minute,
		DispatchPause:    time.Millisecond,
		DialTimeout:      time.Second,
		DuplicateWindow:  time.Hour,
		DefaultWorkStart: "00:00",
		DefaultWorkEnd:   "23:59",
		DefaultTimezone:  "UTC",
	})
	e.now = clk.Now
	return e
}

func activeCampaign(store *repository.MemoryStore, phones ...string) *model.Campaign {
	if len(phones) == 0 {
		phones = []string{"pn-1"}
	}
	return store.AddCampaign(&model.Campaign{
		OrganizationID: 1,
		Name:           "outreach",
		Status:         model.CampaignStatusActive,
		AssistantID:    "asst-1",
		PhoneNumberIDs: model.StringList(phones),
		WorkingHours:   &model.WorkingHours{Start: "00:00", End: "23:59", Timezone: "UTC"},
		WorkingDays:    allDays(),
	})
}

func seedContacts(t *testing.T, store *repository.MemoryStore, campaignID int64, n int, due time.Time) {
	t.Helper()
	entries := make([]*model.CallQueueEntry, 0, n)
	for i := 0; i < n; i++ {
		entries = append(entries, &model.CallQueueEntry{
			CampaignID:   campaignID,
			ContactID:    int64(100 + i),
			PhoneNumber:  fmt.Sprintf("+1555000%04d", i),
			ContactName:  fmt.Sprintf("Contact %d", i),
			Attempt:      1,
			ScheduledFor: due,
			Status:       model.CallQueueStatusPending,
		})
	}
	if _, err := store.InsertQueueEntries(context.Background(), entries); err != nil {
		t.Fatalf("failed to seed queue entries: %v", err)
	}
}

func entriesByStatus(store *repository.MemoryStore, campaignID int64) map[model.CallQueueStatus]int {
	counts := make(map[model.CallQueueStatus]int)
	for _, e := range store.Entries(campaignID) {
		counts[e.Status]++
	}
	return counts
}

func TestTickDispatchesDueEntries(t *testing.T) {
	ctx := context.Background()
	clk := newFakeClock(time.Date(2026, 3, 4, 12, 0, 0, 0, time.UTC))
	store := repository.NewMemoryStore()
	store.Now = clk.Now
	voice := &fakeVoice{}
	e := newTestExecutor(store, voice, &fakeCreds{found: true}, clk)

	c := activeCampaign(store)
	seedContacts(t, store, c.ID, 3, clk.Now())

	if err := e.RunTick(ctx); err != nil {
		t.Fatalf("RunTick failed: %v", err)
	}

	if got := len(voice.requests()); got != 3 {
		t.Fatalf("dispatched %d calls, want 3", got)
	}
	for _, entry := range store.Entries(c.ID) {
		if entry.Status != model.CallQueueStatusCalling {
			t.Errorf("entry %d status = %q, want calling", entry.ID, entry.Status)
		}
		if entry.LastCallID == nil || *entry.LastCallID == "" {
			t.Errorf("entry %d has no call id after dispatch", entry.ID)
		}
	}
	calls := store.Calls()
	if len(calls) != 3 {
		t.Fatalf("recorded %d call rows, want 3", len(calls))
	}
	for _, call := range calls {
		if call.Status != model.CallStatusQueued {
			t.Errorf("call %q status = %q, want queued", call.VapiCallID, call.Status)
		}
	}
}

func TestTickCompletesDrainedCampaign(t *testing.T) {
	ctx := context.Background()
	clk := newFakeClock(time.Date(2026, 3, 4, 12, 0, 0, 0, time.UTC))
	store := repository.NewMemoryStore()
	store.Now = clk.Now
	e := newTestExecutor(store, &fakeVoice{}, &fakeCreds{found: true}, clk)

	c := activeCampaign(store)

	if err := e.RunTick(ctx); err != nil {
		t.Fatalf("RunTick failed: %v", err)
	}

	got, err := store.CampaignByID(ctx, c.ID)
	if err != nil {
		t.Fatalf("failed to reload campaign: %v", err)
	}
	if got.Status != model.CampaignStatusCompleted {
		t.Errorf("campaign status = %q, want completed", got.Status)
	}
	if got.CompletedAt == nil {
		t.Error("completed campaign has no completed_at")
	}
}

func TestDailyLimitCapsDispatch(t *testing.T) {
	ctx := context.Background()
	clk := newFakeClock(time.Date(2026, 3, 4, 12, 0, 0, 0, time.UTC))
	store := repository.NewMemoryStore()
	store.Now = clk.Now
	voice := &fakeVoice{}
	e := newTestExecutor(store, voice, &fakeCreds{found: true}, clk)

	c := activeCampaign(store)
	c.CallLimit = &model.CallLimitSettings{EnableDailyLimit: true, DailyCallLimit: 2}
	seedContacts(t, store, c.ID, 5, clk.Now())

	// 今天已经打过一通，预算只剩 1
	madeAt := clk.Now().Add(-2 * time.Hour)
	store.AddCall(&model.Call{
		OrganizationID: c.OrganizationID,
		CampaignID:     c.ID,
		PhoneNumber:    "+15559990000",
		VapiCallID:     "call-earlier",
		Status:         model.CallStatusCompleted,
		StartedAt:      &madeAt,
	})

	if err := e.RunTick(ctx); err != nil {
		t.Fatalf("RunTick failed: %v", err)
	}

	if got := len(voice.requests()); got != 1 {
		t.Fatalf("dispatched %d calls, want 1 (budget exhausted)", got)
	}
	counts := entriesByStatus(store, c.ID)
	if counts[model.CallQueueStatusCalling] != 1 || counts[model.CallQueueStatusPending] != 4 {
		t.Errorf("entry statuses = %v, want 1 calling / 4 pending", counts)
	}

	// 预算用光后的 tick 什么都不下发
	clk.Advance(2 * time.Minute)
	if err := e.RunTick(ctx); err != nil {
		t.Fatalf("second RunTick failed: %v", err)
	}
	if got := len(voice.requests()); got != 1 {
		t.Errorf("dispatched %d calls after budget exhausted, want still 1", got)
	}
}

func TestRoundRobinPhoneSelection(t *testing.T) {
	ctx := context.Background()
	clk := newFakeClock(time.Date(2026, 3, 4, 12, 0, 0, 0, time.UTC))
	store := repository.NewMemoryStore()
	store.Now = clk.Now
	voice := &fakeVoice{}
	e := newTestExecutor(store, voice, &fakeCreds{found: true}, clk)

	c := activeCampaign(store, "pn-a", "pn-b", "pn-c")
	entries := []*model.CallQueueEntry{
		{CampaignID: c.ID, ContactID: 1, PhoneNumber: "+15550000001", Attempt: 1, ScheduledFor: clk.Now(), Status: model.CallQueueStatusPending},
		{CampaignID: c.ID, ContactID: 2, PhoneNumber: "+15550000002", Attempt: 2, ScheduledFor: clk.Now(), Status: model.CallQueueStatusPending},
		{CampaignID: c.ID, ContactID: 3, PhoneNumber: "+15550000003", Attempt: 3, ScheduledFor: clk.Now(), Status: model.CallQueueStatusPending},
	}
	if _, err := store.InsertQueueEntries(ctx, entries); err != nil {
		t.Fatalf("failed to seed entries: %v", err)
	}

	if err := e.RunTick(ctx); err != nil {
		t.Fatalf("RunTick failed: %v", err)
	}

	// 号码池按 attempt % len(pool) 轮转
	want := map[string]string{
		"+15550000001": "pn-b",
		"+15550000002": "pn-c",
		"+15550000003": "pn-a",
	}
	reqs := voice.requests()
	if len(reqs) != 3 {
		t.Fatalf("dispatched %d calls, want 3", len(reqs))
	}
	for _, req := range reqs {
		if req.PhoneNumberID != want[req.Customer.Number] {
			t.Errorf("contact %s dialed from %q, want %q",
				req.Customer.Number, req.PhoneNumberID, want[req.Customer.Number])
		}
	}
}

func TestLockedCampaignSkipped(t *testing.T) {
	ctx := context.Background()
	clk := newFakeClock(time.Date(2026, 3, 4, 12, 0, 0, 0, time.UTC))
	store := repository.NewMemoryStore()
	store.Now = clk.Now
	voice := &fakeVoice{}
	e := newTestExecutor(store, voice, &fakeCreds{found: true}, clk)

	c := activeCampaign(store)
	seedContacts(t, store, c.ID, 2, clk.Now())

	// 另一个实例已持有活动锁
	if ok, err := store.AcquireCampaignLock(ctx, c.ID, clk.Now(), 5*time.Minute); err != nil || !ok {
		t.Fatalf("failed to pre-acquire lock: ok=%v err=%v", ok, err)
	}

	if err := e.RunTick(ctx); err != nil {
		t.Fatalf("RunTick failed: %v", err)
	}
	if got := len(voice.requests()); got != 0 {
		t.Errorf("dispatched %d calls while campaign locked, want 0", got)
	}

	// 锁过期后恢复下发
	clk.Advance(6 * time.Minute)
	if err := e.RunTick(ctx); err != nil {
		t.Fatalf("second RunTick failed: %v", err)
	}
	if got := len(voice.requests()); got != 2 {
		t.Errorf("dispatched %d calls after lock expired, want 2", got)
	}
}

func TestScheduledCampaignActivation(t *testing.T) {
	ctx := context.Background()
	clk := newFakeClock(time.Date(2026, 3, 4, 12, 0, 0, 0, time.UTC))
	store := repository.NewMemoryStore()
	store.Now = clk.Now
	voice := &fakeVoice{}
	e := newTestExecutor(store, voice, &fakeCreds{found: true}, clk)

	c := activeCampaign(store)
	future := clk.Now().Add(30 * time.Minute)
	c.Status = model.CampaignStatusScheduled
	c.ScheduledStart = &future
	seedContacts(t, store, c.ID, 1, clk.Now())

	if err := e.RunTick(ctx); err != nil {
		t.Fatalf("RunTick failed: %v", err)
	}
	got, _ := store.CampaignByID(ctx, c.ID)
	if got.Status != model.CampaignStatusScheduled {
		t.Errorf("campaign activated %v early, status = %q", future.Sub(clk.Now()), got.Status)
	}
	if len(voice.requests()) != 0 {
		t.Error("scheduled campaign dispatched before its start time")
	}

	clk.Advance(31 * time.Minute)
	if err := e.RunTick(ctx); err != nil {
		t.Fatalf("second RunTick failed: %v", err)
	}
	got, _ = store.CampaignByID(ctx, c.ID)
	if got.Status != model.CampaignStatusActive {
		t.Errorf("campaign status = %q after start time, want active", got.Status)
	}
	if got.StartedAt == nil {
		t.Error("activated campaign has no started_at")
	}
	if len(voice.requests()) != 1 {
		t.Errorf("dispatched %d calls after activation, want 1", len(voice.requests()))
	}
}

func TestInFlightContactLeftPending(t *testing.T) {
	ctx := context.Background()
	clk := newFakeClock(time.Date(2026, 3, 4, 12, 0, 0, 0, time.UTC))
	store := repository.NewMemoryStore()
	store.Now = clk.Now
	voice := &fakeVoice{}
	e := newTestExecutor(store, voice, &fakeCreds{found: true}, clk)

	c := activeCampaign(store)
	if _, err := store.InsertQueueEntries(ctx, []*model.CallQueueEntry{
		{CampaignID: c.ID, ContactID: 1, PhoneNumber: "+15550000001", Attempt: 1, ScheduledFor: clk.Now(), Status: model.CallQueueStatusPending},
		{CampaignID: c.ID, ContactID: 2, PhoneNumber: "+15550000001", Attempt: 1, ScheduledFor: clk.Now(), Status: model.CallQueueStatusPending},
	}); err != nil {
		t.Fatalf("failed to seed entries: %v", err)
	}
	var first int64
	for _, entry := range store.Entries(c.ID) {
		if entry.ContactID == 1 {
			first = entry.ID
		}
	}
	if err := store.MarkEntryCalling(ctx, first); err != nil {
		t.Fatalf("failed to mark first entry calling: %v", err)
	}

	if err := e.RunTick(ctx); err != nil {
		t.Fatalf("RunTick failed: %v", err)
	}

	// 同号码已有在途拨打，第二个条目留在 pending 等下个窗口
	if got := len(voice.requests()); got != 0 {
		t.Errorf("dispatched %d calls with an in-flight dial on the number, want 0", got)
	}
	counts := entriesByStatus(store, c.ID)
	if counts[model.CallQueueStatusPending] != 1 {
		t.Errorf("entry statuses = %v, want the duplicate left pending", counts)
	}
}

func TestMissingCredentialsFailsEntry(t *testing.T) {
	ctx := context.Background()
	clk := newFakeClock(time.Date(2026, 3, 4, 12, 0, 0, 0, time.UTC))
	store := repository.NewMemoryStore()
	store.Now = clk.Now
	voice := &fakeVoice{}
	e := newTestExecutor(store, voice, &fakeCreds{found: false}, clk)

	c := activeCampaign(store)
	c.Retry = &model.RetrySettings{
		EnableRetries: true,
		MaxRetries:    3,
		RetryOnFailed: true,
		RetryDelay:    1,
	}
	seedContacts(t, store, c.ID, 1, clk.Now())

	if err := e.RunTick(ctx); err != nil {
		t.Fatalf("RunTick failed: %v", err)
	}

	if len(voice.requests()) != 0 {
		t.Error("call dispatched without credentials")
	}
	var failed, pending int
	for _, entry := range store.Entries(c.ID) {
		switch entry.Status {
		case model.CallQueueStatusFailed:
			failed++
			if entry.LastOutcome == nil || *entry.LastOutcome != model.OutcomeConfigurationError {
				t.Errorf("failed entry outcome = %v, want configuration_error", entry.LastOutcome)
			}
		case model.CallQueueStatusPending:
			pending++
			if entry.Attempt != 2 {
				t.Errorf("retry entry attempt = %d, want 2", entry.Attempt)
			}
		}
	}
	if failed != 1 || pending != 1 {
		t.Errorf("got %d failed / %d pending entries, want 1 / 1", failed, pending)
	}
}

func TestProviderRejectionClassifiedAsVapiError(t *testing.T) {
	ctx := context.Background()
	clk := newFakeClock(time.Date(2026, 3, 4, 12, 0, 0, 0, time.UTC))
	store := repository.NewMemoryStore()
	store.Now = clk.Now
	voice := &fakeVoice{fail: &vapi.APIError{StatusCode: 402, Body: "quota exceeded"}}
	e := newTestExecutor(store, voice, &fakeCreds{found: true}, clk)

	c := activeCampaign(store)
	seedContacts(t, store, c.ID, 1, clk.Now())

	// 下发失败会上抛到 tick 级别的聚合错误
	if err := e.RunTick(ctx); err != nil {
		t.Logf("RunTick reported dispatch failure (expected): %v", err)
	}

	var entry *model.CallQueueEntry
	for _, ent := range store.Entries(c.ID) {
		if ent.Attempt == 1 {
			entry = ent
		}
	}
	if entry == nil {
		t.Fatal("seeded entry not found")
	}
	if entry.Status != model.CallQueueStatusFailed {
		t.Fatalf("entry status = %q, want failed", entry.Status)
	}
	if entry.LastOutcome == nil || *entry.LastOutcome != model.OutcomeVapiError {
		t.Errorf("entry outcome = %v, want vapi_error", entry.LastOutcome)
	}
}

func TestNonAPIDispatchErrorClassifiedAsSystemError(t *testing.T) {
	ctx := context.Background()
	clk := newFakeClock(time.Date(2026, 3, 4, 12, 0, 0, 0, time.UTC))
	store := repository.NewMemoryStore()
	store.Now = clk.Now
	voice := &fakeVoice{fail: errors.New("connection refused")}
	e := newTestExecutor(store, voice, &fakeCreds{found: true}, clk)

	c := activeCampaign(store)
	seedContacts(t, store, c.ID, 1, clk.Now())

	_ = e.RunTick(ctx)

	for _, entry := range store.Entries(c.ID) {
		if entry.Attempt != 1 {
			continue
		}
		if entry.Status != model.CallQueueStatusFailed {
			t.Fatalf("entry status = %q, want failed", entry.Status)
		}
		if entry.LastOutcome == nil || *entry.LastOutcome != model.OutcomeSystemError {
			t.Errorf("entry outcome = %v, want system_error", entry.LastOutcome)
		}
	}
}

func TestOutsideWindowNoDispatch(t *testing.T) {
	ctx := context.Background()
	// 周三 20:00，窗口 09:00-17:00
	clk := newFakeClock(time.Date(2026, 3, 4, 20, 0, 0, 0, time.UTC))
	store := repository.NewMemoryStore()
	store.Now = clk.Now
	voice := &fakeVoice{}
	e := newTestExecutor(store, voice, &fakeCreds{found: true}, clk)

	c := activeCampaign(store)
	c.WorkingHours = &model.WorkingHours{Start: "09:00", End: "17:00", Timezone: "UTC"}
	seedContacts(t, store, c.ID, 2, clk.Now())

	if err := e.RunTick(ctx); err != nil {
		t.Fatalf("RunTick failed: %v", err)
	}
	if got := len(voice.requests()); got != 0 {
		t.Errorf("dispatched %d calls outside the dial window, want 0", got)
	}
	counts := entriesByStatus(store, c.ID)
	if counts[model.CallQueueStatusPending] != 2 {
		t.Errorf("entry statuses = %v, want all pending", counts)
	}
}

func TestFiveContactCampaignRunsToCompletion(t *testing.T) {
	ctx := context.Background()
	clk := newFakeClock(time.Date(2026, 3, 4, 12, 0, 0, 0, time.UTC))
	store := repository.NewMemoryStore()
	store.Now = clk.Now
	voice := &fakeVoice{}
	e := newTestExecutor(store, voice, &fakeCreds{found: true}, clk)

	c := activeCampaign(store)
	seedContacts(t, store, c.ID, 5, clk.Now())

	if err := e.RunTick(ctx); err != nil {
		t.Fatalf("dispatch tick failed: %v", err)
	}
	if got := len(voice.requests()); got != 5 {
		t.Fatalf("dispatched %d calls, want 5", got)
	}

	// 所有回调都到了：条目逐个落终态
	for _, entry := range store.Entries(c.ID) {
		if err := store.CompleteEntry(ctx, entry.ID, model.OutcomeAnswered); err != nil {
			t.Fatalf("failed to complete entry %d: %v", entry.ID, err)
		}
	}

	clk.Advance(2 * time.Minute)
	if err := e.RunTick(ctx); err != nil {
		t.Fatalf("drain tick failed: %v", err)
	}

	got, _ := store.CampaignByID(ctx, c.ID)
	if got.Status != model.CampaignStatusCompleted {
		t.Errorf("campaign status = %q after queue drained, want completed", got.Status)
	}
	counts := entriesByStatus(store, c.ID)
	if counts[model.CallQueueStatusCompleted] != 5 {
		t.Errorf("entry statuses = %v, want 5 completed", counts)
	}
}
