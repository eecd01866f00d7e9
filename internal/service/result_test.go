package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"Outcall/internal/model"
	"Outcall/internal/repository"
)

// fakeAnalyzer 记录投递，full=true 时模拟队列打满
type fakeAnalyzer struct {
	mu   sync.Mutex
	full bool
	jobs []string
}

func (f *fakeAnalyzer) Enqueue(_ int64, transcript string, _ *model.CallEndedMessage) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.full {
		return false
	}
	f.jobs = append(f.jobs, transcript)
	return true
}

type resultFixture struct {
	store    *repository.MemoryStore
	campaign *model.Campaign
	entry    *model.CallQueueEntry
	svc      *ResultService
	analyzer *fakeAnalyzer
	now      time.Time
}

func newResultFixture(t *testing.T, retry *model.RetrySettings) *resultFixture {
	t.Helper()
	ctx := context.Background()
	now := time.Date(2026, 3, 4, 12, 0, 0, 0, time.UTC)

	store := repository.NewMemoryStore()
	store.Now = func() time.Time { return now }

	campaign := store.AddCampaign(&model.Campaign{
		OrganizationID: 1,
		Name:           "result handling",
		Status:         model.CampaignStatusActive,
		AssistantID:    "asst-1",
		PhoneNumberIDs: model.StringList{"pn-1"},
		Retry:          retry,
	})

	if _, err := store.InsertQueueEntries(ctx, []*model.CallQueueEntry{{
		CampaignID:   campaign.ID,
		ContactID:    9,
		PhoneNumber:  "+15550009999",
		ContactName:  "Queue Contact",
		Attempt:      1,
		ScheduledFor: now,
		Status:       model.CallQueueStatusPending,
	}}); err != nil {
		t.Fatalf("failed to seed entry: %v", err)
	}
	entry := store.Entries(campaign.ID)[0]
	if err := store.MarkEntryCalling(ctx, entry.ID); err != nil {
		t.Fatalf("failed to mark entry calling: %v", err)
	}
	if err := store.MarkEntryDispatched(ctx, entry.ID, "call-1", now); err != nil {
		t.Fatalf("failed to mark entry dispatched: %v", err)
	}

	analyzer := &fakeAnalyzer{}
	svc := NewResultService(nil, store, analyzer)
	svc.now = func() time.Time { return now }

	return &resultFixture{
		store:    store,
		campaign: campaign,
		entry:    entry,
		svc:      svc,
		analyzer: analyzer,
		now:      now,
	}
}

func endedMessage(callID, reason string, duration time.Duration, transcript string) *model.CallEndedMessage {
	started := time.Date(2026, 3, 4, 11, 55, 0, 0, time.UTC)
	ended := started.Add(duration)
	return &model.CallEndedMessage{
		MessageID:   "call_ended_1",
		CallID:      callID,
		EndedReason: reason,
		StartedAt:   &started,
		EndedAt:     &ended,
		Cost:        0.12,
		Transcript:  transcript,
		HasMessages: transcript != "",
		Customer:    model.CallParty{Number: "+15550009999", Name: "Queue Contact"},
		ReceivedAt:  "2026-03-04T12:00:00Z",
	}
}

func TestHandleCallEndedCompletesEntry(t *testing.T) {
	ctx := context.Background()
	f := newResultFixture(t, nil)

	msg := endedMessage("call-1", "customer-ended-call", 90*time.Second, "hello there")
	if err := f.svc.HandleCallEnded(ctx, msg); err != nil {
		t.Fatalf("HandleCallEnded failed: %v", err)
	}

	call, err := f.store.CallByVapiID(ctx, "call-1")
	if err != nil || call == nil {
		t.Fatalf("call record not found: %v", err)
	}
	if call.Status != model.CallStatusCompleted {
		t.Errorf("call status = %q, want completed", call.Status)
	}
	if call.Outcome != model.OutcomeAnswered {
		t.Errorf("call outcome = %q, want answered", call.Outcome)
	}
	if call.DurationSecs != 90 {
		t.Errorf("call duration = %d, want 90", call.DurationSecs)
	}
	if call.Transcript != "hello there" {
		t.Errorf("call transcript = %q", call.Transcript)
	}

	entries := f.store.Entries(f.campaign.ID)
	if len(entries) != 1 {
		t.Fatalf("queue has %d entries, want 1 (answered never retries)", len(entries))
	}
	if entries[0].Status != model.CallQueueStatusCompleted {
		t.Errorf("entry status = %q, want completed", entries[0].Status)
	}
	if got := f.analyzer.jobs; len(got) != 1 || got[0] != "hello there" {
		t.Errorf("analysis jobs = %v, want the transcript enqueued once", got)
	}
}

func TestHandleCallEndedSchedulesRetry(t *testing.T) {
	ctx := context.Background()
	f := newResultFixture(t, &model.RetrySettings{
		EnableRetries:   true,
		MaxRetries:      3,
		RetryOnNoAnswer: true,
		RetryDelay:      2,
		RetryDelayUnit:  "hours",
	})

	msg := endedMessage("call-1", "customer-did-not-answer", 0, "")
	if err := f.svc.HandleCallEnded(ctx, msg); err != nil {
		t.Fatalf("HandleCallEnded failed: %v", err)
	}

	var retry *model.CallQueueEntry
	for _, entry := range f.store.Entries(f.campaign.ID) {
		if entry.Attempt == 2 {
			retry = entry
		}
	}
	if retry == nil {
		t.Fatal("no retry entry created for no_answer")
	}
	if retry.Status != model.CallQueueStatusPending {
		t.Errorf("retry entry status = %q, want pending", retry.Status)
	}
	if !retry.ScheduledFor.Equal(f.now.Add(2 * time.Hour)) {
		t.Errorf("retry scheduled for %v, want %v", retry.ScheduledFor, f.now.Add(2*time.Hour))
	}
}

func TestHandleCallEndedIdempotent(t *testing.T) {
	ctx := context.Background()
	f := newResultFixture(t, &model.RetrySettings{
		EnableRetries:   true,
		MaxRetries:      3,
		RetryOnNoAnswer: true,
		RetryDelay:      1,
	})

	msg := endedMessage("call-1", "customer-did-not-answer", 0, "")
	if err := f.svc.HandleCallEnded(ctx, msg); err != nil {
		t.Fatalf("first HandleCallEnded failed: %v", err)
	}
	// 消息重投：记录合并，条目已终态，不再触发第二次重试
	if err := f.svc.HandleCallEnded(ctx, msg); err != nil {
		t.Fatalf("second HandleCallEnded failed: %v", err)
	}

	var records int
	for _, call := range f.store.Calls() {
		if call.VapiCallID == "call-1" {
			records++
		}
	}
	if records != 1 {
		t.Errorf("found %d call records, want 1", records)
	}
	var retries int
	for _, entry := range f.store.Entries(f.campaign.ID) {
		if entry.Attempt == 2 {
			retries++
		}
	}
	if retries != 1 {
		t.Errorf("found %d retry entries, want 1", retries)
	}
}

func TestHandleCallEndedUnknownCallDropped(t *testing.T) {
	ctx := context.Background()
	f := newResultFixture(t, nil)

	msg := endedMessage("call-nobody-knows", "customer-ended-call", time.Minute, "")
	if err := f.svc.HandleCallEnded(ctx, msg); err != nil {
		t.Fatalf("unknown call should be dropped without error, got: %v", err)
	}
	if got := len(f.store.Calls()); got != 0 {
		t.Errorf("unknown call produced %d call records, want 0", got)
	}
}

func TestHandleCallEndedFailureOutcome(t *testing.T) {
	ctx := context.Background()
	f := newResultFixture(t, nil)

	msg := endedMessage("call-1", "pipeline-error-openai-llm-failed", 10*time.Second, "")
	if err := f.svc.HandleCallEnded(ctx, msg); err != nil {
		t.Fatalf("HandleCallEnded failed: %v", err)
	}

	call, _ := f.store.CallByVapiID(ctx, "call-1")
	if call.Status != model.CallStatusFailed {
		t.Errorf("call status = %q, want failed", call.Status)
	}
	if call.Outcome != model.OutcomeSystemError {
		t.Errorf("call outcome = %q, want system_error", call.Outcome)
	}
}

func TestHandleCallEndedPhoneFallback(t *testing.T) {
	ctx := context.Background()
	f := newResultFixture(t, nil)

	msg := endedMessage("call-1", "voicemail", 15*time.Second, "")
	msg.Customer = model.CallParty{}
	if err := f.svc.HandleCallEnded(ctx, msg); err != nil {
		t.Fatalf("HandleCallEnded failed: %v", err)
	}

	call, _ := f.store.CallByVapiID(ctx, "call-1")
	if call.PhoneNumber != "+15550009999" {
		t.Errorf("call phone = %q, want the queue entry's number", call.PhoneNumber)
	}
	if call.ContactName != "Queue Contact" {
		t.Errorf("call contact name = %q, want the queue entry's name", call.ContactName)
	}
}

func TestHandleCallEndedWithoutTimestampsKeepsDispatchStartedAt(t *testing.T) {
	ctx := context.Background()
	f := newResultFixture(t, nil)

	dispatchedAt := f.now.Add(-time.Minute)
	if err := f.store.RecordDispatchedCall(ctx, &model.Call{
		OrganizationID: f.campaign.OrganizationID,
		CampaignID:     f.campaign.ID,
		ContactID:      &f.entry.ContactID,
		PhoneNumber:    "+15550009999",
		VapiCallID:     "call-1",
		Status:         model.CallStatusQueued,
		StartedAt:      &dispatchedAt,
	}); err != nil {
		t.Fatalf("failed to record dispatched call: %v", err)
	}

	// 供应商回调偶尔不带时间戳，合并不能把下发时的 started_at 抹掉，
	// 否则这通电话从当日预算里消失，下个 tick 会超发
	msg := endedMessage("call-1", "customer-ended-call", time.Minute, "")
	msg.StartedAt = nil
	msg.EndedAt = nil
	if err := f.svc.HandleCallEnded(ctx, msg); err != nil {
		t.Fatalf("HandleCallEnded failed: %v", err)
	}

	call, _ := f.store.CallByVapiID(ctx, "call-1")
	if call == nil {
		t.Fatal("call record not found")
	}
	if call.StartedAt == nil || !call.StartedAt.Equal(dispatchedAt) {
		t.Fatalf("call started_at = %v, want the dispatch-time %v", call.StartedAt, dispatchedAt)
	}

	midnight := time.Date(2026, 3, 4, 0, 0, 0, 0, time.UTC)
	n, err := f.store.CountCallsSince(ctx, f.campaign.ID, midnight)
	if err != nil {
		t.Fatalf("CountCallsSince failed: %v", err)
	}
	if n != 1 {
		t.Errorf("calls today = %d, want 1 (daily budget must still see the call)", n)
	}
}

func TestHandleCallEndedAnalysisQueueFull(t *testing.T) {
	ctx := context.Background()
	f := newResultFixture(t, nil)
	f.analyzer.full = true

	msg := endedMessage("call-1", "assistant-ended-call", 2*time.Minute, "long conversation")
	if err := f.svc.HandleCallEnded(ctx, msg); err != nil {
		t.Fatalf("a full analysis queue must not fail the result, got: %v", err)
	}
	call, _ := f.store.CallByVapiID(ctx, "call-1")
	if call == nil || call.Outcome != model.OutcomeCompleted {
		t.Errorf("call record missing or misclassified: %+v", call)
	}
}

func TestHandleCallEndedMergesIntoDispatchRecord(t *testing.T) {
	ctx := context.Background()
	f := newResultFixture(t, nil)

	// 下发侧已经落了初始记录
	dispatchedAt := f.now.Add(-time.Minute)
	if err := f.store.RecordDispatchedCall(ctx, &model.Call{
		OrganizationID: f.campaign.OrganizationID,
		CampaignID:     f.campaign.ID,
		ContactID:      &f.entry.ContactID,
		PhoneNumber:    "+15550009999",
		VapiCallID:     "call-1",
		Status:         model.CallStatusQueued,
		StartedAt:      &dispatchedAt,
	}); err != nil {
		t.Fatalf("failed to record dispatched call: %v", err)
	}

	msg := endedMessage("call-1", "customer-ended-call", time.Minute, "hi")
	if err := f.svc.HandleCallEnded(ctx, msg); err != nil {
		t.Fatalf("HandleCallEnded failed: %v", err)
	}

	var records int
	for _, call := range f.store.Calls() {
		if call.VapiCallID == "call-1" {
			records++
			if call.Status != model.CallStatusCompleted {
				t.Errorf("merged record status = %q, want completed", call.Status)
			}
		}
	}
	if records != 1 {
		t.Errorf("found %d records for call-1, want 1 (merged)", records)
	}
}
