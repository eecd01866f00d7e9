package repository

import (
	"context"
	"fmt"
	"sync"
	"time"

	"Outcall/internal/model"
)

// MemoryStore 纯内存的存储实现，给引擎和服务的测试用
// Now 可替换成假时钟，行为对齐 GormStore
type MemoryStore struct {
	mu  sync.Mutex
	Now func() time.Time

	nextID    int64
	campaigns map[int64]*model.Campaign
	orgs      map[int64]*model.Organization
	locks     map[int64]*model.CampaignLock
	entries   map[int64]*model.CallQueueEntry
	calls     map[int64]*model.Call
}

// NewMemoryStore 构造内存存储
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		Now:       time.Now,
		campaigns: make(map[int64]*model.Campaign),
		orgs:      make(map[int64]*model.Organization),
		locks:     make(map[int64]*model.CampaignLock),
		entries:   make(map[int64]*model.CallQueueEntry),
		calls:     make(map[int64]*model.Call),
	}
}

func (s *MemoryStore) nextIDLocked() int64 {
	s.nextID++
	return s.nextID
}

// AddCampaign 测试用：写入活动并分配 ID
func (s *MemoryStore) AddCampaign(c *model.Campaign) *model.Campaign {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c.ID == 0 {
		c.ID = s.nextIDLocked()
	}
	now := s.Now()
	c.CreatedAt, c.UpdatedAt = now, now
	s.campaigns[c.ID] = c
	return c
}

// AddOrganization 测试用：写入组织并分配 ID
func (s *MemoryStore) AddOrganization(o *model.Organization) *model.Organization {
	s.mu.Lock()
	defer s.mu.Unlock()
	if o.ID == 0 {
		o.ID = s.nextIDLocked()
	}
	s.orgs[o.ID] = o
	return o
}

// AddCall 测试用：直接写入通话记录
func (s *MemoryStore) AddCall(c *model.Call) *model.Call {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c.ID == 0 {
		c.ID = s.nextIDLocked()
	}
	if c.UpdatedAt.IsZero() {
		c.UpdatedAt = s.Now()
	}
	s.calls[c.ID] = c
	return c
}

// Entries 测试用：按活动取全部条目的快照
func (s *MemoryStore) Entries(campaignID int64) []*model.CallQueueEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*model.CallQueueEntry
	for _, e := range s.entries {
		if e.CampaignID == campaignID {
			cp := *e
			out = append(out, &cp)
		}
	}
	return out
}

// Calls 测试用：取全部通话记录的快照
func (s *MemoryStore) Calls() []*model.Call {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*model.Call
	for _, c := range s.calls {
		cp := *c
		out = append(out, &cp)
	}
	return out
}

func (s *MemoryStore) SchedulableCampaigns(_ context.Context) ([]*model.Campaign, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*model.Campaign
	for _, c := range s.campaigns {
		if c.Status == model.CampaignStatusActive || c.Status == model.CampaignStatusScheduled {
			cp := *c
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (s *MemoryStore) CampaignByID(_ context.Context, id int64) (*model.Campaign, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.campaigns[id]
	if !ok {
		return nil, fmt.Errorf("campaign %d not found", id)
	}
	cp := *c
	return &cp, nil
}

func (s *MemoryStore) SetCampaignStatus(_ context.Context, id int64, status model.CampaignStatus, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.campaigns[id]
	if !ok {
		return fmt.Errorf("campaign %d not found", id)
	}
	c.Status = status
	c.UpdatedAt = s.Now()
	switch status {
	case model.CampaignStatusActive:
		if c.StartedAt == nil {
			t := at
			c.StartedAt = &t
		}
	case model.CampaignStatusCompleted:
		t := at
		c.CompletedAt = &t
	}
	return nil
}

func (s *MemoryStore) OrganizationByID(_ context.Context, id int64) (*model.Organization, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.orgs[id]
	if !ok {
		return nil, fmt.Errorf("organization %d not found", id)
	}
	cp := *o
	return &cp, nil
}

func (s *MemoryStore) AcquireCampaignLock(_ context.Context, campaignID int64, now time.Time, ttl time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if lock, ok := s.locks[campaignID]; ok && lock.ExpiresAt.After(now) {
		return false, nil
	}
	s.locks[campaignID] = &model.CampaignLock{
		CampaignID: campaignID,
		LockedAt:   now,
		ExpiresAt:  now.Add(ttl),
	}
	return true, nil
}

func (s *MemoryStore) DueQueueEntries(_ context.Context, campaignID int64, now time.Time, limit int) ([]*model.CallQueueEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*model.CallQueueEntry
	for _, e := range s.entries {
		if e.CampaignID == campaignID && e.Status == model.CallQueueStatusPending && !e.ScheduledFor.After(now) {
			cp := *e
			out = append(out, &cp)
		}
	}
	// 与 SQL 的排序保持一致
	for i := 0; i < len(out); i++ {
		for j := i + 1; j < len(out); j++ {
			if out[j].ScheduledFor.Before(out[i].ScheduledFor) ||
				(out[j].ScheduledFor.Equal(out[i].ScheduledFor) && out[j].ID < out[i].ID) {
				out[i], out[j] = out[j], out[i]
			}
		}
	}
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *MemoryStore) CountPendingEntries(_ context.Context, campaignID int64) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for _, e := range s.entries {
		if e.CampaignID == campaignID && e.Status == model.CallQueueStatusPending {
			n++
		}
	}
	return n, nil
}

func (s *MemoryStore) HasRecentDial(_ context.Context, contactID int64, phone string, since time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, e := range s.entries {
		if (e.ContactID == contactID || e.PhoneNumber == phone) &&
			e.Status == model.CallQueueStatusCalling && !e.UpdatedAt.Before(since) {
			return true, nil
		}
	}
	for _, c := range s.calls {
		if c.PhoneNumber == phone && !c.Status.Terminal() && !c.CreatedAt.Before(since) {
			return true, nil
		}
	}
	return false, nil
}

func (s *MemoryStore) MarkEntryCalling(_ context.Context, entryID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[entryID]
	if !ok || e.Status != model.CallQueueStatusPending {
		return fmt.Errorf("entry %d is not pending", entryID)
	}
	e.Status = model.CallQueueStatusCalling
	e.UpdatedAt = s.Now()
	return nil
}

func (s *MemoryStore) MarkEntryDispatched(_ context.Context, entryID int64, callID string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[entryID]
	if !ok {
		return fmt.Errorf("entry %d not found", entryID)
	}
	e.LastCallID = &callID
	e.LastAttemptAt = &at
	e.UpdatedAt = s.Now()
	return nil
}

func (s *MemoryStore) MarkEntryFailed(_ context.Context, entryID int64, outcome model.CallOutcome) error {
	return s.finalizeEntry(entryID, model.CallQueueStatusFailed, outcome)
}

func (s *MemoryStore) CompleteEntry(_ context.Context, entryID int64, outcome model.CallOutcome) error {
	return s.finalizeEntry(entryID, model.CallQueueStatusCompleted, outcome)
}

func (s *MemoryStore) finalizeEntry(entryID int64, status model.CallQueueStatus, outcome model.CallOutcome) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[entryID]
	if !ok {
		return fmt.Errorf("entry %d not found", entryID)
	}
	e.Status = status
	o := outcome
	e.LastOutcome = &o
	e.UpdatedAt = s.Now()
	return nil
}

func (s *MemoryStore) InsertQueueEntries(_ context.Context, entries []*model.CallQueueEntry) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var inserted int64
next:
	for _, e := range entries {
		for _, existing := range s.entries {
			if existing.CampaignID == e.CampaignID &&
				existing.ContactID == e.ContactID &&
				existing.Attempt == e.Attempt {
				continue next
			}
		}
		cp := *e
		cp.ID = s.nextIDLocked()
		now := s.Now()
		cp.CreatedAt, cp.UpdatedAt = now, now
		s.entries[cp.ID] = &cp
		inserted++
	}
	return inserted, nil
}

func (s *MemoryStore) EntryByCallID(_ context.Context, vapiCallID string) (*model.CallQueueEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var found *model.CallQueueEntry
	for _, e := range s.entries {
		if e.LastCallID != nil && *e.LastCallID == vapiCallID {
			if found == nil || e.Attempt > found.Attempt {
				found = e
			}
		}
	}
	if found == nil {
		return nil, nil
	}
	cp := *found
	return &cp, nil
}

func (s *MemoryStore) StaleCallingEntries(_ context.Context, olderThan time.Time) ([]*model.CallQueueEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*model.CallQueueEntry
	for _, e := range s.entries {
		if e.Status == model.CallQueueStatusCalling && e.UpdatedAt.Before(olderThan) {
			cp := *e
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (s *MemoryStore) CountCallsSince(_ context.Context, campaignID int64, since time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for _, c := range s.calls {
		if c.CampaignID == campaignID && c.StartedAt != nil && !c.StartedAt.Before(since) {
			n++
		}
	}
	return n, nil
}

func (s *MemoryStore) RecordDispatchedCall(_ context.Context, call *model.Call) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range s.calls {
		if c.VapiCallID == call.VapiCallID {
			return nil
		}
	}
	cp := *call
	cp.ID = s.nextIDLocked()
	now := s.Now()
	cp.CreatedAt, cp.UpdatedAt = now, now
	s.calls[cp.ID] = &cp
	return nil
}

func (s *MemoryStore) UpsertCall(_ context.Context, call *model.Call) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range s.calls {
		if c.VapiCallID == call.VapiCallID {
			c.Status = call.Status
			c.Outcome = call.Outcome
			c.EndReason = call.EndReason
			c.DurationSecs = call.DurationSecs
			c.Cost = call.Cost
			// 回调缺时间戳时保留下发时落的值
			if call.StartedAt != nil {
				c.StartedAt = call.StartedAt
			}
			if call.EndedAt != nil {
				c.EndedAt = call.EndedAt
			}
			c.Transcript = call.Transcript
			c.RecordingURL = call.RecordingURL
			c.ContactName = call.ContactName
			c.PhoneNumber = call.PhoneNumber
			c.UpdatedAt = s.Now()
			call.ID = c.ID
			return nil
		}
	}
	cp := *call
	cp.ID = s.nextIDLocked()
	now := s.Now()
	cp.CreatedAt, cp.UpdatedAt = now, now
	s.calls[cp.ID] = &cp
	call.ID = cp.ID
	return nil
}

func (s *MemoryStore) CallByVapiID(_ context.Context, vapiCallID string) (*model.Call, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range s.calls {
		if c.VapiCallID == vapiCallID {
			cp := *c
			return &cp, nil
		}
	}
	return nil, nil
}

func (s *MemoryStore) StaleCalls(_ context.Context, olderThan time.Time) ([]*model.Call, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*model.Call
	for _, c := range s.calls {
		if !c.Status.Terminal() && c.UpdatedAt.Before(olderThan) {
			cp := *c
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (s *MemoryStore) ResolveCall(_ context.Context, id int64, status model.CallStatus, outcome model.CallOutcome) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.calls[id]
	if !ok {
		return fmt.Errorf("call %d not found", id)
	}
	if c.Status.Terminal() {
		return nil
	}
	c.Status = status
	c.Outcome = outcome
	c.UpdatedAt = s.Now()
	return nil
}
