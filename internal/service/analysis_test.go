package service

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"
)

func TestAnalysisDispatcherDeliversJobs(t *testing.T) {
	var (
		mu       sync.Mutex
		received []analysisJob
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var job analysisJob
		if err := json.NewDecoder(r.Body).Decode(&job); err != nil {
			t.Errorf("failed to decode analysis job: %v", err)
		}
		mu.Lock()
		received = append(received, job)
		mu.Unlock()
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	d := NewAnalysisDispatcher(nil, srv.URL, 5*time.Second, 2, 16)
	if !d.Enqueue(11, "first transcript", nil) {
		t.Error("Enqueue returned false with room in the queue")
	}
	if !d.Enqueue(22, "second transcript", nil) {
		t.Error("Enqueue returned false with room in the queue")
	}
	d.Close()

	mu.Lock()
	defer mu.Unlock()
	if len(received) != 2 {
		t.Fatalf("endpoint received %d jobs, want 2", len(received))
	}
	ids := map[int64]bool{received[0].CallRecordID: true, received[1].CallRecordID: true}
	if !ids[11] || !ids[22] {
		t.Errorf("received jobs %v, want call records 11 and 22", ids)
	}
}

func TestAnalysisDispatcherDisabledWithoutEndpoint(t *testing.T) {
	d := NewAnalysisDispatcher(nil, "", time.Second, 2, 16)
	if !d.Enqueue(1, "transcript", nil) {
		t.Error("disabled dispatcher should accept and drop silently")
	}
	d.Close()
}

func TestAnalysisDispatcherDropsWhenQueueFull(t *testing.T) {
	blocked := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		<-blocked
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	// 单 worker + 容量 1：一个任务在途、一个排队，第三个必然被丢
	d := NewAnalysisDispatcher(nil, srv.URL, 5*time.Second, 1, 1)
	d.Enqueue(1, "in flight", nil)
	d.Enqueue(2, "queued", nil)

	dropped := false
	for i := 0; i < 10; i++ {
		if !d.Enqueue(3, "overflow", nil) {
			dropped = true
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	close(blocked)
	d.Close()

	if !dropped {
		t.Error("Enqueue never reported a full queue")
	}
}
