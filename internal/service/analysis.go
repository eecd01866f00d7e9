package service

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"

	"Outcall/internal/model"
)

// analysisJob 一条待投递的分析任务
type analysisJob struct {
	CallRecordID int64                   `json:"call_record_id"`
	Transcript   string                  `json:"transcript"`
	RawPayload   *model.CallEndedMessage `json:"raw_payload,omitempty"`
}

// AnalysisDispatcher 通话转写的尽力而为投递器：固定 worker 数 + 有界队列，
// 队列满了直接丢弃并记日志，绝不反压结果处理主流程
type AnalysisDispatcher struct {
	logger   *zap.Logger
	endpoint string
	client   *http.Client
	jobs     chan analysisJob

	wg        sync.WaitGroup
	closeOnce sync.Once
}

// NewAnalysisDispatcher 构造分析投递器并拉起 worker
// endpoint 为空表示未接入下游，Enqueue 会静默丢弃
func NewAnalysisDispatcher(log *zap.Logger, endpoint string, timeout time.Duration, workers, queueCap int) *AnalysisDispatcher {
	if log == nil {
		log = zap.NewNop()
	}
	if workers <= 0 {
		workers = 4
	}
	if queueCap <= 0 {
		queueCap = 256
	}

	d := &AnalysisDispatcher{
		logger:   log,
		endpoint: endpoint,
		client:   &http.Client{Timeout: timeout},
		jobs:     make(chan analysisJob, queueCap),
	}
	if endpoint == "" {
		log.Info("Analysis endpoint not configured, enrichment disabled")
		return d
	}

	for i := 0; i < workers; i++ {
		d.wg.Add(1)
		go d.worker()
	}
	return d
}

// Enqueue 非阻塞投递，返回 false 表示队列已满被丢弃
func (d *AnalysisDispatcher) Enqueue(callRecordID int64, transcript string, raw *model.CallEndedMessage) bool {
	if d.endpoint == "" {
		return true
	}
	select {
	case d.jobs <- analysisJob{CallRecordID: callRecordID, Transcript: transcript, RawPayload: raw}:
		return true
	default:
		return false
	}
}

// Close 停止接收并等 worker 把队列清完
func (d *AnalysisDispatcher) Close() {
	d.closeOnce.Do(func() {
		close(d.jobs)
	})
	d.wg.Wait()
}

func (d *AnalysisDispatcher) worker() {
	defer d.wg.Done()
	for job := range d.jobs {
		if err := d.post(job); err != nil {
			d.logger.Warn("Analysis delivery failed",
				zap.Int64("call_record_id", job.CallRecordID),
				zap.Error(err))
		}
	}
}

func (d *AnalysisDispatcher) post(job analysisJob) error {
	body, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("failed to marshal analysis job: %w", err)
	}
	resp, err := d.client.Post(d.endpoint, "application/json", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to reach analysis endpoint: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("analysis endpoint returned status %d", resp.StatusCode)
	}
	return nil
}
