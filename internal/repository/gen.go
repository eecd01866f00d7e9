package repository

import (
	"fmt"
	"os"

	"gorm.io/gen"

	"Outcall/storage/database"
)

// ========== Campaign 相关查询接口 ==========

// CampaignQuerier 活动查询接口
type CampaignQuerier interface {
	// ListSchedulable 查询可调度的活动（用于引擎 tick）
	// SELECT * FROM @@table
	// WHERE status IN ('active', 'scheduled')
	// ORDER BY created_at ASC
	ListSchedulable() ([]*gen.T, error)

	// ListByOrganization 按组织查询活动（分页）
	// SELECT * FROM @@table
	// WHERE organization_id = @orgID
	//   {{if status != ""}}
	//   AND status = @status
	//   {{end}}
	// ORDER BY created_at DESC
	// LIMIT @limit OFFSET @offset
	ListByOrganization(orgID int64, status string, limit, offset int) ([]*gen.T, error)
}

// ========== CallQueue 相关查询接口 ==========

// CallQueueQuerier 呼叫队列查询接口
type CallQueueQuerier interface {
	// ListDue 查询到期待拨的条目（用于 Dispatcher）
	// SELECT * FROM @@table
	// WHERE campaign_id = @campaignID
	//   AND status = 'pending'
	//   AND scheduled_for <= NOW()
	// ORDER BY scheduled_for ASC, id ASC
	// LIMIT @limit
	ListDue(campaignID int64, limit int) ([]*gen.T, error)

	// ListStaleCalling 查询长时间卡在 calling 的条目（用于看门狗）
	// SELECT * FROM @@table
	// WHERE status = 'calling'
	//   AND updated_at < NOW() - INTERVAL '30 minutes'
	ListStaleCalling() ([]*gen.T, error)

	// GetByCallID 按供应商 call id 查条目
	// SELECT * FROM @@table
	// WHERE last_call_id = @callID
	// ORDER BY attempt DESC
	// LIMIT 1
	GetByCallID(callID string) (*gen.T, error)
}

// ========== Call 相关查询接口 ==========

// CallQuerier 通话记录查询接口
type CallQuerier interface {
	// GetByVapiCallID 按供应商 call id 查记录
	// SELECT * FROM @@table WHERE vapi_call_id = @callID LIMIT 1
	GetByVapiCallID(callID string) (*gen.T, error)

	// ListStale 查询卡在非终态的记录（用于看门狗）
	// SELECT * FROM @@table
	// WHERE status IN ('queued', 'ringing', 'in_progress')
	//   AND updated_at < NOW() - INTERVAL '5 minutes'
	ListStale() ([]*gen.T, error)

	// CountToday 统计活动今日下发量（用于每日限额）
	// SELECT COUNT(*) FROM @@table
	// WHERE campaign_id = @campaignID AND started_at >= @since
	CountToday(campaignID int64, since string) (int64, error)
}

func Generate() error {

	if err := database.Init(); err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}

	// 运行数据库迁移（确保表存在）
	if err := database.Migrate(); err != nil {
		return fmt.Errorf("failed to run database migration: %w", err)
	}

	db := database.DB()
	if db == nil {
		return fmt.Errorf("database connection is nil")
	}

	g := gen.NewGenerator(gen.Config{
		OutPath:           "./internal/repository/query", // 生成代码的输出路径
		Mode:              gen.WithDefaultQuery | gen.WithQueryInterface | gen.WithoutContext,
		FieldNullable:     true, // 字段可以为 null
		FieldCoverable:    false,
		FieldSignable:     false,
		FieldWithIndexTag: false,
		FieldWithTypeTag:  true,
	})

	g.UseDB(db)

	// 从表生成模型
	campaignModel := g.GenerateModel("campaigns")
	callQueueModel := g.GenerateModel("call_queue")
	callModel := g.GenerateModel("calls")

	g.ApplyInterface(func(CampaignQuerier) {}, campaignModel)
	g.ApplyInterface(func(CallQueueQuerier) {}, callQueueModel)
	g.ApplyInterface(func(CallQuerier) {}, callModel)

	g.Execute()

	return nil
}

func RunGenerate() {
	if err := Generate(); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to generate code: %v\n", err)
		os.Exit(1)
	}
	fmt.Println("Code generation completed successfully!")
}
