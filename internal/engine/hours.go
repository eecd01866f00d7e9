package engine

import (
	"time"

	"Outcall/internal/model"
	"Outcall/utils"

	"go.uber.org/zap"
)

// defaultWorkingDays 未配置 working days 时按工作日处理
var defaultWorkingDays = model.WorkingDays{
	Monday:    true,
	Tuesday:   true,
	Wednesday: true,
	Thursday:  true,
	Friday:    true,
}

// dialWindowOpen 判断活动当前是否处于允许外呼的本地时窗内
// 缺失的配置按默认值兜底并记日志，时刻比较用 HH:mm 字符串，含两端
func (e *Executor) dialWindowOpen(c *model.Campaign, now time.Time) bool {
	start, end, tz := e.opts.DefaultWorkStart, e.opts.DefaultWorkEnd, e.opts.DefaultTimezone
	if c.WorkingHours != nil && c.WorkingHours.Start != "" && c.WorkingHours.End != "" {
		start, end = c.WorkingHours.Start, c.WorkingHours.End
		if c.WorkingHours.Timezone != "" {
			tz = c.WorkingHours.Timezone
		}
	} else {
		e.logger.Info("Campaign has no working hours configured, applying defaults",
			zap.Int64("campaign_id", c.ID),
			zap.String("start", start), zap.String("end", end), zap.String("timezone", tz))
	}

	loc, err := time.LoadLocation(tz)
	if err != nil {
		e.logger.Warn("Invalid campaign timezone, falling back to default",
			zap.Int64("campaign_id", c.ID),
			zap.String("timezone", tz), zap.Error(err))
		loc, err = time.LoadLocation(e.opts.DefaultTimezone)
		if err != nil {
			loc = time.UTC
		}
	}
	local := now.In(loc)

	days := defaultWorkingDays
	if c.WorkingDays != nil {
		days = *c.WorkingDays
	} else {
		e.logger.Info("Campaign has no working days configured, applying weekday default",
			zap.Int64("campaign_id", c.ID))
	}
	if !days.Enabled(local.Weekday()) {
		return false
	}

	// 配置的时刻不合法时回退默认值，字符串比较依赖格式正确
	if _, err := utils.ParseTime(start, local); err != nil {
		e.logger.Warn("Invalid working hours start, applying default",
			zap.Int64("campaign_id", c.ID), zap.String("start", start))
		start = e.opts.DefaultWorkStart
	}
	if _, err := utils.ParseTime(end, local); err != nil {
		e.logger.Warn("Invalid working hours end, applying default",
			zap.Int64("campaign_id", c.ID), zap.String("end", end))
		end = e.opts.DefaultWorkEnd
	}

	hhmm := local.Format("15:04")
	return hhmm >= start && hhmm <= end
}

// localMidnight 活动时区当天零点，作为每日外呼量的统计起点
func (e *Executor) localMidnight(c *model.Campaign, now time.Time) time.Time {
	tz := e.opts.DefaultTimezone
	if c.WorkingHours != nil && c.WorkingHours.Timezone != "" {
		tz = c.WorkingHours.Timezone
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		loc = time.UTC
	}
	local := now.In(loc)
	return time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, loc)
}
