package engine

import (
	"strings"
	"testing"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"Outcall/internal/model"
)

func windowExecutor() *Executor {
	return NewExecutor(nil, nil, nil, nil, nil, Options{
		DefaultWorkStart: "09:00",
		DefaultWorkEnd:   "17:00",
		DefaultTimezone:  "UTC",
	})
}

func allDays() *model.WorkingDays {
	return &model.WorkingDays{
		Monday: true, Tuesday: true, Wednesday: true, Thursday: true,
		Friday: true, Saturday: true, Sunday: true,
	}
}

func TestDialWindowBounds(t *testing.T) {
	e := windowExecutor()
	c := &model.Campaign{
		WorkingHours: &model.WorkingHours{Start: "09:00", End: "17:00", Timezone: "UTC"},
		WorkingDays:  allDays(),
	}

	// 2026-03-04 是周三
	day := time.Date(2026, 3, 4, 0, 0, 0, 0, time.UTC)

	cases := []struct {
		name string
		at   time.Time
		want bool
	}{
		{"before window", day.Add(8*time.Hour + 59*time.Minute), false},
		{"window opens", day.Add(9 * time.Hour), true},
		{"mid window", day.Add(12 * time.Hour), true},
		{"window closes inclusive", day.Add(17 * time.Hour), true},
		{"after window", day.Add(17*time.Hour + time.Minute), false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := e.dialWindowOpen(c, tc.at); got != tc.want {
				t.Errorf("dialWindowOpen at %v = %v, want %v", tc.at, got, tc.want)
			}
		})
	}
}

func TestDialWindowWorkingDays(t *testing.T) {
	e := windowExecutor()
	c := &model.Campaign{
		WorkingHours: &model.WorkingHours{Start: "00:00", End: "23:59", Timezone: "UTC"},
		WorkingDays:  &model.WorkingDays{Monday: true},
	}

	monday := time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC)
	if !e.dialWindowOpen(c, monday) {
		t.Error("Monday-only campaign should dial on Monday")
	}
	tuesday := monday.Add(24 * time.Hour)
	if e.dialWindowOpen(c, tuesday) {
		t.Error("Monday-only campaign must not dial on Tuesday")
	}
	sunday := monday.Add(-24 * time.Hour)
	if e.dialWindowOpen(c, sunday) {
		t.Error("Monday-only campaign must not dial on Sunday")
	}
}

func TestDialWindowTimezone(t *testing.T) {
	e := windowExecutor()
	c := &model.Campaign{
		WorkingHours: &model.WorkingHours{Start: "09:00", End: "17:00", Timezone: "America/New_York"},
		WorkingDays:  allDays(),
	}

	// 2026-03-04 14:00 UTC = 09:00 America/New_York (EST, UTC-5)
	open := time.Date(2026, 3, 4, 14, 0, 0, 0, time.UTC)
	if !e.dialWindowOpen(c, open) {
		t.Error("window should be open at 09:00 local time")
	}
	closed := time.Date(2026, 3, 4, 13, 59, 0, 0, time.UTC)
	if e.dialWindowOpen(c, closed) {
		t.Error("window should be closed at 08:59 local time")
	}
}

func TestDialWindowDefaultsWhenUnconfigured(t *testing.T) {
	e := windowExecutor()
	c := &model.Campaign{}

	// 默认 09:00-17:00 UTC，周一到周五
	wednesdayNoon := time.Date(2026, 3, 4, 12, 0, 0, 0, time.UTC)
	if !e.dialWindowOpen(c, wednesdayNoon) {
		t.Error("unconfigured campaign should fall back to default window")
	}
	saturdayNoon := time.Date(2026, 3, 7, 12, 0, 0, 0, time.UTC)
	if e.dialWindowOpen(c, saturdayNoon) {
		t.Error("unconfigured campaign must not dial on weekends")
	}
	wednesdayNight := time.Date(2026, 3, 4, 20, 0, 0, 0, time.UTC)
	if e.dialWindowOpen(c, wednesdayNight) {
		t.Error("unconfigured campaign must not dial outside default hours")
	}
}

func TestDialWindowLogsAppliedDefaults(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	e := NewExecutor(zap.New(core), nil, nil, nil, nil, Options{
		DefaultWorkStart: "09:00",
		DefaultWorkEnd:   "17:00",
		DefaultTimezone:  "UTC",
	})

	// 时窗和工作日都没配：两处兜底都必须留下日志，不能无声套默认值
	e.dialWindowOpen(&model.Campaign{BaseModel: model.BaseModel{ID: 42}}, time.Date(2026, 3, 4, 12, 0, 0, 0, time.UTC))

	var hoursLogged, daysLogged bool
	for _, entry := range logs.All() {
		if strings.Contains(entry.Message, "no working hours") {
			hoursLogged = true
		}
		if strings.Contains(entry.Message, "no working days") {
			daysLogged = true
		}
	}
	if !hoursLogged {
		t.Error("missing working hours default was applied silently")
	}
	if !daysLogged {
		t.Error("missing working days default was applied silently")
	}
}

func TestDialWindowInvalidTimezoneFallsBack(t *testing.T) {
	e := windowExecutor()
	c := &model.Campaign{
		WorkingHours: &model.WorkingHours{Start: "00:00", End: "23:59", Timezone: "Not/AZone"},
		WorkingDays:  allDays(),
	}
	at := time.Date(2026, 3, 4, 12, 0, 0, 0, time.UTC)
	if !e.dialWindowOpen(c, at) {
		t.Error("invalid timezone should fall back to the default zone, not close the window")
	}
}

func TestDialWindowInvalidTimesFallBack(t *testing.T) {
	e := windowExecutor()
	c := &model.Campaign{
		WorkingHours: &model.WorkingHours{Start: "9am", End: "5pm", Timezone: "UTC"},
		WorkingDays:  allDays(),
	}
	if !e.dialWindowOpen(c, time.Date(2026, 3, 4, 12, 0, 0, 0, time.UTC)) {
		t.Error("unparseable times should fall back to the default window")
	}
	if e.dialWindowOpen(c, time.Date(2026, 3, 4, 20, 0, 0, 0, time.UTC)) {
		t.Error("fallback window should still close outside default hours")
	}
}

func TestLocalMidnight(t *testing.T) {
	e := windowExecutor()
	c := &model.Campaign{
		WorkingHours: &model.WorkingHours{Start: "09:00", End: "17:00", Timezone: "America/New_York"},
	}

	// 2026-03-04 02:00 UTC 还是纽约时间 3 号晚上
	at := time.Date(2026, 3, 4, 2, 0, 0, 0, time.UTC)
	got := e.localMidnight(c, at)

	loc, _ := time.LoadLocation("America/New_York")
	want := time.Date(2026, 3, 3, 0, 0, 0, 0, loc)
	if !got.Equal(want) {
		t.Errorf("localMidnight = %v, want %v", got, want)
	}
}
