package domain

import (
	"testing"
	"time"
)

func TestParseTimeOfDay(t *testing.T) {
	t.Parallel()
	tests := []struct {
		raw     string
		want    TimeOfDay
		wantErr bool
	}{
		{raw: "09:00", want: 9 * 60},
		{raw: " 22:30 ", want: 22*60 + 30},
		{raw: "0:05", want: 5},
		{raw: "24:00", wantErr: true},
		{raw: "12:60", wantErr: true},
		{raw: "12:5", wantErr: true},
		{raw: "noon", wantErr: true},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.raw, func(t *testing.T) {
			got, err := ParseTimeOfDay(tt.raw)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("ParseTimeOfDay(%q) expected error", tt.raw)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseTimeOfDay(%q) error: %v", tt.raw, err)
			}
			if got != tt.want {
				t.Fatalf("ParseTimeOfDay(%q) = %v, want %v", tt.raw, got, tt.want)
			}
		})
	}
}

func TestTimeOfDayOn(t *testing.T) {
	t.Parallel()
	day := time.Date(2024, 3, 10, 17, 45, 12, 0, time.UTC)
	got := TimeOfDay(9*60 + 15).On(day)
	want := time.Date(2024, 3, 10, 9, 15, 0, 0, time.UTC)
	if !got.Equal(want) {
		t.Fatalf("On = %v, want %v", got, want)
	}
}

func TestScheduleConfigValidate(t *testing.T) {
	t.Parallel()
	if err := (ScheduleConfig{WindowStart: 9 * 60, WindowEnd: 22 * 60, IntervalHours: 2}).Validate(); err != nil {
		t.Fatalf("valid config rejected: %v", err)
	}
	if err := (ScheduleConfig{WindowStart: 9 * 60, WindowEnd: 22 * 60}).Validate(); err == nil {
		t.Fatal("expected error for zero interval")
	}
}
