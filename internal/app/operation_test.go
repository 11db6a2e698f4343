package app

import (
	"errors"
	"testing"
	"time"
)

func TestNewOperation(t *testing.T) {
	now := time.Date(2024, 1, 15, 10, 30, 5, 0, time.UTC)
	tests := []struct {
		name       string
		operation  string
		parameters string
	}{
		{name: "with parameters", operation: "Get", parameters: "photos/42"},
		{name: "empty parameters", operation: "Watch", parameters: ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			op := NewOperation(tt.operation, tt.parameters, now)

			if op.Name != tt.operation {
				t.Errorf("Name = %q, want %q", op.Name, tt.operation)
			}
			if op.Parameters != tt.parameters {
				t.Errorf("Parameters = %q, want %q", op.Parameters, tt.parameters)
			}
			if op.Status != "success" {
				t.Errorf("Status = %q, want %q", op.Status, "success")
			}
			if op.ID != "20240115T103005Z" {
				t.Errorf("ID = %q, want %q", op.ID, "20240115T103005Z")
			}
		})
	}
}

func TestOperation_Fail(t *testing.T) {
	op := NewOperation("Get", "", time.Now())
	if err := op.Fail(nil); err != nil || op.Status != "success" {
		t.Fatalf("Fail(nil) = %v, status %q", err, op.Status)
	}
	boom := errors.New("boom")
	if err := op.Fail(boom); err != boom {
		t.Errorf("Fail() returned %v, want %v", err, boom)
	}
	if op.Status != "error" {
		t.Errorf("Status = %q, want error", op.Status)
	}
}

func TestOperation_Elapsed(t *testing.T) {
	start := time.Date(2024, 1, 15, 10, 30, 5, 0, time.UTC)
	op := NewOperation("Watch", "", start)
	if got := op.Elapsed(start.Add(1500*time.Millisecond + 42)); got != 1500*time.Millisecond {
		t.Errorf("Elapsed() = %v, want 1.5s", got)
	}
}
