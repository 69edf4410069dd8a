package backend

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestCall(t *testing.T) {
	errLogic := errors.New("not found")

	tests := []struct {
		name        string
		fn          func(ctx context.Context) error
		wantErr     error
		unavailable bool
	}{
		{
			name: "success",
			fn:   func(ctx context.Context) error { return nil },
		},
		{
			name:    "logic error passes through",
			fn:      func(ctx context.Context) error { return errLogic },
			wantErr: errLogic,
		},
		{
			name: "deadline becomes unavailable",
			fn: func(ctx context.Context) error {
				<-ctx.Done()
				return ctx.Err()
			},
			wantErr:     ErrUnavailable,
			unavailable: true,
		},
		{
			name: "wrapped transport error",
			fn: func(ctx context.Context) error {
				return Unavailable("redis.get", errors.New("connection refused"))
			},
			wantErr:     ErrUnavailable,
			unavailable: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Call(context.Background(), 20*time.Millisecond, tt.fn)
			if tt.wantErr == nil {
				if err != nil {
					t.Fatalf("Call() error = %v, want nil", err)
				}
				return
			}
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("Call() error = %v, want %v", err, tt.wantErr)
			}
			if got := errors.Is(err, ErrUnavailable); got != tt.unavailable {
				t.Errorf("errors.Is(err, ErrUnavailable) = %v, want %v", got, tt.unavailable)
			}
		})
	}
}

func TestCall_DefaultTimeout(t *testing.T) {
	err := Call(context.Background(), 0, func(ctx context.Context) error {
		deadline, ok := ctx.Deadline()
		if !ok {
			t.Fatal("expected a deadline")
		}
		if time.Until(deadline) > DefaultTimeout {
			t.Errorf("deadline %v exceeds default timeout", time.Until(deadline))
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Call() error = %v", err)
	}
}
