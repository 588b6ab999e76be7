package database

import (
	"context"
	"testing"
)

func TestStoredJobTerminal(t *testing.T) {
	tests := []struct {
		state string
		want  bool
	}{
		{"selecting_photos", false},
		{"rendering_slots", false},
		{JobStateDone, true},
		{JobStateFailed, true},
		{"", false},
	}

	for _, tc := range tests {
		t.Run(tc.state, func(t *testing.T) {
			job := StoredJob{State: tc.state}
			if got := job.Terminal(); got != tc.want {
				t.Errorf("Terminal() for %q = %v, want %v", tc.state, got, tc.want)
			}
		})
	}
}

type stubWriter struct{ JobWriter }

func TestProviderRegistration(t *testing.T) {
	t.Cleanup(func() { RegisterPostgresBackend(nil) })

	RegisterPostgresBackend(nil)
	if IsInitialized() {
		t.Fatal("expected uninitialized backend")
	}
	if _, err := GetJobReader(context.Background()); err == nil {
		t.Error("expected error without a backend")
	}

	w := stubWriter{}
	RegisterPostgresBackend(func() JobWriter { return w })
	if !IsInitialized() {
		t.Fatal("expected initialized backend")
	}
	got, err := GetJobWriter(context.Background())
	if err != nil {
		t.Fatalf("GetJobWriter failed: %v", err)
	}
	if _, ok := got.(stubWriter); !ok {
		t.Errorf("expected registered writer, got %T", got)
	}
}
