package mariadb

import (
	"testing"
	"time"
)

func TestIndexConfig(t *testing.T) {
	tests := []struct {
		name        string
		dsn         string
		wantErr     bool
		wantTimeout time.Duration
		wantRead    time.Duration
	}{
		{"empty", "", true, 0, 0},
		{"malformed", "photoprism@tcp(db:3306", true, 0, 0},
		{"defaults applied", "photoprism:secret@tcp(db:3306)/photoprism", false, dialTimeout, queryTimeout},
		{"dsn timeouts kept", "photoprism:secret@tcp(db:3306)/photoprism?timeout=2s&readTimeout=30s", false, 2 * time.Second, 30 * time.Second},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, err := indexConfig(tt.dsn)
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected error")
				}
				return
			}
			if err != nil {
				t.Fatalf("indexConfig: %v", err)
			}
			if c.Timeout != tt.wantTimeout {
				t.Errorf("timeout = %v, want %v", c.Timeout, tt.wantTimeout)
			}
			if c.ReadTimeout != tt.wantRead {
				t.Errorf("read timeout = %v, want %v", c.ReadTimeout, tt.wantRead)
			}
			if c.Addr != "db:3306" || c.DBName != "photoprism" {
				t.Errorf("unexpected target %s/%s", c.Addr, c.DBName)
			}
		})
	}
}

func TestNewPool_RejectsEmptyDSN(t *testing.T) {
	if _, err := NewPool(""); err == nil {
		t.Error("expected error for empty DSN")
	}
}
