package database

import (
	"strings"
	"testing"
	"time"
)

func TestBusyTimeoutIsCappedByMaxWait(t *testing.T) {
	cases := []struct {
		name string
		opts Options
		want time.Duration
	}{
		{name: "default", opts: Options{}, want: 5 * time.Second},
		{name: "default capped", opts: Options{MaxWait: 100 * time.Millisecond}, want: 100 * time.Millisecond},
		{name: "explicit capped", opts: Options{BusyTimeout: 5 * time.Second, MaxWait: time.Second}, want: time.Second},
		{name: "explicit below cap", opts: Options{BusyTimeout: 200 * time.Millisecond, MaxWait: time.Second}, want: 200 * time.Millisecond},
	}
	for _, tc := range cases {
		if got := tc.opts.busyTimeout(); got != tc.want {
			t.Fatalf("%s: busy timeout=%v want %v", tc.name, got, tc.want)
		}
	}
}

func TestDSN(t *testing.T) {
	dsn := DSN("/tmp/rsvp.db", 250*time.Millisecond)
	for _, want := range []string{"file:/tmp/rsvp.db?", "_busy_timeout=250", "_txlock=immediate", "_journal_mode=WAL"} {
		if !strings.Contains(dsn, want) {
			t.Fatalf("dsn %q missing %q", dsn, want)
		}
	}
}
