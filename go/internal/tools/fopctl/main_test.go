package main

import (
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/mcdev12/fieldofplay/go/internal/fop/events"
	"github.com/mcdev12/fieldofplay/go/internal/fop/relay"
)

func TestParseRemaining(t *testing.T) {
	tests := []struct {
		in      string
		want    int
		wantErr bool
	}{
		{in: "45000", want: 45000},
		{in: "60s", want: 60000},
		{in: "1m30s", want: 90000},
		{in: "-500", want: -500},
		{in: "soon", wantErr: true},
	}
	for _, tt := range tests {
		got, err := parseRemaining(tt.in)
		if (err != nil) != tt.wantErr {
			t.Fatalf("parseRemaining(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
		}
		if !tt.wantErr && got != tt.want {
			t.Fatalf("parseRemaining(%q) = %d, want %d", tt.in, got, tt.want)
		}
	}
}

func TestDescribeNotification(t *testing.T) {
	data, err := relay.EncodeNotification(events.Notification{
		ID:            uuid.New(),
		FOPID:         "A",
		Kind:          events.KindStopTime,
		TimeRemaining: 42000,
		Origin:        "jury",
		Seq:           3,
		At:            time.Now(),
	})
	if err != nil {
		t.Fatalf("EncodeNotification() error = %v", err)
	}

	line, err := describeNotification(data)
	if err != nil {
		t.Fatalf("describeNotification() error = %v", err)
	}
	for _, want := range []string{"#3", "StopTime", "0:42", "(jury)"} {
		if !strings.Contains(line, want) {
			t.Fatalf("line %q missing %q", line, want)
		}
	}

	if _, err := describeNotification([]byte("nope")); err == nil {
		t.Fatalf("describeNotification(garbage): expected error")
	}
}
