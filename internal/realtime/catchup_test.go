package realtime

import (
	"fmt"
	"testing"
)

func TestCatchUp_Empty(t *testing.T) {
	cu := newCatchUp(5)
	if msgs := cu.messages(); len(msgs) != 0 {
		t.Errorf("expected no messages, got %d", len(msgs))
	}
}

func TestCatchUp_LatestStatusPerChannel(t *testing.T) {
	cu := newCatchUp(5)
	for i := 0; i < 60; i++ {
		cu.setStatus("image", []byte(fmt.Sprintf("image-%d", i)))
	}
	cu.setStatus("command", []byte("command-failed"))

	msgs := cu.messages()
	if len(msgs) != 2 {
		t.Fatalf("expected 2 statuses, got %d", len(msgs))
	}
	if string(msgs[0]) != "command-failed" || string(msgs[1]) != "image-59" {
		t.Errorf("unexpected replay %q", msgs)
	}
}

func TestCatchUp_NoticesBounded(t *testing.T) {
	cu := newCatchUp(3)
	for i := 0; i < 5; i++ {
		cu.addNotice([]byte(fmt.Sprintf("notice-%d", i)))
	}

	msgs := cu.messages()
	if len(msgs) != 3 {
		t.Fatalf("expected 3 notices, got %d", len(msgs))
	}
	// Oldest dropped.
	for i, m := range msgs {
		if want := fmt.Sprintf("notice-%d", i+2); string(m) != want {
			t.Errorf("notice %d: expected %s, got %s", i, want, m)
		}
	}
}

func TestCatchUp_Order(t *testing.T) {
	cu := newCatchUp(5)
	cu.setFrame([]byte("frame-1"))
	cu.addNotice([]byte("notice"))
	cu.setStatus("image", []byte("status"))
	cu.setFrame([]byte("frame-2"))

	msgs := cu.messages()
	want := []string{"status", "notice", "frame-2"}
	if len(msgs) != len(want) {
		t.Fatalf("expected %d messages, got %d", len(want), len(msgs))
	}
	for i := range want {
		if string(msgs[i]) != want[i] {
			t.Errorf("message %d: expected %s, got %s", i, want[i], msgs[i])
		}
	}
}
