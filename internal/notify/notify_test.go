package notify

import "testing"

func TestTopicFor(t *testing.T) {
	if got := topicFor("u123"); got != "user-u123" {
		t.Fatalf("unexpected topic: %s", got)
	}
}

func TestTitleFor(t *testing.T) {
	if got := titleFor("trip_posted"); got != "New trip nearby" {
		t.Fatalf("unexpected title: %s", got)
	}
	if got := titleFor("something_else"); got != "Trip update" {
		t.Fatalf("unexpected fallback title: %s", got)
	}
}
