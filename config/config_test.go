package config

import "testing"

func TestDefaultFillsDataPath(t *testing.T) {
	c := Default("/var/data/docstore")
	if c.DataPath != "/var/data/docstore" {
		t.Fatalf("expected DataPath to be set, got %q", c.DataPath)
	}
	if c.Port == 0 {
		t.Fatal("expected a non-zero default port")
	}
}

func TestWatcherPublishesOnApply(t *testing.T) {
	w := NewWatcher(*Default("/data"))

	var got ConfigurationChanged
	calls := 0
	unsub := w.Changes(func(c ConfigurationChanged) {
		got = c
		calls++
	})
	defer unsub()

	next := w.Current()
	next.Port = 9999
	w.Apply(next)

	if calls != 1 {
		t.Fatalf("expected exactly one notification, got %d", calls)
	}
	if got.Current.Port != 9999 || got.Previous.Port == 9999 {
		t.Fatalf("unexpected change payload: %+v", got)
	}
	if w.Current().Port != 9999 {
		t.Fatal("expected Current() to reflect the applied config")
	}
}

func TestUnsubscribeStopsNotifications(t *testing.T) {
	w := NewWatcher(*Default("/data"))
	calls := 0
	unsub := w.Changes(func(c ConfigurationChanged) { calls++ })
	unsub()

	next := w.Current()
	next.Port = 1234
	w.Apply(next)

	if calls != 0 {
		t.Fatalf("expected no notifications after unsubscribe, got %d", calls)
	}
}
