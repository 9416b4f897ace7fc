package oplog

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

var t0 = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

func sampleEntries() []Entry {
	return []Entry{
		{Op: OpSave, Schema: "Person", Key: map[string]string{"last_name": "Johnson", "first_name": "Dilbert"}, Time: t0},
		{Op: OpSave, Schema: "Person", Key: map[string]string{"last_name": "Smith", "first_name": "Alice"}, Time: t0.Add(time.Second)},
		{Op: OpDelete, Schema: "Person", Key: map[string]string{"last_name": "Johnson", "first_name": "Dilbert"}, Time: t0.Add(2 * time.Second)},
	}
}

func writeLog(t testing.TB, path string, entries []Entry) {
	t.Helper()
	l, err := Open(path, Options{})
	if err != nil {
		t.Fatal(err)
	}
	for _, e := range entries {
		if err := l.Append(e); err != nil {
			t.Fatal(err)
		}
	}
	if err := l.Sync(); err != nil {
		t.Fatal(err)
	}
	if err := l.Close(); err != nil {
		t.Fatal(err)
	}
}

func replayAll(t testing.TB, path string) ([]Entry, ReplayResult) {
	t.Helper()
	var got []Entry
	res, err := Replay(path, func(e Entry) error {
		e.Time = e.Time.UTC()
		got = append(got, e)
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
	return got, res
}

func TestReplay(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ops.log")
	writeLog(t, path, sampleEntries())

	got, res := replayAll(t, path)
	if diff := cmp.Diff(sampleEntries(), got); diff != "" {
		t.Errorf("Replay (-want +got):\n%s", diff)
	}
	if res.Count != 3 || res.Torn() {
		t.Errorf("Replay = %+v, wanted 3 intact entries", res)
	}
}

func TestReopenAppends(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ops.log")
	all := sampleEntries()
	writeLog(t, path, all[:1])
	writeLog(t, path, all[1:])

	got, _ := replayAll(t, path)
	if diff := cmp.Diff(all, got); diff != "" {
		t.Errorf("Replay (-want +got):\n%s", diff)
	}
}

func TestReplayStopsAtTornRecord(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ops.log")
	writeLog(t, path, sampleEntries())

	st, err := os.Stat(path)
	if err != nil {
		t.Fatal(err)
	}
	if err := os.Truncate(path, st.Size()-3); err != nil {
		t.Fatal(err)
	}

	got, res := replayAll(t, path)
	if len(got) != 2 {
		t.Fatalf("Replay returned %d entries, wanted 2", len(got))
	}
	if !res.Torn() {
		t.Errorf("Replay = %+v, wanted a torn result", res)
	}

	// Open trims the tail and appends after the last intact record.
	writeLog(t, path, sampleEntries()[2:])
	got, res = replayAll(t, path)
	if diff := cmp.Diff(sampleEntries(), got); diff != "" {
		t.Errorf("Replay after reopen (-want +got):\n%s", diff)
	}
	if res.Torn() {
		t.Errorf("Replay after reopen = %+v, wanted intact", res)
	}
}

func TestReplayStopsAtCorruptedRecord(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ops.log")
	writeLog(t, path, sampleEntries())

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	data[len(data)-sumSize-2] ^= 0xFF
	if err := os.WriteFile(path, data, 0666); err != nil {
		t.Fatal(err)
	}

	got, res := replayAll(t, path)
	if len(got) != 2 {
		t.Fatalf("Replay returned %d entries, wanted 2", len(got))
	}
	if err := Truncate(path, res.Valid); err != nil {
		t.Fatal(err)
	}
	_, res = replayAll(t, path)
	if res.Torn() || res.Count != 2 {
		t.Errorf("Replay after Truncate = %+v", res)
	}
}

func TestReplayRejectsForeignFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ops.log")
	if err := os.WriteFile(path, []byte("definitely not an op log"), 0666); err != nil {
		t.Fatal(err)
	}
	_, err := Replay(path, func(e Entry) error { return nil })
	if !errors.Is(err, ErrIncompatible) {
		t.Errorf("Replay err = %v, wanted ErrIncompatible", err)
	}
	_, err = Open(path, Options{})
	if !errors.Is(err, ErrIncompatible) {
		t.Errorf("Open err = %v, wanted ErrIncompatible", err)
	}
}

func TestReplayCallbackError(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ops.log")
	writeLog(t, path, sampleEntries())

	stop := errors.New("stop")
	res, err := Replay(path, func(e Entry) error {
		if e.Op == OpDelete {
			return stop
		}
		return nil
	})
	if err != stop {
		t.Errorf("Replay err = %v, wanted %v", err, stop)
	}
	if res.Count != 2 {
		t.Errorf("Replay count = %d, wanted 2", res.Count)
	}
}

func TestAppendAfterClose(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ops.log")
	l, err := Open(path, Options{})
	if err != nil {
		t.Fatal(err)
	}
	l.Close()
	if err := l.Append(sampleEntries()[0]); err != ErrClosed {
		t.Errorf("Append after Close = %v, wanted ErrClosed", err)
	}
}
