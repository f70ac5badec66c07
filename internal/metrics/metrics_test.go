package metrics

import (
	"os"
	"path/filepath"
	"reflect"
	"testing"
	"time"
)

func TestRecordAndSnapshot(t *testing.T) {
	s := NewStore()
	s.Record(200, 100, 2000, 8*time.Millisecond)
	s.Record(200, 50, 1000, 8*time.Millisecond)
	s.Record(404, 10, 200, 120*time.Millisecond)

	snap := s.Snapshot()
	if snap.TotalRequests != 3 {
		t.Errorf("total_requests = %d", snap.TotalRequests)
	}
	if snap.TotalBytesIn != 160 || snap.TotalBytesOut != 3200 {
		t.Errorf("bytes = %d in / %d out", snap.TotalBytesIn, snap.TotalBytesOut)
	}
	if snap.StatusCounts["200"] != 2 || snap.StatusCounts["404"] != 1 {
		t.Errorf("status_counts = %v", snap.StatusCounts)
	}
	if snap.Latency.Count != 3 {
		t.Errorf("latency count = %d", snap.Latency.Count)
	}

	// Buckets are cumulative: the 10ms bound holds the two 8ms requests,
	// the 250ms bound all three.
	counts := make(map[float64]int64)
	for _, b := range snap.Latency.Buckets {
		counts[b.UpperBound] = b.Count
	}
	if counts[0.01] != 2 {
		t.Errorf("le=0.01 count = %d, want 2", counts[0.01])
	}
	if counts[0.25] != 3 {
		t.Errorf("le=0.25 count = %d, want 3", counts[0.25])
	}
	if counts[0.005] != 0 {
		t.Errorf("le=0.005 count = %d, want 0", counts[0.005])
	}
}

func TestSaveLoadRoundTrip(t *testing.T) {
	s := NewStore()
	s.Record(200, 128, 512, 3*time.Millisecond)
	s.Record(429, 64, 90, 40*time.Millisecond)
	s.Record(502, 32, 80, 2*time.Second)

	path := filepath.Join(t.TempDir(), "metrics.json")
	if err := s.SaveToFile(path); err != nil {
		t.Fatal(err)
	}

	restored := NewStore()
	if err := restored.LoadFromFile(path); err != nil {
		t.Fatal(err)
	}

	if !reflect.DeepEqual(s.Snapshot(), restored.Snapshot()) {
		t.Errorf("round trip diverged:\n%+v\n%+v", s.Snapshot(), restored.Snapshot())
	}
}

func TestLoadSkipsMalformedStatusKeys(t *testing.T) {
	path := filepath.Join(t.TempDir(), "metrics.json")
	doc := `{"total_requests":2,"total_bytes_in":1,"total_bytes_out":1,
		"status_counts":{"200":1,"teapot":1},"latency":{"count":0,"sum_seconds":0,"buckets":[]}}`
	if err := os.WriteFile(path, []byte(doc), 0o600); err != nil {
		t.Fatal(err)
	}

	s := NewStore()
	if err := s.LoadFromFile(path); err != nil {
		t.Fatal(err)
	}
	snap := s.Snapshot()
	if snap.TotalRequests != 2 {
		t.Errorf("total_requests = %d", snap.TotalRequests)
	}
	if snap.StatusCounts["200"] != 1 {
		t.Errorf("status_counts = %v", snap.StatusCounts)
	}
	if _, ok := snap.StatusCounts["teapot"]; ok {
		t.Error("malformed key survived the load")
	}
}

func TestLoadFromMissingFile(t *testing.T) {
	s := NewStore()
	if err := s.LoadFromFile(filepath.Join(t.TempDir(), "absent.json")); err == nil {
		t.Error("want error for missing file")
	}
}

func TestStatusCodesSorted(t *testing.T) {
	s := NewStore()
	s.Record(502, 0, 0, time.Millisecond)
	s.Record(200, 0, 0, time.Millisecond)
	s.Record(404, 0, 0, time.Millisecond)

	codes := s.StatusCodes()
	want := []int{200, 404, 502}
	if !reflect.DeepEqual(codes, want) {
		t.Errorf("StatusCodes = %v, want %v", codes, want)
	}
}
