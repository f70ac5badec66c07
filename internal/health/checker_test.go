package health

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"
)

func TestResultsRunProbesInParallel(t *testing.T) {
	c := NewChecker(time.Second)
	arrived := make(chan struct{}, 3)
	block := make(chan struct{})
	for _, name := range []string{"a", "b", "c"} {
		c.Register(name, func(ctx context.Context) error {
			arrived <- struct{}{}
			<-block
			return nil
		})
	}

	done := make(chan map[string]error, 1)
	go func() { done <- c.Results(context.Background()) }()

	// All three probes must be in flight before any is released.
	for i := 0; i < 3; i++ {
		select {
		case <-arrived:
		case <-time.After(time.Second):
			t.Fatal("probes did not start concurrently")
		}
	}
	close(block)

	results := <-done
	if len(results) != 3 {
		t.Fatalf("results = %v", results)
	}
	for name, err := range results {
		if err != nil {
			t.Errorf("probe %s = %v", name, err)
		}
	}
}

func TestResultsAppliesTimeout(t *testing.T) {
	c := NewChecker(30 * time.Millisecond)
	c.Register("slow", func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})

	start := time.Now()
	results := c.Results(context.Background())
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Fatalf("probe ran for %v, ceiling is 2s", elapsed)
	}
	if results["slow"] == nil {
		t.Error("timed out probe must report an error")
	}
}

func TestReady(t *testing.T) {
	c := NewChecker(time.Second)
	c.Register("redis", func(ctx context.Context) error { return nil })
	c.Register("mongodb", func(ctx context.Context) error { return errors.New("connection refused") })

	ready, checks := c.Ready(context.Background())
	if ready {
		t.Error("a failing probe must not report ready")
	}
	if !checks["redis"] || checks["mongodb"] {
		t.Errorf("checks = %v", checks)
	}

	c.Register("mongodb", func(ctx context.Context) error { return nil })
	if ready, _ := c.Ready(context.Background()); !ready {
		t.Error("all passing probes must report ready")
	}
}

func TestStatusReport(t *testing.T) {
	c := NewChecker(time.Second)
	c.Register("redis", func(ctx context.Context) error { return errors.New("down") })

	st := c.StatusReport(context.Background())
	if st.Redis {
		t.Error("failing redis probe must report false")
	}
	if !st.MongoDB {
		t.Error("unregistered dependency must report true")
	}
	if st.Uptime == "" {
		t.Error("uptime missing")
	}
	if !strings.HasSuffix(st.MemoryUsage, " MB") {
		t.Errorf("memory_usage = %q", st.MemoryUsage)
	}
}

func TestNames(t *testing.T) {
	c := NewChecker(0)
	c.Register("redis", func(ctx context.Context) error { return nil })
	c.Register("mongodb", func(ctx context.Context) error { return nil })

	names := c.Names()
	if len(names) != 2 || names[0] != "mongodb" || names[1] != "redis" {
		t.Errorf("Names = %v", names)
	}
}
