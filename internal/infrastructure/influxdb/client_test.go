package influxdb

import (
	"context"
	"errors"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"

	"github.com/nerrad567/dali-center/internal/infrastructure/config"
)

type recordingWriter struct {
	mu      sync.Mutex
	points  []*write.Point
	flushes int
}

func (w *recordingWriter) WritePoint(p *write.Point) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.points = append(w.points, p)
}

func (w *recordingWriter) Flush() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.flushes++
}

func tagValue(p *write.Point, key string) string {
	for _, tag := range p.TagList() {
		if tag.Key == key {
			return tag.Value
		}
	}
	return ""
}

func fieldValue(p *write.Point, key string) any {
	for _, f := range p.FieldList() {
		if f.Key == key {
			return f.Value
		}
	}
	return nil
}

func TestConnect_Disabled(t *testing.T) {
	_, err := Connect(context.Background(), config.InfluxDBConfig{Enabled: false})
	if !errors.Is(err, ErrDisabled) {
		t.Errorf("Connect() error = %v, want ErrDisabled", err)
	}
}

func TestConnect_Unreachable(t *testing.T) {
	if os.Getenv("RUN_INTEGRATION") != "" {
		t.Skip("integration environment may have a live server")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	_, err := Connect(ctx, config.InfluxDBConfig{Enabled: true, URL: "http://127.0.0.1:1"})
	if !errors.Is(err, ErrConnectionFailed) {
		t.Errorf("Connect() error = %v, want ErrConnectionFailed", err)
	}
}

func TestWriteEnergyReport(t *testing.T) {
	w := &recordingWriter{}
	c := newWithWriter(w)
	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	c.WriteEnergyReport("GW01", "GW01:device:7", 12.5, at)

	if len(w.points) != 1 {
		t.Fatalf("points = %d, want 1", len(w.points))
	}
	p := w.points[0]
	if p.Name() != MeasurementEnergy {
		t.Errorf("Name() = %q, want %q", p.Name(), MeasurementEnergy)
	}
	if tagValue(p, "gateway") != "GW01" || tagValue(p, "device") != "GW01:device:7" {
		t.Errorf("tags = %v", p.TagList())
	}
	if fieldValue(p, "energy") != 12.5 {
		t.Errorf("energy field = %v, want 12.5", fieldValue(p, "energy"))
	}
	if !p.Time().Equal(at) {
		t.Errorf("Time() = %v, want %v", p.Time(), at)
	}
}

func TestWriteOnlineStatus(t *testing.T) {
	w := &recordingWriter{}
	c := newWithWriter(w)

	c.WriteOnlineStatus("GW01", "GW01:device:7", false, time.Time{})

	if len(w.points) != 1 {
		t.Fatalf("points = %d, want 1", len(w.points))
	}
	if fieldValue(w.points[0], "online") != false {
		t.Errorf("online field = %v", fieldValue(w.points[0], "online"))
	}
	if w.points[0].Time().IsZero() {
		t.Error("zero timestamp should be replaced with now")
	}
}

func TestClose_StopsWrites(t *testing.T) {
	w := &recordingWriter{}
	c := newWithWriter(w)

	if err := c.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if w.flushes != 1 {
		t.Errorf("flushes = %d, want 1", w.flushes)
	}

	c.WritePoint("x", nil, map[string]any{"v": 1})
	c.Flush()
	if len(w.points) != 0 || w.flushes != 1 {
		t.Error("writes after Close() must be dropped")
	}
	if err := c.HealthCheck(context.Background()); !errors.Is(err, ErrNotConnected) {
		t.Errorf("HealthCheck() error = %v, want ErrNotConnected", err)
	}
}

func TestClose_Nil(t *testing.T) {
	c := &Client{}
	if err := c.Close(); err != nil {
		t.Errorf("Close() on empty client error = %v", err)
	}
}

func TestWriteOptions(t *testing.T) {
	opts := writeOptions(config.InfluxDBConfig{})
	if opts.BatchSize() != defaultBatchSize {
		t.Errorf("default BatchSize() = %d", opts.BatchSize())
	}
	if opts.FlushInterval() != 10000 {
		t.Errorf("default FlushInterval() = %d ms, want 10000", opts.FlushInterval())
	}

	opts = writeOptions(config.InfluxDBConfig{BatchSize: 500, FlushInterval: 2})
	if opts.BatchSize() != 500 || opts.FlushInterval() != 2000 {
		t.Errorf("configured options = %d/%d", opts.BatchSize(), opts.FlushInterval())
	}
}
