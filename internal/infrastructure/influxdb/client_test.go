package influxdb

import (
	"context"
	"errors"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"

	"github.com/nerrad567/pglive/internal/infrastructure/config"
)

func skipIfNoInfluxDB(t *testing.T) config.InfluxDBConfig {
	t.Helper()
	url := os.Getenv("PGLIVE_TEST_INFLUXDB_URL")
	if url == "" {
		t.Skip("PGLIVE_TEST_INFLUXDB_URL not set")
	}
	return config.InfluxDBConfig{
		Enabled:       true,
		URL:           url,
		Token:         os.Getenv("PGLIVE_TEST_INFLUXDB_TOKEN"),
		Org:           "pglive",
		Bucket:        "pglive",
		BatchSize:     10,
		FlushInterval: 1,
	}
}

func TestConnect_Disabled(t *testing.T) {
	_, err := Connect(config.InfluxDBConfig{Enabled: false})
	if !errors.Is(err, ErrDisabled) {
		t.Errorf("Connect() error = %v, want ErrDisabled", err)
	}
}

func TestConnect_InvalidURL(t *testing.T) {
	_, err := Connect(config.InfluxDBConfig{Enabled: true, URL: "http://127.0.0.1:1"})
	if !errors.Is(err, ErrConnectionFailed) {
		t.Errorf("Connect() error = %v, want ErrConnectionFailed", err)
	}
}

func TestNilClient(t *testing.T) {
	var c *Client
	if c.IsConnected() {
		t.Error("nil client reports connected")
	}
	if err := c.Close(); err != nil {
		t.Errorf("Close() on nil error = %v", err)
	}
	c.WriteDelivery("projects", "update", time.Millisecond, time.Now())
	c.Flush()
}

func TestDeliveryPoint(t *testing.T) {
	at := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	line := write.PointToLineProtocol(deliveryPoint("projects", "update", 1500*time.Microsecond, at), time.Nanosecond)

	for _, want := range []string{"live_delivery,", "operation=update", "table=projects", "latency_ms=1.5", "count=1i"} {
		if !strings.Contains(line, want) {
			t.Errorf("line %q missing %q", line, want)
		}
	}
}

func TestDropPoint_EmptyTag(t *testing.T) {
	line := write.PointToLineProtocol(dropPoint("", "backlog", time.Now()), time.Nanosecond)
	if !strings.Contains(line, "table=none") || !strings.Contains(line, "reason=backlog") {
		t.Errorf("line = %q", line)
	}
}

func TestWriteDelivery_Live(t *testing.T) {
	cfg := skipIfNoInfluxDB(t)

	c, err := Connect(cfg)
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	defer c.Close() //nolint:errcheck // Test cleanup

	var writeErr error
	c.SetOnError(func(err error) { writeErr = err })

	c.WriteDelivery("projects", "update", 3*time.Millisecond, time.Now())
	c.WriteDrop("projects", "backlog", time.Now())
	c.Flush()

	if err := c.HealthCheck(context.Background()); err != nil {
		t.Errorf("HealthCheck() error = %v", err)
	}
	if writeErr != nil {
		t.Errorf("async write error = %v", writeErr)
	}
}
