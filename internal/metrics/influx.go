// Package metrics exports ring run measurements to InfluxDB.
package metrics

import (
	"context"
	"errors"
	"fmt"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"
	"github.com/influxdata/influxdb-client-go/v2/api/write"
	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/ringflash/internal/config"
	"github.com/dokzlo13/ringflash/internal/ring"
)

const (
	measurementRun   = "ring_run"
	measurementArm   = "ring_arm"
	defaultPingLimit = 10 * time.Second
)

var ErrConnectionFailed = errors.New("influxdb connection failed")

// PointWriter is the non-blocking write half of the InfluxDB API.
type PointWriter interface {
	WritePoint(point *write.Point)
}

// Recorder writes one point per run and one per executed arm.
type Recorder struct {
	writer PointWriter
}

// NewRecorder creates a Recorder on top of writer.
func NewRecorder(writer PointWriter) *Recorder {
	return &Recorder{writer: writer}
}

// RecordRun implements ring.Recorder.
func (r *Recorder) RecordRun(_ context.Context, out ring.Outcome) {
	for _, p := range Points(out) {
		r.writer.WritePoint(p)
	}
}

// Points builds the measurements describing out.
func Points(out ring.Outcome) []*write.Point {
	ts := out.StartedAt
	if ts.IsZero() {
		ts = time.Now()
	}

	points := []*write.Point{
		write.NewPoint(measurementRun,
			map[string]string{"source": out.Source, "status": string(out.Status)},
			map[string]any{
				"run_id":      out.RunID,
				"duration_ms": out.Duration().Milliseconds(),
				"flash_ok":    out.Flash != nil && out.FlashErr == nil,
				"chime_ok":    out.Chime != nil && out.ChimeErr == nil,
			},
			ts),
	}

	if f := out.Flash; f != nil {
		points = append(points, write.NewPoint(measurementArm,
			map[string]string{"arm": "flash", "source": out.Source},
			map[string]any{
				"targets":  len(f.Targets),
				"missing":  len(f.Missing),
				"pulses":   f.Pulses,
				"failures": f.Failures,
				"restored": f.Restored,
			},
			ts))
	}
	if c := out.Chime; c != nil {
		points = append(points, write.NewPoint(measurementArm,
			map[string]string{"arm": "chime", "source": out.Source},
			map[string]any{
				"players":     len(c.Players),
				"failures":    c.Failures,
				"duration_ms": c.Duration.Milliseconds(),
				"volume":      c.Volume,
			},
			ts))
	}
	return points
}

// Client owns the InfluxDB connection.
type Client struct {
	client   influxdb2.Client
	writeAPI api.WriteAPI
	*Recorder
}

// Connect pings the server and sets up a batching writer.
func Connect(cfg config.InfluxConfig) (*Client, error) {
	opts := influxdb2.DefaultOptions()
	if cfg.BatchSize > 0 {
		opts.SetBatchSize(cfg.BatchSize)
	}
	if cfg.FlushInterval > 0 {
		opts.SetFlushInterval(uint(cfg.FlushInterval.Duration().Milliseconds()))
	}
	client := influxdb2.NewClientWithOptions(cfg.URL, cfg.Token, opts)

	ctx, cancel := context.WithTimeout(context.Background(), defaultPingLimit)
	defer cancel()

	healthy, err := client.Ping(ctx)
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("%w: ping failed: %w", ErrConnectionFailed, err)
	}
	if !healthy {
		client.Close()
		return nil, fmt.Errorf("%w: server not healthy", ErrConnectionFailed)
	}

	writeAPI := client.WriteAPI(cfg.Org, cfg.Bucket)
	go func() {
		for err := range writeAPI.Errors() {
			log.Warn().Err(err).Msg("InfluxDB write failed")
		}
	}()

	log.Info().Str("url", cfg.URL).Str("bucket", cfg.Bucket).Msg("InfluxDB metrics enabled")
	return &Client{client: client, writeAPI: writeAPI, Recorder: NewRecorder(writeAPI)}, nil
}

// Close flushes pending points and closes the client.
func (c *Client) Close() {
	c.writeAPI.Flush()
	c.client.Close()
}
