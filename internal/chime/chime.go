// Package chime plays a short media clip on one or more audio players and
// puts them back the way they were.
package chime

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/ringflash/internal/device"
	"github.com/dokzlo13/ringflash/internal/flash"
	"github.com/dokzlo13/ringflash/internal/targets"
)

// ErrNoPlayers is returned when no player was requested or configured.
var ErrNoPlayers = errors.New("no chime players")

// Defaults used when neither the request nor Options set a value.
const (
	DefaultVolume          = 0.4
	DefaultStagger         = 200 * time.Millisecond
	DefaultFallback        = 3 * time.Second
	DefaultMediaType       = "music"
	DefaultSnapshotDomain  = "sonos"
	durationAttribute      = "media_duration"
	snapshotGroupParameter = "with_group"
)

// Options are the sequencer-wide defaults.
type Options struct {
	DefaultPlayers []string
	MediaURL       string
	MediaType      string
	Volume         float64
	Duration       time.Duration
	Stagger        time.Duration
	Fallback       time.Duration
	SnapshotDomain string
	WithGroup      bool
}

func (o Options) withDefaults() Options {
	if o.Volume <= 0 {
		o.Volume = DefaultVolume
	}
	if o.MediaType == "" {
		o.MediaType = DefaultMediaType
	}
	if o.Stagger == 0 {
		o.Stagger = DefaultStagger
	}
	if o.Fallback <= 0 {
		o.Fallback = DefaultFallback
	}
	if o.SnapshotDomain == "" {
		o.SnapshotDomain = DefaultSnapshotDomain
	}
	return o
}

// Request describes one chime. Zero fields fall back to Options; a zero
// Duration means "use the media's own length".
type Request struct {
	Players  targets.Input
	MediaURL string
	Volume   *float64
	Duration time.Duration
}

// Report summarises a chime run.
type Report struct {
	Players  []string
	MediaURL string
	Volume   float64
	Duration time.Duration
	Failures int
}

// Sequencer runs chimes.
type Sequencer struct {
	transport  device.Transport
	normalizer *targets.Normalizer
	opts       Options

	sleep func(ctx context.Context, d time.Duration) error
}

// New creates a Sequencer.
func New(transport device.Transport, normalizer *targets.Normalizer, opts Options) *Sequencer {
	return &Sequencer{
		transport:  transport,
		normalizer: normalizer,
		opts:       opts.withDefaults(),
		sleep:      flash.Sleep,
	}
}

// Options returns the effective defaults.
func (s *Sequencer) Options() Options {
	return s.opts
}

// Chime snapshots the players, sets the volume, starts playback on each
// player in turn, waits for the longest clip and restores the snapshot.
// Cancelling ctx shortens the wait but the restore still runs.
func (s *Sequencer) Chime(ctx context.Context, req Request) (*Report, error) {
	players, err := s.normalizer.Normalize(ctx, req.Players, s.opts.DefaultPlayers)
	if err != nil {
		return nil, err
	}
	if len(players) == 0 {
		return nil, ErrNoPlayers
	}

	url := s.opts.MediaURL
	if req.MediaURL != "" {
		url = req.MediaURL
	}
	volume := s.opts.Volume
	if req.Volume != nil {
		volume = *req.Volume
	}

	report := &Report{
		Players:  players,
		MediaURL: url,
		Volume:   ClampVolume(volume),
	}

	log.Info().
		Strs("players", players).
		Str("media", url).
		Float64("volume", report.Volume).
		Msg("Chime started")

	snapshotParams := map[string]any{snapshotGroupParameter: s.opts.WithGroup}
	report.Failures += s.command(ctx, s.opts.SnapshotDomain, "snapshot", players, snapshotParams)
	report.Failures += s.command(ctx, device.DomainMediaPlayer, "volume_set", players, map[string]any{
		"volume_level": report.Volume,
	})

	for i, player := range players {
		if i > 0 {
			if err := s.sleep(ctx, s.opts.Stagger); err != nil {
				break
			}
		}
		report.Failures += s.command(ctx, device.DomainMediaPlayer, "play_media", []string{player}, map[string]any{
			"media_content_id":   url,
			"media_content_type": s.opts.MediaType,
		})
	}

	report.Duration = s.duration(ctx, req.Duration, players)
	waitErr := s.sleep(ctx, report.Duration)

	detached := context.WithoutCancel(ctx)
	report.Failures += s.command(detached, s.opts.SnapshotDomain, "restore", players, snapshotParams)

	if waitErr != nil {
		log.Info().Err(waitErr).Msg("Chime interrupted")
		return report, waitErr
	}
	log.Info().Dur("duration", report.Duration).Int("failures", report.Failures).Msg("Chime finished")
	return report, nil
}

// duration picks the explicit length, else the longest reported media
// duration, else the fallback.
func (s *Sequencer) duration(ctx context.Context, explicit time.Duration, players []string) time.Duration {
	if explicit > 0 {
		return explicit
	}
	if s.opts.Duration > 0 {
		return s.opts.Duration
	}

	var longest time.Duration
	for _, player := range players {
		st, err := s.transport.Query(ctx, player)
		if err != nil {
			log.Debug().Err(err).Str("player", player).Msg("Player query failed")
			continue
		}
		d, err := ParseDuration(st.Attr(durationAttribute))
		if err != nil {
			log.Warn().Err(err).Str("player", player).Msg("Invalid media duration")
			continue
		}
		longest = max(longest, d)
	}
	if longest <= 0 {
		return s.opts.Fallback
	}
	return longest
}

func (s *Sequencer) command(ctx context.Context, domain, action string, ids []string, params map[string]any) int {
	if err := s.transport.Command(ctx, domain, action, ids, params); err != nil {
		log.Warn().Err(err).Str("domain", domain).Str("action", action).Strs("players", ids).Msg("Chime command failed")
		return 1
	}
	return 0
}

// ClampVolume limits v to [0,1].
func ClampVolume(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

func (r *Report) String() string {
	return fmt.Sprintf("chime %v for %s", r.Players, r.Duration)
}
