package api

import (
	"time"

	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/ringflash/internal/chime"
	"github.com/dokzlo13/ringflash/internal/color"
	"github.com/dokzlo13/ringflash/internal/flash"
	"github.com/dokzlo13/ringflash/internal/ring"
	"github.com/dokzlo13/ringflash/internal/targets"
)

// FlashParams is the flash request body. Legacy service field names are
// accepted next to the current ones.
type FlashParams struct {
	Targets       any     `json:"targets"`
	EntityID      any     `json:"entity_id"`
	Flashes       int     `json:"flashes"`
	Repeats       int     `json:"repeats"`
	OnMS          int     `json:"on_ms"`
	OnTimeMS      int     `json:"on_time_ms"`
	OffMS         int     `json:"off_ms"`
	BrightnessPct float64 `json:"brightness_pct"`
	Brightness    float64 `json:"brightness"`
	Color         any     `json:"color"`
	Restore       *bool   `json:"restore"`
}

// Request converts the body. Target values that name no entity fail with
// targets.ErrInvalid.
func (p FlashParams) Request() (flash.Request, error) {
	in, err := targets.FromAny(firstNonNil(p.Targets, p.EntityID))
	if err != nil {
		return flash.Request{}, err
	}

	req := flash.Request{
		Targets: in,
		Flashes: firstPositive(p.Flashes, p.Repeats),
		On:      millis(firstPositive(p.OnMS, p.OnTimeMS)),
		Color:   p.Color,
		Restore: p.Restore,
	}
	// the legacy service used the on time for both phases
	req.Off = millis(firstPositive(p.OffMS, p.OnTimeMS))

	switch {
	case p.Brightness > 0:
		req.Brightness = color.Raw(p.Brightness)
	case p.BrightnessPct > 0:
		req.Brightness = color.Percent(p.BrightnessPct)
	}
	return req, nil
}

// ChimeParams is the chime request body.
type ChimeParams struct {
	Players  any      `json:"players"`
	MediaURL string   `json:"media_url"`
	ChimeURL string   `json:"chime_url"`
	Volume   *float64 `json:"volume"`
	ChimeVol *float64 `json:"chime_vol"`
	Duration any      `json:"duration"`
	ChimeLen any      `json:"chime_len"`
}

// Request converts the body. An unparseable duration falls back to the
// default chime length.
func (p ChimeParams) Request() (chime.Request, error) {
	in, err := targets.FromAny(p.Players)
	if err != nil {
		return chime.Request{}, err
	}

	req := chime.Request{
		Players:  in,
		MediaURL: p.MediaURL,
		Volume:   p.Volume,
	}
	if req.MediaURL == "" {
		req.MediaURL = p.ChimeURL
	}
	if req.Volume == nil {
		req.Volume = p.ChimeVol
	}

	if raw := firstNonNil(p.Duration, p.ChimeLen); raw != nil {
		d, err := chime.ParseDuration(raw)
		if err != nil {
			log.Warn().Err(err).Interface("duration", raw).Dur("fallback", chime.DefaultFallback).Msg("Invalid chime duration")
			d = chime.DefaultFallback
		}
		req.Duration = d
	}
	return req, nil
}

// RingParams is the ring request body: nested arm parameters or the flat
// legacy doorbell_ring fields.
type RingParams struct {
	Flash        *FlashParams `json:"flash"`
	Chime        *ChimeParams `json:"chime"`
	FlashEnabled *bool        `json:"flash_enabled"`
	ChimeEnabled *bool        `json:"chime_enabled"`

	ChimeParams
	FlashTargets       any     `json:"flash_targets"`
	FlashRepeats       int     `json:"flash_repeats"`
	FlashOnTimeMS      int     `json:"flash_on_time_ms"`
	FlashBrightnessPct float64 `json:"flash_brightness_pct"`
	FlashColor         any     `json:"flash_color"`

	// GuardSeconds is the legacy per-call cooldown. The cooldown is
	// process-wide (ring.cooldown), so the value is only logged.
	GuardSeconds *float64 `json:"guard_seconds"`
}

// Params converts the body for source.
func (p RingParams) Params(source string) (ring.Params, error) {
	fp := FlashParams{
		Targets:       p.FlashTargets,
		Repeats:       p.FlashRepeats,
		OnTimeMS:      p.FlashOnTimeMS,
		BrightnessPct: p.FlashBrightnessPct,
		Color:         p.FlashColor,
	}
	if p.Flash != nil {
		fp = *p.Flash
	}
	cp := p.ChimeParams
	if p.Chime != nil {
		cp = *p.Chime
	}

	if p.GuardSeconds != nil {
		log.Info().Float64("guard_seconds", *p.GuardSeconds).Msg("Ignoring per-call guard_seconds, the configured ring cooldown applies")
	}

	flashReq, err := fp.Request()
	if err != nil {
		return ring.Params{}, err
	}
	chimeReq, err := cp.Request()
	if err != nil {
		return ring.Params{}, err
	}

	return ring.Params{
		Source:       source,
		Flash:        flashReq,
		Chime:        chimeReq,
		FlashEnabled: p.FlashEnabled,
		ChimeEnabled: p.ChimeEnabled,
	}, nil
}

func firstNonNil(values ...any) any {
	for _, v := range values {
		if v != nil {
			return v
		}
	}
	return nil
}

func firstPositive(values ...int) int {
	for _, v := range values {
		if v > 0 {
			return v
		}
	}
	return 0
}

func millis(ms int) time.Duration {
	return time.Duration(ms) * time.Millisecond
}
