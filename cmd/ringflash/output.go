package main

import (
	"fmt"
	"strings"

	"github.com/fatih/color"

	"github.com/dokzlo13/ringflash/internal/capability"
	"github.com/dokzlo13/ringflash/internal/chime"
	"github.com/dokzlo13/ringflash/internal/flash"
	"github.com/dokzlo13/ringflash/internal/ring"
)

var (
	okLabel   = color.New(color.FgGreen).Sprint("OK")
	failLabel = color.New(color.FgRed).Sprint("FAILED")
	skipLabel = color.New(color.FgYellow).Sprint("SKIPPED")
	dim       = color.New(color.Faint).SprintFunc()
)

func list(ids []string) string {
	if len(ids) == 0 {
		return dim("(none)")
	}
	return strings.Join(ids, ", ")
}

func printTargets(set capability.TargetSet) {
	fmt.Printf("Targets (%d):\n", len(set.Targets))
	for _, t := range set.Targets {
		detail := t.Tier.String()
		if t.Tier == capability.TierColor {
			detail += " " + t.Encoding.String()
		}
		fmt.Printf("  %s %s\n", t.Ref, dim("["+detail+"]"))
	}
	if len(set.Missing) > 0 {
		fmt.Printf("Missing:     %s\n", color.New(color.FgRed).Sprint(list(set.Missing)))
	}
	if len(set.Unsupported) > 0 {
		fmt.Printf("Unsupported: %s\n", color.New(color.FgYellow).Sprint(list(set.Unsupported)))
	}
}

func printFlash(r *flash.Report) {
	if r == nil {
		return
	}
	fmt.Printf("Flash:    %s\n", list(r.Targets))
	fmt.Printf("  color %s, brightness %d, pulses %d\n", r.Color, r.Brightness, r.Pulses)
	if len(r.Missing) > 0 {
		fmt.Printf("  missing: %s\n", color.New(color.FgRed).Sprint(list(r.Missing)))
	}
	if r.Snapshot != "" {
		restored := failLabel
		if r.Restored {
			restored = okLabel
		}
		fmt.Printf("  restore: %s %s\n", restored, dim(r.Snapshot))
	}
	if r.Failures > 0 {
		fmt.Printf("  %s command failures\n", color.New(color.FgYellow).Sprint(r.Failures))
	}
}

func printChime(r *chime.Report) {
	if r == nil {
		return
	}
	fmt.Printf("Chime:    %s\n", list(r.Players))
	fmt.Printf("  %s at volume %.2f for %s\n", r.MediaURL, r.Volume, r.Duration)
	if r.Failures > 0 {
		fmt.Printf("  %s command failures\n", color.New(color.FgYellow).Sprint(r.Failures))
	}
}

func printOutcome(out ring.Outcome) {
	if out.Status == ring.StatusSkipped {
		fmt.Printf("Ring %s %s: %s\n", dim(out.RunID), skipLabel, out.SkipReason)
		return
	}

	fmt.Printf("Ring %s completed in %s\n", dim(out.RunID), out.Duration())
	if out.Flash != nil || out.FlashErr != nil {
		printArm("flash", out.FlashErr)
		printFlash(out.Flash)
	}
	if out.Chime != nil || out.ChimeErr != nil {
		printArm("chime", out.ChimeErr)
		printChime(out.Chime)
	}
}

func printArm(name string, err error) {
	if err != nil {
		fmt.Printf("%s arm: %s %v\n", name, failLabel, err)
		return
	}
	fmt.Printf("%s arm: %s\n", name, okLabel)
}
