package orchestrator

import (
	"context"
	"fmt"
	"math"

	"DeckPilot/core/device"
	"DeckPilot/core/safety"
	"DeckPilot/model"
)

// crossfaderSide is the crossfader value that plays only deck.
func crossfaderSide(deck model.DeckID) int {
	if deck == model.DeckB {
		return 127
	}
	return 0
}

func (o *Orchestrator) setCrossfader(ctx context.Context, deck model.DeckID, v int) error {
	if err := o.gate.Approve(ctx, safety.ActionCrossfade, deck); err != nil {
		return err
	}
	return o.link.Set(ctx, device.Crossfader, v)
}

// crossfade moves the crossfader from out's side to in's side in
// CrossfadeSteps equal steps, one every CrossfadeStepDelay, while the volumes
// trade places. Master passes to in on the first step where in is louder.
// Cancellation is honoured between steps; a started step always completes.
func (o *Orchestrator) crossfade(ctx context.Context, out, in model.DeckID) error {
	steps := o.cfg.CrossfadeSteps
	from, to := crossfaderSide(out), crossfaderSide(in)
	handedOff := o.deck(in).IsMaster

	for i := 1; i <= steps; i++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		stepCtx := context.WithoutCancel(ctx)
		frac := float64(i) / float64(steps)
		xf := from + int(math.Round(float64(to-from)*frac))
		inVol := int(math.Round(float64(o.cfg.PlayVolume) * frac))
		outVol := o.cfg.PlayVolume - inVol

		if err := o.setCrossfader(stepCtx, in, xf); err != nil {
			return err
		}
		if err := o.setVolume(stepCtx, in, inVol); err != nil {
			return err
		}
		if err := o.setVolume(stepCtx, out, outVol); err != nil {
			return err
		}
		if !handedOff && inVol > outVol {
			if err := o.gate.TransferMaster(stepCtx, out, in); err != nil {
				return err
			}
			handedOff = true
		}
		o.update(fmt.Sprintf("crossfade %d/%d", i, steps), nil)

		if err := o.clock.Sleep(ctx, o.cfg.CrossfadeStepDelay); err != nil {
			return err
		}
	}
	return nil
}
