package pipeline

import (
	"context"
	"strconv"
	"time"

	"github.com/sitescope/scanner/internal/scan"
)

// Settle sub-step polling cadence and per-step bounds. The stage context
// caps the whole sequence; these bounds keep any one sub-step from eating
// the others' share.
const (
	settlePollInterval = 100 * time.Millisecond
	scrollPause        = 150 * time.Millisecond
	readyPollBound     = 2 * time.Second
	assetPollBound     = 3 * time.Second
)

const scrollStateScript = `({height: document.documentElement.scrollHeight, viewport: window.innerHeight})`

func scrollToScript(y int) string {
	return `(() => { window.scrollTo(0, ` + strconv.Itoa(y) + `); return true; })()`
}

const readyStateScript = `document.readyState === 'complete'`

// forceEagerScript flips lazy attributes so intersection-observer content
// loads without further scrolling. Returns how many elements were touched.
const forceEagerScript = `(() => {
  let n = 0;
  document.querySelectorAll('img[loading="lazy"], iframe[loading="lazy"]').forEach(el => {
    el.loading = 'eager'; n++;
  });
  document.querySelectorAll('img[data-src], source[data-srcset]').forEach(el => {
    if (el.dataset.src && !el.src) { el.src = el.dataset.src; n++; }
    if (el.dataset.srcset && !el.srcset) { el.srcset = el.dataset.srcset; n++; }
  });
  return n;
})()`

// assetsReadyScript reports whether fonts finished loading and every image
// has either decoded or failed.
const assetsReadyScript = `(() => {
  if (document.fonts && document.fonts.status !== 'loaded') return false;
  for (const img of document.images) {
    if (!img.complete) return false;
  }
  return true;
})()`

// settle runs the preparation sequence: wait for document completion, two
// full scroll passes to trigger lazy content, force-eager remaining lazy
// assets, then wait for images and fonts. Each sub-step tolerates failure;
// the first context expiry aborts the rest.
func settle(ctx context.Context, page scan.Page) error {
	if err := pollUntil(ctx, page, readyStateScript, readyPollBound); err != nil {
		return err
	}
	for pass := 0; pass < 2; pass++ {
		if err := scrollPass(ctx, page); err != nil {
			return err
		}
	}
	var touched int
	if err := page.Evaluate(ctx, forceEagerScript, &touched); err != nil && ctx.Err() != nil {
		return ctx.Err()
	}
	if err := pollUntil(ctx, page, assetsReadyScript, assetPollBound); err != nil {
		return err
	}
	// Leave the viewport at the top so heuristics and screenshots see the
	// page as a visitor first would.
	var ok bool
	if err := page.Evaluate(ctx, scrollToScript(0), &ok); err != nil && ctx.Err() != nil {
		return ctx.Err()
	}
	return nil
}

// scrollPass steps through the full page height viewport by viewport.
func scrollPass(ctx context.Context, page scan.Page) error {
	var state struct {
		Height   int `json:"height"`
		Viewport int `json:"viewport"`
	}
	if err := page.Evaluate(ctx, scrollStateScript, &state); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return err
	}
	step := state.Viewport
	if step <= 0 {
		step = 800
	}
	for y := step; y <= state.Height; y += step {
		if err := ctx.Err(); err != nil {
			return err
		}
		var ok bool
		if err := page.Evaluate(ctx, scrollToScript(y), &ok); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return err
		}
		if err := sleepCtx(ctx, scrollPause); err != nil {
			return err
		}
	}
	return nil
}

// pollUntil evaluates a boolean script until it reports true, the bound
// elapses, or the context expires. A bound elapsing is not an error; the
// page simply never settled.
func pollUntil(ctx context.Context, page scan.Page, script string, bound time.Duration) error {
	deadline := time.Now().Add(bound)
	for {
		var done bool
		if err := page.Evaluate(ctx, script, &done); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return err
		}
		if done || time.Now().After(deadline) {
			return nil
		}
		if err := sleepCtx(ctx, settlePollInterval); err != nil {
			return err
		}
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
