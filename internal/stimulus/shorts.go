package stimulus

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/chromedp/cdproto/runtime"
	"github.com/chromedp/chromedp"
	"github.com/chromedp/chromedp/kb"

	"github.com/dgnsrekt/trafficlab/internal/behavior"
	"github.com/dgnsrekt/trafficlab/internal/types"
)

const DefaultStartURL = "https://www.youtube.com/shorts"

// Browser is the process side of a browser session. *browser.Launcher implements it.
type Browser interface {
	Launch(ctx context.Context) error
	CDPURL() string
	Stop()
}

// ShortsConfig controls ShortsDriver timing.
type ShortsConfig struct {
	StartURL     string
	ProbeWait    time.Duration
	PollInterval time.Duration
	NavTimeout   time.Duration
	// PageLoad returns how long to let a freshly navigated page settle.
	PageLoad func() time.Duration
}

// ShortsDriver scrolls a short-form video feed over CDP. Every cycle gets its own
// browser session through BeginCycle and EndCycle.
type ShortsDriver struct {
	cfg     ShortsConfig
	browser Browser
	logger  *slog.Logger

	mu          sync.Mutex
	allocCancel context.CancelFunc
	tabCtx      context.Context
	tabCancel   context.CancelFunc
}

func NewShortsDriver(cfg ShortsConfig, browser Browser, logger *slog.Logger) *ShortsDriver {
	if cfg.StartURL == "" {
		cfg.StartURL = DefaultStartURL
	}
	if cfg.ProbeWait <= 0 {
		cfg.ProbeWait = 5 * time.Second
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = time.Second
	}
	if cfg.NavTimeout <= 0 {
		cfg.NavTimeout = 30 * time.Second
	}
	if cfg.PageLoad == nil {
		cfg.PageLoad = func() time.Duration { return 3 * time.Second }
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &ShortsDriver{cfg: cfg, browser: browser, logger: logger}
}

// BeginCycle launches the browser, opens the feed, accepts the consent banner and
// starts muted playback of the first item.
func (d *ShortsDriver) BeginCycle(ctx context.Context, cycle int) error {
	if err := d.browser.Launch(ctx); err != nil {
		return types.NewError(types.CodeStimulus, "launch browser", err)
	}

	allocCtx, allocCancel := chromedp.NewRemoteAllocator(context.Background(), d.browser.CDPURL())
	tabCtx, tabCancel := chromedp.NewContext(allocCtx)

	// The first Run allocates the tab and must not use a context that gets cancelled early.
	if err := chromedp.Run(tabCtx); err != nil {
		tabCancel()
		allocCancel()
		d.browser.Stop()
		return types.NewError(types.CodeStimulus, "connect to browser", err)
	}

	d.mu.Lock()
	d.allocCancel, d.tabCtx, d.tabCancel = allocCancel, tabCtx, tabCancel
	d.mu.Unlock()

	navCtx, cancel := d.actionCtx(ctx)
	defer cancel()
	navCtx, navCancel := context.WithTimeout(navCtx, d.cfg.NavTimeout)
	defer navCancel()
	if err := chromedp.Run(navCtx,
		chromedp.Navigate(d.cfg.StartURL),
		chromedp.WaitReady("body", chromedp.ByQuery),
	); err != nil {
		return types.NewError(types.CodeStimulus, "open "+d.cfg.StartURL, err)
	}
	if err := sleepCtx(ctx, d.cfg.PageLoad()); err != nil {
		return types.NewError(types.CodeStimulus, "page load wait", err)
	}

	var consent struct {
		Clicked bool   `json:"clicked"`
		Label   string `json:"label"`
	}
	if err := d.eval(ctx, jsAcceptConsent(), &consent, false); err != nil {
		d.logger.Warn("consent banner check failed", "error", err)
	} else if consent.Clicked {
		d.logger.Info("consent banner accepted", "label", consent.Label)
		if err := sleepCtx(ctx, d.cfg.PageLoad()); err != nil {
			return types.NewError(types.CodeStimulus, "page load wait", err)
		}
	}

	videoCtx, cancelVideo := d.actionCtx(ctx)
	defer cancelVideo()
	videoCtx, videoCancel := context.WithTimeout(videoCtx, d.cfg.NavTimeout)
	defer videoCancel()
	if err := chromedp.Run(videoCtx, chromedp.WaitReady("video", chromedp.ByQuery)); err != nil {
		return types.NewError(types.CodeStimulus, "no video element on page", err)
	}

	var st videoState
	if err := d.eval(ctx, jsEnsurePlaying(), &st, true); err != nil {
		return err
	}
	d.logger.Info("stimulus session ready", "cycle", cycle, "url", d.cfg.StartURL, "paused", st.Paused)
	return nil
}

// EndCycle closes the tab and stops the browser.
func (d *ShortsDriver) EndCycle(context.Context) error {
	d.mu.Lock()
	tabCancel, allocCancel := d.tabCancel, d.allocCancel
	d.tabCtx, d.tabCancel, d.allocCancel = nil, nil, nil
	d.mu.Unlock()

	if tabCancel != nil {
		tabCancel()
	}
	if allocCancel != nil {
		allocCancel()
	}
	d.browser.Stop()
	return nil
}

func (d *ShortsDriver) Probe(ctx context.Context, itemIndex int) (behavior.Nominal, error) {
	deadline := time.Now().Add(d.cfg.ProbeWait)
	for {
		var st videoState
		if err := d.eval(ctx, jsEnsurePlaying(), &st, true); err != nil {
			return behavior.Unavailable, err
		}
		if n := st.nominal(); n.Available {
			return n, nil
		}
		if time.Now().After(deadline) {
			d.logger.Debug("video duration unavailable", "item", itemIndex, "present", st.Present)
			return behavior.Unavailable, nil
		}
		if err := sleepCtx(ctx, 250*time.Millisecond); err != nil {
			return behavior.Unavailable, types.NewError(types.CodeStimulus, "probe interrupted", err)
		}
	}
}

// Present keeps the current video playing for wait, re-asserting playback every poll
// interval, then scrolls to the next item. It returns early if the video ends.
func (d *ShortsDriver) Present(ctx context.Context, itemIndex int, wait time.Duration) (time.Duration, error) {
	start := time.Now()
	timer := time.NewTimer(wait)
	defer timer.Stop()
	ticker := time.NewTicker(d.cfg.PollInterval)
	defer ticker.Stop()

watch:
	for {
		select {
		case <-ctx.Done():
			return time.Since(start), types.NewError(types.CodeStimulus, "present interrupted", ctx.Err())
		case <-timer.C:
			break watch
		case <-ticker.C:
			var st videoState
			if err := d.eval(ctx, jsVideoState(), &st, false); err != nil {
				return time.Since(start), err
			}
			if st.Ended {
				break watch
			}
			if st.Paused {
				if err := d.eval(ctx, jsEnsurePlaying(), &st, true); err != nil {
					return time.Since(start), err
				}
			}
		}
	}

	watched := time.Since(start)
	d.logger.Debug("item presented", "item", itemIndex, "requested", wait, "watched", watched)
	return watched, d.advance(ctx)
}

func (d *ShortsDriver) Skip(ctx context.Context, itemIndex int) error {
	d.logger.Debug("item skipped", "item", itemIndex)
	return d.advance(ctx)
}

func (d *ShortsDriver) advance(ctx context.Context) error {
	runCtx, cancel := d.actionCtx(ctx)
	defer cancel()
	if runCtx == nil {
		return errNoSession
	}
	if err := chromedp.Run(runCtx, chromedp.KeyEvent(kb.PageDown)); err != nil {
		return types.NewError(types.CodeStimulus, "advance to next item", err)
	}
	return nil
}

var errNoSession = types.NewError(types.CodeStimulus, "no browser session, BeginCycle not called", nil)

// actionCtx derives a context from the tab that is also cancelled with ctx. It returns
// a nil context when no session is open.
func (d *ShortsDriver) actionCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	d.mu.Lock()
	tabCtx := d.tabCtx
	d.mu.Unlock()
	if tabCtx == nil {
		return nil, func() {}
	}
	runCtx, cancel := context.WithCancel(tabCtx)
	stop := context.AfterFunc(ctx, cancel)
	return runCtx, func() {
		stop()
		cancel()
	}
}

func (d *ShortsDriver) eval(ctx context.Context, js string, out any, await bool) error {
	runCtx, cancel := d.actionCtx(ctx)
	defer cancel()
	if runCtx == nil {
		return errNoSession
	}

	var raw string
	opts := []chromedp.EvaluateOption{}
	if await {
		opts = append(opts, func(p *runtime.EvaluateParams) *runtime.EvaluateParams {
			return p.WithAwaitPromise(true)
		})
	}
	if err := chromedp.Run(runCtx, chromedp.Evaluate(js, &raw, opts...)); err != nil {
		return types.NewError(types.CodeStimulus, "evaluation failed", err)
	}
	return decodeEnvelope(raw, out)
}
