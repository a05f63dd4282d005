package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"

	"github.com/mediasessions/mediahub/lib/agent"
	"github.com/mediasessions/mediahub/lib/frameclock"
	"github.com/mediasessions/mediahub/lib/pagelink"
	"github.com/mediasessions/mediahub/lib/wire"
)

// pagesim is a synthetic page: it connects to the coordinator as a page,
// tracks a handful of scripted elements, and keeps them ticking so that
// observers have live sessions to watch and command.

var catalogue = []struct {
	title  string
	artist string
	source string
	length float64
}{
	{"Front Page Stream", "", "https://demo.mediahub.dev/live", 0},
	{"Album Track", "The Examples", "https://demo.mediahub.dev/track-1", 185},
	{"Podcast Episode", "Night Shift", "https://demo.mediahub.dev/ep-42", 2712},
}

func main() {
	var (
		url           = flag.String("url", "ws://localhost:10800/ws/page", "coordinator page socket URL")
		pageURL       = flag.String("page-url", "https://demo.mediahub.dev/watch", "URL the simulated page claims to be at")
		pageTitle     = flag.String("page-title", "mediahub demo page", "title the simulated page claims")
		elements      = flag.Int("elements", 2, "number of simulated elements to track")
		tick          = flag.Duration("tick", 500*time.Millisecond, "playhead advance interval")
		frameInterval = flag.Duration("frame-interval", frameclock.DefaultInterval, "deferred event coalescing window")
		autoplay      = flag.Bool("autoplay", true, "start the first element playing")
	)
	flag.Parse()

	slogger := slog.New(slog.NewTextHandler(os.Stdout, nil))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	pageID := uuid.NewString()
	link, err := pagelink.New(*url, wire.Hello{PageID: pageID, URL: *pageURL, Title: *pageTitle}, pagelink.Options{}, slogger)
	if err != nil {
		slogger.Error("[pagesim] invalid link configuration", "err", err)
		os.Exit(1)
	}
	ag, err := agent.New(pageID, link, frameclock.NewTick(*frameInterval), slogger)
	if err != nil {
		slogger.Error("[pagesim] failed to create agent", "err", err)
		os.Exit(1)
	}
	link.BindAgent(ag)

	if err := link.Open(ctx); err != nil {
		slogger.Error("[pagesim] failed to open page channel", "url", *url, "err", err)
		os.Exit(1)
	}

	sims := make([]*simElement, 0, *elements)
	for i := 0; i < *elements; i++ {
		spec := catalogue[i%len(catalogue)]
		title := spec.title
		if *elements > len(catalogue) {
			title = fmt.Sprintf("%s #%d", spec.title, i+1)
		}
		el := newSimElement(title, spec.artist, spec.source, spec.length)
		id := ag.Track(el)
		el.bind(func(kind agent.EventKind) { ag.HandleEvent(id, kind) })
		sims = append(sims, el)
	}

	if *autoplay && len(sims) > 0 {
		_ = sims[0].Play(ctx)
	}

	slogger.Info("[pagesim] reporting", "pageId", pageID, "elements", len(sims))

	ticker := time.NewTicker(*tick)
	defer ticker.Stop()

	last := time.Now()
	for {
		select {
		case <-ctx.Done():
			slogger.Info("[pagesim] shutting down")
			ag.Close()
			link.Close()
			return
		case now := <-ticker.C:
			dt := now.Sub(last)
			last = now
			for _, el := range sims {
				el.advance(dt)
			}
		}
	}
}
