// Command emit sends one event through a running funnel server's
// conversions endpoint, the same way the browser's channel B does. With a
// test event code configured on the server the event shows up in the
// Events Manager test tab.
//
//	emit -endpoint http://localhost:8080/api/meta-conversions -event Lead -email a@b.com
package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/ignite/phase-funnel/internal/identity"
	"github.com/ignite/phase-funnel/internal/kvstore"
	"github.com/ignite/phase-funnel/internal/pkg/logger"
	"github.com/ignite/phase-funnel/internal/tracking"
)

type options struct {
	endpoint  string
	event     string
	email     string
	phone     string
	sourceURL string
}

func main() {
	var o options
	flag.StringVar(&o.endpoint, "endpoint", "http://localhost:8080/api/meta-conversions", "conversions endpoint URL")
	flag.StringVar(&o.event, "event", tracking.EventLead, "event name")
	flag.StringVar(&o.email, "email", "", "email to attach")
	flag.StringVar(&o.phone, "phone", "", "phone to attach")
	flag.StringVar(&o.sourceURL, "url", "https://quiz.example.com/?fbclid=emit-check", "page URL the event claims to come from")
	flag.Parse()

	if err := run(context.Background(), o); err != nil {
		fmt.Fprintln(os.Stderr, "emit:", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, o options) error {
	if o.event == "" {
		return fmt.Errorf("-event is required")
	}

	ids := identity.New(kvstore.NewMemory(0), kvstore.NewMemory(0))
	ids.EnsureClientToken1(ctx)

	pixel := tracking.NewRecordingSink()
	failed := 0
	server := tracking.ChannelFunc(func(ctx context.Context, req tracking.ForwardRequest) error {
		err := tracking.NewHTTPChannel(o.endpoint, nil).Send(ctx, req)
		if err != nil {
			failed++
		}
		return err
	})
	em := tracking.NewEmitter(pixel, server, ids, tracking.Config{})

	id := em.Emit(ctx, tracking.Params{
		EventName:  o.event,
		Attributes: tracking.Attributes{Email: o.email, Phone: o.phone},
		SourceURL:  o.sourceURL,
		UserAgent:  "funnel-emit/1.0",
	})
	// Close skips the channel B delay and waits for the send.
	em.Close()

	if id == "" {
		return fmt.Errorf("no event id could be minted")
	}
	if failed > 0 {
		return fmt.Errorf("event %s not accepted by %s (see log above)", id, o.endpoint)
	}
	logger.Info("event delivered", "event_name", o.event, "event_id", id, "pixel_calls", len(pixel.Calls()))
	return nil
}
