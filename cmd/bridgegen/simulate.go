package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/ignite/formbridge/internal/bridge"
	"github.com/ignite/formbridge/internal/config"
	"github.com/ignite/formbridge/internal/domain"
	"github.com/ignite/formbridge/internal/locator"
	"github.com/ignite/formbridge/internal/page"
	"github.com/ignite/formbridge/internal/tracking"
	"github.com/ignite/formbridge/internal/trigger"
)

// lead is what the simulated visitor types into the widget.
type lead struct {
	Name    string
	Email   string
	Phone   string
	Consent bool
}

// simulation is one replay of a registration.
type simulation struct {
	Markup string
	URL    string
	Config domain.BridgeConfig
	Lead   lead
	Poll   locator.Policy
	Guard  trigger.Guard
	// DebugKey and EndpointPatterns default to the bridge built-ins.
	DebugKey         string
	EndpointPatterns []string
	// PageOptions seeds the window; URL is taken from the simulation.
	PageOptions page.Options
}

// report is the result of a simulation.
type report struct {
	Button string
	Alerts []string
	Events []tracking.DeliveryEvent
}

type eventLog struct {
	mu     sync.Mutex
	events []tracking.DeliveryEvent
}

func (l *eventLog) Publish(_ context.Context, evt tracking.DeliveryEvent) {
	l.mu.Lock()
	l.events = append(l.events, evt)
	l.mu.Unlock()
}

func (l *eventLog) all() []tracking.DeliveryEvent {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]tracking.DeliveryEvent(nil), l.events...)
}

// run attaches the bridge to the page, fills the widget, clicks register and
// waits for every delivery attempt to conclude.
func (s simulation) run(ctx context.Context) (report, error) {
	opts := s.PageOptions
	opts.URL = s.URL
	w, err := page.Load(s.Markup, opts)
	if err != nil {
		return report{}, fmt.Errorf("loading page: %w", err)
	}

	events := &eventLog{}
	b, err := bridge.Init(ctx, w, bridge.Options{
		Config:           s.Config,
		DebugKey:         s.DebugKey,
		Poll:             s.Poll,
		EndpointPatterns: s.EndpointPatterns,
		Outcomes:         events,
		Guard:            s.Guard,
	})
	if err != nil {
		return report{}, err
	}

	b.Handles.Name.SetValue(s.Lead.Name)
	b.Handles.Email.SetValue(s.Lead.Email)
	if b.Handles.Phone != nil {
		b.Handles.Phone.SetValue(s.Lead.Phone)
	}
	b.Gate.Toggle(s.Lead.Consent)
	b.Handles.Button.Click()

	b.Close()
	w.Wait()

	return report{
		Button: b.Handles.Button.Describe(),
		Alerts: w.Alerts(),
		Events: events.all(),
	}, nil
}

func runSimulate(ctx context.Context, args []string, out io.Writer) error {
	fs := flag.NewFlagSet("simulate", flag.ContinueOnError)
	var sf snippetFlags
	sf.register(fs)
	pagePath := fs.String("page", "", "HTML file of the rendered landing page (widget fields, sink frame and CRM form)")
	pageURL := fs.String("url", "https://example.com/", "page URL, including any attribution query parameters")
	name := fs.String("name", "Test Lead", "lead name")
	email := fs.String("email", "test@example.com", "lead email")
	phone := fs.String("phone", "", "lead phone")
	consent := fs.Bool("consent", false, "tick the SMS consent box")
	wait := fs.Duration("wait", 30*time.Second, "overall time limit")
	redisAddr := fs.String("redis", "", "Redis address for the duplicate submission guard (overrides -app-config)")
	cfgPath := fs.String("app-config", "", "service configuration supplying poll, endpoint and dedupe settings")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *pagePath == "" {
		return errors.New("-page is required")
	}
	markup, err := os.ReadFile(*pagePath)
	if err != nil {
		return err
	}
	cfg, _, _, err := sf.load()
	if err != nil {
		return err
	}

	sim := simulation{
		Markup: string(markup),
		URL:    *pageURL,
		Config: cfg,
		Lead:   lead{Name: *name, Email: *email, Phone: *phone, Consent: *consent},
	}
	guardTTL := 30 * time.Second
	if *cfgPath != "" {
		appCfg, err := config.LoadFromEnv(*cfgPath)
		if err != nil {
			return fmt.Errorf("loading %s: %w", *cfgPath, err)
		}
		b := appCfg.Bridge
		sim.DebugKey = b.DebugKey
		sim.EndpointPatterns = b.EndpointPatterns
		sim.Poll = locator.Policy{Attempts: b.PollAttempts, Interval: b.PollInterval()}
		if b.Dedupe.Enabled {
			guardTTL = b.Dedupe.TTL()
			if *redisAddr == "" {
				*redisAddr = appCfg.Redis.Addr
			}
		}
	}
	if *redisAddr != "" {
		client := redis.NewClient(&redis.Options{Addr: *redisAddr})
		defer client.Close()
		sim.Guard = trigger.NewLockGuard(client, nil, cfg.FormID, guardTTL)
	}

	ctx, cancel := context.WithTimeout(ctx, *wait)
	defer cancel()
	rep, err := sim.run(ctx)
	if err != nil {
		return err
	}
	printReport(out, rep)
	return nil
}

func printReport(out io.Writer, rep report) {
	fmt.Fprintf(out, "button:  %s\n", rep.Button)
	for _, a := range rep.Alerts {
		fmt.Fprintf(out, "alert:   %s\n", a)
	}
	if len(rep.Events) == 0 {
		fmt.Fprintln(out, "result:  no delivery attempted")
		return
	}
	for _, evt := range rep.Events {
		line := fmt.Sprintf("result:  %s via %s in %dms", evt.Outcome, channelName(evt.Channel), evt.DurationMS)
		if evt.Error != "" {
			line += " (" + evt.Error + ")"
		}
		fmt.Fprintln(out, line)
	}
}

func channelName(c domain.Channel) string {
	if c == domain.ChannelNone {
		return "none"
	}
	return string(c)
}
