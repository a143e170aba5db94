package gateway

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/stellarlinkco/taskflow/internal/bus"
	"github.com/stellarlinkco/taskflow/internal/channel"
	"github.com/stellarlinkco/taskflow/internal/command"
	"github.com/stellarlinkco/taskflow/internal/config"
	"github.com/stellarlinkco/taskflow/internal/cron"
	"github.com/stellarlinkco/taskflow/internal/deadline"
	"github.com/stellarlinkco/taskflow/internal/messages"
	"github.com/stellarlinkco/taskflow/internal/notify"
	"github.com/stellarlinkco/taskflow/internal/store"
	"github.com/stellarlinkco/taskflow/internal/workflow"
)

// Options for creating a Gateway
type Options struct {
	SignalChan chan os.Signal // for testing signal handling
}

type Gateway struct {
	cfg        *config.Config
	bus        *bus.MessageBus
	store      *store.Store
	workflow   *workflow.Service
	router     *command.Router
	reminder   *deadline.Reminder
	channels   *channel.ChannelManager
	cron       *cron.Service
	reminderID string
	signalChan chan os.Signal // for testing

	cancel   context.CancelFunc
	loopDone chan struct{}
}

// New creates a Gateway with default options
func New(cfg *config.Config) (*Gateway, error) {
	return NewWithOptions(cfg, Options{})
}

// NewWithOptions creates a Gateway with custom options for testing
func NewWithOptions(cfg *config.Config, opts Options) (*Gateway, error) {
	g := &Gateway{cfg: cfg, signalChan: opts.SignalChan}

	loc, err := cfg.Location()
	if err != nil {
		return nil, err
	}

	catalog, err := messages.Load(cfg.Messages.Locale, cfg.Messages.Path)
	if err != nil {
		return nil, fmt.Errorf("load messages: %w", err)
	}

	// Message bus
	g.bus = bus.NewMessageBus(config.DefaultBufSize)

	st, err := store.New(cfg.Store.DBPath)
	if err != nil {
		return nil, fmt.Errorf("open task store: %w", err)
	}
	g.store = st

	notifier := notify.NewDispatcher(g.bus, channel.TelegramName, catalog)
	g.workflow = workflow.New(st, notifier, workflow.Options{
		Admins:       cfg.Workflow.Admins,
		StrictReview: cfg.Workflow.StrictReview,
	})
	g.router = command.NewRouter(g.workflow, catalog)

	// Cron
	g.cron = cron.NewService(loc)
	if cfg.Deadline.Enabled {
		g.reminder = deadline.NewReminder(st, notifier, loc)
		job, err := g.cron.AddJob(deadline.JobName, cfg.Deadline.Schedule, g.reminder.Job)
		if err != nil {
			_ = st.Close()
			return nil, fmt.Errorf("schedule deadline reminder: %w", err)
		}
		g.reminderID = job.ID
	}

	chMgr, err := channel.NewChannelManager(cfg.Channels, g.bus)
	if err != nil {
		_ = st.Close()
		return nil, fmt.Errorf("create channel manager: %w", err)
	}
	g.channels = chMgr

	return g, nil
}

func (g *Gateway) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	g.cancel = cancel

	go g.bus.DispatchOutbound(ctx)

	if err := g.channels.StartAll(ctx); err != nil {
		_ = g.Shutdown()
		return fmt.Errorf("start channels: %w", err)
	}
	log.Printf("[gateway] channels started: %v", g.channels.EnabledChannels())

	if err := g.cron.Start(ctx); err != nil {
		log.Printf("[gateway] cron start warning: %v", err)
	}
	if g.reminder != nil {
		if g.cfg.Deadline.RunOnStart {
			if err := g.cron.RunJob(deadline.JobName); err != nil {
				log.Printf("[gateway] initial deadline scan warning: %v", err)
			}
		}
		if next := g.cron.NextRun(g.reminderID); !next.IsZero() {
			log.Printf("[gateway] next deadline scan at %s", next.Format(time.RFC3339))
		}
	}

	g.loopDone = make(chan struct{})
	go func() {
		defer close(g.loopDone)
		g.processLoop(ctx)
	}()

	log.Printf("[gateway] running (store %s, tz %s)", g.cfg.Store.DBPath, g.cfg.Deadline.Timezone)

	// Use injected signal channel for testing, or create default
	sigCh := g.signalChan
	if sigCh == nil {
		sigCh = make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		defer signal.Stop(sigCh)
	}
	select {
	case <-sigCh:
	case <-ctx.Done():
	}

	log.Printf("[gateway] shutting down...")
	return g.Shutdown()
}

func (g *Gateway) processLoop(ctx context.Context) {
	for {
		select {
		case msg := <-g.bus.Inbound:
			g.handle(ctx, msg)
		case <-ctx.Done():
			return
		}
	}
}

func (g *Gateway) handle(ctx context.Context, msg bus.InboundMessage) {
	if msg.IsCallback() {
		log.Printf("[gateway] button from %s/%s: %s", msg.Channel, senderLabel(msg), msg.Action)
	} else {
		log.Printf("[gateway] command from %s/%s: /%s %s", msg.Channel, senderLabel(msg), msg.Command, truncate(msg.Content, 80))
	}

	for _, reply := range g.router.Handle(ctx, msg) {
		select {
		case g.bus.Outbound <- reply:
		case <-ctx.Done():
			return
		}
	}
}

// Shutdown stops intake before closing the store, so no command runs
// against a closed database.
func (g *Gateway) Shutdown() error {
	if g.cancel != nil {
		g.cancel()
	}
	if g.loopDone != nil {
		<-g.loopDone
	}
	_ = g.channels.StopAll()
	g.cron.Stop()
	if g.store != nil {
		if err := g.store.Close(); err != nil {
			log.Printf("[gateway] close store warning: %v", err)
		}
	}
	log.Printf("[gateway] shutdown complete")
	return nil
}

// senderLabel is the sender id, with the username when the channel gave one.
func senderLabel(msg bus.InboundMessage) string {
	if name, _ := msg.Metadata["username"].(string); name != "" {
		return msg.SenderID + " (@" + name + ")"
	}
	return msg.SenderID
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
