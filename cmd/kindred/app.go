package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"github.com/normanking/kindred/internal/analysis"
	"github.com/normanking/kindred/internal/brain"
	"github.com/normanking/kindred/internal/bus"
	"github.com/normanking/kindred/internal/config"
	"github.com/normanking/kindred/internal/convo"
	"github.com/normanking/kindred/internal/live"
	"github.com/normanking/kindred/internal/logging"
	"github.com/normanking/kindred/internal/pacing"
	"github.com/normanking/kindred/internal/persona"
	"github.com/normanking/kindred/internal/storage"
)

// errorNoticeText is appended as a system turn when generation fails.
const errorNoticeText = "an error occurred while generating a response"

// app wires the whole companion together: engine, personas, storage, brain,
// pacing, live session, and background analysis.
type app struct {
	cfg    *config.Config
	syslog *logging.Logger

	eventBus   *bus.EventBus
	history    *convo.HistoryStore
	view       *convo.ActiveView
	engine     *convo.Engine
	registry   *persona.Registry
	store      storage.Store
	brain      *brain.Client
	revealer   *pacing.Revealer
	adapter    *live.Adapter
	sink       *live.QueueSink
	analyzer   *analysis.Analyzer
	dispatcher *analysis.Dispatcher
}

func newApp(cfg *config.Config) (*app, error) {
	logCfg := &logging.Config{
		Level:   cfg.Log.Level,
		Console: cfg.Log.Console,
	}
	if cfg.Log.File != "" {
		logCfg.LogDir = cfg.Log.File
	} else {
		logCfg = logging.DefaultConfig()
		logCfg.Level = cfg.Log.Level
		logCfg.Console = cfg.Log.Console
	}

	syslog, err := logging.New(logCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}
	zlogger := syslog.Zerolog()

	eventBus := bus.NewEventBus()
	history := convo.NewHistoryStore()
	view := convo.NewActiveView()
	engine := convo.NewEngine(history, view, eventBus, zlogger)
	registry := persona.NewRegistry(history, zlogger)

	store, err := storage.NewSQLiteStore(cfg.Storage.DBPath, zlogger)
	if err != nil {
		syslog.Close()
		return nil, fmt.Errorf("failed to open storage: %w", err)
	}

	snapshot, ok, err := store.Load()
	if err != nil {
		store.Close()
		syslog.Close()
		return nil, fmt.Errorf("failed to load snapshot: %w", err)
	}
	if ok {
		history.Restore(snapshot.Conversations)
		registry.Seed(snapshot.Personas)
	} else {
		registry.Seed(persona.Defaults())
	}

	brainClient, err := brain.NewClient(context.Background(), cfg.Brain.APIKey, cfg.Brain.Model, zlogger)
	if err != nil {
		store.Close()
		syslog.Close()
		return nil, fmt.Errorf("failed to create brain client: %w", err)
	}

	a := &app{
		cfg:        cfg,
		syslog:     syslog,
		eventBus:   eventBus,
		history:    history,
		view:       view,
		engine:     engine,
		registry:   registry,
		store:      store,
		brain:      brainClient,
		revealer:   pacing.NewRevealer(engine, eventBus, zlogger),
		analyzer:   analysis.NewAnalyzer(brainClient, registry, eventBus, zlogger),
		dispatcher: analysis.NewDispatcher(zlogger),
	}

	playbackLog := syslog.Component("playback")
	a.sink = live.NewQueueSink(func(pcm []byte) {
		// Audio output device wiring lives outside this binary; frames are
		// accounted for and dropped.
		playbackLog.Debug().Int("bytes", len(pcm)).Msg("Model audio frame")
	}, zlogger)

	liveClient := brain.NewLiveClient(cfg.Brain.APIKey, zlogger)
	a.adapter = live.NewAdapter(engine, liveClient, a.sink, eventBus, zlogger)
	a.adapter.OnTurnComplete = a.afterExchange
	a.adapter.OnSessionEnd = a.afterLiveSession

	config.Watch(func(updated *config.Config) {
		a.cfg.Pacing = updated.Pacing
		a.cfg.Analysis = updated.Analysis
		zlogger.Info().Msg("Configuration reloaded")
	})

	return a, nil
}

// Close persists state and shuts everything down. Pending analyses are given
// the chance to land before the snapshot is written.
func (a *app) Close() {
	a.adapter.Stop()
	a.dispatcher.Wait()
	a.saveSnapshot()

	a.sink.Close()
	a.brain.Close()
	a.store.Close()
	a.eventBus.Clear()
	a.syslog.Close()
}

func (a *app) saveSnapshot() {
	err := a.store.Save(storage.Snapshot{
		Personas:      a.registry.Snapshot(),
		Conversations: a.history.Snapshot(),
	})
	if err != nil {
		logger := a.syslog.Zerolog()
		logger.Error().Err(err).Msg("Failed to save snapshot")
	}
}

// afterExchange dispatches the per-exchange analyses for the persona.
func (a *app) afterExchange(personaID string) {
	exchange := a.engine.LastExchange()
	if len(exchange) == 0 {
		return
	}

	if a.cfg.Analysis.RapportEnabled {
		a.dispatcher.Go("rapport", func(ctx context.Context) {
			a.analyzer.UpdateRapport(ctx, personaID, exchange)
		})
	}
	if a.cfg.Analysis.MemoryExtraction {
		a.dispatcher.Go("memories", func(ctx context.Context) {
			a.analyzer.ExtractMemories(ctx, personaID, exchange)
		})
	}
	a.saveSnapshot()
}

// afterLiveSession synthesizes the journal from the voice conversation and
// then clears it; live transcripts are working material, not durable chat.
func (a *app) afterLiveSession(personaID string) {
	turns := a.history.Turns(personaID)
	if len(turns) == 0 {
		return
	}

	if a.cfg.Analysis.JournalEnabled {
		a.dispatcher.Go("journal", func(ctx context.Context) {
			a.analyzer.SynthesizeJournal(ctx, personaID, turns)
		})
	}
	a.engine.Clear(personaID)
	a.saveSnapshot()
}

// journalOnLeave runs journal synthesis when the user navigates away from a
// persona with conversation on the books.
func (a *app) journalOnLeave(personaID string) {
	if personaID == "" || !a.cfg.Analysis.JournalEnabled {
		return
	}
	turns := a.history.Turns(personaID)
	if len(turns) == 0 {
		return
	}
	a.dispatcher.Go("journal", func(ctx context.Context) {
		a.analyzer.SynthesizeJournal(ctx, personaID, turns)
	})
}

// runChat is the interactive text loop.
func (a *app) runChat(ctx context.Context) error {
	if a.engine.ActiveID() == "" {
		personas := a.registry.List()
		if len(personas) == 0 {
			return fmt.Errorf("no personas configured")
		}
		a.engine.SetActive(personas[0].ID)
	}

	a.printActivePersona()
	fmt.Println(`Type a message, or /help for commands.`)

	scanner := bufio.NewScanner(os.Stdin)
	for {
		fmt.Print("> ")
		if !scanner.Scan() {
			return scanner.Err()
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		if strings.HasPrefix(line, "/") {
			quit, err := a.handleCommand(ctx, line)
			if err != nil {
				fmt.Println(err)
			}
			if quit {
				return nil
			}
			continue
		}

		a.handleMessage(ctx, line)
	}
}

// handleMessage runs one text exchange: seal the user turn, generate the
// reply, and reveal it at pace.
func (a *app) handleMessage(ctx context.Context, text string) {
	activeID := a.engine.ActiveID()
	if activeID == "" {
		fmt.Println("no active persona; use /persona <id>")
		return
	}
	a.engine.Append(activeID, convo.RoleUser, text, convo.SealTurn)

	p, _ := a.registry.Get(activeID)
	reply, err := a.brain.ChatReply(ctx, a.systemPrompt(p), a.history.Turns(activeID))
	if err != nil {
		logger := a.syslog.Zerolog()
		logger.Error().Err(err).Msg("Reply generation failed")
		a.engine.Append(activeID, convo.RoleSystem, errorNoticeText, convo.SealTurn)
		fmt.Printf("[%s]\n", errorNoticeText)
		return
	}

	if a.cfg.Pacing.Enabled {
		a.revealer.OnFragment = func(fragment string) {
			fmt.Printf("%s: %s\n", p.Name, fragment)
		}
		a.revealer.Reveal(ctx, activeID, reply)
	} else {
		a.engine.Append(activeID, convo.RoleAgent, reply, convo.SealTurn)
		fmt.Printf("%s: %s\n", p.Name, reply)
	}

	a.afterExchange(activeID)
}

// systemPrompt folds the persona's instruction, rapport, and journal into
// the system instruction for generation.
func (a *app) systemPrompt(p persona.Persona) string {
	var b strings.Builder
	b.WriteString(p.SystemInstruction)
	fmt.Fprintf(&b, "\n\nYour rapport with the user is %d on a %d-%d scale.",
		p.Rapport, persona.RapportMin, persona.RapportMax)
	if p.Journal.Summary != "" {
		fmt.Fprintf(&b, "\nYour journal about the user: %s", p.Journal.Summary)
	}
	for _, m := range p.Journal.Memories {
		fmt.Fprintf(&b, "\n- %s", m.Text)
	}
	return b.String()
}

func (a *app) handleCommand(ctx context.Context, line string) (quit bool, err error) {
	fields := strings.Fields(line)
	switch fields[0] {
	case "/quit", "/exit":
		return true, nil

	case "/help":
		fmt.Println(`Commands:
  /personas              list personas with rapport and unread counts
  /persona <id>          switch the active persona
  /new <name> <voice>    create a persona
  /delete <id>           delete a persona and its history
  /react <index> <emoji> toggle a reaction on a turn
  /journal               show the active persona's journal
  /history               print the active conversation
  /live                  start a streaming voice session
  /stop                  end the voice session
  /quit                  exit`)
		return false, nil

	case "/personas":
		for _, p := range a.registry.List() {
			marker := " "
			if p.ID == a.engine.ActiveID() {
				marker = "*"
			}
			fmt.Printf("%s %s (%s) rapport=%d unread=%d\n",
				marker, p.Name, p.ID, p.Rapport, a.history.UnreadCount(p.ID))
		}
		return false, nil

	case "/persona":
		if len(fields) < 2 {
			return false, fmt.Errorf("usage: /persona <id>")
		}
		if _, ok := a.registry.Get(fields[1]); !ok {
			return false, fmt.Errorf("unknown persona %q", fields[1])
		}
		a.journalOnLeave(a.engine.ActiveID())
		a.engine.SetActive(fields[1])
		a.printActivePersona()
		return false, nil

	case "/new":
		if len(fields) < 2 {
			return false, fmt.Errorf("usage: /new <name> [voice]")
		}
		voice := "Aoede"
		if len(fields) > 2 {
			voice = fields[2]
		}
		p := a.registry.Create(fields[1], voice,
			fmt.Sprintf("You are %s, a thoughtful companion.", fields[1]))
		fmt.Printf("created %s (%s)\n", p.Name, p.ID)
		return false, nil

	case "/delete":
		if len(fields) < 2 {
			return false, fmt.Errorf("usage: /delete <id>")
		}
		if fields[1] == a.engine.ActiveID() {
			a.engine.SetActive("")
		}
		return false, a.registry.Delete(fields[1])

	case "/react":
		if len(fields) < 3 {
			return false, fmt.Errorf("usage: /react <index> <emoji>")
		}
		index, convErr := strconv.Atoi(fields[1])
		if convErr != nil {
			return false, fmt.Errorf("index must be a number")
		}
		reaction := fields[2]
		a.engine.UpdateTurn(index, convo.TurnUpdate{Reaction: &reaction})
		return false, nil

	case "/journal":
		p, ok := a.registry.Get(a.engine.ActiveID())
		if !ok {
			return false, fmt.Errorf("no active persona")
		}
		if p.Journal.Summary == "" && len(p.Journal.Memories) == 0 {
			fmt.Println("(journal is empty)")
			return false, nil
		}
		fmt.Println(p.Journal.Summary)
		for _, m := range p.Journal.Memories {
			fmt.Printf("- %s (%.2f)\n", m.Text, m.Confidence)
		}
		if !p.Journal.UpdatedAt.IsZero() {
			fmt.Printf("updated %s\n", p.Journal.UpdatedAt.Format("2006-01-02 15:04"))
		}
		return false, nil

	case "/history":
		for i, turn := range a.view.Turns() {
			marker := ""
			if turn.Reaction != "" {
				marker = " " + turn.Reaction
			}
			fmt.Printf("%3d [%s] %s%s\n", i, turn.Role, turn.Text, marker)
		}
		return false, nil

	case "/live":
		return false, a.startLive(ctx)

	case "/stop":
		a.adapter.Stop()
		return false, nil

	default:
		return false, fmt.Errorf("unknown command %s", fields[0])
	}
}

func (a *app) startLive(ctx context.Context) error {
	activeID := a.engine.ActiveID()
	p, ok := a.registry.Get(activeID)
	if !ok {
		return fmt.Errorf("no active persona")
	}
	return a.adapter.Start(ctx, activeID, live.SessionConfig{
		Model:             a.cfg.Brain.LiveModel,
		SystemInstruction: a.systemPrompt(p),
		VoiceName:         p.VoiceName,
	})
}

// runLive starts a voice session immediately and blocks until interrupted.
func (a *app) runLive(ctx context.Context) error {
	if a.engine.ActiveID() == "" {
		personas := a.registry.List()
		if len(personas) == 0 {
			return fmt.Errorf("no personas configured")
		}
		a.engine.SetActive(personas[0].ID)
	}

	if err := a.startLive(ctx); err != nil {
		return err
	}
	a.printActivePersona()
	fmt.Println("live session running, ctrl-c to end")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	select {
	case <-sigCh:
	case <-ctx.Done():
	}

	a.adapter.Stop()
	return nil
}

func (a *app) printActivePersona() {
	p, ok := a.registry.Get(a.engine.ActiveID())
	if !ok {
		return
	}
	fmt.Printf("-- talking with %s --\n", p.Name)
}
