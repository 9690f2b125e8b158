// ABOUTME: Terminal client for chart conversations: readline-style input, streamed turn output.
// ABOUTME: Session commands (/sessions, /use, /new, /delete, /history) plus display toggles.

package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/fatih/color"

	"github.com/lantern-health/chartclient/internal/agent"
	"github.com/lantern-health/chartclient/internal/config"
	"github.com/lantern-health/chartclient/internal/conversation"
	"github.com/lantern-health/chartclient/internal/pipeline"
	"github.com/lantern-health/chartclient/internal/prefs"
	"github.com/lantern-health/chartclient/internal/session"
)

var (
	faint   = color.New(color.Faint)
	toolClr = color.New(color.FgYellow)
	okClr   = color.New(color.FgGreen)
	errClr  = color.New(color.FgRed)
)

func main() {
	configPath := flag.String("config", "", "Path to YAML config file")
	agentURL := flag.String("agent", "http://localhost:8090", "Agent base URL")
	sessionsURL := flag.String("sessions", "http://localhost:8090", "Session directory base URL")
	dbPath := flag.String("db", defaultDBPath(), "Local state database path")
	patientID := flag.String("patient", "", "Patient context for asks")
	logLevel := flag.String("log-level", "warn", "Log level: debug, info, warn, error")
	flag.Parse()

	cfg := flagConfig(*agentURL, *sessionsURL, *dbPath)
	if *configPath != "" {
		loaded, err := config.Load(*configPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		cfg = loaded
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = *logLevel
	}

	logger := newLogger(cfg.Logging)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, cfg, *patientID, logger); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	fmt.Println("\nGoodbye!")
}

// flagConfig builds the config used when no file is given.
func flagConfig(agentURL, sessionsURL, dbPath string) *config.Config {
	return &config.Config{
		Agent:    config.AgentConfig{BaseURL: agentURL, Token: os.Getenv("CHART_TOKEN")},
		Sessions: config.SessionsConfig{BaseURL: sessionsURL},
		Local:    config.LocalConfig{Path: dbPath},
	}
}

func defaultDBPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "chartclient.db"
	}
	return filepath.Join(home, ".local", "share", "chartclient", "state.db")
}

func newLogger(lc config.LoggingConfig) *slog.Logger {
	var level slog.Level
	switch strings.ToLower(lc.Level) {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelWarn
	}
	opts := &slog.HandlerOptions{Level: level}
	if lc.Format == "json" {
		return slog.New(slog.NewJSONHandler(os.Stderr, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stderr, opts))
}

func run(ctx context.Context, cfg *config.Config, patientID string, logger *slog.Logger) error {
	local, err := session.OpenLocal(cfg.Local.Path, logger)
	if err != nil {
		return fmt.Errorf("opening local state: %w", err)
	}
	defer local.Close()

	identity := session.ResolveIdentity(cfg.Agent.Token, local, logger)
	store := session.NewStore(cfg.Sessions.BaseURL, local, session.StoreOptions{
		MaxSessions: cfg.Sessions.MaxPerUser,
		Token:       cfg.Agent.Token,
		Logger:      logger,
	})
	client := agent.NewClient(cfg.Agent.BaseURL, agent.Options{
		TurnTimeout:   cfg.Agent.TurnTimeout,
		HealthTimeout: cfg.Agent.HealthTimeout,
		Token:         cfg.Agent.Token,
		Logger:        logger,
	})

	matcher := pipeline.DefaultMatcher()
	if cfg.Pipeline.PhrasesPath != "" {
		matcher, err = pipeline.LoadMatcher(cfg.Pipeline.PhrasesPath)
		if err != nil {
			return fmt.Errorf("loading phrase table: %w", err)
		}
	}
	deriver := pipeline.NewDeriver(matcher, logger)
	display := prefs.New(local, logger)

	updates := make(chan struct{}, 1)
	ctrl := conversation.NewController(client, store, identity, conversation.Options{
		TopK:         cfg.Agent.TopK,
		RerankTopK:   cfg.Agent.RerankTopK,
		HistoryLimit: cfg.Sessions.HistoryLimit,
		Sink:         deriver,
		Local:        local,
		Logger:       logger,
		Notify: func() {
			select {
			case updates <- struct{}{}:
			default:
			}
		},
	})

	fmt.Printf("chart-tui connected to %s\n", cfg.Agent.BaseURL)
	if identity.Guest {
		fmt.Printf("Identity: guest (%s)\n", identity.ID)
	} else {
		fmt.Printf("Identity: %s\n", identity.ID)
	}
	if err := ctrl.Resume(ctx); err != nil {
		faint.Printf("could not resume previous session: %v\n", err)
	}
	if sess := ctrl.ActiveSession(); sess != nil {
		fmt.Printf("Resumed session: %s\n", sess.Name)
	}
	fmt.Println("Type a question and press Enter. /help for commands. Ctrl+C to quit.")
	fmt.Println()

	return loop(ctx, ctrl, store, deriver, display, patientID, updates)
}

func loop(ctx context.Context, ctrl *conversation.Controller, store *session.Store,
	deriver *pipeline.Deriver, display *prefs.Prefs, patientID string, updates <-chan struct{}) error {

	scanner := bufio.NewScanner(os.Stdin)
	for {
		fmt.Print(prompt(ctrl))

		inputCh := make(chan string, 1)
		errCh := make(chan error, 1)
		go func() {
			if scanner.Scan() {
				inputCh <- scanner.Text()
			} else if err := scanner.Err(); err != nil {
				errCh <- err
			} else {
				errCh <- io.EOF
			}
		}()

		var input string
		select {
		case <-ctx.Done():
			return nil
		case err := <-errCh:
			if errors.Is(err, io.EOF) {
				return nil
			}
			return fmt.Errorf("reading input: %w", err)
		case input = <-inputCh:
		}

		input = strings.TrimSpace(input)
		if input == "" {
			continue
		}
		if input == "/quit" || input == "/exit" || input == "/q" {
			return nil
		}
		if strings.HasPrefix(input, "/") {
			handleCommand(ctx, input, ctrl, store, deriver, display)
			fmt.Println()
			continue
		}

		if err := ctrl.Send(ctx, input, patientID); err != nil {
			errClr.Printf("[error] %v\n\n", err)
			continue
		}
		streamTurn(ctx, ctrl, display, updates)
		fmt.Println()
	}
}

func prompt(ctrl *conversation.Controller) string {
	if sess := ctrl.ActiveSession(); sess != nil {
		name := sess.Name
		if len(name) > 24 {
			name = name[:21] + "..."
		}
		return fmt.Sprintf("[%s]> ", name)
	}
	return "> "
}

// streamTurn renders controller updates until the in-flight turn resolves.
// A Ctrl+C during the turn stops the turn rather than the program.
func streamTurn(ctx context.Context, ctrl *conversation.Controller,
	display *prefs.Prefs, updates <-chan struct{}) {

	var lastStatus string
	stepsPrinted := 0
	interrupt := ctx.Done()

	for {
		select {
		case <-interrupt:
			ctrl.Stop()
			faint.Println("[stopping]")
			interrupt = nil
		case <-updates:
		case <-time.After(time.Second):
		}

		if status := ctrl.StatusText(); status != "" && status != lastStatus {
			faint.Printf("[status] %s\n", status)
			lastStatus = status
		}
		if display.ShowSteps() {
			steps := ctrl.Steps()
			for ; stepsPrinted < len(steps); stepsPrinted++ {
				printStep(steps[stepsPrinted])
			}
		}
		if !ctrl.Busy() {
			break
		}
	}

	if err := ctrl.Err(); err != nil {
		errClr.Printf("[error] %v\n", err)
		return
	}

	msgs := ctrl.Messages()
	if len(msgs) == 0 {
		return
	}
	final := msgs[len(msgs)-1]
	if final.Role != conversation.RoleAssistant {
		return
	}
	fmt.Println()
	fmt.Println(final.Content)
	if display.ShowSources() && len(final.Sources) > 0 {
		fmt.Println()
		faint.Println("Sources:")
		for _, src := range final.Sources {
			faint.Printf("  %s: %s\n", src.DocID, src.Preview)
		}
	}
}

func printStep(step conversation.AgentStep) {
	switch step.Kind {
	case conversation.StepToolCall:
		toolClr.Printf("[tool] %s\n", step.Tool)
	case conversation.StepToolResult:
		okClr.Printf("[tool done] %s\n", truncate(step.Text, 80))
	case conversation.StepResearcher:
		faint.Printf("[researcher %d] %s\n", step.Iteration, truncate(step.Text, 100))
	case conversation.StepValidator:
		faint.Printf("[validator %d: %s] %s\n", step.Iteration, step.Verdict, truncate(step.Text, 100))
	case conversation.StepResponse:
		faint.Printf("[drafting response]\n")
	}
}

func handleCommand(ctx context.Context, input string, ctrl *conversation.Controller,
	store *session.Store, deriver *pipeline.Deriver, display *prefs.Prefs) {

	cmd, args, _ := strings.Cut(input, " ")
	args = strings.TrimSpace(args)

	switch cmd {
	case "/help":
		printHelp()

	case "/sessions":
		sessions, err := store.List(ctx, ctrl.Identity().ID)
		if err != nil {
			errClr.Printf("[error] %v\n", err)
			return
		}
		if len(sessions) == 0 {
			fmt.Println("No sessions yet")
			return
		}
		active := ""
		if sess := ctrl.ActiveSession(); sess != nil {
			active = sess.ID
		}
		for _, s := range sessions {
			marker := "  "
			if s.ID == active {
				marker = "* "
			}
			fmt.Printf("%s%s  %s (%d messages)\n", marker, s.ID, s.Name, s.MessageCount)
			if s.Preview != "" {
				faint.Printf("    %s\n", s.Preview)
			}
		}

	case "/use":
		if args == "" {
			fmt.Println("Usage: /use <session-id>")
			return
		}
		if err := ctrl.LoadForSession(ctx, args); err != nil {
			errClr.Printf("[error] %v\n", err)
			return
		}
		fmt.Printf("Switched to session %s\n", args)

	case "/new":
		ctrl.ForgetSession(activeID(ctrl))
		ctrl.Clear()
		fmt.Println("Starting a fresh conversation; the next question creates a session")

	case "/delete":
		if args == "" {
			fmt.Println("Usage: /delete <session-id>")
			return
		}
		if err := store.Delete(ctx, args); err != nil {
			errClr.Printf("[error] %v\n", err)
			return
		}
		ctrl.ForgetSession(args)
		fmt.Printf("Deleted session %s\n", args)

	case "/history":
		for _, m := range ctrl.Messages() {
			if m.Role == conversation.RoleUser {
				fmt.Printf("%s %s\n", color.BlueString("you:"), m.Content)
			} else {
				fmt.Printf("%s %s\n", okClr.Sprint("agent:"), truncate(m.Content, 200))
			}
		}

	case "/stages":
		for _, st := range deriver.Snapshot() {
			fmt.Printf("  %-14s %s\n", st.Stage, st.Status)
		}

	case "/steps":
		display.SetShowSteps(!display.ShowSteps())
		fmt.Printf("Step display: %v\n", display.ShowSteps())

	case "/sources":
		display.SetShowSources(!display.ShowSources())
		fmt.Printf("Source display: %v\n", display.ShowSources())

	case "/stop":
		ctrl.Stop()

	default:
		fmt.Printf("Unknown command %s. /help for commands.\n", cmd)
	}
}

func activeID(ctrl *conversation.Controller) string {
	if sess := ctrl.ActiveSession(); sess != nil {
		return sess.ID
	}
	return ""
}

func printHelp() {
	fmt.Println("Commands:")
	fmt.Println("  /sessions        List your sessions")
	fmt.Println("  /use <id>        Switch to a session and load its history")
	fmt.Println("  /new             Start a fresh conversation")
	fmt.Println("  /delete <id>     Delete a session")
	fmt.Println("  /history         Show the loaded conversation")
	fmt.Println("  /stages          Show pipeline stages for the last turn")
	fmt.Println("  /steps           Toggle agent step display")
	fmt.Println("  /sources         Toggle source citation display")
	fmt.Println("  /stop            Stop the in-flight turn")
	fmt.Println("  /quit            Exit")
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen-3] + "..."
}
