// ABOUTME: Entry point for the nabu local messaging client
// ABOUTME: Wires config, store, session manager, and conversation coordinator behind subcommands

package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"syscall"

	"github.com/fatih/color"

	"github.com/nabu-im/nabu/internal/config"
	"github.com/nabu-im/nabu/internal/conversation"
	"github.com/nabu-im/nabu/internal/session"
	"github.com/nabu-im/nabu/internal/store"
)

// Version is set by goreleaser at build time.
var version = "dev"

const banner = `
             _
 _ __   __ _| |__  _   _
| '_ \ / _' | '_ \| | | |
| | | | (_| | |_) | |_| |
|_| |_|\__,_|_.__/ \__,_|
`

// getConfigPath returns the path to the nabu config file.
// Priority: NABU_CONFIG env var > XDG_CONFIG_HOME/nabu/config.yaml > ~/.config/nabu/config.yaml
func getConfigPath() string {
	if envPath := os.Getenv("NABU_CONFIG"); envPath != "" {
		return envPath
	}

	configDir := os.Getenv("XDG_CONFIG_HOME")
	if configDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "config.yaml" // fallback
		}
		configDir = filepath.Join(homeDir, ".config")
	}

	return filepath.Join(configDir, "nabu", "config.yaml")
}

func main() {
	if len(os.Args) < 2 {
		fmt.Println("Usage: nabu <command>")
		fmt.Println()
		fmt.Println("Commands:")
		fmt.Println("  init                     Create a new config file interactively")
		fmt.Println("  status                   Show login state and storage info")
		fmt.Println("  register <username>      Create an account and log in")
		fmt.Println("  login <username>         Log in")
		fmt.Println("  logout                   Log out and clear the saved session")
		fmt.Println("  conversations            List conversations")
		fmt.Println("  new <name>               Create a conversation")
		fmt.Println("  send <conv-id> <text>    Send a message")
		fmt.Println("  history <conv-id>        Show recent messages")
		fmt.Println("  watch <conv-id>          Stream new messages until interrupted")
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	var err error
	switch os.Args[1] {
	case "init":
		err = runInit()
	case "status":
		err = runStatus(ctx)
	case "register":
		err = runRegister(ctx)
	case "login":
		err = runLogin(ctx)
	case "logout":
		err = runLogout(ctx)
	case "conversations":
		err = runConversations(ctx)
	case "new":
		err = runNew(ctx)
	case "send":
		err = runSend(ctx)
	case "history":
		err = runHistory(ctx)
	case "watch":
		err = runWatch(ctx)
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", os.Args[1])
		os.Exit(1)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// app bundles the wired-up layers behind every subcommand.
type app struct {
	cfg      *config.Config
	store    *store.SQLiteStore
	sessions *session.Manager
	convs    *conversation.Service
	logger   *slog.Logger
}

// newApp loads config (falling back to defaults when no file exists),
// opens the store, and restores any persisted session.
func newApp(ctx context.Context) (*app, error) {
	configPath := getConfigPath()

	var cfg *config.Config
	if _, err := os.Stat(configPath); err == nil {
		cfg, err = config.Load(configPath)
		if err != nil {
			return nil, fmt.Errorf("loading config: %w", err)
		}
	} else {
		cfg = config.Default()
	}

	logger := setupLogger(cfg.Logging)

	st, err := store.NewSQLiteStore(cfg.Database.Path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	mgr := session.NewManager(st, cfg.Session.TTL, logger)
	if _, err := mgr.Restore(ctx); err != nil {
		st.Close()
		return nil, fmt.Errorf("restoring session: %w", err)
	}

	broadcaster := conversation.NewBroadcaster(logger)
	svc := conversation.New(st, broadcaster, cfg.Conversations.PreviewLength, logger)

	return &app{
		cfg:      cfg,
		store:    st,
		sessions: mgr,
		convs:    svc,
		logger:   logger,
	}, nil
}

func (a *app) close() {
	a.sessions.Close()
	a.store.Close()
}

// requireUser returns the logged-in user or a friendly error.
func (a *app) requireUser() (*session.User, error) {
	user := a.sessions.Current()
	if user == nil {
		return nil, fmt.Errorf("not logged in (try: nabu login <username>)")
	}
	return user, nil
}

func runStatus(ctx context.Context) error {
	cyan := color.New(color.FgCyan)
	gray := color.New(color.FgHiBlack)
	green := color.New(color.FgGreen)

	cyan.Print(banner)
	gray.Printf("    version: %s\n\n", version)

	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.close()

	green.Print("    ▶ ")
	fmt.Printf("Database: %s\n", a.cfg.Database.Path)

	green.Print("    ▶ ")
	if user := a.sessions.Current(); user != nil {
		fmt.Printf("Logged in as %s (%s)\n", user.Username, user.DisplayName)
	} else {
		fmt.Println("Logged out")
	}

	convs, err := a.convs.ListConversations(ctx)
	if err != nil {
		return err
	}
	green.Print("    ▶ ")
	fmt.Printf("Conversations: %d\n", len(convs))
	fmt.Println()

	return nil
}

func runRegister(ctx context.Context) error {
	if len(os.Args) < 3 {
		return fmt.Errorf("usage: nabu register <username>")
	}
	username := os.Args[2]

	password, err := promptPassword()
	if err != nil {
		return err
	}

	reader := bufio.NewReader(os.Stdin)
	displayName := prompt(reader, "Display name", username)

	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.close()

	user, err := a.sessions.Register(ctx, username, password, displayName, "")
	if err != nil {
		return err
	}

	green := color.New(color.FgGreen)
	green.Printf("  ✓ Registered and logged in as %s\n", user.Username)
	if user.IsSuperuser {
		color.New(color.FgHiBlack).Println("    (first account on this device, superuser)")
	}
	return nil
}

func runLogin(ctx context.Context) error {
	if len(os.Args) < 3 {
		return fmt.Errorf("usage: nabu login <username>")
	}
	username := os.Args[2]

	password, err := promptPassword()
	if err != nil {
		return err
	}

	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.close()

	user, err := a.sessions.Login(ctx, username, password)
	if err != nil {
		return err
	}

	color.New(color.FgGreen).Printf("  ✓ Logged in as %s\n", user.Username)
	return nil
}

func runLogout(ctx context.Context) error {
	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.close()

	if err := a.sessions.Logout(ctx); err != nil {
		return err
	}

	color.New(color.FgGreen).Println("  ✓ Logged out")
	return nil
}

func runConversations(ctx context.Context) error {
	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.close()

	convs, err := a.convs.ListConversations(ctx)
	if err != nil {
		return err
	}

	if len(convs) == 0 {
		fmt.Println("No conversations yet (try: nabu new <name>)")
		return nil
	}

	gray := color.New(color.FgHiBlack)
	for _, c := range convs {
		fmt.Printf("%s %s", c.Avatar, c.Name)
		if c.UnreadCount > 0 {
			color.New(color.FgYellow).Printf(" (%d unread)", c.UnreadCount)
		}
		fmt.Println()
		gray.Printf("    %s\n", c.ID)
		if c.LastMessagePreview != "" {
			gray.Printf("    %s\n", c.LastMessagePreview)
		}
	}
	return nil
}

func runNew(ctx context.Context) error {
	if len(os.Args) < 3 {
		return fmt.Errorf("usage: nabu new <name>")
	}
	name := strings.Join(os.Args[2:], " ")

	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.close()

	user, err := a.requireUser()
	if err != nil {
		return err
	}

	conv, err := a.convs.CreateConversation(ctx, name, "", user.ID)
	if err != nil {
		return err
	}

	color.New(color.FgGreen).Printf("  ✓ Created %s %s\n", conv.Avatar, conv.Name)
	color.New(color.FgHiBlack).Printf("    %s\n", conv.ID)
	return nil
}

func runSend(ctx context.Context) error {
	if len(os.Args) < 4 {
		return fmt.Errorf("usage: nabu send <conv-id> <text>")
	}
	convID := os.Args[2]
	content := strings.Join(os.Args[3:], " ")

	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.close()

	user, err := a.requireUser()
	if err != nil {
		return err
	}

	sender := conversation.Sender{ID: user.ID, Name: user.DisplayName}
	msg, err := a.convs.Send(ctx, convID, content, sender)
	if err != nil {
		if errors.Is(err, store.ErrConversationNotFound) {
			return fmt.Errorf("no conversation %s (try: nabu conversations)", convID)
		}
		return err
	}

	color.New(color.FgGreen).Printf("  ✓ Sent %s\n", msg.ID)
	return nil
}

func runHistory(ctx context.Context) error {
	if len(os.Args) < 3 {
		return fmt.Errorf("usage: nabu history <conv-id> [limit]")
	}
	convID := os.Args[2]

	limit := 20
	if len(os.Args) > 3 {
		n, err := strconv.Atoi(os.Args[3])
		if err != nil {
			return fmt.Errorf("limit must be a number: %w", err)
		}
		limit = n
	}

	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.close()

	msgs, err := a.convs.History(ctx, convID, limit, 0)
	if err != nil {
		return err
	}

	// Storage order is newest first; print oldest first for reading
	gray := color.New(color.FgHiBlack)
	for i := len(msgs) - 1; i >= 0; i-- {
		m := msgs[i]
		gray.Printf("%s ", m.CreatedAt.Local().Format("15:04:05"))
		color.New(color.FgCyan).Printf("%s: ", m.SenderName)
		fmt.Println(m.Content)
	}

	if err := a.convs.MarkRead(ctx, convID); err != nil {
		return err
	}
	return nil
}

func runWatch(ctx context.Context) error {
	if len(os.Args) < 3 {
		return fmt.Errorf("usage: nabu watch <conv-id>")
	}
	convID := os.Args[2]

	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.close()

	if _, err := a.convs.GetConversation(ctx, convID); err != nil {
		return fmt.Errorf("no conversation %s", convID)
	}

	ch, _ := a.convs.Subscribe(ctx, convID)
	color.New(color.FgHiBlack).Println("Watching (Ctrl-C to stop)...")

	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			color.New(color.FgCyan).Printf("%s: ", msg.SenderName)
			fmt.Println(msg.Content)
		}
	}
}

func runInit() error {
	reader := bufio.NewReader(os.Stdin)

	fmt.Println("nabu configuration setup")
	fmt.Println("========================")
	fmt.Println()

	defaults := config.Default()
	defaultConfigPath := getConfigPath()

	// Output filename
	outputFile := prompt(reader, "Config file path", defaultConfigPath)

	// Check if file exists
	if _, err := os.Stat(outputFile); err == nil {
		overwrite := prompt(reader, "File exists. Overwrite?", "no")
		if strings.ToLower(overwrite) != "yes" && strings.ToLower(overwrite) != "y" {
			fmt.Println("Aborted.")
			return nil
		}
	}

	// Database
	fmt.Println("\n--- Database Configuration ---")
	dbPath := prompt(reader, "SQLite database path", defaults.Database.Path)

	// Session
	fmt.Println("\n--- Session Configuration ---")
	ttl := prompt(reader, "Session lifetime", "168h")

	// Logging
	fmt.Println("\n--- Logging Configuration ---")
	logLevel := prompt(reader, "Log level (debug/info/warn/error)", "info")
	logFormat := prompt(reader, "Log format (text/json)", "text")

	// Generate config
	var cfg strings.Builder
	cfg.WriteString("# nabu configuration\n")
	cfg.WriteString("# Generated by nabu init\n\n")

	cfg.WriteString("database:\n")
	cfg.WriteString(fmt.Sprintf("  path: \"%s\"\n", dbPath))
	cfg.WriteString("\n")

	cfg.WriteString("session:\n")
	cfg.WriteString(fmt.Sprintf("  ttl: \"%s\"\n", ttl))
	cfg.WriteString("\n")

	cfg.WriteString("conversations:\n")
	cfg.WriteString(fmt.Sprintf("  preview_length: %d\n", defaults.Conversations.PreviewLength))
	cfg.WriteString("\n")

	cfg.WriteString("logging:\n")
	cfg.WriteString(fmt.Sprintf("  level: \"%s\"\n", logLevel))
	cfg.WriteString(fmt.Sprintf("  format: \"%s\"\n", logFormat))

	// Ensure config directory exists
	configDir := filepath.Dir(outputFile)
	if err := os.MkdirAll(configDir, 0755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}

	// Write config file
	if err := os.WriteFile(outputFile, []byte(cfg.String()), 0600); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}

	// Ensure data directory exists
	dataDir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return fmt.Errorf("creating data directory: %w", err)
	}

	fmt.Printf("\nConfig written to %s\n", outputFile)
	fmt.Println("\nTo get started:")
	fmt.Printf("  nabu register <username>\n")

	return nil
}

func prompt(reader *bufio.Reader, question, defaultVal string) string {
	if defaultVal != "" {
		fmt.Printf("%s [%s]: ", question, defaultVal)
	} else {
		fmt.Printf("%s: ", question)
	}

	input, err := reader.ReadString('\n')
	if err != nil {
		// On EOF or error, return default
		fmt.Println()
		return defaultVal
	}
	input = strings.TrimSpace(input)

	if input == "" {
		return defaultVal
	}
	return input
}

func promptPassword() (string, error) {
	fmt.Print("Password: ")
	reader := bufio.NewReader(os.Stdin)
	input, err := reader.ReadString('\n')
	if err != nil {
		return "", fmt.Errorf("reading password: %w", err)
	}
	return strings.TrimRight(input, "\r\n"), nil
}

func setupLogger(cfg config.LoggingConfig) *slog.Logger {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{
		Level: level,
	}

	var handler slog.Handler
	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	} else {
		handler = &colorHandler{
			level: level,
		}
	}

	return slog.New(handler)
}

// colorHandler provides colorized log output with thread-safe writes.
type colorHandler struct {
	mu     sync.Mutex
	level  slog.Level
	attrs  []slog.Attr
	groups []string
}

func (h *colorHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.level
}

func (h *colorHandler) Handle(_ context.Context, r slog.Record) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	var buf strings.Builder

	// Format timestamp
	buf.WriteString(color.HiBlackString(r.Time.Format("15:04:05") + " "))

	// Colorize level
	switch r.Level {
	case slog.LevelDebug:
		buf.WriteString(color.MagentaString("DBG "))
	case slog.LevelInfo:
		buf.WriteString(color.CyanString("INF "))
	case slog.LevelWarn:
		buf.WriteString(color.YellowString("WRN "))
	case slog.LevelError:
		buf.WriteString(color.New(color.FgRed, color.Bold).Sprint("ERR "))
	default:
		buf.WriteString("??? ")
	}

	// Print message
	buf.WriteString(r.Message)

	// Print handler-level attrs first (from WithAttrs)
	for _, a := range h.attrs {
		buf.WriteString(color.HiBlackString(" " + a.Key + "="))
		buf.WriteString(a.Value.String())
	}

	// Print record attrs
	r.Attrs(func(a slog.Attr) bool {
		buf.WriteString(color.HiBlackString(" " + a.Key + "="))
		buf.WriteString(a.Value.String())
		return true
	})

	buf.WriteString("\n")
	fmt.Fprint(os.Stderr, buf.String())
	return nil
}

func (h *colorHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	newAttrs := make([]slog.Attr, len(h.attrs), len(h.attrs)+len(attrs))
	copy(newAttrs, h.attrs)
	newAttrs = append(newAttrs, attrs...)
	return &colorHandler{
		level:  h.level,
		attrs:  newAttrs,
		groups: h.groups,
	}
}

func (h *colorHandler) WithGroup(name string) slog.Handler {
	newGroups := make([]string, len(h.groups), len(h.groups)+1)
	copy(newGroups, h.groups)
	newGroups = append(newGroups, name)
	return &colorHandler{
		level:  h.level,
		attrs:  h.attrs,
		groups: newGroups,
	}
}
