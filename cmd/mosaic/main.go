package main

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"mosaic/internal/approval"
	"mosaic/internal/changes"
	"mosaic/internal/config"
	"mosaic/internal/dispatcher"
	"mosaic/internal/logging"
	"mosaic/internal/rules"
	"mosaic/internal/safety"
	"mosaic/internal/tools"
	"mosaic/internal/tools/core"
	"mosaic/internal/tools/research"
	"mosaic/internal/tools/shell"
	"mosaic/internal/workspace"
)

var (
	// Global flags
	verbose       bool
	workspaceDir  string
	readOnly      bool
	skipApprovals bool

	// Logger
	logger *zap.Logger
)

// app holds the wired session components.
type app struct {
	cfg         *config.Config
	guard       *workspace.Guard
	rules       *rules.Store
	bridge      *approval.Bridge
	queue       *changes.Queue
	coordinator *changes.Coordinator
	registry    *tools.Registry
	dispatcher  *dispatcher.Dispatcher
}

var rootCmd = &cobra.Command{
	Use:   "mosaic",
	Short: "mosaic - workspace-confined tool execution with change review",
	Long: `mosaic executes file and shell tools inside a single workspace,
classifying shell commands for safety, gating dangerous ones on approval,
and tracking every file mutation for an accept-or-revert review.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		zcfg := zap.NewProductionConfig()
		if verbose {
			zcfg.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
		}
		var err error
		logger, err = zcfg.Build()
		if err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
		logging.CloseAll()
	},
}

// buildApp wires the full component graph for one session.
func buildApp() (*app, error) {
	guard, err := workspace.New(workspaceDir)
	if err != nil {
		return nil, fmt.Errorf("failed to open workspace: %w", err)
	}

	cfg, err := config.Load(guard.Root())
	if err != nil {
		return nil, err
	}
	if readOnly {
		cfg.ReadOnly = true
	}
	if skipApprovals {
		cfg.Approvals = false
	}

	if err := logging.Initialize(guard.Root(), logging.Settings{
		DebugMode:  verbose || cfg.Logging.DebugMode,
		Categories: cfg.Logging.Categories,
		Level:      cfg.Logging.Level,
		JSONFormat: cfg.Logging.JSONFormat,
	}); err != nil {
		logger.Warn("file logging disabled", zap.Error(err))
	}

	store := rules.NewStore(guard.Root())
	if err := store.Watch(); err != nil {
		logger.Warn("rules watcher unavailable", zap.Error(err))
	}

	bridge := approval.NewBridge()
	queue := changes.NewQueue()
	coordinator := changes.NewCoordinator(queue, guard)

	registry := tools.NewRegistry()
	coreDeps := &core.Deps{Guard: guard, Queue: queue}
	if err := core.RegisterAll(registry, coreDeps); err != nil {
		return nil, err
	}
	shellDeps := &shell.Deps{
		Guard:          guard,
		DefaultTimeout: cfg.Execution.DefaultTimeoutMs,
		MaxTimeout:     cfg.Execution.MaxTimeoutMs,
	}
	if err := shell.Register(registry, shellDeps); err != nil {
		return nil, err
	}
	if err := research.Register(registry, &research.Deps{
		MaxBodyBytes: cfg.Fetch.MaxBodyBytes,
		Timeout:      time.Duration(cfg.Fetch.TimeoutMs) * time.Millisecond,
	}); err != nil {
		return nil, err
	}

	disp := dispatcher.New(registry, guard, cfg, safety.New(store), bridge, queue, shellDeps)

	return &app{
		cfg:         cfg,
		guard:       guard,
		rules:       store,
		bridge:      bridge,
		queue:       queue,
		coordinator: coordinator,
		registry:    registry,
		dispatcher:  disp,
	}, nil
}

// promptApprovals answers bridge requests from stdin. Returns the
// unsubscribe function.
func promptApprovals(a *app) func() {
	reader := bufio.NewReader(os.Stdin)
	return a.bridge.SubscribeApproval(func(req *approval.Request) {
		if req == nil {
			return
		}
		go func() {
			fmt.Printf("\n%s\n%s\n", req.Preview.Title, req.Preview.Content)
			fmt.Print("Approve? [y/N, or type a reply]: ")
			line, _ := reader.ReadString('\n')
			line = strings.TrimSpace(line)
			switch strings.ToLower(line) {
			case "y", "yes":
				_ = a.bridge.RespondApproval(true, "")
			case "", "n", "no":
				_ = a.bridge.RespondApproval(false, "")
			default:
				_ = a.bridge.RespondApproval(false, line)
			}
		}()
	})
}

// runReview drives the accept-or-revert pass over the pending queue. The
// queue is per-process, so this runs at the end of the same invocation that
// produced the changes.
func runReview(a *app, in io.Reader, acceptAll, revertAll bool) {
	if !a.queue.HasPending() {
		return
	}

	resultsCh := make(chan []bool, 1)
	go func() { resultsCh <- a.coordinator.StartReview() }()

	reader := bufio.NewReader(in)
	for {
		select {
		case results := <-resultsCh:
			accepted := 0
			for _, ok := range results {
				if ok {
					accepted++
				}
			}
			fmt.Printf("Review complete: %d accepted, %d reverted.\n",
				accepted, len(results)-accepted)
			return
		default:
		}

		pc := a.coordinator.Current()
		if pc == nil {
			time.Sleep(10 * time.Millisecond)
			continue
		}

		switch {
		case acceptAll:
			_ = a.coordinator.AcceptAll()
		case revertAll:
			_ = a.coordinator.Cancel()
		default:
			fmt.Printf("\n%s\n%s\n", pc.Preview.Title, pc.Preview.Content)
			fmt.Print("Accept? [y/N]: ")
			line, _ := reader.ReadString('\n')
			answer := strings.ToLower(strings.TrimSpace(line))
			_ = a.coordinator.Respond(answer == "y" || answer == "yes")
		}
	}
}

var (
	runArgsJSON  string
	runAcceptAll bool
	runRevertAll bool
)

var runCmd = &cobra.Command{
	Use:   "run [tool] [key=value...]",
	Short: "Invoke a single tool, then review any changes it made",
	Long: `Invokes one tool through the dispatcher. Arguments are given either
as key=value pairs or as a JSON object via --args. When the tool leaves
pending changes, an accept-or-revert review runs before exit.

Examples:
  mosaic run read path=main.go
  mosaic run bash command="go test ./..." --accept-all
  mosaic run grep --args '{"query": "TODO", "file_type": "go"}'`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, cmdArgs []string) error {
		a, err := buildApp()
		if err != nil {
			return err
		}
		defer a.rules.Close()

		args := map[string]any{}
		if runArgsJSON != "" {
			if err := json.Unmarshal([]byte(runArgsJSON), &args); err != nil {
				return fmt.Errorf("invalid --args: %w", err)
			}
		}
		for _, kv := range cmdArgs[1:] {
			k, v, ok := strings.Cut(kv, "=")
			if !ok {
				return fmt.Errorf("argument %q is not key=value", kv)
			}
			args[k] = v
		}

		unsub := promptApprovals(a)
		defer unsub()

		result := a.dispatcher.Dispatch(cmd.Context(), dispatcher.Invocation{
			Name: cmdArgs[0],
			Args: args,
		})

		if result.Result != "" {
			fmt.Println(result.Result)
		}
		if !result.Success && result.Error != "" {
			fmt.Fprintln(os.Stderr, "error:", result.Error)
		}

		if a.queue.HasPending() {
			fmt.Fprintf(os.Stderr, "\n%d pending change(s)\n", len(a.queue.Snapshot()))
			runReview(a, os.Stdin, runAcceptAll, runRevertAll)
		}

		if !result.Success {
			os.Exit(1)
		}
		return nil
	},
}

var toolsCmd = &cobra.Command{
	Use:   "tools",
	Short: "List the registered tools",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := buildApp()
		if err != nil {
			return err
		}
		defer a.rules.Close()

		for _, name := range a.registry.Names() {
			tool, err := a.registry.Get(name)
			if err != nil {
				continue
			}
			marker := " "
			if tool.Mutating {
				marker = "*"
			}
			fmt.Printf("%s %-18s %s\n", marker, name, tool.Description)
		}
		fmt.Println("\n* mutating (disabled in read-only mode)")
		return nil
	},
}

var rulesCmd = &cobra.Command{
	Use:   "rules",
	Short: "Manage local command rules",
}

var rulesListCmd = &cobra.Command{
	Use:   "list",
	Short: "Show auto-run and disallow patterns",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := buildApp()
		if err != nil {
			return err
		}
		defer a.rules.Close()

		auto := a.rules.AutoRunPatterns()
		deny := a.rules.DisallowPatterns()
		if len(auto) == 0 && len(deny) == 0 {
			fmt.Println("No rules configured.")
			return nil
		}
		for _, p := range auto {
			fmt.Println("allow:", p)
		}
		for _, p := range deny {
			fmt.Println("deny: ", p)
		}
		return nil
	},
}

var rulesAllowCmd = &cobra.Command{
	Use:   "allow [command]",
	Short: "Add an auto-run rule derived from a command",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := buildApp()
		if err != nil {
			return err
		}
		defer a.rules.Close()

		pattern, err := a.rules.AddAutoRunRule(strings.Join(args, " "))
		if err != nil {
			return err
		}
		fmt.Println("added auto-run rule:", pattern)
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")
	rootCmd.PersistentFlags().StringVarP(&workspaceDir, "workspace", "w", ".", "workspace root directory")
	rootCmd.PersistentFlags().BoolVar(&readOnly, "read-only", false, "disable mutating tools")
	rootCmd.PersistentFlags().BoolVar(&skipApprovals, "yes", false, "run without approval prompts")

	runCmd.Flags().StringVar(&runArgsJSON, "args", "", "tool arguments as a JSON object")
	runCmd.Flags().BoolVar(&runAcceptAll, "accept-all", false, "accept every pending change without prompting")
	runCmd.Flags().BoolVar(&runRevertAll, "revert-all", false, "revert every pending change without prompting")

	rulesCmd.AddCommand(rulesListCmd, rulesAllowCmd)
	rootCmd.AddCommand(runCmd, toolsCmd, rulesCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
