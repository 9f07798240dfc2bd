package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"dockhand/internal/config"
	"dockhand/internal/daemon"
	"dockhand/internal/doctor"
	"dockhand/internal/engine"
	"dockhand/internal/gitops"
	"dockhand/internal/keys"
	"dockhand/internal/logging"
	"dockhand/internal/orchestrator"
	"dockhand/internal/poller"
	"dockhand/internal/registry"
	"dockhand/internal/secrets"
	"dockhand/internal/store"
	"dockhand/internal/tui"
)

const (
	version         = "0.1.0-dev"
	confirmationYes = "yes"

	exitOK    = 0
	exitError = 1
	exitUsage = 2
)

func main() {
	if len(os.Args) <= 1 {
		printUsage()
		os.Exit(exitUsage)
	}

	command := strings.ToLower(os.Args[1])
	args := os.Args[2:]

	if handler, ok := commandHandlers()[command]; ok {
		os.Exit(handler(args))
	}

	fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", os.Args[1])
	printUsage()
	os.Exit(exitUsage)
}

func commandHandlers() map[string]func([]string) int {
	return map[string]func([]string) int{
		"init":     runInit,
		"repo":     runRepo,
		"param":    runParam,
		"deploy":   runDeploy,
		"status":   runStatus,
		"doctor":   runDoctor,
		"daemon":   runDaemon,
		"-d":       runDaemon,
		"--daemon": runDaemon,
		"version":  func([]string) int { fmt.Printf("dockhand version %s\n", version); return exitOK },
		"help":     func([]string) int { printUsage(); return exitOK },
		"--help":   func([]string) int { printUsage(); return exitOK },
		"-h":       func([]string) int { printUsage(); return exitOK },
	}
}

func printUsage() {
	fmt.Print(`dockhand - GitOps deployment agent for a single container host

Usage:
  dockhand init                                        provision the state root and key
  dockhand repo add <name> <url> [--branch <branch>]   register a repository
  dockhand repo list                                   list registered repositories
  dockhand repo key <name>                             print the deploy public key
  dockhand repo remove <name> [--yes]                  remove a repository and its container
  dockhand param set <repo> <NAME> [<value>|--stdin]   store an encrypted parameter
  dockhand param get <repo> <NAME>                     print a decrypted parameter
  dockhand param list <repo>                           list parameter names
  dockhand deploy <name>                               reconcile a repository now
  dockhand status [--watch]                            show deployment health
  dockhand doctor                                      run environment checks
  dockhand -d | --daemon                               run the polling daemon
  dockhand version                                     print the version

Environment:
  DOCKHAND_ROOT          state root (default /var/lib/dockhand)
  DOCKHAND_DB_KEY        database key material (overrides the key file)
  DOCKHAND_DB_KEY_FILE   path to a key file
`)
}

// app bundles everything a command needs after the store is open.
type app struct {
	cfg      *config.Config
	logger   *logging.Logger
	store    *store.Store
	cipher   secrets.Cipher
	registry *registry.Registry
	params   *secrets.Params
	keys     *keys.Manager
	git      *gitops.Client
}

// openApp loads configuration, the logger, the key material, and the
// encrypted store. Every failure here is operational, not usage.
func openApp() (*app, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}

	logger, err := newLogger(&cfg)
	if err != nil {
		return nil, err
	}

	keyMaterial, err := store.LoadKeyMaterial(cfg.Root)
	if err != nil {
		return nil, err
	}

	s, err := store.Open(cfg.Root, keyMaterial)
	if err != nil {
		return nil, err
	}

	cipher := secrets.NewCipher(keyMaterial)
	km := keys.NewManager(s, cipher)

	return &app{
		cfg:      &cfg,
		logger:   logger,
		store:    s,
		cipher:   cipher,
		registry: registry.New(s, cipher, logger),
		params:   secrets.NewParams(s, cipher),
		keys:     km,
		git:      gitops.NewClient(km, logger),
	}, nil
}

func (a *app) close() {
	_ = a.store.Close()
	_ = a.logger.Close()
}

func newLogger(cfg *config.Config) (*logging.Logger, error) {
	level := logging.ParseLevel(cfg.Logging.Level)
	if cfg.Logging.File != "" {
		return logging.NewFileLogger(level, cfg.Logging.File)
	}
	return logging.NewWriterLogger(level, os.Stderr), nil
}

// orchestratorFor assembles the deploy pipeline. The runtime probe
// happens here so commands that never touch containers do not need a
// running engine.
func (a *app) orchestratorFor() (*orchestrator.Orchestrator, error) {
	runtime, err := engine.Detect(a.cfg.Runtime)
	if err != nil {
		return nil, err
	}
	return orchestrator.New(a.store, a.git, a.params, runtime, a.cfg, a.logger), nil
}

func fail(err error) int {
	fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	return exitError
}

func usageError(msg string) int {
	fmt.Fprintf(os.Stderr, "Usage error: %s\n\n", msg)
	printUsage()
	return exitUsage
}

// --- init ---

// runInit provisions the key file and creates the encrypted database.
// Everything else assumes this ran once.
func runInit(args []string) int {
	cfg, err := config.Load()
	if err != nil {
		return fail(err)
	}

	keyMaterial, err := store.ProvisionKey(cfg.Root)
	if err != nil {
		if errors.Is(err, store.ErrConflict) {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			fmt.Fprintln(os.Stderr, "Already initialized; refusing to replace the key.")
			return exitError
		}
		return fail(err)
	}

	s, err := store.Open(cfg.Root, keyMaterial)
	if err != nil {
		return fail(err)
	}
	_ = s.Close()

	fmt.Printf("Initialized state root %s.\n", cfg.Root)
	fmt.Printf("Key material written to %s; back it up somewhere safe.\n", store.KeyPath(cfg.Root))
	fmt.Printf("Losing the key means losing every stored parameter.\n")
	return exitOK
}

// --- repo ---

func runRepo(args []string) int {
	if len(args) == 0 {
		return usageError("repo requires a subcommand (add, list, key, remove)")
	}

	switch strings.ToLower(args[0]) {
	case "add":
		return runRepoAdd(args[1:])
	case "list":
		return runRepoList(args[1:])
	case "key":
		return runRepoKey(args[1:])
	case "remove":
		return runRepoRemove(args[1:])
	default:
		return usageError(fmt.Sprintf("unknown repo subcommand %q", args[0]))
	}
}

func runRepoAdd(args []string) int {
	var name, url, branch string
	var positional []string
	for i := 0; i < len(args); i++ {
		if args[i] == "--branch" {
			if i+1 >= len(args) {
				return usageError("--branch requires a value")
			}
			i++
			branch = args[i]
			continue
		}
		positional = append(positional, args[i])
	}
	if len(positional) != 2 {
		return usageError("repo add requires <name> and <url>")
	}
	name, url = positional[0], positional[1]

	a, err := openApp()
	if err != nil {
		return fail(err)
	}
	defer a.close()

	if warning := upstreamWarning(a.cfg, url); warning != "" {
		fmt.Fprint(os.Stderr, warning)
	}

	repo, err := a.registry.Add(context.Background(), name, url, branch)
	if err != nil {
		return fail(err)
	}

	printAddedRepo(os.Stdout, repo)
	return exitOK
}

// upstreamWarning returns a notice when the remote lives on a public
// forge: every push to the tracked branch gets deployed, so the operator
// should track a fork they control. The warning never blocks the add;
// allow_upstream or assume_yes silence it.
func upstreamWarning(cfg *config.Config, url string) string {
	if cfg.AllowUpstream || cfg.AssumeYes {
		return ""
	}

	publicForges := []string{"github.com", "gitlab.com", "bitbucket.org", "codeberg.org"}
	lower := strings.ToLower(url)
	for _, host := range publicForges {
		if strings.Contains(lower, host) {
			return fmt.Sprintf("Warning: %s is on a public forge. Every push to the tracked branch\n"+
				"will be deployed to this host. Track a fork you control, or set\n"+
				"allow_upstream: true to silence this warning.\n", url)
		}
	}
	return ""
}

// printAddedRepo reports the registration and the generated deploy key.
// The key line stays flush-left so it can be copied or grepped whole.
func printAddedRepo(w io.Writer, repo *store.Repository) {
	fmt.Fprintf(w, "Registered %s (branch %s).\n", repo.Name, repo.Branch)
	fmt.Fprintln(w, "Install this deploy key on the remote (read-only access is enough):")
	fmt.Fprintln(w, repo.PublicKey)
}

func confirm(prompt string) bool {
	fmt.Printf("%s Type '%s' to continue: ", prompt, confirmationYes)
	reader := bufio.NewReader(os.Stdin)
	line, err := reader.ReadString('\n')
	if err != nil {
		return false
	}
	return strings.TrimSpace(strings.ToLower(line)) == confirmationYes
}

func runRepoList(args []string) int {
	a, err := openApp()
	if err != nil {
		return fail(err)
	}
	defer a.close()

	repos, err := a.registry.List(context.Background())
	if err != nil {
		return fail(err)
	}
	printRepoNames(os.Stdout, repos)
	return exitOK
}

// printRepoNames emits one bare repository name per line. Scripts parse
// this; the full table lives under the status command.
func printRepoNames(w io.Writer, repos []store.Repository) {
	for _, r := range repos {
		fmt.Fprintln(w, r.Name)
	}
}

func runRepoKey(args []string) int {
	if len(args) != 1 {
		return usageError("repo key requires <name>")
	}

	a, err := openApp()
	if err != nil {
		return fail(err)
	}
	defer a.close()

	publicKey, err := a.keys.PublicKey(context.Background(), args[0])
	if err != nil {
		return fail(err)
	}
	fmt.Println(publicKey)
	return exitOK
}

func runRepoRemove(args []string) int {
	var name string
	assumeYes := false
	for _, arg := range args {
		if arg == "--yes" || arg == "-y" {
			assumeYes = true
			continue
		}
		if name != "" {
			return usageError("repo remove takes exactly one <name>")
		}
		name = arg
	}
	if name == "" {
		return usageError("repo remove requires <name>")
	}

	a, err := openApp()
	if err != nil {
		return fail(err)
	}
	defer a.close()

	if !assumeYes && !a.cfg.AssumeYes {
		fmt.Printf("This removes repository %q, its deploy key, all parameters,\n", name)
		fmt.Printf("and stops its container.\n")
		if !confirm("Remove?") {
			fmt.Fprintln(os.Stderr, "Aborted.")
			return exitError
		}
	}

	// Stop the container first while the repository row still exists.
	// A dead engine must not block removal of the record itself.
	if o, err := a.orchestratorFor(); err == nil {
		if err := o.Teardown(context.Background(), name); err != nil {
			fmt.Fprintf(os.Stderr, "Warning: container teardown failed: %v\n", err)
		}
	} else {
		fmt.Fprintf(os.Stderr, "Warning: container runtime unavailable, containers left behind: %v\n", err)
	}

	if err := a.registry.Remove(context.Background(), name); err != nil {
		return fail(err)
	}
	fmt.Printf("Removed %s.\n", name)
	return exitOK
}

// --- param ---

func runParam(args []string) int {
	if len(args) == 0 {
		return usageError("param requires a subcommand (set, get, list)")
	}

	switch strings.ToLower(args[0]) {
	case "set":
		return runParamSet(args[1:])
	case "get":
		return runParamGet(args[1:])
	case "list":
		return runParamList(args[1:])
	default:
		return usageError(fmt.Sprintf("unknown param subcommand %q", args[0]))
	}
}

func runParamSet(args []string) int {
	fromStdin := false
	var positional []string
	for _, arg := range args {
		if arg == "--stdin" {
			fromStdin = true
			continue
		}
		positional = append(positional, arg)
	}

	var value []byte
	switch {
	case fromStdin && len(positional) == 2:
		data, err := io.ReadAll(os.Stdin)
		if err != nil {
			return fail(fmt.Errorf("failed to read value from stdin: %w", err))
		}
		// A trailing newline from `echo` or a heredoc is almost never
		// part of the secret.
		value = []byte(strings.TrimSuffix(string(data), "\n"))
	case !fromStdin && len(positional) == 3:
		value = []byte(positional[2])
	default:
		return usageError("param set requires <repo> <NAME> and a value (or --stdin)")
	}

	a, err := openApp()
	if err != nil {
		return fail(err)
	}
	defer a.close()

	if err := a.params.Set(context.Background(), positional[0], positional[1], value); err != nil {
		return fail(err)
	}
	fmt.Printf("Stored %s for %s.\n", positional[1], positional[0])
	return exitOK
}

func runParamGet(args []string) int {
	if len(args) != 2 {
		return usageError("param get requires <repo> <NAME>")
	}

	a, err := openApp()
	if err != nil {
		return fail(err)
	}
	defer a.close()

	value, err := a.params.Get(context.Background(), args[0], args[1])
	if err != nil {
		return fail(err)
	}
	// Raw bytes, no added newline: the value may feed a pipe.
	_, _ = os.Stdout.Write(value)
	return exitOK
}

func runParamList(args []string) int {
	if len(args) != 1 {
		return usageError("param list requires <repo>")
	}

	a, err := openApp()
	if err != nil {
		return fail(err)
	}
	defer a.close()

	names, err := a.params.List(context.Background(), args[0])
	if err != nil {
		return fail(err)
	}
	for _, name := range names {
		fmt.Println(name)
	}
	return exitOK
}

// --- deploy ---

func runDeploy(args []string) int {
	if len(args) != 1 {
		return usageError("deploy requires <name>")
	}
	name := args[0]

	a, err := openApp()
	if err != nil {
		return fail(err)
	}
	defer a.close()

	repo, err := a.registry.Get(context.Background(), name)
	if err != nil {
		return fail(err)
	}

	o, err := a.orchestratorFor()
	if err != nil {
		return fail(err)
	}

	fmt.Printf("Deploying %s from %s (%s)...\n", repo.Name, repo.URL, repo.Branch)
	if err := o.Reconcile(context.Background(), repo, ""); err != nil {
		return fail(err)
	}

	dep, err := a.store.GetDeployment(context.Background(), name)
	if err != nil {
		return fail(err)
	}
	// Keep the poller from immediately redeploying the same commit.
	if err := a.registry.UpdateObservedCommit(context.Background(), name, dep.ContentHash); err != nil {
		return fail(err)
	}

	fmt.Printf("Deployed %s at %s (health %s).\n", name, dep.ContentHash, dep.Health)
	return exitOK
}

// --- status ---

func runStatus(args []string) int {
	watch := false
	for _, arg := range args {
		if arg == "--watch" || arg == "-w" {
			watch = true
			continue
		}
		return usageError(fmt.Sprintf("unknown status flag %q", arg))
	}

	a, err := openApp()
	if err != nil {
		return fail(err)
	}
	defer a.close()

	if watch {
		model := tui.NewModel(a.store, 2*time.Second)
		if _, err := tea.NewProgram(model).Run(); err != nil {
			return fail(err)
		}
		return exitOK
	}

	deployments, err := a.store.ListDeployments(context.Background())
	if err != nil {
		return fail(err)
	}
	if len(deployments) == 0 {
		fmt.Println("No deployments yet.")
		return exitOK
	}

	fmt.Printf("%-20s %-10s %-12s %s\n", "NAME", "HEALTH", "COMMIT", "LAST ERROR")
	for _, d := range deployments {
		commit := d.ContentHash
		if len(commit) > 12 {
			commit = commit[:12]
		}
		if commit == "" {
			commit = "-"
		}
		fmt.Printf("%-20s %-10s %-12s %s\n", d.Name, d.Health, commit, d.LastError)
	}
	return exitOK
}

// --- doctor ---

func runDoctor(args []string) int {
	cfg, err := config.Load()
	if err != nil {
		return fail(err)
	}

	var pinger doctor.RuntimePinger
	if runtime, err := engine.Detect(cfg.Runtime); err == nil {
		pinger = runtime
	}

	report := doctor.New(cfg.Root, pinger).Run()
	for _, check := range report.Checks {
		marker := "ok  "
		switch check.Status {
		case doctor.StatusFail:
			marker = "FAIL"
		case doctor.StatusSkipped:
			marker = "skip"
		}
		fmt.Printf("[%s] %-20s %s\n", marker, check.Name, check.Detail)
		if check.Remedy != "" {
			fmt.Printf("       -> %s\n", check.Remedy)
		}
	}

	if !report.Healthy() {
		return exitError
	}
	fmt.Println("\nAll checks passed.")
	return exitOK
}

// --- daemon ---

func runDaemon(args []string) int {
	a, err := openApp()
	if err != nil {
		return fail(err)
	}
	defer a.close()

	runtime, err := engine.Detect(a.cfg.Runtime)
	if err != nil {
		return fail(err)
	}

	o := orchestrator.New(a.store, a.git, a.params, runtime, a.cfg, a.logger)
	p := poller.New(a.registry, a.git, o, a.cfg.Poll, a.logger)
	d := daemon.New(p, runtime, a.cfg, a.logger)

	if err := d.Run(context.Background()); err != nil {
		return fail(err)
	}
	return exitOK
}
