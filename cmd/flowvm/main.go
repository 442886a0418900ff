package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sort"
	"strings"
	"time"

	"github.com/fatih/color"

	"github.com/deepnoodle-ai/flowvm"
	"github.com/deepnoodle-ai/flowvm/tasks"
)

const usage = `flowvm - run durable process definitions

Usage: %[1]s <command> [options]

Commands:
  run          Start a process from a definition file
  resume       Deliver an event to a suspended process
  restore      Roll a process back to a named checkpoint and continue
  checkpoints  List the checkpoints of a process

Examples:
  %[1]s run -f process.yaml -i name=John -i count=5
  %[1]s resume -f process.yaml -id proc_01h... -event approval -payload '{"approved": true}'
  %[1]s restore -f process.yaml -id proc_01h... -checkpoint first
  %[1]s checkpoints -id proc_01h...

Run '%[1]s <command> -h' for the options of a command.
`

func main() {
	if len(os.Args) < 2 {
		fmt.Fprintf(os.Stderr, usage, os.Args[0])
		os.Exit(2)
	}
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	var err error
	switch cmd, args := os.Args[1], os.Args[2:]; cmd {
	case "run":
		err = runCommand(ctx, args)
	case "resume":
		err = resumeCommand(ctx, args)
	case "restore":
		err = restoreCommand(ctx, args)
	case "checkpoints":
		err = checkpointsCommand(ctx, args)
	case "-h", "-help", "--help", "help":
		fmt.Fprintf(os.Stdout, usage, os.Args[0])
		return
	default:
		color.Red("Error: unknown command %q", cmd)
		fmt.Fprintf(os.Stderr, usage, os.Args[0])
		os.Exit(2)
	}
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return
		}
		color.Red("Error: %v", err)
		os.Exit(1)
	}
}

// common holds the flags shared by every command
type common struct {
	configPath string
	file       string
	instanceID string
	timeout    time.Duration
	json       bool
}

func newFlagSet(name string, c *common, needsFile bool) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.StringVar(&c.configPath, "config", "", "Path to a YAML config file")
	fs.StringVar(&c.configPath, "c", "", "Path to a YAML config file (shorthand)")
	fs.StringVar(&c.instanceID, "id", "", "Process instance id")
	fs.DurationVar(&c.timeout, "timeout", 0, "Execution timeout (e.g., 30s, 5m, 1h)")
	fs.DurationVar(&c.timeout, "t", 0, "Execution timeout (shorthand)")
	fs.BoolVar(&c.json, "json", false, "Output results in JSON format")
	if needsFile {
		fs.StringVar(&c.file, "file", "", "Path to the YAML process definition (required)")
		fs.StringVar(&c.file, "f", "", "Path to the YAML process definition (shorthand)")
	}
	return fs
}

// session is an execution wired to the configured backends
type session struct {
	execution *flowvm.Execution
	close     func() error
}

func openSession(ctx context.Context, c *common, inputs map[string]any) (*session, error) {
	cfg, err := loadConfig(c.configPath)
	if err != nil {
		return nil, err
	}
	if c.file == "" {
		return nil, errors.New("definition file is required (-f)")
	}
	def, err := flowvm.LoadFile(c.file)
	if err != nil {
		return nil, err
	}
	logger := cfg.logger(os.Stderr)
	store, closeStore, err := cfg.openStore(ctx, logger)
	if err != nil {
		return nil, err
	}
	registry := flowvm.NewTaskRegistry()
	tasks.Register(registry)

	var secrets flowvm.SecretProvider
	if cfg.SecretPrefix != "" {
		secrets = flowvm.EnvSecrets{Prefix: cfg.SecretPrefix}
	}
	execution, err := flowvm.NewExecution(flowvm.ExecutionOptions{
		Definition:     def,
		Inputs:         mergeInputs(cfg.Arguments, inputs),
		InstanceID:     c.instanceID,
		Tasks:          registry,
		Secrets:        secrets,
		Policy:         cfg.policy(),
		Checkpoints:    store,
		States:         store,
		TaskLogger:     cfg.taskLogger(),
		Logger:         logger,
		ScriptCompiler: cfg.compiler(),
		MaskedFields:   cfg.MaskedFields,
		Listeners:      cfg.listeners(),
	})
	if err != nil {
		closeStore()
		return nil, err
	}
	color.Cyan("Process: %s (ID: %s)", def.Name, execution.ID())
	return &session{execution: execution, close: closeStore}, nil
}

func withTimeout(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	if timeout <= 0 {
		return context.WithCancel(ctx)
	}
	color.Yellow("Timeout: %v", timeout)
	return context.WithTimeout(ctx, timeout)
}

func runCommand(ctx context.Context, args []string) error {
	var c common
	var inputs stringSlice
	fs := newFlagSet("run", &c, true)
	fs.Var(&inputs, "input", "Input parameter in format key=value (can be used multiple times)")
	fs.Var(&inputs, "i", "Input parameter in format key=value (shorthand)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	parsed, err := parseInputs(inputs)
	if err != nil {
		return err
	}
	s, err := openSession(ctx, &c, parsed)
	if err != nil {
		return err
	}
	defer s.close()

	ctx, cancel := withTimeout(ctx, c.timeout)
	defer cancel()
	color.Green("Starting execution...")
	start := time.Now()
	err = s.execution.Run(ctx)
	return showResults(s.execution, err, time.Since(start), c.json)
}

func resumeCommand(ctx context.Context, args []string) error {
	var c common
	var event, payload string
	fs := newFlagSet("resume", &c, true)
	fs.StringVar(&event, "event", "", "Name of the pending event to deliver (required)")
	fs.StringVar(&payload, "payload", "", "Event payload as a JSON object")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if c.instanceID == "" || event == "" {
		return errors.New("resume requires -id and -event")
	}
	resume := flowvm.ResumeEvent{Name: event}
	if payload != "" {
		if err := json.Unmarshal([]byte(payload), &resume.Payload); err != nil {
			return fmt.Errorf("invalid payload: %w", err)
		}
	}
	s, err := openSession(ctx, &c, nil)
	if err != nil {
		return err
	}
	defer s.close()

	ctx, cancel := withTimeout(ctx, c.timeout)
	defer cancel()
	color.Green("Resuming on event %q...", event)
	start := time.Now()
	err = s.execution.Resume(ctx, resume)
	return showResults(s.execution, err, time.Since(start), c.json)
}

func restoreCommand(ctx context.Context, args []string) error {
	var c common
	var name string
	fs := newFlagSet("restore", &c, true)
	fs.StringVar(&name, "checkpoint", "", "Checkpoint name to restore (required)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if c.instanceID == "" || name == "" {
		return errors.New("restore requires -id and -checkpoint")
	}
	s, err := openSession(ctx, &c, nil)
	if err != nil {
		return err
	}
	defer s.close()

	if err := s.execution.Restore(ctx, name); err != nil {
		return err
	}
	ctx, cancel := withTimeout(ctx, c.timeout)
	defer cancel()
	color.Green("Continuing from checkpoint %q...", name)
	start := time.Now()
	err = s.execution.Continue(ctx)
	return showResults(s.execution, err, time.Since(start), c.json)
}

func checkpointsCommand(ctx context.Context, args []string) error {
	var c common
	fs := newFlagSet("checkpoints", &c, false)
	if err := fs.Parse(args); err != nil {
		return err
	}
	if c.instanceID == "" {
		return errors.New("checkpoints requires -id")
	}
	cfg, err := loadConfig(c.configPath)
	if err != nil {
		return err
	}
	store, closeStore, err := cfg.openStore(ctx, cfg.logger(os.Stderr))
	if err != nil {
		return err
	}
	defer closeStore()

	cps, err := store.List(ctx, c.instanceID)
	if err != nil {
		return err
	}
	return printCheckpoints(os.Stdout, cps, c.json)
}

func printCheckpoints(w io.Writer, cps []*flowvm.Checkpoint, asJSON bool) error {
	if asJSON {
		type row struct {
			Name      string          `json:"name"`
			ID        string          `json:"id"`
			ThreadID  flowvm.ThreadID `json:"thread_id"`
			CreatedAt time.Time       `json:"created_at"`
		}
		rows := make([]row, 0, len(cps))
		for _, cp := range cps {
			rows = append(rows, row{cp.Name, cp.ID, cp.ThreadID, cp.CreatedAt})
		}
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(rows)
	}
	if len(cps) == 0 {
		color.Blue("No checkpoints")
		return nil
	}
	for _, cp := range cps {
		fmt.Fprintf(w, "  %-20s %s  thread %d  %s\n", cp.Name, cp.ID, cp.ThreadID, cp.CreatedAt.Format(time.RFC3339))
	}
	return nil
}

func showResults(execution *flowvm.Execution, err error, duration time.Duration, asJSON bool) error {
	status := execution.Status()
	color.White("Execution finished in %v", duration)
	color.White("Status: %s", status)

	if err != nil {
		var perr *flowvm.ProcessError
		if errors.As(err, &perr) && perr.Stack != "" {
			for _, line := range strings.Split(perr.Stack, "\n") {
				color.Red("  %s", line)
			}
		}
		return err
	}
	switch status {
	case flowvm.ExecutionStatusSuspended:
		color.Yellow("Waiting for:")
		for _, p := range execution.PendingEvents() {
			fmt.Printf("  %s (%s, thread %d)\n", p.Event, p.Kind, p.ThreadID)
		}
	case flowvm.ExecutionStatusCompleted:
		color.Green("Execution successful!")
	}

	vars := execution.Variables()
	if len(vars) == 0 {
		return nil
	}
	fmt.Printf("\n")
	color.Magenta("Variables:")
	if asJSON {
		data, err := json.MarshalIndent(vars, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to format variables: %w", err)
		}
		fmt.Println(string(data))
		return nil
	}
	keys := make([]string, 0, len(vars))
	for key := range vars {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	for _, key := range keys {
		if data, err := json.Marshal(vars[key]); err == nil {
			fmt.Printf("  %s: %s\n", key, string(data))
		} else {
			fmt.Printf("  %s: %v\n", key, vars[key])
		}
	}
	return nil
}

// stringSlice collects repeated flag values
type stringSlice []string

func (s *stringSlice) String() string {
	return strings.Join(*s, ", ")
}

func (s *stringSlice) Set(value string) error {
	*s = append(*s, value)
	return nil
}

// parseInputs turns key=value pairs into inputs. Values are parsed as JSON
// if possible, otherwise kept as strings.
func parseInputs(pairs []string) (map[string]any, error) {
	inputs := map[string]any{}
	for _, pair := range pairs {
		key, value, ok := strings.Cut(pair, "=")
		if !ok || key == "" {
			return nil, fmt.Errorf("invalid input format %q, use key=value", pair)
		}
		var parsed any
		if err := json.Unmarshal([]byte(value), &parsed); err != nil {
			parsed = value
		}
		inputs[key] = parsed
	}
	return inputs, nil
}

func mergeInputs(base, override map[string]any) map[string]any {
	out := make(map[string]any, len(base)+len(override))
	for k, v := range base {
		out[k] = v
	}
	for k, v := range override {
		out[k] = v
	}
	return out
}
