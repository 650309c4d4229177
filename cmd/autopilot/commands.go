package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"sort"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/deepnoodle-ai/autopilot"
	"github.com/deepnoodle-ai/autopilot/filestore"
	"github.com/deepnoodle-ai/autopilot/server"
	"github.com/deepnoodle-ai/wonton/cli"
)

func runCommand(ctx *cli.Context) error {
	goCtx := context.Background()
	input, err := parseInput(ctx.Strings("input"))
	if err != nil {
		return cli.Errorf("%v", err)
	}
	a, err := open(goCtx, ctx, needs{engine: true})
	if err != nil {
		return cli.Errorf("%v", err)
	}
	defer a.Close()

	def, err := a.definitions.Get(goCtx, ctx.Arg(0))
	if err != nil {
		return cli.Errorf("%v", err)
	}
	input, err = autopilot.ValidateInput(def, input)
	if err != nil {
		var verr *autopilot.ValidationError
		if errors.As(err, &verr) {
			for _, f := range verr.Fields {
				fmt.Fprintf(os.Stderr, "  %s %s: %s\n", errorStyle.Sprint(xmark), f.Field, f.Message)
			}
		}
		return cli.Errorf("%v", err)
	}
	def = def.Clone()
	a.cfg.ApplyApproval(def)

	out := os.Stdout
	result, err := a.engine.Run(goCtx, def, autopilot.ExecutionContext{
		Input:       input,
		OrgID:       ctx.String("org"),
		UserID:      ctx.String("user"),
		SubjectID:   ctx.String("subject"),
		OrgPrompt:   ctx.String("org-prompt"),
		TriggerType: autopilot.TriggerManual,
	}, autopilot.Callbacks{
		OnExecutionCreated: func(id string) {
			fmt.Fprintln(out, mutedStyle.Sprintf("%s %s", def.Name, id))
		},
		OnStep: func(step autopilot.Step) {
			printStep(out, step)
		},
		OnLiveView: func(url string) {
			fmt.Fprintf(out, "%s %s\n", headerStyle.Sprint("Live view:"), url)
		},
	})
	if err != nil {
		return cli.Errorf("%v", err)
	}
	printResult(out, result)
	if result.Status == autopilot.StatusFailed {
		return cli.Errorf("execution %s failed", result.ExecutionID)
	}
	return nil
}

func matchCommand(ctx *cli.Context) error {
	goCtx := context.Background()
	props, err := parseProperties(ctx.Strings("prop"))
	if err != nil {
		return cli.Errorf("%v", err)
	}
	a, err := open(goCtx, ctx, needs{})
	if err != nil {
		return cli.Errorf("%v", err)
	}
	defer a.Close()

	defs, err := a.definitions.List(goCtx)
	if err != nil {
		return cli.Errorf("%v", err)
	}
	matched := autopilot.SelectDefinitions(defs, ctx.String("event"), props)
	if len(matched) == 0 {
		fmt.Println(warningStyle.Sprint("No definitions match"))
		return nil
	}
	t := newTable(os.Stdout, "ID", "NAME", "VERSION")
	for _, def := range matched {
		t.Append(def.ID, def.Name, strconv.Itoa(def.Version))
	}
	t.Render()
	return nil
}

func listDefinitionsCommand(ctx *cli.Context) error {
	goCtx := context.Background()
	a, err := open(goCtx, ctx, needs{})
	if err != nil {
		return cli.Errorf("%v", err)
	}
	defer a.Close()

	defs, err := a.definitions.List(goCtx)
	if err != nil {
		return cli.Errorf("%v", err)
	}
	if len(defs) == 0 {
		fmt.Println(warningStyle.Sprint("No definitions found"))
		return nil
	}
	t := newTable(os.Stdout, "ID", "NAME", "TRIGGER", "OVERSIGHT", "VERSION")
	for _, def := range defs {
		trigger := string(def.Trigger.Type)
		switch def.Trigger.Type {
		case autopilot.TriggerEvent:
			trigger += " " + def.Trigger.EventName
		case autopilot.TriggerSchedule:
			trigger += " " + def.Trigger.Cron
		}
		t.Append(def.ID, def.Name, trigger, string(def.Oversight.Mode), strconv.Itoa(def.Version))
	}
	t.Render()
	return nil
}

func showDefinitionCommand(ctx *cli.Context) error {
	goCtx := context.Background()
	a, err := open(goCtx, ctx, needs{})
	if err != nil {
		return cli.Errorf("%v", err)
	}
	defer a.Close()

	def, err := a.definitions.Get(goCtx, ctx.Arg(0))
	if err != nil {
		return cli.Errorf("%v", err)
	}
	data, err := autopilot.MarshalDefinitionYAML(def)
	if err != nil {
		return cli.Errorf("%v", err)
	}
	os.Stdout.Write(data)
	return nil
}

func applyDefinitionCommand(ctx *cli.Context) error {
	goCtx := context.Background()
	path := ctx.Arg(0)
	data, err := os.ReadFile(path)
	if err != nil {
		return cli.Errorf("%v", err)
	}
	proposed, err := autopilot.ParseDefinitionFile(path, data)
	if err != nil {
		return cli.Errorf("%v", err)
	}
	if err := proposed.Validate(); err != nil {
		return cli.Errorf("%v", err)
	}

	a, err := open(goCtx, ctx, needs{})
	if err != nil {
		return cli.Errorf("%v", err)
	}
	defer a.Close()

	stored, err := a.definitions.Get(goCtx, proposed.ID)
	if err != nil && !errors.Is(err, autopilot.ErrNotFound) {
		return cli.Errorf("%v", err)
	}
	diff, err := definitionDiff(stored, proposed)
	if err != nil {
		return cli.Errorf("%v", err)
	}
	if diff == "" {
		fmt.Println(mutedStyle.Sprintf("%s is unchanged", proposed.ID))
		return nil
	}
	printDiff(diff)
	if ctx.Bool("dry-run") {
		fmt.Println(warningStyle.Sprint("\nDry run - definition not saved"))
		return nil
	}
	saved, err := a.definitions.Upsert(goCtx, proposed)
	if err != nil {
		return cli.Errorf("%v", err)
	}
	fmt.Printf("%s %s saved as version %d\n", successStyle.Sprint(checkmark), saved.ID, saved.Version)
	return nil
}

func printDiff(diff string) {
	for _, line := range strings.SplitAfter(diff, "\n") {
		switch {
		case strings.HasPrefix(line, "+++"), strings.HasPrefix(line, "---"):
			fmt.Print(headerStyle.Sprint(line))
		case strings.HasPrefix(line, "+"):
			fmt.Print(successStyle.Sprint(line))
		case strings.HasPrefix(line, "-"):
			fmt.Print(errorStyle.Sprint(line))
		case strings.HasPrefix(line, "@@"):
			fmt.Print(mutedStyle.Sprint(line))
		default:
			fmt.Print(line)
		}
	}
}

func listExecutionsCommand(ctx *cli.Context) error {
	goCtx := context.Background()
	limit := ctx.Int("limit")
	if limit <= 0 {
		return cli.Errorf("--limit must be positive")
	}
	a, err := open(goCtx, ctx, needs{})
	if err != nil {
		return cli.Errorf("%v", err)
	}
	defer a.Close()

	records, err := a.ledger.ListByDefinition(goCtx, ctx.Arg(0), limit)
	if err != nil {
		return cli.Errorf("%v", err)
	}
	if len(records) == 0 {
		fmt.Println(warningStyle.Sprint("No executions found"))
		return nil
	}
	t := newTable(os.Stdout, "ID", "STATUS", "VERSION", "STEPS", "TOKENS", "STARTED", "SUMMARY")
	for _, r := range records {
		t.Append(r.ID, string(r.Status), strconv.Itoa(r.DefinitionVersion), strconv.Itoa(len(r.Steps)),
			strconv.Itoa(r.Usage.TotalTokens), r.StartedAt.Local().Format(time.DateTime), preview(r.Summary))
	}
	t.Render()
	return nil
}

func showExecutionCommand(ctx *cli.Context) error {
	goCtx := context.Background()
	a, err := open(goCtx, ctx, needs{})
	if err != nil {
		return cli.Errorf("%v", err)
	}
	defer a.Close()

	record, err := a.ledger.Get(goCtx, ctx.Arg(0))
	if err != nil {
		return cli.Errorf("%v", err)
	}
	if ctx.Bool("json") {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(record)
	}

	out := os.Stdout
	fmt.Fprintf(out, "%s %s (version %d)\n", headerStyle.Sprint("Definition:"), record.DefinitionID, record.DefinitionVersion)
	fmt.Fprintf(out, "%s %s\n", headerStyle.Sprint("Started:"), record.StartedAt.Local().Format(time.DateTime))
	if len(record.Input) > 0 {
		keys := make([]string, 0, len(record.Input))
		for k := range record.Input {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		fmt.Fprintln(out, headerStyle.Sprint("Input:"))
		for _, k := range keys {
			fmt.Fprintf(out, "  %s = %v\n", k, record.Input[k])
		}
	}
	fmt.Fprintln(out)
	for _, step := range record.Steps {
		printStep(out, step)
	}
	if record.Status == autopilot.StatusRunning {
		fmt.Fprintf(out, "\n%s %s\n", headerStyle.Sprint("Status:"), statusText(record.Status))
		return nil
	}
	printResult(out, &autopilot.ExecutionResult{
		ExecutionID: record.ID,
		Status:      record.Status,
		Summary:     record.Summary,
		Error:       record.Error,
		Steps:       record.Steps,
		Usage:       record.Usage,
		DurationMs:  record.DurationMs,
	})
	return nil
}

func serveCommand(ctx *cli.Context) error {
	goCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := open(goCtx, ctx, needs{engine: true})
	if err != nil {
		return cli.Errorf("%v", err)
	}
	defer a.Close()

	if dir, ok := a.definitions.(*filestore.DefinitionDir); ok {
		go func() {
			if err := dir.Watch(goCtx, nil); err != nil {
				a.logger.Error("definition watcher stopped", "error", err)
			}
		}()
	}

	srv := server.New(server.Options{
		Engine:      a.engine,
		Definitions: a.definitions,
		Ledger:      a.ledger,
		Logger:      a.logger,
		Addr:        ctx.String("addr"),
	})
	errCh := make(chan error, 1)
	go func() { errCh <- srv.Start() }()
	fmt.Printf("%s listening on %s\n", successStyle.Sprint(checkmark), ctx.String("addr"))

	select {
	case err := <-errCh:
		if err != nil {
			return cli.Errorf("%v", err)
		}
		return nil
	case <-goCtx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return cli.Errorf("shutdown: %v", err)
	}
	return nil
}

func toolsCommand(ctx *cli.Context) error {
	goCtx := context.Background()
	a, err := open(goCtx, ctx, needs{tools: true})
	if err != nil {
		return cli.Errorf("%v", err)
	}
	defer a.Close()

	sources := map[string]string{}
	if a.mcp != nil {
		for name, tools := range a.mcp.ServerTools() {
			for _, tool := range tools {
				sources[tool] = "mcp:" + name
			}
		}
	}
	t := newTable(os.Stdout, "NAME", "SOURCE", "APPROVAL", "DESCRIPTION")
	for _, name := range a.registry.Names() {
		tool, _ := a.registry.Get(name)
		source := "builtin"
		if s, ok := sources[name]; ok {
			source = s
		}
		approval := ""
		if ann := tool.Annotations(); ann != nil && ann.RequiresApproval {
			approval = "required"
		}
		t.Append(name, source, approval, preview(firstLine(tool.Description())))
	}
	t.Render()
	return nil
}

func firstLine(s string) string {
	line, _, _ := strings.Cut(strings.TrimSpace(s), "\n")
	return line
}
