// Command autopilot runs and inspects agent definitions from the terminal and
// serves them over HTTP.
package main

import (
	"fmt"
	"os"

	"github.com/deepnoodle-ai/autopilot/config"
	"github.com/deepnoodle-ai/wonton/cli"
)

const version = "0.1.0"

func main() {
	app := newApp()
	if err := app.Execute(); err != nil {
		if cli.IsHelpRequested(err) {
			os.Exit(0)
		}
		fmt.Fprintf(os.Stderr, "%s %v\n", errorStyle.Sprint("Error:"), err)
		os.Exit(cli.GetExitCode(err))
	}
}

func newApp() *cli.App {
	app := cli.New("autopilot").
		Description("Run autonomous agent definitions").
		Version(version).
		GlobalFlags(
			cli.String("config", "c").
				Default(config.DefaultFile).
				Env("AUTOPILOT_CONFIG").
				Help("Path to the configuration file"),
			cli.String("provider", "").
				Env("AUTOPILOT_PROVIDER").
				Help("LLM provider (google, openai)"),
			cli.String("model", "m").
				Env("AUTOPILOT_MODEL").
				Help("Model to use"),
			cli.String("log-level", "").
				Env("AUTOPILOT_LOG_LEVEL").
				Help("Log level (debug, info, warn, error, none)"),
			cli.String("log-file", "").
				Env("AUTOPILOT_LOG_FILE").
				Help("Write logs to a rotating file instead of stderr"),
		)

	app.Command("run").
		Description("Run a definition once").
		Long(`Run a definition with the given input and print each step as it happens.

Examples:
  autopilot run triage --input topic=billing
  autopilot run research --input topic=pricing --input depth=3 --org acme`).
		Args("definition").
		Flags(
			cli.Strings("input", "i").Help("Input value as key=value (repeatable)"),
			cli.String("org", "").Default("local").Env("AUTOPILOT_ORG").Help("Organization ID"),
			cli.String("user", "u").Env("AUTOPILOT_USER").Help("User ID"),
			cli.String("subject", "").Help("Subject ID keying cross-run memory (defaults to the user)"),
			cli.String("org-prompt", "").Help("Organization prompt appended to the system prompt"),
		).
		Run(runCommand)

	app.Command("match").
		Description("List the event-triggered definitions an event would start").
		NoArgs().
		Flags(
			cli.String("event", "e").Required().Help("Event name"),
			cli.Strings("prop", "p").Help("Event property as key=value; repeating a key makes a list"),
		).
		Run(matchCommand)

	defs := app.Group("definitions").Description("Manage definitions")
	defs.Command("list").
		Description("List definitions").
		NoArgs().
		Run(listDefinitionsCommand)
	defs.Command("show").
		Description("Print a definition as YAML").
		Args("id").
		Run(showDefinitionCommand)
	defs.Command("apply").
		Description("Create or update a definition from a YAML or JSON file").
		Args("file").
		Flags(
			cli.Bool("dry-run", "n").Help("Print the diff without saving"),
		).
		Run(applyDefinitionCommand)

	execs := app.Group("executions").Description("Inspect the execution ledger")
	execs.Command("list").
		Description("List recent executions of a definition").
		Args("definition").
		Flags(
			cli.Int("limit", "l").Default(20).Help("Maximum executions to list"),
		).
		Run(listExecutionsCommand)
	execs.Command("show").
		Description("Print an execution and its steps").
		Args("id").
		Flags(
			cli.Bool("json", "").Help("Print the record as JSON"),
		).
		Run(showExecutionCommand)

	app.Command("serve").
		Description("Serve the HTTP API").
		NoArgs().
		Flags(
			cli.String("addr", "a").Default(":8080").Env("AUTOPILOT_ADDR").Help("Listen address"),
		).
		Run(serveCommand)

	app.Command("tools").
		Description("List the tools definitions can use").
		NoArgs().
		Run(toolsCommand)

	return app
}
