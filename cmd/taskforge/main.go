package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/alecthomas/kingpin/v2"

	"github.com/kazz187/taskforge/internal/config"
	"github.com/kazz187/taskforge/pkg/flog"
)

var (
	app = kingpin.New("taskforge", "Autonomous task orchestration with sandboxed execution")

	serveCmd = app.Command("serve", "Run the TaskForge daemon (HTTP API, SSE event stream, push notifications)")

	runCmd     = app.Command("run", "Run one goal to completion in-process")
	runGoal    = runCmd.Arg("goal", "Natural-language goal").Required().String()
	runMode    = runCmd.Flag("mode", "Execution mode (supervised|autonomous)").Default("supervised").String()
	runYolo    = runCmd.Flag("yolo", "Shorthand for --mode autonomous").Bool()
	runVerbose = runCmd.Flag("verbose", "Render every execution event, not just the highlights").Short('v').Bool()

	keygenCmd = app.Command("vapid-keygen", "Generate a VAPID key pair for Web Push")
)

func main() {
	command := kingpin.MustParse(app.Parse(os.Args[1:]))

	env, err := config.LoadEnv()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	setupLogger(env, command)

	switch command {
	case serveCmd.FullCommand():
		err = serve(env)
	case runCmd.FullCommand():
		err = runOnce(env, *runGoal, *runMode, *runYolo, *runVerbose)
	case keygenCmd.FullCommand():
		err = vapidKeygen()
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// setupLogger installs the process-wide slog handler: colored text locally,
// JSON elsewhere. The one-shot run keeps the terminal for event rendering
// and confines logs to warnings.
func setupLogger(env *config.Env, command string) {
	level := env.SlogLevel()
	if command == runCmd.FullCommand() && level < slog.LevelWarn {
		level = slog.LevelWarn
	}
	var handler slog.Handler
	if env.Env == "local" {
		handler = flog.NewTextHandler(os.Stderr, flog.WithLevel(level))
	} else {
		handler = slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level})
	}
	slog.SetDefault(slog.New(flog.NewAttributesHandler(handler)))
}
