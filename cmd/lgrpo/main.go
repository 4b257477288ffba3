package main

import (
	"context"
	"log"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/urfave/cli/v3"

	"github.com/zaporter/logic-grpo/orchestrator"
	"github.com/zaporter/logic-grpo/orchestrator/experiment"
)

func main() {
	logger := zerolog.New(
		zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339},
	).Level(zerolog.TraceLevel).With().Timestamp().Caller().Logger()
	ctx := logger.WithContext(context.Background())

	cmd := &cli.Command{
		Name:  "lgrpo",
		Usage: "GRPO training for formal logic and grammar tasks",
		Commands: []*cli.Command{
			orchestrator.CreateTrainCli(),
			orchestrator.CreateRouterCli(),
			orchestrator.CreatePlaygroundCli(),
			experiment.CreateExperimentCli(),
		},
	}
	if err := cmd.Run(ctx, os.Args); err != nil {
		log.Fatalln(err)
	}
}
