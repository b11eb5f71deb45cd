package main

import (
	"context"
	"encoding/json"
	"flag"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/sicko7947/agentflow"
	"github.com/sicko7947/agentflow/example/review"
	"github.com/sicko7947/agentflow/store"
)

func main() {
	topic := flag.String("topic", "Storage layer design", "document topic")
	fastTrack := flag.Bool("fast-track", false, "publish without polishing")
	flag.Parse()

	log.Logger = log.Output(zerolog.ConsoleWriter{
		Out:        os.Stderr,
		TimeFormat: time.RFC3339,
	})

	ctx := context.Background()

	orchestrator, err := review.NewOrchestrator(ctx, store.NewMemoryStore(), log.Logger, agentflow.DefaultEngineConfig)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create review orchestrator")
	}

	executionID, err := orchestrator.StartReview(ctx, review.ReviewInput{Topic: *topic, FastTrack: *fastTrack})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to run review")
	}

	status, err := orchestrator.GetReviewStatus(ctx, executionID)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to get review status")
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(status); err != nil {
		log.Fatal().Err(err).Msg("Failed to print status")
	}
}
