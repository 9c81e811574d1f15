package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/xraph/hookrelay/delivery"
	"github.com/xraph/hookrelay/engine"
	"github.com/xraph/hookrelay/id"
	"github.com/xraph/hookrelay/internal/config"
)

var replayUser string

var replayCmd = &cobra.Command{
	Use:   "replay <dlq_id>",
	Short: "Re-enqueue a dead-lettered delivery",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		dlqID, err := id.ParseDLQID(args[0])
		if err != nil {
			return fmt.Errorf("invalid dlq id: %w", err)
		}
		if cfg.Queue.Driver == config.QueueMemory {
			logger.Warn("replaying onto an in-process memory queue; the job is lost when this command exits")
		}

		st, err := openStore(ctx, cfg.Store)
		if err != nil {
			return err
		}
		defer st.Close()

		backend, closeQueue, err := openQueue(ctx, cfg.Queue)
		if err != nil {
			return err
		}
		defer closeQueue() //nolint:errcheck // best-effort

		eng, err := engine.New(
			engine.WithStore(st),
			engine.WithQueueBackend(backend),
			engine.WithConfig(cfg.Engine()),
			engine.WithLogger(logger),
		)
		if err != nil {
			return err
		}

		initiator := delivery.Initiator{Type: delivery.InitiatorUser, ID: replayUser}
		res, err := eng.Replay(ctx, dlqID, initiator)
		if err != nil {
			return err
		}

		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(res)
	},
}

func init() {
	replayCmd.Flags().StringVar(&replayUser, "user", "cli", "initiator id recorded on the new delivery")
}
