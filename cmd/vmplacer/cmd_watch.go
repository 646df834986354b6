package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/limiquantix/vmplacer/internal/repository/redis"
)

type cmdWatch struct {
	global *cmdGlobal
}

func (c *cmdWatch) Command() *cobra.Command {
	cmd := &cobra.Command{}
	cmd.Use = "watch"
	cmd.Short = "Print placement run events as they are published"
	cmd.Args = cobra.NoArgs
	cmd.RunE = c.Run

	return cmd
}

func (c *cmdWatch) Run(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	cfg := c.global.cfg

	if !cfg.Redis.Enabled {
		return fmt.Errorf("watch needs redis.enabled")
	}
	cache, err := redis.NewCache(cfg.Redis, c.global.logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := cache.Close(); err != nil {
			c.global.logger.Warn("Failed to close Redis", zap.Error(err))
		}
	}()

	enc := json.NewEncoder(cmd.OutOrStdout())
	for event := range cache.Subscribe(ctx, redis.PlacementChannel) {
		if err := enc.Encode(event); err != nil {
			return err
		}
	}
	return nil
}
