package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"sort"
	"time"

	"github.com/urfave/cli/v2"
	"go.uber.org/zap"

	"github.com/saiset-co/sai-query-cache/config"
	"github.com/saiset-co/sai-query-cache/logger"
	"github.com/saiset-co/sai-query-cache/persist"
	"github.com/saiset-co/sai-query-cache/service"
	"github.com/saiset-co/sai-query-cache/storage"
	"github.com/saiset-co/sai-query-cache/types"
	"github.com/saiset-co/sai-query-cache/utils"
)

func main() {
	app := &cli.App{
		Name:  "cachectl",
		Usage: "Inspect and manage query cache snapshots",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Value:   "config.yml",
				Usage:   "path to the service config",
				EnvVars: []string{"QUERY_CACHE_CONFIG"},
			},
		},
		Commands: []*cli.Command{
			{
				Name:   "run",
				Usage:  "Start the cache service and persist until interrupted",
				Action: runService,
			},
			{
				Name:  "inspect",
				Usage: "Print the snapshot stored in the configured slot",
				Flags: []cli.Flag{
					&cli.BoolFlag{Name: "raw", Usage: "print the stored payload as is"},
				},
				Action: inspectSlot,
			},
			{
				Name:   "clear",
				Usage:  "Delete the snapshot slot",
				Action: clearSlot,
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

func runService(c *cli.Context) error {
	svc, err := service.NewFromFile(c.Context, c.String("config"))
	if err != nil {
		return err
	}

	if err = svc.Start(); err != nil {
		return err
	}

	<-svc.Done()
	return nil
}

// openSlot builds the configured backend without the rest of the service.
func openSlot(c *cli.Context) (types.Storage, *types.PersistenceConfig, types.Logger, error) {
	configManager, err := config.NewManager(c.Context, c.String("config"))
	if err != nil {
		return nil, nil, nil, err
	}

	cfg := configManager.GetConfig()
	if cfg.Persistence == nil || cfg.Persistence.Storage == nil {
		return nil, nil, nil, types.ErrPersistenceIsDisabled
	}

	slotLogger, err := logger.NewLogger(cfg.Logger)
	if err != nil {
		return nil, nil, nil, err
	}

	slot, err := storage.NewManager(c.Context, cfg.Persistence.Storage, slotLogger, nil)
	if err != nil {
		return nil, nil, nil, err
	}

	if err = slot.Start(); err != nil {
		return nil, nil, nil, err
	}

	return slot, cfg.Persistence, slotLogger, nil
}

func inspectSlot(c *cli.Context) error {
	slot, persistence, slotLogger, err := openSlot(c)
	if err != nil {
		return err
	}
	defer slot.Stop()

	key := persistence.Key
	payload, found, err := slot.Get(c.Context, key)
	if err != nil {
		return err
	}
	if !found {
		fmt.Printf("slot %q is empty\n", key)
		return nil
	}

	if c.Bool("raw") {
		fmt.Println(payload)
		return nil
	}

	var snapshot types.Snapshot
	if err = utils.UnmarshalString(payload, &snapshot); err != nil {
		slotLogger.Warn("Snapshot is corrupt", zap.Error(err))
		return types.Errorf(types.ErrSnapshotCorrupt, "%v", err)
	}

	age := time.Since(snapshot.CreatedAt()).Round(time.Second)

	fmt.Printf("slot:      %s\n", key)
	fmt.Printf("bytes:     %d (limit %d)\n", len(payload), maxSize(persistence))
	fmt.Printf("version:   %d (expected %d)\n", snapshot.Version, version(persistence))
	fmt.Printf("written:   %s (%s ago)\n", snapshot.CreatedAt().Format(time.RFC3339), age)
	fmt.Printf("queries:   %d\n", len(snapshot.Queries))

	if snapshot.Version != version(persistence) {
		fmt.Println("status:    version mismatch, will be discarded on hydrate")
	} else if age > maxAge(persistence) {
		fmt.Println("status:    expired, will be discarded on hydrate")
	} else {
		fmt.Println("status:    valid")
	}

	counts := make(map[string]int)
	for _, query := range snapshot.Queries {
		counts[query.QueryKey.Category()]++
	}

	categories := make([]string, 0, len(counts))
	for category := range counts {
		categories = append(categories, category)
	}
	sort.Strings(categories)

	for _, category := range categories {
		fmt.Printf("  %-12s %d\n", category, counts[category])
	}

	return nil
}

func clearSlot(c *cli.Context) error {
	slot, persistence, slotLogger, err := openSlot(c)
	if err != nil {
		return err
	}
	defer slot.Stop()

	ctx, cancel := context.WithTimeout(c.Context, 10*time.Second)
	defer cancel()

	if err = slot.Delete(ctx, persistence.Key); err != nil {
		return err
	}

	slotLogger.Info("Snapshot slot cleared", zap.String("key", persistence.Key))
	return nil
}

func version(persistence *types.PersistenceConfig) int {
	if persistence.Version == 0 {
		return persist.DefaultVersion
	}
	return persistence.Version
}

func maxAge(persistence *types.PersistenceConfig) time.Duration {
	if persistence.MaxAge == 0 {
		return persist.DefaultMaxAge
	}
	return persistence.MaxAge
}

func maxSize(persistence *types.PersistenceConfig) int {
	if persistence.MaxSize == 0 {
		return persist.DefaultMaxSize
	}
	return persistence.MaxSize
}
