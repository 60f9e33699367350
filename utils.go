package main

import (
	"fmt"

	"github.com/sirupsen/logrus"
	"github.com/urfave/cli"

	"github.com/shenjiangwei/buddyAllocator/buddy"
	"github.com/shenjiangwei/buddyAllocator/config"
	"github.com/shenjiangwei/buddyAllocator/mpool"
)

var (
	capacityFlag = cli.Uint64Flag{
		Name:  "capacity",
		Usage: "size of the managed region in bytes; rounded up to a power of two",
	}
	storageFlag = cli.StringFlag{
		Name:  "storage",
		Usage: "backing storage for the managed region (heap or mmap)",
	}
)

// loadConfig reads the config file and environment, then applies the global
// log flags and any command flags that were set explicitly.
func loadConfig(ctx *cli.Context) (*config.Config, error) {
	cfg, err := config.Load(ctx.GlobalString("config"))
	if err != nil {
		return nil, err
	}

	if v := ctx.GlobalString("log-level"); v != "" {
		cfg.LogLevel = v
	}
	if v := ctx.GlobalString("log-format"); v != "" {
		cfg.LogFormat = v
	}
	if ctx.IsSet(capacityFlag.Name) {
		cfg.Capacity = ctx.Uint64(capacityFlag.Name)
	}
	if ctx.IsSet(storageFlag.Name) {
		cfg.Storage = ctx.String(storageFlag.Name)
	}
	if ctx.IsSet("addr") {
		cfg.Addr = ctx.String("addr")
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func newAllocator(cfg *config.Config) (*buddy.Allocator, error) {
	storage, err := buddy.NewStorage(cfg.Storage)
	if err != nil {
		return nil, err
	}
	allocator, err := buddy.New(cfg.Capacity, buddy.WithStorage(storage))
	if err != nil {
		return nil, fmt.Errorf("failed to create allocator: %w", err)
	}
	logrus.Infof("Allocator ready: capacity %d bytes, %d levels, %s storage",
		allocator.Capacity(), allocator.Levels(), cfg.Storage)
	return allocator, nil
}

func newPool(cfg *config.Config) (*mpool.MemoryPool, error) {
	allocator, err := newAllocator(cfg)
	if err != nil {
		return nil, err
	}
	pool, err := mpool.NewMemoryPool(allocator, cfg.PreallocSizes)
	if err != nil {
		allocator.Destroy()
		return nil, fmt.Errorf("failed to create memory pool: %w", err)
	}
	return pool, nil
}
