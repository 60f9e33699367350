package main

import (
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/pkg/profile"
	"github.com/sirupsen/logrus"
	"github.com/urfave/cli"

	"github.com/shenjiangwei/buddyAllocator/buddy"
	"github.com/shenjiangwei/buddyAllocator/config"
	"github.com/shenjiangwei/buddyAllocator/mpool"
)

var stressCommand = cli.Command{
	Name:  "stress",
	Usage: "run randomized allocate/free iterations against a shared memory pool",
	Flags: []cli.Flag{
		capacityFlag,
		storageFlag,
		cli.IntFlag{
			Name:  "iterations",
			Value: 3,
			Usage: "number of test iterations",
		},
		cli.IntFlag{
			Name:  "ops",
			Value: 100000,
			Usage: "operations per iteration",
		},
		cli.IntFlag{
			Name:  "workers",
			Value: 10,
			Usage: "concurrent goroutines per iteration",
		},
		cli.Uint64Flag{
			Name:  "min-size",
			Value: 4 * mpool.KB,
			Usage: "smallest request in bytes",
		},
		cli.Uint64Flag{
			Name:  "max-size",
			Value: 1 * mpool.MB,
			Usage: "largest request in bytes",
		},
		cli.Int64Flag{
			Name:  "seed",
			Usage: "random seed (default: current time)",
		},
		cli.BoolFlag{
			Name:   "cpu-profiling",
			Usage:  "enable cpu-profiling data collection",
			Hidden: true,
		},
		cli.BoolFlag{
			Name:   "memory-profiling",
			Usage:  "enable memory-profiling data collection",
			Hidden: true,
		},
	},
	Action: func(ctx *cli.Context) error {
		cfg, err := loadConfig(ctx)
		if err != nil {
			return err
		}

		prof, err := runProfiler(ctx)
		if err != nil {
			return err
		}
		if prof != nil {
			defer prof.Stop()
		}

		params := stressParams{
			ops:     ctx.Int("ops"),
			workers: ctx.Int("workers"),
			minSize: ctx.Uint64("min-size"),
			maxSize: ctx.Uint64("max-size"),
			seed:    ctx.Int64("seed"),
		}
		if !ctx.IsSet("seed") {
			params.seed = time.Now().UnixNano()
		}
		if params.minSize == 0 || params.minSize > params.maxSize {
			return fmt.Errorf("invalid request size range [%d, %d]", params.minSize, params.maxSize)
		}
		if params.workers <= 0 {
			return fmt.Errorf("invalid worker count %d", params.workers)
		}

		iterations := ctx.Int("iterations")
		fmt.Printf("Starting allocation test with %d iterations\n", iterations)
		fmt.Println("Total size:", cfg.Capacity, "bytes")
		fmt.Println("Min request size:", params.minSize, "bytes")
		fmt.Println("Max request size:", params.maxSize, "bytes")
		fmt.Println()

		var results []TestResult
		for i := 0; i < iterations; i++ {
			fmt.Printf("Running iteration %d...\n", i+1)
			result, err := runTest(cfg, params, i+1)
			if err != nil {
				return err
			}
			results = append(results, result)
			printResult(result)
		}
		printAverages(results)
		return nil
	},
}

type stressParams struct {
	ops     int
	workers int
	minSize uint64
	maxSize uint64
	seed    int64
}

// TestResult stores test iteration results
type TestResult struct {
	Iteration     int
	Allocations   uint64
	Failures      uint64
	Frees         uint64
	MaxUsage      float64
	FinalUsage    float64
	MemoryUsage   uint64
	TotalDuration time.Duration
}

func runTest(cfg *config.Config, params stressParams, iteration int) (TestResult, error) {
	allocator, err := newAllocator(cfg)
	if err != nil {
		return TestResult{}, err
	}
	capacity := allocator.Capacity()
	overhead := allocator.MemoryUsage()

	pool, err := mpool.NewMemoryPool(allocator, cfg.PreallocSizes)
	if err != nil {
		allocator.Destroy()
		return TestResult{}, err
	}

	var (
		mutex     sync.Mutex
		wg        sync.WaitGroup
		ops       int
		maxUsed   uint64
		allocated []buddy.Address
	)
	result := TestResult{Iteration: iteration}
	maxUsed = pool.UsedSize()

	startTime := time.Now()
	for w := 0; w < params.workers; w++ {
		wg.Add(1)
		go func(rng *rand.Rand) {
			defer wg.Done()
			for {
				mutex.Lock()
				if ops >= params.ops {
					mutex.Unlock()
					return
				}
				ops++
				mutex.Unlock()

				// Randomly decide whether to allocate or free
				if rng.Float64() < 0.7 {
					span := int64(params.maxSize - params.minSize + 1)
					size := uint64(rng.Int63n(span)) + params.minSize
					addr, err := pool.Allocate(size)
					mutex.Lock()
					if err == nil {
						allocated = append(allocated, addr)
						result.Allocations++
						if used := pool.UsedSize(); used > maxUsed {
							maxUsed = used
						}
					} else {
						result.Failures++
					}
					mutex.Unlock()
				} else {
					mutex.Lock()
					if len(allocated) == 0 {
						mutex.Unlock()
						continue
					}
					idx := rng.Intn(len(allocated))
					addr := allocated[idx]
					allocated[idx] = allocated[len(allocated)-1]
					allocated = allocated[:len(allocated)-1]
					result.Frees++
					mutex.Unlock()
					if err := pool.Free(addr); err != nil {
						logrus.Errorf("Free of offset %d failed: %v", addr.Offset(), err)
					}
				}
			}
		}(rand.New(rand.NewSource(params.seed + int64(iteration*params.workers+w))))
	}

	wg.Wait()
	result.TotalDuration = time.Since(startTime)
	result.MaxUsage = float64(maxUsed) / float64(capacity) * 100
	result.FinalUsage = float64(pool.UsedSize()) / float64(capacity) * 100
	result.MemoryUsage = overhead

	if err := pool.Close(); err != nil {
		return result, err
	}
	return result, nil
}

func printResult(result TestResult) {
	fmt.Printf("Iteration %d results:\n", result.Iteration)
	fmt.Printf("  Allocations: %d\n", result.Allocations)
	fmt.Printf("  Failed allocations: %d\n", result.Failures)
	fmt.Printf("  Frees: %d\n", result.Frees)
	fmt.Printf("  Max usage: %.2f%%\n", result.MaxUsage)
	fmt.Printf("  Final usage: %.2f%%\n", result.FinalUsage)
	fmt.Printf("  Memory usage: %d bytes\n", result.MemoryUsage)
	fmt.Printf("  Duration: %v\n", result.TotalDuration)
	fmt.Println()
}

func printAverages(results []TestResult) {
	if len(results) == 0 {
		return
	}

	var avgUsage, avgMemory, avgDuration float64
	for _, r := range results {
		avgUsage += r.FinalUsage
		avgMemory += float64(r.MemoryUsage)
		avgDuration += r.TotalDuration.Seconds()
	}
	avgUsage /= float64(len(results))
	avgMemory /= float64(len(results))
	avgDuration /= float64(len(results))

	fmt.Println("Average results:")
	fmt.Printf("  Average usage: %.2f%%\n", avgUsage)
	fmt.Printf("  Average memory usage: %.2f bytes\n", avgMemory)
	fmt.Printf("  Average duration: %.2f seconds\n", avgDuration)
}

// Run cpu / memory profiling collection.
func runProfiler(ctx *cli.Context) (interface{ Stop() }, error) {
	cpuProfOn := ctx.Bool("cpu-profiling")
	memProfOn := ctx.Bool("memory-profiling")

	// Cpu and Memory profiling options seem to be mutually exclused in pprof.
	if cpuProfOn && memProfOn {
		return nil, fmt.Errorf("unsupported parameter combination: cpu and memory profiling")
	}

	if cpuProfOn {
		logrus.Info("Initiated cpu-profiling data collection.")
		return profile.Start(profile.CPUProfile, profile.ProfilePath("."), profile.NoShutdownHook), nil
	}
	if memProfOn {
		logrus.Info("Initiated memory-profiling data collection.")
		return profile.Start(profile.MemProfile, profile.ProfilePath("."), profile.NoShutdownHook), nil
	}
	return nil, nil
}
