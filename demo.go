package main

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/urfave/cli"

	"github.com/shenjiangwei/buddyAllocator/buddy"
)

var demoCommand = cli.Command{
	Name:  "demo",
	Usage: "run the sample allocation script against a fresh allocator",
	Description: `Allocates 32, 32 and 15 bytes, releases the second block and
allocates 15 bytes again. Use a capacity of 64 bytes or less to see the
third allocation fail. Without --capacity the size is read from stdin.`,
	Flags: []cli.Flag{
		capacityFlag,
		storageFlag,
		cli.BoolFlag{
			Name:  "dump",
			Usage: "print the status tree after every step",
		},
	},
	Action: func(ctx *cli.Context) error {
		cfg, err := loadConfig(ctx)
		if err != nil {
			return err
		}
		if !ctx.IsSet(capacityFlag.Name) {
			capacity, err := promptCapacity(os.Stdin, os.Stdout)
			if err != nil {
				return err
			}
			cfg.Capacity = capacity
		}

		allocator, err := newAllocator(cfg)
		if err != nil {
			return err
		}
		return runDemo(os.Stdout, allocator, ctx.Bool("dump"))
	},
}

func promptCapacity(in io.Reader, out io.Writer) (uint64, error) {
	fmt.Fprint(out, "Enter the size of memory you want to allocate: ")
	line, err := bufio.NewReader(in).ReadString('\n')
	if err != nil && err != io.EOF {
		return 0, err
	}
	size, err := strconv.ParseInt(strings.TrimSpace(line), 10, 64)
	if err != nil || size <= 0 {
		return 0, fmt.Errorf("invalid requested size %q", strings.TrimSpace(line))
	}
	return uint64(size), nil
}

// runDemo runs the sample script and destroys the allocator
func runDemo(out io.Writer, allocator *buddy.Allocator, dump bool) error {
	defer allocator.Destroy()

	fmt.Fprintf(out, "Buddy memory of %d bytes, %d levels, leaf size %d\n",
		allocator.Capacity(), allocator.Levels(), buddy.LeafSize)

	step := func() error {
		fmt.Fprintf(out, "Available memory size: %d\n", allocator.Remaining())
		if dump {
			return allocator.Dump(out)
		}
		return nil
	}

	alloc := func(name string, size uint64) (buddy.Address, error) {
		addr, err := allocator.Allocate(size)
		if err != nil {
			fmt.Fprintf(out, "%s allocation of %d bytes failed: %v\n", name, size, err)
		} else {
			fmt.Fprintf(out, "%s: allocated block of %d bytes at offset %d\n",
				name, allocator.BlockSize(addr), addr.Offset())
		}
		return addr, step()
	}

	if _, err := alloc("buddy1", 32); err != nil {
		return err
	}
	buddy2, err := alloc("buddy2", 32)
	if err != nil {
		return err
	}
	if _, err := alloc("buddy3", 15); err != nil {
		return err
	}

	if size := allocator.BlockSize(buddy2); size != 0 {
		allocator.Release(buddy2)
		fmt.Fprintf(out, "buddy2: released block of %d bytes\n", size)
		if err := step(); err != nil {
			return err
		}
	}

	if _, err := alloc("buddy4", 15); err != nil {
		return err
	}
	return nil
}
