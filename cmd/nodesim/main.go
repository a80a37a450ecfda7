package main

// nodesim runs exactly one command through the Core Executor in an
// isolated, throwaway process and exits. It exists so a test can drive
// spec.md §8's "handler crash" scenarios literally: a genuine unrecovered
// Go panic terminating a real OS process, observed by the parent test as
// a non-zero exit and nothing written to stdout — the closest Go
// equivalent to the original test harness's "Empty response" assertion,
// since a real process death can't be reproduced inside the test binary's
// own process.

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"

	"github.com/sirgallo/cmdcore/pkg/blacklist"
	"github.com/sirgallo/cmdcore/pkg/clock"
	"github.com/sirgallo/cmdcore/pkg/command"
	"github.com/sirgallo/cmdcore/pkg/db"
	"github.com/sirgallo/cmdcore/pkg/executor"
	"github.com/sirgallo/cmdcore/pkg/roleoracle"
)

func main() {
	methodLine := flag.String("method", "Status", "methodLine to run")
	userID := flag.String("user", "", "userID header")
	dataDir := flag.String("datadir", "", "embedded database data directory")
	primary := flag.Bool("primary", true, "whether this simulated node is MASTERING")
	flag.Parse()

	if *dataDir == "" {
		fmt.Fprintln(os.Stderr, "nodesim: -datadir is required")
		os.Exit(2)
	}

	role := roleoracle.Waiting
	if *primary {
		role = roleoracle.Mastering
	}
	oracle := roleoracle.NewStateOracle("nodesim", role)

	database, err := db.NewBoltDatabase(*dataDir, "nodesim.db", oracle)
	if err != nil {
		fmt.Fprintln(os.Stderr, "nodesim: unable to open database:", err.Error())
		os.Exit(2)
	}
	defer database.Close()

	bl := blacklist.New()
	registry := executor.NewHandlerRegistry()
	registry.Register("Status", executor.NewStatusHandler(oracle, nil, *dataDir))
	registry.Register("dieinpeek", executor.DieInPeekHandler{})
	registry.Register("dieinprocess", executor.DieInProcessHandler{})
	registry.SetFallback(executor.NewGenericHandler(database))

	exec := executor.NewExecutor(registry, bl, oracle)

	clk := clock.NewSystemClock()
	req := map[string]string{}
	if *userID != "" {
		req[command.HeaderUserID] = *userID
	}
	cmd := command.NewCommand("nodesim-1", *methodLine, req, clk)

	runCommand(context.Background(), exec, database, cmd)

	out, _ := json.Marshal(cmd.Response)
	fmt.Println(string(out))
}

func runCommand(_ context.Context, exec *executor.Executor, database db.Database, cmd *command.Command) {
	complete, err := exec.PeekCommand(cmd)
	if err != nil {
		fmt.Fprintln(os.Stderr, "nodesim: peek error:", err.Error())
		os.Exit(1)
	}
	if complete {
		return
	}

	if !database.IsPrimary() {
		fmt.Fprintln(os.Stderr, "nodesim: not primary, cannot process")
		os.Exit(1)
	}

	tx, err := database.BeginTransaction()
	if err != nil {
		fmt.Fprintln(os.Stderr, "nodesim: begin transaction failed:", err.Error())
		os.Exit(1)
	}

	modified, err := exec.ProcessCommand(cmd, tx)
	if err != nil {
		tx.Rollback()
		fmt.Fprintln(os.Stderr, "nodesim: process error:", err.Error())
		os.Exit(1)
	}

	if modified {
		if commitErr := tx.Commit(); commitErr != nil {
			fmt.Fprintln(os.Stderr, "nodesim: commit failed:", commitErr.Error())
			os.Exit(1)
		}
	} else {
		tx.Rollback()
	}
}
