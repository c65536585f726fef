// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of cc-messagetree.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Command messagetree-dump is a minimal consumer of the decode
// pipeline. Argument parsing, output formatting and the filter
// expression grammar are all outside the decode library itself; this
// binary exists only to give the pipeline's external contracts one
// concrete, runnable caller.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"

	cclog "github.com/ClusterCockpit/cc-lib/v2/ccLogger"
	"github.com/ClusterCockpit/cc-messagetree/pkg/messagetree"
	"github.com/ClusterCockpit/cc-messagetree/pkg/treedump"
	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"
	"github.com/google/uuid"
)

func main() {
	var path, configFile, filterExpr string
	var limit int
	var threads int

	flag.StringVar(&path, "f", "", "path to a message-tree dump file")
	flag.StringVar(&configFile, "config", "", "path to a pipeline config JSON file")
	flag.StringVar(&filterExpr, "filter", "", "optional expression over {status,type,name,timestamp_in_seconds,duration_in_ms}")
	flag.IntVar(&limit, "limit", 0, "stop after this many trees (0 = unbounded)")
	flag.IntVar(&threads, "threads", 0, "override decoding-threads (0 = use config/default)")
	flag.Parse()

	if path == "" {
		fmt.Fprintln(os.Stderr, "usage: messagetree-dump -f <path> [-config file] [-filter expr] [-limit n]")
		os.Exit(2)
	}

	runID := uuid.NewString()
	cclog.Infof("messagetree-dump[%s]: starting on %s", runID, path)

	if configFile != "" {
		raw, err := os.ReadFile(configFile)
		if err != nil {
			cclog.Errorf("messagetree-dump[%s]: read config: %v", runID, err)
			os.Exit(1)
		}
		if err := treedump.Init(json.RawMessage(raw)); err != nil {
			cclog.Errorf("messagetree-dump[%s]: init config: %v", runID, err)
			os.Exit(1)
		}
	}

	cfg := treedump.Keys
	if threads > 0 {
		cfg.DecodingThreads = threads
	}

	var program *vm.Program
	if filterExpr != "" {
		p, err := expr.Compile(filterExpr, expr.AsBool())
		if err != nil {
			cclog.Errorf("messagetree-dump[%s]: compile filter: %v", runID, err)
			os.Exit(1)
		}
		program = p
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	items, err := treedump.Run(ctx, path, cfg)
	if err != nil {
		cclog.Errorf("messagetree-dump[%s]: %v", runID, err)
		os.Exit(1)
	}

	matched, seen := 0, 0
	var firstErr error
	for item := range items {
		if item.Err != nil {
			if firstErr == nil {
				firstErr = item.Err
			}
			cclog.Errorf("messagetree-dump[%s]: %v", runID, item.Err)
			continue
		}

		seen++
		if program != nil {
			ok, err := matches(program, item.Tree)
			if err != nil {
				cclog.Errorf("messagetree-dump[%s]: evaluate filter: %v", runID, err)
				continue
			}
			if !ok {
				continue
			}
		}

		matched++
		fmt.Printf("%d\t%s\t%s\n", seen, item.Tree.Domain, item.Tree.MessageID)

		if limit > 0 && matched >= limit {
			cancel()
			break
		}
	}

	cclog.Infof("messagetree-dump[%s]: seen=%d matched=%d", runID, seen, matched)
	if firstErr != nil {
		os.Exit(1)
	}
}

// filterEnv builds the variables available to the filter expression:
// status, type and name of the representative message, its timestamp in
// seconds, and (for a transaction) its duration in milliseconds.
func filterEnv(tree *messagetree.MessageTree) map[string]any {
	status, typ, name, tsMs, _ := messagetree.Common(tree.Message)
	var duration uint64
	if t, ok := tree.Message.(*messagetree.Transaction); ok {
		duration = t.DurationInMs
	}

	return map[string]any{
		"status":               status,
		"type":                 typ,
		"name":                 name,
		"timestamp_in_seconds": float64(tsMs) / 1000.0,
		"duration_in_ms":       duration,
	}
}

func matches(program *vm.Program, tree *messagetree.MessageTree) (bool, error) {
	out, err := expr.Run(program, filterEnv(tree))
	if err != nil {
		return false, err
	}
	ok, _ := out.(bool)
	return ok, nil
}
