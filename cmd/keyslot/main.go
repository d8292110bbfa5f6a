// Package main implements the keyslot command: a hash slot calculator and
// cluster topology planner for slot-sharded key-value clusters.
//
// Commands:
//
//	keyslot slot KEY...                 slot and hash tag per key
//	keyslot colocate KEY...             check that keys share one slot
//	keyslot plan                        print a cluster blueprint
//	keyslot validate FILE               check a blueprint file
//	keyslot locate --blueprint F KEY... owner and replica per key
//	keyslot serve                       run the HTTP API
//
// Every setting can also come from a KEYSLOT_* environment variable
// (KEYSLOT_BASE_PORT for --base-port) or a YAML file given with --config.
//
// Example usage:
//
//	# Plan five owners and bootstrap them with redis-cli
//	keyslot plan --owners 5 --ids sequential > cluster.yaml
//	$(keyslot plan --owners 5 --redis-cli)
//
//	# Which node serves a key?
//	keyslot locate --blueprint cluster.yaml user:123
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		stop()
		os.Exit(1)
	}
}
