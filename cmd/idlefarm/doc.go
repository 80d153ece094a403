// Package main hosts the idlefarm CLI entrypoint and command graph.
//
// The Cobra command tree translates terminal invocations into IPC calls
// against idlefarmd: starting and stopping farms, reading status, following
// the live log stream, and browsing run history. Configuration resolution and
// socket discovery live here so subcommands only render results.
package main
