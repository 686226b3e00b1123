// Command phkv is a one-shot command-line client for the phkv embedded
// store: each invocation mounts the volumes declared on the command line
// (or via DKV-style environment variables), performs one operation, and
// unmounts everything on exit.
//
// This mirrors the teacher's cmd/kv and cmd/lock command groups, minus the
// RPC transport/client layer they sit on -- phkv has no server to dial,
// so the root command builds a lib/store.Store in-process instead of an
// rpc/client.
package main
