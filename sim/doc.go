// Package sim provides the droplet execution engine for a digital microfluidic biochip.
//
// # Reading Guide
//
// Start with these files to understand the engine:
//   - command.go: the Command lifecycle (bypass, request, pre-run, run, finalize, abort)
//   - executor.go: how a command is placed, routed, ticked and finalized
//   - gridview.go: the tick loop and its safety checks
//
// # Architecture
//
// The sim package holds the grid model, commands, planner, router and executor;
// everything else lives in sub-packages:
//   - sim/manager/: serializes many client processes onto one executor goroutine
//   - sim/store/: publishes the global droplet snapshot (in-memory or Redis)
//   - sim/script/: YAML protocol scripts driven through process handles
//   - sim/trace/: placement and tick decision traces
//
// # Key Interfaces
//
//   - Command: one droplet operation; the implementations form a closed set
//   - Sink: the hardware boundary, called once per tick and at finalize time
//
// A GridView commits a tick only when every droplet sits on electrodes, no two
// droplets overlap, and droplets of different collision groups keep a one-cell gap.
package sim
