// Package bootstrap supervises the lifecycle of external tool providers.
//
// Each provider gets one Manager, which guarantees single-flight
// initialization: no matter how many goroutines call Bootstrap or Client
// concurrently, at most one subprocess is spawned between a bootstrap and
// its matching shutdown, and every caller observes the same outcome. A
// Registry fans bootstrap and shutdown out across all configured managers
// and presents the merged tool catalog to the host.
//
// Managers never retry on their own: a failed provider stays failed until
// an explicit Shutdown followed by a fresh Bootstrap. This keeps failure
// semantics legible; recovery policy belongs to the operator, not to the
// supervisor.
package bootstrap
