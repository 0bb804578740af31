// Package monitor is the context object of Gray Logic Monitor.
//
// A Monitor is built once in main. It owns the tag, supervision and command
// caches together with the rule engine, the supervision manager and the
// command service, and it is handed explicitly to every collaborator
// (ingest, persistence, history, api). There is no package-level state.
//
// Start-up order:
//
//	m := monitor.New(cfg, monitor.WithLogger(log), monitor.WithRegisterer(reg))
//	if err := m.LoadAll(ctx, loader); err != nil { ... }
//	if err := m.Start(ctx); err != nil { ... }
//	defer m.Stop()
//
// Source values enter through SubmitValue, which applies the update flow
// policy atomically against the cached tag.
package monitor
