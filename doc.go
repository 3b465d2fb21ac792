// Package kgrader grades kernel and kernel module homework submissions on a
// machine that the submissions themselves may crash.
//
// The grader is restarted on every boot. Everything it needs to continue is
// on disk: the grader state written by Init, the submission queue, the run
// ledger of the test run in progress and the outcomes recorded so far. A case
// that takes the machine down is recorded as a crash on the next boot and the
// run resumes with the following case.
//
// The root package wires the services from a Config:
//
//	cfg, _ := kgrader.LoadConfig(ctx, "/etc/kgrader/config.yaml")
//	srv, _ := kgrader.New(cfg)
//	defer srv.Close()
//	state, err := srv.Run(ctx)
//
// Suites are Go packages registering themselves with service/suite; see
// service/suite/devicecheck for an example.
package kgrader
