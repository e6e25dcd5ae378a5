// Package orchestrator runs queries end to end.
//
// The Supervisor drives a run through a fixed state machine:
//
//	initializing -> planning -> executing -> aggregating -> completed
//
// with error reachable from every non-terminal phase. Planning is
// delegated to the planner, team invocation to the capability registry and
// persistence to the run journal. Every phase transition writes a delta to
// the journal, so an interrupted run can be continued with Resume.
//
// Teams in one parallel group run concurrently and never see the RunState;
// their envelopes are merged on the supervisor's control path once every
// sibling has settled.
//
// Example usage:
//
//	sup := orchestrator.New(orchestrator.RequiredConfig{
//		Planner:  p,
//		Registry: reg,
//		Journal:  journal,
//	}, orchestrator.WithLogger(logger))
//	rs, err := sup.RunQuery(ctx, "compare solar and wind", "", orchestrator.DefaultContextOptions())
package orchestrator
