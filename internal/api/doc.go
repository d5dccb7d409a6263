// Package api exposes the REST surface of the PlanPilot daemon: run
// submission and inspection, aggregate statistics, and the step history
// endpoints consumed by the SDK.
package api
