// Package agent contains the planning agent at the core of the system. It
// validates free-text goals, expands them into ordered step plans, simulates
// the execution of each step against a configurable success probability, and
// keeps the cumulative execution history used for reporting.
package agent
