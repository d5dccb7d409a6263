// Package run manages queued goal executions: durable run state, queue
// transports, the submission service and the worker processor that feeds
// runs to the planning agent.
package run
