// Package playbook defines the step templates used by the planning phase.
// The built-in default profile expands a goal into the canonical
// research / outline / final-output sequence; additional profiles can be
// declared in a YAML definitions file.
package playbook
