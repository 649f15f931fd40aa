// Package action defines the capability abstraction the Agent facade
// registers by name and executors invoke by name: a versioned unit of
// behavior (speak, listen, alert, watch, ...) with its own lifecycle.
package action

import "fmt"

// Metadata describes an Action for discovery and diagnostics.
type Metadata struct {
	Name         string
	Version      string
	Description  string
	Dependencies []string
	Capabilities []string
	Author       string
}

// Context carries everything an Action needs to run one invocation: the
// caller-supplied input, a shared-data bag actions within the same chain
// can read and write, and static configuration.
type Context struct {
	AgentState any
	InputData  any
	SharedData map[string]any
	Config     map[string]any
}

// Result is what an Action invocation produces.
type Result struct {
	Success     bool
	Output      any
	Metadata    map[string]any
	NextActions []string
	Err         error
}

// Action is a registered, named capability. Initialize is called once at
// registration time; Execute may be called many times; Cleanup runs at
// unregistration or shutdown.
type Action interface {
	Initialize(config map[string]any) error
	Execute(ctx Context) (Result, error)
	Cleanup() error
	GetMetadata() Metadata
}

// Base provides the initialized/metadata bookkeeping every concrete Action
// embeds instead of reimplementing.
type Base struct {
	initialized bool
	metadata    Metadata
}

// NewBase builds a Base carrying metadata.
func NewBase(metadata Metadata) Base {
	return Base{metadata: metadata}
}

// IsInitialized reports whether Initialize has run.
func (b *Base) IsInitialized() bool { return b.initialized }

// MarkInitialized flips the initialized flag; concrete actions call this at
// the end of their own Initialize.
func (b *Base) MarkInitialized() { b.initialized = true }

// GetMetadata implements Action.
func (b *Base) GetMetadata() Metadata { return b.metadata }

// ErrNotInitialized is returned by actions asked to execute before
// Initialize has run.
func ErrNotInitialized(name string) error {
	return fmt.Errorf("action %q not initialized", name)
}
