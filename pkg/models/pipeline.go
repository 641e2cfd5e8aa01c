package models

import (
	"errors"
	"strconv"
	"strings"
	"sync"
)

// PortPlaceholder marks where the companion server port goes in an RTSP pipeline
const PortPlaceholder = "<RTSPPORTNUMBER>"

var (
	// ErrPipelineUnresolved is returned when a templated pipeline is used before its port is known
	ErrPipelineUnresolved = errors.New("pipeline still contains the port placeholder")
	// ErrAlreadyResolved is returned when a pipeline is resolved twice
	ErrAlreadyResolved = errors.New("pipeline already resolved")
)

// PipelineState is the lifecycle state of a pipeline description
type PipelineState string

// PipelineState constants
const (
	PipelineTemplate PipelineState = "template"
	PipelineResolved PipelineState = "resolved"
)

// Pipeline is a textual pipeline description. Pipelines created with
// NewPipelineTemplate hold a port placeholder and only become usable once
// Resolve is called after their companion server is ready.
type Pipeline struct {
	mu       sync.RWMutex
	template string
	resolved string
	state    PipelineState
}

// NewPipeline creates an already resolved pipeline
func NewPipeline(desc string) *Pipeline {
	return &Pipeline{template: desc, resolved: desc, state: PipelineResolved}
}

// NewPipelineTemplate creates a pipeline waiting for a port
func NewPipelineTemplate(desc string) *Pipeline {
	return &Pipeline{template: desc, state: PipelineTemplate}
}

// Template returns the description as generated, placeholder included
func (p *Pipeline) Template() string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.template
}

// State returns the current lifecycle state
func (p *Pipeline) State() PipelineState {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.state
}

// Resolve substitutes the port placeholder. It may only be called once.
func (p *Pipeline) Resolve(port int) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.state == PipelineResolved {
		return ErrAlreadyResolved
	}
	p.resolved = strings.ReplaceAll(p.template, PortPlaceholder, strconv.Itoa(port))
	p.state = PipelineResolved
	return nil
}

// Description returns the resolved description
func (p *Pipeline) Description() (string, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.state != PipelineResolved {
		return "", ErrPipelineUnresolved
	}
	return p.resolved, nil
}
