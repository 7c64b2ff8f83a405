package model

import (
	"sync/atomic"

	"github.com/viewmill/viewmill/internal/ids"
)

// Provider resolves the current Views for a processor identity. A nil
// result means no model has been installed yet; callers must treat that as
// "not ready", not as an error.
type Provider interface {
	Views(ProcessorID) *Views
	CurrentVersion(ids.TenantID) ids.ChainedVersion
}

// SwapProvider holds the active model behind a single atomically
// replaceable pointer. Readers always observe one complete version; a
// concurrent Install is either fully visible or not at all.
type SwapProvider struct {
	current atomic.Pointer[Views]
}

// NewSwapProvider creates an empty provider. Views returns nil until the
// first Install.
func NewSwapProvider() *SwapProvider {
	return &SwapProvider{}
}

// Install replaces the active model for all subsequent resolutions. This
// is the model-push operation.
func (p *SwapProvider) Install(v *Views) {
	p.current.Store(v)
}

// Views implements Provider.
func (p *SwapProvider) Views(ProcessorID) *Views {
	return p.current.Load()
}

// CurrentVersion implements Provider. Zero until a model is installed.
func (p *SwapProvider) CurrentVersion(ids.TenantID) ids.ChainedVersion {
	if v := p.current.Load(); v != nil {
		return v.Version()
	}
	return ids.ChainedVersion{}
}
