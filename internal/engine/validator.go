package engine

import "solsniper/internal/types"

// ValidatorPipeline is the opaque extension hook called at step 3.5 of the
// per-candidate pipeline, after the rate limiter and before the guard CAS
// (spec §9 Design Notes). It may reject a candidate the rate limiter
// already let through — e.g. a future ZK-proof validator, a DID/provenance
// check, or a multi-DEX eligibility filter — without the engine core
// depending on any of those concrete, research-stage features.
type ValidatorPipeline interface {
	Validate(candidate types.Candidate) error
}

// AllowAll is the default ValidatorPipeline: the identity, approving every
// candidate (spec §9: "the default ValidatorPipeline is the identity").
type AllowAll struct{}

func (AllowAll) Validate(types.Candidate) error { return nil }

var _ ValidatorPipeline = AllowAll{}
