// Package derivation computes the causal-graph roots WorkSubmission's first
// step persists into progress. The actual root-computation algorithm is
// treated as an external pure collaborator (§4.5.1 step 1, and excluded from
// this orchestrator's scope by its own non-goals); this package provides the
// stable shape that collaborator is expected to fill, plus a deterministic
// reference implementation suitable for tests and demos.
package derivation

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"github.com/gilbertsahumada/chaoschain-workflow/workflow"
)

// Roots is the output persisted into a WorkSubmission record's progress
// under "thread_root", "evidence_root", and "agent_weights".
type Roots struct {
	ThreadRoot   string             `json:"thread_root"`
	EvidenceRoot string             `json:"evidence_root"`
	AgentWeights map[string]float64 `json:"agent_weights"`
}

// Compute derives Roots from an evidence sequence. The reference
// implementation folds a SHA-256 hash chain over each element's RefHash in
// order for ThreadRoot, hashes the concatenation of all RefHashes for
// EvidenceRoot, and weights each agent by its share of evidence entries.
// A production deployment replaces this with the real causal-graph
// algorithm; the shape (Roots) is the contract callers depend on.
func Compute(evidence []workflow.EvidencePackage) Roots {
	if len(evidence) == 0 {
		return Roots{AgentWeights: map[string]float64{}}
	}

	chain := sha256.Sum256(nil)
	var all []byte
	counts := make(map[string]int)

	for _, e := range evidence {
		chain = sha256.Sum256(append(chain[:], []byte(e.RefHash)...))
		all = append(all, []byte(e.RefHash)...)
		counts[e.AgentAddress]++
	}

	evidenceRoot := sha256.Sum256(all)

	weights := make(map[string]float64, len(counts))
	total := float64(len(evidence))
	for agent, n := range counts {
		weights[agent] = float64(n) / total
	}

	return Roots{
		ThreadRoot:   "0x" + hex.EncodeToString(chain[:]),
		EvidenceRoot: "0x" + hex.EncodeToString(evidenceRoot[:]),
		AgentWeights: weights,
	}
}

// ToProgress flattens Roots into the progress-map shape WorkSubmission's
// first step merges.
func (r Roots) ToProgress() map[string]any {
	weights := make(map[string]any, len(r.AgentWeights))
	for k, v := range r.AgentWeights {
		weights[k] = v
	}
	return map[string]any{
		"thread_root":   r.ThreadRoot,
		"evidence_root": r.EvidenceRoot,
		"agent_weights": weights,
	}
}

// ErrEmptyEvidence is returned by steps that require a non-empty evidence
// sequence before computing roots.
var ErrEmptyEvidence = fmt.Errorf("derivation: evidence sequence is empty")
