package workflow

import "strings"

// Classification is the four-valued taxonomy §7 maps adapter errors into.
type Classification string

const (
	Transient  Classification = "TRANSIENT"
	Recoverable Classification = "RECOVERABLE"
	Permanent  Classification = "PERMANENT"
	Unknown    Classification = "UNKNOWN"
)

// permanentSubstrings are revert-reason / error-message fragments that mark
// a protocol-level failure: never retried, immediately FAILED.
var permanentSubstrings = []string{
	"epoch closed",
	"not authorized",
	"not a validator",
	"no work",
	"commit mismatch",
	"reveal window closed",
	"agent not registered",
}

// recoverableSubstrings mark failures that are retried and often resolve on
// their own after reconciliation (e.g. a nonce race against another tx from
// the same signer).
var recoverableSubstrings = []string{
	"nonce too low",
	"insufficient storage funding",
	"insufficient funds",
}

// transientSubstrings mark infrastructure-level failures: retried with
// backoff, STALLED after max attempts.
var transientSubstrings = []string{
	"timeout",
	"network",
	"unreachable",
	"connection refused",
	"temporarily unavailable",
	"service unavailable",
}

// idempotentSuccessSubstrings signal that a revert actually means the
// intended effect already happened -- §7's "idempotent success on revert".
// The list is unexported; steps and reconciliation rule ladders (which apply
// the same test to revert reasons) share it through IsIdempotentSuccess.
var idempotentSuccessSubstrings = []string{
	"already",
	"registered",
	"already submitted",
}

// classify maps an error's message onto the four-valued taxonomy by
// substring matching, per §7 and §9's "exceptions as classification input"
// note. It is the single authority other packages defer to; nothing else in
// this module re-implements this matching.
func classify(err error) Classification {
	if err == nil {
		return Unknown
	}
	msg := strings.ToLower(err.Error())

	for _, s := range permanentSubstrings {
		if strings.Contains(msg, s) {
			return Permanent
		}
	}
	for _, s := range recoverableSubstrings {
		if strings.Contains(msg, s) {
			return Recoverable
		}
	}
	for _, s := range transientSubstrings {
		if strings.Contains(msg, s) {
			return Transient
		}
	}
	return Unknown
}

// IsIdempotentSuccess reports whether a chain revert reason indicates the
// intended on-chain effect had already happened -- the re-attempt should be
// treated as success, not failure.
func IsIdempotentSuccess(revertReason string) bool {
	msg := strings.ToLower(revertReason)
	for _, s := range idempotentSuccessSubstrings {
		if strings.Contains(msg, s) {
			return true
		}
	}
	return false
}

// Classify is the exported form of classify, used by step executors in the
// worksubmission/scoresubmission/closeepoch packages to turn an adapter
// error into a StepOutcome.
func Classify(err error) Classification {
	return classify(err)
}
