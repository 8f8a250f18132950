package validation

import "regexp"

// Failure signatures the loop can classify. The set is deliberately small:
// the knowledge base is keyed by these names.
const (
	SignatureMissingDependency = "missing-dependency"
	SignatureTypeMismatch      = "type-mismatch"
	SignatureAssertionFailure  = "assertion-failure"
	SignatureTimeout           = "timeout"
	SignatureLintViolation     = "lint-violation"
	SignatureUnknown           = "unknown"
)

var signaturePatterns = []struct {
	signature string
	pattern   *regexp.Regexp
}{
	{SignatureMissingDependency, regexp.MustCompile(`(?i)(command not found|no such file or directory|cannot find (package|module)|module .+ not found|unresolved import)`)},
	{SignatureTypeMismatch, regexp.MustCompile(`(?i)(type mismatch|cannot use .+ as .+ value|incompatible types?|has no field or method)`)},
	{SignatureAssertionFailure, regexp.MustCompile(`(?i)(--- FAIL|assertionerror|assertion failed|expected .+ (but )?got)`)},
	{SignatureLintViolation, regexp.MustCompile(`(?i)(lint(er)? (error|violation|failed)|gofmt|not properly formatted|style violation)`)},
}

// Classify maps a stage's captured output to a failure signature. Timed-out
// stages are classified by the caller before the output is consulted, since
// a killed process's partial output proves nothing.
func Classify(output string) string {
	for _, entry := range signaturePatterns {
		if entry.pattern.MatchString(output) {
			return entry.signature
		}
	}
	return SignatureUnknown
}
