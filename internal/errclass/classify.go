// Package errclass collapses free-form generator and network failures into a
// closed set of kinds callers can branch on.
package errclass

import (
	"strings"

	"github.com/rs/zerolog"
	"golang.org/x/text/cases"
)

// Kind is a user-facing error category.
type Kind string

const (
	InsufficientCredits   Kind = "INSUFFICIENT_CREDITS"
	SafetyPolicyViolation Kind = "SAFETY_POLICY_VIOLATION"
	GenericBackendError   Kind = "GENERIC_BACKEND_ERROR"
)

// UserMessage is the only text ever shown to an end user for a kind.
func (k Kind) UserMessage() string {
	switch k {
	case InsufficientCredits:
		return "You do not have enough credits for this generation."
	case SafetyPolicyViolation:
		return "The request was rejected by the content policy. Try a different image or description."
	default:
		return "Generation failed due to a temporary problem. Please try again."
	}
}

var insufficientMarkers = []string{
	"insufficient credits",
	"insufficient_credits",
}

// The upstream generator reports content rejections, upload failures and
// argument validation under ambiguous codes; all of them land here.
var safetyMarkers = []string{
	"safety",
	"block",
	"prohibited",
	"upload failed",
	"failed to upload",
	"invalid argument",
	"invalid_argument",
	"400",
	"aspect ratio",
	"aspect_ratio",
}

// Classifier logs raw diagnostics and maps them to a Kind.
type Classifier struct {
	logger zerolog.Logger
}

func New(logger zerolog.Logger) *Classifier {
	return &Classifier{logger: logger}
}

// Classify logs raw at debug level and returns its Kind.
func (c *Classifier) Classify(raw string) Kind {
	kind := Classify(raw)
	c.logger.Debug().Str("raw_error", raw).Str("kind", string(kind)).Msg("errclass: classified")
	return kind
}

// Classify applies the ordered rule set to raw.
func Classify(raw string) Kind {
	msg := strings.TrimSpace(raw)
	if msg == "" {
		return GenericBackendError
	}
	// Casers hold state, so each call gets its own.
	msg = cases.Fold().String(msg)
	if containsAny(msg, insufficientMarkers) {
		return InsufficientCredits
	}
	if containsAny(msg, safetyMarkers) {
		return SafetyPolicyViolation
	}
	return GenericBackendError
}

func containsAny(s string, markers []string) bool {
	for _, m := range markers {
		if strings.Contains(s, m) {
			return true
		}
	}
	return false
}
