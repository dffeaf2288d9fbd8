package evidence

import (
	"regexp"
	"strings"

	"verdict/api/schemas"
)

// status5xx matches an HTTP 5xx status code as its own token, so build
// numbers and durations containing "500" do not read as server errors.
var status5xx = regexp.MustCompile(`\b5[0-9]{2}\b`)

// CategorizeFailure maps an error message plus parsed trace onto a failure
// category. The checks run in a fixed order and the first hit wins; the
// order is the point. Cypress wraps element-not-found failures inside
// "Timed out retrying..." messages, so the element phrasing must be probed
// before anything timeout-shaped, and "connection refused" must beat the
// generic network bucket it would otherwise drown in.
func CategorizeFailure(errorMessage string, parsed *schemas.ParsedStackTrace) schemas.FailureCategory {
	var errType string
	text := errorMessage
	if parsed != nil {
		errType = parsed.ErrorType
		text += "\n" + parsed.ErrorMessage
	}
	lower := strings.ToLower(text)

	switch {
	case containsAny(lower,
		"expected to find element",
		"never found it",
		"element not found",
		"could not find element",
		"expected to find content"):
		return schemas.CategoryElementNotFound

	case containsAny(lower, "detached from the dom", "element is detached"):
		return schemas.CategoryDOMDetached

	case containsAny(lower, "internal server error") || status5xx.MatchString(lower):
		return schemas.CategoryServerError

	case containsAny(lower, "connection refused", "econnrefused"):
		return schemas.CategoryNetwork

	case errType == "TimeoutError" || containsAny(lower, "timed out", "timeout"):
		return schemas.CategoryTimeout

	case errType == "AssertionError" || strings.Contains(lower, "assertionerror") ||
		(strings.Contains(lower, "expected") && strings.Contains(lower, " to ")):
		return schemas.CategoryAssertion

	case containsAny(lower,
		"uncaught exception",
		"is not a function",
		"cannot read propert",
		"referenceerror",
		"syntaxerror"):
		return schemas.CategoryScriptError

	case containsAny(lower, "401", "403", "unauthorized", "forbidden"):
		return schemas.CategoryAuthError

	case containsAny(lower, "429", "too many requests", "rate limit"):
		return schemas.CategoryRateLimited

	case strings.Contains(lower, "404"):
		return schemas.CategoryNotFound

	case containsAny(lower,
		"network error",
		"net::err",
		"failed to fetch",
		"econnreset",
		"socket hang up",
		"getaddrinfo"):
		return schemas.CategoryNetwork
	}
	return schemas.CategoryUnknown
}

func containsAny(haystack string, needles ...string) bool {
	for _, n := range needles {
		if strings.Contains(haystack, n) {
			return true
		}
	}
	return false
}
