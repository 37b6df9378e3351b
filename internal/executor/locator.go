package executor

import (
	"regexp"
	"strings"

	"github.com/sidegrid/sidegrid/internal/fault"
)

// prefixPattern matches the "prefix=" head of a Selenium IDE locator.
// Targets without one (including css selectors that merely contain "=")
// are bare css.
var prefixPattern = regexp.MustCompile(`^([A-Za-z]+)=(.*)$`)

// parseLocator translates a Selenium IDE target into a W3C locator
// strategy and value. Bare targets default to css. Unknown prefixes fail
// with BadLocator.
func parseLocator(target string) (using, value string, err error) {
	m := prefixPattern.FindStringSubmatch(target)
	if m == nil {
		return "css selector", target, nil
	}
	prefix, expr := m[1], m[2]

	switch prefix {
	case "css":
		return "css selector", expr, nil
	case "xpath":
		return "xpath", expr, nil
	case "id":
		return "css selector", `[id="` + escapeAttr(expr) + `"]`, nil
	case "name":
		return "css selector", `[name="` + escapeAttr(expr) + `"]`, nil
	case "linkText":
		return "link text", expr, nil
	case "partialLinkText":
		return "partial link text", expr, nil
	case "tagName":
		return "tag name", expr, nil
	case "className":
		return "css selector", "." + expr, nil
	default:
		return "", "", fault.Errorf(fault.BadLocator, "unknown locator prefix %q in %q", prefix, target)
	}
}

func escapeAttr(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	return strings.ReplaceAll(s, `"`, `\"`)
}
