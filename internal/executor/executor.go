// Package executor translates recorded script commands into WebDriver
// actions. One Executor drives one run on one browser session; the
// variable scope written by storeText and executeScript lives for the run
// and dies with it.
package executor

import (
	"context"
	"fmt"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/sidegrid/sidegrid/internal/fault"
	"github.com/sidegrid/sidegrid/internal/side"
	"github.com/sidegrid/sidegrid/internal/webdriver"
)

// loadPollInterval paces document.readyState checks after clickAndWait.
const loadPollInterval = 100 * time.Millisecond

// varPattern matches ${name} references in command fields.
var varPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// Executor runs commands against a single browser session.
type Executor struct {
	drv          webdriver.Driver
	baseURL      string
	implicitWait time.Duration
	vars         map[string]string
}

// New returns an Executor for one run. baseURL is the script project's
// default URL, used to resolve relative open targets. implicitWait bounds
// element lookups and the clickAndWait load poll.
func New(drv webdriver.Driver, baseURL string, implicitWait time.Duration) *Executor {
	return &Executor{
		drv:          drv,
		baseURL:      baseURL,
		implicitWait: implicitWait,
		vars:         map[string]string{},
	}
}

// RunTest executes every command of t in order, stopping at the first
// failure.
func (e *Executor) RunTest(ctx context.Context, t *side.Test) error {
	for i := range t.Commands {
		if err := e.Run(ctx, &t.Commands[i]); err != nil {
			return err
		}
	}
	return nil
}

// Run executes one command. Errors carry the command id and the phase
// that failed, and keep their kind when one is already assigned.
func (e *Executor) Run(ctx context.Context, cmd *side.Command) error {
	target, err := e.substitute(cmd.Target)
	if err != nil {
		return e.fail(cmd, "expand target", err)
	}
	value, err := e.substitute(cmd.Value)
	if err != nil {
		return e.fail(cmd, "expand value", err)
	}

	switch cmd.Command {
	case "open":
		dest, err := e.resolveURL(target)
		if err != nil {
			return e.fail(cmd, "resolve url", err)
		}
		if err := e.drv.Navigate(ctx, dest); err != nil {
			return e.fail(cmd, "navigate", err)
		}
		return nil

	case "click":
		el, err := e.find(ctx, target)
		if err != nil {
			return e.fail(cmd, "locate", err)
		}
		if err := el.Click(ctx); err != nil {
			return e.fail(cmd, "interact", err)
		}
		return nil

	case "clickAndWait":
		el, err := e.find(ctx, target)
		if err != nil {
			return e.fail(cmd, "locate", err)
		}
		if err := el.Click(ctx); err != nil {
			return e.fail(cmd, "interact", err)
		}
		if err := e.waitForLoad(ctx); err != nil {
			return e.fail(cmd, "wait for load", err)
		}
		return nil

	case "type":
		el, err := e.find(ctx, target)
		if err != nil {
			return e.fail(cmd, "locate", err)
		}
		if err := el.Clear(ctx); err != nil {
			return e.fail(cmd, "interact", err)
		}
		if err := el.SendKeys(ctx, value); err != nil {
			return e.fail(cmd, "interact", err)
		}
		return nil

	case "sendKeys":
		el, err := e.find(ctx, target)
		if err != nil {
			return e.fail(cmd, "locate", err)
		}
		if err := el.SendKeys(ctx, expandKeys(value)); err != nil {
			return e.fail(cmd, "interact", err)
		}
		return nil

	case "pause":
		ms := strings.TrimSpace(target)
		if ms == "" {
			ms = strings.TrimSpace(value)
		}
		n, err := strconv.Atoi(ms)
		if err != nil || n < 0 {
			return e.fail(cmd, "parse duration", fmt.Errorf("pause wants milliseconds, got %q", ms))
		}
		select {
		case <-ctx.Done():
			return e.fail(cmd, "pause", ctx.Err())
		case <-time.After(time.Duration(n) * time.Millisecond):
			return nil
		}

	case "mouseOver":
		el, err := e.find(ctx, target)
		if err != nil {
			return e.fail(cmd, "locate", err)
		}
		if err := e.drv.MoveTo(ctx, el); err != nil {
			return e.fail(cmd, "interact", err)
		}
		return nil

	case "setWindowSize":
		w, h, err := parseWindowSize(target)
		if err != nil {
			return e.fail(cmd, "parse size", err)
		}
		if err := e.drv.SetWindowRect(ctx, w, h); err != nil {
			return e.fail(cmd, "interact", err)
		}
		return nil

	case "assertText":
		el, err := e.find(ctx, target)
		if err != nil {
			return e.fail(cmd, "locate", err)
		}
		text, err := el.Text(ctx)
		if err != nil {
			return e.fail(cmd, "interact", err)
		}
		if text != value {
			return e.fail(cmd, "assert", fault.Errorf(fault.AssertionFailed,
				"text of %s is %q, want %q", target, text, value))
		}
		return nil

	case "assertElementPresent":
		if _, err := e.find(ctx, target); err != nil {
			if webdriver.IsNoSuchElement(err) {
				return e.fail(cmd, "assert", fault.Wrap(fault.AssertionFailed,
					"element "+target+" not present", err))
			}
			return e.fail(cmd, "locate", err)
		}
		return nil

	case "storeText":
		if value == "" {
			return e.fail(cmd, "bind", fmt.Errorf("storeText needs a variable name in value"))
		}
		el, err := e.find(ctx, target)
		if err != nil {
			return e.fail(cmd, "locate", err)
		}
		text, err := el.Text(ctx)
		if err != nil {
			return e.fail(cmd, "interact", err)
		}
		e.vars[value] = text
		return nil

	case "executeScript":
		res, err := e.drv.ExecuteScript(ctx, target, nil)
		if err != nil {
			return e.fail(cmd, "script", err)
		}
		if value != "" {
			e.vars[value] = stringify(res)
		}
		return nil

	default:
		return fault.Errorf(fault.CommandFailed, "command %s: unsupported command %q", cmd.ID, cmd.Command)
	}
}

// fail decorates err with the command id and phase. Already-kinded errors
// keep their kind; everything else becomes CommandFailed.
func (e *Executor) fail(cmd *side.Command, phase string, err error) error {
	kind := fault.KindOf(err)
	if kind == fault.Unknown {
		kind = fault.CommandFailed
	}
	return fault.Wrap(kind, fmt.Sprintf("command %s (%s) %s", cmd.ID, cmd.Command, phase), err)
}

// substitute expands ${name} references from the run's variable scope.
// ${KEY_*} tokens are left for sendKeys to expand. An undefined name
// fails with UnboundVariable.
func (e *Executor) substitute(s string) (string, error) {
	var missing string
	out := varPattern.ReplaceAllStringFunc(s, func(m string) string {
		name := m[2 : len(m)-1]
		if strings.HasPrefix(name, "KEY_") {
			return m
		}
		if v, ok := e.vars[name]; ok {
			return v
		}
		if missing == "" {
			missing = name
		}
		return m
	})
	if missing != "" {
		return "", fault.Errorf(fault.UnboundVariable, "variable ${%s} is not bound", missing)
	}
	return out, nil
}

// expandKeys replaces ${KEY_*} tokens with WebDriver key codepoints.
// Unknown key names stay literal.
func expandKeys(s string) string {
	return varPattern.ReplaceAllStringFunc(s, func(m string) string {
		name := m[2 : len(m)-1]
		if !strings.HasPrefix(name, "KEY_") {
			return m
		}
		if cp, ok := webdriver.Key(strings.TrimPrefix(name, "KEY_")); ok {
			return cp
		}
		return m
	})
}

// find resolves target and locates the element, letting the driver's
// implicit wait bound the lookup.
func (e *Executor) find(ctx context.Context, target string) (webdriver.Element, error) {
	using, value, err := parseLocator(target)
	if err != nil {
		return nil, err
	}
	el, err := e.drv.FindElement(ctx, using, value)
	if err != nil {
		if webdriver.IsInvalidSelector(err) {
			return nil, fault.Wrap(fault.BadLocator, "selector "+target+" rejected by driver", err)
		}
		return nil, err
	}
	return el, nil
}

// resolveURL resolves target against the project base URL when relative.
func (e *Executor) resolveURL(target string) (string, error) {
	ref, err := url.Parse(target)
	if err != nil {
		return "", fmt.Errorf("parse url %q: %w", target, err)
	}
	if ref.IsAbs() || e.baseURL == "" {
		return target, nil
	}
	base, err := url.Parse(e.baseURL)
	if err != nil {
		return "", fmt.Errorf("parse base url %q: %w", e.baseURL, err)
	}
	return base.ResolveReference(ref).String(), nil
}

// waitForLoad polls document.readyState until the page reports complete,
// bounded by the implicit wait budget.
func (e *Executor) waitForLoad(ctx context.Context) error {
	deadline := time.Now().Add(e.implicitWait)
	for {
		res, err := e.drv.ExecuteScript(ctx, "return document.readyState;", nil)
		if err != nil {
			if fault.KindOf(err) == fault.GridUnreachable {
				return err
			}
		} else if s, ok := res.(string); ok && s == "complete" {
			return nil
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("page did not reach readyState complete within %s", e.implicitWait)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(loadPollInterval):
		}
	}
}

func parseWindowSize(target string) (int, int, error) {
	sep := "x"
	if strings.Contains(target, ",") {
		sep = ","
	}
	parts := strings.SplitN(target, sep, 2)
	if len(parts) != 2 {
		return 0, 0, fmt.Errorf("window size wants WxH, got %q", target)
	}
	w, err := strconv.Atoi(strings.TrimSpace(parts[0]))
	if err != nil {
		return 0, 0, fmt.Errorf("window width %q: %w", parts[0], err)
	}
	h, err := strconv.Atoi(strings.TrimSpace(parts[1]))
	if err != nil {
		return 0, 0, fmt.Errorf("window height %q: %w", parts[1], err)
	}
	return w, h, nil
}

// stringify renders a script result for variable binding. Null results
// bind as the empty string.
func stringify(v any) string {
	if v == nil {
		return ""
	}
	if f, ok := v.(float64); ok && f == float64(int64(f)) {
		return strconv.FormatInt(int64(f), 10)
	}
	return fmt.Sprint(v)
}
