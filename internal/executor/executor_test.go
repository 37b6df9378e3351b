package executor

import (
	"context"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/sidegrid/sidegrid/internal/fault"
	"github.com/sidegrid/sidegrid/internal/side"
	"github.com/sidegrid/sidegrid/internal/webdriver"
)

type fakeElement struct {
	d    *fakeDriver
	name string
	text string
	val  string
}

func (e *fakeElement) Click(ctx context.Context) error {
	e.d.actions = append(e.d.actions, "click "+e.name)
	return nil
}

func (e *fakeElement) Clear(ctx context.Context) error {
	e.d.actions = append(e.d.actions, "clear "+e.name)
	e.val = ""
	return nil
}

func (e *fakeElement) SendKeys(ctx context.Context, text string) error {
	e.d.actions = append(e.d.actions, "keys "+e.name+" "+text)
	e.val += text
	return nil
}

func (e *fakeElement) Text(ctx context.Context) (string, error) {
	return e.text, nil
}

type fakeDriver struct {
	elements     map[string]*fakeElement
	scripts      map[string]any
	actions      []string
	loadingPolls int
	readyPolls   int
}

func newFakeDriver() *fakeDriver {
	return &fakeDriver{
		elements: map[string]*fakeElement{},
		scripts:  map[string]any{},
	}
}

func (d *fakeDriver) addElement(using, value, text string) *fakeElement {
	el := &fakeElement{d: d, name: value, text: text}
	d.elements[using+"|"+value] = el
	return el
}

func (d *fakeDriver) ID() string { return "fake-1" }

func (d *fakeDriver) Navigate(ctx context.Context, url string) error {
	d.actions = append(d.actions, "navigate "+url)
	return nil
}

func (d *fakeDriver) CurrentURL(ctx context.Context) (string, error) { return "about:blank", nil }

func (d *fakeDriver) PageSource(ctx context.Context) (string, error) {
	return "<html>fake</html>", nil
}

func (d *fakeDriver) FindElement(ctx context.Context, using, value string) (webdriver.Element, error) {
	d.actions = append(d.actions, "find "+using+"|"+value)
	if el, ok := d.elements[using+"|"+value]; ok {
		return el, nil
	}
	return nil, &webdriver.Error{Code: "no such element", Message: value, Status: 404}
}

func (d *fakeDriver) ExecuteScript(ctx context.Context, script string, args []any) (any, error) {
	d.actions = append(d.actions, "script "+script)
	if script == "return document.readyState;" {
		d.readyPolls++
		if d.readyPolls <= d.loadingPolls {
			return "loading", nil
		}
		return "complete", nil
	}
	if res, ok := d.scripts[script]; ok {
		return res, nil
	}
	return nil, nil
}

func (d *fakeDriver) SetWindowRect(ctx context.Context, width, height int) error {
	d.actions = append(d.actions, "rect "+strconv.Itoa(width)+"x"+strconv.Itoa(height))
	return nil
}

func (d *fakeDriver) SetImplicitWait(ctx context.Context, wait time.Duration) error { return nil }

func (d *fakeDriver) MoveTo(ctx context.Context, el webdriver.Element) error {
	fe := el.(*fakeElement)
	d.actions = append(d.actions, "move "+fe.name)
	return nil
}

func (d *fakeDriver) Close(ctx context.Context) error { return nil }

func (d *fakeDriver) hasAction(want string) bool {
	for _, a := range d.actions {
		if a == want {
			return true
		}
	}
	return false
}

func run(t *testing.T, ex *Executor, cmd side.Command) error {
	t.Helper()
	if cmd.ID == "" {
		cmd.ID = "c1"
	}
	return ex.Run(context.Background(), &cmd)
}

func mustRun(t *testing.T, ex *Executor, cmd side.Command) {
	t.Helper()
	if err := run(t, ex, cmd); err != nil {
		t.Fatalf("%s: %v", cmd.Command, err)
	}
}

func TestOpenResolvesRelativeTarget(t *testing.T) {
	d := newFakeDriver()
	ex := New(d, "https://example.test/app/", time.Second)

	mustRun(t, ex, side.Command{Command: "open", Target: "login"})
	if !d.hasAction("navigate https://example.test/app/login") {
		t.Fatalf("actions = %v", d.actions)
	}

	mustRun(t, ex, side.Command{Command: "open", Target: "/root"})
	if !d.hasAction("navigate https://example.test/root") {
		t.Fatalf("actions = %v", d.actions)
	}

	mustRun(t, ex, side.Command{Command: "open", Target: "https://other.test/x"})
	if !d.hasAction("navigate https://other.test/x") {
		t.Fatalf("actions = %v", d.actions)
	}
}

func TestTypeClearsBeforeSending(t *testing.T) {
	d := newFakeDriver()
	el := d.addElement("css selector", `[id="u"]`, "")
	ex := New(d, "", time.Second)

	mustRun(t, ex, side.Command{Command: "type", Target: "id=u", Value: "alice"})

	if !d.hasAction(`clear [id="u"]`) || !d.hasAction(`keys [id="u"] alice`) {
		t.Fatalf("actions = %v", d.actions)
	}
	if el.val != "alice" {
		t.Fatalf("element value = %q", el.val)
	}
}

func TestSendKeysExpandsKeyTokens(t *testing.T) {
	d := newFakeDriver()
	el := d.addElement("css selector", `[id="q"]`, "")
	ex := New(d, "", time.Second)

	mustRun(t, ex, side.Command{Command: "sendKeys", Target: "id=q", Value: "alice${KEY_ENTER}"})
	if el.val != "alice" {
		t.Fatalf("element value = %q, want trailing ENTER codepoint", el.val)
	}

	el.val = ""
	mustRun(t, ex, side.Command{Command: "sendKeys", Target: "id=q", Value: "${KEY_WARP}"})
	if el.val != "${KEY_WARP}" {
		t.Fatalf("unknown key token should stay literal, got %q", el.val)
	}
}

func TestStoreTextBindsVariable(t *testing.T) {
	d := newFakeDriver()
	d.addElement("css selector", "#greeting", "Bob")
	input := d.addElement("css selector", `[id="u"]`, "")
	ex := New(d, "", time.Second)

	mustRun(t, ex, side.Command{Command: "storeText", Target: "css=#greeting", Value: "who"})
	mustRun(t, ex, side.Command{Command: "type", Target: "id=u", Value: "${who}!"})

	if input.val != "Bob!" {
		t.Fatalf("typed %q, want Bob!", input.val)
	}
}

func TestUnboundVariableStopsBeforeDriver(t *testing.T) {
	d := newFakeDriver()
	d.addElement("css selector", `[id="u"]`, "")
	ex := New(d, "", time.Second)

	err := run(t, ex, side.Command{ID: "c7", Command: "type", Target: "id=u", Value: "${nope}"})
	if fault.KindOf(err) != fault.UnboundVariable {
		t.Fatalf("kind = %v, want UnboundVariable (err = %v)", fault.KindOf(err), err)
	}
	if !strings.Contains(err.Error(), "c7") {
		t.Fatalf("error should carry the command id: %v", err)
	}
	if len(d.actions) != 0 {
		t.Fatalf("driver touched despite unbound variable: %v", d.actions)
	}
}

func TestAssertText(t *testing.T) {
	d := newFakeDriver()
	d.addElement("css selector", "#msg", "Welcome back")
	ex := New(d, "", time.Second)

	mustRun(t, ex, side.Command{Command: "assertText", Target: "css=#msg", Value: "Welcome back"})

	err := run(t, ex, side.Command{Command: "assertText", Target: "css=#msg", Value: "Goodbye"})
	if fault.KindOf(err) != fault.AssertionFailed {
		t.Fatalf("kind = %v, want AssertionFailed (err = %v)", fault.KindOf(err), err)
	}
	if !strings.Contains(err.Error(), "Welcome back") || !strings.Contains(err.Error(), "Goodbye") {
		t.Fatalf("assertion error should show got and want: %v", err)
	}
}

func TestAssertElementPresent(t *testing.T) {
	d := newFakeDriver()
	d.addElement("css selector", "#there", "")
	ex := New(d, "", time.Second)

	mustRun(t, ex, side.Command{Command: "assertElementPresent", Target: "css=#there"})

	err := run(t, ex, side.Command{Command: "assertElementPresent", Target: "css=#ghost"})
	if fault.KindOf(err) != fault.AssertionFailed {
		t.Fatalf("kind = %v, want AssertionFailed (err = %v)", fault.KindOf(err), err)
	}
}

func TestClickMissingElementIsCommandFailed(t *testing.T) {
	d := newFakeDriver()
	ex := New(d, "", time.Second)

	err := run(t, ex, side.Command{ID: "c3", Command: "click", Target: "css=#ghost"})
	if fault.KindOf(err) != fault.CommandFailed {
		t.Fatalf("kind = %v, want CommandFailed (err = %v)", fault.KindOf(err), err)
	}
	if !strings.Contains(err.Error(), "c3") || !strings.Contains(err.Error(), "locate") {
		t.Fatalf("error should carry command id and phase: %v", err)
	}
}

func TestUnknownLocatorPrefix(t *testing.T) {
	d := newFakeDriver()
	ex := New(d, "", time.Second)

	err := run(t, ex, side.Command{Command: "click", Target: "dom=document.forms[0]"})
	if fault.KindOf(err) != fault.BadLocator {
		t.Fatalf("kind = %v, want BadLocator (err = %v)", fault.KindOf(err), err)
	}
}

func TestBareTargetIsCSS(t *testing.T) {
	d := newFakeDriver()
	d.addElement("css selector", "#go", "")
	ex := New(d, "", time.Second)

	mustRun(t, ex, side.Command{Command: "click", Target: "#go"})
	mustRun(t, ex, side.Command{Command: "click", Target: "css=#go"})

	clicks := 0
	for _, a := range d.actions {
		if a == "click #go" {
			clicks++
		}
	}
	if clicks != 2 {
		t.Fatalf("bare and css= targets should address the same element, actions = %v", d.actions)
	}
}

func TestClickAndWaitPollsUntilComplete(t *testing.T) {
	d := newFakeDriver()
	d.addElement("css selector", `[id="go"]`, "")
	d.loadingPolls = 2
	ex := New(d, "", 2*time.Second)

	mustRun(t, ex, side.Command{Command: "clickAndWait", Target: "id=go"})

	if !d.hasAction(`click [id="go"]`) {
		t.Fatalf("actions = %v", d.actions)
	}
	if d.readyPolls != 3 {
		t.Fatalf("readyState polled %d times, want 3", d.readyPolls)
	}
}

func TestPauseUsesValueWhenTargetEmpty(t *testing.T) {
	d := newFakeDriver()
	ex := New(d, "", time.Second)

	start := time.Now()
	mustRun(t, ex, side.Command{Command: "pause", Target: "", Value: "30"})
	if elapsed := time.Since(start); elapsed < 30*time.Millisecond {
		t.Fatalf("pause returned after %s, want >= 30ms", elapsed)
	}

	err := run(t, ex, side.Command{Command: "pause", Target: "soon"})
	if fault.KindOf(err) != fault.CommandFailed {
		t.Fatalf("kind = %v, want CommandFailed (err = %v)", fault.KindOf(err), err)
	}
}

func TestSetWindowSize(t *testing.T) {
	d := newFakeDriver()
	ex := New(d, "", time.Second)

	mustRun(t, ex, side.Command{Command: "setWindowSize", Target: "1280x800"})
	if !d.hasAction("rect 1280x800") {
		t.Fatalf("actions = %v", d.actions)
	}

	err := run(t, ex, side.Command{Command: "setWindowSize", Target: "banana"})
	if fault.KindOf(err) != fault.CommandFailed {
		t.Fatalf("kind = %v, want CommandFailed (err = %v)", fault.KindOf(err), err)
	}
}

func TestExecuteScriptBindsResult(t *testing.T) {
	d := newFakeDriver()
	d.scripts["return 2 + 3;"] = float64(5)
	input := d.addElement("css selector", `[id="sum"]`, "")
	ex := New(d, "", time.Second)

	mustRun(t, ex, side.Command{Command: "executeScript", Target: "return 2 + 3;", Value: "total"})
	mustRun(t, ex, side.Command{Command: "type", Target: "id=sum", Value: "${total}"})

	if input.val != "5" {
		t.Fatalf("typed %q, want 5", input.val)
	}
}

func TestMouseOver(t *testing.T) {
	d := newFakeDriver()
	d.addElement("css selector", ".menu", "")
	ex := New(d, "", time.Second)

	mustRun(t, ex, side.Command{Command: "mouseOver", Target: "css=.menu"})
	if !d.hasAction("move .menu") {
		t.Fatalf("actions = %v", d.actions)
	}
}

func TestUnsupportedCommand(t *testing.T) {
	d := newFakeDriver()
	ex := New(d, "", time.Second)

	err := run(t, ex, side.Command{ID: "c9", Command: "frobnicate", Target: "x"})
	if fault.KindOf(err) != fault.CommandFailed {
		t.Fatalf("kind = %v, want CommandFailed (err = %v)", fault.KindOf(err), err)
	}
	if !strings.Contains(err.Error(), "frobnicate") {
		t.Fatalf("error should name the command: %v", err)
	}
}

func TestRunTestStopsAtFirstFailure(t *testing.T) {
	d := newFakeDriver()
	d.addElement("css selector", "#first", "")
	ex := New(d, "", time.Second)

	test := &side.Test{
		ID:   "t1",
		Name: "halts",
		Commands: []side.Command{
			{ID: "c1", Command: "click", Target: "css=#first"},
			{ID: "c2", Command: "click", Target: "css=#missing"},
			{ID: "c3", Command: "click", Target: "css=#first"},
		},
	}

	err := ex.RunTest(context.Background(), test)
	if fault.KindOf(err) != fault.CommandFailed {
		t.Fatalf("kind = %v (err = %v)", fault.KindOf(err), err)
	}

	clicks := 0
	for _, a := range d.actions {
		if a == "click #first" {
			clicks++
		}
	}
	if clicks != 1 {
		t.Fatalf("commands after the failure must not run, actions = %v", d.actions)
	}
}
