package render

import (
	"encoding/json"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/sidegrid/sidegrid/internal/fault"
)

func mustRender(t *testing.T, r *Renderer, raw string, params map[string]string) string {
	t.Helper()
	out, err := r.Render([]byte(raw), params)
	if err != nil {
		t.Fatalf("Render: %v", err)
	}
	return string(out)
}

func TestRenderParams(t *testing.T) {
	r := New("")
	out := mustRender(t, r, `{"user":"{{ .param.user }}","pw":"{{ .param.password }}"}`, map[string]string{
		"user":     "tester",
		"password": "hunter2",
	})
	want := `{"user":"tester","pw":"hunter2"}`
	if out != want {
		t.Fatalf("rendered %q, want %q", out, want)
	}
}

func TestRenderUndefinedParam(t *testing.T) {
	r := New("")
	_, err := r.Render([]byte(`hello {{ .param.missing }}`), map[string]string{"user": "tester"})
	if fault.KindOf(err) != fault.TemplateRender {
		t.Fatalf("kind = %v, want TemplateRender (err = %v)", fault.KindOf(err), err)
	}
	if !strings.Contains(err.Error(), "missing") {
		t.Fatalf("error should name the missing key: %v", err)
	}
}

func TestRenderNilParams(t *testing.T) {
	r := New("")
	out := mustRender(t, r, `static text`, nil)
	if out != "static text" {
		t.Fatalf("rendered %q", out)
	}
}

func TestRenderSyntaxError(t *testing.T) {
	r := New("")
	for _, raw := range []string{
		`{{ .param.user`,
		`{{ bogusHelper }}`,
		`{{ if }}`,
	} {
		_, err := r.Render([]byte(raw), nil)
		if fault.KindOf(err) != fault.TemplateRender {
			t.Errorf("Render(%q) kind = %v, want TemplateRender", raw, fault.KindOf(err))
		}
	}
}

func TestRenderErrorCarriesLocation(t *testing.T) {
	r := New("")
	_, err := r.Render([]byte("line one\n{{ .param.nope }}"), nil)
	if err == nil {
		t.Fatal("expected error")
	}
	if !strings.Contains(err.Error(), "script:2") {
		t.Fatalf("error should carry the template location: %v", err)
	}
}

func TestRenderToday(t *testing.T) {
	r := New("")
	out := mustRender(t, r, `{{ today "2006" }}`, nil)
	if want := time.Now().Format("2006"); out != want {
		t.Fatalf("today rendered %q, want %q", out, want)
	}
}

func TestRenderRandomIntRange(t *testing.T) {
	r := New("", WithSeed(7))
	if out := mustRender(t, r, `{{ randomInt 5 5 }}`, nil); out != "5" {
		t.Fatalf("degenerate range rendered %q", out)
	}
	for i := 0; i < 20; i++ {
		out := mustRender(t, r, `{{ randomInt 1 3 }}`, nil)
		n, err := strconv.Atoi(out)
		if err != nil {
			t.Fatalf("non-numeric output %q", out)
		}
		if n < 1 || n > 3 {
			t.Fatalf("randomInt 1 3 produced %d", n)
		}
	}
	if _, err := r.Render([]byte(`{{ randomInt 3 1 }}`), nil); fault.KindOf(err) != fault.TemplateRender {
		t.Fatalf("inverted range kind = %v, want TemplateRender", fault.KindOf(err))
	}
}

func TestRenderRandomString(t *testing.T) {
	r := New("", WithSeed(7))
	out := mustRender(t, r, `{{ randomString 12 }}`, nil)
	if len(out) != 12 {
		t.Fatalf("randomString 12 produced %d bytes: %q", len(out), out)
	}
	if !regexp.MustCompile(`^[A-Za-z0-9]+$`).MatchString(out) {
		t.Fatalf("randomString produced non-alphanumeric output %q", out)
	}
}

func TestRenderSeedDeterminism(t *testing.T) {
	const raw = `{{ randomString 16 }} {{ randomInt 0 1000000 }} {{ (faker).Email }}`

	a := mustRender(t, New("", WithSeed(42)), raw, nil)
	b := mustRender(t, New("", WithSeed(42)), raw, nil)
	if a != b {
		t.Fatalf("same seed diverged:\n%s\n%s", a, b)
	}

	c := mustRender(t, New("", WithSeed(43)), raw, nil)
	if a == c {
		t.Fatalf("different seeds produced identical output %q", a)
	}
}

func TestRenderWithoutStochasticHelpersIsStable(t *testing.T) {
	r := New("")
	raw := `{"url":"{{ .param.url }}","note":"plain"}`
	params := map[string]string{"url": "https://example.test"}
	a := mustRender(t, r, raw, params)
	b := mustRender(t, r, raw, params)
	if a != b {
		t.Fatalf("render without stochastic helpers diverged:\n%s\n%s", a, b)
	}
}

func TestRenderFakerFields(t *testing.T) {
	r := New("", WithSeed(1))
	out := mustRender(t, r, `{{ $f := faker }}{{ $f.Name }}|{{ $f.Email }}|{{ $f.Phone }}|{{ $f.City }}`, nil)
	parts := strings.Split(out, "|")
	if len(parts) != 4 {
		t.Fatalf("unexpected faker output %q", out)
	}
	if parts[0] == "" || parts[3] == "" {
		t.Fatalf("empty name or city in %q", out)
	}
	if !strings.Contains(parts[1], "@") {
		t.Fatalf("email %q missing @", parts[1])
	}
	if !regexp.MustCompile(`^010-\d{4}-\d{4}$`).MatchString(parts[2]) {
		t.Fatalf("phone %q not in 010-XXXX-XXXX form", parts[2])
	}
}

func TestJSFileInjection(t *testing.T) {
	dir := t.TempDir()
	script := "alert(\"hi\");\nreturn 1;"
	if err := os.WriteFile(filepath.Join(dir, "snippet.js"), []byte(script), 0o644); err != nil {
		t.Fatal(err)
	}

	r := New(dir)
	out := mustRender(t, r, `{"script":"{{ jsFile "snippet.js" }}"}`, nil)

	var doc struct {
		Script string `json:"script"`
	}
	if err := json.Unmarshal([]byte(out), &doc); err != nil {
		t.Fatalf("injected output is not valid JSON: %v\n%s", err, out)
	}
	if doc.Script != script {
		t.Fatalf("script round-trip mismatch: %q != %q", doc.Script, script)
	}
}

func TestJSFileMissing(t *testing.T) {
	r := New(t.TempDir())
	_, err := r.Render([]byte(`{{ jsFile "nope.js" }}`), nil)
	if fault.KindOf(err) != fault.TemplateResource {
		t.Fatalf("kind = %v, want TemplateResource (err = %v)", fault.KindOf(err), err)
	}
}

func TestJSFileTraversalRejected(t *testing.T) {
	root := t.TempDir()
	jsDir := filepath.Join(root, "js")
	if err := os.MkdirAll(jsDir, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(root, "secret.js"), []byte("leak()"), 0o644); err != nil {
		t.Fatal(err)
	}

	r := New(jsDir)
	_, err := r.Render([]byte(`{{ jsFile "../secret.js" }}`), nil)
	if fault.KindOf(err) != fault.TemplateResource {
		t.Fatalf("kind = %v, want TemplateResource (err = %v)", fault.KindOf(err), err)
	}
}

func TestJSFileSubdirectoryAllowed(t *testing.T) {
	jsDir := t.TempDir()
	if err := os.MkdirAll(filepath.Join(jsDir, "lib"), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(jsDir, "lib", "util.js"), []byte("x()"), 0o644); err != nil {
		t.Fatal(err)
	}

	r := New(jsDir)
	out := mustRender(t, r, `{{ jsFile "lib/util.js" }}`, nil)
	if out != "x()" {
		t.Fatalf("rendered %q", out)
	}
}
