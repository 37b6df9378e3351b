// Package render expands raw .side script text as a template before JSON
// parsing. The whole document is the template; a fixed helper vocabulary
// and the caller's parameters are the only inputs.
package render

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"text/template"
	"time"

	"github.com/sidegrid/sidegrid/internal/fault"
)

const alphanumeric = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789"

// Renderer expands script templates. Parameters bind under ".param";
// helpers today, randomInt, randomString, faker, and jsFile are available
// in every render. Stochastic helpers draw from a source fixed at
// construction so tests can pin the output.
type Renderer struct {
	jsDir string

	mu  sync.Mutex
	rng *rand.Rand
}

// Option configures a Renderer.
type Option func(*Renderer)

// WithSeed pins the stochastic helpers to a reproducible sequence.
func WithSeed(seed int64) Option {
	return func(r *Renderer) {
		r.rng = rand.New(rand.NewSource(seed))
	}
}

// New returns a Renderer reading jsFile targets from jsDir.
func New(jsDir string, opts ...Option) *Renderer {
	r := &Renderer{
		jsDir: jsDir,
		rng:   rand.New(rand.NewSource(time.Now().UnixNano())),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// childRNG derives an independent source per render so concurrent renders
// do not contend on the shared one.
func (r *Renderer) childRNG() *rand.Rand {
	r.mu.Lock()
	defer r.mu.Unlock()
	return rand.New(rand.NewSource(r.rng.Int63()))
}

// Render expands raw with the given parameters. Undefined parameters,
// template syntax errors, and helper failures report TemplateRender with
// the engine's source location; a jsFile target that is absent or escapes
// the JavaScript directory reports TemplateResource.
func (r *Renderer) Render(raw []byte, params map[string]string) ([]byte, error) {
	rng := r.childRNG()
	if params == nil {
		params = map[string]string{}
	}

	var resourceErr error
	funcs := template.FuncMap{
		"today": func(layout string) string {
			return time.Now().Format(layout)
		},
		"randomInt": func(min, max int) (int, error) {
			if max < min {
				return 0, fmt.Errorf("randomInt: max %d < min %d", max, min)
			}
			return min + rng.Intn(max-min+1), nil
		},
		"randomString": func(n int) (string, error) {
			if n < 0 {
				return "", fmt.Errorf("randomString: negative length %d", n)
			}
			b := make([]byte, n)
			for i := range b {
				b[i] = alphanumeric[rng.Intn(len(alphanumeric))]
			}
			return string(b), nil
		},
		"faker": func() *Identity {
			return newIdentity(rng)
		},
		"jsFile": func(name string) (string, error) {
			content, err := r.jsFile(name)
			if err != nil {
				resourceErr = err
				return "", err
			}
			return content, nil
		},
	}

	tmpl, err := template.New("script").Funcs(funcs).Option("missingkey=error").Parse(string(raw))
	if err != nil {
		return nil, fault.Wrap(fault.TemplateRender, "parse script template", err)
	}

	var buf bytes.Buffer
	data := map[string]any{"param": params}
	if err := tmpl.Execute(&buf, data); err != nil {
		if resourceErr != nil {
			return nil, resourceErr
		}
		return nil, fault.Wrap(fault.TemplateRender, "render script template", err)
	}
	return buf.Bytes(), nil
}

// jsFile reads a file from the JavaScript directory and returns its
// content JSON-string-escaped, so the injected script cannot break the
// surrounding .side document.
func (r *Renderer) jsFile(name string) (string, error) {
	if r.jsDir == "" {
		return "", fault.New(fault.TemplateResource, "no JavaScript directory configured")
	}

	path := filepath.Join(r.jsDir, name)
	rootAbs, err := filepath.Abs(r.jsDir)
	if err != nil {
		return "", fmt.Errorf("resolve js dir: %w", err)
	}
	pathAbs, err := filepath.Abs(path)
	if err != nil {
		return "", fmt.Errorf("resolve js path: %w", err)
	}
	if pathAbs != rootAbs && !strings.HasPrefix(pathAbs, rootAbs+string(filepath.Separator)) {
		return "", fault.Errorf(fault.TemplateResource, "js file %q escapes the JavaScript directory", name)
	}

	data, err := os.ReadFile(pathAbs)
	if os.IsNotExist(err) {
		return "", fault.Errorf(fault.TemplateResource, "js file %q not found", name)
	}
	if err != nil {
		return "", fmt.Errorf("read js file %q: %w", name, err)
	}
	return jsonEscape(string(data)), nil
}

// jsonEscape encodes s as a JSON string and strips the surrounding quotes.
func jsonEscape(s string) string {
	b, err := json.Marshal(s)
	if err != nil {
		return s
	}
	return string(b[1 : len(b)-1])
}
