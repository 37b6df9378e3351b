package webdriver

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/sidegrid/sidegrid/internal/fault"
)

// webElementKey is the W3C wire key carrying an element reference.
const webElementKey = "element-6066-11e4-a52e-4f735466cecf"

// Error is a protocol-level failure reported by the remote end, as
// opposed to a transport failure reaching it.
type Error struct {
	Code    string // W3C error code, e.g. "no such element"
	Message string
	Status  int
}

func (e *Error) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("webdriver: %s (http %d)", e.Code, e.Status)
	}
	return fmt.Sprintf("webdriver: %s: %s", e.Code, e.Message)
}

func errorCode(err error) string {
	var we *Error
	if errors.As(err, &we) {
		return we.Code
	}
	return ""
}

// IsNoSuchElement reports whether err is the remote end failing to locate
// an element.
func IsNoSuchElement(err error) bool { return errorCode(err) == "no such element" }

// IsInvalidSelector reports whether err is the remote end rejecting a
// selector.
func IsInvalidSelector(err error) bool { return errorCode(err) == "invalid selector" }

// IsInvalidSessionID reports whether err means the remote session is gone.
func IsInvalidSessionID(err error) bool { return errorCode(err) == "invalid session id" }

// Client is a W3C WebDriver client bound to one grid hub.
type Client struct {
	baseURL string
	httpc   *http.Client
}

// NewClient returns a client for the hub at baseURL, e.g.
// "http://localhost:4444".
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpc:   &http.Client{Timeout: 2 * time.Minute},
	}
}

type wireError struct {
	Value struct {
		Error   string `json:"error"`
		Message string `json:"message"`
	} `json:"value"`
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var rd io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		rd = bytes.NewReader(buf)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, rd)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json; charset=utf-8")
	}

	resp, err := c.httpc.Do(req)
	if err != nil {
		return fault.Wrap(fault.GridUnreachable, "grid request failed", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fault.Wrap(fault.GridUnreachable, "read grid response", err)
	}

	if resp.StatusCode >= 400 {
		var we wireError
		if jsonErr := json.Unmarshal(data, &we); jsonErr == nil && we.Value.Error != "" {
			return &Error{Code: we.Value.Error, Message: we.Value.Message, Status: resp.StatusCode}
		}
		return &Error{Code: "unknown error", Message: strings.TrimSpace(string(data)), Status: resp.StatusCode}
	}

	if out != nil {
		if err := json.Unmarshal(data, out); err != nil {
			return fmt.Errorf("decode grid response: %w", err)
		}
	}
	return nil
}

// Status queries hub readiness and counts the browser slots its nodes
// advertise.
func (c *Client) Status(ctx context.Context) (*GridStatus, error) {
	var out struct {
		Value struct {
			Ready bool `json:"ready"`
			Nodes []struct {
				Slots []json.RawMessage `json:"slots"`
			} `json:"nodes"`
		} `json:"value"`
	}
	if err := c.do(ctx, http.MethodGet, "/status", nil, &out); err != nil {
		return nil, err
	}
	st := &GridStatus{Ready: out.Value.Ready}
	for _, node := range out.Value.Nodes {
		st.Capacity += len(node.Slots)
	}
	return st, nil
}

// NewSession opens a browser session with the given browser name.
func (c *Client) NewSession(ctx context.Context, browserName string) (Driver, error) {
	body := map[string]any{
		"capabilities": map[string]any{
			"alwaysMatch": map[string]any{"browserName": browserName},
		},
	}
	var out struct {
		Value struct {
			SessionID string `json:"sessionId"`
		} `json:"value"`
	}
	if err := c.do(ctx, http.MethodPost, "/session", body, &out); err != nil {
		return nil, err
	}
	if out.Value.SessionID == "" {
		return nil, &Error{Code: "session not created", Message: "hub returned no session id"}
	}
	return &Session{c: c, id: out.Value.SessionID}, nil
}

// Session is a Driver backed by a remote grid session.
type Session struct {
	c  *Client
	id string
}

func (s *Session) ID() string { return s.id }

func (s *Session) path(parts ...string) string {
	return "/session/" + s.id + "/" + strings.Join(parts, "/")
}

func (s *Session) Navigate(ctx context.Context, url string) error {
	return s.c.do(ctx, http.MethodPost, s.path("url"), map[string]string{"url": url}, nil)
}

func (s *Session) CurrentURL(ctx context.Context) (string, error) {
	var out struct {
		Value string `json:"value"`
	}
	if err := s.c.do(ctx, http.MethodGet, s.path("url"), nil, &out); err != nil {
		return "", err
	}
	return out.Value, nil
}

func (s *Session) PageSource(ctx context.Context) (string, error) {
	var out struct {
		Value string `json:"value"`
	}
	if err := s.c.do(ctx, http.MethodGet, s.path("source"), nil, &out); err != nil {
		return "", err
	}
	return out.Value, nil
}

func (s *Session) FindElement(ctx context.Context, using, value string) (Element, error) {
	body := map[string]string{"using": using, "value": value}
	var out struct {
		Value map[string]string `json:"value"`
	}
	if err := s.c.do(ctx, http.MethodPost, s.path("element"), body, &out); err != nil {
		return nil, err
	}
	id := out.Value[webElementKey]
	if id == "" {
		return nil, &Error{Code: "no such element", Message: "hub returned no element reference"}
	}
	return &element{s: s, id: id}, nil
}

func (s *Session) ExecuteScript(ctx context.Context, script string, args []any) (any, error) {
	if args == nil {
		args = []any{}
	}
	body := map[string]any{"script": script, "args": args}
	var out struct {
		Value any `json:"value"`
	}
	if err := s.c.do(ctx, http.MethodPost, s.path("execute", "sync"), body, &out); err != nil {
		return nil, err
	}
	return out.Value, nil
}

func (s *Session) SetWindowRect(ctx context.Context, width, height int) error {
	body := map[string]int{"width": width, "height": height}
	return s.c.do(ctx, http.MethodPost, s.path("window", "rect"), body, nil)
}

func (s *Session) SetImplicitWait(ctx context.Context, d time.Duration) error {
	body := map[string]int64{"implicit": d.Milliseconds()}
	return s.c.do(ctx, http.MethodPost, s.path("timeouts"), body, nil)
}

func (s *Session) MoveTo(ctx context.Context, el Element) error {
	we, ok := el.(*element)
	if !ok {
		return fmt.Errorf("element does not belong to this session")
	}
	body := map[string]any{
		"actions": []any{
			map[string]any{
				"type":       "pointer",
				"id":         "mouse",
				"parameters": map[string]string{"pointerType": "mouse"},
				"actions": []any{
					map[string]any{
						"type":     "pointerMove",
						"duration": 100,
						"origin":   map[string]string{webElementKey: we.id},
						"x":        0,
						"y":        0,
					},
				},
			},
		},
	}
	return s.c.do(ctx, http.MethodPost, s.path("actions"), body, nil)
}

func (s *Session) Close(ctx context.Context) error {
	return s.c.do(ctx, http.MethodDelete, "/session/"+s.id, nil, nil)
}

type element struct {
	s  *Session
	id string
}

func (e *element) path(parts ...string) string {
	return e.s.path(append([]string{"element", e.id}, parts...)...)
}

func (e *element) Click(ctx context.Context) error {
	return e.s.c.do(ctx, http.MethodPost, e.path("click"), struct{}{}, nil)
}

func (e *element) Clear(ctx context.Context) error {
	return e.s.c.do(ctx, http.MethodPost, e.path("clear"), struct{}{}, nil)
}

func (e *element) SendKeys(ctx context.Context, text string) error {
	return e.s.c.do(ctx, http.MethodPost, e.path("value"), map[string]string{"text": text}, nil)
}

func (e *element) Text(ctx context.Context) (string, error) {
	var out struct {
		Value string `json:"value"`
	}
	if err := e.s.c.do(ctx, http.MethodGet, e.path("text"), nil, &out); err != nil {
		return "", err
	}
	return out.Value, nil
}
