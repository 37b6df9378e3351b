// Package side models Selenium IDE .side documents: a project of tests
// grouped into suites, where each test is an ordered command sequence.
package side

// Command is one recorded step of a test.
type Command struct {
	ID      string `json:"id"`
	Command string `json:"command"`
	Target  string `json:"target"`
	Value   string `json:"value"`
	Comment string `json:"comment,omitempty"`
}

// Test is a named, ordered sequence of commands.
type Test struct {
	ID       string    `json:"id"`
	Name     string    `json:"name"`
	Commands []Command `json:"commands"`
}

// Suite groups tests by id reference. Parallel is recorded as metadata
// only; execution is always sequential.
type Suite struct {
	ID             string   `json:"id"`
	Name           string   `json:"name"`
	PersistSession bool     `json:"persistSession"`
	Parallel       bool     `json:"parallel"`
	Timeout        int      `json:"timeout,omitempty"`
	Tests          []string `json:"tests"`
}

// Project is a parsed .side document. It is immutable after Load.
type Project struct {
	ID     string
	Name   string
	URL    string
	Tests  []*Test
	Suites []*Suite

	byID map[string]*Test
}

// Test returns the test with the given id.
func (p *Project) Test(id string) (*Test, bool) {
	t, ok := p.byID[id]
	return t, ok
}

// TestByName returns the first test whose name matches exactly.
func (p *Project) TestByName(name string) (*Test, bool) {
	for _, t := range p.Tests {
		if t.Name == name {
			return t, true
		}
	}
	return nil, false
}

// SuiteByName returns the first suite whose name matches exactly.
func (p *Project) SuiteByName(name string) (*Suite, bool) {
	for _, s := range p.Suites {
		if s.Name == name {
			return s, true
		}
	}
	return nil, false
}

// SuiteTests resolves a suite's test references in suite order.
func (p *Project) SuiteTests(s *Suite) []*Test {
	tests := make([]*Test, 0, len(s.Tests))
	for _, id := range s.Tests {
		if t, ok := p.byID[id]; ok {
			tests = append(tests, t)
		}
	}
	return tests
}
