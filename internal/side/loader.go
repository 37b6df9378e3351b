package side

import (
	"encoding/json"

	"github.com/sidegrid/sidegrid/internal/fault"
)

// sideDocument mirrors the subset of the Selenium IDE schema the runtime
// needs. Keys outside this subset (urls, plugins, version, snapshot) are
// ignored. Unknown command names are accepted here and rejected only when
// executed.
type sideDocument struct {
	ID     string   `json:"id"`
	Name   string   `json:"name"`
	URL    string   `json:"url"`
	Tests  []*Test  `json:"tests"`
	Suites []*Suite `json:"suites"`
}

// Load parses a rendered .side JSON document into a Project.
//
// Structural problems (invalid JSON, missing ids, duplicate test ids, no
// suites) report MalformedScript. A suite referencing a test id that does
// not exist in the project reports InvalidReference.
func Load(data []byte) (*Project, error) {
	var doc sideDocument
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fault.Wrap(fault.MalformedScript, "parse side document", err)
	}

	if len(doc.Suites) == 0 {
		return nil, fault.New(fault.MalformedScript, "side document has no suites")
	}

	byID := make(map[string]*Test, len(doc.Tests))
	for _, t := range doc.Tests {
		if t == nil || t.ID == "" {
			return nil, fault.New(fault.MalformedScript, "test entry missing id")
		}
		if _, dup := byID[t.ID]; dup {
			return nil, fault.Errorf(fault.MalformedScript, "duplicate test id %q", t.ID)
		}
		byID[t.ID] = t
	}

	for _, s := range doc.Suites {
		if s == nil {
			return nil, fault.New(fault.MalformedScript, "null suite entry")
		}
		for _, ref := range s.Tests {
			if _, ok := byID[ref]; !ok {
				return nil, fault.Errorf(fault.InvalidReference, "suite %q references unknown test %q", s.Name, ref)
			}
		}
	}

	return &Project{
		ID:     doc.ID,
		Name:   doc.Name,
		URL:    doc.URL,
		Tests:  doc.Tests,
		Suites: doc.Suites,
		byID:   byID,
	}, nil
}
