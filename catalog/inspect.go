package catalog

import (
	"encoding/json"
	"time"

	"github.com/pkg/errors"
)

// GlobalFacts are server-owned facts folded into the global inspect
// report alongside the catalog's entries.
type GlobalFacts struct {
	Version  string
	Uptime   time.Duration
	Settings map[string]string
}

type globalReport struct {
	Version  string            `json:"version"`
	Uptime   string            `json:"uptime"`
	Settings map[string]string `json:"settings,omitempty"`
	Spaces   []string          `json:"spaces"`
	Users    []string          `json:"users"`
}

type spaceReport struct {
	Name       string            `json:"name"`
	UUID       string            `json:"uuid"`
	Properties map[string]string `json:"properties"`
	Models     []string          `json:"models"`
}

type fieldReport struct {
	Name     string `json:"name"`
	Type     string `json:"type"`
	Nullable bool   `json:"nullable"`
}

type modelReport struct {
	Name       string        `json:"name"`
	Space      string        `json:"space"`
	UUID       string        `json:"uuid"`
	PrimaryKey string        `json:"primary_key"`
	Fields     []fieldReport `json:"fields"`
	Decl       string        `json:"decl"`
	RowCount   int           `json:"row_count"`
}

// InspectGlobal reports the server: spaces, users, and caller facts,
// as a JSON document.
func (c *Catalog) InspectGlobal(facts GlobalFacts) (string, error) {
	var rep = globalReport{
		Version:  facts.Version,
		Uptime:   facts.Uptime.Round(time.Second).String(),
		Settings: facts.Settings,
		Spaces:   c.SpaceNames(),
		Users:    c.UserNames(),
	}
	return marshalReport(rep)
}

// InspectSpace reports the named Space as a JSON document.
func (c *Catalog) InspectSpace(name string) (string, error) {
	c.mu.RLock()
	var sp, err = c.lookupSpace(name)
	var rep spaceReport
	if err == nil {
		rep = spaceReport{
			Name:       sp.Name,
			UUID:       sp.UUID.String(),
			Properties: make(map[string]string, len(sp.props)),
			Models:     sp.modelNamesLocked(),
		}
		for k, v := range sp.props {
			rep.Properties[k] = v.String()
		}
	}
	c.mu.RUnlock()

	if err != nil {
		return "", err
	}
	return marshalReport(rep)
}

// InspectModel reports the named Model's schema and row count as a
// JSON document.
func (c *Catalog) InspectModel(space, model string) (string, error) {
	var m, err = c.LookupModel(space, model)
	if err != nil {
		return "", err
	}
	var fields = m.Fields()
	var rep = modelReport{
		Name:       m.Name,
		Space:      m.Space,
		UUID:       m.UUID.String(),
		PrimaryKey: m.PrimaryKey().Name,
		Fields:     make([]fieldReport, len(fields)),
		Decl:       modelDecl(space, model, fields, m.pk),
		RowCount:   m.RowCount(),
	}
	for i, f := range fields {
		rep.Fields[i] = fieldReport{Name: f.Name, Type: f.Type.String(), Nullable: f.Nullable}
	}
	return marshalReport(rep)
}

// modelDecl reconstructs the model's declaration statement.
func modelDecl(space, model string, fields []Field, pk int) string {
	var decl = "create model " + space + "." + model + "("
	for i, f := range fields {
		if i != 0 {
			decl += ", "
		}
		if i == pk {
			decl += "primary "
		}
		decl += f.Decl()
	}
	return decl + ")"
}

func marshalReport(rep interface{}) (string, error) {
	var b, err = json.Marshal(rep)
	if err != nil {
		return "", errors.Wrap(err, "marshaling inspect report")
	}
	return string(b), nil
}
