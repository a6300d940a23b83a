// Package manifest loads and validates the declarative YAML surface
// (spec.md §6.4): tables, their columns, the events mapped onto them, the
// operations each event triggers, and the network-scoped constant table.
//
// Loading is eager: every expression string anywhere in the manifest
// (filter, where, set value, iterate binding) is parsed at load time, not
// deferred to first use, so a malformed manifest is rejected before the
// indexer ever processes an event (spec.md §4.7: "Expression parse errors
// in the manifest: reject at load time").
package manifest

import "gopkg.in/yaml.v3"

// rawManifest is the top-level YAML document.
type rawManifest struct {
	Tables    []rawTable               `yaml:"tables"`
	Constants map[string]ConstantValue `yaml:"constants"`
}

// rawTable maps one entry of the top-level "tables" list.
type rawTable struct {
	Name       string      `yaml:"name"`
	Global     bool        `yaml:"global"`
	CrossChain bool        `yaml:"cross_chain"`
	Columns    []rawColumn `yaml:"columns"`
	Events     []rawEvent  `yaml:"events"`
}

// rawColumn maps one entry of a table's "columns" list. Type is optional:
// an event mapping may introduce a column purely via its "set"/"where"
// clauses, in which case the declared type is inferred from the resolved
// expression's TV kind at runtime (spec.md §4.6 step 3); when present here
// it pins the column to a specific declared SQL-facing type up front.
type rawColumn struct {
	Name    string `yaml:"name"`
	Type    string `yaml:"type"`
	Default string `yaml:"default"`
}

// rawEvent maps one entry of a table's "events" list.
type rawEvent struct {
	Event      string         `yaml:"event"`
	Iterate    []string       `yaml:"iterate"`
	Operations []rawOperation `yaml:"operations"`
}

// rawOperation maps one entry of an event's "operations" list.
type rawOperation struct {
	Type   string            `yaml:"type"`
	Where  map[string]string `yaml:"where"`
	Filter string            `yaml:"filter"`
	Set    []rawSetClause    `yaml:"set"`
}

// rawSetClause maps one entry of an operation's "set" list.
type rawSetClause struct {
	Column string `yaml:"column"`
	Action string `yaml:"action"`
	Value  string `yaml:"value"`
}

// ConstantValue is either a single literal (applies to every network) or a
// per-network map of literals (spec.md §6.4: "<literal> # or per-network:
// { <network>: <literal>, … }"). yaml.v3 has no tagged-union decode, so this
// implements UnmarshalYAML to sniff which shape the node carries.
type ConstantValue struct {
	Literal      string
	PerNetwork   map[string]string
	IsPerNetwork bool
}

func (c *ConstantValue) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind == yaml.MappingNode {
		var m map[string]string
		if err := node.Decode(&m); err != nil {
			return err
		}
		c.PerNetwork = m
		c.IsPerNetwork = true
		return nil
	}
	var s string
	if err := node.Decode(&s); err != nil {
		return err
	}
	c.Literal = s
	return nil
}

// Resolve returns the constant's value for the given network, or false if
// it is per-network and that network has no entry.
func (c ConstantValue) Resolve(network string) (string, bool) {
	if !c.IsPerNetwork {
		return c.Literal, true
	}
	v, ok := c.PerNetwork[network]
	return v, ok
}
