// Package query translates rule conditions into Elasticsearch search bodies.
//
// A rule holds an ordered list of Conditions. Build combines them with a
// half-open time window into a bool/must search request. Conditions marked
// with logic "and" become top-level must clauses; "or" conditions (the
// default) are grouped into a single should clause with
// minimum_should_match=1.
package query

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/pkg/errors" // Wrap errors with context.

	"github.com/mintel/elasticsearch-alerter/pkg/str" // String membership helpers.
)

// Condition is one predicate of a rule.
//
// The config surface is untyped JSON, so Value stays dynamic and
// operator/value compatibility is checked at build time. Both the
// "operator" and legacy "op" spellings are accepted on input.
type Condition struct {
	Field    string      `json:"field"`
	Type     string      `json:"type,omitempty"` // legacy query-type hint, used when no operator is set
	Value    interface{} `json:"value"`
	Operator string      `json:"operator,omitempty"`
	Op       string      `json:"op,omitempty"` // legacy spelling of Operator
	Logic    string      `json:"logic,omitempty"`
}

// Conditions is a list of Condition stored as a JSON column.
type Conditions []Condition

// Value implements driver.Valuer.
func (c Conditions) Value() (driver.Value, error) {
	return json.Marshal(c)
}

// Scan implements sql.Scanner.
func (c *Conditions) Scan(value interface{}) error {
	if value == nil {
		*c = nil
		return nil
	}
	var b []byte
	switch v := value.(type) {
	case []byte:
		b = v
	case string:
		b = []byte(v)
	default:
		return errors.Errorf("cannot scan %T into Conditions", value)
	}
	if len(b) == 0 || string(b) == "null" {
		*c = nil
		return nil
	}
	return json.Unmarshal(b, c)
}

// operator returns the effective operator, preferring the
// primary spelling over the legacy one.
func (c Condition) operator() string {
	if c.Operator != "" {
		return c.Operator
	}
	return c.Op
}

// Build produces the search body for conds over the window [from, to).
//
// The time range is always the first must clause, in UTC. Result ordering
// is ascending by @timestamp. An empty field or an operator outside the
// supported set is an error; the config store accepts arbitrary JSON, so
// this is the layer where bad conditions surface.
func Build(conds Conditions, from, to time.Time) (map[string]interface{}, error) {
	must := []map[string]interface{}{
		{
			"range": map[string]interface{}{
				"@timestamp": map[string]interface{}{
					"gte":    from.UTC().Format(time.RFC3339),
					"lt":     to.UTC().Format(time.RFC3339),
					"format": "strict_date_optional_time",
				},
			},
		},
	}

	var should []map[string]interface{}
	for i, c := range conds {
		clause, err := c.clause()
		if err != nil {
			return nil, errors.Wrapf(err, "condition %d", i)
		}
		switch c.Logic {
		case "and":
			must = append(must, clause)
		default: // "or" and empty both mean or
			should = append(should, clause)
		}
	}
	if len(should) > 0 {
		must = append(must, map[string]interface{}{
			"bool": map[string]interface{}{
				"should":               should,
				"minimum_should_match": 1,
			},
		})
	}

	return map[string]interface{}{
		"query": map[string]interface{}{
			"bool": map[string]interface{}{
				"must": must,
			},
		},
		"sort": []map[string]interface{}{
			{"@timestamp": map[string]interface{}{"order": "asc"}},
		},
	}, nil
}

// clause renders a single condition as a leaf query.
func (c Condition) clause() (map[string]interface{}, error) {
	if c.Field == "" {
		return nil, errors.New("condition field is empty")
	}

	op := c.operator()
	if op == "" {
		return c.legacyClause()
	}

	switch op {
	case "=", "==", "equals":
		return map[string]interface{}{
			"term": map[string]interface{}{c.Field: c.Value},
		}, nil
	case "!=", "not_equals":
		return mustNot(map[string]interface{}{
			"term": map[string]interface{}{c.Field: c.Value},
		}), nil
	case ">", "gt":
		return c.rangeClause("gt"), nil
	case ">=", "gte":
		return c.rangeClause("gte"), nil
	case "<", "lt":
		return c.rangeClause("lt"), nil
	case "<=", "lte":
		return c.rangeClause("lte"), nil
	case "contains":
		return c.containsClause(), nil
	case "not_contains":
		return mustNot(c.containsClause()), nil
	case "exists":
		return map[string]interface{}{
			"exists": map[string]interface{}{"field": c.Field},
		}, nil
	}
	return nil, errors.Errorf("unsupported operator %q", op)
}

// legacyClause handles conditions written against the old query-type
// config shape, before operators were introduced.
func (c Condition) legacyClause() (map[string]interface{}, error) {
	t := c.Type
	if t == "" {
		t = "match_phrase"
	}
	if str.In(t, "match", "match_phrase", "term", "terms", "regexp", "wildcard") {
		return map[string]interface{}{
			t: map[string]interface{}{c.Field: c.Value},
		}, nil
	}
	switch t {
	case "range":
		if m, ok := c.Value.(map[string]interface{}); ok {
			return map[string]interface{}{
				"range": map[string]interface{}{c.Field: m},
			}, nil
		}
		return nil, errors.New("range condition value must be an object")
	case "exists":
		return map[string]interface{}{
			"exists": map[string]interface{}{"field": c.Field},
		}, nil
	}
	return nil, errors.Errorf("unsupported condition type %q", t)
}

func (c Condition) rangeClause(bound string) map[string]interface{} {
	return map[string]interface{}{
		"range": map[string]interface{}{
			c.Field: map[string]interface{}{bound: c.Value},
		},
	}
}

// containsClause matches documents whose field contains the value as a
// literal substring. Wildcard queries work for keyword fields too, unlike
// match_phrase, so string values become a case-insensitive *value*
// wildcard with metacharacters escaped. Non-string values fall back to a
// match query.
func (c Condition) containsClause() map[string]interface{} {
	s, ok := c.Value.(string)
	if !ok {
		return map[string]interface{}{
			"match": map[string]interface{}{c.Field: c.Value},
		}
	}
	return map[string]interface{}{
		"wildcard": map[string]interface{}{
			c.Field: map[string]interface{}{
				"value":            fmt.Sprintf("*%s*", EscapeWildcard(s)),
				"case_insensitive": true,
			},
		},
	}
}

func mustNot(clause map[string]interface{}) map[string]interface{} {
	return map[string]interface{}{
		"bool": map[string]interface{}{
			"must_not": []map[string]interface{}{clause},
		},
	}
}

// EscapeWildcard escapes characters that have special meaning in
// Elasticsearch wildcard queries, so a value matches literally.
//
// See https://www.elastic.co/guide/en/elasticsearch/reference/current/query-dsl-wildcard-query.html
func EscapeWildcard(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	s = strings.ReplaceAll(s, `*`, `\*`)
	s = strings.ReplaceAll(s, `?`, `\?`)
	return s
}
