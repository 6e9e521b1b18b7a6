package quiplet

import "fmt"

// Relation describes one table and its ordered attribute list.
type Relation struct {
	Name       string   `json:"name" yaml:"name"`
	Attributes []string `json:"attributes" yaml:"attributes"`
}

// Schema is the ordered operator-supplied description of the protected
// database. The order of relations and attributes fixes the vector layout, so
// a schema change invalidates every trained artifact.
type Schema struct {
	Relations []Relation

	relIndex  map[string]int
	attrIndex map[string]map[string]int
}

// NewSchema builds a schema from an ordered relation list.
func NewSchema(relations []Relation) (*Schema, error) {
	if len(relations) == 0 {
		return nil, fmt.Errorf("schema must contain at least one relation")
	}

	s := &Schema{
		Relations: relations,
		relIndex:  make(map[string]int, len(relations)),
		attrIndex: make(map[string]map[string]int, len(relations)),
	}

	for i, rel := range relations {
		if rel.Name == "" {
			return nil, fmt.Errorf("relation %d has no name", i)
		}
		if _, dup := s.relIndex[rel.Name]; dup {
			return nil, fmt.Errorf("duplicate relation %q", rel.Name)
		}
		s.relIndex[rel.Name] = i

		attrs := make(map[string]int, len(rel.Attributes))
		for j, attr := range rel.Attributes {
			if _, dup := attrs[attr]; dup {
				return nil, fmt.Errorf("duplicate attribute %q in relation %q", attr, rel.Name)
			}
			attrs[attr] = j
		}
		s.attrIndex[rel.Name] = attrs
	}

	return s, nil
}

// RelationIndex returns the position of a relation in the vector layout.
func (s *Schema) RelationIndex(name string) (int, bool) {
	i, ok := s.relIndex[name]
	return i, ok
}

// AttributeIndex returns the position of an attribute within its relation.
func (s *Schema) AttributeIndex(rel, attr string) (int, bool) {
	attrs, ok := s.attrIndex[rel]
	if !ok {
		return 0, false
	}
	j, ok := attrs[attr]
	return j, ok
}

// AttributeCount returns the total number of attributes across all relations.
func (s *Schema) AttributeCount() int {
	total := 0
	for _, rel := range s.Relations {
		total += len(rel.Attributes)
	}
	return total
}

// Dimension returns the flattened vector length:
// 1 (command) + 2R (projected/selected relations) + 2*sum(A_r) + F (functions).
func (s *Schema) Dimension() int {
	return 1 + 2*len(s.Relations) + 2*s.AttributeCount() + len(FunctionVocabulary)
}
