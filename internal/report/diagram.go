// Package report renders stored runs for people: a mermaid relationship
// diagram and a markdown screening report.
package report

import (
	"fmt"
	"strings"

	"github.com/ppiankov/kycscan/internal/model"
)

// Diagram renders relationships as a mermaid "graph TD" with the target at
// the root, one node per relationship type and the related parties below.
func Diagram(target string, rels []model.Relationship) string {
	var b strings.Builder
	b.WriteString("graph TD\n")
	if len(rels) == 0 {
		b.WriteString("A[\"No relationships found\"]\n")
		return b.String()
	}

	fmt.Fprintf(&b, "Target[\"%s\"]\n", label(target))
	for ti, group := range groupByType(rels) {
		typeID := fmt.Sprintf("Type%d", ti)
		fmt.Fprintf(&b, "%s[\"%s Relationships\"]\n", typeID, title(string(group.typ)))
		fmt.Fprintf(&b, "Target --- %s\n", typeID)
		for ri, rel := range group.rels {
			nodeID := fmt.Sprintf("%s_%d", group.typ, ri)
			fmt.Fprintf(&b, "%s[\"%s\"]\n", nodeID, label(rel.Name))
			fmt.Fprintf(&b, "%s --- %s\n", typeID, nodeID)
		}
	}
	return b.String()
}

type typeGroup struct {
	typ  model.RelationshipType
	rels []model.Relationship
}

// groupByType buckets relationships in display order, skipping empty types
func groupByType(rels []model.Relationship) []typeGroup {
	buckets := make(map[model.RelationshipType][]model.Relationship)
	for _, r := range rels {
		t := model.ParseRelationshipType(string(r.Type))
		buckets[t] = append(buckets[t], r)
	}
	groups := make([]typeGroup, 0, len(buckets))
	for _, t := range model.RelationshipTypes {
		if len(buckets[t]) > 0 {
			groups = append(groups, typeGroup{typ: t, rels: buckets[t]})
		}
	}
	return groups
}

// label makes text safe inside a quoted mermaid node label
func label(s string) string {
	s = strings.Join(strings.Fields(s), " ")
	return strings.ReplaceAll(s, `"`, "#quot;")
}

func title(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}
