package memengine

import (
	"strings"

	"github.com/reflective-memory-kernel/internal/graph"
)

// predicateAliases maps the free-text predicate strings an extraction
// call might produce onto the closed EdgeType vocabulary (teacher's
// schema.go enum, extended per SPEC_FULL.md §9 with a few
// companion-specific predicates). Unrecognized predicates fall back to
// EdgeTypeAssociatedWith rather than being dropped — every extracted
// fact becomes an edge, per spec.md §4.F step 3.
var predicateAliases = map[string]graph.EdgeType{
	"partner_is":        graph.EdgeTypePartnerIs,
	"spouse_of":         graph.EdgeTypePartnerIs,
	"family_member":     graph.EdgeTypeFamilyMember,
	"sibling_of":        graph.EdgeTypeFamilyMember,
	"parent_of":         graph.EdgeTypeFamilyMember,
	"friend_of":         graph.EdgeTypeFriendOf,
	"has_manager":       graph.EdgeTypeHasManager,
	"reports_to":        graph.EdgeTypeHasManager,
	"works_on":          graph.EdgeTypeWorksOn,
	"works_at":          graph.EdgeTypeWorksAt,
	"employed_at":       graph.EdgeTypeWorksAt,
	"colleague_of":      graph.EdgeTypeColleague,
	"likes":             graph.EdgeTypeLikes,
	"enjoys":            graph.EdgeTypeLikes,
	"loves":             graph.EdgeTypeLikes,
	"dislikes":          graph.EdgeTypeDislikes,
	"hates":             graph.EdgeTypeDislikes,
	"is_allergic_to":    graph.EdgeTypeIsAllergic,
	"allergic_to":       graph.EdgeTypeIsAllergic,
	"prefers":           graph.EdgeTypePrefers,
	"has_interest":      graph.EdgeTypeHasInterest,
	"interested_in":     graph.EdgeTypeHasInterest,
	"caused_by":         graph.EdgeTypeCausedBy,
	"blocked_by":        graph.EdgeTypeBlockedBy,
	"results_in":        graph.EdgeTypeResultsIn,
	"contradicts":       graph.EdgeTypeContradicts,
	"occurred_on":       graph.EdgeTypeOccurredOn,
	"scheduled_at":      graph.EdgeTypeScheduledAt,
	"knows":             graph.EdgeTypeKnows,
	"has_goal":          graph.EdgeTypeHasGoal,
	"working_towards":   graph.EdgeTypeHasGoal,
	"has_concern":       graph.EdgeTypeHasConcern,
	"worried_about":     graph.EdgeTypeHasConcern,
	"has_focus":         graph.EdgeTypeHasFocus,
}

// resolveEdgeType maps a free-text predicate to the closed EdgeType
// vocabulary, falling back to EdgeTypeAssociatedWith.
func resolveEdgeType(predicate string) graph.EdgeType {
	key := strings.ToLower(strings.TrimSpace(predicate))
	key = strings.ReplaceAll(key, " ", "_")
	if et, ok := predicateAliases[key]; ok {
		return et
	}
	return graph.EdgeTypeAssociatedWith
}
