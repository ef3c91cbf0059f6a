// Package graph provides the Knowledge Graph schema and client for DGraph.
// This implements the core data structures for the Reflective Memory Kernel.
package graph

import "time"

// NodeType represents the type of a node in the knowledge graph
type NodeType string

const (
	NodeTypeUser         NodeType = "User"
	NodeTypeEntity       NodeType = "Entity"
	NodeTypeEvent        NodeType = "Event"
	NodeTypeInsight      NodeType = "Insight"
	NodeTypePattern      NodeType = "Pattern"
	NodeTypePreference   NodeType = "Preference"
	NodeTypeFact         NodeType = "Fact"
	NodeTypeRule         NodeType = "Rule"
	NodeTypeGroup        NodeType = "Group"
	NodeTypeConversation NodeType = "Conversation"
	NodeTypeEpisode      NodeType = "Episode"
)

// EdgeType represents relationship types between nodes
type EdgeType string

const (
	// Personal relationships
	EdgeTypePartnerIs    EdgeType = "PARTNER_IS"
	EdgeTypeFamilyMember EdgeType = "FAMILY_MEMBER"
	EdgeTypeFriendOf     EdgeType = "FRIEND_OF"

	// Professional relationships
	EdgeTypeHasManager EdgeType = "HAS_MANAGER"
	EdgeTypeWorksOn    EdgeType = "WORKS_ON"
	EdgeTypeWorksAt    EdgeType = "WORKS_AT"
	EdgeTypeColleague  EdgeType = "COLLEAGUE"

	// Preferences and attributes
	EdgeTypeLikes       EdgeType = "LIKES"
	EdgeTypeDislikes    EdgeType = "DISLIKES"
	EdgeTypeIsAllergic  EdgeType = "IS_ALLERGIC_TO"
	EdgeTypePrefers     EdgeType = "PREFERS"
	EdgeTypeHasInterest EdgeType = "HAS_INTEREST"

	// Causal and logical relationships
	EdgeTypeCausedBy    EdgeType = "CAUSED_BY"
	EdgeTypeBlockedBy   EdgeType = "BLOCKED_BY"
	EdgeTypeResultsIn   EdgeType = "RESULTS_IN"
	EdgeTypeContradicts EdgeType = "CONTRADICTS"

	// Temporal relationships
	EdgeTypeOccurredOn  EdgeType = "OCCURRED_ON"
	EdgeTypeScheduledAt EdgeType = "SCHEDULED_AT"

	// Meta relationships
	EdgeTypeDerivedFrom EdgeType = "DERIVED_FROM"
	EdgeTypeSynthesized EdgeType = "SYNTHESIZED_FROM"
	EdgeTypeSupersedes  EdgeType = "SUPERSEDES"

	// Knowledge relationships (User to entities)
	EdgeTypeKnows EdgeType = "KNOWS"

	// Episode linkage: an Episode MENTIONS the Entities appearing in it,
	// used for episode backfill during retrieval.
	EdgeTypeMentions EdgeType = "MENTIONS"

	// Companion-specific additions to the closed predicate vocabulary.
	EdgeTypeHasFocus       EdgeType = "HAS_FOCUS"
	EdgeTypeHasGoal        EdgeType = "HAS_GOAL"
	EdgeTypeHasConcern     EdgeType = "HAS_CONCERN"
	EdgeTypeAssociatedWith EdgeType = "ASSOCIATED_WITH" // fallback when no curated predicate fits
)

// EdgeStatus represents the current status of a relationship
type EdgeStatus string

const (
	EdgeStatusCurrent  EdgeStatus = "current"
	EdgeStatusArchived EdgeStatus = "archived"
	EdgeStatusPending  EdgeStatus = "pending"
)

// FunctionalEdges are edges where only one "current" value is valid
// e.g., a person can only have one current manager
var FunctionalEdges = map[EdgeType]bool{
	EdgeTypeHasManager: true,
	EdgeTypePartnerIs:  true,
	EdgeTypeWorksAt:    true,
}

// Node represents a node in the knowledge graph
// Node represents a node in the knowledge graph
type Node struct {
	UID         string            `json:"uid,omitempty"`
	DType       []string          `json:"dgraph.type,omitempty"`
	Name        string            `json:"name,omitempty"`
	Description string            `json:"description,omitempty"`
	Tags        []string          `json:"tags,omitempty"`
	Attributes  map[string]string `json:"attributes,omitempty"`

	// Temporal metadata
	CreatedAt    time.Time `json:"created_at,omitempty"`
	UpdatedAt    time.Time `json:"updated_at,omitempty"`
	LastAccessed time.Time `json:"last_accessed,omitempty"`

	// Activation for dynamic prioritization
	Activation  float64 `json:"activation,omitempty"`
	AccessCount int64   `json:"access_count,omitempty"`

	// Source tracking
	SourceConversationID string  `json:"source_conversation_id,omitempty"`
	Confidence           float64 `json:"confidence,omitempty"`
	Namespace            string  `json:"namespace,omitempty"` // "user_<UUID>" or "group_<UUID>"

	// UserID partitions every node by owner. The query helpers in
	// bitemporal.go filter on this predicate; Client.GetNode and
	// Client.NodeName look a node up by uid alone and do not check it.
	UserID string `json:"user_id,omitempty"`
}

// GetType returns the primary type of the node
func (n *Node) GetType() NodeType {
	if len(n.DType) > 0 {
		return NodeType(n.DType[0])
	}
	return ""
}

// SetType sets the primary type of the node
func (n *Node) SetType(t NodeType) {
	n.DType = []string{string(t)}
}

