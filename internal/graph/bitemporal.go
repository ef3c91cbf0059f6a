package graph

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/dgraph-io/dgo/v240/protos/api"
	"go.uber.org/zap"
)

// CurrentEdge is an edge together with the endpoint node names, as
// returned by QueryCurrentEdges.
type CurrentEdge struct {
	UID       string    `json:"uid"`
	Type      EdgeType  `json:"edge_type"`
	FromUID   string    `json:"from_uid"`
	ToUID     string    `json:"to_uid"`
	ToName    string    `json:"to_name"`
	Fact      string    `json:"fact,omitempty"`
	ValidFrom time.Time `json:"valid_from"`
	EpisodeUID string   `json:"episode_uid,omitempty"`
}

// AddEdge writes a bi-temporal edge fromUID -> toUID of the given type,
// tagged with userID and carrying the natural-language factText that
// justifies it. If a functional edge of this type already exists and
// is current, or exclusive is true, it is invalidated (valid_until set
// to the new edge's valid_from) rather than deleted — contradictions
// are recorded, never erased. exclusive lets a caller (the memory
// engine's per-fact contradiction check) force invalidation for an
// edge_type outside the static FunctionalEdges set, since whether a
// given predicate is exclusive for a subject can depend on the fact's
// own phrasing ("my favorite fruit is now X") rather than its type.
func (c *Client) AddEdge(ctx context.Context, userID, fromUID, toUID string, edgeType EdgeType, factText string, exclusive bool, validFrom time.Time) (string, error) {
	predicateName := edgeTypeToPredicateName(edgeType)

	if FunctionalEdges[edgeType] || exclusive {
		if err := c.invalidateCurrentEdge(ctx, userID, fromUID, edgeType, validFrom); err != nil {
			return "", fmt.Errorf("failed to invalidate prior edge: %w", err)
		}
	}

	txn := c.dg.NewTxn()
	defer txn.Discard(ctx)

	blank := fmt.Sprintf("_:edge_%d", time.Now().UnixNano())
	var nquads strings.Builder
	fmt.Fprintf(&nquads, "%s <dgraph.type> \"EdgeRecord\" .\n", blank)
	fmt.Fprintf(&nquads, "%s <user_id> %q .\n", blank, userID)
	fmt.Fprintf(&nquads, "%s <edge_type> %q .\n", blank, string(edgeType))
	if factText != "" {
		fmt.Fprintf(&nquads, "%s <fact> %q .\n", blank, factText)
	}
	fmt.Fprintf(&nquads, "%s <from_node> <%s> .\n", blank, fromUID)
	fmt.Fprintf(&nquads, "%s <to_node> <%s> .\n", blank, toUID)
	fmt.Fprintf(&nquads, "%s <status> %q .\n", blank, string(EdgeStatusCurrent))
	fmt.Fprintf(&nquads, "%s <created_at> \"%s\"^^<xs:dateTime> .\n", blank, time.Now().Format(time.RFC3339))
	fmt.Fprintf(&nquads, "%s <valid_from> \"%s\"^^<xs:dateTime> .\n", blank, validFrom.Format(time.RFC3339))
	fmt.Fprintf(&nquads, "<%s> <%s> <%s> .\n", fromUID, predicateName, toUID)

	mu := &api.Mutation{SetNquads: []byte(nquads.String()), CommitNow: true}
	resp, err := txn.Mutate(ctx, mu)
	if err != nil {
		return "", fmt.Errorf("failed to create bi-temporal edge: %w", err)
	}
	uid := resp.Uids[blank[2:]]

	c.logger.Debug("edge recorded",
		zap.String("type", string(edgeType)),
		zap.String("from", fromUID),
		zap.String("to", toUID))
	return uid, nil
}

// invalidateCurrentEdge sets valid_until on the current EdgeRecord for
// (userID, fromUID, edgeType), if one exists. It never issues a
// DelNquads — the old fact stays in the graph, just no longer current.
func (c *Client) invalidateCurrentEdge(ctx context.Context, userID, fromUID string, edgeType EdgeType, invalidAt time.Time) error {
	query := `query Existing($from: string, $uid: string, $type: string) {
		records(func: uid($from)) @filter(eq(user_id, $uid)) {
			~from_node @filter(eq(edge_type, $type) AND eq(status, "current")) {
				uid
			}
		}
	}`
	vars := map[string]string{"$from": fromUID, "$uid": userID, "$type": string(edgeType)}
	resp, err := c.dg.NewReadOnlyTxn().QueryWithVars(ctx, query, vars)
	if err != nil {
		return err
	}

	var result struct {
		Records []struct {
			Reverse []struct {
				UID string `json:"uid"`
			} `json:"~from_node"`
		} `json:"records"`
	}
	if err := json.Unmarshal(resp.Json, &result); err != nil {
		return err
	}
	if len(result.Records) == 0 {
		return nil
	}

	txn := c.dg.NewTxn()
	defer txn.Discard(ctx)
	for _, rec := range result.Records {
		for _, old := range rec.Reverse {
			nquad := fmt.Sprintf(`
				<%s> <valid_until> "%s"^^<xs:dateTime> .
				<%s> <status> "%s" .
			`, old.UID, invalidAt.Format(time.RFC3339), old.UID, EdgeStatusArchived)
			mu := &api.Mutation{SetNquads: []byte(nquad), CommitNow: true}
			if _, err := txn.Mutate(ctx, mu); err != nil {
				return err
			}
		}
	}
	return nil
}

// CreateEpisode stores a source episode (one ingested turn's worth of
// extraction) tagged with userID, for later MENTIONS backfill.
func (c *Client) CreateEpisode(ctx context.Context, userID, name, description string, occurredAt time.Time) (string, error) {
	episode := &Node{
		Name:                 name,
		Description:          description,
		UserID:               userID,
		SourceConversationID: name,
	}
	episode.SetType(NodeTypeEpisode)
	return c.CreateNode(ctx, episode)
}

// LinkMention records that episodeUID mentions entityUID, for episode
// backfill during retrieval.
func (c *Client) LinkMention(ctx context.Context, episodeUID, entityUID string) error {
	return c.CreateEdge(ctx, episodeUID, entityUID, EdgeTypeMentions, EdgeStatusCurrent)
}

// QueryMentioningEpisodes returns every Episode owned by userID that
// MENTIONS entityUID, for retrieval's episode backfill step.
func (c *Client) QueryMentioningEpisodes(ctx context.Context, userID, entityUID string) ([]Node, error) {
	query := `query Eps($entity: string, $owner: string) {
		entity(func: uid($entity)) @filter(eq(user_id, $owner)) {
			~mentions @filter(eq(user_id, $owner) AND type(Episode)) {
				uid
				name
				description
				created_at
			}
		}
	}`
	vars := map[string]string{"$entity": entityUID, "$owner": userID}
	resp, err := c.dg.NewReadOnlyTxn().QueryWithVars(ctx, query, vars)
	if err != nil {
		return nil, fmt.Errorf("query mentioning episodes: %w", err)
	}
	var result struct {
		Entity []struct {
			Mentions []Node `json:"~mentions"`
		} `json:"entity"`
	}
	if err := json.Unmarshal(resp.Json, &result); err != nil {
		return nil, fmt.Errorf("unmarshal mentioning episodes: %w", err)
	}
	if len(result.Entity) == 0 {
		return nil, nil
	}
	return result.Entity[0].Mentions, nil
}

// QueryCurrentEdges returns every current (non-invalidated) edge owned
// by userID whose source node is fromUID.
func (c *Client) QueryCurrentEdges(ctx context.Context, userID, fromUID string) ([]CurrentEdge, error) {
	query := `query Current($from: string, $uid: string) {
		records(func: uid($from)) @filter(eq(user_id, $uid)) {
			~from_node @filter(eq(status, "current")) {
				uid
				edge_type
				fact
				valid_from
				to_node { uid name }
			}
		}
	}`
	vars := map[string]string{"$from": fromUID, "$uid": userID}
	resp, err := c.dg.NewReadOnlyTxn().QueryWithVars(ctx, query, vars)
	if err != nil {
		return nil, fmt.Errorf("query current edges: %w", err)
	}

	var result struct {
		Records []struct {
			Reverse []struct {
				UID       string    `json:"uid"`
				EdgeType  string    `json:"edge_type"`
				Fact      string    `json:"fact"`
				ValidFrom time.Time `json:"valid_from"`
				ToNode    struct {
					UID  string `json:"uid"`
					Name string `json:"name"`
				} `json:"to_node"`
			} `json:"~from_node"`
		} `json:"records"`
	}
	if err := json.Unmarshal(resp.Json, &result); err != nil {
		return nil, fmt.Errorf("unmarshal current edges: %w", err)
	}

	var out []CurrentEdge
	for _, rec := range result.Records {
		for _, e := range rec.Reverse {
			out = append(out, CurrentEdge{
				UID:       e.UID,
				Type:      EdgeType(e.EdgeType),
				FromUID:   fromUID,
				ToUID:     e.ToNode.UID,
				ToName:    e.ToNode.Name,
				Fact:      e.Fact,
				ValidFrom: e.ValidFrom,
			})
		}
	}
	return out, nil
}

// FindEntityByName looks up a user's entity node by exact name, scoped
// to userID's partition — the user_id-filtered counterpart to the
// legacy FindNodeByName, which predates per-user partitioning and
// filters on name alone.
func (c *Client) FindEntityByName(ctx context.Context, userID, name string) (*Node, error) {
	query := `query Entity($uid: string, $name: string) {
		node(func: eq(name, $name)) @filter(eq(user_id, $uid) AND type(Entity)) {
			uid
			name
			description
			user_id
		}
	}`
	vars := map[string]string{"$uid": userID, "$name": name}
	resp, err := c.dg.NewReadOnlyTxn().QueryWithVars(ctx, query, vars)
	if err != nil {
		return nil, fmt.Errorf("find entity by name: %w", err)
	}
	var result struct {
		Node []Node `json:"node"`
	}
	if err := json.Unmarshal(resp.Json, &result); err != nil {
		return nil, fmt.Errorf("unmarshal entity lookup: %w", err)
	}
	if len(result.Node) == 0 {
		return nil, nil
	}
	return &result.Node[0], nil
}

// FindOrCreateEntity returns the uid of userID's entity named name,
// creating it if it does not yet exist.
func (c *Client) FindOrCreateEntity(ctx context.Context, userID, name, description string) (string, error) {
	existing, err := c.FindEntityByName(ctx, userID, name)
	if err != nil {
		return "", err
	}
	if existing != nil {
		return existing.UID, nil
	}
	node := &Node{Name: name, Description: description, UserID: userID}
	node.SetType(NodeTypeEntity)
	return c.CreateNode(ctx, node)
}

// EdgeRecordInfo is the bi-temporal envelope of one EdgeRecord, as
// looked up by uid independent of the hybrid retrieval arms that found
// it (vector/keyword indexes only carry the fact text, not currency).
type EdgeRecordInfo struct {
	UID        string
	Type       EdgeType
	FromUID    string
	ToUID      string
	Status     EdgeStatus
	Fact       string
	ValidFrom  time.Time
	ValidUntil *time.Time
	CreatedAt  time.Time
}

// GetEdgeRecord fetches one EdgeRecord's bi-temporal fields by uid,
// scoped to userID.
func (c *Client) GetEdgeRecord(ctx context.Context, userID, uid string) (*EdgeRecordInfo, error) {
	query := `query Rec($uid: string, $owner: string) {
		rec(func: uid($uid)) @filter(eq(user_id, $owner)) {
			uid
			edge_type
			fact
			status
			valid_from
			valid_until
			created_at
			from_node { uid }
			to_node { uid }
		}
	}`
	vars := map[string]string{"$uid": uid, "$owner": userID}
	resp, err := c.dg.NewReadOnlyTxn().QueryWithVars(ctx, query, vars)
	if err != nil {
		return nil, fmt.Errorf("get edge record: %w", err)
	}
	var result struct {
		Rec []struct {
			UID        string     `json:"uid"`
			EdgeType   string     `json:"edge_type"`
			Fact       string     `json:"fact"`
			Status     string     `json:"status"`
			ValidFrom  time.Time  `json:"valid_from"`
			ValidUntil *time.Time `json:"valid_until"`
			CreatedAt  time.Time  `json:"created_at"`
			FromNode   struct {
				UID string `json:"uid"`
			} `json:"from_node"`
			ToNode struct {
				UID string `json:"uid"`
			} `json:"to_node"`
		} `json:"rec"`
	}
	if err := json.Unmarshal(resp.Json, &result); err != nil {
		return nil, fmt.Errorf("unmarshal edge record: %w", err)
	}
	if len(result.Rec) == 0 {
		return nil, nil
	}
	r := result.Rec[0]
	return &EdgeRecordInfo{
		UID: r.UID, Type: EdgeType(r.EdgeType), Status: EdgeStatus(r.Status), Fact: r.Fact,
		FromUID: r.FromNode.UID, ToUID: r.ToNode.UID,
		ValidFrom: r.ValidFrom, ValidUntil: r.ValidUntil, CreatedAt: r.CreatedAt,
	}, nil
}

// QueryAllEdgeRecords returns every EdgeRecord owned by userID — the
// "history" view behind get_all, including archived (non-current)
// ones, excluding MENTIONS (those are Episode linkage metadata, never
// business facts).
func (c *Client) QueryAllEdgeRecords(ctx context.Context, userID string) ([]EdgeRecordInfo, error) {
	query := `query All($owner: string) {
		recs(func: eq(user_id, $owner)) @filter(type(EdgeRecord)) {
			uid
			edge_type
			fact
			status
			valid_from
			valid_until
			created_at
			from_node { uid }
			to_node { uid }
		}
	}`
	vars := map[string]string{"$owner": userID}
	resp, err := c.dg.NewReadOnlyTxn().QueryWithVars(ctx, query, vars)
	if err != nil {
		return nil, fmt.Errorf("query all edge records: %w", err)
	}
	var result struct {
		Recs []struct {
			UID        string     `json:"uid"`
			EdgeType   string     `json:"edge_type"`
			Fact       string     `json:"fact"`
			Status     string     `json:"status"`
			ValidFrom  time.Time  `json:"valid_from"`
			ValidUntil *time.Time `json:"valid_until"`
			CreatedAt  time.Time  `json:"created_at"`
			FromNode   struct {
				UID string `json:"uid"`
			} `json:"from_node"`
			ToNode struct {
				UID string `json:"uid"`
			} `json:"to_node"`
		} `json:"recs"`
	}
	if err := json.Unmarshal(resp.Json, &result); err != nil {
		return nil, fmt.Errorf("unmarshal all edge records: %w", err)
	}

	out := make([]EdgeRecordInfo, 0, len(result.Recs))
	for _, r := range result.Recs {
		if EdgeType(r.EdgeType) == EdgeTypeMentions {
			continue
		}
		out = append(out, EdgeRecordInfo{
			UID: r.UID, Type: EdgeType(r.EdgeType), Status: EdgeStatus(r.Status), Fact: r.Fact,
			FromUID: r.FromNode.UID, ToUID: r.ToNode.UID,
			ValidFrom: r.ValidFrom, ValidUntil: r.ValidUntil, CreatedAt: r.CreatedAt,
		})
	}
	return out, nil
}

// NodeName resolves a single node's display name by uid, for render
// helpers that need subject/object names rather than bare uids.
func (c *Client) NodeName(ctx context.Context, uid string) (string, error) {
	n, err := c.GetNode(ctx, uid)
	if err != nil {
		return "", err
	}
	if n == nil {
		return "", nil
	}
	return n.Name, nil
}

// DropUser purges every node (and, by cascade, every edge referencing
// it) tagged with userID. This is a hard physical delete, used only
// for an explicit user-initiated wipe — it is the one operation in
// this package allowed to issue DelNquads against business data.
func (c *Client) DropUser(ctx context.Context, userID string) (int, error) {
	query := `query Owned($uid: string) {
		owned(func: eq(user_id, $uid)) {
			uid
		}
	}`
	vars := map[string]string{"$uid": userID}
	resp, err := c.dg.NewReadOnlyTxn().QueryWithVars(ctx, query, vars)
	if err != nil {
		return 0, fmt.Errorf("query owned nodes: %w", err)
	}

	var result struct {
		Owned []struct {
			UID string `json:"uid"`
		} `json:"owned"`
	}
	if err := json.Unmarshal(resp.Json, &result); err != nil {
		return 0, fmt.Errorf("unmarshal owned nodes: %w", err)
	}
	if len(result.Owned) == 0 {
		return 0, nil
	}

	var nquads strings.Builder
	for _, n := range result.Owned {
		fmt.Fprintf(&nquads, "<%s> * * .\n", n.UID)
	}
	txn := c.dg.NewTxn()
	defer txn.Discard(ctx)
	mu := &api.Mutation{DelNquads: []byte(nquads.String()), CommitNow: true}
	if _, err := txn.Mutate(ctx, mu); err != nil {
		return 0, fmt.Errorf("delete owned nodes: %w", err)
	}

	c.logger.Info("dropped user partition", zap.String("user_id", userID), zap.Int("nodes", len(result.Owned)))
	return len(result.Owned), nil
}
