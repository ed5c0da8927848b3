package mcpserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/konnektr-io/graph-mcp/pkg/graph"
	"github.com/konnektr-io/graph-mcp/pkg/search"
	"github.com/konnektr-io/graph-mcp/pkg/tenant"
)

// toolError maps backend failures to a caller-facing message with a stable
// shape, without echoing raw upstream bodies.
func toolError(action string, err error) *mcp.CallToolResult {
	var apiErr *graph.APIError
	switch {
	case errors.Is(err, graph.ErrNotFound):
		return mcp.NewToolResultError(fmt.Sprintf("%s: not found", action))
	case errors.As(err, &apiErr):
		return mcp.NewToolResultError(fmt.Sprintf("%s: %s", action, apiErr.Message))
	default:
		return mcp.NewToolResultError(fmt.Sprintf("%s: %v", action, err))
	}
}

// clientFor fetches the tenant-scoped backend client installed by the
// tenant middleware.
func clientFor(ctx context.Context) (*graph.Client, *mcp.CallToolResult) {
	rc, err := tenant.FromContext(ctx)
	if err != nil {
		return nil, mcp.NewToolResultError(err.Error())
	}
	return rc.Client, nil
}

func (*Server) listModels(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := struct {
		DependenciesFor []string `json:"dependencies_for,omitempty"`
	}{}
	if err := request.BindArguments(&args); err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to parse arguments: %v", err)), nil
	}

	client, errResult := clientFor(ctx)
	if errResult != nil {
		return errResult, nil
	}

	models, err := client.ListModels(ctx, args.DependenciesFor, false)
	if err != nil {
		return toolError("Failed to list models", err), nil
	}
	return mcp.NewToolResultStructuredOnly(models), nil
}

func (*Server) getModel(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := struct {
		ModelID string `json:"model_id"`
	}{}
	if err := request.BindArguments(&args); err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to parse arguments: %v", err)), nil
	}
	if args.ModelID == "" {
		return mcp.NewToolResultError("model_id is required"), nil
	}

	client, errResult := clientFor(ctx)
	if errResult != nil {
		return errResult, nil
	}

	model, err := client.GetModel(ctx, args.ModelID)
	if err != nil {
		return toolError(fmt.Sprintf("Failed to get model %s", args.ModelID), err), nil
	}
	return mcp.NewToolResultStructuredOnly(model), nil
}

func (*Server) createModels(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := struct {
		Models []json.RawMessage `json:"models"`
	}{}
	if err := request.BindArguments(&args); err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to parse arguments: %v", err)), nil
	}
	if len(args.Models) == 0 {
		return mcp.NewToolResultError("models must contain at least one definition"), nil
	}

	client, errResult := clientFor(ctx)
	if errResult != nil {
		return errResult, nil
	}

	if err := client.CreateModels(ctx, args.Models); err != nil {
		return toolError("Failed to create models", err), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("Successfully created %d model(s).", len(args.Models))), nil
}

func (*Server) searchModels(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := struct {
		SearchText string `json:"search_text"`
		Limit      int    `json:"limit,omitempty"`
	}{}
	if err := request.BindArguments(&args); err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to parse arguments: %v", err)), nil
	}
	if args.SearchText == "" {
		return mcp.NewToolResultError("search_text is required"), nil
	}
	if args.Limit <= 0 {
		args.Limit = search.DefaultLimit
	}

	client, errResult := clientFor(ctx)
	if errResult != nil {
		return errResult, nil
	}

	results, err := client.SearchModels(ctx, graph.SearchRequest{
		Text:  args.SearchText,
		Limit: args.Limit,
	})
	if err != nil {
		return toolError("Failed to search models", err), nil
	}
	return mcp.NewToolResultStructuredOnly(results), nil
}

func (*Server) getDigitalTwin(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := struct {
		TwinID string `json:"twin_id"`
	}{}
	if err := request.BindArguments(&args); err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to parse arguments: %v", err)), nil
	}
	if args.TwinID == "" {
		return mcp.NewToolResultError("twin_id is required"), nil
	}

	client, errResult := clientFor(ctx)
	if errResult != nil {
		return errResult, nil
	}

	twin, err := client.GetTwin(ctx, args.TwinID)
	if err != nil {
		return toolError(fmt.Sprintf("Failed to get twin %s", args.TwinID), err), nil
	}
	return mcp.NewToolResultStructuredOnly(twin), nil
}

func (*Server) createOrReplaceDigitalTwin(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := struct {
		TwinID string     `json:"twin_id"`
		Twin   graph.Twin `json:"twin"`
	}{}
	if err := request.BindArguments(&args); err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to parse arguments: %v", err)), nil
	}
	if args.TwinID == "" {
		return mcp.NewToolResultError("twin_id is required"), nil
	}
	if args.Twin.Model() == "" {
		return mcp.NewToolResultError("twin must include $metadata.$model"), nil
	}

	client, errResult := clientFor(ctx)
	if errResult != nil {
		return errResult, nil
	}

	created, err := client.UpsertTwin(ctx, args.TwinID, args.Twin)
	if err != nil {
		return toolError(fmt.Sprintf("Failed to create twin %s", args.TwinID), err), nil
	}
	return mcp.NewToolResultStructuredOnly(created), nil
}

func (*Server) updateDigitalTwin(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := struct {
		TwinID string                 `json:"twin_id"`
		Patch  []graph.PatchOperation `json:"patch"`
	}{}
	if err := request.BindArguments(&args); err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to parse arguments: %v", err)), nil
	}
	if args.TwinID == "" {
		return mcp.NewToolResultError("twin_id is required"), nil
	}
	if len(args.Patch) == 0 {
		return mcp.NewToolResultError("patch must contain at least one operation"), nil
	}

	client, errResult := clientFor(ctx)
	if errResult != nil {
		return errResult, nil
	}

	if err := client.UpdateTwin(ctx, args.TwinID, args.Patch); err != nil {
		return toolError(fmt.Sprintf("Failed to update twin %s", args.TwinID), err), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("Successfully updated twin %s.", args.TwinID)), nil
}

func (*Server) deleteDigitalTwin(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := struct {
		TwinID string `json:"twin_id"`
	}{}
	if err := request.BindArguments(&args); err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to parse arguments: %v", err)), nil
	}
	if args.TwinID == "" {
		return mcp.NewToolResultError("twin_id is required"), nil
	}

	client, errResult := clientFor(ctx)
	if errResult != nil {
		return errResult, nil
	}

	if err := client.DeleteTwin(ctx, args.TwinID); err != nil {
		return toolError(fmt.Sprintf("Failed to delete twin %s", args.TwinID), err), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("Successfully deleted twin %s.", args.TwinID)), nil
}

func (s *Server) searchDigitalTwins(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := struct {
		SearchText        string `json:"search_text"`
		ModelID           string `json:"model_id,omitempty"`
		EmbeddingProperty string `json:"embedding_property,omitempty"`
		DistanceMetric    string `json:"distance_metric,omitempty"`
		IncludeNeighbors  bool   `json:"include_neighbors,omitempty"`
		Limit             int    `json:"limit,omitempty"`
	}{}
	if err := request.BindArguments(&args); err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to parse arguments: %v", err)), nil
	}
	if args.SearchText == "" {
		return mcp.NewToolResultError("search_text is required"), nil
	}
	metric := graph.DistanceMetric(args.DistanceMetric)
	switch metric {
	case "", graph.MetricCosine, graph.MetricEuclidean:
	default:
		return mcp.NewToolResultError(fmt.Sprintf("unknown distance_metric %q", args.DistanceMetric)), nil
	}

	rc, err := tenant.FromContext(ctx)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	results, err := s.searcher.Search(ctx, rc.Client, search.Query{
		Text:              args.SearchText,
		ModelFilter:       args.ModelID,
		EmbeddingProperty: args.EmbeddingProperty,
		Metric:            metric,
		Limit:             args.Limit,
		IncludeNeighbors:  args.IncludeNeighbors,
	})
	if err != nil {
		return toolError("Search failed", err), nil
	}
	return mcp.NewToolResultStructuredOnly(results), nil
}

func (*Server) listRelationships(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := struct {
		TwinID           string `json:"twin_id"`
		RelationshipName string `json:"relationship_name,omitempty"`
	}{}
	if err := request.BindArguments(&args); err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to parse arguments: %v", err)), nil
	}
	if args.TwinID == "" {
		return mcp.NewToolResultError("twin_id is required"), nil
	}

	client, errResult := clientFor(ctx)
	if errResult != nil {
		return errResult, nil
	}

	relationships, err := client.ListRelationships(ctx, args.TwinID, args.RelationshipName)
	if err != nil {
		return toolError(fmt.Sprintf("Failed to list relationships for %s", args.TwinID), err), nil
	}
	return mcp.NewToolResultStructuredOnly(relationships), nil
}

func (*Server) listIncomingRelationships(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := struct {
		TwinID string `json:"twin_id"`
	}{}
	if err := request.BindArguments(&args); err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to parse arguments: %v", err)), nil
	}
	if args.TwinID == "" {
		return mcp.NewToolResultError("twin_id is required"), nil
	}

	client, errResult := clientFor(ctx)
	if errResult != nil {
		return errResult, nil
	}

	incoming, err := client.IncomingRelationships(ctx, args.TwinID)
	if err != nil {
		return toolError(fmt.Sprintf("Failed to list incoming relationships for %s", args.TwinID), err), nil
	}
	return mcp.NewToolResultStructuredOnly(incoming), nil
}

func (*Server) getRelationship(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := struct {
		TwinID         string `json:"twin_id"`
		RelationshipID string `json:"relationship_id"`
	}{}
	if err := request.BindArguments(&args); err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to parse arguments: %v", err)), nil
	}
	if args.TwinID == "" || args.RelationshipID == "" {
		return mcp.NewToolResultError("twin_id and relationship_id are required"), nil
	}

	client, errResult := clientFor(ctx)
	if errResult != nil {
		return errResult, nil
	}

	rel, err := client.GetRelationship(ctx, args.TwinID, args.RelationshipID)
	if err != nil {
		return toolError(fmt.Sprintf("Failed to get relationship %s", args.RelationshipID), err), nil
	}
	return mcp.NewToolResultStructuredOnly(rel), nil
}

func (*Server) createOrReplaceRelationship(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := struct {
		TwinID         string             `json:"twin_id"`
		RelationshipID string             `json:"relationship_id"`
		Relationship   graph.Relationship `json:"relationship"`
	}{}
	if err := request.BindArguments(&args); err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to parse arguments: %v", err)), nil
	}
	if args.TwinID == "" || args.RelationshipID == "" {
		return mcp.NewToolResultError("twin_id and relationship_id are required"), nil
	}
	if args.Relationship.Name() == "" || args.Relationship.TargetID() == "" {
		return mcp.NewToolResultError("relationship must include $relationshipName and $targetId"), nil
	}

	client, errResult := clientFor(ctx)
	if errResult != nil {
		return errResult, nil
	}

	created, err := client.UpsertRelationship(ctx, args.TwinID, args.RelationshipID, args.Relationship)
	if err != nil {
		return toolError(fmt.Sprintf("Failed to create relationship %s", args.RelationshipID), err), nil
	}
	return mcp.NewToolResultStructuredOnly(created), nil
}

func (*Server) updateRelationship(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := struct {
		TwinID         string                 `json:"twin_id"`
		RelationshipID string                 `json:"relationship_id"`
		Patch          []graph.PatchOperation `json:"patch"`
	}{}
	if err := request.BindArguments(&args); err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to parse arguments: %v", err)), nil
	}
	if args.TwinID == "" || args.RelationshipID == "" {
		return mcp.NewToolResultError("twin_id and relationship_id are required"), nil
	}
	if len(args.Patch) == 0 {
		return mcp.NewToolResultError("patch must contain at least one operation"), nil
	}

	client, errResult := clientFor(ctx)
	if errResult != nil {
		return errResult, nil
	}

	if err := client.UpdateRelationship(ctx, args.TwinID, args.RelationshipID, args.Patch); err != nil {
		return toolError(fmt.Sprintf("Failed to update relationship %s", args.RelationshipID), err), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("Successfully updated relationship %s.", args.RelationshipID)), nil
}

func (*Server) deleteRelationship(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := struct {
		TwinID         string `json:"twin_id"`
		RelationshipID string `json:"relationship_id"`
	}{}
	if err := request.BindArguments(&args); err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to parse arguments: %v", err)), nil
	}
	if args.TwinID == "" || args.RelationshipID == "" {
		return mcp.NewToolResultError("twin_id and relationship_id are required"), nil
	}

	client, errResult := clientFor(ctx)
	if errResult != nil {
		return errResult, nil
	}

	if err := client.DeleteRelationship(ctx, args.TwinID, args.RelationshipID); err != nil {
		return toolError(fmt.Sprintf("Failed to delete relationship %s", args.RelationshipID), err), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("Successfully deleted relationship %s.", args.RelationshipID)), nil
}

func (*Server) queryDigitalTwins(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := struct {
		Query string `json:"query"`
	}{}
	if err := request.BindArguments(&args); err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to parse arguments: %v", err)), nil
	}
	if args.Query == "" {
		return mcp.NewToolResultError("query is required"), nil
	}

	client, errResult := clientFor(ctx)
	if errResult != nil {
		return errResult, nil
	}

	rows, err := client.Query(ctx, args.Query)
	if err != nil {
		return toolError("Query failed", err), nil
	}
	return mcp.NewToolResultStructuredOnly(rows), nil
}
