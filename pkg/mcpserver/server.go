// Package mcpserver exposes the graph tool surface over the Model Context
// Protocol. Every tool resolves its tenant-scoped backend client from the
// request context; the server itself holds no per-tenant state.
package mcpserver

import (
	"context"
	"net/http"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/konnektr-io/graph-mcp/pkg/search"
)

const serverName = "konnektr-graph-mcp"

// EndpointPath is where the streamable HTTP transport is mounted.
const EndpointPath = "/mcp"

// Server wraps an MCP server with the graph tool surface registered.
type Server struct {
	mcpServer *server.MCPServer
	searcher  *search.Searcher
}

// New creates a Server with all tools registered. The searcher is shared
// across requests; it carries only read-only embedding configuration.
func New(version string, searcher *search.Searcher) *Server {
	s := &Server{
		mcpServer: server.NewMCPServer(
			serverName,
			version,
			server.WithToolCapabilities(false),
			server.WithLogging(),
		),
		searcher: searcher,
	}
	s.registerModelTools()
	s.registerTwinTools()
	s.registerRelationshipTools()
	s.registerQueryTools()
	return s
}

// Handler returns the streamable HTTP handler for mounting under
// EndpointPath. The HTTP request's context is passed through so tool
// handlers see the values installed by the auth and tenant middleware.
func (s *Server) Handler() http.Handler {
	return server.NewStreamableHTTPServer(
		s.mcpServer,
		server.WithEndpointPath(EndpointPath),
		server.WithHTTPContextFunc(func(_ context.Context, r *http.Request) context.Context {
			return r.Context()
		}),
	)
}

func (s *Server) registerModelTools() {
	s.mcpServer.AddTool(mcp.Tool{
		Name:        "list_models",
		Description: "List all DTDL models in the graph (summary only). Use get_model for full details.",
		Annotations: mcp.ToolAnnotation{ReadOnlyHint: mcp.ToBoolPtr(true)},
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"dependencies_for": map[string]interface{}{
					"type":        "array",
					"items":       map[string]interface{}{"type": "string"},
					"description": "Optional list of model IDs to filter by dependencies",
				},
			},
		},
	}, s.listModels)

	s.mcpServer.AddTool(mcp.Tool{
		Name:        "get_model",
		Description: "Get the complete DTDL model definition including all properties, relationships, and components.",
		Annotations: mcp.ToolAnnotation{ReadOnlyHint: mcp.ToBoolPtr(true)},
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"model_id": map[string]interface{}{
					"type":        "string",
					"description": "The DTMI of the model to retrieve (e.g. 'dtmi:example:Room;1')",
				},
			},
			Required: []string{"model_id"},
		},
	}, s.getModel)

	s.mcpServer.AddTool(mcp.Tool{
		Name:        "create_models",
		Description: "Create DTDL models. Models must be valid DTDL v3/v4 and any dependent models must already exist.",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"models": map[string]interface{}{
					"type":        "array",
					"items":       map[string]interface{}{"type": "object"},
					"description": "DTDL model definitions",
				},
			},
			Required: []string{"models"},
		},
	}, s.createModels)

	s.mcpServer.AddTool(mcp.Tool{
		Name:        "search_models",
		Description: "Search for DTDL models across IDs, display names, and descriptions.",
		Annotations: mcp.ToolAnnotation{ReadOnlyHint: mcp.ToBoolPtr(true)},
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"search_text": map[string]interface{}{
					"type":        "string",
					"description": "Search query (searches display name, description, ID)",
				},
				"limit": map[string]interface{}{
					"type":        "integer",
					"description": "Maximum number of results",
				},
			},
			Required: []string{"search_text"},
		},
	}, s.searchModels)
}

func (s *Server) registerTwinTools() {
	s.mcpServer.AddTool(mcp.Tool{
		Name:        "get_digital_twin",
		Description: "Get a digital twin by its ID.",
		Annotations: mcp.ToolAnnotation{ReadOnlyHint: mcp.ToBoolPtr(true)},
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"twin_id": map[string]interface{}{
					"type":        "string",
					"description": "The unique ID of the digital twin",
				},
			},
			Required: []string{"twin_id"},
		},
	}, s.getDigitalTwin)

	s.mcpServer.AddTool(mcp.Tool{
		Name:        "create_or_replace_digital_twin",
		Description: "Create or replace a digital twin. The twin must reference an existing model via $metadata.$model.",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"twin_id": map[string]interface{}{
					"type":        "string",
					"description": "The unique ID for the digital twin",
				},
				"twin": map[string]interface{}{
					"type":        "object",
					"description": "The twin document, including $metadata.$model",
				},
			},
			Required: []string{"twin_id", "twin"},
		},
	}, s.createOrReplaceDigitalTwin)

	s.mcpServer.AddTool(mcp.Tool{
		Name:        "update_digital_twin",
		Description: "Apply a JSON Patch to a digital twin.",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"twin_id": map[string]interface{}{
					"type":        "string",
					"description": "The unique ID of the digital twin",
				},
				"patch": map[string]interface{}{
					"type":        "array",
					"items":       map[string]interface{}{"type": "object"},
					"description": "JSON Patch operations (op, path, value)",
				},
			},
			Required: []string{"twin_id", "patch"},
		},
	}, s.updateDigitalTwin)

	s.mcpServer.AddTool(mcp.Tool{
		Name:        "delete_digital_twin",
		Description: "Delete a digital twin. All of its relationships must be deleted first.",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"twin_id": map[string]interface{}{
					"type":        "string",
					"description": "The unique ID of the digital twin",
				},
			},
			Required: []string{"twin_id"},
		},
	}, s.deleteDigitalTwin)

	s.mcpServer.AddTool(mcp.Tool{
		Name:        "search_digital_twins",
		Description: "Search for digital twins using semantic search and keyword matching. Use this for retrieval by concept and meaning, not just exact matches.",
		Annotations: mcp.ToolAnnotation{ReadOnlyHint: mcp.ToBoolPtr(true)},
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"search_text": map[string]interface{}{
					"type":        "string",
					"description": "Search query (semantic + keyword)",
				},
				"model_id": map[string]interface{}{
					"type":        "string",
					"description": "Optional filter by model ID",
				},
				"embedding_property": map[string]interface{}{
					"type":        "string",
					"description": "Optional stored vector property to rank against; requires embeddings to be enabled",
				},
				"distance_metric": map[string]interface{}{
					"type":        "string",
					"enum":        []string{"cosine", "euclidean"},
					"description": "Distance function for vector ranking (default cosine)",
				},
				"include_neighbors": map[string]interface{}{
					"type":        "boolean",
					"description": "Attach each match's directly connected twins",
				},
				"limit": map[string]interface{}{
					"type":        "integer",
					"description": "Maximum results",
				},
			},
			Required: []string{"search_text"},
		},
	}, s.searchDigitalTwins)
}

func (s *Server) registerRelationshipTools() {
	s.mcpServer.AddTool(mcp.Tool{
		Name:        "list_relationships",
		Description: "List all outgoing relationships from a digital twin.",
		Annotations: mcp.ToolAnnotation{ReadOnlyHint: mcp.ToBoolPtr(true)},
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"twin_id": map[string]interface{}{
					"type":        "string",
					"description": "Source twin ID",
				},
				"relationship_name": map[string]interface{}{
					"type":        "string",
					"description": "Optional filter by relationship name",
				},
			},
			Required: []string{"twin_id"},
		},
	}, s.listRelationships)

	s.mcpServer.AddTool(mcp.Tool{
		Name:        "list_incoming_relationships",
		Description: "List all relationships that point at a digital twin.",
		Annotations: mcp.ToolAnnotation{ReadOnlyHint: mcp.ToBoolPtr(true)},
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"twin_id": map[string]interface{}{
					"type":        "string",
					"description": "Target twin ID",
				},
			},
			Required: []string{"twin_id"},
		},
	}, s.listIncomingRelationships)

	s.mcpServer.AddTool(mcp.Tool{
		Name:        "get_relationship",
		Description: "Get a specific relationship by ID.",
		Annotations: mcp.ToolAnnotation{ReadOnlyHint: mcp.ToBoolPtr(true)},
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"twin_id": map[string]interface{}{
					"type":        "string",
					"description": "Source twin ID",
				},
				"relationship_id": map[string]interface{}{
					"type":        "string",
					"description": "The relationship ID",
				},
			},
			Required: []string{"twin_id", "relationship_id"},
		},
	}, s.getRelationship)

	s.mcpServer.AddTool(mcp.Tool{
		Name:        "create_or_replace_relationship",
		Description: "Create or replace a relationship between two digital twins. The relationship name must be allowed by the source twin's model.",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"twin_id": map[string]interface{}{
					"type":        "string",
					"description": "Source twin ID",
				},
				"relationship_id": map[string]interface{}{
					"type":        "string",
					"description": "The unique ID for the relationship",
				},
				"relationship": map[string]interface{}{
					"type":        "object",
					"description": "The relationship document, including $relationshipName and $targetId",
				},
			},
			Required: []string{"twin_id", "relationship_id", "relationship"},
		},
	}, s.createOrReplaceRelationship)

	s.mcpServer.AddTool(mcp.Tool{
		Name:        "update_relationship",
		Description: "Apply a JSON Patch to a relationship.",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"twin_id": map[string]interface{}{
					"type":        "string",
					"description": "Source twin ID",
				},
				"relationship_id": map[string]interface{}{
					"type":        "string",
					"description": "The relationship ID",
				},
				"patch": map[string]interface{}{
					"type":        "array",
					"items":       map[string]interface{}{"type": "object"},
					"description": "JSON Patch operations (op, path, value)",
				},
			},
			Required: []string{"twin_id", "relationship_id", "patch"},
		},
	}, s.updateRelationship)

	s.mcpServer.AddTool(mcp.Tool{
		Name:        "delete_relationship",
		Description: "Delete a relationship.",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"twin_id": map[string]interface{}{
					"type":        "string",
					"description": "Source twin ID",
				},
				"relationship_id": map[string]interface{}{
					"type":        "string",
					"description": "The relationship ID",
				},
			},
			Required: []string{"twin_id", "relationship_id"},
		},
	}, s.deleteRelationship)
}

func (s *Server) registerQueryTools() {
	s.mcpServer.AddTool(mcp.Tool{
		Name:        "query_digital_twins",
		Description: "Run a query against the twin graph using the graph query language (SELECT ... FROM digitaltwins ...).",
		Annotations: mcp.ToolAnnotation{ReadOnlyHint: mcp.ToBoolPtr(true)},
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"query": map[string]interface{}{
					"type":        "string",
					"description": "The query text",
				},
			},
			Required: []string{"query"},
		},
	}, s.queryDigitalTwins)
}
