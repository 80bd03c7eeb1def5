package admin

import "net/http"

// openAPIDocument describes the management API. Served only when the server
// runs with debug enabled.
const openAPIDocument = `{
  "openapi": "3.0.3",
  "info": {
    "title": "Lumen Admin API",
    "description": "Management plane for the lumen gateway: upstream CRUD, group membership, forward inspection, health, and metrics.",
    "version": "1.0.0"
  },
  "paths": {
    "/health": {
      "get": {"summary": "Liveness check", "responses": {"200": {"description": "OK"}}}
    },
    "/metrics": {
      "get": {"summary": "Prometheus metrics", "responses": {"200": {"description": "Exposition format"}}}
    },
    "/api/v1/upstreams": {
      "get": {"summary": "List upstreams", "responses": {"200": {"description": "Array of upstreams"}}},
      "post": {"summary": "Create an upstream", "responses": {"201": {"description": "Created"}, "400": {"description": "Invalid payload"}, "409": {"description": "Name already exists"}}}
    },
    "/api/v1/upstreams/{name}": {
      "get": {"summary": "Get one upstream", "responses": {"200": {"description": "Upstream"}, "404": {"description": "Not found"}}},
      "put": {"summary": "Update an upstream", "responses": {"200": {"description": "Updated"}, "404": {"description": "Not found"}}},
      "delete": {"summary": "Delete an upstream", "responses": {"204": {"description": "Deleted"}, "409": {"description": "Still referenced by a group"}}}
    },
    "/api/v1/upstream-groups": {
      "get": {"summary": "List upstream groups", "responses": {"200": {"description": "Array of groups"}}}
    },
    "/api/v1/upstream-groups/{name}": {
      "get": {"summary": "Get one group", "responses": {"200": {"description": "Group"}, "404": {"description": "Not found"}}}
    },
    "/api/v1/upstream-groups/{name}/upstreams": {
      "patch": {"summary": "Replace group membership", "responses": {"200": {"description": "Updated group"}, "400": {"description": "Invalid membership"}, "404": {"description": "Not found"}}}
    },
    "/api/v1/forwards": {
      "get": {"summary": "List forward listeners", "responses": {"200": {"description": "Array of forwards"}}}
    },
    "/api/v1/forwards/{name}/routing": {
      "get": {"summary": "Get a forward's routing table", "responses": {"200": {"description": "Default group and rules"}, "404": {"description": "Not found"}}}
    }
  }
}`

func (s *Server) handleOpenAPI(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write([]byte(openAPIDocument))
}
