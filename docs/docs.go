// Package docs registers the OpenAPI document served at /swagger. It is
// normally regenerated with `swag init -g internal/http/router.go`.
package docs

import "github.com/swaggo/swag"

const docTemplate = `{
    "schemes": {{ marshal .Schemes }},
    "swagger": "2.0",
    "info": {
        "description": "{{escape .Description}}",
        "title": "{{.Title}}",
        "contact": {},
        "version": "{{.Version}}"
    },
    "host": "{{.Host}}",
    "basePath": "{{.BasePath}}",
    "paths": {
        "/users": {
            "post": {
                "tags": ["Users"],
                "summary": "Register a user",
                "operationId": "registerUser",
                "parameters": [{"in": "body", "name": "body", "required": true, "schema": {"$ref": "#/definitions/handlers.RegisterRequest"}}],
                "responses": {
                    "201": {"description": "Created", "schema": {"$ref": "#/definitions/domain.User"}},
                    "400": {"description": "Bad Request", "schema": {"$ref": "#/definitions/handlers.ErrorResponse"}}
                }
            }
        },
        "/users/me": {
            "get": {
                "tags": ["Users"],
                "summary": "Current user",
                "operationId": "getMe",
                "parameters": [{"$ref": "#/parameters/UserID"}],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/domain.User"}},
                    "401": {"description": "Unauthorized", "schema": {"$ref": "#/definitions/handlers.ErrorResponse"}}
                }
            }
        },
        "/users/me/subscription": {
            "get": {
                "tags": ["Subscriptions"],
                "summary": "Subscription and quota status",
                "operationId": "getSubscription",
                "parameters": [{"$ref": "#/parameters/UserID"}],
                "responses": {"200": {"description": "OK"}}
            },
            "post": {
                "tags": ["Subscriptions"],
                "summary": "Apply a platform purchase",
                "operationId": "applySubscription",
                "parameters": [
                    {"$ref": "#/parameters/UserID"},
                    {"in": "body", "name": "body", "required": true, "schema": {"$ref": "#/definitions/handlers.ApplySubscriptionRequest"}}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/domain.User"}},
                    "400": {"description": "Bad Request", "schema": {"$ref": "#/definitions/handlers.ErrorResponse"}},
                    "503": {"description": "Verifier not configured", "schema": {"$ref": "#/definitions/handlers.ErrorResponse"}}
                }
            }
        },
        "/conversations": {
            "get": {
                "tags": ["Conversations"],
                "summary": "List conversations",
                "operationId": "listConversations",
                "parameters": [
                    {"$ref": "#/parameters/UserID"},
                    {"$ref": "#/parameters/Page"},
                    {"$ref": "#/parameters/PageSize"}
                ],
                "responses": {"200": {"description": "OK"}}
            },
            "post": {
                "tags": ["Conversations"],
                "summary": "Open a conversation with a peer",
                "operationId": "openConversation",
                "parameters": [
                    {"$ref": "#/parameters/UserID"},
                    {"in": "body", "name": "body", "required": true, "schema": {"$ref": "#/definitions/handlers.OpenConversationRequest"}}
                ],
                "responses": {
                    "200": {"description": "Existing", "schema": {"$ref": "#/definitions/domain.Conversation"}},
                    "201": {"description": "Created", "schema": {"$ref": "#/definitions/domain.Conversation"}}
                }
            }
        },
        "/conversations/{id}": {
            "get": {
                "tags": ["Conversations"],
                "summary": "Get a conversation",
                "operationId": "getConversation",
                "parameters": [{"$ref": "#/parameters/UserID"}, {"$ref": "#/parameters/ID"}],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/domain.Conversation"}},
                    "403": {"description": "Forbidden", "schema": {"$ref": "#/definitions/handlers.ErrorResponse"}},
                    "404": {"description": "Not Found", "schema": {"$ref": "#/definitions/handlers.ErrorResponse"}}
                }
            }
        },
        "/conversations/{id}/messages": {
            "get": {
                "tags": ["Messages"],
                "summary": "Message history",
                "operationId": "listMessages",
                "parameters": [
                    {"$ref": "#/parameters/UserID"},
                    {"$ref": "#/parameters/ID"},
                    {"$ref": "#/parameters/Page"},
                    {"$ref": "#/parameters/PageSize"}
                ],
                "responses": {"200": {"description": "OK"}, "304": {"description": "Not Modified"}}
            },
            "post": {
                "tags": ["Messages"],
                "summary": "Send a message",
                "operationId": "sendMessage",
                "parameters": [
                    {"$ref": "#/parameters/UserID"},
                    {"$ref": "#/parameters/ID"},
                    {"in": "header", "name": "Idempotency-Key", "type": "string"},
                    {"in": "body", "name": "body", "required": true, "schema": {"$ref": "#/definitions/handlers.SendMessageRequest"}}
                ],
                "responses": {
                    "201": {"description": "Created", "schema": {"$ref": "#/definitions/domain.Message"}},
                    "429": {"description": "Daily quota exhausted", "schema": {"$ref": "#/definitions/handlers.QuotaErrorResponse"}}
                }
            }
        },
        "/conversations/{id}/messages/search": {
            "get": {
                "tags": ["Messages"],
                "summary": "Search a conversation",
                "operationId": "searchMessages",
                "parameters": [
                    {"$ref": "#/parameters/UserID"},
                    {"$ref": "#/parameters/ID"},
                    {"in": "query", "name": "q", "type": "string", "required": true},
                    {"in": "query", "name": "k", "type": "integer"}
                ],
                "responses": {"200": {"description": "OK"}}
            }
        },
        "/messages/{id}/read": {
            "post": {
                "tags": ["Messages"],
                "summary": "Mark a message read",
                "operationId": "markRead",
                "parameters": [{"$ref": "#/parameters/UserID"}, {"$ref": "#/parameters/ID"}],
                "responses": {"200": {"description": "OK", "schema": {"$ref": "#/definitions/domain.Message"}}}
            }
        }
    },
    "parameters": {
        "UserID": {"in": "header", "name": "X-User-ID", "type": "string", "required": true},
        "ID": {"in": "path", "name": "id", "type": "string", "required": true},
        "Page": {"in": "query", "name": "page", "type": "integer"},
        "PageSize": {"in": "query", "name": "page_size", "type": "integer"}
    },
    "definitions": {
        "handlers.ErrorResponse": {
            "type": "object",
            "properties": {
                "code": {"type": "string"},
                "message": {"type": "string"},
                "request_id": {"type": "string"}
            }
        },
        "handlers.QuotaErrorResponse": {
            "type": "object",
            "properties": {
                "code": {"type": "string"},
                "message": {"type": "string"},
                "request_id": {"type": "string"},
                "upgrade_hint": {"type": "string"},
                "resets_at": {"type": "string"},
                "limit": {"type": "integer"}
            }
        },
        "handlers.RegisterRequest": {
            "type": "object",
            "required": ["display_name"],
            "properties": {"display_name": {"type": "string"}}
        },
        "handlers.ApplySubscriptionRequest": {
            "type": "object",
            "required": ["platform", "purchase_token"],
            "properties": {"platform": {"type": "string"}, "purchase_token": {"type": "string"}}
        },
        "handlers.OpenConversationRequest": {
            "type": "object",
            "required": ["peer_id"],
            "properties": {"peer_id": {"type": "string"}}
        },
        "handlers.SendMessageRequest": {
            "type": "object",
            "required": ["message_type"],
            "properties": {
                "message_type": {"type": "string", "enum": ["text", "image", "video", "voice"]},
                "content": {"type": "string"},
                "media_url": {"type": "string"}
            }
        },
        "domain.User": {
            "type": "object",
            "properties": {
                "id": {"type": "string"},
                "display_name": {"type": "string"},
                "subscription_type": {"type": "string"},
                "subscription_expires_at": {"type": "string"},
                "daily_message_count": {"type": "integer"},
                "created_at": {"type": "string"}
            }
        },
        "domain.Conversation": {
            "type": "object",
            "properties": {
                "id": {"type": "string"},
                "user1_id": {"type": "string"},
                "user2_id": {"type": "string"},
                "last_message_at": {"type": "string"},
                "last_seq": {"type": "integer"}
            }
        },
        "domain.Message": {
            "type": "object",
            "properties": {
                "id": {"type": "string"},
                "conversation_id": {"type": "string"},
                "sender_id": {"type": "string"},
                "seq": {"type": "integer"},
                "message_type": {"type": "string"},
                "content": {"type": "string"},
                "media_url": {"type": "string"},
                "is_read": {"type": "boolean"},
                "created_at": {"type": "string"}
            }
        }
    }
}`

// SwaggerInfo holds exported Swagger Info so clients can modify it.
var SwaggerInfo = &swag.Spec{
	Version:          "1.0",
	Host:             "",
	BasePath:         "/api/v1",
	Schemes:          []string{},
	Title:            "Realtime Chat API",
	Description:      "One-to-one messaging with a free daily quota, premium subscriptions and a WebSocket delivery channel.",
	InfoInstanceName: "swagger",
	SwaggerTemplate:  docTemplate,
	LeftDelim:        "{{",
	RightDelim:       "}}",
}

func init() {
	swag.Register(SwaggerInfo.InstanceName(), SwaggerInfo)
}
