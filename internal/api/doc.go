// Package api implements the HTTP REST API and WebSocket server for SnapDog.
//
// This package provides:
//   - REST endpoints generated from the feature registry, one per zone and
//     client feature, plus system and media browsing endpoints
//   - WebSocket hub that pushes every status notification to subscribers
//   - Optional JWT bearer authentication on mutating routes, with
//     ticket-based WebSocket auth
//   - Per-client rate limiting and the usual middleware stack (request ID,
//     logging, recovery, CORS, body limit)
//
// # Architecture
//
// The API is one of three transports in front of the command pipeline. A
// command route decodes its body into the feature's argument, builds the
// command with Source api and Sends it; the pipeline's outcome is answered
// synchronously. Status routes Query the pipeline and project one value out
// of the zone or client snapshot.
//
//	PUT /api/v1/zones/1/volume  {"value": 40}
//	      │
//	      ▼
//	command.FromFeature(VOLUME, 1, api, 40) ──► pipeline.Send ──► 204 / error
//	                                                 │
//	                                       notify.Dispatcher
//	                                                 │
//	                                         Hub.HandleNotification
//	                                                 │
//	                     {"type":"VOLUME_STATUS","zone":1,"value":40}
//
// # Errors
//
// Pipeline failures map to HTTP statuses by kind: validation 400,
// unauthorized 401, not found 404, unsupported 501, external service 502,
// timeout 504, cancelled 499 and internal 500.
//
// # Security
//
// With api.auth.enabled, command routes require a bearer token whose role
// grants the feature's permission (see package auth). Reads stay open.
// WebSocket connections use single-use tickets so tokens never appear in
// URLs.
package api
