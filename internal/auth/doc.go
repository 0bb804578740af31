// Package auth provides authorisation for the administrative surface of
// Gray Logic Monitor.
//
// Operators authenticate with HS256 JWT access tokens issued out of band.
// A token carries a subject and a role; roles map to a static permission
// set (compile-time, no database lookup):
//   - viewer: read tags, entities and command state
//   - operator: viewer plus command execution
//   - admin: operator plus tag configuration and supervision start/stop
//
// Read-only HTTP routes and the WebSocket feed do not require a token.
package auth
