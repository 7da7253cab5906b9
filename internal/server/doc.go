// Package server implements the HTTP server and handlers of the manga
// reader backend: the lazy initialization guard in front of /api, the
// auth-token credential check, the /uploads asset route and the admin
// page upload. It wires the routes to their dependencies (database,
// asset store, authenticator) and provides lifecycle helpers used by
// tests and the production binary.
package server
