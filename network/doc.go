// Package network implements the mesh Transport collaborator over
// plain HTTP between known peer addresses. It exists for deployments
// and tests that want real sockets instead of the in-memory mesh; the
// bridge treats both identically, and neither gets any delivery
// guarantee beyond best effort.
package network
