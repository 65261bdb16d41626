package proxy

import "net/http"

// notImplementedHandler answers with 501 for a route whose contract is
// visible in spec.md §6 but whose collaborator (analysis, config UI,
// monitor UI) is explicitly out of scope. Registering the route keeps the
// interface discoverable instead of 404ing silently.
func notImplementedHandler(w http.ResponseWriter, r *http.Request) {
	http.Error(w, "not implemented: out of scope for this service", http.StatusNotImplemented)
}
