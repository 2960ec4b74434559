// session manages the longer-lived session record attached to a browser: an
// opaque session id held by exactly one cookie on the client, mirrored as the
// key of a pluggable backing store on the server.  The Manager is generic
// over the application's session payload and is constructed per request with
// that request's cookie capability.
//
// Expiry is dual.  An absolute ceiling runs from the session's first
// issuance and never moves; an inactivity ceiling slides forward every time
// the session is validly read.  When the inactivity ceiling passes, Get can
// hand the expired payload to a caller-supplied callback (typically a token
// refresh) and rewrite the session with the replacement; when the absolute
// ceiling passes the cookie no longer decrypts and the session is simply
// gone.
//
// Mutating a session through Update allocates a fresh session id rather than
// reusing the one the browser arrived with, so a login can never be
// correlated to a pre-existing attacker-controlled id.
//
// Reads and writes to the backing store are not atomic across concurrent
// requests for the same session id; the last writer wins.  Concurrent
// refreshes of the same expired session may both fetch tokens and both
// write, and only one write survives.
package session
