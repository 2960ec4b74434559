// rpflow provides a collection of related packages which implement the
// relying-party side of the OIDC authorization code flow with PKCE, along with
// the encrypted transaction and session state needed to run that flow safely
// over stateless HTTP.
//
// See README.md
package rpflow
