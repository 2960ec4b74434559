package session

import "net/http"

// Cookies is the capability the Manager uses to read and write the session
// cookie on the current request.
type Cookies interface {
	// Get returns the named cookie's value and whether it was present.
	Get(name string) (string, bool)

	// Set writes a cookie with the given max age in seconds.
	Set(name, value string, maxAge int)

	// Delete expires the named cookie.
	Delete(name string)
}

// HTTPCookies implements Cookies over a standard request/response pair.  The
// cookies it writes are HttpOnly with SameSite=Lax; Secure is set when the
// inbound request arrived over TLS.
type HTTPCookies struct {
	W http.ResponseWriter
	R *http.Request
}

func (c HTTPCookies) Get(name string) (string, bool) {
	cookie, err := c.R.Cookie(name)
	if err != nil {
		return "", false
	}
	return cookie.Value, true
}

func (c HTTPCookies) Set(name, value string, maxAge int) {
	http.SetCookie(c.W, &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     "/",
		MaxAge:   maxAge,
		HttpOnly: true,
		Secure:   c.R.TLS != nil,
		SameSite: http.SameSiteLaxMode,
	})
}

func (c HTTPCookies) Delete(name string) {
	http.SetCookie(c.W, &http.Cookie{
		Name:     name,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   c.R.TLS != nil,
		SameSite: http.SameSiteLaxMode,
	})
}
