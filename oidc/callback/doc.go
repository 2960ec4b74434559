// callback provides an http.HandlerFunc for the authorization-code callback
// leg of the sign-in flow.  The handler validates and consumes the attempt's
// transaction cookie, performs the code exchange, and then delegates to
// caller-supplied success and error response functions, since what a
// relying party does after sign-in (write a session, redirect, render) is
// application policy.
package callback
