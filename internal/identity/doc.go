// Package identity resolves the database role a request acts as.
//
// Credentials are verified upstream; this package only reads the signed
// access token a client presents. The token is looked up, in order, in the
// Authorization bearer header, the access token query parameter and the
// custom access token header. A missing, expired or badly signed token is
// not an error: the request simply acts as the anonymous role.
package identity
