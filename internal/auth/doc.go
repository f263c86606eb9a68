// Package auth issues and validates the bearer tokens that protect the
// terrarium REST API.
//
// There are no user accounts: an operator mints a token for a subject
// (a person, a dashboard, a home-automation hub) with
//
//	terrarium -issue-token dashboard
//
// and the API accepts any HS256 token signed with security.jwt.secret that
// has not expired. When the secret is empty the API runs unauthenticated.
package auth
