// Package identity verifies access tokens issued by the identity provider
// and keeps a user's session alive across token expiry.
package identity
