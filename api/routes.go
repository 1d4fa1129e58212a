package api

import (
	"fmt"
	"net/url"
	"strings"
)

// Route constants for the API endpoints

const (
	// Health endpoints
	PingEndpoint = "/ping" // Health check endpoint

	// Network endpoints
	KeysEndpoint = "/v1/keys" // GET: network public key, signers and verifying contracts

	// Input endpoints
	InputProofEndpoint = "/v1/input-proof" // POST: register a sealed input batch

	// Decryption endpoints
	UserDecryptEndpoint   = "/v1/user-decrypt"   // POST: re-encrypt a handle for a user
	PublicDecryptEndpoint = "/v1/public-decrypt" // POST: decrypt a publicly decryptable handle

	// Computation endpoints
	ComputeEndpoint = "/v1/compute" // POST: evaluate an operation over two handles

	// ACL endpoints
	HandleURLParam     = "handle"                                                     // URL parameter for a handle
	AddressURLParam    = "address"                                                    // URL parameter for an address
	ACLAllowEndpoint   = "/v1/acl/allow"                                              // POST: grant an address access to a handle
	ACLPublicEndpoint  = "/v1/acl/public"                                             // POST: make a handle publicly decryptable
	ACLAllowedEndpoint = "/v1/acl/{" + HandleURLParam + "}/{" + AddressURLParam + "}" // GET: check a grant
)

// RequestIDHeader carries the request identifier set by clients.
const RequestIDHeader = "X-Request-Id"

// EndpointWithParam creates an endpoint URL by replacing the parameter
// placeholder with the actual value. Used to build fully qualified
// endpoint URLs.
func EndpointWithParam(path, key, param string) string {
	rawKey := fmt.Sprintf("{%s}", key)

	// Always try to replace the placeholder, even if it's after the '?'
	if strings.Contains(path, rawKey) {
		return strings.Replace(path, rawKey, url.PathEscape(param), 1)
	}

	// Fallback: add as query param
	escapedKey := url.QueryEscape(key)
	escapedVal := url.QueryEscape(param)

	sep := "?"
	if strings.Contains(path, "?") {
		sep = "&"
	}

	return fmt.Sprintf("%s%s%s=%s", path, sep, escapedKey, escapedVal)
}

// LogExcludedPrefixes defines URL prefixes to exclude from request logging
var LogExcludedPrefixes = []string{
	PingEndpoint,
	KeysEndpoint,
}
