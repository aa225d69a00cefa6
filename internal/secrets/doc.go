// Package secrets fetches named secrets from Azure Key Vault and classifies
// the ways that can fail.
//
// Failures are reported as *Error values carrying a Kind. The kind is what
// callers outside the process get to see; the wrapped cause is meant for
// operator logs only.
package secrets
