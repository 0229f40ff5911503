// Package cryptoutils verifies downloaded artifacts against expected digests
// and provides the certificates used by the status server.
package cryptoutils
