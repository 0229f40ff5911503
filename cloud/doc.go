// Package cloud implements interfaces.CloudClient for the environments the
// appliance boots in.
//
// Every provider embeds Base, which answers interfaces.ErrNotImplemented, and
// overrides only what its environment offers:
//
//   - aws:       Secrets Manager and the EC2 instance metadata service
//   - gcp:       Secret Manager and the GCE metadata server
//   - azure:     Key Vault (managed identity) and the instance metadata service
//   - hashicorp: Vault KV secrets, optionally after an AppRole login
//
// Dispatcher routes each request to a provider by its environment field and
// constructs providers on first use, so a document only referencing one
// environment never touches the others.
package cloud
