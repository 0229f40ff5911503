package interfaces

import (
	"fmt"
	"time"
)

// OnboardConfig is the declarative configuration document consumed by a run.
// Field names and nesting are part of the compatibility surface. Unknown keys
// are ignored by the loader.
type OnboardConfig struct {
	Controls          Controls           `yaml:"controls" json:"controls"`
	RuntimeParameters []RuntimeParameter `yaml:"runtime_parameters" json:"runtime_parameters"`
	PreOnboard        []Operation        `yaml:"pre_onboard_enabled" json:"pre_onboard_enabled"`
	BigIPReady        []Operation        `yaml:"bigip_ready_enabled" json:"bigip_ready_enabled"`
	ExtensionPackages ExtensionPackages  `yaml:"extension_packages" json:"extension_packages"`
	ExtensionServices ExtensionServices  `yaml:"extension_services" json:"extension_services"`
	PostOnboard       []Operation        `yaml:"post_onboard_enabled" json:"post_onboard_enabled"`
	PostHooks         []PostHook         `yaml:"post_hook" json:"post_hook"`
}

// Controls tune the behaviour of a run.
type Controls struct {
	LogLevel                  string       `yaml:"logLevel" json:"logLevel"`
	ExtensionInstallDelayInMs int          `yaml:"extensionInstallDelayInMs" json:"extensionInstallDelayInMs"`
	ExtensionMetadataURL      string       `yaml:"extensionMetadataUrl" json:"extensionMetadataUrl"`
	RequireExtensionHash      bool         `yaml:"requireExtensionHash" json:"requireExtensionHash"`
	DownloadDir               string       `yaml:"downloadDir" json:"downloadDir"`
	ReadyCheck                *RetryPolicy `yaml:"readyCheck" json:"readyCheck"`
	DefaultRetry              *RetryPolicy `yaml:"defaultRetry" json:"defaultRetry"`
}

// ExtensionPackages holds the extension install stage.
type ExtensionPackages struct {
	InstallOperations []ExtensionInstallSpec `yaml:"install_operations" json:"install_operations"`
}

// ExtensionServices holds the extension configure stage.
type ExtensionServices struct {
	ServiceOperations []ServiceOperation `yaml:"service_operations" json:"service_operations"`
}

// OperationType selects how the commands of an Operation are interpreted.
type OperationType string

const (
	// OperationInline commands are passed to the shell as-is.
	OperationInline OperationType = "inline"
	// OperationFile commands name local executable paths.
	OperationFile OperationType = "file"
	// OperationURL commands name remote scripts that are downloaded, then executed.
	OperationURL OperationType = "url"
)

// Operation is one step within a phase.
type Operation struct {
	Name          string        `yaml:"name" json:"name"`
	Type          OperationType `yaml:"type" json:"type"`
	Commands      []string      `yaml:"commands" json:"commands"`
	VerifyTLS     *bool         `yaml:"verifyTls" json:"verifyTls"`
	MaxRetries    *int          `yaml:"maxRetries" json:"maxRetries"`
	RetryInterval *int          `yaml:"retryInterval" json:"retryInterval"`
	IgnoreErrors  bool          `yaml:"ignoreErrors" json:"ignoreErrors"`
}

// Policy returns the retry policy of the operation, taking unset fields from def.
func (o Operation) Policy(def RetryPolicy) RetryPolicy {
	if o.MaxRetries != nil {
		def.MaxRetries = *o.MaxRetries
	}
	if o.RetryInterval != nil {
		def.RetryInterval = *o.RetryInterval
	}
	return def
}

// ExtensionInstallSpec describes one extension package to install.
type ExtensionInstallSpec struct {
	ExtensionType                 string `yaml:"extensionType" json:"extensionType"`
	ExtensionVersion              string `yaml:"extensionVersion" json:"extensionVersion"`
	ExtensionURL                  string `yaml:"extensionUrl" json:"extensionUrl"`
	ExtensionHash                 string `yaml:"extensionHash" json:"extensionHash"`
	ExtensionVerificationEndpoint string `yaml:"extensionVerificationEndpoint" json:"extensionVerificationEndpoint"`
	VerifyTLS                     *bool  `yaml:"verifyTls" json:"verifyTls"`
}

// ServiceOperation applies one declarative payload to an installed extension.
type ServiceOperation struct {
	ExtensionType string `yaml:"extensionType" json:"extensionType"`
	// Type is "url" when Value is a location, "inline" when Value is the payload itself.
	Type      string `yaml:"type" json:"type"`
	Value     any    `yaml:"value" json:"value"`
	Endpoint  string `yaml:"endpoint" json:"endpoint"`
	Method    string `yaml:"method" json:"method"`
	VerifyTLS *bool  `yaml:"verifyTls" json:"verifyTls"`
}

// PostHook is notified once the run has finished.
type PostHook struct {
	Name       string            `yaml:"name" json:"name"`
	Type       string            `yaml:"type" json:"type"`
	URL        string            `yaml:"url" json:"url"`
	VerifyTLS  *bool             `yaml:"verifyTls" json:"verifyTls"`
	Properties map[string]string `yaml:"properties" json:"properties"`
}

// Header is a single HTTP header attached to url parameters.
type Header struct {
	Name  string `yaml:"name" json:"name"`
	Value string `yaml:"value" json:"value"`
}

// RetryPolicy bounds retries of a single call site.
// RetryInterval is expressed in milliseconds.
type RetryPolicy struct {
	MaxRetries    int `yaml:"maxRetries" json:"maxRetries"`
	RetryInterval int `yaml:"retryInterval" json:"retryInterval"`
}

var (
	// DefaultRetryPolicy applies to network calls: parameter resolution, downloads, API requests.
	DefaultRetryPolicy = RetryPolicy{MaxRetries: 20, RetryInterval: 5000}

	// DefaultOperationPolicy applies to shell operations, which are not idempotent.
	DefaultOperationPolicy = RetryPolicy{MaxRetries: 1, RetryInterval: 0}

	// DefaultReadyPolicy sizes readiness polling for the appliance's worst-case boot.
	DefaultReadyPolicy = RetryPolicy{MaxRetries: 120, RetryInterval: 10000}
)

// Interval returns the delay between attempts.
func (p RetryPolicy) Interval() time.Duration {
	return time.Duration(p.RetryInterval) * time.Millisecond
}

// Validate checks the policy bounds.
func (p RetryPolicy) Validate() error {
	if p.MaxRetries < 0 {
		return fmt.Errorf("maxRetries must be >= 0, got %d", p.MaxRetries)
	}
	if p.RetryInterval < 0 {
		return fmt.Errorf("retryInterval must be >= 0, got %d", p.RetryInterval)
	}
	return nil
}

// PolicyOr returns *p, or def when p is nil.
func PolicyOr(p *RetryPolicy, def RetryPolicy) RetryPolicy {
	if p == nil {
		return def
	}
	return *p
}

// BoolOr returns *b, or def when b is nil.
func BoolOr(b *bool, def bool) bool {
	if b == nil {
		return def
	}
	return *b
}
