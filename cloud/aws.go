package cloud

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/credentials"
	"github.com/aws/aws-sdk-go/aws/ec2metadata"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/secretsmanager"
	"github.com/ruteri/runtime-init/interfaces"
	"github.com/ruteri/runtime-init/resolver"
)

// AWSOptions override the endpoints and credentials of the AWS provider.
// Zero values use the SDK defaults.
type AWSOptions struct {
	Region           string
	SecretsEndpoint  string
	MetadataEndpoint string
	Credentials      *credentials.Credentials
	// Timeout bounds each Secrets Manager request. Zero uses resolver.DefaultTimeout.
	Timeout time.Duration
}

// AWS reads secrets from Secrets Manager and metadata from EC2 IMDS.
type AWS struct {
	Base
	log  *slog.Logger
	opts AWSOptions
	sess *session.Session

	metadata *ec2metadata.EC2Metadata

	mu      sync.Mutex
	secrets *secretsmanager.SecretsManager
}

// NewAWS creates the provider. No request is made until first use.
func NewAWS(log *slog.Logger, opts AWSOptions) (*AWS, error) {
	cfg := aws.Config{}
	if opts.Credentials != nil {
		cfg.Credentials = opts.Credentials
	}
	sess, err := session.NewSession(&cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create AWS session: %w", err)
	}

	metaCfg := &aws.Config{}
	if opts.MetadataEndpoint != "" {
		metaCfg.Endpoint = aws.String(opts.MetadataEndpoint)
	}

	return &AWS{
		log:      log,
		opts:     opts,
		sess:     sess,
		metadata: ec2metadata.New(sess, metaCfg),
	}, nil
}

func (a *AWS) secretsClient(ctx context.Context) (*secretsmanager.SecretsManager, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.secrets != nil {
		return a.secrets, nil
	}

	region := a.opts.Region
	if region == "" {
		r, err := a.metadata.RegionWithContext(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to determine region from instance metadata: %w", err)
		}
		region = r
	}

	timeout := a.opts.Timeout
	if timeout <= 0 {
		timeout = resolver.DefaultTimeout
	}
	cfg := &aws.Config{
		Region:     aws.String(region),
		HTTPClient: resolver.NewHTTPClient(timeout, false),
	}
	if a.opts.SecretsEndpoint != "" {
		cfg.Endpoint = aws.String(a.opts.SecretsEndpoint)
	}
	a.secrets = secretsmanager.New(a.sess, cfg)
	return a.secrets, nil
}

// GetSecret reads a Secrets Manager secret. A version starting with "AWS"
// selects a staging label, any other version a version id. With a field the
// secret string is decoded as JSON and the field returned.
func (a *AWS) GetSecret(ctx context.Context, spec interfaces.SecretProvider) (string, error) {
	client, err := a.secretsClient(ctx)
	if err != nil {
		return "", err
	}

	input := &secretsmanager.GetSecretValueInput{SecretId: aws.String(spec.SecretID)}
	switch {
	case spec.Version == "":
	case strings.HasPrefix(spec.Version, "AWS"):
		input.VersionStage = aws.String(spec.Version)
	default:
		input.VersionId = aws.String(spec.Version)
	}

	out, err := client.GetSecretValueWithContext(ctx, input)
	if err != nil {
		a.log.Error("Failed to read secret from Secrets Manager", slog.String("secret", spec.SecretID), "err", err)
		return "", fmt.Errorf("failed to get secret %s: %w", spec.SecretID, err)
	}

	value := aws.StringValue(out.SecretString)
	if out.SecretString == nil {
		value = string(out.SecretBinary)
	}
	if spec.Field != "" {
		return jsonField(value, spec.Field)
	}
	return value, nil
}

// GetMetadata reads instance metadata.
//
//   - compute: the metadata path named by field, e.g. "hostname"
//   - network: field of the interface with device number index; "local-ipv4s"
//     yields the first address with the subnet prefix length
//   - uri:     the metadata path in value
func (a *AWS) GetMetadata(ctx context.Context, spec interfaces.MetadataProvider) (string, error) {
	switch spec.Type {
	case "compute":
		return a.get(ctx, spec.Field)
	case "uri":
		return a.get(ctx, strings.TrimPrefix(spec.Value, "/latest/meta-data/"))
	case "network":
		return a.networkField(ctx, spec.Index, spec.Field)
	default:
		return "", fmt.Errorf("unsupported metadata type %q", spec.Type)
	}
}

func (a *AWS) get(ctx context.Context, path string) (string, error) {
	value, err := a.metadata.GetMetadataWithContext(ctx, path)
	if err != nil {
		return "", fmt.Errorf("failed to read instance metadata %s: %w", path, err)
	}
	return strings.TrimSpace(value), nil
}

func (a *AWS) networkField(ctx context.Context, index int, field string) (string, error) {
	macs, err := a.get(ctx, "network/interfaces/macs/")
	if err != nil {
		return "", err
	}

	for _, mac := range strings.Fields(macs) {
		mac = strings.TrimSuffix(mac, "/")
		prefix := "network/interfaces/macs/" + mac + "/"

		device, err := a.get(ctx, prefix+"device-number")
		if err != nil {
			return "", err
		}
		if n, err := strconv.Atoi(device); err != nil || n != index {
			continue
		}

		value, err := a.get(ctx, prefix+field)
		if err != nil {
			return "", err
		}
		values := strings.Fields(value)
		if len(values) == 0 {
			return "", fmt.Errorf("empty %s for interface %d", field, index)
		}
		value = values[0]
		if field != "local-ipv4s" {
			return value, nil
		}

		cidr, err := a.get(ctx, prefix+"subnet-ipv4-cidr-block")
		if err != nil {
			return "", err
		}
		_, subnet, err := net.ParseCIDR(cidr)
		if err != nil {
			return "", fmt.Errorf("invalid subnet %q: %w", cidr, err)
		}
		ones, _ := subnet.Mask.Size()
		return fmt.Sprintf("%s/%d", value, ones), nil
	}
	return "", fmt.Errorf("no network interface with device number %d", index)
}

// jsonField decodes value as a JSON object and returns field as a string.
func jsonField(value, field string) (string, error) {
	var doc map[string]any
	if err := json.Unmarshal([]byte(value), &doc); err != nil {
		return "", fmt.Errorf("secret is not a JSON object, cannot read field %q: %w", field, err)
	}
	v, ok := doc[field]
	if !ok {
		return "", fmt.Errorf("secret has no field %q", field)
	}
	if s, ok := v.(string); ok {
		return s, nil
	}
	encoded, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return string(encoded), nil
}
