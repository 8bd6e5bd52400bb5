// Package credentials resolves the signing credentials for the object store.
//
// Sources never log or return secret material in errors.
package credentials

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
	"github.com/aws/smithy-go"

	"github.com/input-output-hk/catalyst-forge-libs/upload/errors"
	"github.com/input-output-hk/catalyst-forge-libs/upload/sigv4"
)

// Source resolves credentials for a region and service.
type Source interface {
	Resolve(ctx context.Context) (sigv4.Credentials, error)
}

// Static returns fixed credentials.
type Static sigv4.Credentials

// Resolve implements Source.
func (s Static) Resolve(context.Context) (sigv4.Credentials, error) {
	c := sigv4.Credentials(s)
	if err := c.Validate(); err != nil {
		return sigv4.Credentials{}, err
	}
	return c, nil
}

// String redacts the secret access key.
func (s Static) String() string {
	return sigv4.Credentials(s).String()
}

// SecretsManagerAPI is the subset of the Secrets Manager client used here.
type SecretsManagerAPI interface {
	GetSecretValue(
		ctx context.Context,
		params *secretsmanager.GetSecretValueInput,
		optFns ...func(*secretsmanager.Options),
	) (*secretsmanager.GetSecretValueOutput, error)
}

var _ SecretsManagerAPI = (*secretsmanager.Client)(nil)

// secretDocument is the JSON shape of the stored secret.
type secretDocument struct {
	AccessKeyID     string `json:"accessKeyId"`
	SecretAccessKey string `json:"secretAccessKey"`
}

// SecretsManager reads an access key pair from a JSON secret.
type SecretsManager struct {
	client   SecretsManagerAPI
	secretID string
	region   string
	service  string
}

// NewSecretsManager returns a source reading secretID through client.
func NewSecretsManager(client SecretsManagerAPI, secretID, region, service string) *SecretsManager {
	return &SecretsManager{client: client, secretID: secretID, region: region, service: service}
}

// Resolve implements Source.
func (s *SecretsManager) Resolve(ctx context.Context) (sigv4.Credentials, error) {
	out, err := s.client.GetSecretValue(ctx, &secretsmanager.GetSecretValueInput{
		SecretId: aws.String(s.secretID),
	})
	if err != nil {
		var apiErr smithy.APIError
		if stderrors.As(err, &apiErr) {
			return sigv4.Credentials{}, errors.NewError("credentials", errors.ErrConfiguration).
				WithMessage(fmt.Sprintf("secret %q: %s", s.secretID, apiErr.ErrorCode()))
		}
		return sigv4.Credentials{}, errors.NewError("credentials", err)
	}

	var raw []byte
	switch {
	case out.SecretString != nil:
		raw = []byte(*out.SecretString)
	case out.SecretBinary != nil:
		raw = out.SecretBinary
	default:
		return sigv4.Credentials{}, errors.NewError("credentials", errors.ErrConfiguration).
			WithMessage(fmt.Sprintf("secret %q is empty", s.secretID))
	}

	var doc secretDocument
	if err := json.Unmarshal(raw, &doc); err != nil {
		return sigv4.Credentials{}, errors.NewError("credentials", errors.ErrConfiguration).
			WithMessage(fmt.Sprintf("secret %q is not a JSON key pair", s.secretID))
	}

	c := sigv4.Credentials{
		AccessKeyID:     doc.AccessKeyID,
		SecretAccessKey: doc.SecretAccessKey,
		Region:          s.region,
		Service:         s.service,
	}
	if err := c.Validate(); err != nil {
		return sigv4.Credentials{}, err
	}
	return c, nil
}

// Chain resolves credentials through the AWS default provider chain
// (environment, shared config, instance role).
type Chain struct {
	region  string
	service string
}

// NewChain returns a source backed by the AWS default credential chain.
func NewChain(region, service string) *Chain {
	return &Chain{region: region, service: service}
}

// Resolve implements Source.
func (c *Chain) Resolve(ctx context.Context) (sigv4.Credentials, error) {
	cfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(c.region))
	if err != nil {
		return sigv4.Credentials{}, errors.NewError("credentials", errors.ErrConfiguration).
			WithMessage(fmt.Sprintf("load aws config: %v", err))
	}
	v, err := cfg.Credentials.Retrieve(ctx)
	if err != nil {
		return sigv4.Credentials{}, errors.NewError("credentials", errors.ErrConfiguration).
			WithMessage("no credentials in default chain")
	}
	creds := sigv4.Credentials{
		AccessKeyID:     v.AccessKeyID,
		SecretAccessKey: v.SecretAccessKey,
		Region:          c.region,
		Service:         c.service,
	}
	if err := creds.Validate(); err != nil {
		return sigv4.Credentials{}, err
	}
	return creds, nil
}

var (
	_ Source = Static{}
	_ Source = (*SecretsManager)(nil)
	_ Source = (*Chain)(nil)
)
