package testutil

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/localstack"
	"github.com/testcontainers/testcontainers-go/wait"
)

// S3Endpoint describes a containerised S3-compatible store.
type S3Endpoint struct {
	URL             string
	Region          string
	AccessKeyID     string
	SecretAccessKey string
}

// Client returns an SDK client for the endpoint using path-style addressing.
func (e S3Endpoint) Client(ctx context.Context) (*s3.Client, error) {
	cfg, err := config.LoadDefaultConfig(ctx,
		config.WithRegion(e.Region),
		config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(e.AccessKeyID, e.SecretAccessKey, "")),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return s3.NewFromConfig(cfg, func(o *s3.Options) {
		o.UsePathStyle = true
		o.BaseEndpoint = aws.String(e.URL)
	}), nil
}

// StartLocalStack starts a LocalStack container with S3 and stops it when
// the test ends. It skips in short mode.
func StartLocalStack(t *testing.T) S3Endpoint {
	t.Helper()
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	ctx := context.Background()
	container, err := localstack.Run(ctx,
		"localstack/localstack:latest",
		testcontainers.WithWaitStrategy(
			wait.ForHTTP("/_localstack/health").
				WithPort("4566").
				WithStartupTimeout(2*time.Minute),
		),
	)
	if err != nil {
		t.Fatalf("Failed to start LocalStack container: %v", err)
	}
	t.Cleanup(func() {
		if err := container.Terminate(ctx); err != nil {
			t.Logf("Failed to terminate LocalStack container: %v", err)
		}
	})

	return S3Endpoint{
		URL:             endpoint(ctx, t, container),
		Region:          "us-east-1",
		AccessKeyID:     "test",
		SecretAccessKey: "test",
	}
}

// StartMinIO starts a MinIO server and stops it when the test ends. It skips
// in short mode.
func StartMinIO(t *testing.T) S3Endpoint {
	t.Helper()
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	const user, password = "minioadmin", "minioadmin-secret"
	ctx := context.Background()
	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "minio/minio:latest",
			Cmd:          []string{"server", "/data"},
			ExposedPorts: []string{"9000/tcp"},
			Env: map[string]string{
				"MINIO_ROOT_USER":     user,
				"MINIO_ROOT_PASSWORD": password,
			},
			WaitingFor: wait.ForHTTP("/minio/health/live").
				WithPort("9000").
				WithStartupTimeout(2 * time.Minute),
		},
		Started: true,
	})
	if err != nil {
		t.Fatalf("Failed to start MinIO container: %v", err)
	}
	t.Cleanup(func() {
		if err := container.Terminate(ctx); err != nil {
			t.Logf("Failed to terminate MinIO container: %v", err)
		}
	})

	return S3Endpoint{
		URL:             endpoint(ctx, t, container),
		Region:          "us-east-1",
		AccessKeyID:     user,
		SecretAccessKey: password,
	}
}

// endpoint returns the http URL of the container's first exposed port.
func endpoint(ctx context.Context, t *testing.T, c testcontainers.Container) string {
	t.Helper()
	url, err := c.Endpoint(ctx, "http")
	if err != nil {
		t.Fatalf("Failed to get container endpoint: %v", err)
	}
	return url
}

// CreateBucket creates bucket on the endpoint.
func CreateBucket(ctx context.Context, client *s3.Client, bucket string) error {
	if _, err := client.CreateBucket(ctx, &s3.CreateBucketInput{Bucket: aws.String(bucket)}); err != nil {
		return fmt.Errorf("failed to create bucket: %w", err)
	}
	return nil
}
