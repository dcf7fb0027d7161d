//go:build integration
// +build integration

package s3_test

import (
	"context"
	"fmt"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsConfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	awss3 "github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/localstack"

	"github.com/openpuc/scrapers/pkg/storage"
	"github.com/openpuc/scrapers/pkg/storage/s3"
)

func TestS3BackendIntegration(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	ctx := context.Background()

	lsContainer, err := localstack.RunContainer(ctx,
		testcontainers.WithImage("localstack/localstack:3.0"),
		testcontainers.WithEnv(map[string]string{"SERVICES": "s3"}),
	)
	require.NoError(t, err, "failed to start LocalStack")
	defer lsContainer.Terminate(ctx)

	mappedPort, err := lsContainer.MappedPort(ctx, "4566/tcp")
	require.NoError(t, err)
	host, err := lsContainer.Host(ctx)
	require.NoError(t, err)
	endpoint := fmt.Sprintf("http://%s:%s", host, mappedPort.Port())

	require.NoError(t, createBucket(ctx, endpoint, "openpuc-intermediates"))

	backend, err := s3.New(ctx, storage.Config{
		Name:    "s3_test",
		Type:    "s3",
		Enabled: true,
		Options: map[string]interface{}{
			"endpoint":          endpoint,
			"region":            "us-east-1",
			"bucket":            "openpuc-intermediates",
			"prefix":            "scrapers",
			"access_key_id":     "test",
			"secret_access_key": "test",
			"force_path_style":  true,
		},
	})
	require.NoError(t, err)
	defer backend.Close()

	key := "objects/ny--2024-12-19T10-00-00/caselist.json"
	require.NoError(t, backend.Write(ctx, key, []byte(`{"industries":[]}`)))
	require.NoError(t, backend.Write(ctx, "objects/ny--2024-12-19T10-00-00/cases/case_1.json", []byte(`{}`)))

	data, err := backend.Read(ctx, key)
	require.NoError(t, err)
	assert.JSONEq(t, `{"industries":[]}`, string(data))

	files, err := backend.List(ctx, "objects/ny--*")
	require.NoError(t, err)
	assert.Len(t, files, 2)

	info, err := backend.Stat(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, int64(len(`{"industries":[]}`)), info.Size)

	require.NoError(t, backend.Delete(ctx, key))
	exists, err := backend.Exists(ctx, key)
	require.NoError(t, err)
	assert.False(t, exists)

	_, err = backend.Read(ctx, key)
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func createBucket(ctx context.Context, endpoint, bucket string) error {
	cfg, err := awsConfig.LoadDefaultConfig(ctx,
		awsConfig.WithRegion("us-east-1"),
		awsConfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider("test", "test", "")),
	)
	if err != nil {
		return fmt.Errorf("failed to load AWS config: %w", err)
	}

	client := awss3.NewFromConfig(cfg, func(o *awss3.Options) {
		o.BaseEndpoint = aws.String(endpoint)
		o.UsePathStyle = true
	})

	if _, err := client.CreateBucket(ctx, &awss3.CreateBucketInput{Bucket: aws.String(bucket)}); err != nil {
		return fmt.Errorf("failed to create bucket: %w", err)
	}
	return nil
}
