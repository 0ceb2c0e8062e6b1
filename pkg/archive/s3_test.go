package archive

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Ramsey-B/fern/pkg/codec"
	"github.com/Ramsey-B/fern/pkg/models"
)

type fakeS3 struct {
	inputs []*s3.PutObjectInput
	bodies []string
	err    error
}

func (f *fakeS3) PutObject(_ context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	if f.err != nil {
		return nil, f.err
	}
	body, _ := io.ReadAll(in.Body)
	f.inputs = append(f.inputs, in)
	f.bodies = append(f.bodies, string(body))
	return &s3.PutObjectOutput{}, nil
}

func TestS3Archiver(t *testing.T) {
	client := &fakeS3{}
	archiver := newS3Archiver(client, "payloads", "/fern/", ectologger.NewEctoLogger(func(_ ectologger.EctoLogMessage) {}))

	cfg := &models.ImportConfiguration{ID: uuid.MustParse("6f1c1c1e-8f3a-4a53-9d7b-3c3f0b0a1e11"), SourceID: "src-1"}
	payload, err := codec.BuildNdJson([]models.CustomDataItem{{ID: "a", Properties: map[string]any{"x": 1}}})
	require.NoError(t, err)

	at := time.Date(2024, 3, 10, 12, 30, 5, 0, time.UTC)
	require.NoError(t, archiver.Archive(context.Background(), cfg, at, payload))

	require.Len(t, client.inputs, 1)
	in := client.inputs[0]
	assert.Equal(t, "payloads", aws.ToString(in.Bucket))
	assert.Equal(t, "fern/src-1/6f1c1c1e-8f3a-4a53-9d7b-3c3f0b0a1e11/2024/03/10/20240310T123005.000Z.ndjson", aws.ToString(in.Key))
	assert.Equal(t, codec.ContentType, aws.ToString(in.ContentType))
	assert.Equal(t, "1", in.Metadata["item-count"])
	assert.Equal(t, payload, client.bodies[0])

	client.err = errors.New("access denied")
	err = archiver.Archive(context.Background(), cfg, at, payload)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "s3://payloads/")
}
