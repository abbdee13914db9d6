//go:build integration
// +build integration

package integration

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"os"
	"testing"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/prometheus/client_golang/prometheus/testutil"
	cloudminio "github.com/rossigee/cloudsize/internal/minio"
	"github.com/rossigee/cloudsize/internal/papi"
	"github.com/rossigee/cloudsize/pkg/types"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
)

// ChaosTestSuite tests sync resilience under failure conditions
type ChaosTestSuite struct {
	suite.Suite
	stack *Stack
}

// SetupTest gives every test its own cluster and store
func (suite *ChaosTestSuite) SetupTest() {
	suite.stack = NewStack(suite.T(), 2)
}

// TestTransientErrorsAreRetried survives 503s within the retry budget
func (suite *ChaosTestSuite) TestTransientErrorsAreRetried() {
	s := suite.stack
	s.Cluster.AddJob(1, 101, "completed", s.StubFile(suite.T(), "a", 10))
	s.Cluster.FailNext(2)

	summary, err := s.Manager.Update(context.Background())
	suite.Require().NoError(err)
	suite.Equal(1, summary.Completed)
	suite.Equal(2.0, testutil.ToFloat64(s.Metrics.APIRetries))
}

// TestPersistentErrorsAbortDiscovery surfaces the final status once the budget is spent
func (suite *ChaosTestSuite) TestPersistentErrorsAbortDiscovery() {
	s := suite.stack
	s.Cluster.AddJob(1, 101, "completed", s.StubFile(suite.T(), "a", 10))
	s.Cluster.FailNext(100)

	_, err := s.Manager.Update(context.Background())
	suite.Require().Error(err)

	var statusErr *papi.StatusError
	suite.Require().True(errors.As(err, &statusErr))
	suite.Equal(503, statusErr.StatusCode)
	suite.Equal(3, s.Cluster.Requests("/platform/3/cloud/jobs"))
}

// TestConnectionDropMidPagination leaves the job Processing and resumes it on the next run
func (suite *ChaosTestSuite) TestConnectionDropMidPagination() {
	s := suite.stack
	t := suite.T()
	ctx := context.Background()

	var names []string
	for i := range 5 {
		names = append(names, s.StubFile(t, fmt.Sprintf("f%d", i), 100))
	}
	s.Cluster.AddJob(1, 101, "completed", names...)
	s.Cluster.DropListing(1, 4)

	_, err := s.Manager.Update(ctx)
	suite.Require().ErrorIs(err, papi.ErrTransport)

	job, err := s.Store.GetJob(ctx, "1")
	suite.Require().NoError(err)
	suite.Equal(types.StateProcessing, job.State)

	count, err := s.Store.CountFiles(ctx, "1")
	suite.Require().NoError(err)
	suite.Equal(int64(4), count)

	s.Cluster.Heal()
	summary, err := s.Manager.Update(ctx)
	suite.Require().NoError(err)
	suite.Equal(int64(1), summary.Inserted)

	job, err = s.Store.GetJob(ctx, "1")
	suite.Require().NoError(err)
	suite.Equal(types.StateComplete, job.State)
}

// TestGrowingJobIsRequeued syncs files added to a job after it was mirrored
func (suite *ChaosTestSuite) TestGrowingJobIsRequeued() {
	s := suite.stack
	t := suite.T()
	ctx := context.Background()

	s.Cluster.AddJob(1, 101, "completed", s.StubFile(t, "a", 1), s.StubFile(t, "b", 1))
	_, err := s.Manager.Update(ctx)
	suite.Require().NoError(err)

	s.Cluster.AppendFile(1, s.StubFile(t, "c", 1))
	complete, err := s.Manager.IsComplete(ctx, "1")
	suite.Require().NoError(err)
	suite.False(complete)

	summary, err := s.Manager.Update(ctx)
	suite.Require().NoError(err)
	suite.Equal(int64(1), summary.Inserted)

	count, err := s.Store.CountFiles(ctx, "1")
	suite.Require().NoError(err)
	suite.Equal(int64(3), count)
}

// TestSnapshotUpload sends a store snapshot to a real MinIO server
func (suite *ChaosTestSuite) TestSnapshotUpload() {
	endpoint := os.Getenv("TEST_MINIO_ENDPOINT")
	if endpoint == "" {
		suite.T().Skip("TEST_MINIO_ENDPOINT not set")
	}

	accessKey := os.Getenv("TEST_MINIO_ACCESS_KEY")
	if accessKey == "" {
		accessKey = "testminio"
	}

	secretKey := os.Getenv("TEST_MINIO_SECRET_KEY")
	if secretKey == "" {
		secretKey = "testminio123"
	}

	u, err := url.Parse(endpoint)
	require.NoError(suite.T(), err)

	admin, err := minio.New(u.Host, &minio.Options{
		Creds:  credentials.NewStaticV4(accessKey, secretKey, ""),
		Secure: u.Scheme == "https",
	})
	require.NoError(suite.T(), err, "Failed to create MinIO client")

	ctx := context.Background()
	bucket := fmt.Sprintf("cloudsize-test-%d", time.Now().Unix())
	require.NoError(suite.T(), admin.MakeBucket(ctx, bucket, minio.MakeBucketOptions{}))

	suite.T().Setenv("MINIO_ACCESS_KEY", accessKey)
	suite.T().Setenv("MINIO_SECRET_KEY", secretKey)

	uploader, err := cloudminio.NewClient(endpoint + "/" + bucket + "/snapshots")
	require.NoError(suite.T(), err)

	object, err := uploader.UploadSnapshot(ctx, suite.stack.Store, "integration")
	require.NoError(suite.T(), err)

	info, err := admin.StatObject(ctx, bucket, object, minio.StatObjectOptions{})
	require.NoError(suite.T(), err)
	suite.Positive(info.Size)

	_ = admin.RemoveObject(ctx, bucket, object, minio.RemoveObjectOptions{})
	_ = admin.RemoveBucket(ctx, bucket)
}

// Run the chaos test suite
func TestChaosSuite(t *testing.T) {
	suite.Run(t, new(ChaosTestSuite))
}
