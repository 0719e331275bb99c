//go:build integration

package main

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"enrolld/internal/enrollment/store/pending"
	"enrolld/pkg/testutil/containers"
)

// CLIRedisSuite runs the CLI against the Redis locks the server uses.
type CLIRedisSuite struct {
	CLISuite
	redis *containers.RedisContainer
}

func TestCLIRedisSuite(t *testing.T) {
	suite.Run(t, new(CLIRedisSuite))
}

func (s *CLIRedisSuite) SetupSuite() {
	s.redis = containers.GetManager().GetRedis(s.T())
}

func (s *CLIRedisSuite) SetupTest() {
	s.CLISuite.SetupTest()
	s.Require().NoError(s.redis.FlushAll(context.Background()))
	s.T().Setenv("ENROLLD_REDIS_URL", s.redis.URL)
}

func (s *CLIRedisSuite) runWithTimeout(timeout time.Duration, args ...string) error {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	var out, errOut bytes.Buffer
	cmd := newRootCmd(&out, &errOut)
	cmd.SetArgs(args)
	return cmd.ExecuteContext(ctx)
}

func (s *CLIRedisSuite) TestRemoveWaitsForTheServerLock() {
	serverLocks := pending.NewRedisLocker(s.redis.Client, time.Minute)
	unlock, err := serverLocks.Lock(context.Background(), "pending:30111222")
	s.Require().NoError(err)

	err = s.runWithTimeout(time.Second, "pending", "remove", "30111222")
	s.Require().Error(err, "remove must not run while another process holds the application")

	out, err := s.run("pending", "show", "30111222")
	s.Require().NoError(err)
	s.Contains(out, "30111222")

	unlock()
	_, err = s.run("pending", "remove", "30111222")
	s.Require().NoError(err)
	_, err = s.run("pending", "show", "30111222")
	s.Require().ErrorContains(err, "application not found")
}
