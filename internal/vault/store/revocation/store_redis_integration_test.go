//go:build integration

package revocation_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"membergate/internal/vault/store/revocation"
	id "membergate/pkg/domain"
	"membergate/pkg/testutil/containers"
)

type RedisCacheSuite struct {
	suite.Suite
	redis *containers.RedisContainer
	cache *revocation.RedisCache
}

func TestRedisCacheSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	suite.Run(t, new(RedisCacheSuite))
}

func (s *RedisCacheSuite) SetupSuite() {
	s.redis = containers.NewRedisContainer(s.T())
	s.cache = revocation.NewRedisCache(s.redis.Client, 5*time.Minute)
}

func (s *RedisCacheSuite) SetupTest() {
	ctx := context.Background()
	err := s.redis.FlushAll(ctx)
	s.Require().NoError(err)
}

func (s *RedisCacheSuite) TestMarkAndCheck() {
	ctx := context.Background()
	credentialID := id.NewCredentialID()

	revoked, err := s.cache.IsRevoked(ctx, credentialID)
	s.Require().NoError(err)
	s.False(revoked, "unknown credential must not read as revoked")

	s.Require().NoError(s.cache.MarkRevoked(ctx, credentialID))

	revoked, err = s.cache.IsRevoked(ctx, credentialID)
	s.Require().NoError(err)
	s.True(revoked)
}

func (s *RedisCacheSuite) TestMarkIsIdempotent() {
	ctx := context.Background()
	credentialID := id.NewCredentialID()

	s.Require().NoError(s.cache.MarkRevoked(ctx, credentialID))
	s.Require().NoError(s.cache.MarkRevoked(ctx, credentialID))

	revoked, err := s.cache.IsRevoked(ctx, credentialID)
	s.Require().NoError(err)
	s.True(revoked)
}

func (s *RedisCacheSuite) TestEntriesAreScopedPerCredential() {
	ctx := context.Background()
	revokedID := id.NewCredentialID()
	liveID := id.NewCredentialID()

	s.Require().NoError(s.cache.MarkRevoked(ctx, revokedID))

	revoked, err := s.cache.IsRevoked(ctx, liveID)
	s.Require().NoError(err)
	s.False(revoked, "revoking one credential must not taint another")
}
