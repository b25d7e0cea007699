// Package bucketing assigns accounts to fixed partition buckets so the
// account table keyed by (bucket, id) spreads evenly across the cluster.
package bucketing

import (
	"hash"
	"sync"

	"github.com/spaolacci/murmur3"

	"verification-service/internal/config"
)

type BucketingManager struct {
	accountBuckets int
	hasherPool     sync.Pool
}

func NewBucketingManager(cfg *config.Config) *BucketingManager {
	bm := &BucketingManager{
		accountBuckets: cfg.Bucketing.AccountBuckets,
	}

	// Pool of hash functions to avoid allocation on the hot path
	bm.hasherPool = sync.Pool{
		New: func() interface{} {
			return murmur3.New64()
		},
	}

	return bm
}

// AccountBucket returns a consistent bucket for an account ID
// (0 to accountBuckets-1).
func (bm *BucketingManager) AccountBucket(accountID string) int {
	return int(bm.getHash(accountID) % uint64(bm.accountBuckets))
}

// AccountBuckets returns the configured bucket count.
func (bm *BucketingManager) AccountBuckets() int {
	return bm.accountBuckets
}

func (bm *BucketingManager) getHash(key string) uint64 {
	hasher := bm.hasherPool.Get().(hash.Hash64)
	defer bm.hasherPool.Put(hasher)

	hasher.Reset()
	hasher.Write([]byte(key))
	return hasher.Sum64()
}
