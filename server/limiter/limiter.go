// Copyright 2023 CeresDB Project Authors. Licensed under Apache-2.0.

package limiter

import (
	"sync"

	"github.com/CeresDB/tabletmeta/server/config"
	"golang.org/x/time/rate"
)

// FlowLimiter throttles replica changes with a token bucket shared by every key.
// Keys are action kinds for the dispatcher and route names for the http api.
type FlowLimiter struct {
	l *rate.Limiter
	// RWMutex is used to protect following fields.
	lock                          sync.RWMutex
	tokenBucketFillRate           int
	tokenBucketBurstEventCapacity int
	enable                        bool
	unLimitList                   map[string]struct{}
}

func NewFlowLimiter(config config.LimiterConfig) *FlowLimiter {
	unLimitList := make(map[string]struct{}, len(config.UnLimitList))
	for _, key := range config.UnLimitList {
		unLimitList[key] = struct{}{}
	}

	return &FlowLimiter{
		l:                             rate.NewLimiter(rate.Limit(config.TokenBucketFillRate), config.TokenBucketBurstEventCapacity),
		tokenBucketFillRate:           config.TokenBucketFillRate,
		tokenBucketBurstEventCapacity: config.TokenBucketBurstEventCapacity,
		enable:                        config.Enable,
		unLimitList:                   unLimitList,
	}
}

// Allow reports whether an event of the key may happen now and consumes a token if so.
func (f *FlowLimiter) Allow(key string) bool {
	f.lock.RLock()
	defer f.lock.RUnlock()

	if !f.enable {
		return true
	}
	if _, ok := f.unLimitList[key]; ok {
		return true
	}
	return f.l.Allow()
}

func (f *FlowLimiter) UpdateLimiter(config config.LimiterConfig) error {
	f.lock.Lock()
	defer f.lock.Unlock()

	f.l.SetLimit(rate.Limit(config.TokenBucketFillRate))
	f.l.SetBurst(config.TokenBucketBurstEventCapacity)
	f.tokenBucketFillRate = config.TokenBucketFillRate
	f.tokenBucketBurstEventCapacity = config.TokenBucketBurstEventCapacity
	f.enable = config.Enable
	return nil
}

// UpdateUnLimitList exempts the unLimitKeys from throttling and subjects the limitKeys to it again.
func (f *FlowLimiter) UpdateUnLimitList(unLimitKeys []string, limitKeys []string) error {
	f.lock.Lock()
	defer f.lock.Unlock()

	for _, key := range unLimitKeys {
		f.unLimitList[key] = struct{}{}
	}
	for _, key := range limitKeys {
		delete(f.unLimitList, key)
	}
	return nil
}

func (f *FlowLimiter) GetConfig() config.LimiterConfig {
	f.lock.RLock()
	defer f.lock.RUnlock()

	unLimitList := make([]string, 0, len(f.unLimitList))
	for key := range f.unLimitList {
		unLimitList = append(unLimitList, key)
	}
	return config.LimiterConfig{
		Enable:                        f.enable,
		TokenBucketFillRate:           f.tokenBucketFillRate,
		TokenBucketBurstEventCapacity: f.tokenBucketBurstEventCapacity,
		UnLimitList:                   unLimitList,
	}
}
