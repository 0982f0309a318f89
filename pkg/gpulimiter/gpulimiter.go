package gpulimiter

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/sirupsen/logrus"
)

// GPULimiter 基于Redis的训练槽位限流器
// 同一台训练主机可能被多个流水线进程同时使用, 通过Redis计数器限制并发训练数,
// 避免显存被多个训练任务挤爆。client 为 nil 时限流关闭, 直接放行。
type GPULimiter struct {
	client        *redis.Client
	maxConcurrent int
	keyPrefix     string
	ttl           time.Duration
	maxWait       time.Duration
	logger        *logrus.Logger
}

// NewGPULimiter 创建训练槽位限流器
func NewGPULimiter(client *redis.Client, maxConcurrent int, maxWait time.Duration, logger *logrus.Logger) *GPULimiter {
	return &GPULimiter{
		client:        client,
		maxConcurrent: maxConcurrent,
		keyPrefix:     "train_slot:",
		ttl:           6 * time.Hour,
		maxWait:       maxWait,
		logger:        logger,
	}
}

// Acquire 获取训练槽位(带轮询等待和指数退避)
func (gl *GPULimiter) Acquire(ctx context.Context, key string) error {
	if gl.client == nil {
		// 没有Redis时直接放行
		return nil
	}
	redisKey := gl.keyPrefix + key

	startTime := time.Now()
	retryInterval := 500 * time.Millisecond
	maxRetryInterval := 30 * time.Second

	for {
		elapsed := time.Since(startTime)
		if elapsed >= gl.maxWait {
			return fmt.Errorf("获取训练槽位超时: 已等待 %v, 超过最大等待时间 %v",
				elapsed.Round(time.Second), gl.maxWait)
		}

		current, err := gl.client.Incr(ctx, redisKey).Result()
		if err != nil {
			return fmt.Errorf("获取训练槽位失败: %w", err)
		}
		if current == 1 {
			gl.client.Expire(ctx, redisKey, gl.ttl)
		}

		if current <= int64(gl.maxConcurrent) {
			gl.logger.Infof("[GPULimiter] 成功获取训练槽位, key: %s, 当前并发: %d/%d, 等待时间: %v",
				key, current, gl.maxConcurrent, elapsed.Round(time.Second))
			return nil
		}

		// 超过限制, 释放计数并等待重试
		gl.client.Decr(ctx, redisKey)
		gl.logger.Infof("[GPULimiter] 训练主机繁忙, key: %s, 当前并发: %d/%d, 已等待: %v, 等待重试...",
			key, current-1, gl.maxConcurrent, elapsed.Round(time.Second))

		nextRetryInterval := retryInterval * 2
		if nextRetryInterval > maxRetryInterval {
			nextRetryInterval = maxRetryInterval
		}

		select {
		case <-time.After(retryInterval):
			retryInterval = nextRetryInterval
		case <-ctx.Done():
			return fmt.Errorf("上下文已取消: %w", ctx.Err())
		}
	}
}

// Release 释放训练槽位
func (gl *GPULimiter) Release(ctx context.Context, key string) {
	if gl.client == nil {
		return
	}
	gl.client.Decr(ctx, gl.keyPrefix+key)
}
