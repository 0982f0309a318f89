package gpulimiter

import (
	"context"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
)

func TestNilClientPassesThrough(t *testing.T) {
	logger := logrus.New()
	logger.SetLevel(logrus.ErrorLevel)

	gl := NewGPULimiter(nil, 1, time.Second, logger)

	// 没有Redis时限流关闭, Acquire/Release直接放行
	assert.NoError(t, gl.Acquire(context.Background(), "base-7b"))
	gl.Release(context.Background(), "base-7b")
}
