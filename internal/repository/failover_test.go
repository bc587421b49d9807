package repository

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
)

type mockKV struct {
	mock.Mock
}

func (m *mockKV) Get(ctx context.Context, key string) (string, bool, error) {
	args := m.Called(ctx, key)
	return args.String(0), args.Bool(1), args.Error(2)
}

func (m *mockKV) Set(ctx context.Context, key, value string) error {
	args := m.Called(ctx, key, value)
	return args.Error(0)
}

func (m *mockKV) Delete(ctx context.Context, key string) error {
	args := m.Called(ctx, key)
	return args.Error(0)
}

func TestFailoverKV(t *testing.T) {
	primary := new(mockKV)
	fallback := new(mockKV)
	logger := zerolog.New(io.Discard)
	kv := NewFailoverKV(primary, fallback, &logger)
	ctx := context.Background()

	t.Run("PrimarySuccess", func(t *testing.T) {
		primary.On("Get", ctx, "a").Return("1", true, nil).Once()

		v, ok, err := kv.Get(ctx, "a")
		assert.NoError(t, err)
		assert.True(t, ok)
		assert.Equal(t, "1", v)
		primary.AssertExpectations(t)
	})

	t.Run("PrimaryFailFallbackSuccess", func(t *testing.T) {
		primary.On("Set", ctx, "b", "2").Return(errors.New("fail")).Once()
		fallback.On("Set", ctx, "b", "2").Return(nil).Once()

		assert.NoError(t, kv.Set(ctx, "b", "2"))
		assert.True(t, kv.isDown.Load())
		primary.AssertExpectations(t)
		fallback.AssertExpectations(t)
	})

	t.Run("AlreadyDownSkipsPrimary", func(t *testing.T) {
		fallback.On("Delete", ctx, "c").Return(nil).Once()

		assert.NoError(t, kv.Delete(ctx, "c"))
		fallback.AssertExpectations(t)
	})

	t.Run("RecoveryAttempt", func(t *testing.T) {
		kv.mu.Lock()
		kv.lastCheck = time.Now().Add(-2 * time.Minute)
		kv.mu.Unlock()
		primary.On("Get", ctx, "d").Return("4", true, nil).Once()

		v, _, err := kv.Get(ctx, "d")
		assert.NoError(t, err)
		assert.Equal(t, "4", v)
		assert.False(t, kv.isDown.Load())
		primary.AssertExpectations(t)
	})

	t.Run("RecoveryAttemptFail", func(t *testing.T) {
		kv.isDown.Store(true)
		kv.mu.Lock()
		kv.lastCheck = time.Now().Add(-2 * time.Minute)
		kv.mu.Unlock()
		primary.On("Get", ctx, "e").Return("", false, errors.New("still fail")).Once()
		fallback.On("Get", ctx, "e").Return("", false, nil).Once()

		_, ok, err := kv.Get(ctx, "e")
		assert.NoError(t, err)
		assert.False(t, ok)
		assert.True(t, kv.isDown.Load())
		primary.AssertExpectations(t)
		fallback.AssertExpectations(t)
	})
}
