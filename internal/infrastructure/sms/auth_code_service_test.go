package sms

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"astro_chat_server/internal/config"
	myredis "astro_chat_server/internal/dao/redis"
	"astro_chat_server/pkg/constants"
	"astro_chat_server/pkg/errorx"
)

type recordingSender struct {
	codes map[string]string
	err   error
}

func (s *recordingSender) Send(telephone, code string) error {
	if s.err != nil {
		return s.err
	}
	s.codes[telephone] = code
	return nil
}

func (s *recordingSender) Name() string { return "recording" }

func TestSendAndVerify(t *testing.T) {
	ctx := context.Background()
	cache := myredis.NewMemoryCache()
	sender := &recordingSender{codes: map[string]string{}}
	svc := New(cache, sender, 6)

	require.NoError(t, svc.SendVerificationCode(ctx, "9990001111"))
	code := sender.codes["9990001111"]
	require.Len(t, code, 6)

	stored, _ := cache.Get(ctx, constants.AuthCodePrefix+"9990001111")
	assert.NotEqual(t, code, stored, "code must be stored hashed")

	err := svc.SendVerificationCode(ctx, "9990001111")
	assert.Equal(t, errorx.CodeTooFrequent, errorx.GetCode(err))

	err = svc.VerifyCode(ctx, "9990001111", "wrong!")
	assert.Equal(t, errorx.CodeInvalidOTP, errorx.GetCode(err))

	require.NoError(t, svc.VerifyCode(ctx, "9990001111", code))
	err = svc.VerifyCode(ctx, "9990001111", code)
	assert.Equal(t, errorx.CodeInvalidOTP, errorx.GetCode(err), "codes are single use")
}

func TestSendFailureReleasesThrottle(t *testing.T) {
	ctx := context.Background()
	cache := myredis.NewMemoryCache()
	sender := &recordingSender{codes: map[string]string{}, err: errors.New("gateway down")}
	svc := New(cache, sender, 4)

	err := svc.SendVerificationCode(ctx, "9990002222")
	assert.Equal(t, errorx.CodeServerBusy, errorx.GetCode(err))

	sender.err = nil
	require.NoError(t, svc.SendVerificationCode(ctx, "9990002222"))
	assert.Len(t, sender.codes["9990002222"], 4)
}

func TestShouldUseMock(t *testing.T) {
	t.Setenv("ASTRO_SMS_MODE", "")
	assert.True(t, shouldUseMock(config.AuthCodeConfig{}))
	assert.True(t, shouldUseMock(config.AuthCodeConfig{AccessKeyID: "your accessKey id", AccessKeySecret: "x"}))
	assert.False(t, shouldUseMock(config.AuthCodeConfig{AccessKeyID: "LTAI5t", AccessKeySecret: "s3cr3t"}))

	t.Setenv("ASTRO_SMS_MODE", "mock")
	assert.True(t, shouldUseMock(config.AuthCodeConfig{AccessKeyID: "LTAI5t", AccessKeySecret: "s3cr3t"}))
}
