package sms

import (
	"context"
	"os"
	"strings"
	"time"

	openapi "github.com/alibabacloud-go/darabonba-openapi/v2/client"
	dysmsapi20170525 "github.com/alibabacloud-go/dysmsapi-20170525/v4/client"
	util "github.com/alibabacloud-go/tea-utils/v2/service"
	"github.com/alibabacloud-go/tea/tea"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"astro_chat_server/internal/config"
	myredis "astro_chat_server/internal/dao/redis"
	"astro_chat_server/pkg/constants"
	"astro_chat_server/pkg/errorx"
	"astro_chat_server/pkg/util/random"
)

type codeService struct {
	cache      myredis.CacheService
	sender     CodeSender
	codeLength int
	ttl        time.Duration
}

// New builds the service around sender. Used by Init and the tests.
func New(cache myredis.CacheService, sender CodeSender, codeLength int) SmsService {
	if codeLength <= 0 {
		codeLength = 6
	}
	return &codeService{
		cache:      cache,
		sender:     sender,
		codeLength: codeLength,
		ttl:        constants.REDIS_TIMEOUT * time.Minute,
	}
}

// Init picks the aliyun sender when real credentials are configured, the mock one otherwise.
func Init(cacheService myredis.CacheService) (SmsService, error) {
	authCfg := config.GetConfig().AuthCodeConfig
	if shouldUseMock(authCfg) {
		zap.L().Warn("sms running in mock mode, codes are only logged")
		return New(cacheService, mockSender{}, authCfg.CodeLength), nil
	}

	conf := &openapi.Config{
		AccessKeyId:     tea.String(authCfg.AccessKeyID),
		AccessKeySecret: tea.String(authCfg.AccessKeySecret),
	}
	conf.Endpoint = tea.String("dysmsapi.aliyuncs.com")
	client, err := dysmsapi20170525.NewClient(conf)
	if err != nil {
		zap.L().Error("aliyun sms client init failed", zap.Error(err))
		return nil, err
	}
	return New(cacheService, &aliyunSender{
		client:       client,
		signName:     authCfg.SignName,
		templateCode: authCfg.TemplateCode,
	}, authCfg.CodeLength), nil
}

func shouldUseMock(auth config.AuthCodeConfig) bool {
	mode := strings.ToLower(strings.TrimSpace(os.Getenv("ASTRO_SMS_MODE")))
	if mode == "mock" || mode == "local" || mode == "test" {
		return true
	}
	ak := strings.ToLower(strings.TrimSpace(auth.AccessKeyID))
	ask := strings.ToLower(strings.TrimSpace(auth.AccessKeySecret))
	if ak == "" || ask == "" {
		return true
	}
	return strings.Contains(ak, "your accesskey") || strings.Contains(ask, "your accesskey")
}

func (s *codeService) SendVerificationCode(ctx context.Context, telephone string) error {
	key := constants.AuthCodePrefix + telephone
	code := random.GetDigits(s.codeLength)

	hash, err := bcrypt.GenerateFromPassword([]byte(code), bcrypt.DefaultCost)
	if err != nil {
		zap.L().Error("hash otp", zap.Error(err))
		return errorx.ErrServerBusy
	}

	// claim the slot before sending so concurrent requests cannot both pass
	ok, err := s.cache.SetNX(ctx, key, string(hash), s.ttl)
	if err != nil {
		zap.L().Error("store otp", zap.String("phone", telephone), zap.Error(err))
		return errorx.ErrServerBusy
	}
	if !ok {
		return errorx.New(errorx.CodeTooFrequent, "a code was sent recently, try again later")
	}

	if err := s.sender.Send(telephone, code); err != nil {
		zap.L().Error("send otp", zap.String("sender", s.sender.Name()), zap.String("phone", telephone), zap.Error(err))
		// release the slot, otherwise the user is locked out until it expires
		_ = s.cache.Delete(ctx, key)
		return errorx.ErrServerBusy
	}
	return nil
}

func (s *codeService) VerifyCode(ctx context.Context, telephone, code string) error {
	key := constants.AuthCodePrefix + telephone
	hash, err := s.cache.GetOrError(ctx, key)
	if err != nil {
		if errorx.IsNotFound(err) {
			return errorx.New(errorx.CodeInvalidOTP, "code expired, request a new one")
		}
		zap.L().Error("load otp", zap.String("phone", telephone), zap.Error(err))
		return errorx.ErrServerBusy
	}
	if bcrypt.CompareHashAndPassword([]byte(hash), []byte(code)) != nil {
		return errorx.New(errorx.CodeInvalidOTP, "wrong code")
	}
	if err := s.cache.Delete(ctx, key); err != nil {
		zap.L().Warn("consume otp", zap.String("phone", telephone), zap.Error(err))
	}
	return nil
}

// mockSender only logs the code.
type mockSender struct{}

func (mockSender) Send(telephone, code string) error {
	zap.L().Info("mock sms", zap.String("phone", telephone), zap.String("code", code))
	return nil
}

func (mockSender) Name() string { return "mock" }

type aliyunSender struct {
	client       *dysmsapi20170525.Client
	signName     string
	templateCode string
}

func (a *aliyunSender) Name() string { return "aliyun" }

func (a *aliyunSender) Send(telephone, code string) error {
	if a.client == nil {
		return errorx.New(errorx.CodeServerBusy, "sms client not initialised")
	}
	signName := a.signName
	if signName == "" {
		signName = "阿里云短信测试"
	}
	templateCode := a.templateCode
	if templateCode == "" {
		templateCode = "SMS_154950909"
	}

	req := &dysmsapi20170525.SendSmsRequest{
		SignName:      tea.String(signName),
		TemplateCode:  tea.String(templateCode),
		PhoneNumbers:  tea.String(telephone),
		TemplateParam: tea.String(`{"code":"` + code + `"}`),
	}
	rsp, err := a.client.SendSmsWithOptions(req, &util.RuntimeOptions{})
	if err != nil {
		return err
	}
	// a nil error can still carry a business failure
	if rsp.Body != nil && tea.StringValue(rsp.Body.Code) != "OK" {
		return errorx.Newf(errorx.CodeServerBusy, "aliyun sms: %s", tea.StringValue(rsp.Body.Message))
	}
	zap.L().Info("sms sent", zap.String("response", tea.StringValue(util.ToJSONString(rsp))))
	return nil
}
