// Package auth logs participants in with SMS one-time codes and
// issues the access/refresh token pair.
package auth

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	myredis "astro_chat_server/internal/dao/redis"
	"astro_chat_server/internal/dto/request"
	"astro_chat_server/internal/dto/respond"
	"astro_chat_server/internal/infrastructure/sms"
	"astro_chat_server/pkg/constants"
	"astro_chat_server/pkg/errorx"
	"astro_chat_server/pkg/util/jwt"
)

// participantNamespace derives stable participant ids from phone numbers.
var participantNamespace = uuid.MustParse("6f1c2a52-8c57-4c1e-9d0b-4f5a3f0f2b11")

// Service implements the OTP login and token refresh flows.
type Service struct {
	cache   myredis.CacheService
	sms     sms.SmsService
	isAdmin func(phone string) bool
}

// NewAuthService wires the service. isAdmin may be nil.
func NewAuthService(cache myredis.CacheService, smsService sms.SmsService, isAdmin func(phone string) bool) *Service {
	if isAdmin == nil {
		isAdmin = func(string) bool { return false }
	}
	return &Service{cache: cache, sms: smsService, isAdmin: isAdmin}
}

// ParticipantID is the id a phone number logs in as.
func ParticipantID(phone string) string {
	return uuid.NewSHA1(participantNamespace, []byte(phone)).String()
}

func (s *Service) SendOtp(ctx context.Context, phone string) error {
	return s.sms.SendVerificationCode(ctx, phone)
}

// VerifyOtp checks the code and issues a token pair. A new refresh token
// replaces the stored token id, which logs out any other device.
func (s *Service) VerifyOtp(ctx context.Context, req request.VerifyOtpRequest) (*respond.TokenRespond, error) {
	if err := s.sms.VerifyCode(ctx, req.Phone, req.Code); err != nil {
		return nil, err
	}

	userID := ParticipantID(req.Phone)
	role := constants.RoleClient
	if s.isAdmin(req.Phone) {
		role = constants.RoleAdmin
	}

	accessToken, err := jwt.GenerateAccessToken(userID, role)
	if err != nil {
		zap.L().Error("generate access token", zap.Error(err))
		return nil, errorx.ErrServerBusy
	}
	refreshToken, tokenID, err := jwt.GenerateRefreshToken(userID, role)
	if err != nil {
		zap.L().Error("generate refresh token", zap.Error(err))
		return nil, errorx.ErrServerBusy
	}

	key := constants.UserTokenPrefix + userID
	if err := s.cache.Set(ctx, key, tokenID, time.Duration(constants.REFRESH_TOKEN_EXPIRY_HOURS)*time.Hour); err != nil {
		zap.L().Error("store refresh token id", zap.String("user", userID), zap.Error(err))
		return nil, errorx.ErrServerBusy
	}

	zap.L().Info("otp login", zap.String("user", userID), zap.String("role", role))
	return &respond.TokenRespond{
		UserId:       userID,
		Role:         role,
		AccessToken:  accessToken,
		RefreshToken: refreshToken,
	}, nil
}

// Refresh exchanges a refresh token for a new access token.
func (s *Service) Refresh(ctx context.Context, refreshToken string) (*respond.TokenRespond, error) {
	claims, err := jwt.ParseToken(refreshToken)
	if err != nil || claims.Subject != "refresh_token" {
		return nil, errorx.New(errorx.CodeUnauthorized, "refresh token expired or invalid")
	}

	valid, err := s.ValidateTokenID(ctx, claims.UserID, claims.TokenID)
	if err != nil {
		zap.L().Error("validate refresh token id", zap.String("user", claims.UserID), zap.Error(err))
		return nil, errorx.ErrServerBusy
	}
	if !valid {
		return nil, errorx.New(errorx.CodeUnauthorized, "logged in on another device")
	}

	accessToken, err := jwt.GenerateAccessToken(claims.UserID, claims.Role)
	if err != nil {
		zap.L().Error("generate access token", zap.Error(err))
		return nil, errorx.ErrServerBusy
	}
	return &respond.TokenRespond{UserId: claims.UserID, Role: claims.Role, AccessToken: accessToken}, nil
}

// ValidateTokenID reports whether tokenID is the latest refresh token of userID.
func (s *Service) ValidateTokenID(ctx context.Context, userID, tokenID string) (bool, error) {
	validTokenID, err := s.cache.Get(ctx, constants.UserTokenPrefix+userID)
	if err != nil {
		return false, err
	}
	if validTokenID == "" {
		return false, nil
	}
	return tokenID == validTokenID, nil
}
