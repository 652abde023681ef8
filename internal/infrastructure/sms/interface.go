// Package sms sends and checks one-time login codes.
package sms

import "context"

// SmsService issues OTP codes over SMS and verifies them.
// Codes live in the cache only as bcrypt hashes.
type SmsService interface {
	// SendVerificationCode fails with CodeTooFrequent while a previous code is still valid.
	SendVerificationCode(ctx context.Context, telephone string) error
	// VerifyCode consumes the code on success.
	VerifyCode(ctx context.Context, telephone, code string) error
}

// CodeSender delivers a plain code to a phone.
type CodeSender interface {
	Send(telephone, code string) error
	Name() string
}

var (
	_ SmsService = (*codeService)(nil)
	_ CodeSender = (*aliyunSender)(nil)
	_ CodeSender = mockSender{}
)
