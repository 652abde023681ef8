package constants

const (
	FILE_MAX_SIZE              = 20 << 20 // default upload limit in bytes
	REDIS_TIMEOUT              = 1        // otp lifetime (minutes)
	REFRESH_TOKEN_EXPIRY_HOURS = 168      // 7 days
	HISTORY_CACHE_MINUTES      = 10       // chat history cache lifetime
	SETTING_CACHE_MINUTES      = 30       // settings cache lifetime
	HISTORY_PAGE_LIMIT         = 200      // max messages returned per history request
)

// Redis key prefixes.
const (
	AuthCodePrefix     = "auth_code_"
	UserTokenPrefix    = "user_token:"
	PresencePrefix     = "presence:"
	ChatHistoryPrefix  = "chat_messages_"
	SettingCachePrefix = "setting:"
)

// Token roles.
const (
	RoleClient = "client"
	RoleAdmin  = "admin"
)
