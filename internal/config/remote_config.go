package config

import "time"

type RemoteConfig interface {
	GetBaseURL() string
	GetAPIKey() string
	GetClientID() string
	GetClientSecret() string
	GetTokenURL() string
	GetIssuer() string
	GetCallTimeout() time.Duration
}

type Remote struct{}

var _ RemoteConfig = Remote{}

func (Remote) GetBaseURL() string {
	return GetEnv("REMOTE_URL", "http://localhost:54321")
}

func (Remote) GetAPIKey() string {
	return GetEnv("REMOTE_API_KEY", "")
}

func (Remote) GetClientID() string {
	return GetEnv("REMOTE_CLIENT_ID", "listings-client")
}

func (Remote) GetClientSecret() string {
	return GetEnv("REMOTE_CLIENT_SECRET", "")
}

// GetTokenURL is empty unless overridden; the store then uses {base}/auth/v1/token.
func (Remote) GetTokenURL() string {
	return GetEnv("REMOTE_TOKEN_URL", "")
}

// GetIssuer enables access token verification against the issuer's published keys.
func (Remote) GetIssuer() string {
	return GetEnv("REMOTE_ISSUER", "")
}

func (Remote) GetCallTimeout() time.Duration {
	return GetEnvDuration("REMOTE_TIMEOUT", 15*time.Second)
}
