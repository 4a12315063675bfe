package config

type CacheConfig interface {
	GetCacheBackend() string
	GetCacheFile() string
	GetRedisAddr() string
	GetRedisPassword() string
	GetRedisDB() int
	GetRedisPrefix() string
}

const (
	CacheBackendFile  = "file"
	CacheBackendRedis = "redis"
)

type Cache struct{}

var _ CacheConfig = Cache{}

// GetCacheBackend is "file" or "redis".
func (Cache) GetCacheBackend() string {
	return GetEnv("CACHE_BACKEND", CacheBackendFile)
}

func (Cache) GetCacheFile() string {
	return GetEnv("CACHE_FILE", "./data/cache.json")
}

func (Cache) GetRedisAddr() string {
	return GetEnv("REDIS_ADDR", "localhost:6379")
}

func (Cache) GetRedisPassword() string {
	return GetEnv("REDIS_PASSWORD", "")
}

func (Cache) GetRedisDB() int {
	return GetEnvInt("REDIS_DB", 0)
}

func (Cache) GetRedisPrefix() string {
	return GetEnv("REDIS_PREFIX", "listings:")
}
