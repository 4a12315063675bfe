package config

type ActivityConfig interface {
	GetRabbitURL() string
	GetActivityQueue() string
}

type Activity struct{}

var _ ActivityConfig = Activity{}

// GetRabbitURL is empty when activity forwarding is off.
func (Activity) GetRabbitURL() string {
	return GetEnv("RABBITMQ_URL", "")
}

func (Activity) GetActivityQueue() string {
	return GetEnv("ACTIVITY_QUEUE", "listings.activity")
}
