package model

// SamplePublisher pushes individual metric samples to an external consumer.
type SamplePublisher interface {
	Publish(sample MetricSample) error
	Close()
}
