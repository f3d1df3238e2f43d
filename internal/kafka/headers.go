package kafka

import "github.com/segmentio/kafka-go"

// Header names carried on dead-letter messages.
//
// The relay's retry-exhaustion path stamps the failure-source headers;
// the consumer-side retry wrapper stamps the exception headers. The
// dead-letter consumer tells the two apart by the presence of
// HeaderFailureSource.
const (
	HeaderFailureSource = "failure-source"
	HeaderRetryCount    = "retry-count"
	HeaderLastError     = "last-error"

	HeaderExceptionMessage    = "exception-message"
	HeaderExceptionStacktrace = "exception-stacktrace"
	HeaderExceptionType       = "exception-type"
	HeaderOriginalTopic       = "original-topic"
)

type Header = kafka.Header

// HeaderValue returns the value for key, or "" and false when absent.
func HeaderValue(headers []Header, key string) (string, bool) {
	for _, h := range headers {
		if h.Key == key {
			return string(h.Value), true
		}
	}
	return "", false
}
