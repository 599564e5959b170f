package entities

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/nerrad567/heatbridge/internal/infrastructure/mqtt"
)

// ErrPublish indicates an entity announcement or event could not be
// published. Callers log and continue; the next cycle retries.
var ErrPublish = errors.New("entities: publish failed")

// Logger defines the logging interface used by the entity service.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
}

// noopLogger is a logger that does nothing.
type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}

// Publisher is the MQTT publishing surface the service needs.
type Publisher interface {
	Publish(topic string, payload []byte, qos byte, retained bool) error
}

// announcement is the retained discovery payload for a child entity.
type announcement struct {
	LocalID     string `json:"local_id"`
	Name        string `json:"name"`
	Protocol    string `json:"protocol"`
	AnnouncedAt string `json:"announced_at"`
}

// attributeEvent is the payload published per attribute change.
type attributeEvent struct {
	Value     any    `json:"value"`
	Unit      string `json:"unit,omitempty"`
	Timestamp string `json:"timestamp"`
}

// Service announces child entities and their attribute events over
// MQTT. Entities are announced on a retained discovery topic, removed
// with a retained tombstone, and attribute values are published
// retained so late subscribers see the last known state.
type Service struct {
	pub    Publisher
	topics mqtt.Topics
	logger Logger
}

// New creates an entity service over the given publisher.
func New(pub Publisher) *Service {
	return &Service{
		pub:    pub,
		logger: noopLogger{},
	}
}

// SetLogger sets the logger for the service.
func (s *Service) SetLogger(logger Logger) {
	s.logger = logger
}

// Create announces a child entity on its retained discovery topic.
func (s *Service) Create(localID, displayName string) error {
	payload, err := json.Marshal(announcement{
		LocalID:     localID,
		Name:        displayName,
		Protocol:    mqtt.Protocol,
		AnnouncedAt: time.Now().UTC().Format(time.RFC3339),
	})
	if err != nil {
		return fmt.Errorf("%w: encoding announcement: %w", ErrPublish, err)
	}

	if err := s.pub.Publish(s.topics.DeviceDiscovery(localID), payload, 1, true); err != nil {
		return fmt.Errorf("%w: %w", ErrPublish, err)
	}

	s.logger.Info("entity announced", "entity", localID, "name", displayName)
	return nil
}

// Delete removes a child entity by clearing its retained discovery
// message with an empty tombstone.
func (s *Service) Delete(localID string) error {
	if err := s.pub.Publish(s.topics.DeviceDiscovery(localID), nil, 1, true); err != nil {
		return fmt.Errorf("%w: %w", ErrPublish, err)
	}

	s.logger.Info("entity removed", "entity", localID)
	return nil
}

// SendAttributeEvent publishes one attribute value for an entity.
func (s *Service) SendAttributeEvent(localID, attribute string, value any, unit string) error {
	payload, err := json.Marshal(attributeEvent{
		Value:     value,
		Unit:      unit,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
	if err != nil {
		return fmt.Errorf("%w: encoding event: %w", ErrPublish, err)
	}

	if err := s.pub.Publish(s.topics.DeviceAttribute(localID, attribute), payload, 1, true); err != nil {
		return fmt.Errorf("%w: %w", ErrPublish, err)
	}

	s.logger.Debug("attribute event published",
		"entity", localID, "attribute", attribute, "value", value)
	return nil
}
