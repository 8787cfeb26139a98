package amqpdest

import (
	"strings"
	"testing"

	amqp "github.com/rabbitmq/amqp091-go"
)

func TestConfig_ApplyDefaultsSetsPersistentDeliveryMode(t *testing.T) {
	cfg := Config{URL: "amqp://localhost", Exchange: "orders"}.applyDefaults()
	if cfg.DeliveryMode != amqp.Persistent {
		t.Errorf("DeliveryMode = %v, want amqp.Persistent", cfg.DeliveryMode)
	}
}

func TestConfig_ApplyDefaultsPreservesExplicitDeliveryMode(t *testing.T) {
	cfg := Config{DeliveryMode: amqp.Transient}.applyDefaults()
	if cfg.DeliveryMode != amqp.Transient {
		t.Errorf("DeliveryMode = %v, want amqp.Transient", cfg.DeliveryMode)
	}
}

func TestNew_DialFailureIsWrapped(t *testing.T) {
	_, _, err := New("orders-exchange", Config{
		URL:      "amqp://127.0.0.1:1",
		Exchange: "orders",
	}, nil)
	if err == nil {
		t.Fatal("expected a dial error against an unreachable broker")
	}
	if !strings.HasPrefix(err.Error(), "amqpdest: dial:") {
		t.Errorf("error = %q, want amqpdest: dial: prefix", err.Error())
	}
}
