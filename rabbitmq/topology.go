package rabbitmq

import (
	"fmt"
	"log/slog"
	"time"
)

const (
	// ExchangeTopic routes on pattern-matched routing keys.
	ExchangeTopic = "topic"
	// ExchangeDirect routes on exact routing keys.
	ExchangeDirect = "direct"
	// ExchangeFanout routes to every bound queue.
	ExchangeFanout = "fanout"
)

// ExchangeSet names the well-known exchanges shared across the system.
type ExchangeSet struct {
	Events     string // topic, fan-out pub/sub
	Commands   string // direct, targeted dispatch
	DeadLetter string // topic, rejected and expired messages
}

// DefaultExchanges derives the conventional exchange names for an application.
func DefaultExchanges(application string) ExchangeSet {
	return ExchangeSet{
		Events:     fmt.Sprintf("%s.events", application),
		Commands:   fmt.Sprintf("%s.commands", application),
		DeadLetter: fmt.Sprintf("%s.dlx", application),
	}
}

// ExchangeDeclaration defines an exchange to be declared.
type ExchangeDeclaration struct {
	Name       string
	Type       string
	Durable    bool
	AutoDelete bool
	Internal   bool
}

// TopologyBootstrapper idempotently declares the well-known exchanges at
// startup. Declarations are asserts: redeclaring with matching parameters
// succeeds, conflicting parameters fail.
type TopologyBootstrapper struct {
	exchanges ExchangeSet
	logger    *slog.Logger
}

// NewTopologyBootstrapper creates a bootstrapper for the given exchange set.
func NewTopologyBootstrapper(exchanges ExchangeSet, logger *slog.Logger) *TopologyBootstrapper {
	if logger == nil {
		logger = slog.Default()
	}
	return &TopologyBootstrapper{
		exchanges: exchanges,
		logger:    logger,
	}
}

// Declarations returns the exchanges the bootstrapper asserts.
func (tb *TopologyBootstrapper) Declarations() []ExchangeDeclaration {
	return []ExchangeDeclaration{
		{Name: tb.exchanges.Events, Type: ExchangeTopic, Durable: true},
		{Name: tb.exchanges.Commands, Type: ExchangeDirect, Durable: true},
		{Name: tb.exchanges.DeadLetter, Type: ExchangeTopic, Durable: true},
	}
}

// Bootstrap declares all well-known exchanges on a transient channel that is
// closed before returning.
func (tb *TopologyBootstrapper) Bootstrap(conn Connection) error {
	ch, err := conn.Channel()
	if err != nil {
		return &TopologyError{
			Component: "channel",
			Name:      "bootstrap",
			Op:        "open",
			Err:       err,
			Timestamp: time.Now(),
		}
	}
	defer func() {
		if err := ch.Close(); err != nil {
			tb.logger.Warn("failed to close bootstrap channel", "error", err)
		}
	}()

	for _, decl := range tb.Declarations() {
		err := ch.ExchangeDeclare(
			decl.Name,
			decl.Type,
			decl.Durable,
			decl.AutoDelete,
			decl.Internal,
			false, // no-wait
			nil,
		)
		if err != nil {
			return &TopologyError{
				Component: "exchange",
				Name:      decl.Name,
				Op:        "declare",
				Err:       err,
				Timestamp: time.Now(),
			}
		}
		tb.logger.Debug("exchange asserted",
			"exchange", decl.Name,
			"type", decl.Type)
	}

	return nil
}
