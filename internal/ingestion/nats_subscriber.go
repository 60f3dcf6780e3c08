package ingestion

import (
	"context"
	"fmt"
	"strings"
	"time"

	"YPoolLedger/internal/observability"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog"
)

// NATSSubscriber subscribes to NATS JetStream subjects and feeds events
// into the settlement core via the eventChan. JetStream is the primary
// ingestion surface: relayers publish one subject per operation and chain.
type NATSSubscriber struct {
	js        jetstream.JetStream
	eventChan chan<- RawEvent
	consumers []jetstream.ConsumeContext
	logger    zerolog.Logger
}

// RawEvent is the parsed-but-untyped event from NATS, ready for the shell
// to validate and convert into a typed event.Event before sending to the core.
type RawEvent struct {
	Subject   string
	Data      []byte
	Timestamp time.Time // Receive time, used for lag metrics only
	AckFunc   func()    // Call to ACK the NATS message after successful processing
	NakFunc   func()    // Call to NAK on failure (will be redelivered)
}

// SubjectConfig maps NATS subjects to event types.
type SubjectConfig struct {
	Subject      string
	EventType    string
	ConsumerName string
	StreamName   string
}

// DefaultSubjects returns the standard subject configuration. The trailing
// token is the source chain id, e.g. ypool.deposits.137.
func DefaultSubjects() []SubjectConfig {
	return []SubjectConfig{
		{Subject: "ypool.deposits.>", EventType: "Deposit", ConsumerName: "ledger-deposits", StreamName: "YPOOL_LIQUIDITY"},
		{Subject: "ypool.withdrawals.>", EventType: "Withdraw", ConsumerName: "ledger-withdrawals", StreamName: "YPOOL_LIQUIDITY"},
		{Subject: "ypool.swaps.initiated.>", EventType: "SwapInitiated", ConsumerName: "ledger-swap-init", StreamName: "YPOOL_SWAPS"},
		{Subject: "ypool.swaps.settled.>", EventType: "SwapSettled", ConsumerName: "ledger-swap-settle", StreamName: "YPOOL_SWAPS"},
		{Subject: "ypool.swaps.invalidated.>", EventType: "SwapInvalidated", ConsumerName: "ledger-swap-invalid", StreamName: "YPOOL_SWAPS"},
		{Subject: "ypool.swaps.timedout.>", EventType: "SwapTimedOut", ConsumerName: "ledger-swap-timeout", StreamName: "YPOOL_SWAPS"},
		{Subject: "ypool.claims.>", EventType: "RewardClaimed", ConsumerName: "ledger-claims", StreamName: "YPOOL_REWARDS"},
		{Subject: "ypool.admin.fee.>", EventType: "FeeStructureSet", ConsumerName: "ledger-admin-fee", StreamName: "YPOOL_ADMIN"},
		{Subject: "ypool.admin.threshold.>", EventType: "RewardThresholdSet", ConsumerName: "ledger-admin-threshold", StreamName: "YPOOL_ADMIN"},
		{Subject: "ypool.admin.epoch.>", EventType: "EpochConfigSet", ConsumerName: "ledger-admin-epoch", StreamName: "YPOOL_ADMIN"},
		{Subject: "ypool.admin.weight.>", EventType: "ChainWeightSet", ConsumerName: "ledger-admin-weight", StreamName: "YPOOL_ADMIN"},
		{Subject: "ypool.admin.pcv.>", EventType: "ChainPCVCorrected", ConsumerName: "ledger-admin-pcv", StreamName: "YPOOL_ADMIN"},
		{Subject: "ypool.admin.shares.>", EventType: "TotalSharesCorrected", ConsumerName: "ledger-admin-shares", StreamName: "YPOOL_ADMIN"},
		{Subject: "ypool.admin.decimals.>", EventType: "RewardDecimalsSet", ConsumerName: "ledger-admin-decimals", StreamName: "YPOOL_ADMIN"},
	}
}

// SubjectResolver maps a concrete NATS subject back to its event type by
// the longest matching configured prefix.
type SubjectResolver struct {
	prefixes map[string]string
}

func NewSubjectResolver(subjects []SubjectConfig) *SubjectResolver {
	prefixes := make(map[string]string, len(subjects))
	for _, cfg := range subjects {
		// Subjects use the ">" wildcard, so strip it and match by prefix.
		prefix := strings.TrimSuffix(cfg.Subject, ">")
		prefixes[prefix] = cfg.EventType
	}
	return &SubjectResolver{prefixes: prefixes}
}

// Resolve returns "" when no configured subject matches.
func (r *SubjectResolver) Resolve(subject string) string {
	bestMatch := ""
	bestType := ""
	for prefix, evtType := range r.prefixes {
		if strings.HasPrefix(subject, prefix) && len(prefix) > len(bestMatch) {
			bestMatch = prefix
			bestType = evtType
		}
	}
	return bestType
}

func NewNATSSubscriber(js jetstream.JetStream, eventChan chan<- RawEvent) *NATSSubscriber {
	return &NATSSubscriber{
		js:        js,
		eventChan: eventChan,
		logger:    observability.NewLogger("nats-subscriber"),
	}
}

// Subscribe creates JetStream consumers for all configured subjects.
// Consumers use explicit ACK, max_deliver=5, ack_wait=30s.
func (ns *NATSSubscriber) Subscribe(ctx context.Context, subjects []SubjectConfig) error {
	for _, cfg := range subjects {
		consumer, err := ns.js.CreateOrUpdateConsumer(ctx, cfg.StreamName, jetstream.ConsumerConfig{
			Durable:       cfg.ConsumerName,
			FilterSubject: cfg.Subject,
			AckPolicy:     jetstream.AckExplicitPolicy,
			AckWait:       30 * time.Second,
			MaxDeliver:    5,
			DeliverPolicy: jetstream.DeliverAllPolicy,
		})
		if err != nil {
			return fmt.Errorf("create consumer %s: %w", cfg.ConsumerName, err)
		}

		consumerContext, err := consumer.Consume(func(msg jetstream.Msg) {
			raw := RawEvent{
				Subject:   msg.Subject(),
				Data:      msg.Data(),
				Timestamp: time.Now(),
				AckFunc:   func() { msg.Ack() },
				NakFunc:   func() { msg.Nak() },
			}

			select {
			case ns.eventChan <- raw:
			case <-ctx.Done():
				msg.Nak()
			}
		})
		if err != nil {
			return fmt.Errorf("consume %s: %w", cfg.ConsumerName, err)
		}

		ns.consumers = append(ns.consumers, consumerContext)
		ns.logger.Info().
			Str("subject", cfg.Subject).
			Str("consumer", cfg.ConsumerName).
			Msg("subscribed")
	}

	return nil
}

func inboundStream(name string, subjects ...string) jetstream.StreamConfig {
	return jetstream.StreamConfig{
		Name:      name,
		Subjects:  subjects,
		Storage:   jetstream.FileStorage,
		Retention: jetstream.LimitsPolicy,
		MaxAge:    72 * time.Hour,
		Replicas:  1,
	}
}

// EnsureStreams creates the required JetStream streams if they don't exist.
// Streams use FileStorage, retention=Limits, max_age=72h.
func EnsureStreams(ctx context.Context, js jetstream.JetStream) error {
	logger := observability.NewLogger("nats-subscriber")
	streams := []jetstream.StreamConfig{
		inboundStream("YPOOL_LIQUIDITY", "ypool.deposits.>", "ypool.withdrawals.>"),
		inboundStream("YPOOL_SWAPS", "ypool.swaps.>"),
		inboundStream("YPOOL_REWARDS", "ypool.claims.>"),
		inboundStream("YPOOL_ADMIN", "ypool.admin.>"),
	}

	for _, cfg := range streams {
		if _, err := js.CreateOrUpdateStream(ctx, cfg); err != nil {
			return fmt.Errorf("create stream %s: %w", cfg.Name, err)
		}
		logger.Info().Str("stream", cfg.Name).Msg("ensured stream")
	}

	return nil
}

// Stop gracefully stops all consumers.
func (ns *NATSSubscriber) Stop() {
	for _, cc := range ns.consumers {
		cc.Stop()
	}
	ns.logger.Info().Msg("NATS subscribers stopped")
}

// ConnectNATS establishes a NATS connection and returns a JetStream context.
func ConnectNATS(url string) (*nats.Conn, jetstream.JetStream, error) {
	logger := observability.NewLogger("nats")
	nc, err := nats.Connect(url,
		nats.Name("ypoolledger"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			logger.Warn().Err(err).Msg("NATS disconnected")
		}),
		nats.ReconnectHandler(func(_ *nats.Conn) {
			logger.Info().Msg("NATS reconnected")
		}),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("nats connect: %w", err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, nil, fmt.Errorf("jetstream: %w", err)
	}

	return nc, js, nil
}
