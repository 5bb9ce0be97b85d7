package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/fjod/go_cart/storefront-cart/internal/logger"
	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

const (
	CheckoutTopic   = "checkout-outbox"
	DefaultGroupID  = "storefront-cart"
	readRetryPeriod = time.Second
)

// CheckoutHandler empties the cart of a user whose checkout completed.
type CheckoutHandler interface {
	CheckoutCompleted(userID string) bool
}

// MessageReader is satisfied by *kafka.Reader.
type MessageReader interface {
	ReadMessage(ctx context.Context) (kafka.Message, error)
	Close() error
}

type checkoutEvent struct {
	CheckoutID string `json:"checkout_id"`
	UserID     any    `json:"user_id"`
}

// CheckoutListener follows the checkout outbox so the cart empties once an
// order is placed from another device or tab.
type CheckoutListener struct {
	reader  MessageReader
	handler CheckoutHandler
	log     *zap.Logger
}

func NewCheckoutListener(handler CheckoutHandler, groupID string, log *zap.Logger, brokers ...string) *CheckoutListener {
	if groupID == "" {
		groupID = DefaultGroupID
	}
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  brokers,
		Topic:    CheckoutTopic,
		GroupID:  groupID,
		MaxBytes: 10e6, // 10MB
	})
	return NewCheckoutListenerWithReader(reader, handler, log)
}

func NewCheckoutListenerWithReader(reader MessageReader, handler CheckoutHandler, log *zap.Logger) *CheckoutListener {
	return &CheckoutListener{
		reader:  reader,
		handler: handler,
		log:     logger.OrNop(log).Named("checkout-listener"),
	}
}

// Run consumes until ctx is canceled.
func (l *CheckoutListener) Run(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}
		if err := l.handleNext(ctx); err != nil && ctx.Err() == nil {
			l.log.Warn("error reading message", zap.Error(err))
			select {
			case <-ctx.Done():
				return
			case <-time.After(readRetryPeriod):
			}
		}
	}
}

func (l *CheckoutListener) Close() {
	if err := l.reader.Close(); err != nil {
		l.log.Warn("error closing reader", zap.Error(err))
	}
}

// handleNext returns only read errors; bad messages are logged and skipped.
func (l *CheckoutListener) handleNext(ctx context.Context) error {
	m, err := l.reader.ReadMessage(ctx)
	if err != nil {
		return err
	}

	userID, checkoutID, err := parseCheckout(m.Value)
	if err != nil {
		l.log.Warn("skipping checkout message",
			zap.Error(err),
			zap.Int64("offset", m.Offset),
			zap.Int("partition", m.Partition))
		return nil
	}

	if l.handler.CheckoutCompleted(userID) {
		l.log.Info("cart cleared after checkout",
			zap.String("user_id", userID),
			zap.String("checkout_id", checkoutID))
	}
	return nil
}

var errMissingUserID = errors.New("missing or invalid user_id")

func parseCheckout(value []byte) (userID, checkoutID string, err error) {
	var event checkoutEvent
	if err := json.Unmarshal(value, &event); err != nil {
		return "", "", fmt.Errorf("error parsing message: %w", err)
	}

	switch v := event.UserID.(type) {
	case string:
		userID = v
	case float64:
		if v == float64(int64(v)) {
			userID = strconv.FormatInt(int64(v), 10)
		}
	}
	if userID == "" {
		return "", "", errMissingUserID
	}
	return userID, event.CheckoutID, nil
}
