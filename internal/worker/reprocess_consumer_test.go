package worker_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"

	"github.com/nsqio/go-nsq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"receiptiq/backend/internal/engine"
	"receiptiq/backend/internal/worker"
)

type MockReprocessor struct{ mock.Mock }

func (m *MockReprocessor) Reprocess(ctx context.Context, receiptID, userID string) error {
	args := m.Called(ctx, receiptID, userID)
	return args.Error(0)
}

func TestReprocessConsumer_HandleMessage(t *testing.T) {
	r := new(MockReprocessor)
	consumer := worker.NewReprocessConsumer(r)

	body, _ := json.Marshal(worker.ReprocessPayload{ReceiptID: "rcpt-1", UserID: "user-1"})
	msg := &nsq.Message{Body: body}

	r.On("Reprocess", mock.Anything, "rcpt-1", "user-1").Return(nil)

	err := consumer.HandleMessage(msg)
	assert.NoError(t, err)
	r.AssertExpectations(t)
}

func TestReprocessConsumer_PoisonPill(t *testing.T) {
	r := new(MockReprocessor)
	consumer := worker.NewReprocessConsumer(r)

	err := consumer.HandleMessage(&nsq.Message{Body: []byte("{not json")})
	assert.NoError(t, err)
	r.AssertNotCalled(t, "Reprocess", mock.Anything, mock.Anything, mock.Anything)
}

func TestReprocessConsumer_TransientError_Retries(t *testing.T) {
	r := new(MockReprocessor)
	consumer := worker.NewReprocessConsumer(r)

	body, _ := json.Marshal(worker.ReprocessPayload{ReceiptID: "rcpt-1", UserID: "user-1"})
	r.On("Reprocess", mock.Anything, "rcpt-1", "user-1").Return(errors.New("db timeout"))

	err := consumer.HandleMessage(&nsq.Message{Body: body})
	assert.Error(t, err)
}

func TestReprocessConsumer_IncompatibleEngine_Acks(t *testing.T) {
	r := new(MockReprocessor)
	consumer := worker.NewReprocessConsumer(r)

	body, _ := json.Marshal(worker.ReprocessPayload{ReceiptID: "rcpt-1", UserID: "user-1"})
	r.On("Reprocess", mock.Anything, "rcpt-1", "user-1").
		Return(fmt.Errorf("extract: %w", engine.ErrIncompatible))

	err := consumer.HandleMessage(&nsq.Message{Body: body})
	assert.NoError(t, err)
}
