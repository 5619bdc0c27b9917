package notify

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	sdkerrors "github.com/wehubfusion/Daedalus/pkg/errors"
	"github.com/wehubfusion/Daedalus/pkg/pipeline"
)

type fakePublisher struct {
	failures int
	subjects []string
	messages [][]byte
}

func (p *fakePublisher) Publish(subject string, data []byte) error {
	p.subjects = append(p.subjects, subject)
	if p.failures > 0 {
		p.failures--
		return errors.New("nats: connection closed")
	}
	p.messages = append(p.messages, data)
	return nil
}

func TestPublishSummary(t *testing.T) {
	pub := &fakePublisher{}
	n := NewNotifier(pub, "daedalus.runs", nil)

	err := n.Publish(context.Background(), Summary{
		RunID:  "run-1",
		Status: StatusCompleted,
		Input:  "in.xlsx",
		Output: "out.xlsx",
		Report: &pipeline.Report{RunID: "run-1", Total: 5, Succeeded: 4, ValidationFailed: 1},
	})
	require.NoError(t, err)
	require.Len(t, pub.messages, 1)
	assert.Equal(t, []string{"daedalus.runs"}, pub.subjects)

	var got map[string]any
	require.NoError(t, json.Unmarshal(pub.messages[0], &got))
	assert.Equal(t, "run-1", got["runId"])
	assert.Equal(t, "completed", got["status"])
	assert.NotEmpty(t, got["timestamp"])
	report := got["report"].(map[string]any)
	assert.EqualValues(t, 5, report["total"])
}

func TestPublishRetries(t *testing.T) {
	pub := &fakePublisher{failures: 2}
	n := NewNotifier(pub, "runs", nil)
	n.retryDelay = time.Millisecond

	require.NoError(t, n.Publish(context.Background(), Summary{RunID: "r"}))
	assert.Len(t, pub.subjects, 3)
}

func TestPublishGivesUp(t *testing.T) {
	pub := &fakePublisher{failures: 10}
	n := NewNotifier(pub, "runs", nil)
	n.retryDelay = time.Millisecond

	err := n.Publish(context.Background(), Summary{RunID: "r"})
	assert.ErrorIs(t, err, sdkerrors.ErrPublishFailed)
	assert.Len(t, pub.subjects, 4)
}

func TestPublishWithoutConnection(t *testing.T) {
	err := NewNotifier(nil, "runs", nil).Publish(context.Background(), Summary{})
	assert.ErrorIs(t, err, sdkerrors.ErrNotConnected)
}
