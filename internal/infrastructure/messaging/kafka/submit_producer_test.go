package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fepforge/fepforge/internal/infrastructure/monitoring/logging"
	apperrors "github.com/fepforge/fepforge/pkg/errors"
)

func TestSubmitProducer_PublishSubmission(t *testing.T) {
	w := &fakeWriter{}
	p := &SubmitProducer{writer: w, log: logging.NewNopLogger()}

	sub := BatchSubmission{
		Name: "fxa-series",
		Pairs: []LigandPairSpec{
			{Name: "lig01~lig02", LigandA: "pdb a", LigandB: "pdb b"},
		},
	}
	require.NoError(t, p.PublishSubmission(context.Background(), sub))
	require.Len(t, w.msgs, 1)

	assert.Equal(t, "fxa-series", string(w.msgs[0].Key))
	var got BatchSubmission
	require.NoError(t, json.Unmarshal(w.msgs[0].Value, &got))
	assert.Equal(t, sub, got)
}

func TestSubmitProducer_WriteFailureIsTransient(t *testing.T) {
	w := &fakeWriter{writeErr: errors.New("broker down")}
	p := &SubmitProducer{writer: w, log: logging.NewNopLogger()}

	err := p.PublishSubmission(context.Background(), BatchSubmission{Name: "b"})
	require.Error(t, err)
	assert.Equal(t, apperrors.CodeMessageQueueError, apperrors.GetCode(err))
	assert.True(t, apperrors.IsTransient(err))
}

func TestSubmitProducer_ClosedRejects(t *testing.T) {
	w := &fakeWriter{}
	p := &SubmitProducer{writer: w, log: logging.NewNopLogger()}
	require.NoError(t, p.Close())
	require.NoError(t, p.Close())
	assert.True(t, w.closed)

	err := p.PublishSubmission(context.Background(), BatchSubmission{Name: "b"})
	assert.Equal(t, apperrors.CodeMessageQueueError, apperrors.GetCode(err))
}
