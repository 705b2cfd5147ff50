package email

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/gomail.v2"
)

type fakeDialer struct {
	sent []*gomail.Message
	err  error
}

func (d *fakeDialer) DialAndSend(m ...*gomail.Message) error {
	if d.err != nil {
		return d.err
	}
	d.sent = append(d.sent, m...)
	return nil
}

func TestSendCustom(t *testing.T) {
	d := &fakeDialer{}
	svc := NewService(d, "citas@clinic.local")

	require.NoError(t, svc.SendCustom(context.Background(), "ana@example.com", "Cita confirmada", "Hasta pronto"))
	require.Len(t, d.sent, 1)
	assert.Equal(t, []string{"ana@example.com"}, d.sent[0].GetHeader("To"))
	assert.Equal(t, []string{"Cita confirmada"}, d.sent[0].GetHeader("Subject"))

	var buf bytes.Buffer
	_, err := d.sent[0].WriteTo(&buf)
	require.NoError(t, err)
	assert.Contains(t, buf.String(), "Hasta pronto")
}

func TestSendCustom_Errors(t *testing.T) {
	svc := NewService(&fakeDialer{err: errors.New("smtp down")}, "citas@clinic.local")
	err := svc.SendCustom(context.Background(), "ana@example.com", "s", "b")
	assert.ErrorContains(t, err, "smtp down")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, svc.SendCustom(ctx, "ana@example.com", "s", "b"), context.Canceled)
}
