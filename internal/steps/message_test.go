package steps

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/practiq/automation/internal/notify"
	"github.com/practiq/automation/pkg/schema"
)

func emailCtx(config string, record map[string]any) *ExecContext {
	return &ExecContext{
		Step: &schema.WorkflowStep{
			Key:    "email",
			Kind:   schema.StepKindSendEmail,
			Config: json.RawMessage(config),
		},
		Context:    &schema.ExecutionContext{Record: record},
		RecordType: "contact",
		RecordID:   "c-1",
	}
}

func TestEmail_SendWithInterpolation(t *testing.T) {
	sender := notify.NewMemorySender()
	e := NewEmailExecutor(sender)

	ec := emailCtx(`{"recipient_field":"email","subject":"Hi {{first_name}}","body":"Welcome, {{first_name}}!"}`,
		map[string]any{"email": "ada@example.com", "first_name": "Ada"})

	res, err := e.Execute(context.Background(), ec)
	require.NoError(t, err)
	assert.False(t, res.Skipped)
	assert.NotEmpty(t, res.Output["message_id"])
	assert.Equal(t, "ada@example.com", res.Output["recipient"])

	sent := sender.Sent()
	require.Len(t, sent, 1)
	assert.Equal(t, notify.ChannelEmail, sent[0].Channel)
	assert.Equal(t, "Hi Ada", sent[0].Subject)
	assert.Equal(t, "Welcome, Ada!", sent[0].Body)
}

func TestEmail_FallbackField(t *testing.T) {
	sender := notify.NewMemorySender()
	e := NewEmailExecutor(sender)

	ec := emailCtx(`{"recipient_field":"work_email","fallback_field":"email","subject":"s","body":"b"}`,
		map[string]any{"email": "ada@example.com"})

	res, err := e.Execute(context.Background(), ec)
	require.NoError(t, err)
	assert.Equal(t, "ada@example.com", res.Output["recipient"])
}

func TestEmail_MissingRecipientFails(t *testing.T) {
	e := NewEmailExecutor(notify.NewMemorySender())

	ec := emailCtx(`{"recipient_field":"email","subject":"s","body":"b"}`, map[string]any{})

	_, err := e.Execute(context.Background(), ec)
	require.Error(t, err)
	var autoErr *schema.AutomationError
	require.ErrorAs(t, err, &autoErr)
	assert.Equal(t, "email", autoErr.StepKey)
}

func smsCtx(config string, record map[string]any) *ExecContext {
	return &ExecContext{
		Step: &schema.WorkflowStep{
			Key:    "sms",
			Kind:   schema.StepKindSendSMS,
			Config: json.RawMessage(config),
		},
		Context:    &schema.ExecutionContext{Record: record},
		RecordType: "contact",
		RecordID:   "c-1",
	}
}

func TestSMS_Send(t *testing.T) {
	sender := notify.NewMemorySender()
	e := NewSMSExecutor(sender)

	ec := smsCtx(`{"recipient_field":"phone","body":"Hi {{first_name}}"}`,
		map[string]any{"phone": "+1 555 123 4567", "first_name": "Ada", "sms_opt_in": true})

	res, err := e.Execute(context.Background(), ec)
	require.NoError(t, err)
	assert.False(t, res.Skipped)

	sent := sender.Sent()
	require.Len(t, sent, 1)
	assert.Equal(t, notify.ChannelSMS, sent[0].Channel)
	assert.Equal(t, "Hi Ada", sent[0].Body)
}

// An opted-out recipient skips the step; the workflow keeps going.
func TestSMS_NoConsentSkips(t *testing.T) {
	sender := notify.NewMemorySender()
	e := NewSMSExecutor(sender)

	ec := smsCtx(`{"recipient_field":"phone","body":"b"}`,
		map[string]any{"phone": "+15551234567", "sms_opt_in": false})

	res, err := e.Execute(context.Background(), ec)
	require.NoError(t, err)
	assert.True(t, res.Skipped)
	assert.Empty(t, sender.Sent())
}

func TestSMS_MissingConsentFieldSkips(t *testing.T) {
	e := NewSMSExecutor(notify.NewMemorySender())

	ec := smsCtx(`{"recipient_field":"phone","body":"b"}`,
		map[string]any{"phone": "+15551234567"})

	res, err := e.Execute(context.Background(), ec)
	require.NoError(t, err)
	assert.True(t, res.Skipped)
}

func TestSMS_CustomConsentField(t *testing.T) {
	e := NewSMSExecutor(notify.NewMemorySender())

	ec := smsCtx(`{"recipient_field":"phone","consent_field":"marketing_ok","body":"b"}`,
		map[string]any{"phone": "+15551234567", "marketing_ok": "yes"})

	res, err := e.Execute(context.Background(), ec)
	require.NoError(t, err)
	assert.False(t, res.Skipped)
}

func TestSMS_InvalidPhoneFails(t *testing.T) {
	e := NewSMSExecutor(notify.NewMemorySender())

	ec := smsCtx(`{"recipient_field":"phone","body":"b"}`,
		map[string]any{"phone": "not-a-number", "sms_opt_in": true})

	_, err := e.Execute(context.Background(), ec)
	require.Error(t, err)
}

func TestValidPhone(t *testing.T) {
	assert.True(t, validPhone("+15551234567"))
	assert.True(t, validPhone("555-123-4567"))
	assert.True(t, validPhone("(555) 123.4567"))
	assert.False(t, validPhone("12345"))
	assert.False(t, validPhone("call me maybe"))
	assert.False(t, validPhone(""))
}
