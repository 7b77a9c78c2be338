package steps

import (
	"context"
	"strings"

	"github.com/practiq/automation/internal/notify"
	"github.com/practiq/automation/internal/template"
	"github.com/practiq/automation/pkg/schema"
)

// EmailExecutor sends a templated email through the notification sender.
type EmailExecutor struct {
	sender notify.Sender
}

// NewEmailExecutor creates the send_email executor.
func NewEmailExecutor(sender notify.Sender) *EmailExecutor {
	return &EmailExecutor{sender: sender}
}

func (e *EmailExecutor) Kind() schema.StepKind { return schema.StepKindSendEmail }

func (e *EmailExecutor) Execute(ctx context.Context, ec *ExecContext) (*Result, error) {
	cfg, err := parseConfig[schema.EmailConfig](ec.Step)
	if err != nil {
		return nil, err
	}

	recipient, err := resolveRecipient(ec, cfg.Recipient, cfg.RecipientField, cfg.FallbackField)
	if err != nil {
		return nil, err
	}

	scope := template.ScopeFrom(ec.Context)
	subject, err := template.Render(cfg.Subject, scope)
	if err != nil {
		return nil, wrapStepErr(err, ec.Step.Key)
	}
	body, err := template.Render(cfg.Body, scope)
	if err != nil {
		return nil, wrapStepErr(err, ec.Step.Key)
	}

	receipt, err := e.sender.Send(ctx, notify.Message{
		Channel:   notify.ChannelEmail,
		Recipient: recipient,
		Subject:   subject,
		Body:      body,
	})
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeExecution,
			"email send failed: %s", err.Error()).
			WithStep(ec.Step.Key).WithCause(err)
	}

	return &Result{Output: map[string]any{
		"recipient":  recipient,
		"message_id": receipt.MessageID,
		"provider":   receipt.Provider,
	}}, nil
}

// SMSExecutor sends a templated SMS. A recipient without consent skips the
// step and the workflow continues.
type SMSExecutor struct {
	sender notify.Sender
}

// NewSMSExecutor creates the send_sms executor.
func NewSMSExecutor(sender notify.Sender) *SMSExecutor {
	return &SMSExecutor{sender: sender}
}

func (e *SMSExecutor) Kind() schema.StepKind { return schema.StepKindSendSMS }

const defaultConsentField = "sms_opt_in"

func (e *SMSExecutor) Execute(ctx context.Context, ec *ExecContext) (*Result, error) {
	cfg, err := parseConfig[schema.SMSConfig](ec.Step)
	if err != nil {
		return nil, err
	}

	consentField := cfg.ConsentField
	if consentField == "" {
		consentField = defaultConsentField
	}
	if !hasConsent(ec.Context, consentField) {
		return &Result{
			Skipped:    true,
			SkipReason: "recipient has not opted in to SMS",
			Output:     map[string]any{"consent_field": consentField},
		}, nil
	}

	recipient, err := resolveRecipient(ec, cfg.Recipient, cfg.RecipientField, cfg.FallbackField)
	if err != nil {
		return nil, err
	}
	if !validPhone(recipient) {
		return nil, schema.NewErrorf(schema.ErrCodeExecution,
			"invalid phone number %q", recipient).WithStep(ec.Step.Key)
	}

	body, err := template.Render(cfg.Body, template.ScopeFrom(ec.Context))
	if err != nil {
		return nil, wrapStepErr(err, ec.Step.Key)
	}

	receipt, err := e.sender.Send(ctx, notify.Message{
		Channel:   notify.ChannelSMS,
		Recipient: recipient,
		Body:      body,
	})
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeExecution,
			"sms send failed: %s", err.Error()).
			WithStep(ec.Step.Key).WithCause(err)
	}

	return &Result{Output: map[string]any{
		"recipient":  recipient,
		"message_id": receipt.MessageID,
		"provider":   receipt.Provider,
	}}, nil
}

// resolveRecipient picks the destination address: explicit config value, then
// the named record field, then the fallback field. No resolution is a failure.
func resolveRecipient(ec *ExecContext, explicit, field, fallback string) (string, error) {
	if explicit != "" {
		return explicit, nil
	}

	var record map[string]any
	if ec.Context != nil {
		record = ec.Context.Record
	}

	for _, name := range []string{field, fallback} {
		if name == "" {
			continue
		}
		if v, ok := record[name]; ok {
			if s, ok := v.(string); ok && s != "" {
				return s, nil
			}
		}
	}

	return "", schema.NewError(schema.ErrCodeExecution, "no recipient could be resolved").
		WithStep(ec.Step.Key).
		WithDetails(map[string]any{"recipient_field": field, "fallback_field": fallback})
}

// hasConsent reads the consent field from the record; only explicit truthy
// values count as opted in.
func hasConsent(ec *schema.ExecutionContext, field string) bool {
	if ec == nil || ec.Record == nil {
		return false
	}
	switch v := ec.Record[field].(type) {
	case bool:
		return v
	case string:
		return v == "true" || v == "yes" || v == "1"
	case float64:
		return v != 0
	default:
		return false
	}
}

// validPhone accepts E.164-ish numbers: optional +, then 7-15 digits with
// common separators tolerated.
func validPhone(s string) bool {
	cleaned := strings.Map(func(r rune) rune {
		switch r {
		case ' ', '-', '(', ')', '.':
			return -1
		}
		return r
	}, s)
	cleaned = strings.TrimPrefix(cleaned, "+")
	if len(cleaned) < 7 || len(cleaned) > 15 {
		return false
	}
	for _, r := range cleaned {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

func wrapStepErr(err error, stepKey string) error {
	if ae, ok := err.(*schema.AutomationError); ok {
		if ae.StepKey == "" {
			ae.StepKey = stepKey
		}
		return ae
	}
	return schema.NewError(schema.ErrCodeExecution, err.Error()).WithStep(stepKey).WithCause(err)
}
