package validation

import (
	"encoding/json"
	"fmt"
	"net/url"
	"strings"

	"github.com/robfig/cron/v3"

	"github.com/practiq/automation/pkg/schema"
)

// validateSemantic performs the checks JSON Schema cannot express: key
// uniqueness, step graph references, per-kind config requirements, and
// trigger/re-entry coherence.
func validateSemantic(def *schema.WorkflowDefinition) *schema.ValidationResult {
	result := &schema.ValidationResult{}

	stepKeys := make(map[string]bool, len(def.Steps))
	for i, step := range def.Steps {
		if stepKeys[step.Key] {
			result.AddError(fmt.Sprintf("steps[%d].key", i), schema.ErrCodeValidation,
				fmt.Sprintf("duplicate step key %q", step.Key))
		}
		stepKeys[step.Key] = true
	}

	if !stepKeys["trigger"] {
		result.AddError("steps", schema.ErrCodeValidation,
			`workflow has no "trigger" step to start from`)
	}

	for i, step := range def.Steps {
		path := fmt.Sprintf("steps[%d]", i)
		validateStepRefs(step, path, stepKeys, result)
		validateStepConfig(step, path, result)
		if step.Condition != nil {
			validateCondition(step.Condition, path+".condition", result)
		}
	}

	for i, cond := range def.EntryCriteria {
		validateCondition(&cond, fmt.Sprintf("entry_criteria[%d]", i), result)
	}

	if def.ReentryMode == schema.ReentryAfterWaitDays && def.ReentryWaitDays < 1 {
		result.AddError("reentry_wait_days", schema.ErrCodeValidation,
			"after_wait_days re-entry requires reentry_wait_days >= 1")
	}

	if def.TriggerType == schema.TriggerSchedule {
		if def.TriggerConfig.Cron == "" {
			result.AddError("trigger_config.cron", schema.ErrCodeValidation,
				"schedule trigger requires a cron expression")
		} else if _, err := cron.ParseStandard(def.TriggerConfig.Cron); err != nil {
			result.AddError("trigger_config.cron", schema.ErrCodeValidation,
				fmt.Sprintf("invalid cron expression: %s", err))
		}
	}

	return result
}

// validateStepRefs checks that every next-step pointer resolves.
func validateStepRefs(step *schema.WorkflowStep, path string, stepKeys map[string]bool, result *schema.ValidationResult) {
	if step.NextStepKey != "" && !stepKeys[step.NextStepKey] {
		result.AddError(path+".next_step_key", schema.ErrCodeValidation,
			fmt.Sprintf("references non-existent step %q", step.NextStepKey))
	}
	for j, branch := range step.Branches {
		if branch.NextStepKey != "" && !stepKeys[branch.NextStepKey] {
			result.AddError(fmt.Sprintf("%s.branches[%d].next_step_key", path, j),
				schema.ErrCodeValidation,
				fmt.Sprintf("references non-existent step %q", branch.NextStepKey))
		}
	}
	if len(step.Branches) > 0 && step.Kind != schema.StepKindDecision {
		result.AddWarning(path+".branches", schema.ErrCodeValidation,
			fmt.Sprintf("branches on a %s step are ignored", step.Kind))
	}
}

// validateStepConfig applies per-kind config requirements.
func validateStepConfig(step *schema.WorkflowStep, path string, result *schema.ValidationResult) {
	cfgPath := path + ".config"

	switch step.Kind {
	case schema.StepKindTrigger, schema.StepKindEnd:
		// No config required.

	case schema.StepKindSendEmail:
		var cfg schema.EmailConfig
		if !decodeConfig(step.Config, &cfg, cfgPath, result) {
			return
		}
		if cfg.Recipient == "" && cfg.RecipientField == "" && cfg.FallbackField == "" {
			result.AddError(cfgPath, schema.ErrCodeValidation,
				"send_email requires a recipient, recipient_field, or fallback_field")
		}
		if cfg.Subject == "" && cfg.Body == "" {
			result.AddError(cfgPath, schema.ErrCodeValidation,
				"send_email requires a subject or body")
		}

	case schema.StepKindSendSMS:
		var cfg schema.SMSConfig
		if !decodeConfig(step.Config, &cfg, cfgPath, result) {
			return
		}
		if cfg.Recipient == "" && cfg.RecipientField == "" && cfg.FallbackField == "" {
			result.AddError(cfgPath, schema.ErrCodeValidation,
				"send_sms requires a recipient, recipient_field, or fallback_field")
		}
		if cfg.Body == "" {
			result.AddError(cfgPath, schema.ErrCodeValidation, "send_sms requires a body")
		}

	case schema.StepKindCreateTask:
		var cfg schema.TaskConfig
		if !decodeConfig(step.Config, &cfg, cfgPath, result) {
			return
		}
		if cfg.Title == "" {
			result.AddError(cfgPath, schema.ErrCodeValidation, "create_task requires a title")
		}

	case schema.StepKindUpdateField:
		var cfg schema.FieldUpdateConfig
		if !decodeConfig(step.Config, &cfg, cfgPath, result) {
			return
		}
		if cfg.Field == "" {
			result.AddError(cfgPath, schema.ErrCodeValidation, "update_field requires a field")
		}
		if cfg.Value == nil {
			result.AddError(cfgPath, schema.ErrCodeValidation, "update_field requires a value")
		}

	case schema.StepKindWait:
		var cfg schema.WaitConfig
		if !decodeConfig(step.Config, &cfg, cfgPath, result) {
			return
		}
		if cfg.DateField == "" && cfg.Days <= 0 && cfg.Hours <= 0 {
			result.AddError(cfgPath, schema.ErrCodeValidation,
				"wait requires days, hours, or a date_field")
		}
		// A wait suspends and later resumes at its next step, so there must
		// be one to resume at.
		if step.NextStepKey == "" {
			result.AddError(path+".next_step_key", schema.ErrCodeValidation,
				"wait requires a next_step_key to resume at")
		}

	case schema.StepKindDecision:
		var cfg schema.DecisionConfig
		if !decodeConfig(step.Config, &cfg, cfgPath, result) {
			return
		}
		switch cfg.Mode {
		case "", "simple":
			if cfg.Condition == nil {
				result.AddError(cfgPath+".condition", schema.ErrCodeValidation,
					"simple decision requires a condition")
			} else {
				validateCondition(cfg.Condition, cfgPath+".condition", result)
			}
			if findBranchKey(step.Branches, "true") == nil || findBranchKey(step.Branches, "false") == nil {
				result.AddError(path+".branches", schema.ErrCodeValidation,
					`simple decision requires "true" and "false" branches`)
			}
		case "advanced":
			if len(step.Branches) == 0 {
				result.AddError(path+".branches", schema.ErrCodeValidation,
					"advanced decision requires at least one branch")
			}
		default:
			result.AddError(cfgPath+".mode", schema.ErrCodeValidation,
				fmt.Sprintf("unknown decision mode %q", cfg.Mode))
		}

	case schema.StepKindWebhook:
		var cfg schema.WebhookConfig
		if !decodeConfig(step.Config, &cfg, cfgPath, result) {
			return
		}
		if cfg.URL == "" {
			result.AddError(cfgPath+".url", schema.ErrCodeValidation, "webhook requires a url")
		} else if u, err := url.ParseRequestURI(cfg.URL); err != nil || (u.Scheme != "http" && u.Scheme != "https") {
			// Template placeholders in the host make the URL unparseable at
			// definition time; only reject clearly broken static URLs.
			if !strings.Contains(cfg.URL, "{{") {
				result.AddError(cfgPath+".url", schema.ErrCodeValidation,
					fmt.Sprintf("webhook url %q is not a valid http(s) URL", cfg.URL))
			}
		}

	default:
		result.AddError(path+".kind", schema.ErrCodeValidation,
			fmt.Sprintf("unknown step kind %q", step.Kind))
	}
}

// validateCondition requires either an expression or a field/operator pair.
func validateCondition(cond *schema.Condition, path string, result *schema.ValidationResult) {
	if cond.Expression != "" {
		return
	}
	if cond.Field == "" {
		result.AddError(path+".field", schema.ErrCodeValidation,
			"condition requires a field or an expression")
	}
	if cond.Operator == "" {
		result.AddError(path+".operator", schema.ErrCodeValidation,
			"condition requires an operator")
	}
}

func decodeConfig(raw json.RawMessage, dst any, path string, result *schema.ValidationResult) bool {
	if len(raw) == 0 {
		result.AddError(path, schema.ErrCodeValidation, "step requires a config")
		return false
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		result.AddError(path, schema.ErrCodeValidation,
			fmt.Sprintf("invalid config: %s", err))
		return false
	}
	return true
}

func findBranchKey(branches []schema.Branch, key string) *schema.Branch {
	for i := range branches {
		if branches[i].Key == key {
			return &branches[i]
		}
	}
	return nil
}
