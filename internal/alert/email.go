package alert

import (
	"context"
	"fmt"

	"github.com/oszuidwest/zwfm-levelmeter/internal/types"
	"github.com/oszuidwest/zwfm-levelmeter/internal/util"
)

// levelHighEmail builds the subject and body of an episode alert.
func levelHighEmail(stationName string, levelDB, targetDB float64, durationMs int64) (subject, body string) {
	subject = "[ALERT] Level Above Target - " + stationName
	body = fmt.Sprintf(
		"The measured level has stayed above the target.\n\n"+
			"Level:  %.1f dB\n"+
			"Target: %.1f dB\n"+
			"Above:  %s\n"+
			"Time:   %s\n\n"+
			"The level is still above target. Please check the source.",
		levelDB, targetDB, util.FormatDuration(durationMs), util.HumanTime(),
	)
	return subject, body
}

// recoveryEmail builds the subject and body of an episode recovery.
func recoveryEmail(stationName string, durationMs int64, levelDB, targetDB float64) (subject, body string) {
	subject = "[OK] Level Recovered - " + stationName
	body = fmt.Sprintf(
		"The measured level is back below the target.\n\n"+
			"Level:         %.1f dB\n"+
			"Target:        %.1f dB\n"+
			"Episode took:  %s\n"+
			"Time:          %s",
		levelDB, targetDB, util.FormatDuration(durationMs), util.HumanTime(),
	)
	return subject, body
}

// SendTestEmail sends a test email to verify email configuration.
func SendTestEmail(cfg *types.GraphConfig, stationName string) error {
	if err := ValidateConfig(cfg); err != nil {
		return fmt.Errorf("configuration error: %w", err)
	}

	client, err := newGraphMailer(cfg)
	if err != nil {
		return fmt.Errorf("create Graph client: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), mailDeadline)
	defer cancel()
	if err := client.checkMailbox(ctx); err != nil {
		return fmt.Errorf("authentication failed: %w", err)
	}

	subject := "[TEST] " + stationName
	body := fmt.Sprintf(
		"Test email from the %s.\n\n"+
			"Time: %s\n\n"+
			"Microsoft Graph configuration is working correctly.",
		AppName, util.HumanTime(),
	)

	if err := client.Send(ctx, ParseRecipients(cfg.Recipients), subject, body); err != nil {
		return fmt.Errorf("send email: %w", err)
	}

	return nil
}
