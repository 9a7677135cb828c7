package notify

import "github.com/sirupsen/logrus"

// EmailFor returns a SendGrid sender when an API key is set and a logging
// sender otherwise.
func EmailFor(cfg SendGridConfig, log logrus.FieldLogger) EmailSender {
	if sg := NewSendGridSender(cfg, log); sg != nil {
		return sg
	}
	log.Warn("SENDGRID_API_KEY not set, emails will only be logged")
	return NewLogEmailSender(log)
}

// SMSFor returns a Twilio sender when all credentials are set and a logging
// sender otherwise.
func SMSFor(accountSID, authToken, from string, log logrus.FieldLogger) SMSSender {
	if accountSID == "" || authToken == "" || from == "" {
		log.Warn("twilio credentials not set, sms will only be logged")
		return NewLogSMSSender(log)
	}
	return NewTwilioSender(accountSID, authToken, from, log)
}
