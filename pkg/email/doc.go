// Package email sends transactional emails through Postmark, with a
// file-based sender for local development.
//
// # Usage
//
//	var cfg email.Config
//	config.MustLoad(&cfg)
//
//	var sender email.EmailSender
//	if cfg.PostmarkServerToken != "" {
//		sender, err = email.NewPostmarkSender(cfg)
//	} else {
//		sender = email.NewDevSender("./tmp/emails")
//	}
//
// The package knows nothing about email content; callers render the HTML
// body and hand it over as SendEmailParams.
package email
