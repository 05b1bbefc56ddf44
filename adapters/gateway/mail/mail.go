package mail

import (
	"errors"
	"os"
	"time"

	"github.com/rs/zerolog"
	gomail "gopkg.in/gomail.v2"
)

type SmtpConfig struct {
	Host     string `yaml:"Host"`
	Port     int    `yaml:"Port"`
	User     string `yaml:"User"`
	Password string `yaml:"Password"`
	From     string `yaml:"From"`
}

// Smtp implements model.MailTransport over a plain SMTP dialer. Delivery
// guarantees end here: the core treats sends as fire-and-forget.
type Smtp struct {
	dialer *gomail.Dialer
	from   string
	logger zerolog.Logger
}

func NewSmtp(conf SmtpConfig, logl int) *Smtp {
	return &Smtp{
		dialer: gomail.NewDialer(conf.Host, conf.Port, conf.User, conf.Password),
		from:   conf.From,
		logger: zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}).Level(zerolog.InfoLevel+zerolog.Level(logl)).With().Timestamp().Int("pid", os.Getpid()).Logger(),
	}
}

func (s *Smtp) Send(to []string, subject, htmlBody string) error {
	if len(to) == 0 {
		return errors.New("mail send with no recipients")
	}

	m := gomail.NewMessage()
	m.SetHeader("From", s.from)
	m.SetHeader("To", to...)
	m.SetHeader("Subject", subject)
	m.SetBody("text/html", htmlBody)

	if err := s.dialer.DialAndSend(m); err != nil {
		return errors.Join(err, errors.New("smtp send"))
	}
	s.logger.Debug().Strs("to", to).Str("subject", subject).Msg("mail sent")
	return nil
}
