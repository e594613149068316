package email

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"net/smtp"
	"net/textproto"
	"time"

	"github.com/sakashimaa/stock-reservation/pkg/config"
	pkgdomain "github.com/sakashimaa/stock-reservation/pkg/domain"
	"github.com/sakashimaa/stock-reservation/pkg/mylogger"
	"github.com/sakashimaa/stock-reservation/services/notification/internal/domain"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

type Sender interface {
	SendOrderStatusEmail(ctx context.Context, n pkgdomain.OrderStatusNotification) error
}

type sendFunc func(ctx context.Context, addr string, a smtp.Auth, from string, to []string, msg []byte) error

type smtpSender struct {
	from     string
	password string
	host     string
	port     string
	timeout  time.Duration
	send     sendFunc
	logger   *zap.Logger
	tracer   trace.Tracer
}

func NewSMTPSender(cfg config.SMTP, logger *zap.Logger) Sender {
	s := &smtpSender{
		from:     cfg.User,
		password: cfg.Password,
		host:     cfg.Host,
		port:     cfg.Port,
		timeout:  cfg.Timeout,
		logger:   logger,
		tracer:   otel.Tracer("notification/infrastructure/email"),
	}
	s.send = s.deliver

	return s
}

func (s *smtpSender) SendOrderStatusEmail(ctx context.Context, n pkgdomain.OrderStatusNotification) error {
	ctx, span := s.tracer.Start(ctx, "smtp.SendOrderStatusEmail")
	defer span.End()

	span.SetAttributes(
		attribute.Int64("order.id", n.OrderID),
		attribute.String("order.status", n.Status),
		attribute.String("to.email", n.CustomerEmail),
	)

	msg, err := buildMessage(s.from, n)
	if err != nil {
		span.RecordError(err)
		return err
	}

	addr := net.JoinHostPort(s.host, s.port)
	auth := smtp.PlainAuth("", s.from, s.password, s.host)

	mylogger.Info(
		ctx,
		s.logger,
		"Sending order status email",
		zap.Int64("order_id", n.OrderID),
		zap.String("status", n.Status),
		zap.String("to", n.CustomerEmail),
	)

	if err := s.send(ctx, addr, auth, s.from, []string{n.CustomerEmail}, msg); err != nil {
		span.RecordError(err)
		mylogger.Error(
			ctx,
			s.logger,
			"Error sending order status email",
			zap.Int64("order_id", n.OrderID),
			zap.String("to", n.CustomerEmail),
			zap.Error(err),
		)

		if isPermanent(err) {
			return fmt.Errorf("%w: %v", domain.ErrUndeliverable, err)
		}

		return fmt.Errorf("failed to send mail: %w", err)
	}

	mylogger.Info(
		ctx,
		s.logger,
		"Sent order status email successfully",
		zap.Int64("order_id", n.OrderID),
		zap.String("to", n.CustomerEmail),
	)

	return nil
}

// deliver speaks SMTP like smtp.SendMail, but the whole session shares one
// deadline taken from ctx and the configured timeout.
func (s *smtpSender) deliver(ctx context.Context, addr string, a smtp.Auth, from string, to []string, msg []byte) error {
	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	var dialer net.Dialer
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return err
	}
	defer conn.Close()

	if deadline, ok := ctx.Deadline(); ok {
		if err := conn.SetDeadline(deadline); err != nil {
			return err
		}
	}

	c, err := smtp.NewClient(conn, s.host)
	if err != nil {
		return err
	}
	defer c.Close()

	if ok, _ := c.Extension("STARTTLS"); ok {
		if err := c.StartTLS(&tls.Config{ServerName: s.host}); err != nil {
			return err
		}
	}

	if ok, _ := c.Extension("AUTH"); ok && s.password != "" {
		if err := c.Auth(a); err != nil {
			return err
		}
	}

	if err := c.Mail(from); err != nil {
		return err
	}

	for _, rcpt := range to {
		if err := c.Rcpt(rcpt); err != nil {
			return err
		}
	}

	w, err := c.Data()
	if err != nil {
		return err
	}

	if _, err := w.Write(msg); err != nil {
		return err
	}

	if err := w.Close(); err != nil {
		return err
	}

	return c.Quit()
}

// isPermanent reports a 5xx SMTP reply. Retrying those cannot succeed.
func isPermanent(err error) bool {
	var reply *textproto.Error
	return errors.As(err, &reply) && reply.Code >= 500
}
