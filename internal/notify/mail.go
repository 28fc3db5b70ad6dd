package notify

import (
	"bytes"
	"context"
	"fmt"
	"html/template"

	"gopkg.in/gomail.v2"

	"github.com/ariefcatur/storefront-orders/internal/orders"
)

const subjectOrderPlaced = "Your Order Has Been Placed Successfully"

var orderPlacedTmpl = template.Must(template.New("order_placed").Parse(`<html>
  <body style="font-family: Arial, sans-serif; background-color: #f4f4f4; color: #333; text-align: center;">
    <div style="max-width: 600px; margin: 20px auto; padding: 20px; background-color: #fff; border-radius: 8px;">
      <h1>Hello {{.Name}}</h1>
      <h3>Thank you for ordering. We received your order and will begin processing it soon. You can track your order from your profile.</h3>
      <strong>Order Id : {{.Code}}</strong>
    </div>
    <div style="margin-top: 20px; color: #666;">This email was sent by {{.Shop}}. Please do not reply to this email.</div>
  </body>
</html>`))

// Sender delivers one prepared message.
type Sender interface {
	DialAndSend(m ...*gomail.Message) error
}

// Mailer sends the order placed e-mail over SMTP.
type Mailer struct {
	Sender Sender
	From   string
	Shop   string
}

func NewMailer(host string, port int, username, password, from, shop string) *Mailer {
	return &Mailer{
		Sender: gomail.NewDialer(host, port, username, password),
		From:   from,
		Shop:   shop,
	}
}

func (m *Mailer) NotifyOrderPlaced(ctx context.Context, to orders.Recipient, o orders.Order) error {
	return m.SendOrderPlaced(ctx, to, o.Code)
}

func (m *Mailer) SendOrderPlaced(ctx context.Context, to orders.Recipient, orderCode string) error {
	if to.Email == "" {
		return fmt.Errorf("%w: recipient has no e-mail", orders.ErrInvalidInput)
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	var body bytes.Buffer
	err := orderPlacedTmpl.Execute(&body, struct{ Name, Code, Shop string }{to.Name, orderCode, m.Shop})
	if err != nil {
		return fmt.Errorf("render mail: %w", err)
	}

	msg := gomail.NewMessage()
	msg.SetAddressHeader("From", m.From, m.Shop)
	msg.SetAddressHeader("To", to.Email, to.Name)
	msg.SetHeader("Subject", subjectOrderPlaced)
	msg.SetBody("text/html", body.String())
	if err := m.Sender.DialAndSend(msg); err != nil {
		return fmt.Errorf("send mail to %s: %w", to.Email, err)
	}
	return nil
}
