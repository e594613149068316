package email

import (
	"bytes"
	"fmt"
	"html/template"

	pkgdomain "github.com/sakashimaa/stock-reservation/pkg/domain"
	"github.com/sakashimaa/stock-reservation/services/notification/internal/domain"
)

const mime = "MIME-version: 1.0;\r\nContent-Type: text/html; charset=\"UTF-8\";\r\n\r\n"

var subjects = map[string]string{
	domain.StatusConfirmed: "Your order #%d is confirmed",
	domain.StatusRejected:  "Your order #%d could not be completed",
	domain.StatusCancelled: "Your order #%d was cancelled",
}

var bodies = template.Must(template.New("order").Parse(`
{{define "Confirmed"}}
	<h1>Thank you, {{.CustomerName}}!</h1>
	<p>Your order #{{.OrderID}} is confirmed. Total: {{.TotalPrice.StringFixed 2}}.</p>
{{end}}
{{define "Rejected"}}
	<h1>Sorry, {{.CustomerName}}</h1>
	<p>We could not complete your order #{{.OrderID}}{{if .Reason}}: {{.Reason}}{{end}}.</p>
	<p>You have not been charged.</p>
{{end}}
{{define "Cancelled"}}
	<h1>Hello, {{.CustomerName}}</h1>
	<p>Your order #{{.OrderID}} was cancelled{{if .Reason}} ({{.Reason}}){{end}}.</p>
{{end}}
`))

func buildMessage(from string, n pkgdomain.OrderStatusNotification) ([]byte, error) {
	subject, ok := subjects[n.Status]
	if !ok {
		return nil, fmt.Errorf("no email template for status %q", n.Status)
	}

	var body bytes.Buffer
	if err := bodies.ExecuteTemplate(&body, n.Status, n); err != nil {
		return nil, fmt.Errorf("failed to render email body: %w", err)
	}

	var msg bytes.Buffer
	fmt.Fprintf(&msg, "From: %s\r\n", from)
	fmt.Fprintf(&msg, "To: %s\r\n", n.CustomerEmail)
	fmt.Fprintf(&msg, "Subject: %s\r\n", fmt.Sprintf(subject, n.OrderID))
	msg.WriteString(mime)
	msg.Write(body.Bytes())

	return msg.Bytes(), nil
}
