package nodes

import (
	"context"
	"crypto/tls"
	"fmt"
	"strings"
	"time"

	mail "github.com/wneessen/go-mail"

	"github.com/rakunlabs/at-engine/internal/engine/model"
	"github.com/rakunlabs/at-engine/internal/engine/param"
	"github.com/rakunlabs/at-engine/internal/engine/registry"
)

// emailNode sends an email via SMTP, adapted from emailNode
// (internal/service/workflow/nodes/email.go): the SMTP config lookup and
// go-mail client wiring (auth, TLS policy) are unchanged, but 'to'/'cc'/
// 'bcc'/'subject'/'body'/'from'/'replyTo' arrive as typed inputs (already
// template-resolved upstream) instead of per-field Go templates, and the
// selection-based output routing is dropped: a send failure is returned as
// the node's error, and a successful send sets the "status" output to "sent".
type emailNode struct {
	integrationID string
	contentType   string
}

// smtpConfig mirrors the SMTP settings looked up through an integration.
type smtpConfig struct {
	Host               string `json:"host"`
	Port               int    `json:"port"`
	Username           string `json:"username"`
	Password           string `json:"password"`
	From               string `json:"from"`
	TLS                bool   `json:"tls"`
	NoTLS              bool   `json:"no_tls"`
	InsecureSkipVerify bool   `json:"insecure_skip_verify"`
}

func (n *emailNode) Run(_ context.Context, rc registry.Context) registry.Outcome {
	to, _ := asString(raw(rc.Inputs, "to"))
	subject, _ := asString(raw(rc.Inputs, "subject"))
	body, _ := asString(raw(rc.Inputs, "body"))
	if to == "" {
		return registry.Outcome{Err: fmt.Errorf("email: 'to' is required")}
	}
	if subject == "" {
		return registry.Outcome{Err: fmt.Errorf("email: 'subject' is required")}
	}
	if body == "" {
		return registry.Outcome{Err: fmt.Errorf("email: 'body' is required")}
	}
	cc, _ := asString(raw(rc.Inputs, "cc"))
	bcc, _ := asString(raw(rc.Inputs, "bcc"))
	fromOverride, _ := asString(raw(rc.Inputs, "from"))
	replyTo, _ := asString(raw(rc.Inputs, "replyTo"))

	if rc.GetIntegration == nil {
		return registry.Outcome{Err: fmt.Errorf("email: integration lookup not available")}
	}
	integration, err := rc.GetIntegration(n.integrationID)
	if err != nil {
		return registry.Outcome{Err: fmt.Errorf("email: lookup integration %q: %w", n.integrationID, err)}
	}
	sc, ok := integration.(smtpConfig)
	if !ok {
		return registry.Outcome{Err: fmt.Errorf("email: integration %q is not an SMTP config", n.integrationID)}
	}
	if sc.Host == "" {
		return registry.Outcome{Err: fmt.Errorf("email: integration %q missing 'host'", n.integrationID)}
	}
	if sc.Port == 0 {
		sc.Port = 587
	}

	from := sc.From
	if fromOverride != "" {
		from = fromOverride
	}
	if from == "" {
		return registry.Outcome{Err: fmt.Errorf("email: no 'from' address configured")}
	}

	m := mail.NewMsg()
	if err := m.From(from); err != nil {
		return registry.Outcome{Err: fmt.Errorf("email: set from: %w", err)}
	}
	if err := m.To(splitAddresses(to)...); err != nil {
		return registry.Outcome{Err: fmt.Errorf("email: set to: %w", err)}
	}
	if addrs := splitAddresses(cc); len(addrs) > 0 {
		if err := m.Cc(addrs...); err != nil {
			return registry.Outcome{Err: fmt.Errorf("email: set cc: %w", err)}
		}
	}
	if addrs := splitAddresses(bcc); len(addrs) > 0 {
		if err := m.Bcc(addrs...); err != nil {
			return registry.Outcome{Err: fmt.Errorf("email: set bcc: %w", err)}
		}
	}
	m.Subject(subject)
	m.SetBodyString(mail.ContentType(n.contentType), body)
	if replyTo != "" {
		if err := m.ReplyTo(replyTo); err != nil {
			return registry.Outcome{Err: fmt.Errorf("email: set reply-to: %w", err)}
		}
	}

	opts := []mail.Option{
		mail.WithPort(sc.Port),
		mail.WithTimeout(30 * time.Second),
	}
	if sc.Username != "" || sc.Password != "" {
		opts = append(opts, mail.WithSMTPAuth(mail.SMTPAuthPlain), mail.WithUsername(sc.Username), mail.WithPassword(sc.Password))
	}
	if sc.NoTLS {
		opts = append(opts, mail.WithTLSPolicy(mail.NoTLS))
	} else {
		tlsConfig := &tls.Config{ServerName: sc.Host, InsecureSkipVerify: sc.InsecureSkipVerify}
		opts = append(opts, mail.WithTLSConfig(tlsConfig))
		if sc.TLS {
			opts = append(opts, mail.WithSSL(), mail.WithTLSPolicy(mail.TLSMandatory))
		} else {
			opts = append(opts, mail.WithTLSPolicy(mail.TLSOpportunistic))
		}
	}

	c, err := mail.NewClient(sc.Host, opts...)
	if err != nil {
		return registry.Outcome{Err: fmt.Errorf("email: create client: %w", err)}
	}

	status := "sent"
	if sendErr := c.DialAndSend(m); sendErr != nil {
		return registry.Outcome{Err: fmt.Errorf("email: send: %w", sendErr)}
	}

	return registry.Outcome{Outputs: map[string]param.EngineValue{
		"status": {Kind: model.TypeString, Raw: status},
	}}
}

func splitAddresses(s string) []string {
	if s == "" {
		return nil
	}
	s = strings.ReplaceAll(s, ";", ",")
	parts := strings.Split(s, ",")
	addrs := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			addrs = append(addrs, p)
		}
	}
	return addrs
}

var emailDescriptor = registry.Descriptor{
	ID:          "email",
	Type:        "email",
	Name:        "Email",
	Description: "Sends an email via SMTP using a configured integration.",
	Inputs: []model.InputParam{
		{Name: "to", Type: model.TypeString, Required: true},
		{Name: "cc", Type: model.TypeString, Required: false},
		{Name: "bcc", Type: model.TypeString, Required: false},
		{Name: "subject", Type: model.TypeString, Required: true},
		{Name: "body", Type: model.TypeString, Required: true},
		{Name: "from", Type: model.TypeString, Required: false},
		{Name: "replyTo", Type: model.TypeString, Required: false},
	},
	Outputs:     []model.OutputParam{{Name: "status", Type: model.TypeString}},
	ComputeCost: 1,
	Factory: func(node model.Node) (registry.Executable, error) {
		integrationID, _ := node.Values["integrationId"].(string)
		if integrationID == "" {
			return nil, fmt.Errorf("email: 'integrationId' is required")
		}
		contentType, _ := node.Values["contentType"].(string)
		if contentType == "" {
			contentType = "text/plain"
		}
		return &emailNode{integrationID: integrationID, contentType: contentType}, nil
	},
}
