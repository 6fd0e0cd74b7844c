package plugin

import (
	"context"
	"fmt"
	"net"
	"net/mail"

	"github.com/Mythli/batchprompter-sub003/packet"
)

// EmailVerify checks a row's email field for valid syntax and a resolvable
// MX record, writing a boolean result back under targetField. Exists so
// the email-verify capability named in the contract has at least one
// concrete plugin exercising it.
type EmailVerify struct {
	name        string
	emailField  string
	targetField string
}

// NewEmailVerifyFactory returns a Factory that builds EmailVerify plugins.
func NewEmailVerifyFactory() Factory {
	return func(name string, config map[string]any) (Plugin, error) {
		emailField, _ := config["emailField"].(string)
		if emailField == "" {
			return nil, fmt.Errorf("plugin %q: emailverify requires a non-empty emailField", name)
		}
		targetField, _ := config["targetField"].(string)
		if targetField == "" {
			targetField = "emailValid"
		}
		return &EmailVerify{name: name, emailField: emailField, targetField: targetField}, nil
	}
}

func (p *EmailVerify) Type() string { return "emailverify" }

func (p *EmailVerify) ConfigSchema() map[string]any {
	return map[string]any{
		"type":     "object",
		"required": []any{"emailField"},
		"properties": map[string]any{
			"emailField":  map[string]any{"type": "string"},
			"targetField": map[string]any{"type": "string"},
		},
	}
}

func (p *EmailVerify) RequiredCapabilities() []Capability {
	return []Capability{CapabilityEmailVerify}
}

func (p *EmailVerify) ResolveConfig(_ map[string]any, rowData map[string]any, _ map[string]any) (ResolvedConfig, error) {
	email, _ := rowData[p.emailField].(string)
	return ResolvedConfig{Raw: map[string]any{
		"email":       email,
		"targetField": p.targetField,
	}}, nil
}

func (p *EmailVerify) Execute(_ context.Context, resolved ResolvedConfig, _ *Services) (Result, error) {
	email, _ := resolved.Raw["email"].(string)
	targetField, _ := resolved.Raw["targetField"].(string)

	valid := verifyEmail(email)
	return Result{Packets: []packet.DataPacket{{Data: map[string]any{targetField: valid}}}}, nil
}

func verifyEmail(email string) bool {
	addr, err := mail.ParseAddress(email)
	if err != nil {
		return false
	}

	_, domain, ok := splitAtSign(addr.Address)
	if !ok {
		return false
	}

	mxRecords, err := net.LookupMX(domain)
	return err == nil && len(mxRecords) > 0
}

func splitAtSign(address string) (local, domain string, ok bool) {
	for i := len(address) - 1; i >= 0; i-- {
		if address[i] == '@' {
			return address[:i], address[i+1:], true
		}
	}
	return "", "", false
}
