package credential

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"golang.org/x/oauth2"
)

// DeviceCode is what the user needs to redeem a pending device
// authorization.
type DeviceCode struct {
	UserCode                string
	VerificationURI         string
	VerificationURIComplete string
	ExpiresAt               time.Time
}

// Prompter shows a DeviceCode to the operator.
type Prompter interface {
	Prompt(ctx context.Context, code DeviceCode) error
}

// WriterPrompter prints the sign-in instructions to W (os.Stderr when nil).
type WriterPrompter struct {
	W io.Writer
}

// Prompt implements Prompter.
func (p WriterPrompter) Prompt(_ context.Context, code DeviceCode) error {
	w := p.W
	if w == nil {
		w = os.Stderr
	}

	_, err := fmt.Fprintf(w, "To sign in, use a web browser to open the page %s and enter the code %s to authenticate.\n",
		code.VerificationURI, code.UserCode)
	if err != nil {
		return err
	}
	if !code.ExpiresAt.IsZero() {
		_, err = fmt.Fprintf(w, "The code expires at %s.\n", code.ExpiresAt.Format(time.RFC1123))
	}
	return err
}

// Authenticator obtains the initial token for conf.
type Authenticator interface {
	Authenticate(ctx context.Context, conf *oauth2.Config) (*oauth2.Token, error)
}

// AuthenticatorFunc adapts a function to Authenticator.
type AuthenticatorFunc func(ctx context.Context, conf *oauth2.Config) (*oauth2.Token, error)

// Authenticate implements Authenticator.
func (f AuthenticatorFunc) Authenticate(ctx context.Context, conf *oauth2.Config) (*oauth2.Token, error) {
	return f(ctx, conf)
}

// DeviceCodeAuthenticator runs the OAuth 2.0 device authorization grant
// (RFC 8628): it requests a device code, hands it to the Prompter and polls
// the token endpoint until the code is redeemed, declined or ctx ends.
type DeviceCodeAuthenticator struct {
	Prompter Prompter
}

// Authenticate implements Authenticator.
func (a DeviceCodeAuthenticator) Authenticate(ctx context.Context, conf *oauth2.Config) (*oauth2.Token, error) {
	da, err := conf.DeviceAuth(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to request device code: %w", err)
	}

	prompter := a.Prompter
	if prompter == nil {
		prompter = WriterPrompter{}
	}

	code := DeviceCode{
		UserCode:                da.UserCode,
		VerificationURI:         da.VerificationURI,
		VerificationURIComplete: da.VerificationURIComplete,
		ExpiresAt:               da.Expiry,
	}
	if err := prompter.Prompt(ctx, code); err != nil {
		return nil, fmt.Errorf("failed to show device code: %w", err)
	}

	tok, err := conf.DeviceAccessToken(ctx, da)
	if err != nil {
		return nil, err
	}
	return tok, nil
}
