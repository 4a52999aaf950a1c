package task

import (
	"encoding/base64"
	"fmt"

	"github.com/wehubfusion/Courier/pkg/token"
	"github.com/wehubfusion/Courier/pkg/vars"
)

// Authorizer adds credentials to a rendered request's headers.
type Authorizer interface {
	Apply(v vars.Context, header map[string]string) error
}

// BasicAuth sets an HTTP basic Authorization header.
type BasicAuth struct {
	username *token.Token
	password *token.Token
}

// Apply implements Authorizer.
func (a *BasicAuth) Apply(v vars.Context, header map[string]string) error {
	user, err := a.username.RenderString(v)
	if err != nil {
		return err
	}
	pass, err := a.password.RenderString(v)
	if err != nil {
		return err
	}
	header["Authorization"] = "Basic " + base64.StdEncoding.EncodeToString([]byte(user+":"+pass))
	return nil
}

// BearerAuth sets an OAuth2 bearer Authorization header.
type BearerAuth struct {
	accessToken *token.Token
}

// Apply implements Authorizer.
func (a *BearerAuth) Apply(v vars.Context, header map[string]string) error {
	tok, err := a.accessToken.RenderString(v)
	if err != nil {
		return err
	}
	header["Authorization"] = "Bearer " + tok
	return nil
}

// NewAuthorizer builds the authorizer named by authType from templated
// options: "basic_auth" needs username and password, "oauth2" needs
// access_token.
func NewAuthorizer(authType string, options map[string]string) (Authorizer, error) {
	compile := func(name string) (*token.Token, error) {
		src, ok := options[name]
		if !ok {
			return nil, fmt.Errorf("%s auth requires %q", authType, name)
		}
		t, err := token.Compile(src)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", name, err)
		}
		return t, nil
	}

	switch authType {
	case "basic_auth":
		user, err := compile("username")
		if err != nil {
			return nil, err
		}
		pass, err := compile("password")
		if err != nil {
			return nil, err
		}
		return &BasicAuth{username: user, password: pass}, nil
	case "oauth2":
		tok, err := compile("access_token")
		if err != nil {
			return nil, err
		}
		return &BearerAuth{accessToken: tok}, nil
	}
	return nil, fmt.Errorf("unsupported auth type %q", authType)
}
